// Package source provides streaming access to gazetteer dump files.
//
// Dumps are tab-delimited text, either plain files (country metadata, admin
// codes) or members of zip archives (places, alternate names, postal codes).
// Files run to multiple gigabytes, so rows are produced one at a time without
// whole-file buffering.
//
// Behavior:
//   - Fully blank lines and comment lines (leading '#') are skipped.
//   - Invalid UTF-8 byte sequences are replaced, never fatal; a single bad
//     byte must not abort a multi-gigabyte stream.
//   - The sequence is finite and non-restartable; Close releases the file and
//     archive handles.
package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// maxLineBytes bounds a single dump line. Alternate-name rows with long
// concatenated scripts stay well under this.
const maxLineBytes = 1 << 20

// Reader yields tab-separated field tuples from a single dump stream.
type Reader struct {
	sc      *bufio.Scanner
	closers []io.Closer
	line    int
}

// Open opens a plain tab-delimited file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	return newReader(f, f), nil
}

// OpenZipMember opens the first archive member whose name ends with suffix.
// The GeoNames archives contain a single payload file plus a readme, so a
// suffix match (e.g. "allCountries.txt") is sufficient and stable.
func OpenZipMember(path, suffix string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("source: open archive %s: %w", path, err)
	}
	for _, f := range zr.File {
		if !strings.HasSuffix(f.Name, suffix) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			zr.Close()
			return nil, fmt.Errorf("source: open member %s in %s: %w", f.Name, path, err)
		}
		return newReader(rc, rc, zr), nil
	}
	zr.Close()
	return nil, fmt.Errorf("source: archive %s has no member ending in %q", path, suffix)
}

func newReader(r io.Reader, closers ...io.Closer) *Reader {
	// The UTF-8 decoder substitutes U+FFFD for invalid bytes instead of
	// returning an error mid-stream.
	dec := transform.NewReader(r, unicode.UTF8.NewDecoder())
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &Reader{sc: sc, closers: closers}
}

// Next returns the next non-blank, non-comment row split on tabs.
// It returns io.EOF when the stream is exhausted.
func (r *Reader) Next() ([]string, error) {
	for r.sc.Scan() {
		r.line++
		line := r.sc.Text()
		if line == "" || strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == '#' {
			continue
		}
		return strings.Split(line, "\t"), nil
	}
	if err := r.sc.Err(); err != nil {
		return nil, fmt.Errorf("source: read line %d: %w", r.line+1, err)
	}
	return nil, io.EOF
}

// Line reports the number of physical lines consumed so far, including
// skipped blanks and comments. Useful for progress and error messages.
func (r *Reader) Line() int { return r.line }

// Close releases the underlying file and archive handles. Safe to call after
// the stream is exhausted.
func (r *Reader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
