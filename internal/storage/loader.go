// Package storage contains the storage-agnostic batch loader used by every
// import stage.
//
// The loader drains typed rows from a channel and invokes a provided
// bulk-insert function per batch. The SQLite backend implements InsertFn with
// a prepared multi-row INSERT inside a transaction; each flush is therefore a
// commit boundary.
//
// Logging: a concise progress line is emitted every progressEvery inserted
// rows with running totals and instantaneous rows/sec since the previous
// report.
package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// InsertFn abstracts a backend's bulk insert capability. Implementations
// insert the provided rows and return the number of rows inserted. A returned
// error means the batch's transaction did not commit.
type InsertFn func(ctx context.Context, rows [][]any) (int64, error)

// LoadBatches drains rows from 'in', groups them into batches of size
// batchSize, and calls insert for each non-empty batch, flushing the remainder
// when 'in' closes. It returns the total number of rows inserted and the first
// error encountered.
//
// A failed insert aborts the load immediately: there is no retry, and the
// caller is expected to treat the error as fatal for the stage (already
// committed batches remain in the store).
//
// Cancellation: returns (total, ctx.Err()) when ctx is done; the in-flight
// batch is lost, which is safe because every stage clears its destination
// table at the start of a run.
func LoadBatches(
	ctx context.Context,
	in <-chan []any,
	batchSize int,
	progressEvery int,
	insert InsertFn,
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if insert == nil {
		return 0, fmt.Errorf("insert must not be nil")
	}
	if progressEvery <= 0 {
		progressEvery = batchSize * 4
	}

	var (
		total        int64
		batches      int64
		batch        = make([][]any, 0, batchSize)
		start        = time.Now()
		lastReportTS = start
		lastReported int64
	)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := insert(ctx, batch)
		total += n

		// Reuse allocated slice; keep capacity to avoid churn.
		batch = batch[:0]

		if err != nil {
			log.Printf("loader: batch commit failed after=%d total=%d err=%v", n, total, err)
			return err
		}
		batches++

		if total-lastReported >= int64(progressEvery) {
			now := time.Now()
			sinceLast := now.Sub(lastReportTS)
			rps := float64(0)
			if sinceLast > 0 {
				rps = float64(total-lastReported) / sinceLast.Seconds()
			}
			log.Printf(
				"batch #%d: rps=%.0f total_inserted=%d elapsed=%s",
				batches,
				rps,
				total,
				now.Sub(start).Truncate(time.Millisecond),
			)
			lastReportTS = now
			lastReported = total
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()

		case row, ok := <-in:
			if !ok {
				// Channel closed: flush remaining rows.
				if err := flush(); err != nil {
					return total, err
				}
				log.Printf("loader: input closed, batches=%d total_inserted=%d", batches, total)
				return total, nil
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return total, err
				}
			}
		}
	}
}
