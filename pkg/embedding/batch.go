package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// RunBatches splits items into batches of at most batchSize and runs fn on up
// to concurrency batches at once. Workers pull the next unprocessed batch
// index; each batch's results land at its own offset, so the output order
// matches the input order whatever the completion order. The first error
// cancels the remaining batches.
func RunBatches[T, R any](ctx context.Context, items []T, batchSize, concurrency int, fn func(context.Context, []T) ([]R, error)) ([]R, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(items)
	}
	batches := (len(items) + batchSize - 1) / batchSize
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > batches {
		concurrency = batches
	}

	out := make([]R, len(items))
	var next atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for {
				b := int(next.Add(1) - 1)
				if b >= batches {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}

				start := b * batchSize
				end := min(start+batchSize, len(items))
				res, err := fn(gctx, items[start:end])
				if err != nil {
					return fmt.Errorf("batch %d: %w", b, err)
				}
				if len(res) != end-start {
					return fmt.Errorf("batch %d: got %d results for %d inputs", b, len(res), end-start)
				}
				copy(out[start:end], res)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Guard truncates texts longer than maxChars runes to that length, never
// splitting a rune. Inputs are not modified. maxChars <= 0 disables the guard.
// It returns how many texts were truncated.
func Guard(texts []string, maxChars int) ([]string, int) {
	if maxChars <= 0 {
		return texts, 0
	}
	out := make([]string, len(texts))
	truncated := 0
	for i, t := range texts {
		out[i] = t
		if len(t) <= maxChars {
			continue
		}
		n := 0
		for idx := range t {
			if n == maxChars {
				out[i] = t[:idx]
				truncated++
				break
			}
			n++
		}
	}
	return out, truncated
}
