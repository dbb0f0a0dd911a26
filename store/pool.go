package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// resolverPool resolves per-row filters of large batches in parallel.
// Results are written by index so the batch order is preserved.
type resolverPool struct {
	pool      *ants.Pool
	threshold int
	logger    *slog.Logger
}

func newResolverPool(workers, threshold int, logger *slog.Logger) (*resolverPool, error) {
	if workers <= 1 {
		return &resolverPool{}, nil
	}

	pool, err := ants.NewPool(workers, ants.WithExpiryDuration(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver pool: %w", err)
	}

	return &resolverPool{pool: pool, threshold: threshold, logger: logger}, nil
}

// run calls fn for every index in [0, n) and returns the error of the lowest failing index.
func (p *resolverPool) run(n int, fn func(i int) error) error {
	if p == nil || p.pool == nil || n < p.threshold {
		for i := range n {
			if err := fn(i); err != nil {
				return err
			}
		}

		return nil
	}

	errs := make([]error, n)

	var wg sync.WaitGroup

	for i := range n {
		wg.Add(1)

		if err := p.pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("resolver worker panic", slog.Int("row", i), slog.Any("panic", r))
					errs[i] = fmt.Errorf("resolver panic at row %d: %v", i, r)
				}
			}()

			errs[i] = fn(i)
		}); err != nil {
			wg.Done()

			errs[i] = err
		}
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *resolverPool) release() {
	if p != nil && p.pool != nil {
		p.pool.Release()
	}
}
