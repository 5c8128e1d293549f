package paginate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ConcurrentConfig holds the bounded-concurrency settings for parallel
// window fetching.
type ConcurrentConfig struct {
	// PoolSize is the maximum number of in-flight calls.
	PoolSize int

	// Timeout per window fetch.
	Timeout time.Duration
}

// DefaultConcurrentConfig returns safe defaults for a shared ODS.
func DefaultConcurrentConfig() ConcurrentConfig {
	return ConcurrentConfig{
		PoolSize: 8,
		Timeout:  60 * time.Second,
	}
}

// PageResult is one completed window fetch from the unordered completion
// stream. Exactly one of Page/Err is meaningful.
type PageResult struct {
	Page Page
	Err  error
}

// PagesConcurrent fans a plain offset scan across up to PoolSize in-flight
// calls. Windows are planned up front from a total-count probe, so every
// row-bearing window is visited exactly once; completion order is not
// page order.
func (p *Paginator) PagesConcurrent(ctx context.Context, cfg ConcurrentConfig) (<-chan PageResult, error) {
	total, err := p.fetcher.TotalCount(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("plan concurrent scan: %w", err)
	}
	return p.fetchWindows(ctx, PlannedOffsetWindows(total, p.pageSize, nil), cfg), nil
}

// PagesSteppedConcurrent fans a change-version stepped scan across up to
// PoolSize in-flight calls. Each version window is probed and planned before
// any fetching begins; in reverse mode windows are enqueued tail-first and
// migrating rows may be delivered more than once, never zero times.
func (p *Paginator) PagesSteppedConcurrent(ctx context.Context, minVersion, maxVersion, stepSize int64, reverse bool, cfg ConcurrentConfig) (<-chan PageResult, error) {
	if stepSize <= 0 {
		stepSize = DefaultStepSize
	}

	versions, err := ChangeVersionWindows(minVersion, maxVersion, stepSize)
	if err != nil {
		return nil, err
	}

	var windows []Window
	for _, version := range versions {
		v := version
		total, err := p.fetcher.TotalCount(ctx, &v)
		if err != nil {
			return nil, fmt.Errorf("plan version window [%d, %d]: %w", v.Min, v.Max, err)
		}
		if reverse {
			windows = append(windows, ReverseOffsetWindows(total, p.pageSize, &v)...)
		} else {
			windows = append(windows, PlannedOffsetWindows(total, p.pageSize, &v)...)
		}
	}

	return p.fetchWindows(ctx, windows, cfg), nil
}

// fetchWindows runs the worker pool over a planned window list and returns
// the unordered completion stream. The stream closes after every window has
// been attempted or the context is torn down; in-flight calls finish or are
// abandoned without corrupting results already delivered.
func (p *Paginator) fetchWindows(ctx context.Context, windows []Window, cfg ConcurrentConfig) <-chan PageResult {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConcurrentConfig().PoolSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConcurrentConfig().Timeout
	}

	queue := make(chan Window, len(windows))
	results := make(chan PageResult, cfg.PoolSize)

	for _, w := range windows {
		queue <- w
	}
	close(queue)

	log.Debug().
		Int("windows", len(windows)).
		Int("pool_size", cfg.PoolSize).
		Msg("Starting concurrent window fetch")

	var wg sync.WaitGroup
	for i := 0; i < cfg.PoolSize; i++ {
		wg.Add(1)
		go p.worker(ctx, queue, results, &wg, cfg.Timeout)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// worker processes windows from the queue until it drains or the context is
// cancelled.
func (p *Paginator) worker(ctx context.Context, queue <-chan Window, results chan<- PageResult, wg *sync.WaitGroup, timeout time.Duration) {
	defer wg.Done()

	for w := range queue {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fetchCtx, cancel := context.WithTimeout(ctx, timeout)
		rows, err := p.fetcher.GetPage(fetchCtx, w)
		cancel()

		var result PageResult
		if err != nil {
			result = PageResult{Err: &RetrievalError{Window: w, Err: err}}
		} else if len(rows) == 0 {
			// Planned windows can come up empty when rows migrated
			// out mid-scan. Nothing to deliver.
			continue
		} else {
			result = PageResult{Page: Page{Rows: rows, Window: w}}
		}

		select {
		case results <- result:
		case <-ctx.Done():
			return
		}
	}
}
