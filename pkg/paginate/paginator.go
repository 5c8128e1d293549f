package paginate

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pagination.
var (
	odsPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ods_pages_total",
		Help: "Total pages retrieved by traversal mode",
	}, []string{"mode"})

	odsRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ods_rows_total",
		Help: "Total rows yielded by paginated scans",
	})
)

// DefaultPageSize is the page size agreed with the ODS maximum.
const DefaultPageSize = 100

// DefaultStepSize is the default change-version window width.
const DefaultStepSize = 50000

// Fetcher is the bounded-GET capability a scan runs against. Implementations
// merge the window into the endpoint's base parameters; explicit limit/offset
// values in the base are overridden by the window.
type Fetcher interface {
	// GetPage issues one bounded GET and returns the raw row payloads.
	GetPage(ctx context.Context, w Window) ([]json.RawMessage, error)

	// TotalCount returns the total row count within the version window
	// (nil means unbounded). Requires the Total-Count response header.
	TotalCount(ctx context.Context, version *VersionWindow) (int64, error)
}

// RetrievalError is a scan failure: retries for one window were exhausted.
// Pages already yielded remain valid; there is no rollback.
type RetrievalError struct {
	Window Window
	Err    error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("page retrieval failed at limit=%d offset=%d: %v", e.Window.Limit, e.Window.Offset, e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// Page is one retrieved window's payload.
type Page struct {
	Rows   []json.RawMessage
	Window Window
}

// Paginator drives one logical scan against a Fetcher. Each Paginator owns
// its own cursor; concurrent scans each create their own.
type Paginator struct {
	fetcher  Fetcher
	pageSize int
	logger   zerolog.Logger
}

// New creates a paginator. pageSize <= 0 selects DefaultPageSize.
func New(fetcher Fetcher, pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Paginator{
		fetcher:  fetcher,
		pageSize: pageSize,
		logger:   log.With().Str("component", "paginator").Logger(),
	}
}

// Pages returns the lazy page sequence of a plain offset scan. Offsets are
// visited in ascending order with no gaps; the first zero-row response
// terminates the scan. The sequence is not restartable.
func (p *Paginator) Pages(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		p.logger.Debug().Int("page_size", p.pageSize).Msg("Pagination method: offset pagination")

		for w := range OffsetWindows(p.pageSize, nil) {
			done, ok := p.visit(ctx, w, "forward", yield)
			if !ok || done {
				return
			}
		}
	}
}

// PagesStepped returns the lazy page sequence of a change-version stepped
// scan over [minVersion, maxVersion].
//
// In reverse mode (the default at the call sites) each version window is
// probed for its row count once, then paged downward from the highest offset
// to 0. Rows that migrate toward earlier offsets mid-scan are re-emitted
// rather than lost; the estimate is deliberately not refreshed while the
// window is walked. Forward mode pages upward until a zero-row response and
// may miss migrating rows; it is retained for comparison only.
func (p *Paginator) PagesStepped(ctx context.Context, minVersion, maxVersion, stepSize int64, reverse bool) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		if stepSize <= 0 {
			stepSize = DefaultStepSize
		}

		if reverse {
			p.logger.Debug().Msg("Pagination method: change version stepping with reverse-offset pagination")
		} else {
			p.logger.Debug().Msg("Pagination method: change version stepping")
		}

		versions, err := ChangeVersionWindows(minVersion, maxVersion, stepSize)
		if err != nil {
			yield(Page{}, err)
			return
		}

		for _, version := range versions {
			if reverse {
				if !p.scanReverse(ctx, version, yield) {
					return
				}
			} else {
				if !p.scanForward(ctx, version, yield) {
					return
				}
			}
		}
	}
}

// scanForward walks one version window upward until a zero-row response.
// Returns false when the consumer stopped or the scan failed.
func (p *Paginator) scanForward(ctx context.Context, version VersionWindow, yield func(Page, error) bool) bool {
	v := version
	for w := range OffsetWindows(p.pageSize, &v) {
		done, ok := p.visit(ctx, w, "forward", yield)
		if !ok {
			return false
		}
		if done {
			return true
		}
	}
	return true
}

// scanReverse probes the window's row count, then walks it downward to
// offset 0. Empty pages are skipped, not treated as termination.
func (p *Paginator) scanReverse(ctx context.Context, version VersionWindow, yield func(Page, error) bool) bool {
	v := version
	total, err := p.fetcher.TotalCount(ctx, &v)
	if err != nil {
		return yieldErr(yield, fmt.Errorf("reverse paging probe: %w", err))
	}

	p.logger.Debug().
		Int64("min_version", v.Min).
		Int64("max_version", v.Max).
		Int64("total_count", total).
		Msg("Reverse-paginating version window")

	for _, w := range ReverseOffsetWindows(total, p.pageSize, &v) {
		if err := ctx.Err(); err != nil {
			return yieldErr(yield, err)
		}

		rows, err := p.fetcher.GetPage(ctx, w)
		if err != nil {
			return yieldErr(yield, &RetrievalError{Window: w, Err: err})
		}

		odsPagesTotal.WithLabelValues("reverse").Inc()
		if len(rows) == 0 {
			continue
		}

		odsRowsTotal.Add(float64(len(rows)))
		if !yield(Page{Rows: rows, Window: w}, nil) {
			return false
		}
	}
	return true
}

// visit fetches one window and yields its page. done reports normal
// termination (zero rows); ok reports whether iteration may continue.
func (p *Paginator) visit(ctx context.Context, w Window, mode string, yield func(Page, error) bool) (done, ok bool) {
	if err := ctx.Err(); err != nil {
		return false, yieldErr(yield, err)
	}

	rows, err := p.fetcher.GetPage(ctx, w)
	if err != nil {
		return false, yieldErr(yield, &RetrievalError{Window: w, Err: err})
	}

	odsPagesTotal.WithLabelValues(mode).Inc()

	if len(rows) == 0 {
		p.logger.Debug().Int64("offset", w.Offset).Msg("Retrieved zero rows. Ending traversal.")
		return true, true
	}

	odsRowsTotal.Add(float64(len(rows)))
	p.logger.Debug().Int64("offset", w.Offset).Int("rows", len(rows)).Msg("Retrieved page")

	return false, yield(Page{Rows: rows, Window: w}, nil)
}

// yieldErr delivers a terminal error to the consumer. Always returns false.
func yieldErr(yield func(Page, error) bool, err error) bool {
	yield(Page{}, err)
	return false
}

// Fetch issues exactly one bounded GET and returns the rows directly.
// Used for samples and pings rather than full scans.
func (p *Paginator) Fetch(ctx context.Context, limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = p.pageSize
	}
	return p.fetcher.GetPage(ctx, Window{Limit: limit})
}
