package ods

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"time"

	"github.com/mkrantz/ods-api-client/pkg/client"
	"github.com/mkrantz/ods-api-client/pkg/paginate"
)

// GetOptions configures one retrieval operation. The zero value is not
// useful; start from DefaultGetOptions.
type GetOptions struct {
	// PageSize is the window size for paginated GETs.
	PageSize int

	// RetryOnFailure enables retry with exponential backoff on
	// retryable statuses. Off, every failure is terminal.
	RetryOnFailure bool

	// MaxRetries caps retried attempts when RetryOnFailure is set.
	// Zero selects the default.
	MaxRetries int

	// MaxWait caps a single backoff sleep. Zero selects the default.
	MaxWait time.Duration

	// StepChangeVersion splits the scan into bounded change-version
	// windows. Requires minChangeVersion and maxChangeVersion in the
	// endpoint's parameters.
	StepChangeVersion bool

	// ChangeVersionStepSize is the width of each version window.
	ChangeVersionStepSize int64

	// ReversePaging pages each version window from its highest offset
	// down to zero, so rows that migrate toward earlier offsets during
	// the scan are re-delivered instead of lost. Only meaningful with
	// StepChangeVersion.
	ReversePaging bool
}

// DefaultGetOptions returns the retrieval defaults.
func DefaultGetOptions() GetOptions {
	return GetOptions{
		PageSize:              paginate.DefaultPageSize,
		ChangeVersionStepSize: paginate.DefaultStepSize,
		ReversePaging:         true,
	}
}

// retryConfig maps per-call retry knobs onto the session defaults.
func retryConfig(retryOnFailure bool, maxRetries int, maxWait time.Duration) client.RetryConfig {
	cfg := client.DefaultRetryConfig()
	cfg.RetryOnFailure = retryOnFailure
	if maxRetries > 0 {
		cfg.MaxRetries = maxRetries
	}
	if maxWait > 0 {
		cfg.MaxWait = maxWait
	}
	return cfg
}

// paginator binds the endpoint to a scan with its own retry policy.
func (e *Endpoint) paginator(opts GetOptions) *paginate.Paginator {
	policy := e.client.session.NewPolicy(retryConfig(opts.RetryOnFailure, opts.MaxRetries, opts.MaxWait))
	return paginate.New(fetcher{endpoint: e, policy: policy}, opts.PageSize)
}

// stepBounds validates a change-version stepped scan and extracts its
// bounds. Configuration problems surface here, before any call is made.
func (e *Endpoint) stepBounds() (min, max int64, err error) {
	if !e.SupportsChangeVersion() {
		return 0, 0, fmt.Errorf("%w: %s endpoints do not support change version stepping", client.ErrConfiguration, e.variant)
	}
	min, max, ok := e.params.ChangeVersionBounds()
	if !ok {
		return 0, 0, fmt.Errorf("%w: change version stepping requires numeric %s and %s parameters", client.ErrConfiguration, paramMinChangeVersion, paramMaxChangeVersion)
	}
	return min, max, nil
}

// Pages returns the lazy page sequence of the endpoint's rows. With
// StepChangeVersion set, the scan walks bounded version windows; otherwise
// it is a plain ascending offset scan terminated by the first empty page.
func (e *Endpoint) Pages(ctx context.Context, opts GetOptions) iter.Seq2[paginate.Page, error] {
	e.client.logger.Info().Stringer("endpoint", e).Msg("Paginating endpoint")

	if !opts.StepChangeVersion {
		return e.paginator(opts).Pages(ctx)
	}

	min, max, err := e.stepBounds()
	if err != nil {
		return errSeq(err)
	}
	return e.paginator(opts).PagesStepped(ctx, min, max, opts.ChangeVersionStepSize, opts.ReversePaging)
}

// Rows flattens Pages into a lazy row sequence.
func (e *Endpoint) Rows(ctx context.Context, opts GetOptions) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for page, err := range e.Pages(ctx, opts) {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, row := range page.Rows {
				if !yield(row, nil) {
					return
				}
			}
		}
	}
}

// PagesConcurrent fans the scan across a bounded worker pool and returns
// the unordered completion stream. Windows are planned up front from
// total-count probes.
func (e *Endpoint) PagesConcurrent(ctx context.Context, opts GetOptions, cc paginate.ConcurrentConfig) (<-chan paginate.PageResult, error) {
	e.client.logger.Info().Stringer("endpoint", e).Int("pool_size", cc.PoolSize).Msg("Paginating endpoint concurrently")

	if !opts.StepChangeVersion {
		return e.paginator(opts).PagesConcurrent(ctx, cc)
	}

	min, max, err := e.stepBounds()
	if err != nil {
		return nil, err
	}
	return e.paginator(opts).PagesSteppedConcurrent(ctx, min, max, opts.ChangeVersionStepSize, opts.ReversePaging, cc)
}

// Fetch issues exactly one bounded GET and returns the rows. Useful for
// samples without committing to a full scan.
func (e *Endpoint) Fetch(ctx context.Context, limit int, opts GetOptions) ([]json.RawMessage, error) {
	return e.paginator(opts).Fetch(ctx, limit)
}

// Ping issues a cheap limit-1 GET to verify the endpoint is reachable and
// the credentials are accepted.
func (e *Endpoint) Ping(ctx context.Context) (*client.Response, error) {
	params := e.params.Values()
	params.Set(paramLimit, "1")
	return e.client.session.Get(ctx, nil, e.URL(), params)
}

// TotalCount asks the ODS how many rows match the endpoint's parameters.
// Composites do not return counts.
func (e *Endpoint) TotalCount(ctx context.Context) (int64, error) {
	if e.variant == VariantComposite {
		return 0, fmt.Errorf("%w: composite endpoints do not support total counts", client.ErrConfiguration)
	}
	return e.client.session.GetTotalCount(ctx, nil, e.URL(), e.params.Values())
}

// RowsToJSON streams the endpoint's rows to a newline-delimited JSON file
// and returns the number of rows written. The file is created or truncated.
func (e *Endpoint) RowsToJSON(ctx context.Context, path string, opts GetOptions) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	var written int64
	for row, err := range e.Rows(ctx, opts) {
		if err != nil {
			return written, err
		}
		if _, err := w.Write(row); err != nil {
			return written, fmt.Errorf("write row: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return written, fmt.Errorf("write row: %w", err)
		}
		written++
	}

	if err := w.Flush(); err != nil {
		return written, fmt.Errorf("flush output file: %w", err)
	}

	e.client.logger.Info().Stringer("endpoint", e).Int64("rows", written).Str("path", path).Msg("Wrote rows to disk")
	return written, nil
}

// errSeq yields one terminal error.
func errSeq(err error) iter.Seq2[paginate.Page, error] {
	return func(yield func(paginate.Page, error) bool) {
		yield(paginate.Page{}, err)
	}
}
