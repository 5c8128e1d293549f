package ods

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/mkrantz/ods-api-client/pkg/bulk"
	"github.com/mkrantz/ods-api-client/pkg/client"
)

// MutateOptions configures one bulk mutation operation.
type MutateOptions struct {
	// LogEvery fires the progress signal every N items.
	LogEvery int

	// PoolSize bounds concurrent in-flight calls. Values <= 1 run
	// sequentially.
	PoolSize int

	// RetryOnFailure enables per-item retry with exponential backoff.
	RetryOnFailure bool

	// MaxRetries caps retried attempts when RetryOnFailure is set.
	MaxRetries int

	// MaxWait caps a single backoff sleep.
	MaxWait time.Duration
}

// DefaultMutateOptions returns the bulk mutation defaults.
func DefaultMutateOptions() MutateOptions {
	return MutateOptions{
		LogEvery: bulk.DefaultLogEvery,
		PoolSize: 1,
	}
}

// checkMutation rejects mutation on read-only endpoints before any call is
// made.
func (e *Endpoint) checkMutation() error {
	if !e.SupportsMutation() {
		return fmt.Errorf("%w: %s does not support mutation", client.ErrConfiguration, e)
	}
	return nil
}

func (e *Endpoint) mutator(call bulk.CallFunc, opts MutateOptions) *bulk.Mutator {
	return bulk.NewMutator(call, bulk.Config{
		PoolSize: opts.PoolSize,
		LogEvery: opts.LogEvery,
	})
}

// PostRows submits each row to the endpoint's collection URL and returns
// the per-row outcome log, keyed by row position. The run is all-attempted:
// one row's failure never aborts the others.
func (e *Endpoint) PostRows(ctx context.Context, rows iter.Seq[json.RawMessage], opts MutateOptions) (*bulk.ResponseLog, error) {
	if err := e.checkMutation(); err != nil {
		return nil, err
	}

	e.client.logger.Info().Stringer("endpoint", e).Msg("Posting rows")
	policy := e.client.session.NewPolicy(retryConfig(opts.RetryOnFailure, opts.MaxRetries, opts.MaxWait))

	call := func(ctx context.Context, item bulk.Item) (*client.Response, error) {
		cleaned, err := CleanPostRow(item.Row)
		if err != nil {
			return nil, err
		}
		return e.client.session.Post(ctx, policy, e.URL(), cleaned)
	}

	items := func(yield func(bulk.Item) bool) {
		var idx int64
		for row := range rows {
			if !yield(bulk.Item{ID: idx, Row: row}) {
				return
			}
			idx++
		}
	}

	return e.mutator(call, opts).Run(ctx, items), nil
}

// PutRows submits each (id, row) pair to the record's id URL and returns
// the per-row outcome log, keyed by record id.
func (e *Endpoint) PutRows(ctx context.Context, rows iter.Seq2[int64, json.RawMessage], opts MutateOptions) (*bulk.ResponseLog, error) {
	if err := e.checkMutation(); err != nil {
		return nil, err
	}

	e.client.logger.Info().Stringer("endpoint", e).Msg("Putting rows")
	policy := e.client.session.NewPolicy(retryConfig(opts.RetryOnFailure, opts.MaxRetries, opts.MaxWait))

	call := func(ctx context.Context, item bulk.Item) (*client.Response, error) {
		return e.client.session.Put(ctx, policy, e.idURL(item.ID), item.Row)
	}

	items := func(yield func(bulk.Item) bool) {
		for id, row := range rows {
			if !yield(bulk.Item{ID: id, Row: row}) {
				return
			}
		}
	}

	return e.mutator(call, opts).Run(ctx, items), nil
}

// DeleteIDs deletes each record by id and returns the per-record outcome
// log, keyed by record id.
func (e *Endpoint) DeleteIDs(ctx context.Context, ids iter.Seq[int64], opts MutateOptions) (*bulk.ResponseLog, error) {
	if err := e.checkMutation(); err != nil {
		return nil, err
	}

	e.client.logger.Info().Stringer("endpoint", e).Msg("Deleting records")
	policy := e.client.session.NewPolicy(retryConfig(opts.RetryOnFailure, opts.MaxRetries, opts.MaxWait))

	call := func(ctx context.Context, item bulk.Item) (*client.Response, error) {
		return e.client.session.Delete(ctx, policy, e.idURL(item.ID))
	}

	items := func(yield func(bulk.Item) bool) {
		for id := range ids {
			if !yield(bulk.Item{ID: id}) {
				return
			}
		}
	}

	return e.mutator(call, opts).Run(ctx, items), nil
}

// CleanPostRow strips server-assigned surrogate keys from a row before
// submission: the top-level "id" and any "*DescriptorId" fields. Rows
// pulled from one ODS carry ids that would collide on another.
func CleanPostRow(row json.RawMessage) (json.RawMessage, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(row, &payload); err != nil {
		return nil, fmt.Errorf("clean post row: %w", err)
	}

	delete(payload, "id")
	for key := range payload {
		if strings.HasSuffix(key, "DescriptorId") {
			delete(payload, key)
		}
	}

	return json.Marshal(payload)
}
