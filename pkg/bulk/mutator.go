package bulk

import (
	"context"
	"encoding/json"
	"iter"
	"sync"

	"github.com/mkrantz/ods-api-client/pkg/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Item is one unit of bulk work. ID is the item's identity in the Response
// Log: the row index for posts and puts, the record id for deletes. Row is
// nil for deletes.
type Item struct {
	ID  int64
	Row json.RawMessage
}

// CallFunc submits one item and returns its HTTP outcome.
type CallFunc func(ctx context.Context, item Item) (*client.Response, error)

// Config holds bulk mutator settings.
type Config struct {
	// PoolSize bounds concurrent in-flight calls. Values <= 1 run
	// sequentially.
	PoolSize int

	// LogEvery fires the progress signal every N items.
	LogEvery int
}

// Mutator drives a mutation operation over a sequence of items, recording
// per-item outcomes. It is all-attempted: one item's failure never aborts
// the others, and the run only errors on cancellation of the surrounding
// scope.
type Mutator struct {
	call   CallFunc
	cfg    Config
	logger zerolog.Logger
}

// NewMutator creates a mutator around a per-item call. The call is expected
// to apply its own retry policy; exhaustion surfaces here as a recordable
// outcome, not a failure of the run.
func NewMutator(call CallFunc, cfg Config) *Mutator {
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = DefaultLogEvery
	}
	return &Mutator{
		call:   call,
		cfg:    cfg,
		logger: log.With().Str("component", "bulk-mutator").Logger(),
	}
}

// Run visits every item and returns the completed Response Log. When the
// context is torn down mid-run, dispatching stops and the log holds whatever
// outcomes were recorded; entries already present are never lost.
func (m *Mutator) Run(ctx context.Context, items iter.Seq[Item]) *ResponseLog {
	logbook := NewResponseLog(m.cfg.LogEvery)

	if m.cfg.PoolSize > 1 {
		m.runPooled(ctx, items, logbook)
	} else {
		m.runSequential(ctx, items, logbook)
	}

	logbook.LogProgress()
	return logbook
}

func (m *Mutator) runSequential(ctx context.Context, items iter.Seq[Item], logbook *ResponseLog) {
	for item := range items {
		if ctx.Err() != nil {
			m.logger.Warn().Int("processed", logbook.Len()).Msg("Bulk mutation cancelled")
			return
		}
		m.submit(ctx, item, logbook)
	}
}

// runPooled fans items across a bounded worker pool. The Response Log is
// the only shared state; it serializes its own writers.
func (m *Mutator) runPooled(ctx context.Context, items iter.Seq[Item], logbook *ResponseLog) {
	queue := make(chan Item)

	var wg sync.WaitGroup
	for i := 0; i < m.cfg.PoolSize; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				m.submit(ctx, item, logbook)
			}
		}()
	}

	for item := range items {
		if ctx.Err() != nil {
			m.logger.Warn().Int("processed", logbook.Len()).Msg("Bulk mutation cancelled")
			break
		}
		queue <- item
	}
	close(queue)
	wg.Wait()
}

func (m *Mutator) submit(ctx context.Context, item Item, logbook *ResponseLog) {
	resp, err := m.call(ctx, item)
	if resp != nil {
		// Retry exhaustion with a final HTTP outcome is recorded by its
		// status like any other response.
		ok := resp.OK() && err == nil
		message := resp.Message()
		if !ok && message == "" {
			if err != nil {
				message = err.Error()
			} else {
				message = resp.Status
			}
		}
		logbook.RecordResponse(item.ID, resp.StatusCode, ok, message)
		return
	}
	logbook.RecordError(item.ID, err)
}
