// Package bulk drives POST/PUT/DELETE calls over item sequences with
// per-item outcome tracking.
package bulk

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var odsMutationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ods_mutation_outcomes_total",
	Help: "Total bulk mutation outcomes by status key",
}, []string{"status"})

// Outcome key fragments.
const (
	Success = "Success"
	Error   = "Error"
)

// DefaultLogEvery is how often the progress signal fires, in items.
const DefaultLogEvery = 500

type record struct {
	id      int64
	status  string
	message string
}

// ResponseLog aggregates per-item mutation outcomes. It grows monotonically
// during one bulk call and is safe under concurrent writers: each item's
// outcome is recorded exactly once, keyed by its original position or id.
type ResponseLog struct {
	mu       sync.Mutex
	records  []record
	logEvery int
	logger   zerolog.Logger
}

// NewResponseLog creates a response log that fires a progress signal every
// logEvery recorded items.
func NewResponseLog(logEvery int) *ResponseLog {
	if logEvery <= 0 {
		logEvery = DefaultLogEvery
	}
	return &ResponseLog{
		logEvery: logEvery,
		logger:   log.With().Str("component", "response-log").Logger(),
	}
}

// RecordResponse saves one HTTP outcome for an item. Failed outcomes carry
// the ODS message in their key so identical failures aggregate together.
func (l *ResponseLog) RecordResponse(id int64, status int, ok bool, message string) {
	if ok {
		message = Success
	}
	l.record(record{id: id, status: strconv.Itoa(status), message: message})
}

// RecordError saves a transport-level failure for an item.
func (l *ResponseLog) RecordError(id int64, err error) {
	l.record(record{id: id, status: Error, message: err.Error()})
}

func (l *ResponseLog) record(r record) {
	l.mu.Lock()
	l.records = append(l.records, r)
	count := len(l.records)
	l.mu.Unlock()

	odsMutationOutcomes.WithLabelValues(r.status).Inc()

	if count%l.logEvery == 0 {
		l.LogProgress()
	}
}

// Len returns the number of recorded outcomes.
func (l *ResponseLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// CountStatuses returns outcome counts keyed by status.
func (l *ResponseLog) CountStatuses() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[string]int)
	for _, r := range l.records {
		counts[r.status]++
	}
	return counts
}

// AggregateMessages returns the mapping from outcome key to the ordered item
// identities that produced it. Successes key on the bare status code;
// failures concatenate the status and message.
func (l *ResponseLog) AggregateMessages() map[string][]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	aggregated := make(map[string][]int64)
	for _, r := range l.records {
		key := r.status
		if r.message != "" && r.message != Success {
			key = r.status + " " + r.message
		}
		aggregated[key] = append(aggregated[key], r.id)
	}
	return aggregated
}

// LogProgress emits the caller-visible progress signal: processed count and
// per-status tallies.
func (l *ResponseLog) LogProgress() {
	counts := l.CountStatuses()

	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)

	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, fmt.Sprintf("(%s: %d)", status, counts[status]))
	}

	l.logger.Info().
		Int("processed", l.Len()).
		Str("statuses", strings.Join(parts, ", ")).
		Msg("Bulk mutation progress")
}
