// Package analytics keeps a journal of entity operations. Every completed
// operation becomes an Event; events are buffered, written in batches and
// can be queried or summarized per entity and operation.
package analytics

import (
	"context"
	"time"
)

// Event is one completed entity operation.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Entity    string `json:"entity"`
	Operation string `json:"operation"` // create, update, patch, delete, find_by_id, find_all
	Outcome   string `json:"outcome"`   // success, rejected, error

	DurationNS int64 `json:"duration_ns"`
}

// Summary aggregates the events of one group.
type Summary struct {
	// Grouping
	Entity    string `json:"entity,omitempty"`
	Operation string `json:"operation,omitempty"`
	Period    string `json:"period,omitempty"` // minute, hour, day

	// Time range
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// Counts
	Total    int64 `json:"total"`
	Success  int64 `json:"success"`
	Rejected int64 `json:"rejected"`
	Errors   int64 `json:"errors"`

	// Latency (nanoseconds)
	AvgDurationNS int64 `json:"avg_duration_ns"`
	MinDurationNS int64 `json:"min_duration_ns"`
	MaxDurationNS int64 `json:"max_duration_ns"`
}

// QueryOptions configures event queries.
type QueryOptions struct {
	// Time range
	Start time.Time
	End   time.Time

	// Filters
	Entity    string
	Operation string
	Outcome   string

	// Pagination
	Limit  int
	Offset int

	// Ordering
	OrderBy   string // timestamp, duration_ns, entity, operation
	OrderDesc bool
}

// AggregateOptions configures aggregation queries.
type AggregateOptions struct {
	// Time range
	Start time.Time
	End   time.Time

	// Grouping
	GroupBy []string // entity, operation
	Period  string   // minute, hour, day

	// Filters
	Entity    string
	Operation string
}

// Collector collects events.
type Collector interface {
	// Record queues an event (non-blocking, best-effort).
	Record(event Event)

	// Flush forces pending events to be written.
	Flush(ctx context.Context) error

	// Close shuts down the collector.
	Close() error
}

// Store provides event storage and querying.
type Store interface {
	// Write writes events to storage.
	Write(ctx context.Context, events []Event) error

	// Query retrieves events matching the options and the total match count.
	Query(ctx context.Context, opts QueryOptions) ([]Event, int64, error)

	// Aggregate returns summarized events.
	Aggregate(ctx context.Context, opts AggregateOptions) ([]Summary, error)

	// Delete removes events older than before.
	Delete(ctx context.Context, before time.Time) (int64, error)
}

// Journal combines collection and querying.
type Journal interface {
	Collector
	Store
}
