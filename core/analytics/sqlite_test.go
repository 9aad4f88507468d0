package analytics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"), SQLiteConfig{
		BatchSize:     10,
		FlushInterval: time.Hour,
		BufferSize:    100,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var base = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func seed(t *testing.T, store *SQLiteStore) {
	t.Helper()
	events := []Event{
		{ID: "e1", Timestamp: base, Entity: "user", Operation: "create", Outcome: "success", DurationNS: 100},
		{ID: "e2", Timestamp: base.Add(time.Minute), Entity: "user", Operation: "create", Outcome: "rejected", DurationNS: 300},
		{ID: "e3", Timestamp: base.Add(2 * time.Minute), Entity: "user", Operation: "find_all", Outcome: "success", DurationNS: 50},
		{ID: "e4", Timestamp: base.Add(time.Hour), Entity: "order", Operation: "create", Outcome: "error", DurationNS: 900},
	}
	if err := store.Write(context.Background(), events); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
}

func ids(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func TestNewSQLiteStore_Defaults(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"), SQLiteConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	if store.batchSize != 100 {
		t.Errorf("batchSize = %v, want %v", store.batchSize, 100)
	}
	if store.flushInterval != time.Second {
		t.Errorf("flushInterval = %v, want %v", store.flushInterval, time.Second)
	}
	if cap(store.buffer) != 10000 {
		t.Errorf("buffer capacity = %v, want %v", cap(store.buffer), 10000)
	}
}

func TestSQLiteStore_Write(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Write(ctx, nil); err != nil {
		t.Fatalf("Write(nil) error = %v", err)
	}
	if err := store.Write(ctx, []Event{{Entity: "user", Operation: "create", Outcome: "success", DurationNS: 42}}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	events, total, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if total != 1 || len(events) != 1 {
		t.Fatalf("Query() = %d events, total %d, want 1", len(events), total)
	}
	e := events[0]
	if e.ID == "" {
		t.Error("Write() should generate an id")
	}
	if e.Timestamp.IsZero() {
		t.Error("Write() should set a timestamp")
	}
	if e.Entity != "user" || e.Operation != "create" || e.Outcome != "success" || e.DurationNS != 42 {
		t.Errorf("Query() event = %+v", e)
	}
}

func TestSQLiteStore_Query(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)

	tests := []struct {
		name      string
		opts      QueryOptions
		wantIDs   []string
		wantTotal int64
	}{
		{"oldest first", QueryOptions{}, []string{"e1", "e2", "e3", "e4"}, 4},
		{"newest first", QueryOptions{OrderDesc: true}, []string{"e4", "e3", "e2", "e1"}, 4},
		{"by entity", QueryOptions{Entity: "order"}, []string{"e4"}, 1},
		{"by operation", QueryOptions{Operation: "create"}, []string{"e1", "e2", "e4"}, 3},
		{"by outcome", QueryOptions{Outcome: "success"}, []string{"e1", "e3"}, 2},
		{"combined", QueryOptions{Entity: "user", Operation: "create", Outcome: "rejected"}, []string{"e2"}, 1},
		{"time range", QueryOptions{Start: base.Add(30 * time.Second), End: base.Add(10 * time.Minute)}, []string{"e2", "e3"}, 2},
		{"page", QueryOptions{Limit: 2, Offset: 1}, []string{"e2", "e3"}, 4},
		{"order by duration", QueryOptions{OrderBy: "duration_ns", OrderDesc: true}, []string{"e4", "e2", "e1", "e3"}, 4},
		{"unknown order column", QueryOptions{OrderBy: "id; DROP TABLE operation_journal"}, []string{"e1", "e2", "e3", "e4"}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, total, err := store.Query(context.Background(), tt.opts)
			if err != nil {
				t.Fatalf("Query() error = %v", err)
			}
			if total != tt.wantTotal {
				t.Errorf("Query() total = %d, want %d", total, tt.wantTotal)
			}
			if diff := cmp.Diff(tt.wantIDs, ids(events)); diff != "" {
				t.Errorf("Query() ids mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSQLiteStore_Query_Timestamp(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)

	events, _, err := store.Query(context.Background(), QueryOptions{Limit: 1})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if !events[0].Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", events[0].Timestamp, base)
	}
}

func TestSQLiteStore_Aggregate(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)
	ctx := context.Background()

	all, err := store.Aggregate(ctx, AggregateOptions{})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Aggregate() = %d summaries, want 1", len(all))
	}
	got := all[0]
	if got.Total != 4 || got.Success != 2 || got.Rejected != 1 || got.Errors != 1 {
		t.Errorf("Aggregate() counts = %+v", got)
	}
	if got.MinDurationNS != 50 || got.MaxDurationNS != 900 || got.AvgDurationNS != 337 {
		t.Errorf("Aggregate() durations = min %d max %d avg %d", got.MinDurationNS, got.MaxDurationNS, got.AvgDurationNS)
	}
	if !got.Start.Equal(base) || !got.End.Equal(base.Add(time.Hour)) {
		t.Errorf("Aggregate() range = %v..%v", got.Start, got.End)
	}

	byEntity, err := store.Aggregate(ctx, AggregateOptions{GroupBy: []string{"entity", "operation"}})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	totals := map[string]int64{}
	for _, s := range byEntity {
		totals[s.Entity+"/"+s.Operation] = s.Total
	}
	want := map[string]int64{"user/create": 2, "user/find_all": 1, "order/create": 1}
	if diff := cmp.Diff(want, totals); diff != "" {
		t.Errorf("Aggregate() by entity mismatch (-want +got):\n%s", diff)
	}

	filtered, err := store.Aggregate(ctx, AggregateOptions{Entity: "user", Operation: "create"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].Total != 2 {
		t.Errorf("Aggregate() filtered = %+v, want one summary of 2", filtered)
	}

	empty, err := store.Aggregate(ctx, AggregateOptions{Entity: "invoice"})
	if err != nil {
		t.Fatalf("Aggregate() error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("Aggregate() for unknown entity = %+v, want none", empty)
	}
}

func TestSQLiteStore_Aggregate_Period(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)

	tests := []struct {
		period string
		want   map[string]int64
	}{
		{"day", map[string]int64{"2026-03-14": 4}},
		{"hour", map[string]int64{"2026-03-14 09": 3, "2026-03-14 10": 1}},
		{"minute", map[string]int64{"2026-03-14 09:30": 1, "2026-03-14 09:31": 1, "2026-03-14 09:32": 1, "2026-03-14 10:30": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			summaries, err := store.Aggregate(context.Background(), AggregateOptions{Period: tt.period})
			if err != nil {
				t.Fatalf("Aggregate() error = %v", err)
			}
			got := map[string]int64{}
			for _, s := range summaries {
				got[s.Period] = s.Total
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Aggregate(%s) mismatch (-want +got):\n%s", tt.period, diff)
			}
		})
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := openTestStore(t)
	seed(t, store)
	ctx := context.Background()

	n, err := store.Delete(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Delete() = %d, want 2", n)
	}

	events, _, err := store.Query(ctx, QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if diff := cmp.Diff([]string{"e3", "e4"}, ids(events)); diff != "" {
		t.Errorf("remaining ids mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStore_ObserveOperation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	store.ObserveOperation("user", "create", "success", 3*time.Millisecond)
	store.ObserveOperation("user", "delete", "rejected", time.Millisecond)

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	events, total, err := store.Query(ctx, QueryOptions{OrderBy: "duration_ns"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if total != 2 {
		t.Fatalf("Query() total = %d, want 2", total)
	}
	if events[0].Operation != "delete" || events[0].Outcome != "rejected" {
		t.Errorf("events[0] = %+v, want rejected delete", events[0])
	}
	if events[1].DurationNS != (3 * time.Millisecond).Nanoseconds() {
		t.Errorf("events[1].DurationNS = %d, want %d", events[1].DurationNS, (3 * time.Millisecond).Nanoseconds())
	}
}

func TestSQLiteStore_BatchFlush(t *testing.T) {
	store := openTestStore(t)

	for i := 0; i < 10; i++ {
		store.Record(Event{Entity: "user", Operation: "find_all", Outcome: "success"})
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, total, err := store.Query(context.Background(), QueryOptions{})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if total == 10 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("full batch not written, total = %d", total)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSQLiteStore_Retention(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "journal.db"), SQLiteConfig{
		FlushInterval: 10 * time.Millisecond,
		Retention:     time.Hour,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer store.Close()

	store.Record(Event{Timestamp: time.Now().Add(-2 * time.Hour), Entity: "user", Operation: "create", Outcome: "success"})
	store.Record(Event{Entity: "user", Operation: "create", Outcome: "success"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		events, total, err := store.Query(context.Background(), QueryOptions{})
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if total == 1 && time.Since(events[0].Timestamp) < time.Hour {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expired event not pruned, total = %d", total)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSQLiteStore_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store, err := Open(path, SQLiteConfig{FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	store.Record(Event{Entity: "user", Operation: "create", Outcome: "success"})
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	reopened, err := Open(path, SQLiteConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer reopened.Close()

	_, total, err := reopened.Query(context.Background(), QueryOptions{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if total != 1 {
		t.Errorf("events after Close() = %d, want 1", total)
	}
}
