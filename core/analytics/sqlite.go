package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Journal with a SQLite backend.
type SQLiteStore struct {
	db     *sql.DB
	owned  bool
	buffer chan Event
	flush  chan chan error
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger zerolog.Logger

	// Configuration
	batchSize     int
	flushInterval time.Duration
	retention     time.Duration
}

// SQLiteConfig configures the SQLite journal.
type SQLiteConfig struct {
	// BatchSize is the number of events to batch before writing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the size of the in-memory event buffer.
	BufferSize int

	// Retention, when set, deletes events older than it after each flush.
	Retention time.Duration

	Logger zerolog.Logger
}

// DefaultSQLiteConfig returns sensible defaults.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    10000,
		Logger:        zerolog.Nop(),
	}
}

// Open opens the database at dsn and creates a journal that closes it on Close.
func Open(dsn string, cfg SQLiteConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLiteStore(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore creates a journal on db. The caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB, cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = 10000
	}

	s := &SQLiteStore{
		db:            db,
		buffer:        make(chan Event, cfg.BufferSize),
		flush:         make(chan chan error),
		done:          make(chan struct{}),
		logger:        cfg.Logger,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		retention:     cfg.Retention,
	}

	if err := s.createTable(); err != nil {
		return nil, fmt.Errorf("create journal table: %w", err)
	}

	// Start background flusher
	s.wg.Add(1)
	go s.flusher()

	return s, nil
}

// createTable creates the journal table.
func (s *SQLiteStore) createTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS operation_journal (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			entity TEXT NOT NULL,
			operation TEXT NOT NULL,
			outcome TEXT NOT NULL,
			duration_ns INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_operation_journal_timestamp ON operation_journal(timestamp);
		CREATE INDEX IF NOT EXISTS idx_operation_journal_entity_operation ON operation_journal(entity, operation);
	`)
	return err
}

// ObserveOperation records a completed entity operation.
func (s *SQLiteStore) ObserveOperation(entity, operation, outcome string, d time.Duration) {
	s.Record(Event{
		Timestamp:  time.Now().UTC(),
		Entity:     entity,
		Operation:  operation,
		Outcome:    outcome,
		DurationNS: d.Nanoseconds(),
	})
}

// Record queues an event. When the buffer is full the event is dropped.
func (s *SQLiteStore) Record(event Event) {
	select {
	case s.buffer <- event:
	default:
		s.logger.Warn().Str("entity", event.Entity).Str("operation", event.Operation).Msg("journal buffer full, event dropped")
	}
}

// Flush forces pending events to be written.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	reply := make(chan error, 1)
	select {
	case s.flush <- reply:
	case <-s.done:
		return s.Write(ctx, s.drain())
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain collects all pending events from the buffer.
func (s *SQLiteStore) drain() []Event {
	var events []Event
	for {
		select {
		case e := <-s.buffer:
			events = append(events, e)
		default:
			return events
		}
	}
}

// flusher periodically flushes events to storage.
func (s *SQLiteStore) flusher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	var batch []Event

	for {
		select {
		case <-s.done:
			s.write(append(batch, s.drain()...))
			return

		case e := <-s.buffer:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				s.write(batch)
				batch = nil
			}

		case reply := <-s.flush:
			reply <- s.Write(context.Background(), append(batch, s.drain()...))
			batch = nil

		case <-ticker.C:
			s.write(batch)
			batch = nil
			s.prune()
		}
	}
}

func (s *SQLiteStore) write(events []Event) {
	if err := s.Write(context.Background(), events); err != nil {
		s.logger.Error().Err(err).Int("events", len(events)).Msg("journal write failed")
	}
}

func (s *SQLiteStore) prune() {
	if s.retention <= 0 {
		return
	}
	n, err := s.Delete(context.Background(), time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error().Err(err).Msg("journal prune failed")
		return
	}
	if n > 0 {
		s.logger.Debug().Int64("events", n).Msg("journal pruned")
	}
}

// Write writes events to storage.
func (s *SQLiteStore) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO operation_journal (id, timestamp, entity, operation, outcome, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}

		_, err := stmt.ExecContext(ctx,
			e.ID, e.Timestamp.UTC().Format(timeLayout),
			e.Entity, e.Operation, e.Outcome, e.DurationNS,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// where builds the WHERE clause shared by Query and Aggregate.
func where(start, end time.Time, filters map[string]string) (string, []any) {
	var conditions []string
	var args []any

	if !start.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, start.UTC().Format(timeLayout))
	}
	if !end.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, end.UTC().Format(timeLayout))
	}
	for _, col := range []string{"entity", "operation", "outcome"} {
		if v := filters[col]; v != "" {
			conditions = append(conditions, col+" = ?")
			args = append(args, v)
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// Query retrieves events matching the options.
func (s *SQLiteStore) Query(ctx context.Context, opts QueryOptions) ([]Event, int64, error) {
	clause, args := where(opts.Start, opts.End, map[string]string{
		"entity":    opts.Entity,
		"operation": opts.Operation,
		"outcome":   opts.Outcome,
	})

	// Count total
	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM operation_journal "+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	// Order - whitelist allowed columns to prevent SQL injection
	allowedOrderCols := map[string]bool{
		"timestamp":   true,
		"duration_ns": true,
		"entity":      true,
		"operation":   true,
	}
	orderBy := "timestamp"
	if opts.OrderBy != "" && allowedOrderCols[opts.OrderBy] {
		orderBy = opts.OrderBy
	}
	order := "DESC"
	if !opts.OrderDesc {
		order = "ASC"
	}

	limit := 100
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp, entity, operation, outcome, duration_ns
		FROM operation_journal %s
		ORDER BY %s %s, id
		LIMIT ? OFFSET ?
	`, clause, orderBy, order)

	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Entity, &e.Operation, &e.Outcome, &e.DurationNS); err != nil {
			return nil, 0, err
		}
		e.Timestamp, _ = time.Parse(timeLayout, ts)
		events = append(events, e)
	}

	return events, total, rows.Err()
}

// Aggregate returns summarized events.
func (s *SQLiteStore) Aggregate(ctx context.Context, opts AggregateOptions) ([]Summary, error) {
	clause, args := where(opts.Start, opts.End, map[string]string{
		"entity":    opts.Entity,
		"operation": opts.Operation,
	})

	var groupCols []string
	for _, g := range opts.GroupBy {
		switch g {
		case "entity", "operation":
			groupCols = append(groupCols, g)
		}
	}
	selectCols := append([]string(nil), groupCols...)

	// Time period grouping
	periodExpr := ""
	switch opts.Period {
	case "minute":
		periodExpr = "strftime('%Y-%m-%d %H:%M', timestamp)"
	case "hour":
		periodExpr = "strftime('%Y-%m-%d %H', timestamp)"
	case "day":
		periodExpr = "strftime('%Y-%m-%d', timestamp)"
	}
	if periodExpr != "" {
		groupCols = append(groupCols, periodExpr)
		selectCols = append(selectCols, periodExpr+" as period")
	}

	groupBy := ""
	if len(groupCols) > 0 {
		groupBy = "GROUP BY " + strings.Join(groupCols, ", ")
	}

	selectPart := strings.Join(selectCols, ", ")
	if selectPart != "" {
		selectPart += ","
	}

	query := fmt.Sprintf(`
		SELECT %s
			COUNT(*) as total,
			SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END) as success,
			SUM(CASE WHEN outcome = 'rejected' THEN 1 ELSE 0 END) as rejected,
			SUM(CASE WHEN outcome = 'error' THEN 1 ELSE 0 END) as errors,
			CAST(COALESCE(AVG(duration_ns), 0) AS INTEGER) as avg_duration_ns,
			COALESCE(MIN(duration_ns), 0) as min_duration_ns,
			COALESCE(MAX(duration_ns), 0) as max_duration_ns,
			COALESCE(MIN(timestamp), '') as start_time,
			COALESCE(MAX(timestamp), '') as end_time
		FROM operation_journal %s %s
		ORDER BY start_time DESC
	`, selectPart, clause, groupBy)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var startStr, endStr string
		var entity, operation, period sql.NullString
		var success, rejected, errors sql.NullInt64

		// Scan targets follow the select order
		var scanTargets []any
		for _, g := range groupCols {
			switch g {
			case "entity":
				scanTargets = append(scanTargets, &entity)
			case "operation":
				scanTargets = append(scanTargets, &operation)
			}
		}
		if periodExpr != "" {
			scanTargets = append(scanTargets, &period)
		}
		scanTargets = append(scanTargets,
			&sum.Total, &success, &rejected, &errors,
			&sum.AvgDurationNS, &sum.MinDurationNS, &sum.MaxDurationNS,
			&startStr, &endStr,
		)

		if err := rows.Scan(scanTargets...); err != nil {
			return nil, err
		}
		if sum.Total == 0 {
			continue
		}

		sum.Entity = entity.String
		sum.Operation = operation.String
		sum.Period = period.String
		sum.Success = success.Int64
		sum.Rejected = rejected.Int64
		sum.Errors = errors.Int64
		sum.Start, _ = time.Parse(timeLayout, startStr)
		sum.End, _ = time.Parse(timeLayout, endStr)

		summaries = append(summaries, sum)
	}

	return summaries, rows.Err()
}

// Delete removes events older than the given time.
func (s *SQLiteStore) Delete(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM operation_journal WHERE timestamp < ?",
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Close flushes pending events and stops the flusher. A database opened
// by Open is closed too.
func (s *SQLiteStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		if s.owned {
			err = s.db.Close()
		}
	})
	return err
}
