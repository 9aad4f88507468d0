package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/artpar/entitygate/core/apierror"
	"github.com/artpar/entitygate/core/entity"
	"github.com/artpar/entitygate/core/plugin"
	"github.com/artpar/entitygate/core/schema"
)

// Type is the provider type name.
const Type = "sqlite"

// DefaultPageSize applies when a list request does not set a size.
const DefaultPageSize = 20

// Register adds the sqlite provider type to c. Options:
//
//	dsn:       database path, ":memory:" for a private in-memory database
//	page_size: default list page size
func Register(c *plugin.Catalog) error {
	return c.RegisterProvider(Type, func(cfg schema.ProviderConfiguration, deps plugin.Deps) (plugin.ProviderPlugin, error) {
		dsn, ok := cfg.Options.String("dsn")
		if !ok || dsn == "" {
			return nil, errors.New("dsn is required")
		}
		size := DefaultPageSize
		if v, ok := cfg.Options.Value("page_size"); ok {
			n, ok := v.AsInt()
			if !ok || n <= 0 {
				return nil, fmt.Errorf("page_size must be a positive integer, got %s", v)
			}
			size = n
		}
		return NewSQLiteProvider(dsn, size, deps.Logger.With().Str("provider", cfg.Name).Logger())
	})
}

// SQLiteProvider stores entities in SQLite tables.
type SQLiteProvider struct {
	db       *sql.DB
	pageSize int
	logger   zerolog.Logger

	mu     sync.RWMutex
	tables map[string]Table // by entity name
}

// NewSQLiteProvider opens the database at path.
func NewSQLiteProvider(path string, pageSize int, logger zerolog.Logger) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return NewSQLiteProviderFromDB(db, pageSize, logger), nil
}

// NewSQLiteProviderFromDB wraps an existing connection.
func NewSQLiteProviderFromDB(db *sql.DB, pageSize int, logger zerolog.Logger) *SQLiteProvider {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &SQLiteProvider{
		db:       db,
		pageSize: pageSize,
		logger:   logger,
		tables:   make(map[string]Table),
	}
}

// Prepare creates the tables of entities and adds columns declared since
// a table was created.
func (s *SQLiteProvider) Prepare(ctx context.Context, entities []*schema.EntityConfiguration) error {
	for _, cfg := range entities {
		t, err := s.table(cfg)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, t.CreateSQL()); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}

		existing, err := s.columns(ctx, t.Name)
		if err != nil {
			return err
		}
		for _, c := range t.Columns {
			if existing[c.Name] {
				continue
			}
			if _, err := s.db.ExecContext(ctx, t.AddColumnSQL(c)); err != nil {
				return fmt.Errorf("add column %s.%s: %w", t.Name, c.Name, err)
			}
			s.logger.Info().Str("table", t.Name).Str("column", c.Name).Msg("column added")
		}
	}
	return nil
}

func (s *SQLiteProvider) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(table)))
	if err != nil {
		return nil, fmt.Errorf("table info %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid      int
			name     string
			typ      string
			notNull  int
			defValue sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defValue, &pk); err != nil {
			return nil, fmt.Errorf("table info %s: %w", table, err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// Create inserts a record under the id it carries, or under a new UUID.
func (s *SQLiteProvider) Create(ctx context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, attrs map[string]any) (entity.DynamicEntity, error) {
	t, err := s.table(cfg)
	if err != nil {
		return entity.DynamicEntity{}, err
	}

	id, _ := attrs[entity.IDAttribute].(string)
	if id == "" {
		id = uuid.New().String()
	}

	columns := []string{quote(entity.IDAttribute)}
	placeholders := []string{"?"}
	values := []any{id}
	for _, c := range t.Columns[1:] {
		val, ok := attrs[c.Attribute]
		if !ok {
			continue
		}
		dbVal, err := toDB(val, c)
		if err != nil {
			return entity.DynamicEntity{}, err
		}
		columns = append(columns, quote(c.Name))
		placeholders = append(placeholders, "?")
		values = append(values, dbVal)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(t.Name), strings.Join(columns, ", "), strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, insertSQL, values...); err != nil {
		return entity.DynamicEntity{}, fmt.Errorf("insert: %w", err)
	}

	return s.reload(ctx, cfg, t, id)
}

// Update sets every column; attributes absent from attrs become NULL.
func (s *SQLiteProvider) Update(ctx context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, id string, attrs map[string]any) (entity.DynamicEntity, error) {
	t, err := s.table(cfg)
	if err != nil {
		return entity.DynamicEntity{}, err
	}
	return s.update(ctx, cfg, t, id, attrs, t.Columns[1:])
}

// Patch sets only the columns of the attributes present in attrs.
func (s *SQLiteProvider) Patch(ctx context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, id string, attrs map[string]any) (entity.DynamicEntity, error) {
	t, err := s.table(cfg)
	if err != nil {
		return entity.DynamicEntity{}, err
	}

	var present []Column
	for _, c := range t.Columns[1:] {
		if _, ok := attrs[c.Attribute]; ok {
			present = append(present, c)
		}
	}
	if len(present) == 0 {
		return s.reload(ctx, cfg, t, id)
	}
	return s.update(ctx, cfg, t, id, attrs, present)
}

func (s *SQLiteProvider) update(ctx context.Context, cfg *schema.EntityConfiguration, t Table, id string, attrs map[string]any, columns []Column) (entity.DynamicEntity, error) {
	if len(columns) == 0 {
		return s.reload(ctx, cfg, t, id)
	}

	sets := make([]string, 0, len(columns))
	values := make([]any, 0, len(columns)+1)
	for _, c := range columns {
		dbVal, err := toDB(attrs[c.Attribute], c)
		if err != nil {
			return entity.DynamicEntity{}, err
		}
		sets = append(sets, quote(c.Name)+" = ?")
		values = append(values, dbVal)
	}
	values = append(values, id)

	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quote(t.Name), strings.Join(sets, ", "), quote(entity.IDAttribute))
	result, err := s.db.ExecContext(ctx, updateSQL, values...)
	if err != nil {
		return entity.DynamicEntity{}, fmt.Errorf("update: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return entity.DynamicEntity{}, plugin.ErrNotFound
	}
	return s.reload(ctx, cfg, t, id)
}

func (s *SQLiteProvider) reload(ctx context.Context, cfg *schema.EntityConfiguration, t Table, id string) (entity.DynamicEntity, error) {
	e, ok, err := s.get(ctx, cfg, t, id)
	if err != nil {
		return entity.DynamicEntity{}, err
	}
	if !ok {
		return entity.DynamicEntity{}, plugin.ErrNotFound
	}
	return e, nil
}

// Delete removes a record and reports whether it existed.
func (s *SQLiteProvider) Delete(ctx context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, id string) (bool, error) {
	t, err := s.table(cfg)
	if err != nil {
		return false, err
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(t.Name), quote(entity.IDAttribute))
	result, err := s.db.ExecContext(ctx, deleteSQL, id)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// FindByID reads one record.
func (s *SQLiteProvider) FindByID(ctx context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, id string) (entity.DynamicEntity, bool, error) {
	t, err := s.table(cfg)
	if err != nil {
		return entity.DynamicEntity{}, false, err
	}
	return s.get(ctx, cfg, t, id)
}

func (s *SQLiteProvider) get(ctx context.Context, cfg *schema.EntityConfiguration, t Table, id string) (entity.DynamicEntity, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		strings.Join(t.ColumnNames(), ", "), quote(t.Name), quote(entity.IDAttribute))

	values := make([]any, len(t.Columns))
	scanDest := make([]any, len(t.Columns))
	for i := range values {
		scanDest[i] = &values[i]
	}

	if err := s.db.QueryRowContext(ctx, query, id).Scan(scanDest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return entity.DynamicEntity{}, false, nil
		}
		return entity.DynamicEntity{}, false, fmt.Errorf("select: %w", err)
	}
	return record(cfg, t, values), true, nil
}

// FindAll lists records. Several values for one filter match any of them.
// Filters and sort orders on undeclared attributes, and filter values the
// column type cannot hold, are rejected as invalid parameters.
func (s *SQLiteProvider) FindAll(ctx context.Context, _ *plugin.ExecutionContext, cfg *schema.EntityConfiguration, filters entity.Filters, page entity.Pageable) (entity.Page, error) {
	t, err := s.table(cfg)
	if err != nil {
		return entity.Page{}, err
	}

	var (
		conditions []string
		args       []any
	)
	for _, attr := range sortedFilterKeys(filters) {
		values := filters[attr]
		if len(values) == 0 {
			continue
		}
		c, ok := t.Column(attr)
		if !ok {
			return entity.Page{}, apierror.InvalidParameter(attr)
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			dbVal, err := toDB(v, c)
			if err != nil {
				return entity.Page{}, apierror.InvalidParameter(attr, apierror.WithCause(err))
			}
			placeholders[i] = "?"
			args = append(args, dbVal)
		}
		conditions = append(conditions, fmt.Sprintf("%s IN (%s)", quote(c.Name), strings.Join(placeholders, ", ")))
	}

	var where string
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quote(t.Name), where)
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return entity.Page{}, fmt.Errorf("count: %w", err)
	}

	orders := make([]string, 0, len(page.Sort)+1)
	for _, o := range page.Sort {
		c, ok := t.Column(o.Attribute)
		if !ok {
			return entity.Page{}, apierror.InvalidParameter("sort")
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		orders = append(orders, quote(c.Name)+" "+dir)
	}
	orders = append(orders, quote(entity.IDAttribute)+" ASC")

	if page.Size <= 0 {
		page.Size = s.pageSize
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT %d OFFSET %d",
		strings.Join(t.ColumnNames(), ", "), quote(t.Name), where,
		strings.Join(orders, ", "), page.Size, page.Offset())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return entity.Page{}, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	content := []entity.DynamicEntity{}
	for rows.Next() {
		values := make([]any, len(t.Columns))
		scanDest := make([]any, len(t.Columns))
		for i := range values {
			scanDest[i] = &values[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return entity.Page{}, fmt.Errorf("scan: %w", err)
		}
		content = append(content, record(cfg, t, values))
	}
	if err := rows.Err(); err != nil {
		return entity.Page{}, fmt.Errorf("rows: %w", err)
	}

	return entity.Page{Content: content, Total: total, Page: page.Page, Size: page.Size}, nil
}

// Close closes the database connection.
func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLiteProvider) DB() *sql.DB {
	return s.db
}

// table returns the cached mapping of cfg, deriving it on first use.
func (s *SQLiteProvider) table(cfg *schema.EntityConfiguration) (Table, error) {
	s.mu.RLock()
	t, ok := s.tables[cfg.Name]
	s.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := TableFor(cfg)
	if err != nil {
		return Table{}, err
	}
	s.mu.Lock()
	s.tables[cfg.Name] = t
	s.mu.Unlock()
	return t, nil
}

func record(cfg *schema.EntityConfiguration, t Table, values []any) entity.DynamicEntity {
	attrs := make(map[string]any, len(values))
	for i, c := range t.Columns {
		if v := fromDB(values[i], c); v != nil {
			attrs[c.Attribute] = v
		}
	}
	return entity.New(cfg, attrs)
}

func sortedFilterKeys(f entity.Filters) []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
