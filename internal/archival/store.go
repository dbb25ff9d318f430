package archival

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Store wraps the embedded DuckDB analytical warehouse. One file backs
// every staging + fact table pair; staging tables are truncated and
// reloaded on every pipeline run, fact tables accumulate via MERGE.
type Store struct {
	db *sql.DB
}

// Open connects to (and, if absent, creates) the DuckDB file at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("archival: open duckdb at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("archival: ping duckdb: %w", err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an already-open *sql.DB, letting tests inject a
// go-sqlmock connection instead of a real DuckDB file.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Name satisfies server.HealthChecker.
func (s *Store) Name() string { return "duckdb" }

// Check satisfies server.HealthChecker.
func (s *Store) Check(ctx context.Context) error { return s.db.PingContext(ctx) }

// EnsureTable creates table if it doesn't exist, with every column typed
// VARCHAR except those named in doubleColumns (DOUBLE) and
// timestampColumns (TIMESTAMP). DuckDB tolerates loose typing on staging
// tables; fact tables are expected to pre-exist with the analyst's real
// schema, but tests and first-run environments rely on this fallback.
func (s *Store) EnsureTable(ctx context.Context, table string, columns []string, doubleColumns, timestampColumns map[string]bool) error {
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		switch {
		case doubleColumns[c]:
			defs = append(defs, fmt.Sprintf("%s DOUBLE", c))
		case timestampColumns[c]:
			defs = append(defs, fmt.Sprintf("%s TIMESTAMP", c))
		default:
			defs = append(defs, fmt.Sprintf("%s VARCHAR", c))
		}
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(defs, ", "))
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return fmt.Errorf("archival: ensure table %s: %w", table, err)
	}
	return nil
}

// TruncateStaging empties the staging table ahead of a fresh load,
// matching base.py's _truncate_staging step.
func (s *Store) TruncateStaging(ctx context.Context, table string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table))
	if err != nil {
		return fmt.Errorf("archival: truncate %s: %w", table, err)
	}
	return nil
}

// LoadStaging inserts rows into table via a single multi-row INSERT,
// matching base.py's _load_to_staging (which batches insert_rows_json).
func (s *Store) LoadStaging(ctx context.Context, table string, columns []string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?,", len(columns)), ",") + ")"
	valueGroups := make([]string, len(rows))
	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return fmt.Errorf("archival: load %s: row %d has %d values, want %d", table, i, len(row), len(columns))
		}
		valueGroups[i] = placeholder
		args = append(args, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		table, strings.Join(columns, ", "), strings.Join(valueGroups, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("archival: load %s: %w", table, err)
	}
	return nil
}

// Merge upserts staging into fact on idColumn, using DuckDB's native
// MERGE INTO — replacing base.py's dynamically-built BigQuery MERGE SQL.
// Every non-id column is overwritten on match; unmatched staging rows are
// inserted.
func (s *Store) Merge(ctx context.Context, staging, fact, idColumn string, columns []string) error {
	updates := make([]string, 0, len(columns))
	for _, c := range columns {
		if c == idColumn {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = src.%s", c, c))
	}

	query := fmt.Sprintf(
		"MERGE INTO %s AS dst USING %s AS src ON dst.%s = src.%s "+
			"WHEN MATCHED THEN UPDATE SET %s "+
			"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		fact, staging, idColumn, idColumn,
		strings.Join(updates, ", "),
		strings.Join(columns, ", "), srcColumns(columns),
	)

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("archival: merge %s into %s: %w", staging, fact, err)
	}
	return nil
}

// Exec runs an arbitrary statement, used by pipelines whose merge isn't a
// plain upsert (strategy sync's SCD2 close-prior/insert-new).
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

// Query runs an arbitrary read, used by pipelines that need current
// fact-table state before deciding what to write (strategy sync's
// current-hash lookup).
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func srcColumns(columns []string) string {
	prefixed := make([]string, len(columns))
	for i, c := range columns {
		prefixed[i] = "src." + c
	}
	return strings.Join(prefixed, ", ")
}
