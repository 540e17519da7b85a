// Package sqlite is the modernc.org/sqlite ledger backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gaiji/internal/storage"
)

// maxParams keeps statements under SQLite's historical bind limit.
const maxParams = 999

// Repo implements storage.Repository for SQLite. Timestamps are stored as
// RFC3339Nano text.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases consistent.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

// Close closes the database.
func (r *Repo) Close() error { return r.db.Close() }

// EnsureSchema creates the ledger tables.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.LedgerTables() {
		if _, err := r.db.ExecContext(ctx, buildCreateSQL(t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// BeginRun inserts the run row.
func (r *Repo) BeginRun(ctx context.Context, run storage.Run) error {
	q, args := buildInsertSQL(storage.TableRuns, storage.RunColumns(), [][]any{storage.RunRow(run)}, false)
	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}

// FinishRun fills in the summary columns of a run.
func (r *Repo) FinishRun(ctx context.Context, runID string, s storage.Summary) error {
	cols := storage.SummaryColumns()
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = sqlIdent(c) + " = ?"
	}
	args := bindValues(storage.SummaryValues(s))
	args = append(args, runID)

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", sqlIdent(storage.TableRuns), strings.Join(sets, ", "), sqlIdent("run_id"))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sqlite: run %s not found", runID)
	}
	return nil
}

// SaveCodePoints stores per-row extraction outcomes.
func (r *Repo) SaveCodePoints(ctx context.Context, runID string, recs []storage.CodePointRecord) error {
	cols, rows := storage.CodePointRows(runID, recs)
	return r.insertAll(ctx, storage.TableCodePoints, cols, rows)
}

// SaveDocuments stores per-document replacement outcomes.
func (r *Repo) SaveDocuments(ctx context.Context, runID string, recs []storage.DocumentRecord) error {
	cols, rows := storage.DocumentRows(runID, recs)
	return r.insertAll(ctx, storage.TableDocuments, cols, rows)
}

// insertAll writes rows in chunks inside one transaction. Rows whose key
// already exists are ignored.
func (r *Repo) insertAll(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, chunk := range storage.Chunk(rows, len(columns), maxParams) {
		q, args := buildInsertSQL(table, columns, chunk, true)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func sqliteType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInt:
		return "INTEGER"
	default:
		// Times are RFC3339Nano strings.
		return "TEXT"
	}
}

func buildCreateSQL(t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		d := sqlIdent(c.Name) + " " + sqliteType(c.Type)
		if !c.Nullable {
			d += " NOT NULL"
		}
		defs = append(defs, d)
	}
	if len(t.PrimaryKey) > 0 {
		pk := make([]string, len(t.PrimaryKey))
		for i, c := range t.PrimaryKey {
			pk[i] = sqlIdent(c)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", sqlIdent(t.Name), strings.Join(defs, ",\n  "))
}

func buildInsertSQL(table string, columns []string, rows [][]any, ignoreDuplicates bool) (string, []any) {
	insertPrefix := "INSERT INTO "
	if ignoreDuplicates {
		insertPrefix = "INSERT OR IGNORE INTO "
	}

	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString(insertPrefix)
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, bindValues(row)...)
	}
	return b.String(), args
}

// bindValues converts time.Time arguments to their stored text form.
func bindValues(row []any) []any {
	out := make([]any, len(row))
	for i, v := range row {
		if t, ok := v.(time.Time); ok {
			out[i] = formatSQLiteTime(t)
			continue
		}
		out[i] = v
	}
	return out
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseSQLiteTime parses timestamps read back from the ledger. Besides
// RFC3339 it accepts the space separated forms other SQLite tools write;
// values without a zone are UTC.
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999Z07:00",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	if ts, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

// RunStatus reads back the stored state of a run.
func (r *Repo) RunStatus(ctx context.Context, runID string) (status string, started, finished time.Time, err error) {
	var st, fin sql.NullString
	var start string
	q := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s = ?",
		sqlIdent("status"), sqlIdent("started_at"), sqlIdent("finished_at"), sqlIdent(storage.TableRuns), sqlIdent("run_id"))
	if err = r.db.QueryRowContext(ctx, q, runID).Scan(&st, &start, &fin); err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	if started, err = parseSQLiteTime(start); err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	if fin.Valid {
		if finished, err = parseSQLiteTime(fin.String); err != nil {
			return "", time.Time{}, time.Time{}, err
		}
	}
	return st.String, started, finished, nil
}

var _ storage.Repository = (*Repo)(nil)
