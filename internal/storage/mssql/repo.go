// Package mssql is the SQL Server ledger backend (database/sql with
// github.com/microsoft/go-mssqldb).
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"gaiji/internal/storage"
)

// maxParams stays below SQL Server's 2100 parameter limit.
const maxParams = 2000

// Repo implements storage.Repository for SQL Server.
type Repo struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens cfg.DSN with the "sqlserver" driver and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &Repo{db: &sqlDB{db: raw}}, nil
}

// Close releases the database handle.
func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the ledger tables when missing.
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
	q, args := buildBulkInsertSQL(storage.TableRuns, storage.RunColumns(), [][]any{storage.RunRow(run)})
	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}

// FinishRun fills in the summary columns of a run.
func (r *Repo) FinishRun(ctx context.Context, runID string, s storage.Summary) error {
	cols := storage.SummaryColumns()
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = @p%d", mssqlIdent(c), i+1)
	}
	args := append(storage.SummaryValues(s), runID)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = @p%d", mssqlTableIdent(storage.TableRuns), strings.Join(sets, ", "), mssqlIdent("run_id"), len(cols)+1)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mssql: run %s not found", runID)
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

// insertAll writes rows chunk by chunk in one transaction. SQL Server has no
// INSERT ... ON CONFLICT and duplicate keys inside one VALUES list still
// collide, so batches are deduplicated first (first occurrence wins).
func (r *Repo) insertAll(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	rows, err := dedupeRowsByColumns(rows, columns, columns[:2])
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, chunk := range storage.Chunk(rows, len(columns), maxParams) {
		q, args := buildBulkInsertSQL(table, columns, chunk)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// dedupeRowsByColumns keeps the first row for each key.
func dedupeRowsByColumns(rows [][]any, columns, keyColumns []string) ([][]any, error) {
	idx := make([]int, len(keyColumns))
	for i, k := range keyColumns {
		j, ok := indexOfColumn(columns, k)
		if !ok {
			return nil, fmt.Errorf("mssql: key column %q not in insert columns %v", k, columns)
		}
		idx[i] = j
	}

	seen := make(map[string]bool, len(rows))
	out := make([][]any, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, len(idx))
		for i, j := range idx {
			parts[i] = fmt.Sprint(row[j])
		}
		k := strings.Join(parts, "\x00")
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row)
	}
	return out, nil
}

func indexOfColumn(columns []string, name string) (int, bool) {
	for i, c := range columns {
		if strings.EqualFold(c, name) {
			return i, true
		}
	}
	return -1, false
}

func mssqlType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInt:
		return "INT"
	case storage.TypeTime:
		return "DATETIMEOFFSET"
	case storage.TypeID:
		return "NVARCHAR(255)"
	default:
		return "NVARCHAR(MAX)"
	}
}

// buildCreateSQL wraps CREATE TABLE in an existence check.
func buildCreateSQL(t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		null := " NOT NULL"
		if c.Nullable {
			null = " NULL"
		}
		defs = append(defs, mssqlIdent(c.Name)+" "+mssqlType(c.Type)+null)
	}
	if len(t.PrimaryKey) > 0 {
		pk := make([]string, len(t.PrimaryKey))
		for i, c := range t.PrimaryKey {
			pk[i] = mssqlIdent(c)
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s);",
		strings.ReplaceAll(t.Name, "'", "''"), mssqlTableIdent(t.Name), strings.Join(defs, ", "))
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return b.String(), args
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent quotes each part of a schema-qualified name.
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// ---- database/sql seam types ----

// dbConn is the part of *sql.DB the repo uses.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is the part of *sql.Tx the repo uses.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn             = (*sqlDB)(nil)
	_ txConn             = (*sql.Tx)(nil)
	_ storage.Repository = (*Repo)(nil)
)
