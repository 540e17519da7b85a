// Package postgres is the pgx ledger backend.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gaiji/internal/storage"
)

// maxParams is the Postgres wire protocol bind limit.
const maxParams = 65535

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pool for cfg.DSN and pings it.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

// EnsureSchema creates the ledger tables.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	for _, t := range storage.LedgerTables() {
		if _, err := r.pool.Exec(ctx, buildCreateSQL(t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// BeginRun inserts the run row.
func (r *Repo) BeginRun(ctx context.Context, run storage.Run) error {
	q, args := buildInsertSQL(storage.TableRuns, storage.RunColumns(), [][]any{storage.RunRow(run)}, nil)
	_, err := r.pool.Exec(ctx, q, args...)
	return err
}

// FinishRun fills in the summary columns of a run.
func (r *Repo) FinishRun(ctx context.Context, runID string, s storage.Summary) error {
	q, args := buildUpdateSQL(storage.TableRuns, storage.SummaryColumns(), storage.SummaryValues(s), "run_id", runID)
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: run %s not found", runID)
	}
	return nil
}

// SaveCodePoints stores per-row extraction outcomes.
func (r *Repo) SaveCodePoints(ctx context.Context, runID string, recs []storage.CodePointRecord) error {
	cols, rows := storage.CodePointRows(runID, recs)
	return r.insertAll(ctx, storage.TableCodePoints, cols, rows, []string{"run_id", "row_index"})
}

// SaveDocuments stores per-document replacement outcomes.
func (r *Repo) SaveDocuments(ctx context.Context, runID string, recs []storage.DocumentRecord) error {
	cols, rows := storage.DocumentRows(runID, recs)
	return r.insertAll(ctx, storage.TableDocuments, cols, rows, []string{"run_id", "file"})
}

func (r *Repo) insertAll(ctx context.Context, table string, columns []string, rows [][]any, conflict []string) error {
	if len(rows) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, chunk := range storage.Chunk(rows, len(columns), maxParams) {
			q, args := buildInsertSQL(table, columns, chunk, conflict)
			if _, err := tx.Exec(ctx, q, args...); err != nil {
				return fmt.Errorf("insert %s: %w", table, err)
			}
		}
		return nil
	})
}

func pgIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func pgType(t storage.ColumnType) string {
	switch t {
	case storage.TypeInt:
		return "INTEGER"
	case storage.TypeTime:
		return "TIMESTAMPTZ"
	case storage.TypeID:
		return "VARCHAR(255)"
	default:
		return "TEXT"
	}
}

func buildCreateSQL(t storage.TableSpec) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		d := pgIdent(c.Name) + " " + pgType(c.Type)
		if !c.Nullable {
			d += " NOT NULL"
		}
		defs = append(defs, d)
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+identList(t.PrimaryKey)+")")
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, pgIdent(t.Name), strings.Join(defs, ", "))
}

// buildInsertSQL constructs one multi-row INSERT with $n placeholders. When
// conflictColumns is set, rows hitting an existing key are skipped.
func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns []string) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	b.WriteString(identList(columns))
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
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(identList(conflictColumns))
		b.WriteString(") DO NOTHING")
	}
	b.WriteString(";")
	return b.String(), args
}

func buildUpdateSQL(table string, columns []string, values []any, keyColumn string, key any) (string, []any) {
	sets := make([]string, len(columns))
	for i, c := range columns {
		sets[i] = fmt.Sprintf("%s = $%d", pgIdent(c), i+1)
	}
	args := append(append([]any(nil), values...), key)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $%d;", pgIdent(table), strings.Join(sets, ", "), pgIdent(keyColumn), len(columns)+1)
	return q, args
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return strings.Join(out, ", ")
}

var _ storage.Repository = (*Repo)(nil)
