package storage

import (
	"strings"
	"time"
)

// ColumnType is a backend-neutral column type; each backend maps it to its
// own SQL type.
type ColumnType string

const (
	TypeID   ColumnType = "id"   // short text key (run ids, codes)
	TypeText ColumnType = "text" // unbounded text
	TypeInt  ColumnType = "int"
	TypeTime ColumnType = "time"
)

// ColumnSpec is one ledger column.
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// TableSpec is one ledger table.
type TableSpec struct {
	Name       string
	Columns    []ColumnSpec
	PrimaryKey []string
}

// ColumnNames returns the column names in declaration order.
func (t TableSpec) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Ledger table names.
const (
	TableRuns       = "gaiji_runs"
	TableCodePoints = "gaiji_codepoints"
	TableDocuments  = "gaiji_documents"
)

var (
	runsTable = TableSpec{
		Name: TableRuns,
		Columns: []ColumnSpec{
			{Name: "run_id", Type: TypeID},
			{Name: "job", Type: TypeID},
			{Name: "tool", Type: TypeID},
			{Name: "input", Type: TypeText},
			{Name: "started_at", Type: TypeTime},
			{Name: "finished_at", Type: TypeTime, Nullable: true},
			{Name: "status", Type: TypeID, Nullable: true},
			{Name: "items", Type: TypeInt, Nullable: true},
			{Name: "succeeded", Type: TypeInt, Nullable: true},
			{Name: "failed", Type: TypeInt, Nullable: true},
			{Name: "skipped", Type: TypeInt, Nullable: true},
			{Name: "output", Type: TypeText, Nullable: true},
			{Name: "error", Type: TypeText, Nullable: true},
		},
		PrimaryKey: []string{"run_id"},
	}

	codePointsTable = TableSpec{
		Name: TableCodePoints,
		Columns: []ColumnSpec{
			{Name: "run_id", Type: TypeID},
			{Name: "row_index", Type: TypeInt},
			{Name: "url", Type: TypeText},
			{Name: "label", Type: TypeID, Nullable: true},
			{Name: "strategy", Type: TypeID, Nullable: true},
		},
		PrimaryKey: []string{"run_id", "row_index"},
	}

	documentsTable = TableSpec{
		Name: TableDocuments,
		Columns: []ColumnSpec{
			{Name: "run_id", Type: TypeID},
			{Name: "file", Type: TypeID},
			{Name: "encoding", Type: TypeID, Nullable: true},
			{Name: "found", Type: TypeInt},
			{Name: "replaced", Type: TypeInt},
			{Name: "unreplaced", Type: TypeText, Nullable: true},
			{Name: "output", Type: TypeText, Nullable: true},
			{Name: "skipped", Type: TypeText, Nullable: true},
		},
		PrimaryKey: []string{"run_id", "file"},
	}
)

// LedgerTables returns the ledger schema in creation order.
func LedgerTables() []TableSpec {
	return []TableSpec{runsTable, codePointsTable, documentsTable}
}

// RunColumns and RunRow give the insert shape of BeginRun.
func RunColumns() []string { return []string{"run_id", "job", "tool", "input", "started_at"} }

func RunRow(r Run) []any {
	return []any{r.ID, r.Job, r.Tool, r.Input, r.StartedAt.UTC()}
}

// SummaryColumns and SummaryValues give the update shape of FinishRun.
func SummaryColumns() []string {
	return []string{"finished_at", "status", "items", "succeeded", "failed", "skipped", "output", "error"}
}

func SummaryValues(s Summary) []any {
	finished := s.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	return []any{finished.UTC(), s.Status, s.Items, s.Succeeded, s.Failed, s.Skipped, nullable(s.Output), nullable(s.Error)}
}

// CodePointRows converts records to insert rows for TableCodePoints.
func CodePointRows(runID string, recs []CodePointRecord) (columns []string, rows [][]any) {
	rows = make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{runID, r.Row, r.URL, nullable(r.Label), nullable(r.Strategy)}
	}
	return codePointsTable.ColumnNames(), rows
}

// DocumentRows converts records to insert rows for TableDocuments.
// Unreplaced codes are stored space separated.
func DocumentRows(runID string, recs []DocumentRecord) (columns []string, rows [][]any) {
	rows = make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = []any{
			runID, r.File, nullable(r.Encoding), r.Found, r.Replaced,
			nullable(strings.Join(r.Unreplaced, " ")), nullable(r.Output), nullable(r.Skipped),
		}
	}
	return documentsTable.ColumnNames(), rows
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Chunk splits rows so that no statement exceeds maxParams bind parameters.
func Chunk(rows [][]any, columns, maxParams int) [][][]any {
	if len(rows) == 0 {
		return nil
	}
	per := maxParams / columns
	if per < 1 {
		per = 1
	}
	var out [][][]any
	for len(rows) > per {
		out = append(out, rows[:per])
		rows = rows[per:]
	}
	return append(out, rows)
}
