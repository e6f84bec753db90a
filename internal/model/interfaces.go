package model

import "context"

// FieldSet is the extractor's output: every column reference found in
// one statement, grouped by clause role, plus the alias map used to
// resolve table-qualified references.
type FieldSet struct {
	Where   []FieldUsage
	Join    []FieldUsage
	OrderBy []FieldUsage
	GroupBy []FieldUsage
	// Aliases maps alias (or bare table name) to the table it stands for.
	Aliases map[string]string
	// Table is the primary table of the statement, "" when undetectable.
	Table string
}

// FunctionFields returns the WHERE fields disqualified by function
// wrapping.
func (fs FieldSet) FunctionFields() []FieldUsage {
	var out []FieldUsage
	for _, f := range fs.Where {
		if f.WrappedInFunction {
			out = append(out, f)
		}
	}
	return out
}

// Extractor turns raw SQL into a FieldSet. Implementations are
// best-effort: unrecognizable input yields empty sets, never an error,
// so the heuristic backend can later be swapped for a real tokenizer
// without touching downstream logic.
type Extractor interface {
	Extract(sql string) FieldSet
}

// Catalog resolves index metadata for a table, live or from a captured
// structural snapshot.
type Catalog interface {
	// Profile never fails outright: on metadata errors it returns a
	// profile with ConfidenceUnknown together with the causing error so
	// the caller can phrase the diagnosis.
	Profile(ctx context.Context, table, databaseHint, hostHint string) (TableIndexProfile, error)
	// RowCount returns a negative count when the size is unknown.
	RowCount(ctx context.Context, database, table, hostHint string) int64
}

// Reporter renders a batch of advisories.
type Reporter interface {
	Report(advisories []Advisory) error
}
