package advisor

import (
	"fmt"
	"sort"
	"strings"

	"sql-advisor/internal/model"
)

// Composer turns a coverage verdict into ordered DDL suggestions and a
// diagnosis. Output is deterministic for identical inputs: field order
// comes from a fixed weight function with a lexical tie-break.
type Composer struct {
	policy model.Policy
}

func NewComposer(policy model.Policy) *Composer {
	if policy.CompositeCap <= 0 {
		policy = model.DefaultPolicy()
	}
	return &Composer{policy: policy}
}

// tableAdvice is the composer's per-table result.
type tableAdvice struct {
	Statements []string
	Issues     []string
	// NewlyIndexed counts fields a recommended index would newly cover.
	NewlyIndexed int
	// RewriteDominant is set when the function rewrite is the main fix.
	RewriteDominant bool
	// SortIndexAdded is set when a trailing sort-supporting index was
	// recommended.
	SortIndexAdded bool
}

// Compose applies the decision order for one table:
//  1. no filter fields → ask for a selective predicate, no DDL;
//  2. function-wrapped fields → rewrite advice first, indexing for the
//     rest in the same pass;
//  3. two or more uncovered fields → one composite index (capped);
//  4. exactly one uncovered field → single-column index;
//  5. everything indexed, single predicate → archival above the row
//     threshold, otherwise optimal;
//  6. uncovered ORDER BY fields → trailing sort-supporting index.
//
// An indeterminate verdict short-circuits into an explicit uncertainty
// diagnosis: no optimality claim, no DDL, manual verification asked.
func (c *Composer) Compose(verdict model.CoverageVerdict, fields []model.FieldUsage, orderBy []model.FieldUsage, table string, rowCount int64, sqlText string) tableAdvice {
	var adv tableAdvice

	plain, wrapped := splitWrapped(fields)

	if len(plain) == 0 && len(wrapped) == 0 {
		adv.Issues = append(adv.Issues,
			"query has no recognizable filter condition and risks a full table scan; add a selective WHERE or JOIN predicate before considering indexes")
		return adv
	}

	if verdict.State == model.CoverageIndeterminate {
		adv.Issues = append(adv.Issues,
			fmt.Sprintf("index metadata for table %s could not be verified (connection or permission failure); manual index verification required before acting", table))
		if len(wrapped) > 0 {
			adv.Issues = append(adv.Issues, rewriteIssue(wrapped, table))
			adv.RewriteDominant = true
		}
		return adv
	}

	// Rewrite advice always precedes indexing advice when wrapped and
	// plain fields overlap in the same statement.
	if len(wrapped) > 0 {
		adv.Issues = append(adv.Issues, rewriteIssue(wrapped, table))
		if len(plain) == 0 {
			adv.RewriteDominant = true
		}
	}

	uncovered := verdict.Uncovered
	covered := verdict.Covered
	sortGap := c.uncoveredOrderBy(orderBy, plain, verdict)

	switch {
	case len(uncovered) >= 2, len(uncovered) == 1 && len(plain) >= 2:
		// Composite over every plain predicate field plus uncovered sort
		// fields, priority-ordered and capped.
		cols := c.prioritize(append(append([]model.FieldUsage{}, plain...), sortGap...), sqlText)
		adv.Statements = append(adv.Statements, c.compositeDDL(table, cols))
		adv.Issues = append(adv.Issues,
			fmt.Sprintf("fields %s lack index coverage on %s; one composite index serves the combined predicate", columnList(uncovered), table))
		adv.NewlyIndexed = len(uncovered) + len(sortGap)
		sortGap = nil
	case len(uncovered) == 1:
		f := uncovered[0]
		adv.Statements = append(adv.Statements,
			fmt.Sprintf("CREATE INDEX idx_%s ON %s(%s);", strings.ToLower(f.Column), table, f.Column))
		adv.Issues = append(adv.Issues,
			fmt.Sprintf("field %s on %s has no index", f.Column, table))
		adv.NewlyIndexed = 1
	case verdict.CompositeWanted:
		cols := c.prioritize(append(append([]model.FieldUsage{}, plain...), sortGap...), sqlText)
		adv.Statements = append(adv.Statements, c.compositeDDL(table, cols))
		adv.Issues = append(adv.Issues,
			fmt.Sprintf("fields %s carry individual indexes, but a multi-predicate query needs one composite index to avoid index merging", columnList(covered)))
		adv.NewlyIndexed = len(sortGap)
		sortGap = nil
	case len(covered) == 1 && len(plain) == 1:
		if rowCount > c.policy.ArchiveRowCount {
			adv.Issues = append(adv.Issues,
				fmt.Sprintf("field %s is already indexed, but %s holds %s rows (threshold %s); archive historical data instead of adding indexes",
					covered[0].Column, strings.ToUpper(table), formatCount(rowCount), formatCount(c.policy.ArchiveRowCount)))
		} else if len(wrapped) == 0 && len(sortGap) == 0 {
			adv.Issues = append(adv.Issues,
				fmt.Sprintf("field %s is already indexed; the query is in its optimal state", covered[0].Column))
		}
	}

	// Trailing sort-supporting index for ORDER BY fields that neither
	// the predicates nor an existing index cover.
	if len(sortGap) > 0 {
		cols := make([]string, 0, len(sortGap))
		names := make([]string, 0, len(sortGap))
		for _, f := range sortGap {
			cols = append(cols, f.Column)
			names = append(names, strings.ToLower(f.Column))
		}
		adv.Statements = append(adv.Statements,
			fmt.Sprintf("CREATE INDEX idx_%s_sort ON %s(%s);", strings.Join(names, "_"), table, strings.Join(cols, ", ")))
		adv.Issues = append(adv.Issues,
			fmt.Sprintf("ORDER BY on %s is not supported by any index and forces a filesort", columnList(sortGap)))
		adv.NewlyIndexed += len(sortGap)
		adv.SortIndexAdded = true
	}

	return adv
}

// prioritize orders composite index columns: primary-key-like names
// first, then time fields, then status and type fields, then common
// business names, then frequency of occurrence in the SQL text; shorter
// names win remaining ties, with a final lexical tie-break so output is
// stable. Truncated at the composite cap.
func (c *Composer) prioritize(fields []model.FieldUsage, sqlText string) []string {
	type weighted struct {
		col    string
		weight int
	}
	sqlLower := strings.ToLower(sqlText)
	seen := map[string]bool{}
	var ws []weighted
	for _, f := range fields {
		col := f.Column
		key := strings.ToLower(col)
		if seen[key] {
			continue
		}
		seen[key] = true
		ws = append(ws, weighted{col: col, weight: fieldWeight(key, sqlLower)})
	}
	sort.SliceStable(ws, func(i, j int) bool {
		if ws[i].weight != ws[j].weight {
			return ws[i].weight > ws[j].weight
		}
		if len(ws[i].col) != len(ws[j].col) {
			return len(ws[i].col) < len(ws[j].col)
		}
		return ws[i].col < ws[j].col
	})
	if len(ws) > c.policy.CompositeCap {
		ws = ws[:c.policy.CompositeCap]
	}
	cols := make([]string, len(ws))
	for i, w := range ws {
		cols[i] = w.col
	}
	return cols
}

func fieldWeight(col, sqlLower string) int {
	w := 0
	switch {
	case col == "id" || col == "pk" || col == "primary_key":
		w += 100
	case strings.HasSuffix(col, "_id"):
		w += 90
	}
	switch {
	case col == "date" || col == "time" || col == "created" || col == "updated" || col == "timestamp":
		w += 80
	case strings.HasSuffix(col, "_date") || strings.HasSuffix(col, "_time") || strings.HasSuffix(col, "_at"):
		w += 70
	}
	switch {
	case col == "status" || col == "state" || col == "type" || col == "category":
		w += 60
	case strings.HasSuffix(col, "_status") || strings.HasSuffix(col, "_type"):
		w += 50
	}
	switch col {
	case "user", "name", "title", "code":
		w += 40
	}
	w += strings.Count(sqlLower, col) * 5
	return w
}

func (c *Composer) compositeDDL(table string, cols []string) string {
	lower := make([]string, len(cols))
	for i, col := range cols {
		lower[i] = strings.ToLower(col)
	}
	return fmt.Sprintf("CREATE INDEX idx_%s_composite ON %s(%s);",
		strings.Join(lower, "_"), table, strings.Join(cols, ", "))
}

// uncoveredOrderBy returns ORDER BY fields that are neither among the
// predicate fields nor covered by an existing index.
func (c *Composer) uncoveredOrderBy(orderBy, plain []model.FieldUsage, verdict model.CoverageVerdict) []model.FieldUsage {
	inPlain := map[string]bool{}
	for _, f := range plain {
		inPlain[strings.ToLower(f.Column)] = true
	}
	coveredCols := map[string]bool{}
	for _, f := range verdict.Covered {
		coveredCols[strings.ToLower(f.Column)] = true
	}
	var out []model.FieldUsage
	for _, f := range orderBy {
		key := strings.ToLower(f.Column)
		if f.WrappedInFunction || inPlain[key] || coveredCols[key] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func rewriteIssue(wrapped []model.FieldUsage, table string) string {
	names := make([]string, 0, len(wrapped))
	for _, f := range wrapped {
		names = append(names, f.String())
	}
	return fmt.Sprintf("predicates %s wrap columns of %s in scalar functions, which disables plain index usage; rewrite the condition (for example a prefix match instead of the function call) before adding indexes",
		strings.Join(names, ", "), table)
}

func splitWrapped(fields []model.FieldUsage) (plain, wrapped []model.FieldUsage) {
	seen := map[string]bool{}
	for _, f := range fields {
		key := strings.ToLower(f.Column)
		if f.WrappedInFunction {
			key = strings.ToLower(f.FunctionName) + "(" + key + ")"
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		if f.WrappedInFunction {
			wrapped = append(wrapped, f)
		} else {
			plain = append(plain, f)
		}
	}
	return plain, wrapped
}

func columnList(fields []model.FieldUsage) string {
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Column)
	}
	return strings.Join(names, ", ")
}

func formatCount(n int64) string {
	s := fmt.Sprintf("%d", n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
