package advisor

import (
	"strings"

	"sql-advisor/internal/model"
)

// Evaluate decides whether the existing indexes of one table already
// serve the given predicate fields.
//
// Coverage is membership: a field counts as covered when its name
// appears (case-insensitively) in any index of the table. Composite
// sufficiency uses the same approximation — a field set is satisfied
// only when every field is among the indexed columns. Function-wrapped
// fields can never be covered by a plain index and are flagged
// separately as rewrite-required.
func Evaluate(fields []model.FieldUsage, profile model.TableIndexProfile) model.CoverageVerdict {
	verdict := model.CoverageVerdict{Table: profile.Table}

	var plain []model.FieldUsage
	for _, f := range fields {
		if f.WrappedInFunction {
			verdict.RewriteRequired = append(verdict.RewriteRequired, f)
		} else {
			plain = append(plain, f)
		}
	}

	// Unknown metadata must never be read as "definitely has no index":
	// the verdict is indeterminate and the advisory has to say so.
	if profile.Confidence == model.ConfidenceUnknown {
		verdict.State = model.CoverageIndeterminate
		return verdict
	}

	indexed := profile.IndexedColumns()
	var wherePredicates int
	for _, f := range plain {
		if f.Kind == model.UsageWhere {
			wherePredicates++
		}
		if indexed[strings.ToLower(f.Column)] {
			verdict.Covered = append(verdict.Covered, f)
		} else {
			verdict.Uncovered = append(verdict.Uncovered, f)
		}
	}

	switch {
	case len(plain) == 0:
		verdict.State = model.CoverageNone
	case len(verdict.Uncovered) == 0:
		verdict.State = model.CoverageFull
	case len(verdict.Covered) == 0:
		verdict.State = model.CoverageNone
	default:
		verdict.State = model.CoveragePartial
	}

	// Individually indexed columns do not replace a composite covering
	// index for multi-predicate queries.
	if verdict.State == model.CoverageFull && wherePredicates > 1 {
		verdict.CompositeWanted = true
	}
	return verdict
}
