// Package advisor is the index advisory engine: it turns a slow-query
// record plus (possibly incomplete) index metadata into a structured
// recommendation.
package advisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"sql-advisor/internal/model"
)

// Advisor runs the per-statement pipeline: extract → catalog lookup →
// evaluate → compose → estimate. Every entity it creates lives for one
// statement only, so identical inputs reproduce identical advisories.
type Advisor struct {
	extractor model.Extractor
	catalog   model.Catalog
	composer  *Composer
	estimator *Estimator
	log       *zap.Logger
}

func New(extractor model.Extractor, catalog model.Catalog, policy model.Policy, log *zap.Logger) *Advisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Advisor{
		extractor: extractor,
		catalog:   catalog,
		composer:  NewComposer(policy),
		estimator: NewEstimator(policy),
		log:       log,
	}
}

// AnalyzeBatch processes statements one at a time. A failure analyzing
// one statement never aborts the batch: the statement gets a degraded
// advisory and processing continues.
func (a *Advisor) AnalyzeBatch(ctx context.Context, queries []model.SlowQuery) []model.Advisory {
	out := make([]model.Advisory, 0, len(queries))
	for _, q := range queries {
		out = append(out, a.Analyze(ctx, q))
	}
	return out
}

// Analyze produces one well-formed Advisory. It never returns an
// error: extraction ambiguity degrades to a missing-filter diagnosis,
// metadata failures degrade to an explicit-uncertainty diagnosis, and
// anything unexpected is contained per statement.
func (a *Advisor) Analyze(ctx context.Context, q model.SlowQuery) (adv model.Advisory) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("analysis aborted for statement", zap.Any("cause", r), zap.String("sql", q.SQL))
			adv = model.Advisory{
				SQL:       q.SQL,
				Diagnosis: "statement could not be analyzed; manual review required",
			}
			adv.Improvement, adv.Latency = a.estimator.Estimate(Shape{}, q)
		}
	}()

	fs := a.extractor.Extract(q.SQL)
	adv = model.Advisory{SQL: q.SQL, Table: fs.Table}

	if fs.Table == "" {
		adv.Diagnosis = "no target table could be identified in the statement; manual review required"
		adv.Improvement, adv.Latency = a.estimator.Estimate(Shape{}, q)
		return adv
	}

	var issues []string
	var statements []string
	shape := Shape{
		JoinInvolved:    len(fs.Join) > 0,
		OrderByInvolved: len(fs.OrderBy) > 0,
	}

	tables := groupByTable(fs)
	for _, tf := range tables {
		primary := tf.table == fs.Table
		profile, err := a.catalog.Profile(ctx, tf.table, q.DBHint, q.Host)
		if err != nil && errors.Is(err, model.ErrTableNotFound) {
			issues = append(issues, fmt.Sprintf("table %s was not found in any candidate database; no recommendation attempted", tf.table))
			continue
		}
		if err != nil {
			a.log.Warn("metadata lookup degraded", zap.String("table", tf.table), zap.Error(err))
			if hinted := snapshotHint(profile); hinted != "" {
				issues = append(issues, hinted)
			}
		}

		verdict := Evaluate(tf.fields, profile)
		rowCount := int64(-1)
		if verdict.State == model.CoverageFull {
			rowCount = a.catalog.RowCount(ctx, profile.Database, tf.table, q.Host)
		}
		var orderBy []model.FieldUsage
		if primary {
			orderBy = fs.OrderBy
		}
		ta := a.composer.Compose(verdict, tf.fields, orderBy, tf.table, rowCount, q.SQL)
		issues = append(issues, ta.Issues...)
		statements = append(statements, ta.Statements...)
		shape.NewlyIndexed += ta.NewlyIndexed
		shape.RewriteDominant = shape.RewriteDominant || ta.RewriteDominant
		shape.OrderByInvolved = shape.OrderByInvolved || ta.SortIndexAdded
	}

	if len(issues) == 0 {
		issues = append(issues, "no actionable finding; the statement may still benefit from EXPLAIN review")
	}
	adv.Diagnosis = strings.Join(issues, "; ")
	adv.Statements = statements
	adv.Improvement, adv.Latency = a.estimator.Estimate(shape, q)
	return adv
}

// tableFields holds the predicate fields scoped to one table.
type tableFields struct {
	table  string
	fields []model.FieldUsage
}

// groupByTable scopes WHERE and JOIN fields per resolved table, primary
// table first and the remaining JOIN-side tables in deterministic
// order. Fields with no resolvable table attach to the primary.
func groupByTable(fs model.FieldSet) []tableFields {
	byTable := map[string][]model.FieldUsage{}
	add := func(f model.FieldUsage) {
		t := f.ResolvedTable
		if t == "" {
			t = fs.Table
		}
		byTable[t] = append(byTable[t], f)
	}
	for _, f := range fs.Where {
		add(f)
	}
	for _, f := range fs.Join {
		add(f)
	}
	if _, ok := byTable[fs.Table]; !ok {
		byTable[fs.Table] = nil
	}

	var rest []string
	for t := range byTable {
		if t != fs.Table {
			rest = append(rest, t)
		}
	}
	sort.Strings(rest)

	out := []tableFields{{table: fs.Table, fields: byTable[fs.Table]}}
	for _, t := range rest {
		out = append(out, tableFields{table: t, fields: byTable[t]})
	}
	return out
}

// snapshotHint names columns the structural snapshot knows to be
// indexed, so the uncertainty diagnosis gives the operator something
// concrete to verify.
func snapshotHint(profile model.TableIndexProfile) string {
	if len(profile.Indexes) == 0 || profile.Confidence != model.ConfidenceUnknown {
		return ""
	}
	cols := profile.IndexedColumns()
	names := make([]string, 0, len(cols))
	for c := range cols {
		names = append(names, c)
	}
	sort.Strings(names)
	return fmt.Sprintf("a captured snapshot of %s lists indexed columns %s, but the live state is unverified", profile.Table, strings.Join(names, ", "))
}
