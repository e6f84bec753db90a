package model

import (
	"errors"
	"fmt"
	"strings"
)

// UsageKind says which clause a field was seen in.
type UsageKind string

const (
	UsageWhere   UsageKind = "where"
	UsageJoin    UsageKind = "join"
	UsageOrderBy UsageKind = "order_by"
	UsageGroupBy UsageKind = "group_by"
)

// FieldUsage is one column reference extracted from a SQL statement.
// Instances are created once per analyzed statement and never mutated,
// so identical inputs always reproduce the same advisory.
type FieldUsage struct {
	TableAlias        string
	ResolvedTable     string
	Column            string
	Kind              UsageKind
	WrappedInFunction bool
	FunctionName      string
}

func (f FieldUsage) String() string {
	if f.WrappedInFunction {
		return fmt.Sprintf("%s(%s)", strings.ToUpper(f.FunctionName), f.Column)
	}
	return f.Column
}

// IndexDescriptor is one index as known from the catalog. Column order
// matters: leftmost-prefix rule.
type IndexDescriptor struct {
	Name    string
	Columns []string
	Unique  bool
	Primary bool
}

// Confidence reflects how trustworthy a profile's index data is.
type Confidence string

const (
	// ConfidenceConfirmed means the indexes were read from a live instance.
	ConfidenceConfirmed Confidence = "confirmed"
	// ConfidenceUnknown means metadata could not be retrieved; an empty
	// index list with unknown confidence must never be read as "no index".
	ConfidenceUnknown Confidence = "unknown"
)

// TableIndexProfile is everything the catalog knows about one table.
type TableIndexProfile struct {
	Database   string
	Table      string
	Indexes    []IndexDescriptor
	Confidence Confidence
}

// IndexedColumns returns the lowercased union of all indexed columns.
func (p TableIndexProfile) IndexedColumns() map[string]bool {
	cols := make(map[string]bool)
	for _, idx := range p.Indexes {
		for _, c := range idx.Columns {
			cols[strings.ToLower(c)] = true
		}
	}
	return cols
}

// CoverageState classifies how well existing indexes serve a query.
type CoverageState string

const (
	CoverageFull          CoverageState = "fully_covered"
	CoveragePartial       CoverageState = "partially_covered"
	CoverageNone          CoverageState = "not_covered"
	CoverageIndeterminate CoverageState = "indeterminate"
)

// CoverageVerdict is the evaluator's output for one table.
type CoverageVerdict struct {
	Table     string
	State     CoverageState
	Covered   []FieldUsage
	Uncovered []FieldUsage
	// RewriteRequired holds function-wrapped fields that no plain index
	// can serve regardless of catalog state.
	RewriteRequired []FieldUsage
	// CompositeWanted is set when every predicate field is individually
	// indexed but the query filters on more than one of them.
	CompositeWanted bool
}

// Improvement is a bounded expected-improvement range in percent.
type Improvement struct {
	MinPct int `json:"min_pct"`
	MaxPct int `json:"max_pct"`
}

// Latency is the projected before/after execution time.
type Latency struct {
	BeforeMs float64 `json:"before_ms"`
	AfterMs  float64 `json:"after_ms"`
}

// Advisory is the final per-statement result. It is always well formed;
// low confidence is expressed in the diagnosis text, never as an error.
type Advisory struct {
	SQL         string      `json:"sql"`
	Table       string      `json:"table,omitempty"`
	Diagnosis   string      `json:"diagnosis"`
	Statements  []string    `json:"statements,omitempty"`
	Improvement Improvement `json:"improvement"`
	Latency     Latency     `json:"latency"`
}

// SlowQuery is the consumed slow-query record.
type SlowQuery struct {
	SQL          string  `json:"sql"`
	ExecuteCount int64   `json:"execute_count"`
	QueryTimeMs  float64 `json:"query_time"`
	Host         string  `json:"host"`
	DBHint       string  `json:"db_name_hint"`
}

// Policy collects the tunable heuristics. The AND/OR truncation cap and
// the priority column mirror observed production tuning and are not
// assumed to generalize, hence configuration rather than constants.
type Policy struct {
	CompositeCap     int     `yaml:"composite_cap"`
	PriorityColumn   string  `yaml:"priority_column"`
	ArchiveRowCount  int64   `yaml:"archive_row_count"`
	HotQueryCount    int64   `yaml:"hot_query_count"`
	DefaultLatencyMs float64 `yaml:"default_latency_ms"`
}

// DefaultPolicy returns the observed production defaults.
func DefaultPolicy() Policy {
	return Policy{
		CompositeCap:     5,
		PriorityColumn:   "f",
		ArchiveRowCount:  4000000,
		HotQueryCount:    1000,
		DefaultLatencyMs: 20,
	}
}

// Sentinel errors for the catalog. The advisor maps these to diagnosis
// text; they never escape a batch run.
var (
	// ErrMetadataUnavailable: connection or permission failure. The
	// verdict becomes indeterminate.
	ErrMetadataUnavailable = errors.New("index metadata unavailable")
	// ErrTableNotFound: table absent across all candidate databases.
	ErrTableNotFound = errors.New("table not found in any candidate database")
	// ErrConnectionBusy: a second connection was requested while one is
	// active. Fails fast, never queues.
	ErrConnectionBusy = errors.New("an active database connection already exists")
)
