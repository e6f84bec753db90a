package advisor

import (
	"context"
	"strings"
	"testing"

	"sql-advisor/internal/extractor"
	"sql-advisor/internal/model"
)

// stubCatalog serves canned profiles per table. Tables without an
// entry behave as not found anywhere.
type stubCatalog struct {
	profiles map[string]model.TableIndexProfile
	errs     map[string]error
	rows     map[string]int64
}

func (s *stubCatalog) Profile(ctx context.Context, table, databaseHint, hostHint string) (model.TableIndexProfile, error) {
	if err, ok := s.errs[table]; ok {
		p := model.TableIndexProfile{Table: table, Confidence: model.ConfidenceUnknown}
		if prof, found := s.profiles[table]; found {
			p = prof
		}
		return p, err
	}
	if p, ok := s.profiles[table]; ok {
		return p, nil
	}
	return model.TableIndexProfile{Table: table, Confidence: model.ConfidenceUnknown}, model.ErrTableNotFound
}

func (s *stubCatalog) RowCount(ctx context.Context, database, table, hostHint string) int64 {
	if n, ok := s.rows[table]; ok {
		return n
	}
	return -1
}

func newTestAdvisor(cat model.Catalog) *Advisor {
	policy := model.DefaultPolicy()
	return New(extractor.New(policy), cat, policy, nil)
}

func TestAnalyze_CompositeRecommendation(t *testing.T) {
	cat := &stubCatalog{profiles: map[string]model.TableIndexProfile{
		"orders": {
			Database:   "shop",
			Table:      "orders",
			Indexes:    []model.IndexDescriptor{{Name: "PRIMARY", Columns: []string{"id"}, Primary: true, Unique: true}},
			Confidence: model.ConfidenceConfirmed,
		},
	}}
	a := newTestAdvisor(cat)

	adv := a.Analyze(context.Background(),
		model.SlowQuery{SQL: "SELECT * FROM orders WHERE user_id = 123 AND status = 1 ORDER BY created_at DESC", QueryTimeMs: 340})

	want := "CREATE INDEX idx_user_id_created_at_status_composite ON orders(user_id, created_at, status);"
	if len(adv.Statements) != 1 || adv.Statements[0] != want {
		t.Errorf("Statements = %v, want [%s]", adv.Statements, want)
	}
	if adv.Improvement.MinPct < 50 || adv.Improvement.MaxPct > 95 {
		t.Errorf("Improvement out of bounds: %+v", adv.Improvement)
	}
	if adv.Latency.BeforeMs != 340 || adv.Latency.AfterMs >= 340 {
		t.Errorf("Latency = %+v", adv.Latency)
	}
}

func TestAnalyze_FunctionRewriteFirst(t *testing.T) {
	cat := &stubCatalog{profiles: map[string]model.TableIndexProfile{
		"users": {
			Database:   "shop",
			Table:      "users",
			Indexes:    []model.IndexDescriptor{{Name: "idx_name", Columns: []string{"name"}}},
			Confidence: model.ConfidenceConfirmed,
		},
	}}
	a := newTestAdvisor(cat)

	adv := a.Analyze(context.Background(),
		model.SlowQuery{SQL: "SELECT * FROM users WHERE LOWER(name) = 'abc'"})

	if !strings.Contains(adv.Diagnosis, "rewrite") || !strings.Contains(adv.Diagnosis, "LOWER(name)") {
		t.Errorf("Diagnosis = %q, want rewrite advice naming LOWER(name)", adv.Diagnosis)
	}
	if len(adv.Statements) != 0 {
		t.Errorf("function-wrapped predicate must not yield DDL, got %v", adv.Statements)
	}
	// Rewrites from full scans dominate the estimate.
	if adv.Improvement.MinPct < 75 {
		t.Errorf("Improvement = %+v, want rewrite-dominant range", adv.Improvement)
	}
}

func TestAnalyze_ArchivalOverIndexing(t *testing.T) {
	cat := &stubCatalog{
		profiles: map[string]model.TableIndexProfile{
			"order_history": {
				Database:   "shop",
				Table:      "order_history",
				Indexes:    []model.IndexDescriptor{{Name: "idx_order_id", Columns: []string{"order_id"}}},
				Confidence: model.ConfidenceConfirmed,
			},
		},
		rows: map[string]int64{"order_history": 5_000_000},
	}
	a := newTestAdvisor(cat)

	adv := a.Analyze(context.Background(),
		model.SlowQuery{SQL: "SELECT * FROM order_history WHERE order_id = 42"})

	if !strings.Contains(adv.Diagnosis, "archive historical data") {
		t.Errorf("Diagnosis = %q, want archival advice", adv.Diagnosis)
	}
	if strings.Contains(adv.Diagnosis, "optimal") {
		t.Errorf("oversized table must not be reported optimal: %q", adv.Diagnosis)
	}
	if len(adv.Statements) != 0 {
		t.Errorf("Statements = %v, want none", adv.Statements)
	}
}

func TestAnalyze_MissingFilter(t *testing.T) {
	cat := &stubCatalog{profiles: map[string]model.TableIndexProfile{
		"audit_log": {Database: "shop", Table: "audit_log", Confidence: model.ConfidenceConfirmed},
	}}
	a := newTestAdvisor(cat)

	adv := a.Analyze(context.Background(), model.SlowQuery{SQL: "SELECT * FROM audit_log"})

	if !strings.Contains(adv.Diagnosis, "full table scan") {
		t.Errorf("Diagnosis = %q, want full-scan warning", adv.Diagnosis)
	}
	if len(adv.Statements) != 0 {
		t.Errorf("Statements = %v, want none", adv.Statements)
	}
}

func TestAnalyze_UnreachableMetadata(t *testing.T) {
	cat := &stubCatalog{errs: map[string]error{"orders": model.ErrMetadataUnavailable}}
	a := newTestAdvisor(cat)

	adv := a.Analyze(context.Background(),
		model.SlowQuery{SQL: "SELECT * FROM orders WHERE user_id = 1"})

	if !strings.Contains(adv.Diagnosis, "manual index verification required") {
		t.Errorf("Diagnosis = %q, want explicit uncertainty", adv.Diagnosis)
	}
	if strings.Contains(adv.Diagnosis, "optimal") || strings.Contains(adv.Diagnosis, "has no index") {
		t.Errorf("uncertainty must not be presented as a definite verdict: %q", adv.Diagnosis)
	}
	if len(adv.Statements) != 0 {
		t.Errorf("Statements = %v, want none under unknown metadata", adv.Statements)
	}
}

func TestAnalyze_SnapshotHintSurfaces(t *testing.T) {
	cat := &stubCatalog{
		profiles: map[string]model.TableIndexProfile{
			"orders": {
				Table:      "orders",
				Indexes:    []model.IndexDescriptor{{Name: "idx_user_id", Columns: []string{"user_id"}}},
				Confidence: model.ConfidenceUnknown,
			},
		},
		errs: map[string]error{"orders": model.ErrMetadataUnavailable},
	}
	a := newTestAdvisor(cat)

	adv := a.Analyze(context.Background(),
		model.SlowQuery{SQL: "SELECT * FROM orders WHERE user_id = 1"})

	if !strings.Contains(adv.Diagnosis, "snapshot") || !strings.Contains(adv.Diagnosis, "user_id") {
		t.Errorf("Diagnosis = %q, want the snapshot-known columns surfaced", adv.Diagnosis)
	}
	if !strings.Contains(adv.Diagnosis, "manual index verification required") {
		t.Errorf("Diagnosis = %q, snapshot data must stay marked unverified", adv.Diagnosis)
	}
}

func TestAnalyze_TableNotFound(t *testing.T) {
	cat := &stubCatalog{}
	a := newTestAdvisor(cat)

	adv := a.Analyze(context.Background(),
		model.SlowQuery{SQL: "SELECT * FROM ghost WHERE id = 1"})

	if !strings.Contains(adv.Diagnosis, "not found in any candidate database") {
		t.Errorf("Diagnosis = %q", adv.Diagnosis)
	}
	if len(adv.Statements) != 0 {
		t.Errorf("Statements = %v, want none", adv.Statements)
	}
}

func TestAnalyze_NoTargetTable(t *testing.T) {
	a := newTestAdvisor(&stubCatalog{})
	adv := a.Analyze(context.Background(), model.SlowQuery{SQL: "SELECT 1"})
	if !strings.Contains(adv.Diagnosis, "no target table") {
		t.Errorf("Diagnosis = %q", adv.Diagnosis)
	}
}

func TestAnalyze_JoinTablesGetScopedAdvice(t *testing.T) {
	cat := &stubCatalog{profiles: map[string]model.TableIndexProfile{
		"orders": {
			Database:   "shop",
			Table:      "orders",
			Indexes:    []model.IndexDescriptor{{Name: "idx_user_id", Columns: []string{"user_id"}}},
			Confidence: model.ConfidenceConfirmed,
		},
		"users": {
			Database:   "shop",
			Table:      "users",
			Indexes:    []model.IndexDescriptor{{Name: "PRIMARY", Columns: []string{"id"}, Primary: true, Unique: true}},
			Confidence: model.ConfidenceConfirmed,
		},
	}}
	a := newTestAdvisor(cat)

	adv := a.Analyze(context.Background(),
		model.SlowQuery{SQL: "SELECT o.id FROM orders o JOIN users u ON o.user_id = u.id WHERE u.status = 1"})

	found := false
	for _, stmt := range adv.Statements {
		if strings.Contains(stmt, "ON users(") && strings.Contains(stmt, "status") {
			found = true
		}
	}
	if !found {
		t.Errorf("Statements = %v, want an index on users covering status", adv.Statements)
	}
	for _, stmt := range adv.Statements {
		if strings.Contains(stmt, "ON orders(") {
			t.Errorf("orders is already served by its index, got %v", adv.Statements)
		}
	}
}

// panicExtractor blows up on a marker statement to exercise batch
// isolation.
type panicExtractor struct {
	inner model.Extractor
}

func (p panicExtractor) Extract(sql string) model.FieldSet {
	if sql == "BOOM" {
		panic("extractor failure")
	}
	return p.inner.Extract(sql)
}

func TestAnalyzeBatch_IsolatesFailures(t *testing.T) {
	policy := model.DefaultPolicy()
	cat := &stubCatalog{profiles: map[string]model.TableIndexProfile{
		"orders": {Database: "shop", Table: "orders", Confidence: model.ConfidenceConfirmed},
	}}
	a := New(panicExtractor{inner: extractor.New(policy)}, cat, policy, nil)

	queries := []model.SlowQuery{
		{SQL: "SELECT * FROM orders WHERE user_id = 1"},
		{SQL: "BOOM"},
		{SQL: "SELECT * FROM orders WHERE status = 2"},
	}
	out := a.AnalyzeBatch(context.Background(), queries)

	if len(out) != len(queries) {
		t.Fatalf("got %d advisories for %d statements", len(out), len(queries))
	}
	if !strings.Contains(out[1].Diagnosis, "manual review required") {
		t.Errorf("failed statement diagnosis = %q", out[1].Diagnosis)
	}
	for _, i := range []int{0, 2} {
		if out[i].Diagnosis == "" || strings.Contains(out[i].Diagnosis, "manual review required") {
			t.Errorf("statement %d was not analyzed independently: %q", i, out[i].Diagnosis)
		}
	}
}
