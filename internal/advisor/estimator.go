package advisor

import "sql-advisor/internal/model"

// Shape summarizes the recommendation for impact estimation.
type Shape struct {
	NewlyIndexed    int
	JoinInvolved    bool
	OrderByInvolved bool
	// RewriteDominant: the function rewrite is the main fix. Rewrites
	// from full scans yield larger gains than pure indexing.
	RewriteDominant bool
}

// Estimator derives a bounded expected-improvement range and a
// projected latency from the recommendation shape and the observed
// execution statistics.
type Estimator struct {
	policy model.Policy
}

func NewEstimator(policy model.Policy) *Estimator {
	if policy.DefaultLatencyMs <= 0 {
		policy = model.DefaultPolicy()
	}
	return &Estimator{policy: policy}
}

func (e *Estimator) Estimate(shape Shape, q model.SlowQuery) (model.Improvement, model.Latency) {
	base := 60
	switch {
	case shape.NewlyIndexed >= 3:
		base += 25
	case shape.NewlyIndexed == 1:
		base -= 10
	}
	if shape.JoinInvolved {
		base += 15
	}
	if shape.OrderByInvolved {
		base += 10
	}
	if shape.RewriteDominant {
		base += 35
	}
	if q.ExecuteCount > e.policy.HotQueryCount {
		base += 10
	}

	imp := model.Improvement{MinPct: base - 20, MaxPct: base + 25}
	if imp.MinPct < 50 {
		imp.MinPct = 50
	}
	if imp.MaxPct > 95 {
		imp.MaxPct = 95
	}
	if imp.MinPct > imp.MaxPct {
		imp.MinPct = imp.MaxPct
	}

	before := q.QueryTimeMs
	if before <= 0 {
		before = e.policy.DefaultLatencyMs
	}
	avg := float64(imp.MinPct+imp.MaxPct) / 2
	after := before * (1 - avg/100)
	if after < 1 {
		after = 1
	}
	return imp, model.Latency{BeforeMs: before, AfterMs: after}
}
