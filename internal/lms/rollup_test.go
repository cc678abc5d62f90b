package lms_test

import (
	"testing"
	"time"

	"github.com/coursekit/coursekit-lms/internal/lms"
)

func TestRoundPercent(t *testing.T) {
	cases := []struct {
		score, total, want float64
	}{
		{5, 10, 50},
		{7, 10, 70},
		{8, 10, 80},
		{1, 3, 33},
		{2, 3, 67},
		{0, 0, 0},
		{3, 0, 0},
		{12, 10, 120}, // bonus points push past 100; rounding only, no clamp
	}
	for _, c := range cases {
		if got := lms.RoundPercent(c.score, c.total); got != c.want {
			t.Errorf("RoundPercent(%v, %v) = %v, want %v", c.score, c.total, got, c.want)
		}
	}
}

func TestClampPercent(t *testing.T) {
	if lms.ClampPercent(-5) != 0 || lms.ClampPercent(120) != 100 || lms.ClampPercent(42) != 42 {
		t.Fatal("clamp bounds wrong")
	}
}

func attempt(percent float64, submittedAt time.Time) lms.AttemptScore {
	return lms.AttemptScore{
		AutoScore: percent / 10, AutoTotal: 10,
		AutoPercent: percent, Percent: percent,
		SubmittedAt: submittedAt,
	}
}

func TestRecomputeRollup_Empty(t *testing.T) {
	r := lms.RecomputeRollup(nil)
	if r.AttemptsUsed != 0 || r.BestPercent != 0 || r.BestGradedPercent != nil {
		t.Fatalf("empty rollup not zero: %+v", r)
	}
}

func TestRecomputeRollup_BestAndLast(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	attempts := []lms.AttemptScore{
		attempt(50, base),
		attempt(80, base.Add(time.Hour)),
		attempt(70, base.Add(2*time.Hour)),
	}
	r := lms.RecomputeRollup(attempts)
	if r.AttemptsUsed != 3 {
		t.Fatalf("attemptsUsed = %d", r.AttemptsUsed)
	}
	if r.BestPercent != 80 {
		t.Fatalf("bestPercent = %v", r.BestPercent)
	}
	// last score follows latest submittedAt, not the best
	if r.LastScore.Percent != 70 {
		t.Fatalf("lastScore.percent = %v", r.LastScore.Percent)
	}
	if !r.LastSubmittedAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("lastSubmittedAt = %v", r.LastSubmittedAt)
	}
}

func TestRecomputeRollup_Idempotent(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	attempts := []lms.AttemptScore{
		attempt(33, base),
		attempt(91, base.Add(time.Minute)),
		attempt(91, base.Add(2*time.Minute)),
		attempt(12, base.Add(3*time.Minute)),
	}
	a := lms.RecomputeRollup(attempts)
	b := lms.RecomputeRollup(attempts)
	if a.BestPercent != b.BestPercent || a.AttemptsUsed != b.AttemptsUsed ||
		a.LastScore != b.LastScore || !a.LastSubmittedAt.Equal(b.LastSubmittedAt) {
		t.Fatalf("recompute not idempotent: %+v vs %+v", a, b)
	}
}

func TestRecomputeRollup_GradedComponent(t *testing.T) {
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	graded := lms.AttemptScore{
		AutoScore: 8, AutoTotal: 10, AutoPercent: 80,
		GradedScore: 16, GradedTotal: 20, GradedPercent: 80,
		Percent: 80, SubmittedAt: base,
	}
	ungraded := attempt(90, base.Add(time.Hour))
	r := lms.RecomputeRollup([]lms.AttemptScore{graded, ungraded})
	if r.BestPercent != 90 {
		t.Fatalf("bestPercent = %v", r.BestPercent)
	}
	if r.BestGradedPercent == nil || *r.BestGradedPercent != 80 {
		t.Fatalf("bestGradedPercent = %v", r.BestGradedPercent)
	}
}

func TestCompositePercent_Precedence(t *testing.T) {
	// explicit percent wins
	f := map[string]any{"percent": 75.0, "gradedPercent": 60.0, "autoPercent": 50.0}
	if got := lms.CompositePercent(f); got != 75 {
		t.Fatalf("percent precedence: %v", got)
	}
	// graded percent only counts when positive
	f = map[string]any{"gradedPercent": 0.0, "autoPercent": 50.0}
	if got := lms.CompositePercent(f); got != 50 {
		t.Fatalf("zero gradedPercent should fall through: %v", got)
	}
	f = map[string]any{"gradedPercent": 66.0, "autoPercent": 50.0}
	if got := lms.CompositePercent(f); got != 66 {
		t.Fatalf("gradedPercent: %v", got)
	}
	if got := lms.CompositePercent(map[string]any{}); got != 0 {
		t.Fatalf("empty doc: %v", got)
	}
}

func TestResolveLegacyNumeric(t *testing.T) {
	f := map[string]any{"maxAttempts": 3}
	if n, ok := lms.ResolveLegacyNumeric(f, "attemptsAllowed", "maxAttempts"); !ok || n != 3 {
		t.Fatalf("legacy fallback: %v %v", n, ok)
	}
	f = map[string]any{"attemptsAllowed": 2, "maxAttempts": 9}
	if n, _ := lms.ResolveLegacyNumeric(f, "attemptsAllowed", "maxAttempts"); n != 2 {
		t.Fatalf("primary name should win: %v", n)
	}
	if _, ok := lms.ResolveLegacyNumeric(map[string]any{}, "a", "b"); ok {
		t.Fatal("expected miss")
	}
}
