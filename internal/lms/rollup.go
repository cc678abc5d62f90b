package lms

import (
	"context"
	"time"

	"github.com/coursekit/coursekit-lms/internal/docstore"
)

// Rollup is the derived per-(user,quiz) summary. It is recomputed from the
// full attempt set on every change, never patched incrementally, so the
// submit path and the grading cascade cannot drift apart.
type Rollup struct {
	QuizID            string
	CourseID          string
	ModuleID          string
	AttemptsUsed      int
	BestPercent       float64
	BestGradedPercent *float64 // nil until any attempt has a graded component
	LastScore         LastScore
	LastSubmittedAt   time.Time
}

type LastScore struct {
	Score   float64
	Total   float64
	Percent float64
}

// RecomputeRollup reduces an attempt set to rollup fields. Pure; safe to
// re-run inside a retried transaction. Max comparisons are strictly-greater
// so iteration order cannot change the result on ties.
func RecomputeRollup(attempts []AttemptScore) Rollup {
	r := Rollup{AttemptsUsed: len(attempts)}
	for _, a := range attempts {
		if a.Percent > r.BestPercent {
			r.BestPercent = a.Percent
		}
		if a.GradedTotal > 0 {
			if r.BestGradedPercent == nil || a.Percent > *r.BestGradedPercent {
				p := a.Percent
				r.BestGradedPercent = &p
			}
		}
		if a.SubmittedAt.After(r.LastSubmittedAt) {
			r.LastSubmittedAt = a.SubmittedAt
			r.LastScore = LastScore{
				Score:   a.AutoScore + a.GradedScore,
				Total:   a.AutoTotal + a.GradedTotal,
				Percent: a.Percent,
			}
		}
	}
	return r
}

// Fields renders the rollup as document fields.
func (r Rollup) Fields() docstore.Fields {
	f := docstore.Fields{
		"quizId":       r.QuizID,
		"courseId":     r.CourseID,
		"moduleId":     r.ModuleID,
		"attemptsUsed": r.AttemptsUsed,
		"bestPercent":  r.BestPercent,
		"lastScore": map[string]any{
			"score":   r.LastScore.Score,
			"total":   r.LastScore.Total,
			"percent": r.LastScore.Percent,
		},
	}
	if r.BestGradedPercent != nil {
		f["bestGradedPercent"] = *r.BestGradedPercent
	}
	if !r.LastSubmittedAt.IsZero() {
		f["lastSubmittedAt"] = r.LastSubmittedAt
	}
	return f
}

// readAttemptScores loads and converts every attempt child of a rollup.
func readAttemptScores(ctx context.Context, r docstore.Reader, userID, quizID string) ([]AttemptScore, error) {
	docs, err := r.Query(ctx, docstore.Query{Path: AttemptsCollection(userID, quizID)})
	if err != nil {
		return nil, err
	}
	out := make([]AttemptScore, 0, len(docs))
	for _, d := range docs {
		out = append(out, AttemptScoreFromDoc(d))
	}
	return out, nil
}
