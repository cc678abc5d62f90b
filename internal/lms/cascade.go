package lms

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coursekit/coursekit-lms/internal/audit"
	"github.com/coursekit/coursekit-lms/internal/docstore"
)

// Grader applies a manual grade to one essay submission and cascades the
// result into the owning attempt, the per-(user,quiz) rollup and the user's
// overall quiz average.
type Grader struct {
	store docstore.Store
	audit *audit.Log
	log   *slog.Logger
	now   func() time.Time
}

func NewGrader(store docstore.Store, auditLog *audit.Log, logger *slog.Logger) *Grader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Grader{store: store, audit: auditLog, log: logger, now: time.Now}
}

type GradeEssayInput struct {
	Score    float64
	MaxScore float64
	Feedback string
	Status   string // graded | needs_review
}

// GradeEssay persists the grade and recomputes attempt, rollup and user
// average. Re-grading supersedes the prior grade; every step is a full
// re-derivation, so re-running the cascade is idempotent.
func (g *Grader) GradeEssay(ctx context.Context, essayID string, in GradeEssayInput) error {
	if in.Score < 0 {
		return invalidf("score must be non-negative")
	}
	if in.MaxScore <= 0 {
		return invalidf("maxScore must be positive")
	}
	if in.Status != EssayGraded && in.Status != EssayNeedsReview {
		return invalidf("status must be %q or %q", EssayGraded, EssayNeedsReview)
	}

	subDoc, err := g.store.Get(ctx, EssayPath(essayID))
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := g.store.Update(ctx, EssayPath(essayID), docstore.Fields{
		"score":    in.Score,
		"maxScore": in.MaxScore,
		"feedback": in.Feedback,
		"status":   in.Status,
		"gradedAt": docstore.ServerTimestamp,
	}); err != nil {
		return err
	}

	attemptPath := docString(subDoc.Fields, "attemptRefPath")
	userID := docString(subDoc.Fields, "userId")
	quizID := docString(subDoc.Fields, "quizId")
	if attemptPath == "" || userID == "" || quizID == "" {
		g.log.Warn("essay submission missing back-reference; grade saved without cascade", "essay", essayID)
		return nil
	}

	if err := g.recomputeAttempt(ctx, attemptPath); err != nil {
		return err
	}
	if err := g.resyncRollup(ctx, userID, quizID); err != nil {
		return err
	}
	if err := g.recomputeUserAverage(ctx, userID); err != nil {
		return err
	}

	if aerr := g.audit.Append(ctx, audit.Event{
		Type: audit.EventEssayGraded,
		Key:  essayID,
		Data: docstore.Fields{"userId": userID, "quizId": quizID, "score": in.Score, "maxScore": in.MaxScore, "status": in.Status},
	}); aerr != nil {
		g.log.Warn("audit append failed", "event", audit.EventEssayGraded, "err", aerr)
	}
	return nil
}

// recomputeAttempt sums every graded essay referencing the attempt (not
// just the one that changed) and rewrites the composite score fields.
func (g *Grader) recomputeAttempt(ctx context.Context, attemptPath string) error {
	graded, err := g.store.Query(ctx, docstore.Query{
		Path: CollEssaySubs,
		Filters: []docstore.Filter{
			{Field: "attemptRefPath", Op: docstore.OpEqual, Value: attemptPath},
			{Field: "status", Op: docstore.OpEqual, Value: EssayGraded},
		},
	})
	if err != nil {
		return err
	}

	var gradedScore, gradedTotal float64
	for _, d := range graded {
		if n, ok := ResolveLegacyNumeric(d.Fields, "score"); ok {
			gradedScore += n
		}
		max := DefaultEssayMaxScore
		if n, ok := ResolveLegacyNumeric(d.Fields, "maxScore"); ok {
			max = n
		}
		gradedTotal += max
	}

	attemptDoc, err := g.store.Get(ctx, attemptPath)
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	autoScore, _ := ResolveLegacyNumeric(attemptDoc.Fields, "autoScore", "score")
	autoTotal, _ := ResolveLegacyNumeric(attemptDoc.Fields, "autoTotal", "total")

	return g.store.Update(ctx, attemptPath, docstore.Fields{
		"gradedScore":   gradedScore,
		"gradedTotal":   gradedTotal,
		"gradedPercent": RoundPercent(gradedScore, gradedTotal),
		"percent":       RoundPercent(autoScore+gradedScore, autoTotal+gradedTotal),
	})
}

// resyncRollup is the authoritative resync point: a full transactional
// rescan of the attempt children, identical to the submit path, which heals
// any drift left by the non-transactional limit check.
func (g *Grader) resyncRollup(ctx context.Context, userID, quizID string) error {
	return g.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		attempts, err := readAttemptScores(ctx, tx, userID, quizID)
		if err != nil {
			return err
		}
		prior, err := tx.Get(ctx, RollupPath(userID, quizID))
		if err != nil && !errors.Is(err, docstore.ErrNotFound) {
			return err
		}
		rollup := RecomputeRollup(attempts)
		rollup.QuizID = quizID
		rollup.CourseID = docString(prior.Fields, "courseId")
		rollup.ModuleID = docString(prior.Fields, "moduleId")
		return tx.Set(ctx, RollupPath(userID, quizID), rollup.Fields(), false)
	})
}

// recomputeUserAverage re-derives averageQuizScore as the mean over every
// quiz the user has a rollup for: bestGradedPercent, else bestPercent, else
// lastScore.percent, else the quiz is skipped. A full re-derivation avoids
// compounding rounding error across incremental nudges.
func (g *Grader) recomputeUserAverage(ctx context.Context, userID string) error {
	rollups, err := g.store.Query(ctx, docstore.Query{Path: UserPath(userID) + "/" + SubQuizAttempts})
	if err != nil {
		return err
	}
	var sum float64
	var count int
	for _, d := range rollups {
		if n, ok := ResolveLegacyNumeric(d.Fields, "bestGradedPercent"); ok {
			sum += n
			count++
			continue
		}
		if n, ok := ResolveLegacyNumeric(d.Fields, "bestPercent"); ok {
			sum += n
			count++
			continue
		}
		if n, ok := ResolveLegacyNumeric(d.Fields, "lastScore.percent"); ok {
			sum += n
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return g.store.Set(ctx, UserPath(userID), docstore.Fields{
		"averageQuizScore": sum / float64(count),
	}, true)
}
