package lms

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/coursekit/coursekit-lms/internal/audit"
	"github.com/coursekit/coursekit-lms/internal/docstore"
)

// Recorder records quiz submissions: attempt-limit enforcement, the
// immutable attempt write, pending essay submissions, and the transactional
// rollup recompute with the module-completion ratchet.
type Recorder struct {
	store docstore.Store
	audit *audit.Log
	log   *slog.Logger
	now   func() time.Time
}

func NewRecorder(store docstore.Store, auditLog *audit.Log, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, audit: auditLog, log: logger, now: time.Now}
}

type EssayAnswer struct {
	QuestionIndex int
	QuestionText  string
	Answer        string
}

type SubmitAttemptInput struct {
	UserID           string
	QuizID           string
	AutoScore        float64
	AutoTotal        float64
	TimeTakenSeconds int
	Reason           string
	EssayAnswers     []EssayAnswer
}

type SubmitAttemptResult struct {
	AttemptID       string
	AutoPercent     float64
	AttemptsUsed    int
	AttemptsAllowed *int // nil = unlimited
	AttemptsLeft    int  // -1 = unlimited
	ModuleCompleted bool
}

// SubmitAttempt validates the submission, enforces the attempt limit and
// writes the attempt, its essay submissions and the recomputed rollup.
//
// The limit check deliberately runs outside the rollup transaction:
// concurrent submissions from the same user can race past the limit. The
// next cascade recompute re-converges the counters, and the rollup write
// itself is a full transactional rescan, so the race is accepted rather
// than paid for with a transaction on every submit.
func (r *Recorder) SubmitAttempt(ctx context.Context, in SubmitAttemptInput) (*SubmitAttemptResult, error) {
	if in.UserID == "" || in.QuizID == "" {
		return nil, invalidf("userId and quizId are required")
	}
	if in.AutoScore < 0 || in.AutoTotal < 0 {
		return nil, invalidf("autoScore and autoTotal must be non-negative")
	}
	// autoScore > autoTotal is allowed: callers have historically sent
	// bonus-point totals and the stored percent math tolerates it.

	quizDoc, err := r.store.Get(ctx, QuizPath(in.QuizID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	quiz := QuizFromDoc(quizDoc)

	existing, err := r.store.Query(ctx, docstore.Query{Path: AttemptsCollection(in.UserID, in.QuizID)})
	if err != nil {
		return nil, err
	}
	used := len(existing)
	if quiz.AttemptsAllowed != nil && used >= *quiz.AttemptsAllowed {
		return nil, &AttemptLimitError{AttemptsUsed: used, AttemptsAllowed: *quiz.AttemptsAllowed}
	}

	autoPercent := RoundPercent(in.AutoScore, in.AutoTotal)
	attemptID := uuid.NewString()
	attemptPath := AttemptsCollection(in.UserID, in.QuizID) + "/" + attemptID
	if err := r.store.Set(ctx, attemptPath, docstore.Fields{
		"autoScore":        in.AutoScore,
		"autoTotal":        in.AutoTotal,
		"autoPercent":      autoPercent,
		"gradedScore":      0.0,
		"gradedTotal":      0.0,
		"gradedPercent":    0.0,
		"percent":          autoPercent,
		"submittedAt":      docstore.ServerTimestamp,
		"timeTakenSeconds": in.TimeTakenSeconds,
		"reason":           in.Reason,
	}, false); err != nil {
		return nil, err
	}

	for _, ans := range in.EssayAnswers {
		essayID := uuid.NewString()
		if err := r.store.Set(ctx, EssayPath(essayID), docstore.Fields{
			"userId":         in.UserID,
			"quizId":         in.QuizID,
			"attemptRefPath": attemptPath,
			"questionIndex":  ans.QuestionIndex,
			"questionText":   ans.QuestionText,
			"answer":         ans.Answer,
			"status":         EssayPending,
			"score":          nil,
			"maxScore":       DefaultEssayMaxScore,
			"feedback":       "",
			"createdAt":      docstore.ServerTimestamp,
		}, false); err != nil {
			return nil, err
		}
	}

	passed := quiz.ModuleID != "" && autoPercent >= quiz.PassingPercent
	err = r.store.RunTransaction(ctx, func(tx docstore.Tx) error {
		attempts, err := readAttemptScores(ctx, tx, in.UserID, in.QuizID)
		if err != nil {
			return err
		}
		rollup := RecomputeRollup(attempts)
		rollup.QuizID = in.QuizID
		rollup.CourseID = quiz.CourseID
		rollup.ModuleID = quiz.ModuleID
		if err := tx.Set(ctx, RollupPath(in.UserID, in.QuizID), rollup.Fields(), false); err != nil {
			return err
		}
		if passed {
			// One-way ratchet: re-passing refreshes percent/completedAt,
			// nothing ever un-marks completion.
			return tx.Set(ctx, CompletedModulePath(in.UserID, quiz.ModuleID), docstore.Fields{
				"moduleId":    quiz.ModuleID,
				"courseId":    quiz.CourseID,
				"quizId":      in.QuizID,
				"percent":     autoPercent,
				"completedAt": docstore.ServerTimestamp,
			}, true)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if aerr := r.audit.Append(ctx, audit.Event{
		Type: audit.EventAttemptSubmitted,
		Key:  attemptID,
		Data: docstore.Fields{"userId": in.UserID, "quizId": in.QuizID, "percent": autoPercent},
	}); aerr != nil {
		r.log.Warn("audit append failed", "event", audit.EventAttemptSubmitted, "err", aerr)
	}
	if passed {
		if aerr := r.audit.Append(ctx, audit.Event{
			Type: audit.EventModuleCompleted,
			Key:  quiz.ModuleID,
			Data: docstore.Fields{"userId": in.UserID, "quizId": in.QuizID, "percent": autoPercent},
		}); aerr != nil {
			r.log.Warn("audit append failed", "event", audit.EventModuleCompleted, "err", aerr)
		}
	}

	res := &SubmitAttemptResult{
		AttemptID:       attemptID,
		AutoPercent:     autoPercent,
		AttemptsUsed:    used + 1,
		AttemptsAllowed: quiz.AttemptsAllowed,
		AttemptsLeft:    -1,
		ModuleCompleted: passed,
	}
	if quiz.AttemptsAllowed != nil {
		left := *quiz.AttemptsAllowed - res.AttemptsUsed
		if left < 0 {
			left = 0
		}
		res.AttemptsLeft = left
	}
	return res, nil
}
