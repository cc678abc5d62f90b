package analytics

import (
	"context"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/lms"
)

// BuildQuizAnalytics fans out over the teacher's classes, courses, quizzes
// and each student's attempt history, reducing to chart series and progress
// rows. Best-of-N per quiz; on-time is counted per quiz, not per attempt.
func (a *Aggregator) BuildQuizAnalytics(ctx context.Context, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	fo, err := a.loadFanout(ctx, opts, lms.CollQuizzes)
	if err != nil {
		return nil, err
	}

	return a.reduceStudents(ctx, opts, fo, func(ctx context.Context, s studentRef, courses []string) (studentStats, error) {
		st := studentStats{bestByIdx: map[int]float64{}}
		st.row = StudentRow{StudentID: s.id, Name: s.name, ClassName: className(fo, s.classIDs[0])}

		completed, totalModules, err := a.moduleProgress(ctx, s.id, courses, fo)
		if err != nil {
			return st, err
		}
		st.row.ModulesCompleted = completed
		st.row.TotalModules = totalModules

		var bestSum float64
		var onTimeHits, quizzesWithDue int
		for _, cid := range courses {
			for _, idx := range fo.itemsByCourse[cid] {
				quizDoc := fo.items[idx]
				quiz := lms.QuizFromDoc(quizDoc)
				st.row.TotalItems++

				attempts, err := a.store.Query(ctx, docstore.Query{
					Path: lms.AttemptsCollection(s.id, quizDoc.ID()),
				})
				if err != nil {
					return st, err
				}
				// Every reachable due-dated quiz is in the on-time denominator,
				// attempted or not: skipping a deadline entirely is not on time.
				if quiz.DueAt != nil {
					quizzesWithDue++
				}
				if len(attempts) == 0 {
					continue
				}
				st.row.ItemsTaken++

				best := 0.0
				onTime := false
				for _, att := range attempts {
					score := lms.AttemptScoreFromDoc(att)
					if score.Percent > best {
						best = score.Percent
					}
					if quiz.DueAt != nil && !score.SubmittedAt.IsZero() && !score.SubmittedAt.After(*quiz.DueAt) {
						onTime = true
					}
				}
				if onTime {
					onTimeHits++
				}
				bestSum += best
				st.bestByIdx[idx] = best
			}
		}

		if st.row.ItemsTaken > 0 {
			st.row.AvgScore = bestSum / float64(st.row.ItemsTaken)
		}
		if quizzesWithDue > 0 {
			st.row.OnTimePct = lms.ClampPercent(lms.RoundPercent(float64(onTimeHits), float64(quizzesWithDue)))
		}
		return st, nil
	})
}

func className(fo *fanout, classID string) string {
	for _, c := range fo.classes {
		if c.id == classID {
			return c.name
		}
	}
	return ""
}
