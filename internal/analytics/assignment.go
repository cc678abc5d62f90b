package analytics

import (
	"context"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/lms"
)

// BuildAssignmentAnalytics mirrors BuildQuizAnalytics for assignments.
// Submissions are single per assignment; percent normalization handles the
// three historical grade encodings.
func (a *Aggregator) BuildAssignmentAnalytics(ctx context.Context, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	fo, err := a.loadFanout(ctx, opts, lms.CollAssignments)
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

		subDocs, err := a.store.Query(ctx, docstore.Query{
			Path:    lms.CollAssignmentSubs,
			Filters: []docstore.Filter{{Field: "userId", Op: docstore.OpEqual, Value: s.id}},
		})
		if err != nil {
			return st, err
		}
		subByAssignment := map[string]docstore.Doc{}
		for _, d := range subDocs {
			subByAssignment[fieldString(d.Fields, "assignmentId")] = d
		}

		var scoreSum float64
		var scored, onTimeHits, withDue int
		for _, cid := range courses {
			for _, idx := range fo.itemsByCourse[cid] {
				asgDoc := fo.items[idx]
				st.row.TotalItems++
				dueAt, hasDue := docstore.AsTime(fieldAny(asgDoc.Fields, "dueAt"))
				if hasDue {
					withDue++
				}
				sub, ok := subByAssignment[asgDoc.ID()]
				if !ok {
					continue
				}
				st.row.ItemsTaken++

				if hasDue {
					if submittedAt, ok := docstore.AsTime(fieldAny(sub.Fields, "submittedAt")); ok && !submittedAt.After(dueAt) {
						onTimeHits++
					}
				}
				if pct, ok := normalizeAssignmentPercent(sub.Fields, asgDoc.Fields); ok {
					scoreSum += pct
					scored++
					st.bestByIdx[idx] = pct
				}
			}
		}

		if scored > 0 {
			st.row.AvgScore = scoreSum / float64(scored)
		}
		if withDue > 0 {
			st.row.OnTimePct = lms.ClampPercent(lms.RoundPercent(float64(onTimeHits), float64(withDue)))
		}
		return st, nil
	})
}

// normalizeAssignmentPercent resolves a submission's grade to a 0-100
// percent across the three encodings that exist in the data: an explicit
// percent, a points-over-max pair, and the legacy "raw value is already a
// percent" shape when no max is resolvable.
func normalizeAssignmentPercent(sub, assignment docstore.Fields) (float64, bool) {
	if pct, ok := lms.ResolveLegacyNumeric(sub, "percent"); ok {
		return lms.ClampPercent(pct), true
	}
	grade, hasGrade := lms.ResolveLegacyNumeric(sub, "grade", "score")
	if !hasGrade {
		return 0, false
	}
	max, hasMax := lms.ResolveLegacyNumeric(sub, "points")
	if !hasMax {
		max, hasMax = lms.ResolveLegacyNumeric(assignment, "points", "maxPoints", "totalPoints")
	}
	if hasMax && max > 0 {
		return lms.ClampPercent(lms.RoundPercent(grade, max)), true
	}
	return lms.ClampPercent(grade), true
}
