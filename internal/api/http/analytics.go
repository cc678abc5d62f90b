package http

import (
	"net/http"
	"strconv"

	"github.com/coursekit/coursekit-lms/internal/analytics"
	"github.com/coursekit/coursekit-lms/internal/rbac"
)

func analyticsOptions(r *http.Request) analytics.Options {
	opts := analytics.Options{
		TeacherID: rbac.SubjectFromContext(r.Context()),
		ClassID:   r.URL.Query().Get("classId"),
	}
	if v, err := strconv.ParseFloat(r.URL.Query().Get("passThreshold"), 64); err == nil {
		opts.PassThreshold = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		opts.LimitStudents = v
	}
	return opts
}

// GET /analytics/quizzes?classId=&passThreshold=&limit=
func QuizAnalyticsHandler(agg *analytics.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := agg.BuildQuizAnalytics(r.Context(), analyticsOptions(r))
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{
			"summary":  report.Summary,
			"byQuiz":   report.ByItem,
			"progress": report.Progress,
		})
	}
}

// GET /analytics/assignments?classId=&passThreshold=&limit=
func AssignmentAnalyticsHandler(agg *analytics.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := agg.BuildAssignmentAnalytics(r.Context(), analyticsOptions(r))
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{
			"summary":      report.Summary,
			"byAssignment": report.ByItem,
			"progress":     report.Progress,
		})
	}
}
