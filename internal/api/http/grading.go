package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/lms"
)

type gradeEssayReq struct {
	Score    float64 `json:"score" validate:"min=0"`
	MaxScore float64 `json:"maxScore" validate:"gt=0"`
	Feedback string  `json:"feedback"`
	Status   string  `json:"status" validate:"required,oneof=graded needs_review"`
}

// POST /essays/{essayID}/grade
func GradeEssayHandler(grader *lms.Grader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		essayID := chi.URLParam(r, "essayID")
		var req gradeEssayReq
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		err := grader.GradeEssay(r.Context(), essayID, lms.GradeEssayInput{
			Score:    req.Score,
			MaxScore: req.MaxScore,
			Feedback: req.Feedback,
			Status:   req.Status,
		})
		if err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{"message": "grade applied"})
	}
}

// GET /quizzes/{quizID}/essays?status=pending
func ListEssaysHandler(store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quizID := chi.URLParam(r, "quizID")
		status := r.URL.Query().Get("status")
		q := docstore.Query{
			Path:    lms.CollEssaySubs,
			Filters: []docstore.Filter{{Field: "quizId", Op: docstore.OpEqual, Value: quizID}},
		}
		if status != "" {
			q.Filters = append(q.Filters, docstore.Filter{Field: "status", Op: docstore.OpEqual, Value: status})
		}
		docs, err := store.Query(r.Context(), q)
		if err != nil {
			respondErr(w, err)
			return
		}
		out := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			f := d.Fields
			f["id"] = d.ID()
			out = append(out, f)
		}
		respondOK(w, map[string]any{"essays": out})
	}
}
