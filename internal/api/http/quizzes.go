package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/lms"
	"github.com/coursekit/coursekit-lms/internal/rbac"
)

type quizSettingsReq struct {
	TimerEnabled        bool `json:"timerEnabled"`
	DurationMinutes     int  `json:"durationMinutes" validate:"min=0"`
	GraceSeconds        int  `json:"graceSeconds" validate:"min=0"`
	ShuffleQuestions    bool `json:"shuffleQuestions"`
	BacktrackingAllowed bool `json:"backtrackingAllowed"`
}

type createQuizReq struct {
	CourseID        string           `json:"courseId" validate:"required"`
	ModuleID        string           `json:"moduleId"`
	Title           string           `json:"title" validate:"required"`
	AttemptsAllowed *int             `json:"attemptsAllowed" validate:"omitempty,gt=0"`
	DueAt           string           `json:"dueAt"`
	PublishAt       string           `json:"publishAt"`
	PassingPercent  *float64         `json:"passingPercent" validate:"omitempty,min=0,max=100"`
	AssignedClasses []string         `json:"assignedClasses"`
	Settings        *quizSettingsReq `json:"settings"`
}

type questionReq struct {
	Index         int               `json:"index" validate:"min=0"`
	Type          string            `json:"type" validate:"omitempty,oneof=choice true_false short_answer essay"`
	Question      string            `json:"question" validate:"required"`
	Choices       map[string]string `json:"choices"`
	CorrectAnswer string            `json:"correctAnswer"`
	ImageURL      string            `json:"imageUrl"`
}

func quizFields(req createQuizReq) docstore.Fields {
	f := docstore.Fields{
		"courseId":        req.CourseID,
		"moduleId":        req.ModuleID,
		"title":           req.Title,
		"passingPercent":  lms.DefaultPassingPercent,
		"assignedClasses": req.AssignedClasses,
		"archived":        false,
		"totalQuestions":  0,
		"updatedAt":       docstore.ServerTimestamp,
	}
	if req.PassingPercent != nil {
		f["passingPercent"] = *req.PassingPercent
	}
	if req.AttemptsAllowed != nil {
		f["attemptsAllowed"] = *req.AttemptsAllowed
	}
	if req.DueAt != "" {
		f["dueAt"] = req.DueAt
	}
	if req.PublishAt != "" {
		f["publishAt"] = req.PublishAt
	}
	if s := req.Settings; s != nil {
		f["settings"] = map[string]any{
			"timerEnabled":        s.TimerEnabled,
			"durationMinutes":     s.DurationMinutes,
			"graceSeconds":        s.GraceSeconds,
			"shuffleQuestions":    s.ShuffleQuestions,
			"backtrackingAllowed": s.BacktrackingAllowed,
		}
	}
	return f
}

// POST /quizzes
func CreateQuizHandler(store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createQuizReq
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		id := uuid.NewString()
		f := quizFields(req)
		f["createdAt"] = docstore.ServerTimestamp
		if err := store.Set(r.Context(), lms.QuizPath(id), f, false); err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{"quizId": id})
	}
}

// PUT /quizzes/{quizID} — partial update; only provided fields change.
func UpdateQuizHandler(store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			respondErr(w, &lms.ValidationError{Reason: "bad json: " + err.Error()})
			return
		}
		patch := docstore.Fields{}
		for _, k := range []string{"title", "moduleId", "attemptsAllowed", "dueAt", "publishAt", "passingPercent", "assignedClasses", "settings", "archived"} {
			if v, ok := raw[k]; ok {
				patch[k] = v
			}
		}
		if len(patch) == 0 {
			respondErr(w, &lms.ValidationError{Reason: "empty update"})
			return
		}
		patch["updatedAt"] = docstore.ServerTimestamp
		if err := store.Update(r.Context(), lms.QuizPath(chi.URLParam(r, "quizID")), patch); err != nil {
			respondErr(w, mapStoreErr(err))
			return
		}
		respondOK(w, nil)
	}
}

// POST /quizzes/{quizID}/archive
func ArchiveQuizHandler(store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patch := docstore.Fields{"archived": true, "updatedAt": docstore.ServerTimestamp}
		if err := store.Update(r.Context(), lms.QuizPath(chi.URLParam(r, "quizID")), patch); err != nil {
			respondErr(w, mapStoreErr(err))
			return
		}
		respondOK(w, map[string]any{"message": "archived"})
	}
}

// GET /quizzes/{quizID} — students get the quiz without answer keys.
func GetQuizHandler(store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quizID := chi.URLParam(r, "quizID")
		doc, err := store.Get(r.Context(), lms.QuizPath(quizID))
		if err != nil {
			respondErr(w, mapStoreErr(err))
			return
		}
		qdocs, err := store.Query(r.Context(), docstore.Query{
			Path:    lms.QuizPath(quizID) + "/" + lms.SubQuestions,
			OrderBy: "index",
		})
		if err != nil && !errors.Is(err, docstore.ErrIndexMissing) {
			respondErr(w, err)
			return
		}
		teacherView := rbac.RoleFromContext(r.Context()) != "student"
		questions := make([]map[string]any, 0, len(qdocs))
		for _, d := range qdocs {
			f := d.Fields
			if !teacherView {
				delete(f, "correctAnswer")
			}
			questions = append(questions, f)
		}
		quiz := doc.Fields
		quiz["id"] = doc.ID()
		respondOK(w, map[string]any{"quiz": quiz, "questions": questions})
	}
}

// PUT /quizzes/{quizID}/questions — replaces the question set.
func PutQuestionsHandler(store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quizID := chi.URLParam(r, "quizID")
		var req struct {
			Questions []questionReq `json:"questions" validate:"required,dive"`
		}
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
		if _, err := store.Get(r.Context(), lms.QuizPath(quizID)); err != nil {
			respondErr(w, mapStoreErr(err))
			return
		}

		b := store.Batch()
		for i, q := range req.Questions {
			f := docstore.Fields{
				"index":    i,
				"question": q.Question,
			}
			if q.Type != "" {
				f["type"] = q.Type
			}
			if q.CorrectAnswer != "" {
				f["correctAnswer"] = q.CorrectAnswer
			}
			if len(q.Choices) > 0 {
				choices := map[string]any{}
				for k, v := range q.Choices {
					choices[k] = v
				}
				f["choices"] = choices
			}
			if q.ImageURL != "" {
				f["imageUrl"] = q.ImageURL
			}
			b.Set(lms.QuizPath(quizID)+"/"+lms.SubQuestions+"/"+strconv.Itoa(i), f, false)
		}
		b.Update(lms.QuizPath(quizID), docstore.Fields{
			"totalQuestions": len(req.Questions),
			"updatedAt":      docstore.ServerTimestamp,
		})
		if err := b.Commit(r.Context()); err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{"totalQuestions": len(req.Questions)})
	}
}

// DELETE /quizzes/{quizID}
func DeleteQuizHandler(cleaner *lms.Cleaner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cleaner.DeleteQuiz(r.Context(), chi.URLParam(r, "quizID")); err != nil {
			respondErr(w, err)
			return
		}
		respondOK(w, map[string]any{"message": "deleted"})
	}
}

// GET /courses/{courseID}/quizzes
func ListQuizzesHandler(store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := store.Query(r.Context(), docstore.Query{
			Path:    lms.CollQuizzes,
			Filters: []docstore.Filter{{Field: "courseId", Op: docstore.OpEqual, Value: chi.URLParam(r, "courseID")}},
		})
		if err != nil {
			respondErr(w, err)
			return
		}
		out := make([]map[string]any, 0, len(docs))
		for _, d := range docs {
			q := lms.QuizFromDoc(d)
			if q.Archived && rbac.RoleFromContext(r.Context()) == "student" {
				continue
			}
			f := d.Fields
			f["id"] = d.ID()
			out = append(out, f)
		}
		respondOK(w, map[string]any{"quizzes": out})
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return lms.ErrNotFound
	}
	return err
}
