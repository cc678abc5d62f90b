package http

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/grading"
	"github.com/coursekit/coursekit-lms/internal/lms"
	"github.com/coursekit/coursekit-lms/internal/rbac"
)

type essayAnswerReq struct {
	QuestionIndex int    `json:"questionIndex" validate:"min=0"`
	QuestionText  string `json:"questionText"`
	Answer        string `json:"answer" validate:"required"`
}

type submitAttemptReq struct {
	AutoScore        float64          `json:"autoScore" validate:"min=0"`
	AutoTotal        float64          `json:"autoTotal" validate:"min=0"`
	TimeTakenSeconds int              `json:"timeTakenSeconds" validate:"min=0"`
	Reason           string           `json:"reason"`
	EssayAnswers     []essayAnswerReq `json:"essayAnswers" validate:"dive"`
	// Raw answers keyed by question index. When present the server grades
	// objective questions itself instead of trusting a client-side score.
	Answers map[string]string `json:"answers"`
}

// POST /quizzes/{quizID}/attempts
func SubmitAttemptHandler(store docstore.Store, recorder *lms.Recorder, grader *grading.Grader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quizID := chi.URLParam(r, "quizID")
		userID := rbac.SubjectFromContext(r.Context())
		if userID == "" {
			respondMessage(w, http.StatusUnauthorized, "no subject")
			return
		}
		var req submitAttemptReq
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}

		in := lms.SubmitAttemptInput{
			UserID:           userID,
			QuizID:           quizID,
			AutoScore:        req.AutoScore,
			AutoTotal:        req.AutoTotal,
			TimeTakenSeconds: req.TimeTakenSeconds,
			Reason:           req.Reason,
		}
		for _, e := range req.EssayAnswers {
			in.EssayAnswers = append(in.EssayAnswers, lms.EssayAnswer(e))
		}

		if len(req.Answers) > 0 {
			questions, err := loadQuestions(r, store, quizID)
			if err != nil {
				respondErr(w, err)
				return
			}
			answers := map[int]string{}
			for k, v := range req.Answers {
				if idx, err := strconv.Atoi(k); err == nil {
					answers[idx] = v
				}
			}
			outcome := grader.ScoreQuiz(questions, answers)
			in.AutoScore = outcome.AutoScore
			in.AutoTotal = outcome.AutoTotal
			for _, e := range outcome.Essays {
				in.EssayAnswers = append(in.EssayAnswers, lms.EssayAnswer(e))
			}
		}

		res, err := recorder.SubmitAttempt(r.Context(), in)
		if err != nil {
			respondErr(w, err)
			return
		}
		payload := map[string]any{
			"attemptId":       res.AttemptID,
			"autoPercent":     res.AutoPercent,
			"attemptsUsed":    res.AttemptsUsed,
			"attemptsLeft":    res.AttemptsLeft,
			"moduleCompleted": res.ModuleCompleted,
		}
		if res.AttemptsAllowed != nil {
			payload["attemptsAllowed"] = *res.AttemptsAllowed
		}
		respondOK(w, payload)
	}
}

// GET /quizzes/{quizID}/attempts — own history for students, any user via
// ?userId= for roles holding attempt:view-all.
func ListAttemptsHandler(store docstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		quizID := chi.URLParam(r, "quizID")
		userID := r.URL.Query().Get("userId")
		role := rbac.RoleFromContext(r.Context())
		if role != "teacher" && role != "admin" || userID == "" {
			userID = rbac.SubjectFromContext(r.Context())
		}
		docs, err := store.Query(r.Context(), docstore.Query{
			Path:    lms.AttemptsCollection(userID, quizID),
			OrderBy: "submittedAt",
			Desc:    true,
		})
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
		respondOK(w, map[string]any{"attempts": out})
	}
}

func loadQuestions(r *http.Request, store docstore.Store, quizID string) ([]grading.Question, error) {
	docs, err := store.Query(r.Context(), docstore.Query{
		Path: lms.QuizPath(quizID) + "/" + lms.SubQuestions,
	})
	if err != nil {
		return nil, err
	}
	out := make([]grading.Question, 0, len(docs))
	for i, d := range docs {
		q := grading.Question{Index: i, Type: grading.TypeChoice}
		if n, ok := lms.ResolveLegacyNumeric(d.Fields, "index"); ok {
			q.Index = int(n)
		}
		if s, ok := d.Fields["type"].(string); ok && s != "" {
			q.Type = s
		}
		q.Text, _ = d.Fields["question"].(string)
		q.CorrectAnswer, _ = d.Fields["correctAnswer"].(string)
		if choices, ok := d.Fields["choices"].(map[string]any); ok {
			q.Choices = map[string]string{}
			for k, v := range choices {
				if s, ok := v.(string); ok {
					q.Choices[k] = s
				}
			}
		}
		out = append(out, q)
	}
	return out, nil
}
