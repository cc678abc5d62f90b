package http_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	api "github.com/coursekit/coursekit-lms/internal/api/http"
	"github.com/coursekit/coursekit-lms/internal/audit"
	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/grading"
	"github.com/coursekit/coursekit-lms/internal/lms"
	"github.com/coursekit/coursekit-lms/internal/rbac"
)

// newRouter wires the quiz and attempt routes the way the gateway does,
// with a stub auth middleware that reads identity from request headers.
func newRouter(m *docstore.MemoryStore) chi.Router {
	recorder := lms.NewRecorder(m, audit.NewLog(m), nil)
	grader := grading.NewGrader()

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := rbac.WithSubject(req.Context(), req.Header.Get("X-Test-Subject"))
			ctx = rbac.WithRole(ctx, req.Header.Get("X-Test-Role"))
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Get("/quizzes/{quizID}", api.GetQuizHandler(m))
	r.Post("/quizzes/{quizID}/attempts", api.SubmitAttemptHandler(m, recorder, grader))
	r.Get("/quizzes/{quizID}/attempts", api.ListAttemptsHandler(m))
	return r
}

func seedGradedQuiz(t *testing.T, m *docstore.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	if err := m.Set(ctx, lms.QuizPath("q1"), docstore.Fields{
		"courseId": "c1", "moduleId": "m1", "title": "Unit 1",
		"attemptsAllowed": 1, "passingPercent": 50,
	}, false); err != nil {
		t.Fatal(err)
	}
	questions := []docstore.Fields{
		{"index": 0, "type": "choice", "question": "Pick", "correctAnswer": "b",
			"choices": map[string]any{"a": "Red", "b": "Blue"}},
		{"index": 1, "type": "true_false", "question": "T/F", "correctAnswer": "true"},
	}
	for i, q := range questions {
		path := lms.QuizPath("q1") + "/" + lms.SubQuestions + "/" + strconv.Itoa(i)
		if err := m.Set(ctx, path, q, false); err != nil {
			t.Fatal(err)
		}
	}
}

func do(t *testing.T, r chi.Router, method, target, subject, role, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("X-Test-Subject", subject)
	req.Header.Set("X-Test-Role", role)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("bad body %q: %v", rec.Body, err)
		}
	}
	return rec, out
}

func TestSubmitAttempt_ServerGradesAnswers(t *testing.T) {
	m := docstore.NewMemoryStore()
	seedGradedQuiz(t, m)
	r := newRouter(m)

	rec, out := do(t, r, http.MethodPost, "/quizzes/q1/attempts", "s1", "student",
		`{"answers":{"0":"b","1":"false"},"timeTakenSeconds":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %v", rec.Code, out)
	}
	if out["success"] != true {
		t.Fatalf("envelope = %v", out)
	}
	if out["autoPercent"].(float64) != 50 {
		t.Fatalf("autoPercent = %v", out["autoPercent"])
	}
	if out["moduleCompleted"] != true {
		t.Fatalf("moduleCompleted = %v", out["moduleCompleted"])
	}
	if out["attemptsLeft"].(float64) != 0 {
		t.Fatalf("attemptsLeft = %v", out["attemptsLeft"])
	}
}

func TestSubmitAttempt_LimitMapsToConflict(t *testing.T) {
	m := docstore.NewMemoryStore()
	seedGradedQuiz(t, m)
	r := newRouter(m)

	if rec, _ := do(t, r, http.MethodPost, "/quizzes/q1/attempts", "s1", "student",
		`{"autoScore":1,"autoTotal":2}`); rec.Code != http.StatusOK {
		t.Fatalf("first attempt: %d", rec.Code)
	}
	rec, out := do(t, r, http.MethodPost, "/quizzes/q1/attempts", "s1", "student",
		`{"autoScore":2,"autoTotal":2}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if out["attemptsUsed"].(float64) != 1 || out["attemptsAllowed"].(float64) != 1 {
		t.Fatalf("counters = %v", out)
	}
}

func TestSubmitAttempt_Rejections(t *testing.T) {
	m := docstore.NewMemoryStore()
	seedGradedQuiz(t, m)
	r := newRouter(m)

	if rec, _ := do(t, r, http.MethodPost, "/quizzes/q1/attempts", "s1", "student",
		`{"autoScore":-1,"autoTotal":2}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative score: %d", rec.Code)
	}
	if rec, _ := do(t, r, http.MethodPost, "/quizzes/q1/attempts", "", "student",
		`{"autoScore":1,"autoTotal":2}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no subject: %d", rec.Code)
	}
	if rec, _ := do(t, r, http.MethodPost, "/quizzes/ghost/attempts", "s1", "student",
		`{"autoScore":1,"autoTotal":2}`); rec.Code != http.StatusNotFound {
		t.Fatalf("missing quiz: %d", rec.Code)
	}
}

func TestGetQuiz_HidesAnswersFromStudents(t *testing.T) {
	m := docstore.NewMemoryStore()
	seedGradedQuiz(t, m)
	r := newRouter(m)

	_, out := do(t, r, http.MethodGet, "/quizzes/q1", "s1", "student", "")
	questions := out["questions"].([]any)
	if len(questions) != 2 {
		t.Fatalf("questions = %v", questions)
	}
	for _, q := range questions {
		if _, leaked := q.(map[string]any)["correctAnswer"]; leaked {
			t.Fatalf("answer leaked to student: %v", q)
		}
	}

	_, out = do(t, r, http.MethodGet, "/quizzes/q1", "t1", "teacher", "")
	first := out["questions"].([]any)[0].(map[string]any)
	if first["correctAnswer"] != "b" {
		t.Fatalf("teacher view missing answer: %v", first)
	}
}

func TestListAttempts_StudentsSeeOnlyTheirOwn(t *testing.T) {
	m := docstore.NewMemoryStore()
	seedGradedQuiz(t, m)
	// two attempts would trip the limit, so raise it
	if err := m.Set(context.Background(), lms.QuizPath("q1"), docstore.Fields{"attemptsAllowed": 0}, true); err != nil {
		t.Fatal(err)
	}
	r := newRouter(m)

	do(t, r, http.MethodPost, "/quizzes/q1/attempts", "s1", "student", `{"autoScore":1,"autoTotal":2}`)
	do(t, r, http.MethodPost, "/quizzes/q1/attempts", "s2", "student", `{"autoScore":2,"autoTotal":2}`)

	// the userId override is ignored for students
	_, out := do(t, r, http.MethodGet, "/quizzes/q1/attempts?userId=s2", "s1", "student", "")
	attempts := out["attempts"].([]any)
	if len(attempts) != 1 {
		t.Fatalf("attempts = %v", attempts)
	}
	if attempts[0].(map[string]any)["autoScore"].(float64) != 1 {
		t.Fatalf("saw someone else's attempt: %v", attempts[0])
	}

	_, out = do(t, r, http.MethodGet, "/quizzes/q1/attempts?userId=s2", "t1", "teacher", "")
	attempts = out["attempts"].([]any)
	if len(attempts) != 1 || attempts[0].(map[string]any)["autoScore"].(float64) != 2 {
		t.Fatalf("teacher override: %v", attempts)
	}
}
