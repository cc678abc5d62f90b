package lms

import (
	"time"

	"github.com/coursekit/coursekit-lms/internal/docstore"
)

// Document paths. Attempts live under a per-(user,quiz) rollup document
// whose id is the quiz id; essay submissions are a top-level collection
// holding a back-reference to their attempt.
const (
	CollQuizzes          = "quizzes"
	CollCourses          = "courses"
	CollClasses          = "classes"
	CollModules          = "modules"
	CollAssignments      = "assignments"
	CollAssignmentSubs   = "assignmentSubmissions"
	CollUsers            = "users"
	CollEssaySubs        = "essaySubmissions"
	SubQuizAttempts      = "quizAttempts"
	SubAttempts          = "attempts"
	SubCompletedModules  = "completedModules"
	SubQuestions         = "questions"
)

func QuizPath(quizID string) string    { return CollQuizzes + "/" + quizID }
func UserPath(userID string) string    { return CollUsers + "/" + userID }
func EssayPath(essayID string) string  { return CollEssaySubs + "/" + essayID }
func RollupPath(userID, quizID string) string {
	return UserPath(userID) + "/" + SubQuizAttempts + "/" + quizID
}
func AttemptsCollection(userID, quizID string) string {
	return RollupPath(userID, quizID) + "/" + SubAttempts
}
func CompletedModulePath(userID, moduleID string) string {
	return UserPath(userID) + "/" + SubCompletedModules + "/" + moduleID
}
func CompletedModulesCollection(userID string) string {
	return UserPath(userID) + "/" + SubCompletedModules
}

// Essay submission statuses.
const (
	EssayPending     = "pending"
	EssayGraded      = "graded"
	EssayNeedsReview = "needs_review"
)

// DefaultPassingPercent applies when a quiz carries no override.
const DefaultPassingPercent = 60.0

// DefaultEssayMaxScore applies when a graded essay has no maxScore.
const DefaultEssayMaxScore = 10.0

// Quiz is the typed view of a quiz document. Documents are loosely shaped;
// absent fields take zero values and PassingPercent defaults.
type Quiz struct {
	ID              string
	CourseID        string
	ModuleID        string
	Title           string
	TotalQuestions  int
	AttemptsAllowed *int // nil = unlimited
	DueAt           *time.Time
	PublishAt       *time.Time
	PassingPercent  float64
	AssignedClasses []string
	Archived        bool
	Settings        QuizSettings
}

type QuizSettings struct {
	TimerEnabled        bool
	DurationMinutes     int
	GraceSeconds        int
	ShuffleQuestions    bool
	PaginationEnabled   bool
	PaginationPerPage   int
	BacktrackingAllowed bool
}

// QuizFromDoc maps a quiz document onto the typed struct, applying the
// legacy field fallbacks for numeric limits.
func QuizFromDoc(d docstore.Doc) Quiz {
	f := d.Fields
	q := Quiz{
		ID:             d.ID(),
		CourseID:       docString(f, "courseId"),
		ModuleID:       docString(f, "moduleId"),
		Title:          docString(f, "title"),
		PassingPercent: DefaultPassingPercent,
		Archived:       docBool(f, "archived"),
	}
	if n, ok := ResolveLegacyNumeric(f, "totalQuestions", "questionCount"); ok {
		q.TotalQuestions = int(n)
	}
	if n, ok := ResolveLegacyNumeric(f, "passingPercent", "passingScore"); ok {
		q.PassingPercent = n
	}
	if n, ok := ResolveLegacyNumeric(f, "attemptsAllowed", "maxAttempts"); ok && n > 0 {
		v := int(n)
		q.AttemptsAllowed = &v
	}
	if t, ok := docTime(f, "dueAt"); ok {
		q.DueAt = &t
	}
	if t, ok := docTime(f, "publishAt"); ok {
		q.PublishAt = &t
	}
	q.AssignedClasses = docStrings(f, "assignedClasses")
	if s, ok := f["settings"].(map[string]any); ok {
		q.Settings = QuizSettings{
			TimerEnabled:        docBool(s, "timerEnabled"),
			ShuffleQuestions:    docBool(s, "shuffleQuestions"),
			BacktrackingAllowed: docBool(s, "backtrackingAllowed"),
		}
		if n, ok := ResolveLegacyNumeric(s, "durationMinutes"); ok {
			q.Settings.DurationMinutes = int(n)
		}
		if n, ok := ResolveLegacyNumeric(s, "graceSeconds"); ok {
			q.Settings.GraceSeconds = int(n)
		}
		if p, ok := s["pagination"].(map[string]any); ok {
			q.Settings.PaginationEnabled = docBool(p, "enabled")
			if n, ok := ResolveLegacyNumeric(p, "perPage"); ok {
				q.Settings.PaginationPerPage = int(n)
			}
		}
	}
	return q
}

// AttemptScore is the scoring view of one attempt document.
type AttemptScore struct {
	AutoScore     float64
	AutoTotal     float64
	AutoPercent   float64
	GradedScore   float64
	GradedTotal   float64
	GradedPercent float64
	Percent       float64
	SubmittedAt   time.Time
}

// AttemptScoreFromDoc reads the scoring fields of an attempt document.
func AttemptScoreFromDoc(d docstore.Doc) AttemptScore {
	f := d.Fields
	a := AttemptScore{}
	a.AutoScore, _ = ResolveLegacyNumeric(f, "autoScore", "score")
	a.AutoTotal, _ = ResolveLegacyNumeric(f, "autoTotal", "total")
	a.AutoPercent, _ = ResolveLegacyNumeric(f, "autoPercent")
	a.GradedScore, _ = ResolveLegacyNumeric(f, "gradedScore")
	a.GradedTotal, _ = ResolveLegacyNumeric(f, "gradedTotal")
	a.GradedPercent, _ = ResolveLegacyNumeric(f, "gradedPercent")
	a.Percent = CompositePercent(f)
	if t, ok := docTime(f, "submittedAt"); ok {
		a.SubmittedAt = t
	}
	return a
}

// CompositePercent extracts an attempt's authoritative percent with the
// precedence shared by rollups and analytics: explicit percent, else the
// graded percent, else the auto percent.
func CompositePercent(f docstore.Fields) float64 {
	if n, ok := ResolveLegacyNumeric(f, "percent"); ok {
		return n
	}
	if n, ok := ResolveLegacyNumeric(f, "gradedPercent"); ok && n > 0 {
		return n
	}
	n, _ := ResolveLegacyNumeric(f, "autoPercent")
	return n
}

/* ---------------- loose-document helpers ---------------- */

func docString(f docstore.Fields, key string) string {
	v, _ := docstore.FieldAt(f, key)
	s, _ := v.(string)
	return s
}

func docBool(f docstore.Fields, key string) bool {
	v, _ := docstore.FieldAt(f, key)
	b, _ := v.(bool)
	return b
}

func docTime(f docstore.Fields, key string) (time.Time, bool) {
	v, ok := docstore.FieldAt(f, key)
	if !ok {
		return time.Time{}, false
	}
	return docstore.AsTime(v)
}

func docStrings(f docstore.Fields, key string) []string {
	v, ok := docstore.FieldAt(f, key)
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}
