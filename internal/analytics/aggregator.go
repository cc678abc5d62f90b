// Package analytics reduces roster, course and attempt history into
// teacher-facing report rows. It only reads; every reduction is a pure
// in-memory fold over fan-out query results, since the document store
// offers no server-side aggregation.
package analytics

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/lms"
	"github.com/coursekit/coursekit-lms/internal/pii"
)

const (
	DefaultPassThreshold = 75.0
	DefaultLimitStudents = 500

	StatusOnTrack = "On Track"
	StatusAtRisk  = "At Risk"

	// Per-student fan-out reads run concurrently up to this bound. All
	// reductions are associative, so ordering does not matter.
	studentFanout = 8
)

type Options struct {
	TeacherID     string
	ClassID       string // optional: restrict to one class
	PassThreshold float64
	LimitStudents int
}

func (o Options) withDefaults() Options {
	if o.PassThreshold <= 0 {
		o.PassThreshold = DefaultPassThreshold
	}
	if o.LimitStudents <= 0 {
		o.LimitStudents = DefaultLimitStudents
	}
	return o
}

type Summary struct {
	TotalStudents       int     `json:"totalStudents"`
	AverageScore        float64 `json:"averageScore"`
	PassRate            float64 `json:"passRate"` // fraction of students at/above threshold
	ModulesCompletedPct float64 `json:"modulesCompletedPct"`
	AtRiskCount         int     `json:"atRiskCount"`
}

// SeriesPoint is one bar of the by-item chart.
type SeriesPoint struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	AveragePercent float64 `json:"averagePercent"`
	Takers         int     `json:"takers"`
}

type StudentRow struct {
	ClassName        string  `json:"className"`
	Name             string  `json:"name"`
	StudentID        string  `json:"studentId"`
	AvgScore         float64 `json:"avgScore"`
	ItemsTaken       int     `json:"itemsTaken"`
	TotalItems       int     `json:"totalItems"`
	OnTimePct        float64 `json:"onTimePct"`
	ModulesCompleted int     `json:"modulesCompleted"`
	TotalModules     int     `json:"totalModules"`
	Status           string  `json:"status"`
}

type Report struct {
	Summary  Summary       `json:"summary"`
	ByItem   []SeriesPoint `json:"byItem"`
	Progress []StudentRow  `json:"progress"`
}

type Aggregator struct {
	store  docstore.Store
	cipher *pii.Cipher // nil: roster names are stored in the clear
	log    *slog.Logger
}

func New(store docstore.Store, cipher *pii.Cipher, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, cipher: cipher, log: logger}
}

/* ---------------- shared fan-out ---------------- */

type classInfo struct {
	id       string
	name     string
	students []string
}

type fanout struct {
	classes        []classInfo
	classToCourses map[string][]string
	moduleCount    map[string]int // courseID -> module count
	items          []docstore.Doc // quizzes or assignments, title-sorted
	itemsByCourse  map[string][]int
	students       []studentRef
}

type studentRef struct {
	id       string
	name     string
	classIDs []string // every filtered class rostering the student, first seen used for display
}

// loadFanout resolves classes -> courses -> modules/items -> roster. Item
// queries ask the store for title order; if the store lacks the composite
// index the query degrades to an unordered scan sorted here.
func (a *Aggregator) loadFanout(ctx context.Context, opts Options, itemColl string) (*fanout, error) {
	classDocs, err := a.store.Query(ctx, docstore.Query{
		Path:    lms.CollClasses,
		Filters: []docstore.Filter{{Field: "teacherId", Op: docstore.OpEqual, Value: opts.TeacherID}},
	})
	if err != nil {
		return nil, err
	}

	fo := &fanout{
		classToCourses: map[string][]string{},
		moduleCount:    map[string]int{},
		itemsByCourse:  map[string][]int{},
	}
	classSet := map[string]bool{}
	for _, d := range classDocs {
		if opts.ClassID != "" && d.ID() != opts.ClassID {
			continue
		}
		ci := classInfo{id: d.ID(), name: fieldString(d.Fields, "name")}
		if v, ok := docstore.FieldAt(d.Fields, "students"); ok {
			ci.students = stringSlice(v)
		}
		fo.classes = append(fo.classes, ci)
		classSet[ci.id] = true
	}
	if len(fo.classes) == 0 {
		return fo, nil
	}

	courseDocs, err := a.store.Query(ctx, docstore.Query{
		Path:    lms.CollCourses,
		Filters: []docstore.Filter{{Field: "teacherId", Op: docstore.OpEqual, Value: opts.TeacherID}},
	})
	if err != nil {
		return nil, err
	}
	var courseIDs []string
	for _, d := range courseDocs {
		assigned := stringSlice(fieldAny(d.Fields, "assignedClasses"))
		linked := false
		for _, cid := range assigned {
			if classSet[cid] {
				fo.classToCourses[cid] = append(fo.classToCourses[cid], d.ID())
				linked = true
			}
		}
		if linked {
			courseIDs = append(courseIDs, d.ID())
		}
	}

	for _, chunk := range chunkStrings(courseIDs, docstore.MaxInValues) {
		modDocs, err := a.store.Query(ctx, docstore.Query{
			Path:    lms.CollModules,
			Filters: []docstore.Filter{{Field: "courseId", Op: docstore.OpIn, Value: chunk}},
		})
		if err != nil {
			return nil, err
		}
		for _, d := range modDocs {
			fo.moduleCount[fieldString(d.Fields, "courseId")]++
		}

		itemDocs, err := a.queryOrdered(ctx, docstore.Query{
			Path:    itemColl,
			Filters: []docstore.Filter{{Field: "courseId", Op: docstore.OpIn, Value: chunk}},
			OrderBy: "title",
		})
		if err != nil {
			return nil, err
		}
		fo.items = append(fo.items, itemDocs...)
	}
	// Chart series are title-sorted for stable display; chunked reads above
	// arrive grouped by course, so re-sort the union.
	docstore.SortDocs(fo.items, "title", false)
	for i, d := range fo.items {
		cid := fieldString(d.Fields, "courseId")
		fo.itemsByCourse[cid] = append(fo.itemsByCourse[cid], i)
	}

	fo.students = a.resolveRoster(ctx, fo.classes, opts.LimitStudents)
	return fo, nil
}

// queryOrdered degrades on a missing composite index: the order clause is
// dropped, the scan re-issued and results sorted client-side. Never a hard
// failure for the caller.
func (a *Aggregator) queryOrdered(ctx context.Context, q docstore.Query) ([]docstore.Doc, error) {
	docs, err := a.store.Query(ctx, q)
	if errors.Is(err, docstore.ErrIndexMissing) {
		a.log.Warn("composite index missing; falling back to unordered scan",
			"collection", q.Path, "orderBy", q.OrderBy)
		orderBy, desc := q.OrderBy, q.Desc
		q.OrderBy, q.Desc = "", false
		docs, err = a.store.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		docstore.SortDocs(docs, orderBy, desc)
		return docs, nil
	}
	return docs, err
}

// resolveRoster maps roster ids to user documents, capped at limit. A
// student rostered in several classes appears once, carrying every class id
// so their course set is the union across memberships. Missing users and
// corrupt PII are skipped or defaulted, never fatal: one bad roster entry
// must not fail the report.
func (a *Aggregator) resolveRoster(ctx context.Context, classes []classInfo, limit int) []studentRef {
	var out []studentRef
	byID := map[string]int{}
	for _, c := range classes {
		for _, sid := range c.students {
			if sid == "" {
				continue
			}
			if i, ok := byID[sid]; ok {
				out[i].classIDs = append(out[i].classIDs, c.id)
				continue
			}
			if len(out) >= limit {
				continue
			}
			userDoc, err := a.store.Get(ctx, lms.UserPath(sid))
			if err != nil {
				a.log.Warn("roster user missing", "student", sid, "class", c.id)
				continue
			}
			name := fieldString(userDoc.Fields, "name")
			if a.cipher != nil {
				name = a.cipher.SafeDecrypt(name, "Student")
			}
			byID[sid] = len(out)
			out = append(out, studentRef{id: sid, name: name, classIDs: []string{c.id}})
		}
	}
	return out
}

// coursesFor unions the course lists of every class the student belongs to.
// A course assigned to two of those classes contributes once.
func (fo *fanout) coursesFor(s studentRef) []string {
	var out []string
	seen := map[string]bool{}
	for _, classID := range s.classIDs {
		for _, courseID := range fo.classToCourses[classID] {
			if seen[courseID] {
				continue
			}
			seen[courseID] = true
			out = append(out, courseID)
		}
	}
	return out
}

/* ---------------- per-student reduce ---------------- */

// studentStats is the commutative partial result of one student's fan-out.
type studentStats struct {
	row       StudentRow
	bestByIdx map[int]float64 // item index -> best percent, for the chart
}

func (a *Aggregator) reduceStudents(ctx context.Context, opts Options, fo *fanout,
	gather func(ctx context.Context, s studentRef, courses []string) (studentStats, error)) (*Report, error) {

	stats := make([]studentStats, len(fo.students))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(studentFanout)
	for i, s := range fo.students {
		i, s := i, s
		g.Go(func() error {
			st, err := gather(gctx, s, fo.coursesFor(s))
			if err != nil {
				return err
			}
			stats[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Progress: make([]StudentRow, 0, len(stats))}
	itemSum := make([]float64, len(fo.items))
	itemTakers := make([]int, len(fo.items))
	var scoreSum float64
	var passCount, completedSum, totalModulesSum int

	for _, st := range stats {
		row := st.row
		completionPct := 100.0
		if row.TotalModules > 0 {
			completionPct = lms.RoundPercent(float64(row.ModulesCompleted), float64(row.TotalModules))
		}
		row.Status = StatusOnTrack
		if row.AvgScore < opts.PassThreshold || completionPct < 50 {
			row.Status = StatusAtRisk
			report.Summary.AtRiskCount++
		}
		if row.AvgScore >= opts.PassThreshold {
			passCount++
		}
		scoreSum += row.AvgScore
		completedSum += row.ModulesCompleted
		totalModulesSum += row.TotalModules
		for idx, best := range st.bestByIdx {
			itemSum[idx] += best
			itemTakers[idx]++
		}
		report.Progress = append(report.Progress, row)
	}

	n := len(report.Progress)
	report.Summary.TotalStudents = n
	if n > 0 {
		report.Summary.AverageScore = scoreSum / float64(n)
		report.Summary.PassRate = float64(passCount) / float64(n)
	}
	// Sum-of-sums, not an average of per-student percentages: two students
	// at 2/4 and 1/1 yield 3/5 = 60, not 75.
	report.Summary.ModulesCompletedPct = lms.RoundPercent(float64(completedSum), float64(totalModulesSum))

	for idx, d := range fo.items {
		if itemTakers[idx] == 0 {
			report.ByItem = append(report.ByItem, SeriesPoint{ID: d.ID(), Title: fieldString(d.Fields, "title")})
			continue
		}
		report.ByItem = append(report.ByItem, SeriesPoint{
			ID:             d.ID(),
			Title:          fieldString(d.Fields, "title"),
			AveragePercent: itemSum[idx] / float64(itemTakers[idx]),
			Takers:         itemTakers[idx],
		})
	}
	sort.SliceStable(report.ByItem, func(i, j int) bool { return report.ByItem[i].Title < report.ByItem[j].Title })
	return report, nil
}

// moduleProgress counts a student's completed modules within their courses.
func (a *Aggregator) moduleProgress(ctx context.Context, studentID string, courses []string, fo *fanout) (completed, total int, err error) {
	for _, cid := range courses {
		total += fo.moduleCount[cid]
	}
	docs, err := a.store.Query(ctx, docstore.Query{Path: lms.CompletedModulesCollection(studentID)})
	if err != nil {
		return 0, 0, err
	}
	courseSet := map[string]bool{}
	for _, cid := range courses {
		courseSet[cid] = true
	}
	for _, d := range docs {
		if courseSet[fieldString(d.Fields, "courseId")] {
			completed++
		}
	}
	return completed, total, nil
}

/* ---------------- helpers ---------------- */

func fieldString(f docstore.Fields, key string) string {
	v, _ := docstore.FieldAt(f, key)
	s, _ := v.(string)
	return s
}

func fieldAny(f docstore.Fields, key string) any {
	v, _ := docstore.FieldAt(f, key)
	return v
}

func stringSlice(v any) []string {
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

func chunkStrings(in []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(in); start += size {
		end := start + size
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}
