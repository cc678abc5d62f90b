package lms_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/lms"
	"github.com/coursekit/coursekit-lms/internal/storage"
)

type fakeBlobs struct {
	deletedPrefixes []string
	prefixErr       error
}

func (f *fakeBlobs) Put(string, io.Reader, storage.PutOptions) (storage.UploadResult, error) {
	return storage.UploadResult{}, nil
}
func (f *fakeBlobs) Get(string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}
func (f *fakeBlobs) Delete(string, bool) error { return nil }
func (f *fakeBlobs) DeleteByPrefix(prefix string) error {
	f.deletedPrefixes = append(f.deletedPrefixes, prefix)
	return f.prefixErr
}

func seedQuizTree(t *testing.T, m *docstore.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	seedQuiz(t, m, "q1", docstore.Fields{"courseId": "c1", "title": "Doomed"})
	for _, p := range []string{
		lms.QuizPath("q1") + "/" + lms.SubQuestions + "/0",
		lms.QuizPath("q1") + "/" + lms.SubQuestions + "/1",
	} {
		if err := m.Set(ctx, p, docstore.Fields{"question": "?"}, false); err != nil {
			t.Fatal(err)
		}
	}
	// two students with rollups + attempts, plus one essay each
	for _, uid := range []string{"u1", "u2"} {
		if err := m.Set(ctx, lms.RollupPath(uid, "q1"), docstore.Fields{"quizId": "q1", "attemptsUsed": 1}, false); err != nil {
			t.Fatal(err)
		}
		if err := m.Set(ctx, lms.AttemptsCollection(uid, "q1")+"/a1", docstore.Fields{"percent": 50.0}, false); err != nil {
			t.Fatal(err)
		}
		if err := m.Set(ctx, lms.EssayPath("e-"+uid), docstore.Fields{"quizId": "q1", "userId": uid, "status": "pending"}, false); err != nil {
			t.Fatal(err)
		}
	}
	// unrelated documents must survive
	seedQuiz(t, m, "q2", docstore.Fields{"courseId": "c1", "title": "Keeper"})
	if err := m.Set(ctx, lms.RollupPath("u1", "q2"), docstore.Fields{"quizId": "q2"}, false); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteQuiz_Cascades(t *testing.T) {
	m := docstore.NewMemoryStore()
	blobs := &fakeBlobs{}
	seedQuizTree(t, m)

	c := lms.NewCleaner(m, blobs, nil)
	if err := c.DeleteQuiz(context.Background(), "q1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	ctx := context.Background()
	if _, err := m.Get(ctx, lms.QuizPath("q1")); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("quiz survived: %v", err)
	}
	if got := m.DocCount(lms.QuizPath("q1") + "/"); got != 0 {
		t.Fatalf("%d question docs survived", got)
	}
	for _, uid := range []string{"u1", "u2"} {
		if _, err := m.Get(ctx, lms.RollupPath(uid, "q1")); !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("rollup for %s survived", uid)
		}
		if got := m.DocCount(lms.AttemptsCollection(uid, "q1")); got != 0 {
			t.Fatalf("attempts for %s survived", uid)
		}
		if _, err := m.Get(ctx, lms.EssayPath("e-"+uid)); !errors.Is(err, docstore.ErrNotFound) {
			t.Fatalf("essay for %s survived", uid)
		}
	}

	// untouched neighbors
	if _, err := m.Get(ctx, lms.QuizPath("q2")); err != nil {
		t.Fatalf("q2 was deleted: %v", err)
	}
	if _, err := m.Get(ctx, lms.RollupPath("u1", "q2")); err != nil {
		t.Fatalf("q2 rollup was deleted: %v", err)
	}

	if len(blobs.deletedPrefixes) != 1 || blobs.deletedPrefixes[0] != "quizzes/q1" {
		t.Fatalf("blob prefix delete = %v", blobs.deletedPrefixes)
	}
}

func TestDeleteQuiz_BlobFailureSwallowed(t *testing.T) {
	m := docstore.NewMemoryStore()
	blobs := &fakeBlobs{prefixErr: errors.New("bucket down")}
	seedQuizTree(t, m)

	c := lms.NewCleaner(m, blobs, nil)
	if err := c.DeleteQuiz(context.Background(), "q1"); err != nil {
		t.Fatalf("blob failure must not abort the delete: %v", err)
	}
	if _, err := m.Get(context.Background(), lms.QuizPath("q1")); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatal("quiz survived despite successful store cascade")
	}
}

func TestDeleteQuiz_NotFound(t *testing.T) {
	m := docstore.NewMemoryStore()
	c := lms.NewCleaner(m, &fakeBlobs{}, nil)
	if err := c.DeleteQuiz(context.Background(), "ghost"); !errors.Is(err, lms.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
