package storage_test

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coursekit/coursekit-lms/internal/storage"
)

func TestFSStore_PutGet(t *testing.T) {
	base := t.TempDir()
	s, err := storage.NewFSStore(base, "")
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Put("quizzes/q1/img.png", strings.NewReader("pixels"), storage.PutOptions{
		ContentType: "image/png",
		Metadata:    map[string]string{"quizId": "q1"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if res.StoragePath != "quizzes/q1/img.png" {
		t.Fatalf("storagePath = %q", res.StoragePath)
	}
	if !strings.HasPrefix(res.DownloadURL, "file://") {
		t.Fatalf("downloadUrl = %q", res.DownloadURL)
	}

	rc, err := s.Get("quizzes/q1/img.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "pixels" {
		t.Fatalf("body = %q", body)
	}

	// sidecar metadata written alongside
	if _, err := os.Stat(filepath.Join(base, "quizzes", "q1", "img.png.meta")); err != nil {
		t.Fatalf("meta sidecar: %v", err)
	}
}

func TestFSStore_PublicURL(t *testing.T) {
	s, err := storage.NewFSStore(t.TempDir(), "https://cdn.example.com/")
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Put("a/b.txt", strings.NewReader("x"), storage.PutOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if res.PublicURL != "https://cdn.example.com/assets/a/b.txt" {
		t.Fatalf("publicUrl = %q", res.PublicURL)
	}
}

func TestFSStore_Delete(t *testing.T) {
	s, _ := storage.NewFSStore(t.TempDir(), "")
	if _, err := s.Put("a/b.txt", strings.NewReader("x"), storage.PutOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("a/b.txt", false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get("a/b.txt"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected gone, got %v", err)
	}

	if err := s.Delete("a/b.txt", false); err == nil {
		t.Fatal("double delete should error without ignoreNotFound")
	}
	if err := s.Delete("a/b.txt", true); err != nil {
		t.Fatalf("ignoreNotFound: %v", err)
	}
}

func TestFSStore_DeleteByPrefix(t *testing.T) {
	s, _ := storage.NewFSStore(t.TempDir(), "")
	for _, k := range []string{"quizzes/q1/a.png", "quizzes/q1/b.png", "quizzes/q2/keep.png"} {
		if _, err := s.Put(k, strings.NewReader("x"), storage.PutOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteByPrefix("quizzes/q1"); err != nil {
		t.Fatalf("deleteByPrefix: %v", err)
	}
	if _, err := s.Get("quizzes/q1/a.png"); err == nil {
		t.Fatal("q1 blob survived")
	}
	if _, err := s.Get("quizzes/q2/keep.png"); err != nil {
		t.Fatalf("q2 blob deleted: %v", err)
	}
	// absent prefix is a no-op
	if err := s.DeleteByPrefix("quizzes/q9"); err != nil {
		t.Fatalf("absent prefix: %v", err)
	}
}

func TestFSStore_RefusesEscapingPrefix(t *testing.T) {
	s, _ := storage.NewFSStore(t.TempDir(), "")
	if err := s.DeleteByPrefix(".."); err == nil {
		t.Fatal("expected refusal on base escape")
	}
}
