package roster_test

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/lms"
	"github.com/coursekit/coursekit-lms/internal/pii"
	"github.com/coursekit/coursekit-lms/internal/roster"
)

func newCipher(t *testing.T) *pii.Cipher {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatal(err)
	}
	c, err := pii.NewCipher([]string{base64.StdEncoding.EncodeToString(raw)})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func seedClass(t *testing.T, m *docstore.MemoryStore, students ...any) {
	t.Helper()
	if err := m.Set(context.Background(), "classes/cl1", docstore.Fields{
		"teacherId": "t1", "name": "Algebra", "students": students,
	}, false); err != nil {
		t.Fatal(err)
	}
}

func classStudents(t *testing.T, m *docstore.MemoryStore) []string {
	t.Helper()
	doc, err := m.Get(context.Background(), "classes/cl1")
	if err != nil {
		t.Fatal(err)
	}
	switch raw := doc.Fields["students"].(type) {
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			out = append(out, v.(string))
		}
		return out
	default:
		return nil
	}
}

func TestEnroll_Idempotent(t *testing.T) {
	m := docstore.NewMemoryStore()
	seedClass(t, m)
	svc := roster.NewService(m, nil, nil)
	ctx := context.Background()

	if err := svc.Enroll(ctx, "cl1", "s1"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if err := svc.Enroll(ctx, "cl1", "s1"); err != nil {
		t.Fatalf("re-enroll: %v", err)
	}
	if err := svc.Enroll(ctx, "cl1", "s2"); err != nil {
		t.Fatalf("enroll s2: %v", err)
	}
	got := classStudents(t, m)
	if len(got) != 2 || got[0] != "s1" || got[1] != "s2" {
		t.Fatalf("students = %v", got)
	}
}

func TestEnroll_Validation(t *testing.T) {
	m := docstore.NewMemoryStore()
	svc := roster.NewService(m, nil, nil)
	ctx := context.Background()

	var verr *lms.ValidationError
	if err := svc.Enroll(ctx, "", "s1"); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := svc.Enroll(ctx, "ghost", "s1"); !errors.Is(err, lms.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUnenroll(t *testing.T) {
	m := docstore.NewMemoryStore()
	seedClass(t, m, "s1", "s2")
	svc := roster.NewService(m, nil, nil)
	ctx := context.Background()

	if err := svc.Unenroll(ctx, "cl1", "s1"); err != nil {
		t.Fatalf("unenroll: %v", err)
	}
	got := classStudents(t, m)
	if len(got) != 1 || got[0] != "s2" {
		t.Fatalf("students = %v", got)
	}
	// removing an absent student is a no-op
	if err := svc.Unenroll(ctx, "cl1", "s1"); err != nil {
		t.Fatalf("second unenroll: %v", err)
	}
}

func TestList_DecryptsWithFallbacks(t *testing.T) {
	m := docstore.NewMemoryStore()
	cipher := newCipher(t)
	ctx := context.Background()

	encName, _ := cipher.Encrypt("Ada Lovelace")
	encMail, _ := cipher.Encrypt("ada@example.com")
	_ = m.Set(ctx, lms.UserPath("s1"), docstore.Fields{"name": encName, "email": encMail}, false)
	_ = m.Set(ctx, lms.UserPath("s2"), docstore.Fields{"name": "enc:v1:not-a-token"}, false)
	// s3 has no user document at all
	seedClass(t, m, "s1", "s2", "s3")

	svc := roster.NewService(m, cipher, nil)
	members, err := svc.List(ctx, "cl1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	byID := map[string]roster.Member{}
	for _, mem := range members {
		byID[mem.StudentID] = mem
	}
	if byID["s1"].Name != "Ada Lovelace" || byID["s1"].Email != "ada@example.com" {
		t.Fatalf("s1 = %+v", byID["s1"])
	}
	if byID["s2"].Name != "Student" || byID["s2"].Email != "" {
		t.Fatalf("s2 fallback = %+v", byID["s2"])
	}
	if byID["s3"].Name != "" {
		t.Fatalf("missing user should yield empty row: %+v", byID["s3"])
	}
}

func TestImportCSV(t *testing.T) {
	m := docstore.NewMemoryStore()
	cipher := newCipher(t)
	seedClass(t, m, "s1")
	svc := roster.NewService(m, cipher, nil)
	ctx := context.Background()

	csv := strings.Join([]string{
		"id,name,email",
		"s1,Ada Lovelace,ada@example.com", // already enrolled, still upserted
		"s2,Grace Hopper,grace@example.com",
		",skipped,row@example.com", // blank id skipped
		"s3,Alan Turing,alan@example.com",
	}, "\n")

	res, err := svc.ImportCSV(ctx, "cl1", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Upserted != 3 || res.Enrolled != 3 {
		t.Fatalf("result = %+v", res)
	}
	got := classStudents(t, m)
	if len(got) != 3 {
		t.Fatalf("students = %v", got)
	}

	// PII landed encrypted, not in the clear
	doc, _ := m.Get(ctx, lms.UserPath("s2"))
	stored, _ := doc.Fields["name"].(string)
	if !strings.HasPrefix(stored, "enc:v1:") {
		t.Fatalf("name stored in the clear: %q", stored)
	}
	if cipher.SafeDecrypt(stored, "") != "Grace Hopper" {
		t.Fatal("stored token does not decrypt to the original name")
	}
}

func TestImportCSV_Errors(t *testing.T) {
	m := docstore.NewMemoryStore()
	seedClass(t, m)
	svc := roster.NewService(m, nil, nil)
	ctx := context.Background()

	var verr *lms.ValidationError
	if _, err := svc.ImportCSV(ctx, "cl1", strings.NewReader("")); !errors.As(err, &verr) {
		t.Fatalf("empty csv: %v", err)
	}
	if _, err := svc.ImportCSV(ctx, "cl1", strings.NewReader("name,email\nAda,a@b.c")); !errors.As(err, &verr) {
		t.Fatalf("missing id column: %v", err)
	}
}
