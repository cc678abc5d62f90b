package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	auth "github.com/coursekit/coursekit-lms/internal/auth/middleware"
	"github.com/coursekit/coursekit-lms/internal/docstore"
	"github.com/coursekit/coursekit-lms/internal/lms"
	"github.com/coursekit/coursekit-lms/internal/rbac"
)

func TestIssueAndParse(t *testing.T) {
	a := auth.NewAuthService("test-secret")

	tok, err := a.IssueJWT("alice", "teacher")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := a.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Sub != "alice" || claims.Role != "teacher" {
		t.Fatalf("claims = %+v", claims)
	}

	other := auth.NewAuthService("different-secret")
	if _, err := other.Parse(tok); err == nil {
		t.Fatal("token verified under the wrong secret")
	}
}

func TestLoginHandler(t *testing.T) {
	m := docstore.NewMemoryStore()
	a := auth.NewAuthService("test-secret")
	hash, err := auth.HashPassword("hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Set(context.Background(), lms.UserPath("alice"), docstore.Fields{
		"passwordHash": hash, "role": "teacher",
	}, false); err != nil {
		t.Fatal(err)
	}
	h := auth.LoginHandler(a, m)

	login := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
		return rec
	}

	rec := login(`{"username":"alice","password":"hunter2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var out map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	claims, err := a.Parse(out["access_token"])
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.Sub != "alice" || claims.Role != "teacher" {
		t.Fatalf("claims = %+v", claims)
	}

	if rec := login(`{"username":"alice","password":"wrong"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password: %d", rec.Code)
	}
	if rec := login(`{"username":"nobody","password":"hunter2"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unknown user: %d", rec.Code)
	}
	if rec := login(`{not json`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", rec.Code)
	}
}

func TestJWTMiddleware(t *testing.T) {
	a := auth.NewAuthService("test-secret")
	tok, err := a.IssueJWT("bob", "student")
	if err != nil {
		t.Fatal(err)
	}

	var gotSub, gotRole string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSub = rbac.SubjectFromContext(r.Context())
		gotRole = rbac.RoleFromContext(r.Context())
	})
	mw := auth.JWTMiddleware(a)(next)

	req := httptest.NewRequest(http.MethodGet, "/quizzes/q1", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotSub != "bob" || gotRole != "student" {
		t.Fatalf("context = %q/%q", gotSub, gotRole)
	}

	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quizzes/q1", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/quizzes/q1", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec = httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: %d", rec.Code)
	}
}
