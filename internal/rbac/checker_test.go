package rbac_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/coursekit/coursekit-lms/internal/rbac"
)

func TestChecker_DefaultPolicy(t *testing.T) {
	c := rbac.NewChecker(nil)

	cases := []struct {
		role, perm string
		want       bool
	}{
		{"student", "quiz:view", true},
		{"student", "quiz:delete", false},
		{"student", "attempt:view-own", true},
		{"student", "attempt:view-all", false},
		{"teacher", "quiz:delete", true}, // quiz:* wildcard
		{"teacher", "essay:grade", true},
		{"teacher", "user:manage", false},
		{"admin", "anything:at-all", true},
		{"", "quiz:view", false},
		{"proctor", "quiz:view", false},
	}
	for _, tc := range cases {
		if got := c.Has(tc.role, tc.perm); got != tc.want {
			t.Errorf("Has(%q, %q) = %v, want %v", tc.role, tc.perm, got, tc.want)
		}
	}

	if !c.Any("student", "attempt:view-all", "attempt:view-own") {
		t.Fatal("Any should pass on the second permission")
	}
	if c.Any("student", "essay:grade", "roster:manage") {
		t.Fatal("Any passed with no matching permission")
	}
}

func TestRequireMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	call := func(h http.Handler, role string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if role != "" {
			req = req.WithContext(rbac.WithRole(req.Context(), role))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	guarded := rbac.Require("essay:grade")(ok)
	if code := call(guarded, "teacher"); code != http.StatusNoContent {
		t.Fatalf("teacher: %d", code)
	}
	if code := call(guarded, "student"); code != http.StatusForbidden {
		t.Fatalf("student: %d", code)
	}
	if code := call(guarded, ""); code != http.StatusForbidden {
		t.Fatalf("anonymous: %d", code)
	}

	either := rbac.RequireAny("attempt:view-own", "attempt:view-all")(ok)
	if code := call(either, "student"); code != http.StatusNoContent {
		t.Fatalf("student via view-own: %d", code)
	}
	if code := call(either, "proctor"); code != http.StatusForbidden {
		t.Fatalf("unknown role: %d", code)
	}
}
