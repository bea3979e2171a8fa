package testutil

import (
	"net/http"
	"testing"
)

func TestNewDebugRequest(t *testing.T) {
	t.Parallel()
	req := NewDebugRequest(http.MethodGet, "/debug/runs?limit=3")
	if req.RemoteAddr != loopbackAddr {
		t.Errorf("RemoteAddr = %q, want %q", req.RemoteAddr, loopbackAddr)
	}
	if got := req.URL.Query().Get("limit"); got != "3" {
		t.Errorf("limit = %q, want 3", got)
	}

	plain := NewTestRequest(http.MethodPost, "/x")
	if plain.Method != http.MethodPost {
		t.Errorf("Method = %q, want POST", plain.Method)
	}
}

func TestAssertions_Pass(t *testing.T) {
	t.Parallel()
	rec := NewTestRecorder()
	rec.Header().Set("Content-Type", "text/html; charset=utf-8")
	rec.WriteHeader(http.StatusOK)
	rec.WriteString("<html>leaf weights</html>")

	AssertStatusCode(t, rec.Code, http.StatusOK)
	AssertContentType(t, rec, "text/html")
	AssertBodyContains(t, rec, "leaf", "weights")
}

// recordingTB captures failures instead of failing the test.
type recordingTB struct {
	testing.TB
	failed bool
}

func (r *recordingTB) Helper()                           {}
func (r *recordingTB) Errorf(format string, args ...any) { r.failed = true }

func TestAssertions_Fail(t *testing.T) {
	t.Parallel()
	rec := NewTestRecorder()
	rec.Header().Set("Content-Type", "application/json")
	rec.WriteString("{}")

	cases := map[string]func(tb testing.TB){
		"status":       func(tb testing.TB) { AssertStatusCode(tb, http.StatusOK, http.StatusNotFound) },
		"content type": func(tb testing.TB) { AssertContentType(tb, rec, "text/html") },
		"body":         func(tb testing.TB) { AssertBodyContains(tb, rec, "missing") },
	}
	for name, fn := range cases {
		tb := &recordingTB{TB: t}
		fn(tb)
		if !tb.failed {
			t.Errorf("%s: expected a failure to be reported", name)
		}
	}
}
