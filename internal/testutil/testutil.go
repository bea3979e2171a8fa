// Package testutil provides shared HTTP test helpers for the debug
// handlers.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// loopbackAddr is accepted by tsweb's debug access check.
const loopbackAddr = "127.0.0.1:40000"

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertContentType checks that the response Content-Type starts with
// prefix.
func AssertContentType(t testing.TB, rec *httptest.ResponseRecorder, prefix string) {
	t.Helper()
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, prefix) {
		t.Errorf("Content-Type = %q, want prefix %q", got, prefix)
	}
}

// AssertBodyContains checks that the response body contains every needle.
func AssertBodyContains(t testing.TB, rec *httptest.ResponseRecorder, needles ...string) {
	t.Helper()
	body := rec.Body.String()
	for _, n := range needles {
		if !strings.Contains(body, n) {
			t.Errorf("body does not contain %q", n)
		}
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewDebugRequest creates a request that appears to come from loopback,
// as debug pages require.
func NewDebugRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = loopbackAddr
	return req
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
