package v1

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tinoosan/ptguard/internal/reqid"
)

func TestRequestIDMiddleware_GeneratesAndEchoes(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = reqid.From(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	got := rr.Header().Get(headerRequestID)
	if got == "" {
		t.Fatalf("expected non-empty %s header", headerRequestID)
	}
	if seen != got {
		t.Fatalf("context id %q differs from header %q", seen, got)
	}
}

func TestRequestIDMiddleware_HonorsIncoming(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerRequestID, "abc123")
	h.ServeHTTP(rr, req)
	if rr.Header().Get(headerRequestID) != "abc123" {
		t.Fatalf("expected echoed header abc123, got %q", rr.Header().Get(headerRequestID))
	}
}

func TestLogIncludesRequestIDAndError(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(slog.New(slog.NewTextHandler(&buf, nil)), Deps{})
	next := h.Log(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusTeapot, io.ErrUnexpectedEOF)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/thing", nil)
	req.Header.Set(headerRequestID, "rid-7")
	RequestID(next).ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{"level=ERROR", "request_id=rid-7", "status=418", "unexpected EOF"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line missing %q: %s", want, out)
		}
	}
}
