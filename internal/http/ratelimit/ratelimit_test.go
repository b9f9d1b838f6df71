package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"gitea.jw6.us/james/calsched/internal/auth"
)

func TestMiddlewareLimitsPerOwner(t *testing.T) {
	l := New(rate.Limit(1), 2, time.Minute, nil)
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }

	handler := l.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	call := func(owner, addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/itip/analyze", nil)
		req.RemoteAddr = addr
		if owner != "" {
			req = req.WithContext(auth.WithOwner(req.Context(), owner))
		}
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	// Same owner from different addresses shares one bucket.
	if got := call("alice", "10.0.0.1:1"); got != http.StatusNoContent {
		t.Fatalf("first = %d", got)
	}
	if got := call("alice", "10.0.0.2:1"); got != http.StatusNoContent {
		t.Fatalf("second = %d", got)
	}
	if got := call("alice", "10.0.0.3:1"); got != http.StatusTooManyRequests {
		t.Fatalf("third = %d, want 429", got)
	}
	if got := call("bob", "10.0.0.1:1"); got != http.StatusNoContent {
		t.Fatalf("other owner = %d", got)
	}
}

func TestClientIPHonorsTrustedProxies(t *testing.T) {
	l := New(rate.Limit(1), 1, time.Minute, []string{"192.168.1.10", "10.0.0.0/8"})

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{name: "trusted single ip", remote: "192.168.1.10:443", xff: "203.0.113.7, 192.168.1.10", want: "203.0.113.7"},
		{name: "trusted cidr", remote: "10.1.2.3:443", xff: "198.51.100.2", want: "198.51.100.2"},
		{name: "untrusted peer", remote: "203.0.113.9:443", xff: "198.51.100.2", want: "203.0.113.9"},
		{name: "garbage header", remote: "10.1.2.3:443", xff: "not-an-ip", want: "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			req.Header.Set("X-Forwarded-For", tt.xff)
			if got := l.clientIP(req); got != tt.want {
				t.Fatalf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSweepDropsIdleEntries(t *testing.T) {
	l := New(rate.Limit(1), 1, time.Minute, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	l.Allow("ip:1.2.3.4")

	now = now.Add(2 * time.Minute)
	l.sweep()
	if len(l.limiters) != 0 {
		t.Fatalf("expected idle entry to be dropped, have %d", len(l.limiters))
	}
}
