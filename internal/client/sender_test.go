package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"rc-relay/internal/metrics"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPSender_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	m := metrics.New()
	s := newHTTPSender(RouteDirect, newTransport(10, nil, nil), false, discardLogger(), m)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/test", nil)
	resp, err := s.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", body, `{"status":"ok"}`)
	}
	if got := testutil.ToFloat64(m.UpstreamAttempts.WithLabelValues(RouteDirect, "GET", "200")); got != 1 {
		t.Errorf("upstream_attempts{direct,GET,200} = %v, want 1", got)
	}
}

func TestHTTPSender_Do_Error(t *testing.T) {
	m := metrics.New()
	s := newHTTPSender(RouteProxy, newTransport(10, nil, nil), false, discardLogger(), m)

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://127.0.0.1:1/nonexistent", nil)
	_, err := s.Do(req)
	if err == nil {
		t.Fatal("Do() expected error for unreachable host, got nil")
	}
	if !strings.HasPrefix(err.Error(), "proxy send:") {
		t.Errorf("error = %q, want route prefix", err)
	}
	if got := testutil.ToFloat64(m.UpstreamAttempts.WithLabelValues(RouteProxy, "GET", "error")); got != 1 {
		t.Errorf("upstream_attempts{proxy,GET,error} = %v, want 1", got)
	}
}

func TestHTTPSender_Do_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newHTTPSender(RouteDirect, newTransport(10, nil, nil), false, discardLogger(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	_, err := s.Do(req)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestHTTPSender_Redirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/old" {
			http.Redirect(w, r, "/new", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("landed"))
	}))
	defer srv.Close()

	tests := []struct {
		name       string
		follow     bool
		wantStatus int
		wantPath   string
	}{
		{"returned to caller", false, http.StatusFound, "/old"},
		{"followed", true, http.StatusOK, "/new"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newHTTPSender(RouteDirect, newTransport(10, nil, nil), tt.follow, discardLogger(), nil)
			req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/old", nil)

			resp, err := s.Do(req)
			if err != nil {
				t.Fatalf("Do() error = %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if resp.Request.URL.Path != tt.wantPath {
				t.Errorf("final path = %q, want %q", resp.Request.URL.Path, tt.wantPath)
			}
			if !tt.follow && resp.Header.Get("Location") != "/new" {
				t.Errorf("Location = %q, want /new", resp.Header.Get("Location"))
			}
		})
	}
}
