package httpfn

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/codereview/internal/invoke"
)

// --- helpers ---

func functionServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(baseURL, "fn-key", 2*time.Second)
}

func TestInvoke_Sync(t *testing.T) {
	ts := functionServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/functions/code-analysis-detection" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer fn-key" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if got := r.Header.Get("X-Invocation-Type"); got != "RequestResponse" {
			t.Errorf("unexpected invocation type: %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"stage":"detection"}` {
			t.Errorf("unexpected body: %s", body)
		}
		w.Write([]byte(`{"status":"success","issues":[]}`))
	})
	defer ts.Close()

	out, err := newTestClient(t, ts.URL+"/").Invoke(context.Background(), invoke.Request{
		Function: "code-analysis-detection",
		Payload:  []byte(`{"stage":"detection"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != `{"status":"success","issues":[]}` {
		t.Errorf("unexpected response: %s", out)
	}
}

func TestInvoke_AsyncAccepted(t *testing.T) {
	ts := functionServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Invocation-Type"); got != "Event" {
			t.Errorf("unexpected invocation type: %q", got)
		}
		w.WriteHeader(http.StatusAccepted)
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).Invoke(context.Background(), invoke.Request{Function: "fn", Mode: invoke.ModeAsync})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestInvoke_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    string
		transient bool
		remote    bool
	}{
		{"throttled", http.StatusTooManyRequests, "", true, false},
		{"bad gateway", http.StatusBadGateway, "", true, false},
		{"unavailable", http.StatusServiceUnavailable, "", true, false},
		{"function error", http.StatusOK, "Unhandled", false, true},
		{"function error on 500", http.StatusInternalServerError, "Handled", false, true},
		{"bad request", http.StatusBadRequest, "", false, false},
		{"not found", http.StatusNotFound, "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := functionServer(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("X-Function-Error", tt.header)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"errorMessage":"boom"}`))
			})
			defer ts.Close()

			_, err := newTestClient(t, ts.URL).Invoke(context.Background(), invoke.Request{Function: "fn"})
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, invoke.ErrTransient) != tt.transient {
				t.Errorf("transient = %v, want %v (err: %v)", !tt.transient, tt.transient, err)
			}
			if errors.Is(err, invoke.ErrRemoteExecution) != tt.remote {
				t.Errorf("remote = %v, want %v (err: %v)", !tt.remote, tt.remote, err)
			}
		})
	}
}

func TestInvoke_Unreachable(t *testing.T) {
	ts := functionServer(t, func(w http.ResponseWriter, r *http.Request) {})
	url := ts.URL
	ts.Close()

	_, err := newTestClient(t, url).Invoke(context.Background(), invoke.Request{Function: "fn"})
	if !errors.Is(err, invoke.ErrTransient) {
		t.Errorf("expected ErrTransient, got %v", err)
	}
}

func TestInvoke_Timeout(t *testing.T) {
	ts := functionServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	defer ts.Close()

	c := NewClient(ts.URL, "", 20*time.Millisecond)
	_, err := c.Invoke(context.Background(), invoke.Request{Function: "fn"})
	if !errors.Is(err, invoke.ErrTransient) {
		t.Errorf("expected ErrTransient, got %v", err)
	}
}
