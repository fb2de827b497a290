package executor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	appErr "techfolks/pkg/errors"
)

func TestHTTPBackendExecute(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Language != "cpp" {
			t.Errorf("language = %q, want cpp", req.Language)
		}
		json.NewEncoder(w).Encode(Response{
			StatusCode:   StatusAccepted,
			Stdout:       "42\n",
			TimeUsedMs:   12,
			MemoryUsedKb: 2048,
		})
	}))
	defer srv.Close()

	b := NewHTTPBackend(HTTPBackendConfig{BaseURL: srv.URL})
	res, err := b.Execute(context.Background(), Request{
		Language:      "cpp",
		SourceCode:    "int main(){}",
		Stdin:         "in",
		TimeLimitMs:   5000,
		MemoryLimitKb: 262144,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.StatusCode != StatusAccepted || res.Stdout != "42\n" {
		t.Errorf("unexpected response: %+v", res)
	}
}

func TestHTTPBackendCeiling(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and
		// cancels r.Context() when the client disconnects; otherwise
		// this handler never unblocks and srv.Close deadlocks.
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	b := NewHTTPBackend(HTTPBackendConfig{BaseURL: srv.URL, CeilingGraceMs: 50})
	start := time.Now()
	_, err := b.Execute(context.Background(), Request{TimeLimitMs: 10})
	if err == nil {
		t.Fatal("Execute returned nil error, want ceiling breach")
	}
	if code := appErr.GetCode(err); code != appErr.JudgeCeilingReached {
		t.Errorf("error code = %d, want JudgeCeilingReached", code)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("ceiling took %v, expected prompt cancellation", elapsed)
	}
}

func TestHTTPBackendUnavailable(t *testing.T) {
	t.Parallel()

	b := NewHTTPBackend(HTTPBackendConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := b.Execute(context.Background(), Request{TimeLimitMs: 100})
	if err == nil {
		t.Fatal("Execute returned nil error against closed port")
	}
	if code := appErr.GetCode(err); code != appErr.BackendUnavailable {
		t.Errorf("error code = %d, want BackendUnavailable", code)
	}
	if !appErr.IsRetryable(err) {
		t.Error("backend unavailable should be retryable")
	}
}

func TestHTTPBackendBadResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	b := NewHTTPBackend(HTTPBackendConfig{BaseURL: srv.URL})
	_, err := b.Execute(context.Background(), Request{TimeLimitMs: 1000})
	if code := appErr.GetCode(err); code != appErr.BackendBadResponse {
		t.Errorf("error code = %d, want BackendBadResponse", code)
	}
	if appErr.IsRetryable(err) {
		t.Error("bad response should not be retryable")
	}
}

func TestHTTPBackendServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewHTTPBackend(HTTPBackendConfig{BaseURL: srv.URL})
	_, err := b.Execute(context.Background(), Request{TimeLimitMs: 1000})
	if code := appErr.GetCode(err); code != appErr.BackendUnavailable {
		t.Errorf("error code = %d, want BackendUnavailable", code)
	}
}
