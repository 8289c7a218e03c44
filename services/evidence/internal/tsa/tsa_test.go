package tsa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/adrper79-dot/callmonitor/pkg/canonhash"
	"github.com/adrper79-dot/callmonitor/pkg/config"
	"github.com/adrper79-dot/callmonitor/pkg/domain"
)

const testBundleHash = "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func proxyServer(t *testing.T, status int, respond func(hashHex string) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			HashHex       string `json:"hash_hex"`
			HashAlgorithm string `json:"hash_algorithm"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("undecodable proxy request: %v", err)
		}
		if req.HashAlgorithm != "sha256" {
			t.Errorf("unexpected hash_algorithm %q", req.HashAlgorithm)
		}
		if strings.HasPrefix(req.HashHex, canonhash.Prefix) {
			t.Errorf("hash_hex must be bare hex, got %q", req.HashHex)
		}
		w.WriteHeader(status)
		if respond != nil {
			_ = json.NewEncoder(w).Encode(respond(req.HashHex))
		}
	}))
}

func TestProxyTimestampSuccess(t *testing.T) {
	token := []byte("der-token-bytes")
	srv := proxyServer(t, 200, func(hashHex string) any {
		return map[string]any{
			"tsa_url":      "https://tsa.example.com",
			"timestamp":    "2026-05-04T12:00:00Z",
			"policy_oid":   "1.3.6.1.4.1.4146.2.3",
			"serial":       "0x1a2b",
			"token_base64": base64.StdEncoding.EncodeToString(token),
		}
	})
	defer srv.Close()

	c := NewClient(config.TSA{Mode: config.TSAModeProxy, Endpoint: srv.URL}, srv.Client())
	res, err := c.Timestamp(context.Background(), testBundleHash)
	if err != nil {
		t.Fatalf("timestamp: %v", err)
	}
	if res.URL != "https://tsa.example.com" || res.Serial != "0x1a2b" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.TokenHash != canonhash.SumBytes(token) {
		t.Fatalf("token hash must cover the decoded token bytes")
	}
}

func TestProxyServerErrorIsTransient(t *testing.T) {
	srv := proxyServer(t, 503, nil)
	defer srv.Close()

	c := NewClient(config.TSA{Mode: config.TSAModeProxy, Endpoint: srv.URL}, srv.Client())
	_, err := c.Timestamp(context.Background(), testBundleHash)
	if err == nil {
		t.Fatalf("expected error on 503")
	}
	if !IsTransient(err) {
		t.Fatalf("5xx must be transient, got %v", err)
	}
}

func TestProxyClientErrorIsPermanent(t *testing.T) {
	srv := proxyServer(t, 400, nil)
	defer srv.Close()

	c := NewClient(config.TSA{Mode: config.TSAModeProxy, Endpoint: srv.URL}, srv.Client())
	_, err := c.Timestamp(context.Background(), testBundleHash)
	if err == nil {
		t.Fatalf("expected error on 400")
	}
	if IsTransient(err) {
		t.Fatalf("4xx must be permanent, got %v", err)
	}
}

func TestProxyMissingTokenIsPermanent(t *testing.T) {
	srv := proxyServer(t, 200, func(string) any {
		return map[string]any{"timestamp": "2026-05-04T12:00:00Z"}
	})
	defer srv.Close()

	c := NewClient(config.TSA{Mode: config.TSAModeProxy, Endpoint: srv.URL}, srv.Client())
	_, err := c.Timestamp(context.Background(), testBundleHash)
	if err == nil || IsTransient(err) {
		t.Fatalf("response without token must fail permanently, got %v", err)
	}
}

type recordingBundleStore struct {
	mu        sync.Mutex
	requested []string
	results   map[string]domain.TSAResult
	errors    map[string]string
}

func newRecordingBundleStore() *recordingBundleStore {
	return &recordingBundleStore{
		results: map[string]domain.TSAResult{},
		errors:  map[string]string{},
	}
}

func (s *recordingBundleStore) SetBundleTSARequested(ctx context.Context, bundleID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, bundleID)
	return nil
}

func (s *recordingBundleStore) SetBundleTSAResult(ctx context.Context, bundleID string, res domain.TSAResult, receivedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[bundleID] = res
	return nil
}

func (s *recordingBundleStore) SetBundleTSAError(ctx context.Context, bundleID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors[bundleID] = reason
	return nil
}

func newTestWorker(client *Client, store BundleStore) *Worker {
	w := NewWorker(client, store, 4, slog.New(slog.DiscardHandler))
	w.maxTries = 2
	w.minInterval = time.Millisecond
	return w
}

func TestWorkerStoresTimestampResult(t *testing.T) {
	token := []byte("tok")
	srv := proxyServer(t, 200, func(string) any {
		return map[string]any{
			"tsa_url":      "https://tsa.example.com",
			"timestamp":    "2026-05-04T12:00:00Z",
			"token_base64": base64.StdEncoding.EncodeToString(token),
		}
	})
	defer srv.Close()

	st := newRecordingBundleStore()
	w := newTestWorker(NewClient(config.TSA{Mode: config.TSAModeProxy, Endpoint: srv.URL}, srv.Client()), st)
	w.Start(context.Background())
	if !w.Enqueue("bun_1", testBundleHash) {
		t.Fatalf("enqueue failed on empty queue")
	}
	w.Stop()

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.requested) != 1 || st.requested[0] != "bun_1" {
		t.Fatalf("expected tsa_requested_at mark, got %+v", st.requested)
	}
	res, ok := st.results["bun_1"]
	if !ok {
		t.Fatalf("expected a stored result, errors=%+v", st.errors)
	}
	if res.TokenHash != canonhash.SumBytes(token) {
		t.Fatalf("stored result carries wrong token hash")
	}
}

func TestWorkerStoresErrorStateOnPermanentFailure(t *testing.T) {
	srv := proxyServer(t, 400, nil)
	defer srv.Close()

	st := newRecordingBundleStore()
	w := newTestWorker(NewClient(config.TSA{Mode: config.TSAModeProxy, Endpoint: srv.URL}, srv.Client()), st)
	w.Start(context.Background())
	w.Enqueue("bun_1", testBundleHash)
	w.Stop()

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.results["bun_1"]; ok {
		t.Fatalf("no result may be stored on failure")
	}
	reason, ok := st.errors["bun_1"]
	if !ok || reason == "" {
		t.Fatalf("expected a stored error reason")
	}
}

func TestWorkerRetriesTransientFailure(t *testing.T) {
	attempts := 0
	token := []byte("tok")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(503)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"tsa_url":      "https://tsa.example.com",
			"timestamp":    "2026-05-04T12:00:00Z",
			"token_base64": base64.StdEncoding.EncodeToString(token),
		})
	}))
	defer srv.Close()

	st := newRecordingBundleStore()
	w := newTestWorker(NewClient(config.TSA{Mode: config.TSAModeProxy, Endpoint: srv.URL}, srv.Client()), st)
	w.Start(context.Background())
	w.Enqueue("bun_1", testBundleHash)
	w.Stop()

	if attempts != 2 {
		t.Fatalf("expected a retry after 503, got %d attempts", attempts)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.results["bun_1"]; !ok {
		t.Fatalf("expected a stored result after retry, errors=%+v", st.errors)
	}
}

func TestEnqueueAfterStopIsRejected(t *testing.T) {
	st := newRecordingBundleStore()
	w := newTestWorker(NewClient(config.TSA{Mode: config.TSAModeProxy, Endpoint: "http://127.0.0.1:1"}, nil), st)
	w.Start(context.Background())
	w.Stop()

	// A handler still draining during shutdown may reach Enqueue after Stop;
	// it must get false, never a send on the closed queue.
	if w.Enqueue("bun_1", testBundleHash) {
		t.Fatalf("enqueue after stop must report failure")
	}
	// Stop is idempotent.
	w.Stop()
}

func TestEnqueueNeverBlocksWhenFull(t *testing.T) {
	st := newRecordingBundleStore()
	w := NewWorker(NewClient(config.TSA{Mode: config.TSAModeProxy, Endpoint: "http://127.0.0.1:1"}, nil), st, 1, slog.New(slog.DiscardHandler))
	// Worker not started: the queue fills and Enqueue must return false
	// instead of blocking.
	if !w.Enqueue("bun_1", testBundleHash) {
		t.Fatalf("first enqueue should fit")
	}
	if w.Enqueue("bun_2", testBundleHash) {
		t.Fatalf("second enqueue must report a full queue")
	}
}
