package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// apiRecorder is a fake Bot API endpoint that can fail the first N requests.
type apiRecorder struct {
	mu       sync.Mutex
	requests []sendMessageRequest
	failures int
}

func (a *apiRecorder) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		if a.failures > 0 {
			a.failures--
			http.Error(w, `{"ok":false}`, http.StatusBadGateway)
			return
		}
		a.requests = append(a.requests, req)
		w.Write([]byte(`{"ok":true}`))
	}
}

func (a *apiRecorder) delivered() []sendMessageRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]sendMessageRequest(nil), a.requests...)
}

func newTestNotifier(t *testing.T, api *apiRecorder, mutate func(*Config)) *Notifier {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)

	cfg := Config{
		Token:      "test-token",
		BaseURL:    srv.URL,
		Retries:    3,
		RetryDelay: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	n, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestNotifyDeliversToAllRecipients(t *testing.T) {
	api := &apiRecorder{}
	n := newTestNotifier(t, api, nil)

	if err := n.Notify(context.Background(), "interface down", []string{"1001", "1002"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	got := api.delivered()
	if len(got) != 2 {
		t.Fatalf("delivered %d messages, want 2", len(got))
	}
	if got[0].ChatID != "1001" || got[1].ChatID != "1002" {
		t.Errorf("chat IDs = %s, %s", got[0].ChatID, got[1].ChatID)
	}
	if got[0].Text != "interface down" {
		t.Errorf("text = %q", got[0].Text)
	}
}

func TestNotifyRetriesTransientFailures(t *testing.T) {
	api := &apiRecorder{failures: 2}
	n := newTestNotifier(t, api, nil)

	if err := n.Notify(context.Background(), "hello", []string{"1001"}); err != nil {
		t.Fatalf("Notify after retries: %v", err)
	}
	if len(api.delivered()) != 1 {
		t.Errorf("delivered %d, want 1", len(api.delivered()))
	}
}

func TestNotifyGivesUpAfterRetryBudget(t *testing.T) {
	api := &apiRecorder{failures: 10}
	n := newTestNotifier(t, api, nil)

	if err := n.Notify(context.Background(), "hello", []string{"1001"}); err == nil {
		t.Fatal("Notify succeeded despite persistent API failures")
	}
	if len(api.delivered()) != 0 {
		t.Errorf("delivered %d, want 0", len(api.delivered()))
	}
}

func TestNotifyRespectsContextDuringBackoff(t *testing.T) {
	api := &apiRecorder{failures: 10}
	n := newTestNotifier(t, api, func(c *Config) {
		c.RetryDelay = time.Hour
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := n.Notify(ctx, "hello", []string{"1001"})
	if err == nil {
		t.Fatal("Notify succeeded unexpectedly")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("backoff ignored context cancellation (took %v)", time.Since(start))
	}
}

func TestNotifyThrottlesIdenticalMessages(t *testing.T) {
	api := &apiRecorder{}
	n := newTestNotifier(t, api, func(c *Config) {
		c.MinInterval = time.Hour
	})

	ctx := context.Background()
	if err := n.Notify(ctx, "cpu high", []string{"1001"}); err != nil {
		t.Fatalf("first Notify: %v", err)
	}
	if err := n.Notify(ctx, "cpu high", []string{"1001"}); err != nil {
		t.Fatalf("throttled Notify: %v", err)
	}
	// A different message is not throttled.
	if err := n.Notify(ctx, "ram high", []string{"1001"}); err != nil {
		t.Fatalf("third Notify: %v", err)
	}

	got := api.delivered()
	if len(got) != 2 {
		t.Fatalf("delivered %d, want 2 (identical message suppressed)", len(got))
	}
	if got[1].Text != "ram high" {
		t.Errorf("second delivery = %q", got[1].Text)
	}
}

func TestThrottleEvictsExpiredEntries(t *testing.T) {
	api := &apiRecorder{}
	n := newTestNotifier(t, api, func(c *Config) {
		c.MinInterval = 20 * time.Millisecond
	})
	ctx := context.Background()

	// Unique message texts (transition batches embed timestamps) must not
	// pile up in the throttle map forever.
	for i := 0; i < 5; i++ {
		msg := time.Now().Format("15:04:05.000000000") + " interface down"
		if err := n.Notify(ctx, msg, []string{"1001"}); err != nil {
			t.Fatalf("Notify %d: %v", i, err)
		}
	}

	time.Sleep(30 * time.Millisecond)
	if err := n.Notify(ctx, "fresh message", []string{"1001"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	n.mu.Lock()
	size := len(n.lastSent)
	n.mu.Unlock()
	if size != 1 {
		t.Errorf("throttle map holds %d entries, want 1 (expired entries evicted)", size)
	}

	// An evicted message may be delivered again.
	if err := n.Notify(ctx, "fresh message", []string{"1001"}); err != nil {
		t.Fatalf("repeat Notify: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := n.Notify(ctx, "fresh message", []string{"1001"}); err != nil {
		t.Fatalf("Notify after expiry: %v", err)
	}
	delivered := 0
	for _, req := range api.delivered() {
		if req.Text == "fresh message" {
			delivered++
		}
	}
	if delivered != 2 {
		t.Errorf("delivered %d copies, want 2 (suppressed within interval, resent after)", delivered)
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("New accepted an empty token")
	}
}
