package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingSink captures delivered events and signals on each delivery.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	ch     chan struct{}
	err    error
}

func newRecordingSink(err error) *recordingSink {
	return &recordingSink{ch: make(chan struct{}, 16), err: err}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	s.ch <- struct{}{}
	return s.err
}

func (s *recordingSink) wait(t *testing.T) {
	t.Helper()
	select {
	case <-s.ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestRegistryDispatchesToAllSinks(t *testing.T) {
	t.Parallel()

	a := newRecordingSink(nil)
	b := newRecordingSink(nil)
	reg := NewRegistry()
	reg.Register(a)
	reg.Register(b)

	ev := Event{Type: "task_assigned", Recipient: "ada", TaskID: 7, Stage: "pending_architect_design"}
	reg.Dispatch(context.Background(), ev)
	a.wait(t)
	b.wait(t)

	for _, s := range []*recordingSink{a, b} {
		s.mu.Lock()
		if len(s.events) != 1 || s.events[0].Recipient != "ada" || s.events[0].TaskID != 7 {
			t.Fatalf("sink got %+v", s.events)
		}
		s.mu.Unlock()
	}
}

func TestRegistryFailingSinkDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	bad := newRecordingSink(errors.New("boom"))
	good := newRecordingSink(nil)
	reg := NewRegistry()
	reg.Register(bad)
	reg.Register(good)

	reg.Dispatch(context.Background(), Event{Type: "work_rejected", Recipient: "edgar", TaskID: 1})
	bad.wait(t)
	good.wait(t)

	good.mu.Lock()
	defer good.mu.Unlock()
	if len(good.events) != 1 {
		t.Fatalf("good sink got %+v", good.events)
	}
}

func TestRegistryDetachesFromCallerContext(t *testing.T) {
	t.Parallel()

	s := newRecordingSink(nil)
	reg := NewRegistry()
	reg.Register(s)

	// A cancelled request context must not cancel delivery.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reg.Dispatch(ctx, Event{Type: "task_pooled", Recipient: "engineer", TaskID: 3})
	s.wait(t)
}

func TestSlackWebhookDeliver(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := SlackWebhook{WebhookURL: srv.URL, Channel: "#eng"}
	ev := Event{
		Type:      "work_rejected",
		Recipient: "edgar",
		TaskID:    42,
		Stage:     "pending_engineer_design",
		Detail:    map[string]string{"reason": "sizing is off"},
	}
	if err := sink.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	text, _ := got["text"].(string)
	if !strings.Contains(text, "task 42") || !strings.Contains(text, "sizing is off") {
		t.Fatalf("slack payload text: %q", text)
	}
	if got["channel"] != "#eng" {
		t.Fatalf("slack payload channel: %v", got["channel"])
	}
}

func TestSlackWebhookErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := SlackWebhook{WebhookURL: srv.URL}
	if err := sink.Deliver(context.Background(), Event{Type: "task_pooled", TaskID: 1}); err == nil {
		t.Fatal("expected error for non-2xx webhook response")
	}
}
