// Package notify delivers assignment and rejection events to external sinks
// (e.g. a Slack webhook). Delivery is fire-and-forget: a failed sink is logged
// and never fails or rolls back the transition that produced the event.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ankittk/taskflow/internal/otel"
)

// Event is one outbound notification: something happened to a task and
// recipient (a worker name or a role) should hear about it.
type Event struct {
	Type      string            // e.g. task_assigned, work_rejected
	Recipient string            // worker name or role
	TaskID    int64
	Stage     string
	Detail    map[string]string // optional extras (e.g. rejection reason)
}

// Sink is one delivery target.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Dispatcher fans an event out to all registered sinks.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event)
}

// deliverTimeout bounds each sink delivery so a slow webhook cannot hold a
// goroutine forever.
const deliverTimeout = 10 * time.Second

// Registry holds registered sinks and dispatches to them asynchronously.
type Registry struct {
	mu    sync.RWMutex
	sinks []Sink
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) Register(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Dispatch delivers ev to every sink in its own goroutine. Errors are logged
// and counted, never returned; the event is detached from the caller's context
// so an already-served request does not cancel delivery.
func (r *Registry) Dispatch(ctx context.Context, ev Event) {
	r.mu.RLock()
	sinks := make([]Sink, len(r.sinks))
	copy(sinks, r.sinks)
	r.mu.RUnlock()

	for _, s := range sinks {
		go func(s Sink) {
			dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
			defer cancel()
			if err := s.Deliver(dctx, ev); err != nil {
				otel.RecordNotifyFailure(dctx, s.Name())
				slog.Warn("notification delivery failed",
					"sink", s.Name(),
					"event", ev.Type,
					"recipient", ev.Recipient,
					"task_id", ev.TaskID,
					"err", err)
			}
		}(s)
	}
}

// SlackWebhook delivers events to a Slack channel via incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Deliver(ctx context.Context, ev Event) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	text := fmt.Sprintf("[%s] task %d (%s) → %s", ev.Type, ev.TaskID, ev.Stage, ev.Recipient)
	if reason := ev.Detail["reason"]; reason != "" {
		text += ": " + reason
	}
	payload := map[string]any{"text": text}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	if s.Username != "" {
		payload["username"] = s.Username
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// SlogSink logs every event; useful as a default sink and in dev mode.
type SlogSink struct{}

func (SlogSink) Name() string { return "slog" }

func (SlogSink) Deliver(_ context.Context, ev Event) error {
	slog.Info("notification",
		"event", ev.Type,
		"recipient", ev.Recipient,
		"task_id", ev.TaskID,
		"stage", ev.Stage)
	return nil
}
