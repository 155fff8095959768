// Package notify posts workflow outcomes to external integrations.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// Notifier is an integration that can announce a plan outcome.
type Notifier interface {
	Name() string
	// Notify sends a message to the default target (e.g. Slack channel).
	Notify(ctx context.Context, message string) error
}

// Registry holds loaded notifiers by name.
type Registry struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
}

func NewRegistry() *Registry {
	return &Registry{notifiers: make(map[string]Notifier)}
}

func (r *Registry) Register(n Notifier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifiers[n.Name()] = n
}

func (r *Registry) Get(name string) Notifier {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifiers[name]
}

// NotifyAll sends message through every registered notifier, collecting
// failures instead of stopping at the first one.
func (r *Registry) NotifyAll(ctx context.Context, message string) error {
	r.mu.RLock()
	all := make([]Notifier, 0, len(r.notifiers))
	for _, n := range r.notifiers {
		all = append(all, n)
	}
	r.mu.RUnlock()

	var errs []string
	for _, n := range all {
		if err := n.Notify(ctx, message); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", n.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SlackWebhook sends messages to a Slack channel via incoming webhook URL.
type SlackWebhook struct {
	WebhookURL string
	Channel    string // optional override
	Username   string // optional
}

func (s SlackWebhook) Name() string { return "slack" }

func (s SlackWebhook) Notify(ctx context.Context, message string) error {
	if s.WebhookURL == "" {
		return fmt.Errorf("slack webhook URL not set")
	}
	payload := map[string]any{"text": message}
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
