// Package notify forwards alerts to an operator webhook, so that a person
// hears about every preemption as well as the dashboards.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/greenwave/internal/httputil"
	"github.com/banshee-data/greenwave/internal/monitoring"
	"github.com/banshee-data/greenwave/internal/signal"
)

// DefaultKinds are forwarded when a Webhook has no Kinds of its own.
var DefaultKinds = []signal.AlertKind{
	signal.AlertPreemptionStarted,
	signal.AlertControllerDegraded,
	signal.AlertClaimExpired,
}

// Payload is the JSON body posted for each alert.
type Payload struct {
	Text  string       `json:"text"`
	Alert signal.Alert `json:"alert"`
}

// Webhook posts alerts to URL.
type Webhook struct {
	URL    string
	Client httputil.HTTPClient
	Kinds  []signal.AlertKind

	// Attempts per alert, at least 1. Backoff doubles between attempts.
	Attempts int
	Backoff  time.Duration

	logf func(format string, v ...interface{})
}

// NewWebhook returns a notifier with three attempts per alert.
func NewWebhook(url string, client httputil.HTTPClient) *Webhook {
	if client == nil {
		client = httputil.NewStandardClient(10 * time.Second)
	}
	return &Webhook{
		URL:      url,
		Client:   client,
		Attempts: 3,
		Backoff:  500 * time.Millisecond,
		logf:     monitoring.Component("Notify"),
	}
}

// Wants reports whether alerts of kind k are forwarded.
func (n *Webhook) Wants(k signal.AlertKind) bool {
	kinds := n.Kinds
	if len(kinds) == 0 {
		kinds = DefaultKinds
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Text renders the one-line operator message for a.
func Text(a signal.Alert) string {
	switch a.Kind {
	case signal.AlertPreemptionStarted:
		return fmt.Sprintf("Emergency vehicle %s: preempting %s (plan %s)", a.VehicleID, a.Intersection, a.PlanID)
	case signal.AlertPreemptionEnded:
		return fmt.Sprintf("Preemption at %s ended", a.Intersection)
	case signal.AlertControllerDegraded:
		return fmt.Sprintf("Controller %s degraded: %s", a.Intersection, a.Message)
	case signal.AlertControllerRecovered:
		return fmt.Sprintf("Controller %s recovered", a.Intersection)
	case signal.AlertClaimExpired:
		return fmt.Sprintf("Claim for vehicle %s expired: %s", a.VehicleID, a.Message)
	}
	return a.Message
}

// Notify posts a, retrying failed attempts. A 4xx answer other than 429 is
// not retried.
func (n *Webhook) Notify(ctx context.Context, a signal.Alert) error {
	body, err := json.Marshal(Payload{Text: Text(a), Alert: a})
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	attempts := max(n.Attempts, 1)
	backoff := n.Backoff

	for i := 1; ; i++ {
		retry, err := n.post(ctx, body)
		if err == nil {
			return nil
		}
		if !retry || i >= attempts {
			return fmt.Errorf("notify alert %s after %d attempt(s): %w", a.ID, i, err)
		}
		n.log("alert %s attempt %d failed: %v", a.ID, i, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (n *Webhook) post(ctx context.Context, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return true, fmt.Errorf("webhook answered %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("webhook answered %d", resp.StatusCode)
	}
}

// Run forwards wanted alerts from ch until ctx is cancelled or ch closes.
// Delivery failures are logged and do not stop the loop.
func (n *Webhook) Run(ctx context.Context, ch <-chan signal.Alert) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a, ok := <-ch:
			if !ok {
				return nil
			}
			if !n.Wants(a.Kind) {
				continue
			}
			if err := n.Notify(ctx, a); err != nil {
				n.log("%v", err)
			}
		}
	}
}

func (n *Webhook) log(format string, v ...interface{}) {
	if n.logf != nil {
		n.logf(format, v...)
	}
}
