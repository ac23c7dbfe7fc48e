// Package push notifies the platform's push delivery system about
// messages for offline recipients. Delivery is best-effort and never
// blocks the send path.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Shockvaluemedia/directfanz-messaging/pkg/log"
)

// Notification describes a message an offline user should hear about.
type Notification struct {
	UserID     string `json:"user_id"`
	RoomID     string `json:"room_id"`
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	Preview    string `json:"preview"`
}

// Notifier hands notifications off to an external delivery channel.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// WebhookNotifier posts notifications to the platform's push webhook.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Notify posts the notification. A non-2xx response is an error so the
// caller can log it; nothing is retried.
func (w *WebhookNotifier) Notify(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("push webhook returned status: %d", resp.StatusCode)
	}

	log.Ctx(ctx).Debug().
		Str(log.FieldUserID, n.UserID).
		Str(log.FieldMessageID, n.MessageID).
		Msg("push notification dispatched")
	return nil
}

// NopNotifier drops every notification. Used when no webhook is
// configured.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *Notification) error { return nil }
