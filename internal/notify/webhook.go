package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"studyhub/internal/reminder"
)

// Webhook POSTs a JSON body per reminder, e.g. to a push or email relay.
type Webhook struct {
	URL    string
	Client *http.Client
}

type webhookBody struct {
	ReminderID string    `json:"reminder_id"`
	OwnerID    uint64    `json:"owner_id"`
	Title      string    `json:"title"`
	Type       string    `json:"type"`
	Tags       []string  `json:"tags"`
	DueAt      time.Time `json:"due_at"`
}

func NewWebhook(url string) *Webhook {
	return &Webhook{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (w *Webhook) Deliver(ctx context.Context, r *reminder.Reminder) error {
	b, err := json.Marshal(webhookBody{
		ReminderID: r.ID,
		OwnerID:    r.OwnerID,
		Title:      r.Title,
		Type:       string(r.Type),
		Tags:       []string(r.Tags),
		DueAt:      r.DueAt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", r.ID+"@"+r.DueAt.UTC().Format(time.RFC3339))

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook status %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}
