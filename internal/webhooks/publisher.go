// Package webhooks delivers outbound event notifications with HMAC
// signatures and exponential-backoff retries.
package webhooks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"routeplan/internal/store"
)

// Event types emitted by the planning engine.
const (
	EventPlanCompleted  = "plan.completed"
	EventDriftSuggested = "drift.suggested"
	EventRouteUpdated   = "route.updated"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues the event for every matching subscription. Delivery is
// asynchronous; failures here are silent because events are best-effort.
func (p *Publisher) Emit(ctx context.Context, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":   fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type": eventType,
		"ts":   time.Now().UTC().Format(time.RFC3339),
		"data": data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueWebhook(ctx, s.ID, eventType, s.URL, s.Secret, body)
	}
}
