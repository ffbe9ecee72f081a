package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"routeplan/internal/model"
	"routeplan/internal/store"
)

func TestPublisherEnqueuesForMatchingSubscriptions(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	_, _ = m.CreateSubscription(ctx, model.Subscription{URL: "http://a", Events: []string{EventPlanCompleted}})
	_, _ = m.CreateSubscription(ctx, model.Subscription{URL: "http://b", Events: []string{EventRouteUpdated}})

	NewPublisher(m).Emit(ctx, EventPlanCompleted, map[string]any{"batchId": "b1"})

	due, err := m.FetchDueWebhookDeliveries(ctx, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(due))
	}
	if due[0].EventType != EventPlanCompleted || due[0].URL != "http://a" {
		t.Fatalf("unexpected delivery %+v", due[0])
	}
	var payload struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(due[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Type != EventPlanCompleted || payload.Data["batchId"] != "b1" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestWorkerDeliversWithSignature(t *testing.T) {
	var gotSig, gotEvent atomic.Value
	var gotBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig.Store(r.Header.Get("X-Signature"))
		gotEvent.Store(r.Header.Get("X-Event-Type"))
		body, _ := io.ReadAll(r.Body)
		gotBody.Store(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := store.NewMemory()
	ctx := context.Background()
	_, _ = m.CreateSubscription(ctx, model.Subscription{URL: srv.URL, Events: []string{"*"}, Secret: "s3cret"})
	NewPublisher(m).Emit(ctx, EventDriftSuggested, map[string]any{"orderId": "o1"})

	w := NewWorker(m, 3, time.Second)
	w.ProcessOnce()

	body, _ := gotBody.Load().([]byte)
	if body == nil {
		t.Fatalf("endpoint never called")
	}
	if gotEvent.Load() != EventDriftSuggested {
		t.Fatalf("event header %v", gotEvent.Load())
	}
	if gotSig.Load() != SignHMAC("s3cret", body) {
		t.Fatalf("signature mismatch")
	}
	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("delivered webhook still due: %+v", due)
	}
}

func TestWorkerFailsAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := store.NewMemory()
	ctx := context.Background()
	_, _ = m.CreateSubscription(ctx, model.Subscription{URL: srv.URL, Events: []string{"*"}})
	NewPublisher(m).Emit(ctx, EventRouteUpdated, map[string]any{"routeId": "r1"})

	w := NewWorker(m, 1, time.Second)
	w.ProcessOnce()

	due, _ := m.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 0 {
		t.Fatalf("failed delivery must leave the queue, still due: %+v", due)
	}
	// a second pass must not resurrect it
	w.ProcessOnce()
}

func TestNextBackoffDoubles(t *testing.T) {
	if nextBackoff(0) != time.Second {
		t.Fatalf("first retry should wait 1s, got %v", nextBackoff(0))
	}
	if nextBackoff(3) != 8*time.Second {
		t.Fatalf("fourth retry should wait 8s, got %v", nextBackoff(3))
	}
	if nextBackoff(30) > time.Hour {
		t.Fatalf("backoff must cap at an hour")
	}
}
