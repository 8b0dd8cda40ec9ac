// Package notify delivers gateway events (order placed, status changed)
// to per-restaurant HTTP subscribers: printer agents, dashboard
// backends, kitchen displays.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LastBoss7/orderly-eats-sub002/internal/store"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues one delivery per matching subscription. Delivery is
// asynchronous; ingestion never waits on a printer.
func (p *Publisher) Emit(ctx context.Context, restaurantID, eventType string, data any) {
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, restaurantID, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":           fmt.Sprintf("evt_%d", time.Now().UnixNano()),
		"type":         eventType,
		"restaurantId": restaurantID,
		"ts":           time.Now().UTC().Format(time.RFC3339),
		"data":         data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueNotification(ctx, restaurantID, s.ID, eventType, s.URL, s.Secret, body)
	}
}
