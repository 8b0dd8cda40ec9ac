package store

import (
	"context"
	"errors"
	"time"

	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
)

// Store is the persistence interface used by the gateway. It is the only
// component that touches the datastore; everything else goes through it.
type Store interface {
	// Integration settings (written by the OAuth flow, read-only here except
	// for the last-sync stamp)
	GetIntegrationSettings(ctx context.Context, restaurantID string) (model.IntegrationSettings, error)
	GetSettingsByMerchant(ctx context.Context, merchantID string) (model.IntegrationSettings, error)
	ListEnabledIntegrations(ctx context.Context) ([]model.IntegrationSettings, error)
	TouchLastSync(ctx context.Context, restaurantID string, ts time.Time) error

	// Mirrored marketplace orders. InsertMirror is a conditional insert: a
	// second insert for the same (restaurant_id, external_order_id) returns
	// ErrDuplicate, which callers treat as "already ingested".
	InsertMirror(ctx context.Context, m model.MirroredOrder) (string, error)
	GetMirror(ctx context.Context, restaurantID, externalOrderID string) (model.MirroredOrder, error)
	PatchMirror(ctx context.Context, restaurantID, externalOrderID string, patch model.MirrorPatch) (model.MirroredOrder, error)
	ListMirrors(ctx context.Context, restaurantID, status, cursor string, limit int) ([]model.MirroredOrder, string, error)

	// Canonical local orders, created at most once per mirror. The draft and
	// its items are written in a single transaction.
	CreateLocalOrder(ctx context.Context, draft model.LocalOrderDraft) (string, error)
	SetLocalOrderStatus(ctx context.Context, restaurantID, orderID, status string) error
	NextOrderNumber(ctx context.Context, restaurantID string) (int, error)

	// Notification subscriptions & delivery queue
	CreateSubscription(ctx context.Context, sub model.NotificationSubscription) (model.NotificationSubscription, error)
	GetSubscriptionsForEvent(ctx context.Context, restaurantID, eventType string) ([]model.NotificationSubscription, error)
	EnqueueNotification(ctx context.Context, restaurantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueNotifications(ctx context.Context, limit int) ([]NotificationDelivery, error)
	MarkNotification(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int) error
	FailNotification(ctx context.Context, id string, lastError string, responseCode int) error
}

var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by InsertMirror when a mirror for the external
// order id already exists. It is the idempotency signal, not a failure.
var ErrDuplicate = errors.New("duplicate order")
