package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu         sync.Mutex
	settings   map[string]model.IntegrationSettings // restaurantId -> settings
	byMerchant map[string]string                    // merchantId -> restaurantId
	mirrors    map[string]model.MirroredOrder       // restaurantId/externalOrderId -> mirror
	mirrorSeq  map[string][]string                  // restaurantId -> insertion-ordered keys
	orders     map[string]localOrder                // orderId -> local order
	counters   map[string]int                       // restaurantId -> last order number
	subs       map[string][]model.NotificationSubscription
	deliveries map[string]*memDelivery
	dorder     []string // delivery ids in enqueue order
}

type localOrder struct {
	model.LocalOrderDraft
	ID string
}

// memDelivery augments NotificationDelivery with scheduling state
type memDelivery struct {
	NotificationDelivery
	NextAttemptAt time.Time
	LastError     string
	ResponseCode  int
}

func NewMemory() *Memory {
	return &Memory{
		settings:   map[string]model.IntegrationSettings{},
		byMerchant: map[string]string{},
		mirrors:    map[string]model.MirroredOrder{},
		mirrorSeq:  map[string][]string{},
		orders:     map[string]localOrder{},
		counters:   map[string]int{},
		subs:       map[string][]model.NotificationSubscription{},
		deliveries: map[string]*memDelivery{},
	}
}

func mirrorKey(restaurantID, externalOrderID string) string {
	return restaurantID + "/" + externalOrderID
}

// SeedIntegration installs settings for a restaurant. In production settings
// are written by the OAuth flow; this exists for tests and local dev.
func (m *Memory) SeedIntegration(s model.IntegrationSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.RestaurantID] = s
	if s.MerchantID != "" {
		m.byMerchant[s.MerchantID] = s.RestaurantID
	}
}

func (m *Memory) GetIntegrationSettings(ctx context.Context, restaurantID string) (model.IntegrationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[restaurantID]
	if !ok {
		return model.IntegrationSettings{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetSettingsByMerchant(ctx context.Context, merchantID string) (model.IntegrationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rid, ok := m.byMerchant[merchantID]
	if !ok {
		return model.IntegrationSettings{}, ErrNotFound
	}
	return m.settings[rid], nil
}

func (m *Memory) ListEnabledIntegrations(ctx context.Context) ([]model.IntegrationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.IntegrationSettings{}
	for _, s := range m.settings {
		if s.IsEnabled {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) TouchLastSync(ctx context.Context, restaurantID string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settings[restaurantID]
	if !ok {
		return ErrNotFound
	}
	s.LastSyncAt = &ts
	m.settings[restaurantID] = s
	return nil
}

func (m *Memory) InsertMirror(ctx context.Context, mir model.MirroredOrder) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mirrorKey(mir.RestaurantID, mir.ExternalOrderID)
	if _, exists := m.mirrors[key]; exists {
		return "", ErrDuplicate
	}
	if mir.ID == "" {
		mir.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	mir.CreatedAt = now
	mir.UpdatedAt = now
	m.mirrors[key] = mir
	m.mirrorSeq[mir.RestaurantID] = append(m.mirrorSeq[mir.RestaurantID], key)
	return mir.ID, nil
}

func (m *Memory) GetMirror(ctx context.Context, restaurantID, externalOrderID string) (model.MirroredOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mir, ok := m.mirrors[mirrorKey(restaurantID, externalOrderID)]
	if !ok {
		return model.MirroredOrder{}, ErrNotFound
	}
	return mir, nil
}

func (m *Memory) PatchMirror(ctx context.Context, restaurantID, externalOrderID string, patch model.MirrorPatch) (model.MirroredOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mirrorKey(restaurantID, externalOrderID)
	mir, ok := m.mirrors[key]
	if !ok {
		return model.MirroredOrder{}, ErrNotFound
	}
	if patch.Status != "" {
		mir.Status = patch.Status
	}
	if patch.LocalOrderID != nil {
		mir.LocalOrderID = *patch.LocalOrderID
	}
	if patch.RejectionReason != nil {
		mir.RejectionReason = *patch.RejectionReason
	}
	if patch.CancellationCode != nil {
		mir.CancellationCode = *patch.CancellationCode
	}
	if patch.PreparationStartedAt != nil {
		mir.PreparationStartedAt = patch.PreparationStartedAt
	}
	if patch.PickupCode != nil {
		mir.PickupCode = *patch.PickupCode
	}
	mir.UpdatedAt = time.Now().UTC()
	m.mirrors[key] = mir
	return mir, nil
}

func (m *Memory) ListMirrors(ctx context.Context, restaurantID, status, cursor string, limit int) ([]model.MirroredOrder, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := m.mirrorSeq[restaurantID]
	start := 0
	if cursor != "" {
		for i, k := range keys {
			if m.mirrors[k].ID == cursor { start = i + 1; break }
		}
	}
	if limit <= 0 { limit = 100 }
	out := []model.MirroredOrder{}
	var next string
	for i := start; i < len(keys) && len(out) < limit; i++ {
		mir := m.mirrors[keys[i]]
		if status == "" || mir.Status == status { out = append(out, mir) }
		next = mir.ID
	}
	if len(out) < limit { next = "" }
	return out, next, nil
}

func (m *Memory) CreateLocalOrder(ctx context.Context, draft model.LocalOrderDraft) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.orders[id] = localOrder{LocalOrderDraft: draft, ID: id}
	return id, nil
}

func (m *Memory) SetLocalOrderStatus(ctx context.Context, restaurantID, orderID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || o.RestaurantID != restaurantID {
		return ErrNotFound
	}
	o.Status = status
	m.orders[orderID] = o
	return nil
}

func (m *Memory) NextOrderNumber(ctx context.Context, restaurantID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[restaurantID]++
	return m.counters[restaurantID], nil
}

// LocalOrder returns a created order by id. Test helper; not part of Store.
func (m *Memory) LocalOrder(orderID string) (model.LocalOrderDraft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	return o.LocalOrderDraft, ok
}

// LocalOrderCount reports how many local orders exist. Test helper.
func (m *Memory) LocalOrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *Memory) CreateSubscription(ctx context.Context, sub model.NotificationSubscription) (model.NotificationSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.ID = uuid.New().String()
	m.subs[sub.RestaurantID] = append(m.subs[sub.RestaurantID], sub)
	return sub, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, restaurantID, eventType string) ([]model.NotificationSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.NotificationSubscription
	for _, s := range m.subs[restaurantID] {
		for _, e := range s.Events {
			if e == eventType { out = append(out, s); break }
		}
	}
	return out, nil
}

func (m *Memory) EnqueueNotification(ctx context.Context, restaurantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	d := &memDelivery{NotificationDelivery: NotificationDelivery{ID: id, RestaurantID: restaurantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: "pending"}, NextAttemptAt: time.Now()}
	m.deliveries[id] = d
	m.dorder = append(m.dorder, id)
	return id, nil
}

func (m *Memory) FetchDueNotifications(ctx context.Context, limit int) ([]NotificationDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []NotificationDelivery{}
	for _, id := range m.dorder {
		d := m.deliveries[id]
		if d == nil { continue }
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, d.NotificationDelivery)
			if limit > 0 && len(out) >= limit { break }
		}
	}
	return out, nil
}

func (m *Memory) MarkNotification(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return nil
	}
	d.Attempts++
	d.ResponseCode = responseCode
	if success {
		d.Status = "delivered"
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
	}
	return nil
}

func (m *Memory) FailNotification(ctx context.Context, id string, lastError string, responseCode int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d != nil {
		d.Status = "failed"
		d.LastError = lastError
		d.ResponseCode = responseCode
	}
	return nil
}
