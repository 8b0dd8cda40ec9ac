// Package ingest pulls the marketplace event feed and keeps the local
// order mirror in step with it.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LastBoss7/orderly-eats-sub002/internal/marketplace"
	"github.com/LastBoss7/orderly-eats-sub002/internal/metrics"
	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
	"github.com/LastBoss7/orderly-eats-sub002/internal/notify"
	"github.com/LastBoss7/orderly-eats-sub002/internal/store"
	"github.com/LastBoss7/orderly-eats-sub002/internal/stream"
)

// pendingTTL is how long a placed order stays acceptable when the
// payload carries no expiry of its own.
const pendingTTL = 8 * time.Minute

// Summary reports one poll cycle. Acknowledged always covers the whole
// received batch; the upstream cannot ack partially.
type Summary struct {
	EventsReceived  int `json:"eventsReceived"`
	EventsProcessed int `json:"eventsProcessed"`
	EventsFailed    int `json:"eventsFailed"`
}

// statusByCode maps upstream lifecycle codes to mirror statuses. Placed
// codes are absent on purpose; they create mirrors instead of patching.
var statusByCode = map[string]string{
	"CFM":                    model.StatusConfirmed,
	"CONFIRMED":              model.StatusConfirmed,
	"CAN":                    model.StatusCancelled,
	"CANCELLED":              model.StatusCancelled,
	"CCR":                    model.StatusCancellationRequested,
	"CANCELLATION_REQUESTED": model.StatusCancellationRequested,
	"RTP":                    model.StatusReady,
	"READY_TO_PICKUP":        model.StatusReady,
	"DSP":                    model.StatusDispatched,
	"DISPATCHED":             model.StatusDispatched,
	"CON":                    model.StatusConcluded,
	"CONCLUDED":              model.StatusConcluded,
}

func isPlacedCode(code string) bool { return code == "PLC" || code == "PLACED" }

type Poller struct {
	Store  store.Store
	Market marketplace.API
	Pub    *notify.Publisher
	Broker stream.EventBroker

	// OnPlaced, when set, runs after a new mirror is created. Used for
	// auto-accept; its failure does not fail the event.
	OnPlaced func(ctx context.Context, restaurantID, externalOrderID string)

	now func() time.Time
}

func NewPoller(s store.Store, m marketplace.API) *Poller {
	return &Poller{Store: s, Market: m, now: time.Now}
}

// PollOnce runs a full poll cycle for one restaurant: fetch the event
// batch, attempt every event, then acknowledge the whole batch in one
// call regardless of per-event outcomes. An event that fails to process
// is still acknowledged; dropping the ack would re-deliver the events
// that did succeed.
func (p *Poller) PollOnce(ctx context.Context, settings model.IntegrationSettings) (Summary, error) {
	if p.now == nil { p.now = time.Now }
	events, err := p.Market.PollEvents(ctx, settings.AccessToken, settings.MerchantID)
	if err != nil {
		metrics.PollCycles.WithLabelValues("error").Inc()
		return Summary{}, fmt.Errorf("ingest: poll events: %w", err)
	}
	sum := Summary{EventsReceived: len(events)}
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		ids = append(ids, ev.ID)
		if err := p.processEvent(ctx, settings, ev); err != nil {
			log.Printf("ingest: restaurant=%s event=%s code=%s: %v", settings.RestaurantID, ev.ID, ev.Code, err)
			metrics.PollEvents.WithLabelValues(ev.Code, "failed").Inc()
			sum.EventsFailed++
			continue
		}
		metrics.PollEvents.WithLabelValues(ev.Code, "processed").Inc()
		sum.EventsProcessed++
	}
	if err := p.Market.AckEvents(ctx, settings.AccessToken, ids); err != nil {
		metrics.PollCycles.WithLabelValues("ack_error").Inc()
		return sum, fmt.Errorf("ingest: acknowledge events: %w", err)
	}
	if err := p.Store.TouchLastSync(ctx, settings.RestaurantID, p.now()); err != nil {
		log.Printf("ingest: restaurant=%s touch last sync: %v", settings.RestaurantID, err)
	}
	metrics.PollCycles.WithLabelValues("ok").Inc()
	return sum, nil
}

// ProcessEvent applies one push-delivered event. The push feed shares
// the poll feed's semantics but needs no acknowledgment.
func (p *Poller) ProcessEvent(ctx context.Context, settings model.IntegrationSettings, ev model.IngestionEvent) error {
	if p.now == nil { p.now = time.Now }
	return p.processEvent(ctx, settings, ev)
}

func (p *Poller) processEvent(ctx context.Context, settings model.IntegrationSettings, ev model.IngestionEvent) error {
	if ev.OrderID == "" {
		return errors.New("event without order id")
	}
	if isPlacedCode(ev.Code) {
		return p.ingestPlaced(ctx, settings, ev)
	}
	status, ok := statusByCode[ev.Code]
	if !ok {
		// unknown codes are consumed, not failed; the upstream adds
		// codes faster than integrations update
		return nil
	}
	return p.applyStatus(ctx, settings, ev.OrderID, status)
}

// ingestPlaced fetches the full order and creates the pending mirror.
// The conditional insert is the idempotency point: a duplicate event on
// an already-mirrored order is a no-op, not an error.
func (p *Poller) ingestPlaced(ctx context.Context, settings model.IntegrationSettings, ev model.IngestionEvent) error {
	raw, err := p.Market.GetOrder(ctx, settings.AccessToken, ev.OrderID)
	if err != nil {
		return fmt.Errorf("fetch order: %w", err)
	}
	var payload model.MarketplaceOrder
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("decode order payload: %w", err)
	}
	mir := model.MirroredOrder{
		RestaurantID:      settings.RestaurantID,
		ExternalOrderID:   ev.OrderID,
		ExternalDisplayID: payload.DisplayID,
		RawPayload:        raw,
		Status:            model.StatusPending,
		OrderTiming:       payload.OrderTiming,
		OrderType:         payload.OrderType,
		ExpiresAt:         p.expiry(payload),
	}
	if payload.Delivery != nil {
		mir.DeliveredBy = payload.Delivery.DeliveredBy
	}
	if payload.Schedule != nil && payload.Schedule.DeliveryDateTimeStart != "" {
		if t, err := time.Parse(time.RFC3339, payload.Schedule.DeliveryDateTimeStart); err == nil {
			mir.ScheduledTo = &t
		}
	}
	if payload.PickupCode != "" {
		mir.PickupCode = payload.PickupCode
	}
	if _, err := p.Store.InsertMirror(ctx, mir); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("insert mirror: %w", err)
	}
	if p.Pub != nil {
		p.Pub.Emit(ctx, settings.RestaurantID, "order.placed", map[string]any{
			"externalOrderId": ev.OrderID,
			"displayId":       payload.DisplayID,
		})
	}
	if p.Broker != nil {
		p.Broker.Publish(settings.RestaurantID, stream.Event{Type: "order.placed", Data: map[string]any{
			"externalOrderId": ev.OrderID,
		}})
	}
	if p.OnPlaced != nil && settings.AutoAccept {
		p.OnPlaced(ctx, settings.RestaurantID, ev.OrderID)
	}
	return nil
}

func (p *Poller) applyStatus(ctx context.Context, settings model.IntegrationSettings, orderID, status string) error {
	if _, err := p.Store.PatchMirror(ctx, settings.RestaurantID, orderID, model.MirrorPatch{Status: status}); err != nil {
		return fmt.Errorf("patch mirror to %s: %w", status, err)
	}
	if p.Broker != nil {
		p.Broker.Publish(settings.RestaurantID, stream.Event{Type: "order.status_changed", Data: map[string]any{
			"externalOrderId": orderID,
			"status":          status,
		}})
	}
	if p.Pub != nil {
		p.Pub.Emit(ctx, settings.RestaurantID, "order.status_changed", map[string]any{
			"externalOrderId": orderID,
			"status":          status,
		})
	}
	return nil
}

func (p *Poller) expiry(payload model.MarketplaceOrder) time.Time {
	if payload.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, payload.ExpiresAt); err == nil {
			return t
		}
	}
	return p.now().Add(pendingTTL)
}
