package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/LastBoss7/orderly-eats-sub002/internal/credentials"
	"github.com/LastBoss7/orderly-eats-sub002/internal/ingest"
	"github.com/LastBoss7/orderly-eats-sub002/internal/marketplace"
	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
	"github.com/LastBoss7/orderly-eats-sub002/internal/store"
	"github.com/LastBoss7/orderly-eats-sub002/internal/stream"
)

const defaultRejectReason = "RESTAURANT_CANCELLED"

// rejectCancellationCode is the fixed upstream code for merchant-side
// rejection of a pending order.
const rejectCancellationCode = "501"

// ActionRequest is the body of every dispatched action.
type ActionRequest struct {
	RestaurantID     string `json:"restaurant_id"`
	OrderID          string `json:"ifood_order_id,omitempty"`
	Reason           string `json:"reason,omitempty"`
	CancellationCode string `json:"cancellation_code,omitempty"`
	PickupCode       string `json:"pickup_code,omitempty"`
}

// ActionFunc executes one named action. The returned value is the
// response body for a 200.
type ActionFunc func(ctx context.Context, req ActionRequest) (any, error)

// Actions enumerates the supported actions. Built once per server so
// handlers close over the server's dependencies.
func (s *Server) Actions() map[string]ActionFunc {
	return map[string]ActionFunc{
		"accept":                 s.accept,
		"reject":                 s.reject,
		"startPreparation":       s.startPreparation,
		"ready":                  s.ready,
		"dispatch":               s.dispatch,
		"fetch":                  s.fetch,
		"getCancellationReasons": s.cancellationReasons,
		"requestCancellation":    s.requestCancellation,
		"getTracking":            s.tracking,
		"validatePickupCode":     s.validatePickupCode,
		"polling":                s.polling,
	}
}

// errBadRequest marks validation failures that map to 400.
type errBadRequest struct{ msg string }

func (e errBadRequest) Error() string { return e.msg }

// errConflict marks precondition failures that map to 409.
type errConflict struct{ msg string }

func (e errConflict) Error() string { return e.msg }

// PartialFailure reports that the remote call succeeded but a local
// follow-up write failed. The remote state is authoritative; the local
// side needs operator attention.
type PartialFailure struct {
	Remote string
	Err    error
}

func (p *PartialFailure) Error() string {
	return fmt.Sprintf("remote %s succeeded but local update failed: %v", p.Remote, p.Err)
}

func (p *PartialFailure) Unwrap() error { return p.Err }

// actionStatus maps an action error to the HTTP status the caller sees.
// Upstream failures keep the upstream's own status code.
func actionStatus(err error) int {
	var br errBadRequest
	var cf errConflict
	var pf *PartialFailure
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest
	case errors.As(err, &cf):
		return http.StatusConflict
	case errors.Is(err, credentials.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, credentials.ErrNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pf):
		return http.StatusInternalServerError
	default:
		if status, ok := marketplace.UpstreamStatus(err); ok {
			return status
		}
		return http.StatusInternalServerError
	}
}

func (s *Server) accept(ctx context.Context, req ActionRequest) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, errBadRequest{"Missing ifood_order_id"}
	}
	mir, err := s.Store.GetMirror(ctx, req.RestaurantID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if mir.Status != model.StatusPending {
		return nil, errConflict{fmt.Sprintf("order is %s, only pending orders can be accepted", mir.Status)}
	}
	if _, err := s.Market.Confirm(ctx, settings.AccessToken, req.OrderID); err != nil {
		return nil, fmt.Errorf("confirm order: %w", err)
	}

	// The remote order is confirmed from here on. Local failures must
	// not report the whole action as failed-and-retryable: retrying the
	// confirm would hit an already-confirmed order.
	localID, err := s.createLocalOrder(ctx, req.RestaurantID, mir)
	if err != nil {
		_, _ = s.Store.PatchMirror(ctx, req.RestaurantID, req.OrderID, model.MirrorPatch{Status: model.StatusConfirmed})
		return nil, &PartialFailure{Remote: "confirm", Err: err}
	}
	updated, err := s.Store.PatchMirror(ctx, req.RestaurantID, req.OrderID, model.MirrorPatch{
		Status:       model.StatusConfirmed,
		LocalOrderID: &localID,
	})
	if err != nil {
		return nil, &PartialFailure{Remote: "confirm", Err: err}
	}
	s.publish(ctx, req.RestaurantID, "order.accepted", map[string]any{
		"externalOrderId": req.OrderID,
		"localOrderId":    localID,
	})
	return map[string]any{"success": true, "order": updated, "localOrderId": localID}, nil
}

func (s *Server) createLocalOrder(ctx context.Context, restaurantID string, mir model.MirroredOrder) (string, error) {
	var payload model.MarketplaceOrder
	if len(mir.RawPayload) > 0 {
		if err := json.Unmarshal(mir.RawPayload, &payload); err != nil {
			return "", fmt.Errorf("decode stored payload: %w", err)
		}
	}
	draft, err := ingest.Convert(ctx, restaurantID, payload, s.Store)
	if err != nil {
		return "", err
	}
	return s.Store.CreateLocalOrder(ctx, draft)
}

func (s *Server) reject(ctx context.Context, req ActionRequest) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, errBadRequest{"Missing ifood_order_id"}
	}
	if _, err := s.Store.GetMirror(ctx, req.RestaurantID, req.OrderID); err != nil {
		return nil, err
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultRejectReason
	}
	if _, err := s.Market.Reject(ctx, settings.AccessToken, req.OrderID, reason, rejectCancellationCode); err != nil {
		return nil, fmt.Errorf("reject order: %w", err)
	}
	updated, err := s.Store.PatchMirror(ctx, req.RestaurantID, req.OrderID, model.MirrorPatch{
		Status:          model.StatusRejected,
		RejectionReason: &reason,
	})
	if err != nil {
		return nil, &PartialFailure{Remote: "reject", Err: err}
	}
	s.publish(ctx, req.RestaurantID, "order.rejected", map[string]any{
		"externalOrderId": req.OrderID,
		"reason":          reason,
	})
	return map[string]any{"success": true, "order": updated}, nil
}

func (s *Server) startPreparation(ctx context.Context, req ActionRequest) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, errBadRequest{"Missing ifood_order_id"}
	}
	mir, err := s.Store.GetMirror(ctx, req.RestaurantID, req.OrderID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Market.StartPreparation(ctx, settings.AccessToken, req.OrderID); err != nil {
		return nil, fmt.Errorf("start preparation: %w", err)
	}
	now := time.Now().UTC()
	updated, err := s.Store.PatchMirror(ctx, req.RestaurantID, req.OrderID, model.MirrorPatch{
		Status:               model.StatusPreparing,
		PreparationStartedAt: &now,
	})
	if err != nil {
		return nil, &PartialFailure{Remote: "startPreparation", Err: err}
	}
	if mir.LocalOrderID != "" {
		if err := s.Store.SetLocalOrderStatus(ctx, req.RestaurantID, mir.LocalOrderID, model.StatusPreparing); err != nil {
			return nil, &PartialFailure{Remote: "startPreparation", Err: err}
		}
	}
	s.publish(ctx, req.RestaurantID, "order.preparing", map[string]any{"externalOrderId": req.OrderID})
	return map[string]any{"success": true, "order": updated}, nil
}

func (s *Server) ready(ctx context.Context, req ActionRequest) (any, error) {
	return s.upstreamOnly(ctx, req, "readyToPickup", s.Market.ReadyToPickup)
}

func (s *Server) dispatch(ctx context.Context, req ActionRequest) (any, error) {
	return s.upstreamOnly(ctx, req, "dispatch", s.Market.Dispatch)
}

// upstreamOnly covers actions whose status lives only upstream; the
// mirror catches up via the event feed.
func (s *Server) upstreamOnly(ctx context.Context, req ActionRequest, name string, call func(context.Context, string, string) (json.RawMessage, error)) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, errBadRequest{"Missing ifood_order_id"}
	}
	raw, err := call(ctx, settings.AccessToken, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return map[string]any{"success": true, "result": raw}, nil
}

func (s *Server) fetch(ctx context.Context, req ActionRequest) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, errBadRequest{"Missing ifood_order_id"}
	}
	raw, err := s.Market.GetOrder(ctx, settings.AccessToken, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	return raw, nil
}

func (s *Server) cancellationReasons(ctx context.Context, req ActionRequest) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, errBadRequest{"Missing ifood_order_id"}
	}
	raw, err := s.Market.CancellationReasons(ctx, settings.AccessToken, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get cancellation reasons: %w", err)
	}
	return map[string]any{"reasons": raw}, nil
}

func (s *Server) requestCancellation(ctx context.Context, req ActionRequest) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, errBadRequest{"Missing ifood_order_id"}
	}
	if req.CancellationCode == "" {
		return nil, errBadRequest{"Missing cancellation_code"}
	}
	if _, err := s.Market.RequestCancellation(ctx, settings.AccessToken, req.OrderID, req.Reason, req.CancellationCode); err != nil {
		return nil, fmt.Errorf("request cancellation: %w", err)
	}
	// Optimistic: the definitive cancelled transition arrives later via
	// the event feed (CAN), not here.
	updated, err := s.Store.PatchMirror(ctx, req.RestaurantID, req.OrderID, model.MirrorPatch{
		Status:           model.StatusCancellationRequested,
		CancellationCode: &req.CancellationCode,
		RejectionReason:  &req.Reason,
	})
	if err != nil {
		return nil, &PartialFailure{Remote: "requestCancellation", Err: err}
	}
	return map[string]any{"success": true, "order": updated}, nil
}

func (s *Server) tracking(ctx context.Context, req ActionRequest) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, errBadRequest{"Missing ifood_order_id"}
	}
	res, err := s.Market.Tracking(ctx, settings.AccessToken, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("get tracking: %w", err)
	}
	return res, nil
}

func (s *Server) validatePickupCode(ctx context.Context, req ActionRequest) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if req.OrderID == "" {
		return nil, errBadRequest{"Missing ifood_order_id"}
	}
	if req.PickupCode == "" {
		return nil, errBadRequest{"Missing pickup_code"}
	}
	res, err := s.Market.ValidatePickupCode(ctx, settings.AccessToken, req.OrderID, req.PickupCode)
	if err != nil {
		return nil, fmt.Errorf("validate pickup code: %w", err)
	}
	return res, nil
}

func (s *Server) polling(ctx context.Context, req ActionRequest) (any, error) {
	settings, err := s.Guard.Load(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if settings.MerchantID == "" {
		return nil, errBadRequest{"Merchant not configured"}
	}
	sum, err := s.LockedPollOnce(ctx, settings)
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// pollLockTTL bounds a manual poll cycle; the scheduler holds the same
// lock for its own cycles.
const pollLockTTL = 2 * time.Minute

// LockedPollOnce runs one poll cycle under the per-restaurant lock so a
// manual poll cannot overlap a scheduled one.
func (s *Server) LockedPollOnce(ctx context.Context, settings model.IntegrationSettings) (ingest.Summary, error) {
	if s.Locker != nil {
		ok, err := s.Locker.TryLock(ctx, settings.RestaurantID, pollLockTTL)
		if err != nil {
			return ingest.Summary{}, err
		}
		if !ok {
			return ingest.Summary{}, errConflict{"poll already running for this restaurant"}
		}
		defer func() { _ = s.Locker.Unlock(ctx, settings.RestaurantID) }()
	}
	return s.Poller.PollOnce(ctx, settings)
}

func (s *Server) publish(ctx context.Context, restaurantID, eventType string, data map[string]any) {
	if s.Broker != nil {
		s.Broker.Publish(restaurantID, stream.Event{Type: eventType, Data: data})
	}
	if s.Pub != nil {
		s.Pub.Emit(ctx, restaurantID, eventType, data)
	}
}
