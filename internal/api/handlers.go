package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/LastBoss7/orderly-eats-sub002/internal/marketplace"
	"github.com/LastBoss7/orderly-eats-sub002/internal/metrics"
	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
	"github.com/LastBoss7/orderly-eats-sub002/internal/notify"
	"github.com/LastBoss7/orderly-eats-sub002/internal/store"
)

// ActionsHandler is the single dispatch endpoint: POST /?action=name.
func (s *Server) ActionsHandler(w http.ResponseWriter, r *http.Request) {
	allowCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("action")
	fn, ok := s.Actions()[name]
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid action", name)
		return
	}
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if req.RestaurantID == "" {
		writeError(w, http.StatusBadRequest, "Missing restaurant_id", "")
		return
	}
	out, err := fn(r.Context(), req)
	if err != nil {
		metrics.Actions.WithLabelValues(name, "error").Inc()
		status := actionStatus(err)
		if status >= 500 {
			log.Printf("api: action=%s restaurant=%s: %v", name, req.RestaurantID, err)
		}
		writeError(w, status, actionMessage(err), errDetails(err))
		return
	}
	metrics.Actions.WithLabelValues(name, "ok").Inc()
	// Unavailable tracking keeps its upstream 404 so callers can tell
	// it apart from a tracked order.
	if tr, ok := out.(marketplace.TrackingResult); ok && !tr.Available {
		writeJSON(w, http.StatusNotFound, tr)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// actionMessage picks the caller-facing message for an action error.
func actionMessage(err error) string {
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return fmt.Sprintf("Remote %s succeeded but local update failed", pf.Remote)
	}
	if _, ok := marketplace.UpstreamStatus(err); ok {
		return "Marketplace call failed"
	}
	if errors.Is(err, store.ErrNotFound) {
		return "Order not found"
	}
	return err.Error()
}

func errDetails(err error) string {
	var ue *marketplace.UpstreamError
	if errors.As(err, &ue) {
		return ue.Body
	}
	var pf *PartialFailure
	if errors.As(err, &pf) {
		return pf.Err.Error()
	}
	return ""
}

// WebhookHandler ingests the marketplace's push feed. Events carry a
// merchant id, not a restaurant id; disabled or unknown merchants are
// skipped. Always answers 202 so the upstream stops retrying.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	allowCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body", err.Error())
		return
	}
	if s.cfg.WebhookSecret != "" && !notify.VerifyHMAC(s.cfg.WebhookSecret, body, r.Header.Get("X-Signature")) {
		writeError(w, http.StatusUnauthorized, "Invalid signature", "")
		return
	}
	var events []model.IngestionEvent
	if err := json.Unmarshal(body, &events); err != nil {
		var single model.IngestionEvent
		if err := json.Unmarshal(body, &single); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
			return
		}
		events = []model.IngestionEvent{single}
	}
	processed := 0
	for _, ev := range events {
		if ev.OrderID == "" || ev.MerchantID == "" {
			continue
		}
		settings, err := s.Store.GetSettingsByMerchant(r.Context(), ev.MerchantID)
		if err != nil || !settings.IsEnabled {
			continue
		}
		if err := s.Poller.ProcessEvent(r.Context(), settings, ev); err != nil {
			log.Printf("api: webhook event=%s code=%s: %v", ev.ID, ev.Code, err)
			continue
		}
		processed++
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "processed": processed})
}

// MirrorsHandler lists mirrored orders: GET /v1/orders?restaurant_id=&status=&cursor=&limit=.
func (s *Server) MirrorsHandler(w http.ResponseWriter, r *http.Request) {
	allowCORS(w)
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	restaurantID := r.URL.Query().Get("restaurant_id")
	if restaurantID == "" {
		writeError(w, http.StatusBadRequest, "Missing restaurant_id", "")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil { limit = n }
	}
	items, next, err := s.Store.ListMirrors(r.Context(), restaurantID, r.URL.Query().Get("status"), r.URL.Query().Get("cursor"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "List orders failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// SubscriptionsHandler registers a notification consumer: POST /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	allowCORS(w)
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var sub model.NotificationSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if sub.RestaurantID == "" || sub.URL == "" || len(sub.Events) == 0 {
		writeError(w, http.StatusBadRequest, "restaurantId, url and events are required", "")
		return
	}
	created, err := s.Store.CreateSubscription(r.Context(), sub)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Create subscription failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler verifies the datastore is reachable.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	type pinger interface{ Ping(ctx context.Context) error }
	if p, ok := s.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "datastore unavailable", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
