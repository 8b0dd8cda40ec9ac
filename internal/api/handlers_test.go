package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LastBoss7/orderly-eats-sub002/internal/marketplace"
	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
	"github.com/LastBoss7/orderly-eats-sub002/internal/notify"
)

func doAction(srv *Server, action, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/?action="+action, strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.ActionsHandler(rr, req)
	return rr
}

func TestActionsHandlerPreflight(t *testing.T) {
	srv, _ := newTestServer(&fakeMarket{})
	req := httptest.NewRequest(http.MethodOptions, "/?action=accept", nil)
	rr := httptest.NewRecorder()
	srv.ActionsHandler(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}

func TestActionsHandlerInvalidAction(t *testing.T) {
	srv, _ := newTestServer(&fakeMarket{})
	rr := doAction(srv, "explode", `{"restaurant_id":"r1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] != "Invalid action" {
		t.Fatalf("body = %v", body)
	}
}

func TestActionsHandlerMissingRestaurant(t *testing.T) {
	srv, _ := newTestServer(&fakeMarket{})
	rr := doAction(srv, "accept", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] != "Missing restaurant_id" {
		t.Fatalf("body = %v", body)
	}
}

func TestActionsHandlerNotConfigured(t *testing.T) {
	srv, _ := newTestServer(&fakeMarket{})
	rr := doAction(srv, "fetch", `{"restaurant_id":"r-unknown","ifood_order_id":"E1"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "not configured") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestActionsHandlerExpiredToken(t *testing.T) {
	fm := &fakeMarket{}
	srv, mem := newTestServer(fm)
	mem.SeedIntegration(model.IntegrationSettings{
		RestaurantID:   "r1",
		MerchantID:     "m1",
		AccessToken:    "tok",
		TokenExpiresAt: time.Now().Add(-time.Minute),
		IsEnabled:      true,
	})
	rr := doAction(srv, "fetch", `{"restaurant_id":"r1","ifood_order_id":"E1"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "expired") {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if fm.calls != 0 {
		t.Fatalf("remote calls = %d", fm.calls)
	}
}

func TestActionsHandlerTrackingUnavailable(t *testing.T) {
	fm := &fakeMarket{tracking: marketplace.TrackingResult{Available: false}}
	srv, mem := newTestServer(fm)
	seedEnabled(mem)
	rr := doAction(srv, "getTracking", `{"restaurant_id":"r1","ifood_order_id":"E1"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
	var res marketplace.TrackingResult
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if res.Available {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestActionsHandlerPickupCode(t *testing.T) {
	srv, mem := newTestServer(&fakeMarket{})
	seedEnabled(mem)
	rr := doAction(srv, "validatePickupCode", `{"restaurant_id":"r1","ifood_order_id":"E1","pickup_code":"0000"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var res marketplace.PickupValidation
	_ = json.Unmarshal(rr.Body.Bytes(), &res)
	if res.Valid {
		t.Fatal("wrong code must not validate")
	}
}

func TestWebhookHandlerIngestsBatch(t *testing.T) {
	srv, mem := newTestServer(&fakeMarket{})
	seedEnabled(mem)
	body := `[
		{"id":"ev-1","code":"PLC","orderId":"E1","merchantId":"m1"},
		{"id":"ev-2","code":"CFM","orderId":"E1","merchantId":"m1"},
		{"id":"ev-3","code":"PLC","orderId":"E2","merchantId":"m-unknown"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/v1/marketplace/webhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.WebhookHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["processed"].(float64) != 2 {
		t.Fatalf("resp = %v", resp)
	}
	mir, err := mem.GetMirror(context.Background(), "r1", "E1")
	if err != nil {
		t.Fatalf("mirror: %v", err)
	}
	if mir.Status != model.StatusConfirmed {
		t.Fatalf("status = %q", mir.Status)
	}
}

func TestWebhookHandlerSingleObject(t *testing.T) {
	srv, mem := newTestServer(&fakeMarket{})
	seedEnabled(mem)
	req := httptest.NewRequest(http.MethodPost, "/v1/marketplace/webhook",
		strings.NewReader(`{"id":"ev-1","code":"PLC","orderId":"E1","merchantId":"m1"}`))
	rr := httptest.NewRecorder()
	srv.WebhookHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	if _, err := mem.GetMirror(context.Background(), "r1", "E1"); err != nil {
		t.Fatalf("mirror: %v", err)
	}
}

func TestWebhookHandlerVerifiesSignature(t *testing.T) {
	srv, mem := newTestServer(&fakeMarket{})
	srv.cfg.WebhookSecret = "s3cret"
	seedEnabled(mem)
	body := `[{"id":"ev-1","code":"PLC","orderId":"E1","merchantId":"m1"}]`

	req := httptest.NewRequest(http.MethodPost, "/v1/marketplace/webhook", strings.NewReader(body))
	rr := httptest.NewRecorder()
	srv.WebhookHandler(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned request: status = %d", rr.Code)
	}
	if _, err := mem.GetMirror(context.Background(), "r1", "E1"); err == nil {
		t.Fatal("unsigned request must not ingest")
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/marketplace/webhook", strings.NewReader(body))
	req.Header.Set("X-Signature", notify.SignHMAC("s3cret", []byte(body)))
	rr = httptest.NewRecorder()
	srv.WebhookHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("signed request: status = %d body = %s", rr.Code, rr.Body.String())
	}
	if _, err := mem.GetMirror(context.Background(), "r1", "E1"); err != nil {
		t.Fatalf("mirror: %v", err)
	}
}

func TestWebhookHandlerSkipsDisabled(t *testing.T) {
	srv, mem := newTestServer(&fakeMarket{})
	mem.SeedIntegration(model.IntegrationSettings{RestaurantID: "r1", MerchantID: "m1", AccessToken: "tok", IsEnabled: false})
	req := httptest.NewRequest(http.MethodPost, "/v1/marketplace/webhook",
		strings.NewReader(`[{"id":"ev-1","code":"PLC","orderId":"E1","merchantId":"m1"}]`))
	rr := httptest.NewRecorder()
	srv.WebhookHandler(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rr.Code)
	}
	if _, err := mem.GetMirror(context.Background(), "r1", "E1"); err == nil {
		t.Fatal("disabled integration must not ingest")
	}
}

func TestMirrorsHandlerList(t *testing.T) {
	srv, mem := newTestServer(&fakeMarket{})
	seedEnabled(mem)
	seedPendingMirror(t, mem, `{}`)
	req := httptest.NewRequest(http.MethodGet, "/v1/orders?restaurant_id=r1&status=pending", nil)
	rr := httptest.NewRecorder()
	srv.MirrorsHandler(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Items []model.MirroredOrder `json:"items"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp.Items) != 1 || resp.Items[0].ExternalOrderID != "E1" {
		t.Fatalf("items = %+v", resp.Items)
	}
}

func TestSubscriptionsHandlerValidation(t *testing.T) {
	srv, _ := newTestServer(&fakeMarket{})
	req := httptest.NewRequest(http.MethodPost, "/v1/subscriptions",
		strings.NewReader(`{"restaurantId":"r1"}`))
	rr := httptest.NewRecorder()
	srv.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/subscriptions",
		strings.NewReader(`{"restaurantId":"r1","url":"http://printer.local/hook","events":["order.placed"]}`))
	rr = httptest.NewRecorder()
	srv.SubscriptionsHandler(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d body = %s", rr.Code, rr.Body.String())
	}
}
