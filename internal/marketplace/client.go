// Package marketplace is a thin typed wrapper over the delivery
// platform's merchant order API. Every method is a single HTTP call
// with bearer auth; retry policy belongs to callers.
package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/LastBoss7/orderly-eats-sub002/internal/metrics"
	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
)

const DefaultBaseURL = "https://merchant-api.ifood.com.br"

// API is the surface the dispatcher and poller depend on; tests swap in
// a fake.
type API interface {
	Confirm(ctx context.Context, token, orderID string) (json.RawMessage, error)
	Reject(ctx context.Context, token, orderID, reason, code string) (json.RawMessage, error)
	StartPreparation(ctx context.Context, token, orderID string) (json.RawMessage, error)
	ReadyToPickup(ctx context.Context, token, orderID string) (json.RawMessage, error)
	Dispatch(ctx context.Context, token, orderID string) (json.RawMessage, error)
	GetOrder(ctx context.Context, token, orderID string) (json.RawMessage, error)
	CancellationReasons(ctx context.Context, token, orderID string) (json.RawMessage, error)
	RequestCancellation(ctx context.Context, token, orderID, reason, code string) (json.RawMessage, error)
	Tracking(ctx context.Context, token, orderID string) (TrackingResult, error)
	ValidatePickupCode(ctx context.Context, token, orderID, code string) (PickupValidation, error)
	PollEvents(ctx context.Context, token, merchantID string) ([]model.IngestionEvent, error)
	AckEvents(ctx context.Context, token string, ids []string) error
}

type TrackingResult struct {
	Available bool            `json:"available"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type PickupValidation struct {
	Valid   bool            `json:"valid"`
	Details json.RawMessage `json:"details,omitempty"`
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	limiter *rate.Limiter
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.http = &http.Client{Timeout: d}
		}
	}
}

// WithRateLimit caps outbound request rate across all restaurants
// sharing this client.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) { cl.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("marketplace: parse base url: %w", err)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, op, method, path, token string, body any, headers map[string]string) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(op, "transport_error").Inc()
		return 0, nil, err
	}
	defer resp.Body.Close()
	metrics.UpstreamRequests.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, b, nil
}

// call issues the request and maps non-2xx to UpstreamError.
func (c *Client) call(ctx context.Context, op, method, path, token string, body any) (json.RawMessage, error) {
	status, b, err := c.do(ctx, op, method, path, token, body, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Status: status, Body: string(b)}
	}
	if len(b) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(b), nil
}

func (c *Client) Confirm(ctx context.Context, token, orderID string) (json.RawMessage, error) {
	return c.call(ctx, "confirm", http.MethodPost, "/order/v1.0/orders/"+url.PathEscape(orderID)+"/confirm", token, nil)
}

func (c *Client) Reject(ctx context.Context, token, orderID, reason, code string) (json.RawMessage, error) {
	body := map[string]string{"reason": reason, "cancellationCode": code}
	return c.call(ctx, "reject", http.MethodPost, "/order/v1.0/orders/"+url.PathEscape(orderID)+"/reject", token, body)
}

func (c *Client) StartPreparation(ctx context.Context, token, orderID string) (json.RawMessage, error) {
	return c.call(ctx, "startPreparation", http.MethodPost, "/order/v1.0/orders/"+url.PathEscape(orderID)+"/startPreparation", token, nil)
}

func (c *Client) ReadyToPickup(ctx context.Context, token, orderID string) (json.RawMessage, error) {
	return c.call(ctx, "readyToPickup", http.MethodPost, "/order/v1.0/orders/"+url.PathEscape(orderID)+"/readyToPickup", token, nil)
}

func (c *Client) Dispatch(ctx context.Context, token, orderID string) (json.RawMessage, error) {
	return c.call(ctx, "dispatch", http.MethodPost, "/order/v1.0/orders/"+url.PathEscape(orderID)+"/dispatch", token, nil)
}

func (c *Client) GetOrder(ctx context.Context, token, orderID string) (json.RawMessage, error) {
	return c.call(ctx, "getOrder", http.MethodGet, "/order/v1.0/orders/"+url.PathEscape(orderID), token, nil)
}

// CancellationReasons returns [] on 204; the upstream answers 204 when
// the order has no eligible reasons.
func (c *Client) CancellationReasons(ctx context.Context, token, orderID string) (json.RawMessage, error) {
	status, b, err := c.do(ctx, "cancellationReasons", http.MethodGet, "/order/v1.0/orders/"+url.PathEscape(orderID)+"/cancellationReasons", token, nil, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return json.RawMessage(`[]`), nil
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Status: status, Body: string(b)}
	}
	return json.RawMessage(b), nil
}

func (c *Client) RequestCancellation(ctx context.Context, token, orderID, reason, code string) (json.RawMessage, error) {
	body := map[string]string{"reason": reason, "cancellationCode": code}
	return c.call(ctx, "requestCancellation", http.MethodPost, "/order/v1.0/orders/"+url.PathEscape(orderID)+"/requestCancellation", token, body)
}

// Tracking maps 404 to {available:false}; courier position simply is
// not published for every order type.
func (c *Client) Tracking(ctx context.Context, token, orderID string) (TrackingResult, error) {
	status, b, err := c.do(ctx, "tracking", http.MethodGet, "/order/v1.0/orders/"+url.PathEscape(orderID)+"/tracking", token, nil, nil)
	if err != nil {
		return TrackingResult{}, err
	}
	if status == http.StatusNotFound {
		return TrackingResult{Available: false}, nil
	}
	if status < 200 || status >= 300 {
		return TrackingResult{}, &UpstreamError{Status: status, Body: string(b)}
	}
	return TrackingResult{Available: true, Payload: b}, nil
}

// ValidatePickupCode never returns UpstreamError for a wrong code; a
// non-2xx answer means the code did not validate.
func (c *Client) ValidatePickupCode(ctx context.Context, token, orderID, code string) (PickupValidation, error) {
	body := map[string]string{"code": code}
	status, b, err := c.do(ctx, "validatePickupCode", http.MethodPost, "/order/v1.0/orders/"+url.PathEscape(orderID)+"/verifyDeliveryCode", token, body, nil)
	if err != nil {
		return PickupValidation{}, err
	}
	if status < 200 || status >= 300 {
		return PickupValidation{Valid: false, Details: b}, nil
	}
	return PickupValidation{Valid: true, Details: b}, nil
}

// PollEvents returns an empty slice on 204 (nothing pending upstream).
func (c *Client) PollEvents(ctx context.Context, token, merchantID string) ([]model.IngestionEvent, error) {
	headers := map[string]string{"x-polling-merchants": merchantID}
	status, b, err := c.do(ctx, "pollEvents", http.MethodGet, "/order/v1.0/events:polling", token, nil, headers)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return []model.IngestionEvent{}, nil
	}
	if status < 200 || status >= 300 {
		return nil, &UpstreamError{Status: status, Body: string(b)}
	}
	var events []model.IngestionEvent
	if err := json.Unmarshal(b, &events); err != nil {
		return nil, fmt.Errorf("marketplace: decode events: %w", err)
	}
	return events, nil
}

// AckEvents posts the full id list in one batch; the upstream has no
// partial acknowledgment.
func (c *Client) AckEvents(ctx context.Context, token string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		body = append(body, map[string]string{"id": id})
	}
	_, err := c.call(ctx, "ackEvents", http.MethodPost, "/order/v1.0/events/acknowledgment", token, body)
	return err
}
