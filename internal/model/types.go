package model

import (
	"encoding/json"
	"time"
)

// Mirror statuses. The marketplace owns the order lifecycle; these track the
// gateway's local view of it.
const (
	StatusPending               = "pending"
	StatusConfirmed             = "confirmed"
	StatusPreparing             = "preparing"
	StatusReady                 = "ready"
	StatusDispatched            = "dispatched"
	StatusRejected              = "rejected"
	StatusCancellationRequested = "cancellation_requested"
	StatusCancelled             = "cancelled"
	StatusConcluded             = "concluded"
)

// IntegrationSettings is the per-restaurant marketplace credential row.
// Created and refreshed by the OAuth flow; read-only here.
type IntegrationSettings struct {
	RestaurantID   string     `json:"restaurantId"`
	MerchantID     string     `json:"merchantId"`
	AccessToken    string     `json:"accessToken,omitempty"`
	TokenExpiresAt time.Time  `json:"tokenExpiresAt"`
	IsEnabled      bool       `json:"isEnabled"`
	AutoAccept     bool       `json:"autoAccept,omitempty"`
	LastSyncAt     *time.Time `json:"lastSyncAt,omitempty"`
}

// MirroredOrder is the local shadow of one marketplace order.
type MirroredOrder struct {
	ID                   string          `json:"id"`
	RestaurantID         string          `json:"restaurantId"`
	ExternalOrderID      string          `json:"externalOrderId"`
	ExternalDisplayID    string          `json:"externalDisplayId,omitempty"`
	RawPayload           json.RawMessage `json:"rawPayload,omitempty"`
	Status               string          `json:"status"`
	OrderTiming          string          `json:"orderTiming,omitempty"`
	OrderType            string          `json:"orderType,omitempty"`
	DeliveredBy          string          `json:"deliveredBy,omitempty"`
	ScheduledTo          *time.Time      `json:"scheduledTo,omitempty"`
	PreparationStartedAt *time.Time      `json:"preparationStartedAt,omitempty"`
	PickupCode           string          `json:"pickupCode,omitempty"`
	ExpiresAt            time.Time       `json:"expiresAt"`
	LocalOrderID         string          `json:"localOrderId,omitempty"`
	RejectionReason      string          `json:"rejectionReason,omitempty"`
	CancellationCode     string          `json:"cancellationCode,omitempty"`
	CreatedAt            time.Time       `json:"createdAt"`
	UpdatedAt            time.Time       `json:"updatedAt"`
}

// MirrorPatch carries the fields an action may change on a mirror.
type MirrorPatch struct {
	Status               string
	LocalOrderID         *string
	RejectionReason      *string
	CancellationCode     *string
	PreparationStartedAt *time.Time
	PickupCode           *string
}

// LocalOrderDraft is the canonical order the converter produces. It is written
// exactly once per mirror, when the order is accepted.
type LocalOrderDraft struct {
	RestaurantID    string           `json:"restaurantId"`
	OrderType       string           `json:"orderType"`
	Status          string           `json:"status"`
	OrderNumber     *int             `json:"orderNumber,omitempty"`
	CustomerName    string           `json:"customerName"`
	DeliveryPhone   *string          `json:"deliveryPhone,omitempty"`
	DeliveryAddress *string          `json:"deliveryAddress,omitempty"`
	DeliveryFee     float64          `json:"deliveryFee"`
	Total           float64          `json:"total"`
	PaymentMethod   string           `json:"paymentMethod"`
	Notes           *string          `json:"notes,omitempty"`
	PrintStatus     string           `json:"printStatus"`
	Items           []LocalOrderItem `json:"items"`
}

type LocalOrderItem struct {
	ProductName string  `json:"productName"`
	UnitPrice   float64 `json:"unitPrice"`
	Quantity    int     `json:"quantity"`
	Notes       *string `json:"notes,omitempty"`
}

// IngestionEvent is one unit of the marketplace's polled event feed. Transient;
// discarded once acknowledged.
type IngestionEvent struct {
	ID         string         `json:"id"`
	Code       string         `json:"code"`
	OrderID    string         `json:"orderId"`
	MerchantID string         `json:"merchantId,omitempty"`
	CreatedAt  string         `json:"createdAt,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MarketplaceOrder is the typed view of the upstream order payload. Every field
// is optional; the upstream schema drifts and the converter must tolerate it.
type MarketplaceOrder struct {
	ID             string        `json:"id,omitempty"`
	DisplayID      string        `json:"displayId,omitempty"`
	OrderTiming    string        `json:"orderTiming,omitempty"`
	OrderType      string        `json:"orderType,omitempty"`
	CreatedAt      string        `json:"createdAt,omitempty"`
	ExpiresAt      string        `json:"expiresAt,omitempty"`
	Customer       *Customer     `json:"customer,omitempty"`
	Delivery       *DeliveryInfo `json:"delivery,omitempty"`
	Schedule       *Schedule     `json:"schedule,omitempty"`
	Payments       []Payment     `json:"payments,omitempty"`
	Total          *OrderTotal   `json:"total,omitempty"`
	Items          []OrderItem   `json:"items,omitempty"`
	AdditionalInfo string        `json:"additionalInfo,omitempty"`
	PickupCode     string        `json:"pickupCode,omitempty"`
}

type Customer struct {
	Name  string `json:"name,omitempty"`
	Phone *Phone `json:"phone,omitempty"`
}

// Phone arrives either as a plain string or as {"number": "..."}.
type Phone struct {
	Number string `json:"number,omitempty"`
}

func (p *Phone) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		p.Number = s
		return nil
	}
	type alias Phone
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	p.Number = a.Number
	return nil
}

type DeliveryInfo struct {
	DeliveredBy      string           `json:"deliveredBy,omitempty"`
	DeliveryDateTime string           `json:"deliveryDateTime,omitempty"`
	DeliveryAddress  *DeliveryAddress `json:"deliveryAddress,omitempty"`
}

type DeliveryAddress struct {
	StreetName   string `json:"streetName,omitempty"`
	StreetNumber string `json:"streetNumber,omitempty"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
}

type Schedule struct {
	DeliveryDateTimeStart string `json:"deliveryDateTimeStart,omitempty"`
	DeliveryDateTimeEnd   string `json:"deliveryDateTimeEnd,omitempty"`
}

type Payment struct {
	Method  string  `json:"method,omitempty"`
	Prepaid bool    `json:"prepaid,omitempty"`
	Value   float64 `json:"value,omitempty"`
}

type OrderTotal struct {
	OrderAmount float64 `json:"orderAmount"`
	DeliveryFee float64 `json:"deliveryFee"`
	SubTotal    float64 `json:"subTotal,omitempty"`
}

type OrderItem struct {
	Name         string  `json:"name,omitempty"`
	UnitPrice    float64 `json:"unitPrice,omitempty"`
	TotalPrice   float64 `json:"totalPrice,omitempty"`
	Quantity     int     `json:"quantity,omitempty"`
	Observations string  `json:"observations,omitempty"`
}

// NotificationSubscription registers a restaurant-side consumer (printer
// agent, dashboard backend) for gateway events.
type NotificationSubscription struct {
	ID           string   `json:"id"`
	RestaurantID string   `json:"restaurantId"`
	URL          string   `json:"url"`
	Events       []string `json:"events"`
	Secret       string   `json:"secret,omitempty"`
}
