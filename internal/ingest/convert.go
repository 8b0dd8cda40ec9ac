package ingest

import (
	"context"
	"strconv"
	"strings"

	"github.com/LastBoss7/orderly-eats-sub002/internal/model"
)

// NumberAllocator hands out the restaurant's next sequential order
// number. Conversion is otherwise pure.
type NumberAllocator interface {
	NextOrderNumber(ctx context.Context, restaurantID string) (int, error)
}

const (
	defaultCustomerName = "Cliente iFood"
	defaultItemName     = "Item iFood"
)

// Convert maps an upstream order payload to the canonical local draft.
// The payload is never mutated; missing fields fall back to the
// marketplace defaults.
func Convert(ctx context.Context, restaurantID string, payload model.MarketplaceOrder, nums NumberAllocator) (model.LocalOrderDraft, error) {
	draft := model.LocalOrderDraft{
		RestaurantID:  restaurantID,
		OrderType:     "marketplace",
		Status:        "pending",
		CustomerName:  defaultCustomerName,
		PaymentMethod: "other",
		PrintStatus:   "pending",
	}

	if payload.Customer != nil {
		if payload.Customer.Name != "" {
			draft.CustomerName = payload.Customer.Name
		}
		if payload.Customer.Phone != nil && payload.Customer.Phone.Number != "" {
			n := payload.Customer.Phone.Number
			draft.DeliveryPhone = &n
		}
	}

	if len(payload.Payments) > 0 {
		draft.PaymentMethod = classifyPayment(payload.Payments[0].Method)
	}

	if payload.Delivery != nil && payload.Delivery.DeliveryAddress != nil {
		if addr := formatAddress(*payload.Delivery.DeliveryAddress); addr != "" {
			draft.DeliveryAddress = &addr
		}
	}

	if payload.Total != nil {
		draft.DeliveryFee = payload.Total.DeliveryFee
		draft.Total = payload.Total.OrderAmount
	}

	if payload.AdditionalInfo != "" {
		notes := payload.AdditionalInfo
		draft.Notes = &notes
	}

	if n, err := nums.NextOrderNumber(ctx, restaurantID); err == nil && n > 0 {
		draft.OrderNumber = &n
	} else if d, derr := strconv.Atoi(payload.DisplayID); derr == nil && d > 0 {
		draft.OrderNumber = &d
	}

	draft.Items = make([]model.LocalOrderItem, 0, len(payload.Items))
	for _, it := range payload.Items {
		li := model.LocalOrderItem{
			ProductName: defaultItemName,
			UnitPrice:   it.UnitPrice,
			Quantity:    1,
		}
		if it.Name != "" {
			li.ProductName = it.Name
		}
		if li.UnitPrice == 0 {
			li.UnitPrice = it.TotalPrice
		}
		if it.Quantity > 0 {
			li.Quantity = it.Quantity
		}
		if it.Observations != "" {
			obs := it.Observations
			li.Notes = &obs
		}
		draft.Items = append(draft.Items, li)
	}
	return draft, nil
}

// classifyPayment buckets the upstream's free-form payment method by
// lowercase substring. Match order matters: credit wins over debit when
// both appear.
func classifyPayment(method string) string {
	m := strings.ToLower(method)
	switch {
	case strings.Contains(m, "credit"):
		return "credit"
	case strings.Contains(m, "debit"):
		return "debit"
	case strings.Contains(m, "pix"):
		return "pix"
	case strings.Contains(m, "cash"), strings.Contains(m, "dinheiro"):
		return "cash"
	default:
		return "other"
	}
}

// formatAddress comma-joins the non-empty address parts in upstream
// field order.
func formatAddress(a model.DeliveryAddress) string {
	parts := []string{}
	for _, p := range []string{a.StreetName, a.StreetNumber, a.Complement, a.Neighborhood, a.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
