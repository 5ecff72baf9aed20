package http

import (
	"time"

	domain "github.com/aq2208/garden-checkout/internal/entity"
)

type lineItemView struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal string `json:"lineTotal"`
}

type totalsView struct {
	Subtotal   string `json:"subtotal"`
	Tax        string `json:"tax"`
	Shipping   string `json:"shipping"`
	GrandTotal string `json:"grandTotal"`
}

type orderView struct {
	ID                       string              `json:"id"`
	Items                    []lineItemView      `json:"items"`
	Customer                 domain.CustomerInfo `json:"customerInfo"`
	Totals                   totalsView          `json:"totals"`
	Currency                 string              `json:"currency"`
	FulfillmentMethod        string              `json:"fulfillmentMethod"`
	SpecialInstructions      string              `json:"specialInstructions,omitempty"`
	Status                   string              `json:"status"`
	PaymentKind              string              `json:"paymentKind"`
	PaymentID                string              `json:"paymentId,omitempty"`
	PaymentReference         string              `json:"paymentReference,omitempty"`
	PaymentStatus            string              `json:"paymentStatus"`
	PaymentFailureReason     string              `json:"paymentFailureReason,omitempty"`
	CardReference            string              `json:"cardReference,omitempty"`
	CreatedAt                time.Time           `json:"createdAt"`
	EstimatedFulfillmentDate *time.Time          `json:"estimatedFulfillmentDate,omitempty"`
}

func toOrderView(o *domain.Order) orderView {
	items := make([]lineItemView, 0, len(o.Items))
	for _, li := range o.Items {
		items = append(items, lineItemView{
			ProductID: li.ProductID,
			Name:      li.Name,
			UnitPrice: li.UnitPrice.StringFixed(2),
			Quantity:  li.Quantity,
			LineTotal: li.LineTotal().StringFixed(2),
		})
	}
	return orderView{
		ID:       o.ID,
		Items:    items,
		Customer: o.Customer,
		Totals: totalsView{
			Subtotal:   o.Totals.Subtotal.StringFixed(2),
			Tax:        o.Totals.Tax.StringFixed(2),
			Shipping:   o.Totals.Shipping.StringFixed(2),
			GrandTotal: o.Totals.GrandTotal.StringFixed(2),
		},
		Currency:                 o.Currency,
		FulfillmentMethod:        string(o.FulfillmentMethod),
		SpecialInstructions:      o.SpecialInstructions,
		Status:                   string(o.Status),
		PaymentKind:              string(o.PaymentKind),
		PaymentID:                o.PaymentID,
		PaymentReference:         o.PaymentReference,
		PaymentStatus:            string(o.PaymentStatus),
		PaymentFailureReason:     o.PaymentFailureReason,
		CardReference:            o.CardReference,
		CreatedAt:                o.CreatedAt,
		EstimatedFulfillmentDate: o.EstimatedFulfillmentDate,
	}
}

func toOrderViews(orders []*domain.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderView(o))
	}
	return out
}
