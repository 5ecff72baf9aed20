package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type FulfillmentMethod string

const (
	FulfillmentPickup   FulfillmentMethod = "pickup"
	FulfillmentDelivery FulfillmentMethod = "delivery"
)

func (f FulfillmentMethod) Valid() bool {
	return f == FulfillmentPickup || f == FulfillmentDelivery
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

type PaymentKind string

const (
	PaymentKindGateway PaymentKind = "gateway"
	PaymentKindCash    PaymentKind = "cash"
)

var (
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	ErrNegativePrice   = errors.New("unit price must not be negative")
)

// LineItem is one priced cart line. LineTotal is always derived.
type LineItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

func NewLineItem(productID, name string, unitPrice decimal.Decimal, qty int) (LineItem, error) {
	if qty < 1 {
		return LineItem{}, ErrInvalidQuantity
	}
	if unitPrice.IsNegative() {
		return LineItem{}, ErrNegativePrice
	}
	return LineItem{ProductID: productID, Name: name, UnitPrice: unitPrice, Quantity: qty}, nil
}

func (li LineItem) LineTotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type CustomerInfo struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Phone   string  `json:"phone"`
	Address Address `json:"address"`
}

// NormalizeEmail lowercases and trims an address so lookups match what was stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CardData is raw card input. It is only ever handed to the gateway for
// tokenization and must not be persisted.
type CardData struct {
	Number         string `json:"number"`
	ExpMonth       int    `json:"expMonth"`
	ExpYear        int    `json:"expYear"`
	CVC            string `json:"cvc"`
	CardholderName string `json:"name,omitempty"`
}

// Last4 returns the trailing four digits of the card number, or "" when too short.
func (c CardData) Last4() string {
	digits := make([]byte, 0, len(c.Number))
	for i := 0; i < len(c.Number); i++ {
		if ch := c.Number[i]; ch >= '0' && ch <= '9' {
			digits = append(digits, ch)
		}
	}
	if len(digits) < 4 {
		return ""
	}
	return string(digits[len(digits)-4:])
}

type PaymentMethod struct {
	Kind  PaymentKind `json:"kind"`
	Token string      `json:"token,omitempty"`
	Card  *CardData   `json:"card,omitempty"`
}

// CardReference is the obfuscated card reference allowed in storage.
func (pm PaymentMethod) CardReference() string {
	if pm.Card == nil {
		return ""
	}
	if l4 := pm.Card.Last4(); l4 != "" {
		return "**** " + l4
	}
	return ""
}

type Totals struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Tax        decimal.Decimal `json:"tax"`
	Shipping   decimal.Decimal `json:"shipping"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
}

// Order is the aggregate root. Everything except Status (and a pending
// payment's resolution) is fixed at creation.
type Order struct {
	ID                       string            `json:"id"`
	IdempotencyKey           string            `json:"-"`
	RequestHash              string            `json:"-"`
	Items                    []LineItem        `json:"items"`
	Customer                 CustomerInfo      `json:"customerInfo"`
	Totals                   Totals            `json:"totals"`
	Currency                 string            `json:"currency"`
	FulfillmentMethod        FulfillmentMethod `json:"fulfillmentMethod"`
	SpecialInstructions      string            `json:"specialInstructions,omitempty"`
	Status                   Status            `json:"status"`
	PaymentKind              PaymentKind       `json:"paymentKind"`
	PaymentID                string            `json:"paymentId,omitempty"`
	PaymentReference         string            `json:"paymentReference,omitempty"`
	PaymentStatus            PaymentStatus     `json:"paymentStatus"`
	PaymentFailureReason     string            `json:"paymentFailureReason,omitempty"`
	CardReference            string            `json:"cardReference,omitempty"`
	CreatedAt                time.Time         `json:"createdAt"`
	EstimatedFulfillmentDate *time.Time        `json:"estimatedFulfillmentDate,omitempty"`
}

var (
	ErrMissingID         = errors.New("order id required")
	ErrEmptyItems        = errors.New("order must contain items")
	ErrTotalsMismatch    = errors.New("grand total must equal subtotal + tax + shipping")
	ErrPaidWithoutCharge = errors.New("succeeded payment requires a payment id")
)

// Validate checks the invariants every stored order must satisfy.
func (o *Order) Validate() error {
	if o.ID == "" {
		return ErrMissingID
	}
	if len(o.Items) == 0 {
		return ErrEmptyItems
	}
	t := o.Totals
	if !t.Subtotal.Add(t.Tax).Add(t.Shipping).Equal(t.GrandTotal) {
		return ErrTotalsMismatch
	}
	if o.PaymentStatus == PaymentSucceeded && o.PaymentID == "" {
		return ErrPaidWithoutCharge
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate a stored snapshot.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.Items = append([]LineItem(nil), o.Items...)
	if o.EstimatedFulfillmentDate != nil {
		eta := *o.EstimatedFulfillmentDate
		cp.EstimatedFulfillmentDate = &eta
	}
	return &cp
}
