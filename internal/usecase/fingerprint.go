package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	domain "github.com/aq2208/garden-checkout/internal/entity"
)

type fingerprintItem struct {
	ProductID string `json:"p"`
	Quantity  int    `json:"q"`
}

type fingerprintDoc struct {
	Items        []fingerprintItem   `json:"items"`
	Customer     domain.CustomerInfo `json:"customer"`
	Fulfillment  string              `json:"fulfillment"`
	Instructions string              `json:"instructions"`
	PaymentKind  string              `json:"paymentKind"`
	Token        string              `json:"token,omitempty"`
	CardLast4    string              `json:"cardLast4,omitempty"`
	CardExpiry   [2]int              `json:"cardExpiry"`
}

// Fingerprint hashes the parts of a submission that decide what gets
// charged and stored. The full card number and CVC never enter the hash.
func Fingerprint(in CheckoutInput) string {
	doc := fingerprintDoc{
		Customer:     normalizeCustomer(in.Customer),
		Fulfillment:  string(in.FulfillmentMethod),
		Instructions: strings.TrimSpace(in.SpecialInstructions),
		PaymentKind:  string(in.PaymentMethod.Kind),
		Token:        in.PaymentMethod.Token,
	}
	for _, it := range in.Items {
		doc.Items = append(doc.Items, fingerprintItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if c := in.PaymentMethod.Card; c != nil {
		doc.CardLast4 = c.Last4()
		doc.CardExpiry = [2]int{c.ExpMonth, c.ExpYear}
	}
	b, _ := json.Marshal(doc)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// paymentReference is stable for an idempotency key, so a retried charge
// carries the same gateway idempotency key.
func paymentReference(idempotencyKey string) string {
	sum := sha256.Sum256([]byte("charge:" + idempotencyKey))
	return "chk_" + hex.EncodeToString(sum[:12])
}

func normalizeCustomer(c domain.CustomerInfo) domain.CustomerInfo {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = domain.NormalizeEmail(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address.Street = strings.TrimSpace(c.Address.Street)
	c.Address.City = strings.TrimSpace(c.Address.City)
	c.Address.State = strings.TrimSpace(c.Address.State)
	c.Address.Zip = strings.TrimSpace(c.Address.Zip)
	c.Address.Country = strings.TrimSpace(c.Address.Country)
	return c
}
