package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusConfirmed, StatusProcessing, true},
		{StatusProcessing, StatusShipped, true},
		{StatusShipped, StatusDelivered, true},
		{StatusPending, StatusCancelled, true},
		{StatusShipped, StatusCancelled, true},
		{StatusPending, StatusShipped, false},
		{StatusConfirmed, StatusPending, false},
		{StatusDelivered, StatusConfirmed, false},
		{StatusDelivered, StatusPending, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusPending, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, st)

	_, err = ParseStatus("lost")
	assert.Error(t, err)
}

func TestOrderValidate(t *testing.T) {
	item, err := NewLineItem("p1", "Fern", decimal.RequireFromString("29.99"), 1)
	require.NoError(t, err)

	o := &Order{
		ID:    "ORD-1",
		Items: []LineItem{item},
		Totals: Totals{
			Subtotal:   decimal.RequireFromString("29.99"),
			Tax:        decimal.RequireFromString("2.47"),
			Shipping:   decimal.Zero,
			GrandTotal: decimal.RequireFromString("32.46"),
		},
		PaymentStatus: PaymentPending,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, o.Validate())

	o.PaymentStatus = PaymentSucceeded
	assert.ErrorIs(t, o.Validate(), ErrPaidWithoutCharge)
	o.PaymentID = "ch_1"
	require.NoError(t, o.Validate())

	o.Totals.GrandTotal = decimal.RequireFromString("32.47")
	assert.ErrorIs(t, o.Validate(), ErrTotalsMismatch)
}

func TestNewLineItemRejectsBadInput(t *testing.T) {
	_, err := NewLineItem("p1", "Fern", decimal.NewFromInt(5), 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = NewLineItem("p1", "Fern", decimal.NewFromInt(-1), 1)
	assert.ErrorIs(t, err, ErrNegativePrice)

	li, err := NewLineItem("p1", "Fern", decimal.RequireFromString("3.50"), 3)
	require.NoError(t, err)
	assert.True(t, li.LineTotal().Equal(decimal.RequireFromString("10.50")))
}

func TestCloneIsDeep(t *testing.T) {
	eta := time.Now()
	o := &Order{ID: "ORD-1", Items: []LineItem{{ProductID: "a", Quantity: 1}}, EstimatedFulfillmentDate: &eta}
	cp := o.Clone()
	cp.Items[0].Quantity = 9
	*cp.EstimatedFulfillmentDate = eta.Add(time.Hour)

	assert.Equal(t, 1, o.Items[0].Quantity)
	assert.Equal(t, eta, *o.EstimatedFulfillmentDate)
}

func TestCardReference(t *testing.T) {
	pm := PaymentMethod{Kind: PaymentKindGateway, Card: &CardData{Number: "4242 4242 4242 4242"}}
	assert.Equal(t, "**** 4242", pm.CardReference())
	assert.Equal(t, "", PaymentMethod{Kind: PaymentKindCash}.CardReference())
}
