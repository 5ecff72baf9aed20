package kafka

import (
	"context"

	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/usecase"
)

// GatewayEventSink settles orders from gateway events; *usecase.Reconciler
// is the implementation.
type GatewayEventSink interface {
	HandleGatewayEvent(ctx context.Context, ev usecase.GatewayEventMsg) error
}

// PaymentEventHandler forwards charge settlement events and ignores the rest
// of the gateway's event stream.
type PaymentEventHandler struct {
	Sink GatewayEventSink
}

func NewPaymentEventHandler(sink GatewayEventSink) *PaymentEventHandler {
	return &PaymentEventHandler{Sink: sink}
}

func (h *PaymentEventHandler) Handle(ctx context.Context, ev usecase.GatewayEventMsg) error {
	switch ev.Type {
	case "charge.succeeded", "charge.failed", "charge.updated":
		return h.Sink.HandleGatewayEvent(ctx, ev)
	}
	logging.FromCtx(ctx).Debug("gateway event ignored", "type", ev.Type, "charge_id", ev.ChargeID)
	return nil
}
