package app

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/floracart/checkout-server/internal/domain/order"
)

var _ order.Sink = (*logSink)(nil)

// logSink publishes order lifecycle events to the structured log. It stands
// in for a real webhook or message broker integration.
type logSink struct{}

func (logSink) Publish(ctx context.Context, ev order.Event) error {
	zctx.From(ctx).Info("order event",
		zap.String("type", ev.Type),
		zap.String("order_id", ev.OrderID),
		zap.String("checkout_session_id", ev.SessionID),
		zap.Time("at", ev.At),
	)
	return nil
}

// logSubmitter acknowledges pre-signed transfers without talking to a
// ledger network. It logs the submission and fabricates a transaction id,
// which is enough for the demo merchant and for tests.
type logSubmitter struct{}

func (logSubmitter) Submit(ctx context.Context, raw []byte) (string, error) {
	txID := uuid.New().String()
	zctx.From(ctx).Info("submitted transfer",
		zap.Int("size", len(raw)),
		zap.String("tx_id", txID),
	)
	return txID, nil
}
