package jobs

import (
	"context"

	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/services"
)

// LogConfirmationSender only logs confirmations. Used for local development.
type LogConfirmationSender struct {
	logger *zap.Logger
}

// NewLogConfirmationSender constructs a sender writing to logger.
func NewLogConfirmationSender(logger *zap.Logger) *LogConfirmationSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogConfirmationSender{logger: logger}
}

func (s *LogConfirmationSender) SendOrderConfirmation(_ context.Context, msg services.OrderConfirmation) error {
	s.logger.Info("order confirmation",
		zap.String("orderId", msg.OrderID),
		zap.String("orderNumber", msg.OrderNumber),
		zap.Int64("total", msg.Total),
		zap.Int("items", len(msg.Items)),
	)
	return nil
}
