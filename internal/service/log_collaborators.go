package service

import (
	"context"

	"go.uber.org/zap"
)

// LogPaymentGateway records charges without contacting a payment provider.
// It stands in until a real provider integration is configured.
type LogPaymentGateway struct {
	logger *zap.Logger
}

// NewLogPaymentGateway creates a log-only payment gateway.
func NewLogPaymentGateway(logger *zap.Logger) *LogPaymentGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPaymentGateway{logger: logger}
}

// Charge logs the charge and reports success.
func (g *LogPaymentGateway) Charge(_ context.Context, req ChargeRequest) error {
	g.logger.Info("charge processed",
		zap.String("owner_id", req.OwnerID),
		zap.String("enrollment_id", req.EnrollmentID),
		zap.String("kind", string(req.Kind)),
		zap.Int64("amount_cents", req.AmountCents),
		zap.String("reference", req.Reference))
	return nil
}

// LogNotifier records notifications without delivering them.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send logs the notification and reports success.
func (n *LogNotifier) Send(_ context.Context, msg Notification) error {
	n.logger.Info("notification sent",
		zap.String("owner_id", msg.OwnerID),
		zap.String("kind", msg.Kind),
		zap.Any("data", msg.Data))
	return nil
}
