package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pawsacademy/training-api/pkg/jobs"
)

// ChargeKind labels what a payment charge is for.
type ChargeKind string

const (
	ChargeKindDeposit ChargeKind = "deposit"
	ChargeKindMakeup  ChargeKind = "makeup"
)

// ChargeRequest is handed to the payment collaborator.
type ChargeRequest struct {
	OwnerID      string     `json:"owner_id"`
	EnrollmentID string     `json:"enrollment_id"`
	Kind         ChargeKind `json:"kind"`
	AmountCents  int64      `json:"amount_cents"`
	Reference    string     `json:"reference"`
}

// PaymentGateway is the payment collaborator contract. Deposit charges run
// synchronously inside Book; everything else is dispatched asynchronously.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) error
}

// Notification is handed to the notification collaborator.
type Notification struct {
	OwnerID string            `json:"owner_id"`
	Kind    string            `json:"kind"`
	Data    map[string]string `json:"data"`
}

// Notification kinds dispatched by the engine.
const (
	NotificationWaitlistOffer  = "waitlist_offer"
	NotificationMakeupReminder = "makeup_reminder"
	NotificationCertificate    = "certificate_issued"
)

// Notifier is the notification collaborator contract.
type Notifier interface {
	Send(ctx context.Context, msg Notification) error
}

// Dispatcher runs side effects after state transitions commit. A failed
// side effect is retried by the queue and never rolls back committed state.
type Dispatcher struct {
	charges       *jobs.Queue
	notifications *jobs.Queue
	logger        *zap.Logger
}

// NewDispatcher wires the payment and notification collaborators behind
// background queues.
func NewDispatcher(gateway PaymentGateway, notifier Notifier, cfg jobs.QueueConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{logger: logger}

	d.charges = jobs.NewQueue("payments", func(ctx context.Context, job jobs.Job) error {
		req, ok := job.Payload.(ChargeRequest)
		if !ok {
			logger.Error("payments queue received unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		return gateway.Charge(ctx, req)
	}, cfg)

	d.notifications = jobs.NewQueue("notifications", func(ctx context.Context, job jobs.Job) error {
		msg, ok := job.Payload.(Notification)
		if !ok {
			logger.Error("notifications queue received unexpected payload", zap.String("job_id", job.ID))
			return nil
		}
		return notifier.Send(ctx, msg)
	}, cfg)

	return d
}

// Start launches queue workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.charges.Start(ctx)
	d.notifications.Start(ctx)
}

// Stop drains queue workers.
func (d *Dispatcher) Stop() {
	d.charges.Stop()
	d.notifications.Stop()
}

// EnqueueCharge schedules an asynchronous charge. Failures are logged as
// non-fatal warnings.
func (d *Dispatcher) EnqueueCharge(req ChargeRequest) {
	err := d.charges.Enqueue(jobs.Job{ID: uuid.NewString(), Type: string(req.Kind), Payload: req})
	if err != nil {
		d.logger.Warn("failed to enqueue charge", zap.String("enrollment_id", req.EnrollmentID), zap.Error(err))
	}
}

// EnqueueNotification schedules an asynchronous notification.
func (d *Dispatcher) EnqueueNotification(msg Notification) {
	err := d.notifications.Enqueue(jobs.Job{ID: uuid.NewString(), Type: msg.Kind, Payload: msg})
	if err != nil {
		d.logger.Warn("failed to enqueue notification", zap.String("owner_id", msg.OwnerID), zap.Error(err))
	}
}
