package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"possale/backend/internal/domain"
)

const (
	EventSaleCommitted = "sale.committed"
	EventSaleVoided    = "sale.voided"
)

// Event is the post-commit message describing a ledger change. It is built
// from committed state only.
type Event struct {
	Type       string      `json:"type"`
	SaleID     string      `json:"sale_id"`
	OccurredAt time.Time   `json:"occurred_at"`
	Sale       domain.Sale `json:"sale"`
}

func NewEvent(eventType string, sale domain.Sale, at time.Time) Event {
	return Event{Type: eventType, SaleID: sale.ID, OccurredAt: at.UTC(), Sale: sale}
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Multi delivers to every notifier and joins their failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes a receipt line for every event.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("receipt")}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info("sale notification",
		zap.String("event", event.Type),
		zap.String("sale_id", event.SaleID),
		zap.Int64("total_cents", event.Sale.TotalCents),
		zap.Int("items", event.Sale.ItemCount()),
		zap.String("payment_method", event.Sale.PaymentMethod),
	)
	return nil
}
