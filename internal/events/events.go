// Package events publishes domain events (completed sales, low stock, ...)
// to downstream consumers such as accounting or replenishment jobs.
package events

import (
	"context"
	"time"

	"retailpos/backend/internal/xid"
)

const (
	TypeSaleCompleted = "sale.completed"
	TypeSaleCancelled = "sale.cancelled"
	TypeSaleReturned  = "sale.returned"
	TypeStockLow      = "stock.low"
)

type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	AggregateID string    `json:"aggregate_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Payload     any       `json:"payload,omitempty"`
}

// New stamps an event with an id and the current time.
func New(eventType string, aggregateID string, payload any) Event {
	return Event{
		ID:          xid.New("evt"),
		Type:        eventType,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Payload:     payload,
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Noop struct{}

func (Noop) Publish(_ context.Context, _ Event) error {
	return nil
}
