package orders

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows the order list.
type ListFilter struct {
	Status  Status
	Urgency Urgency
	Search  string // matches order number or patient name
}

type OrderRepository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	// UpdateStatus sets the status only when the order is still in one of
	// the expected states. ErrConflict otherwise.
	UpdateStatus(ctx context.Context, id uuid.UUID, to Status, reason *string, expected ...Status) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error)
}
