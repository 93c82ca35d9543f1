package catalog

import (
	"context"

	"github.com/google/uuid"
)

type TestRepository interface {
	Create(ctx context.Context, t *Test) error
	GetByID(ctx context.Context, id uuid.UUID) (*Test, error)
	GetByCode(ctx context.Context, code string) (*Test, error)
	Update(ctx context.Context, t *Test) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Test, int, error)
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Category   Category
	ActiveOnly bool
	Search     string
}
