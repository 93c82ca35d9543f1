package workboard

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/catalog"
)

// WorklistQuery is the resolved filter set for a worklist page. Categories is
// always restricted to the caller's allowed set by the service before the
// repository sees it.
type WorklistQuery struct {
	Categories []catalog.Category
	Statuses   []Status
	Urgency    string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// WorklistRow is one formatted worklist line: the result joined with its test
// and order snapshot.
type WorklistRow struct {
	ResultID       uuid.UUID        `json:"result_id"`
	OrderID        uuid.UUID        `json:"order_id"`
	Status         Status           `json:"status"`
	TestCode       string           `json:"test_code"`
	TestName       string           `json:"test_name"`
	Category       catalog.Category `json:"category"`
	Unit           string           `json:"unit,omitempty"`
	PatientName    string           `json:"patient_name"`
	Urgency        string           `json:"urgency"`
	ReferredBy     string           `json:"referred_by,omitempty"`
	IsCritical     bool             `json:"is_critical"`
	Interpretation Interpretation   `json:"interpretation,omitempty"`
	CollectedAt    *time.Time       `json:"collected_at,omitempty"`
	EnteredAt      *time.Time       `json:"entered_at,omitempty"`
}

type ResultRepository interface {
	Create(ctx context.Context, r *Result) error
	GetByID(ctx context.Context, id uuid.UUID) (*Result, error)
	// GetContext loads the result with its test definition and order snapshot.
	GetContext(ctx context.Context, id uuid.UUID) (*ResultContext, error)
	// UpdateConditional writes the result only while the stored status is one
	// of expected. Returns ErrConflict when the guard matches zero rows.
	UpdateConditional(ctx context.Context, r *Result, expected ...Status) error
	// UpdateAmendment writes the result only while the stored status matches
	// expected AND the stored amendment history still holds priorAmendments
	// snapshots, so a concurrent amendment can never be overwritten. Returns
	// ErrConflict when the guard matches zero rows.
	UpdateAmendment(ctx context.Context, r *Result, expected Status, priorAmendments int) error
	Worklist(ctx context.Context, q WorklistQuery) ([]*WorklistRow, int, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Result, error)
	// CancelByOrder moves every still-active result of the order to the given
	// terminal status and returns how many were affected.
	CancelByOrder(ctx context.Context, orderID uuid.UUID, to Status, actor string) (int, error)
}

type StatusHistoryRepository interface {
	Record(ctx context.Context, h *StatusChange) error
	ListByResult(ctx context.Context, resultID uuid.UUID) ([]*StatusChange, error)
}
