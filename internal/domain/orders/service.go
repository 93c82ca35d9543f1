package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/domain/workboard"
)

// ResultBoard is the slice of the result workboard the order module drives:
// registering a result per ordered test, logging sample collection, and
// cascading order-level cancellation.
type ResultBoard interface {
	CreateForOrder(ctx context.Context, testID, orderID uuid.UUID) (*workboard.Result, error)
	MarkSampleCollected(ctx context.Context, actor string, resultID uuid.UUID) (*workboard.View, error)
	CancelForOrder(ctx context.Context, actor string, orderID uuid.UUID, reject bool) (int, error)
	ResultsForOrder(ctx context.Context, orderID uuid.UUID) ([]*workboard.View, error)
}

type Service struct {
	orders OrderRepository
	tests  catalog.TestRepository
	board  ResultBoard
	logger zerolog.Logger
}

func NewService(orders OrderRepository, tests catalog.TestRepository, board ResultBoard, logger zerolog.Logger) *Service {
	return &Service{orders: orders, tests: tests, board: board, logger: logger}
}

// Detail is an order with its results.
type Detail struct {
	Order   *Order            `json:"order"`
	Results []*workboard.View `json:"results"`
}

// CreateInput carries a new order. Every listed test gets a result registered
// in PENDING_SAMPLE.
type CreateInput struct {
	PatientName      string      `json:"patient_name"`
	PatientGender    string      `json:"patient_gender"`
	PatientBirthDate *time.Time  `json:"patient_birth_date,omitempty"`
	PatientContact   string      `json:"patient_contact,omitempty"`
	ReferredBy       string      `json:"referred_by,omitempty"`
	Urgency          Urgency     `json:"urgency,omitempty"`
	Notes            *string     `json:"notes,omitempty"`
	TestIDs          []uuid.UUID `json:"test_ids"`
}

var validGenders = map[string]bool{"male": true, "female": true, "other": true, "unknown": true}

func (s *Service) validateCreate(in *CreateInput) error {
	if strings.TrimSpace(in.PatientName) == "" {
		return fmt.Errorf("%w: patient_name is required", ErrValidation)
	}
	in.PatientGender = strings.ToLower(strings.TrimSpace(in.PatientGender))
	if in.PatientGender != "" && !validGenders[in.PatientGender] {
		return fmt.Errorf("%w: unknown gender %q", ErrValidation, in.PatientGender)
	}
	if in.Urgency == "" {
		in.Urgency = UrgencyRoutine
	}
	if !in.Urgency.Valid() {
		return fmt.Errorf("%w: unknown urgency %q", ErrValidation, in.Urgency)
	}
	if len(in.TestIDs) == 0 {
		return fmt.Errorf("%w: at least one test is required", ErrValidation)
	}
	seen := make(map[uuid.UUID]bool, len(in.TestIDs))
	for _, id := range in.TestIDs {
		if seen[id] {
			return fmt.Errorf("%w: duplicate test %s", ErrValidation, id)
		}
		seen[id] = true
	}
	return nil
}

func (s *Service) activeTest(ctx context.Context, id uuid.UUID) (*catalog.Test, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: test %s not found", ErrValidation, id)
	}
	if !t.Active {
		return nil, fmt.Errorf("%w: test %s is deactivated", ErrValidation, t.Code)
	}
	return t, nil
}

func orderNumber() string {
	return fmt.Sprintf("ORD-%s-%s",
		time.Now().UTC().Format("20060102"),
		strings.ToUpper(uuid.NewString()[:8]))
}

// Create places the order and registers one pending result per test. All
// tests are validated before anything is written.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (*Detail, error) {
	if err := s.validateCreate(&in); err != nil {
		return nil, err
	}
	for _, id := range in.TestIDs {
		if _, err := s.activeTest(ctx, id); err != nil {
			return nil, err
		}
	}

	o := &Order{
		Number:           orderNumber(),
		PatientName:      strings.TrimSpace(in.PatientName),
		PatientGender:    in.PatientGender,
		PatientBirthDate: in.PatientBirthDate,
		PatientContact:   strings.TrimSpace(in.PatientContact),
		ReferredBy:       strings.TrimSpace(in.ReferredBy),
		Urgency:          in.Urgency,
		Status:           StatusActive,
		Notes:            in.Notes,
		CreatedBy:        actor,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, err
	}

	for _, id := range in.TestIDs {
		if _, err := s.board.CreateForOrder(ctx, id, o.ID); err != nil {
			return nil, fmt.Errorf("registering result for test %s: %w", id, err)
		}
	}

	s.logger.Info().
		Str("order_id", o.ID.String()).
		Str("number", o.Number).
		Int("tests", len(in.TestIDs)).
		Str("urgency", string(o.Urgency)).
		Msg("diagnostic order placed")

	return s.detail(ctx, o)
}

func (s *Service) detail(ctx context.Context, o *Order) (*Detail, error) {
	results, err := s.board.ResultsForOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	return &Detail{Order: o, Results: results}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Detail, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, o)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	if f.Urgency != "" && !f.Urgency.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown urgency %q", ErrValidation, f.Urgency)
	}
	return s.orders.List(ctx, f, limit, offset)
}

// AddTest registers one more result on an active order.
func (s *Service) AddTest(ctx context.Context, orderID, testID uuid.UUID) (*Detail, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusActive {
		return nil, fmt.Errorf("%w: order is %s", ErrConflict, o.Status)
	}
	if _, err := s.activeTest(ctx, testID); err != nil {
		return nil, err
	}
	existing, err := s.board.ResultsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, v := range existing {
		if v.TestID == testID && v.Status.Active() {
			return nil, fmt.Errorf("%w: test already ordered", ErrValidation)
		}
	}
	if _, err := s.board.CreateForOrder(ctx, testID, orderID); err != nil {
		return nil, err
	}
	return s.detail(ctx, o)
}

// CollectSample logs sample collection for one result of an active order.
func (s *Service) CollectSample(ctx context.Context, actor string, orderID, resultID uuid.UUID) (*workboard.View, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusActive {
		return nil, fmt.Errorf("%w: order is %s", ErrConflict, o.Status)
	}

	views, err := s.board.ResultsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	owned := false
	for _, v := range views {
		if v.ID == resultID {
			owned = true
			break
		}
	}
	if !owned {
		return nil, fmt.Errorf("%w: result does not belong to order", ErrValidation)
	}
	return s.board.MarkSampleCollected(ctx, actor, resultID)
}

// Cancel stops the order and cascades to every still-active result. Released
// results are untouched; the order's audit trail keeps the reason.
func (s *Service) Cancel(ctx context.Context, actor string, orderID uuid.UUID, reason string) (*Order, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", ErrValidation)
	}

	err := s.orders.UpdateStatus(ctx, orderID, StatusCancelled, &reason, StatusActive)
	if err != nil {
		return nil, err
	}

	n, err := s.board.CancelForOrder(ctx, actor, orderID, false)
	if err != nil {
		// The order is already cancelled; results must not be left active.
		s.logger.Error().Err(err).
			Str("order_id", orderID.String()).
			Msg("result cascade failed after order cancellation")
		return nil, err
	}
	s.logger.Info().
		Str("order_id", orderID.String()).
		Int("results_cancelled", n).
		Str("reason", reason).
		Msg("diagnostic order cancelled")

	return s.orders.GetByID(ctx, orderID)
}

// Complete marks an active order completed once every result reached a
// terminal state.
func (s *Service) Complete(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusActive {
		return nil, fmt.Errorf("%w: order is %s", ErrConflict, o.Status)
	}
	views, err := s.board.ResultsForOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, v := range views {
		if v.Status.Active() {
			return nil, fmt.Errorf("%w: result %s is still %s", ErrConflict, v.ID, v.Status)
		}
	}
	if err := s.orders.UpdateStatus(ctx, orderID, StatusCompleted, nil, StatusActive); err != nil {
		return nil, err
	}
	return s.orders.GetByID(ctx, orderID)
}
