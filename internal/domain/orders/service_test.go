package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/domain/workboard"
)

type mockOrderRepo struct {
	orders map[uuid.UUID]*Order
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*Order)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now().UTC()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) GetByNumber(_ context.Context, number string) (*Order, error) {
	for _, o := range m.orders {
		if o.Number == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id uuid.UUID, to Status, reason *string, expected ...Status) error {
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	match := false
	for _, s := range expected {
		if o.Status == s {
			match = true
			break
		}
	}
	if !match {
		return ErrConflict
	}
	o.Status = to
	if reason != nil {
		o.CancelReason = reason
	}
	return nil
}

func (m *mockOrderRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Order, int, error) {
	var out []*Order
	for _, o := range m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.Urgency != "" && o.Urgency != f.Urgency {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, len(out), nil
}

type mockTestRepo struct {
	tests map[uuid.UUID]*catalog.Test
}

func (m *mockTestRepo) Create(_ context.Context, t *catalog.Test) error {
	m.tests[t.ID] = t
	return nil
}

func (m *mockTestRepo) GetByID(_ context.Context, id uuid.UUID) (*catalog.Test, error) {
	t, ok := m.tests[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return t, nil
}

func (m *mockTestRepo) GetByCode(_ context.Context, code string) (*catalog.Test, error) {
	for _, t := range m.tests {
		if t.Code == code {
			return t, nil
		}
	}
	return nil, catalog.ErrNotFound
}

func (m *mockTestRepo) Update(_ context.Context, t *catalog.Test) error {
	m.tests[t.ID] = t
	return nil
}

func (m *mockTestRepo) List(_ context.Context, _ catalog.ListFilter, _, _ int) ([]*catalog.Test, int, error) {
	var out []*catalog.Test
	for _, t := range m.tests {
		out = append(out, t)
	}
	return out, len(out), nil
}

// mockBoard tracks registered results without the full workflow engine.
type mockBoard struct {
	results   map[uuid.UUID]*workboard.View
	collected []uuid.UUID
	cancelled []uuid.UUID
}

func newMockBoard() *mockBoard {
	return &mockBoard{results: make(map[uuid.UUID]*workboard.View)}
}

func (m *mockBoard) CreateForOrder(_ context.Context, testID, orderID uuid.UUID) (*workboard.Result, error) {
	r := &workboard.Result{ID: uuid.New(), TestID: testID, OrderID: orderID, Status: workboard.StatusPendingSample}
	m.results[r.ID] = workboard.NewView(r)
	return r, nil
}

func (m *mockBoard) MarkSampleCollected(_ context.Context, actor string, resultID uuid.UUID) (*workboard.View, error) {
	v, ok := m.results[resultID]
	if !ok {
		return nil, workboard.ErrNotFound
	}
	if v.Status != workboard.StatusPendingSample {
		return nil, workboard.ErrConflict
	}
	now := time.Now().UTC()
	v.Status = workboard.StatusSampleCollected
	v.CollectedBy = actor
	v.CollectedAt = &now
	m.collected = append(m.collected, resultID)
	return v, nil
}

func (m *mockBoard) CancelForOrder(_ context.Context, _ string, orderID uuid.UUID, reject bool) (int, error) {
	to := workboard.StatusCancelled
	if reject {
		to = workboard.StatusRejected
	}
	n := 0
	for id, v := range m.results {
		if v.OrderID == orderID && v.Status.Active() {
			v.Status = to
			m.cancelled = append(m.cancelled, id)
			n++
		}
	}
	return n, nil
}

func (m *mockBoard) ResultsForOrder(_ context.Context, orderID uuid.UUID) ([]*workboard.View, error) {
	out := []*workboard.View{}
	for _, v := range m.results {
		if v.OrderID == orderID {
			out = append(out, v)
		}
	}
	return out, nil
}

type orderFixture struct {
	svc   *Service
	repo  *mockOrderRepo
	board *mockBoard

	gluID uuid.UUID
	cbcID uuid.UUID
	oldID uuid.UUID
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	repo := newMockOrderRepo()
	board := newMockBoard()

	glu := &catalog.Test{ID: uuid.New(), Code: "GLU", Name: "Glucose", Category: catalog.CategoryBlood, Active: true}
	cbc := &catalog.Test{ID: uuid.New(), Code: "CBC", Name: "Complete Blood Count", Category: catalog.CategoryBlood, Active: true}
	old := &catalog.Test{ID: uuid.New(), Code: "OLD", Name: "Retired Assay", Category: catalog.CategoryBlood, Active: false}
	tests := &mockTestRepo{tests: map[uuid.UUID]*catalog.Test{glu.ID: glu, cbc.ID: cbc, old.ID: old}}

	return &orderFixture{
		svc:   NewService(repo, tests, board, zerolog.Nop()),
		repo:  repo,
		board: board,
		gluID: glu.ID,
		cbcID: cbc.ID,
		oldID: old.ID,
	}
}

func validInput(f *orderFixture) CreateInput {
	return CreateInput{
		PatientName:    "Jane Roe",
		PatientGender:  "Female",
		PatientContact: "jane@example.com",
		Urgency:        UrgencyStat,
		TestIDs:        []uuid.UUID{f.gluID, f.cbcID},
	}
}

func TestCreate_RegistersResultPerTest(t *testing.T) {
	f := newOrderFixture(t)

	detail, err := f.svc.Create(context.Background(), "doc-1", validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if detail.Order.Status != StatusActive {
		t.Errorf("expected ACTIVE, got %s", detail.Order.Status)
	}
	if detail.Order.Number == "" {
		t.Error("expected generated order number")
	}
	if detail.Order.PatientGender != "female" {
		t.Errorf("gender should be normalized, got %q", detail.Order.PatientGender)
	}
	if len(detail.Results) != 2 {
		t.Fatalf("expected 2 registered results, got %d", len(detail.Results))
	}
	for _, v := range detail.Results {
		if v.Status != workboard.StatusPendingSample {
			t.Errorf("result should start PENDING_SAMPLE, got %s", v.Status)
		}
	}
}

func TestCreate_Validation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"missing patient name", func(in *CreateInput) { in.PatientName = "  " }},
		{"unknown gender", func(in *CreateInput) { in.PatientGender = "robot" }},
		{"unknown urgency", func(in *CreateInput) { in.Urgency = "WHENEVER" }},
		{"no tests", func(in *CreateInput) { in.TestIDs = nil }},
		{"duplicate tests", func(in *CreateInput) { in.TestIDs = []uuid.UUID{f.gluID, f.gluID} }},
		{"unknown test", func(in *CreateInput) { in.TestIDs = []uuid.UUID{uuid.New()} }},
		{"deactivated test", func(in *CreateInput) { in.TestIDs = []uuid.UUID{f.oldID} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput(f)
			tc.mutate(&in)
			if _, err := f.svc.Create(ctx, "doc-1", in); !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
	if len(f.board.results) != 0 {
		t.Errorf("failed creates must not register results, found %d", len(f.board.results))
	}
}

func TestCreate_DefaultsUrgency(t *testing.T) {
	f := newOrderFixture(t)
	in := validInput(f)
	in.Urgency = ""

	detail, err := f.svc.Create(context.Background(), "doc-1", in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if detail.Order.Urgency != UrgencyRoutine {
		t.Errorf("expected ROUTINE default, got %s", detail.Order.Urgency)
	}
}

func TestAddTest(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	in := validInput(f)
	in.TestIDs = []uuid.UUID{f.gluID}
	detail, err := f.svc.Create(ctx, "doc-1", in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	orderID := detail.Order.ID

	detail, err = f.svc.AddTest(ctx, orderID, f.cbcID)
	if err != nil {
		t.Fatalf("add test: %v", err)
	}
	if len(detail.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(detail.Results))
	}

	if _, err := f.svc.AddTest(ctx, orderID, f.cbcID); !errors.Is(err, ErrValidation) {
		t.Errorf("re-adding an active test should fail, got %v", err)
	}

	f.repo.orders[orderID].Status = StatusCancelled
	if _, err := f.svc.AddTest(ctx, orderID, f.gluID); !errors.Is(err, ErrConflict) {
		t.Errorf("adding to a cancelled order should conflict, got %v", err)
	}
}

func TestCollectSample(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	detail, err := f.svc.Create(ctx, "doc-1", validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	orderID := detail.Order.ID
	resultID := detail.Results[0].ID

	view, err := f.svc.CollectSample(ctx, "phleb-1", orderID, resultID)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if view.Status != workboard.StatusSampleCollected || view.CollectedBy != "phleb-1" {
		t.Errorf("unexpected view: %+v", view)
	}

	if _, err := f.svc.CollectSample(ctx, "phleb-1", orderID, uuid.New()); !errors.Is(err, ErrValidation) {
		t.Errorf("foreign result should be rejected, got %v", err)
	}
}

func TestCancel_Cascades(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	detail, err := f.svc.Create(ctx, "doc-1", validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	orderID := detail.Order.ID

	if _, err := f.svc.Cancel(ctx, "admin-1", orderID, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty reason should fail, got %v", err)
	}

	o, err := f.svc.Cancel(ctx, "admin-1", orderID, "duplicate order")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if o.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", o.Status)
	}
	if o.CancelReason == nil || *o.CancelReason != "duplicate order" {
		t.Errorf("expected reason recorded, got %v", o.CancelReason)
	}
	if len(f.board.cancelled) != 2 {
		t.Errorf("expected 2 cascaded results, got %d", len(f.board.cancelled))
	}

	if _, err := f.svc.Cancel(ctx, "admin-1", orderID, "again"); !errors.Is(err, ErrConflict) {
		t.Errorf("double cancel should conflict, got %v", err)
	}
}

func TestComplete(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	detail, err := f.svc.Create(ctx, "doc-1", validInput(f))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	orderID := detail.Order.ID

	if _, err := f.svc.Complete(ctx, orderID); !errors.Is(err, ErrConflict) {
		t.Fatalf("completing with active results should conflict, got %v", err)
	}

	for _, v := range f.board.results {
		v.Status = workboard.StatusReleased
	}
	o, err := f.svc.Complete(ctx, orderID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if o.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", o.Status)
	}
}

func TestList_FilterValidation(t *testing.T) {
	f := newOrderFixture(t)

	if _, _, err := f.svc.List(context.Background(), ListFilter{Status: "BOGUS"}, 20, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, _, err := f.svc.List(context.Background(), ListFilter{Urgency: "BOGUS"}, 20, 0); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
