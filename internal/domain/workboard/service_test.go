package workboard

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/platform/formtpl"
	"github.com/hms/hms/internal/platform/notification"
)

// -- mocks --

type mockResultRepo struct {
	results map[uuid.UUID]*Result
	tests   map[uuid.UUID]*catalog.Test
	orders  map[uuid.UUID]*OrderInfo

	lastWorklist WorklistQuery
	worklistRows []*WorklistRow
}

func newMockResultRepo() *mockResultRepo {
	return &mockResultRepo{
		results: make(map[uuid.UUID]*Result),
		tests:   make(map[uuid.UUID]*catalog.Test),
		orders:  make(map[uuid.UUID]*OrderInfo),
	}
}

func copyResult(r *Result) *Result {
	cp := *r
	cp.ComponentResults = append([]ComponentResult(nil), r.ComponentResults...)
	cp.AmendmentHistory = append([]Amendment(nil), r.AmendmentHistory...)
	cp.Attachments = append([]string(nil), r.Attachments...)
	cp.ImageURLs = append([]string(nil), r.ImageURLs...)
	return &cp
}

func (m *mockResultRepo) Create(_ context.Context, r *Result) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = time.Now().UTC()
	m.results[r.ID] = copyResult(r)
	return nil
}

func (m *mockResultRepo) GetByID(_ context.Context, id uuid.UUID) (*Result, error) {
	r, ok := m.results[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyResult(r), nil
}

func (m *mockResultRepo) GetContext(ctx context.Context, id uuid.UUID) (*ResultContext, error) {
	r, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t, ok := m.tests[r.TestID]
	if !ok {
		return nil, ErrNotFound
	}
	o, ok := m.orders[r.OrderID]
	if !ok {
		return nil, ErrNotFound
	}
	tc, oc := *t, *o
	return &ResultContext{Result: r, Test: &tc, Order: &oc}, nil
}

func (m *mockResultRepo) UpdateConditional(_ context.Context, r *Result, expected ...Status) error {
	stored, ok := m.results[r.ID]
	if !ok {
		return ErrNotFound
	}
	match := false
	for _, s := range expected {
		if stored.Status == s {
			match = true
			break
		}
	}
	if !match {
		return ErrConflict
	}
	r.UpdatedAt = time.Now().UTC()
	m.results[r.ID] = copyResult(r)
	return nil
}

func (m *mockResultRepo) UpdateAmendment(_ context.Context, r *Result, expected Status, priorAmendments int) error {
	stored, ok := m.results[r.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != expected || len(stored.AmendmentHistory) != priorAmendments {
		return ErrConflict
	}
	r.UpdatedAt = time.Now().UTC()
	m.results[r.ID] = copyResult(r)
	return nil
}

func (m *mockResultRepo) Worklist(_ context.Context, q WorklistQuery) ([]*WorklistRow, int, error) {
	m.lastWorklist = q
	return m.worklistRows, len(m.worklistRows), nil
}

func (m *mockResultRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]*Result, error) {
	var out []*Result
	for _, r := range m.results {
		if r.OrderID == orderID {
			out = append(out, copyResult(r))
		}
	}
	return out, nil
}

func (m *mockResultRepo) CancelByOrder(_ context.Context, orderID uuid.UUID, to Status, _ string) (int, error) {
	n := 0
	for _, r := range m.results {
		if r.OrderID == orderID && r.Status.Active() {
			r.Status = to
			n++
		}
	}
	return n, nil
}

type mockHistoryRepo struct {
	changes []*StatusChange
}

func (m *mockHistoryRepo) Record(_ context.Context, h *StatusChange) error {
	m.changes = append(m.changes, h)
	return nil
}

func (m *mockHistoryRepo) ListByResult(_ context.Context, resultID uuid.UUID) ([]*StatusChange, error) {
	var out []*StatusChange
	for _, h := range m.changes {
		if h.ResultID == resultID {
			out = append(out, h)
		}
	}
	return out, nil
}

type mockNotifier struct {
	released []notification.ReleaseEvent
	amended  []notification.AmendEvent
}

func (m *mockNotifier) ResultReleased(ev notification.ReleaseEvent) { m.released = append(m.released, ev) }
func (m *mockNotifier) ResultAmended(ev notification.AmendEvent) { m.amended = append(m.amended, ev) }

// -- fixtures --

type fixture struct {
	svc      *Service
	repo     *mockResultRepo
	history  *mockHistoryRepo
	notifier *mockNotifier

	gluTest   *catalog.Test
	cxrTest   *catalog.Test
	order     *OrderInfo
	gluResult uuid.UUID
	cxrResult uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := newMockResultRepo()
	history := &mockHistoryRepo{}
	notifier := &mockNotifier{}

	glu := &catalog.Test{
		ID: uuid.New(), Code: "GLU", Name: "Glucose", Category: catalog.CategoryBlood,
		Unit: "mg/dL", Active: true,
		Ranges: glucoseRanges(),
	}
	cxr := &catalog.Test{
		ID: uuid.New(), Code: "CXR", Name: "Chest X-Ray", Category: catalog.CategoryXRay, Active: true,
	}
	repo.tests[glu.ID] = glu
	repo.tests[cxr.ID] = cxr

	dob := time.Date(1984, 3, 15, 0, 0, 0, 0, time.UTC)
	order := &OrderInfo{
		OrderID:          uuid.New(),
		PatientName:      "Jane Roe",
		PatientGender:    "female",
		PatientBirthDate: &dob,
		PatientContact:   "jane@example.com",
		ReferredBy:       "Dr. House",
		Urgency:          "ROUTINE",
		OrderStatus:      "ACTIVE",
	}
	repo.orders[order.OrderID] = order

	now := time.Now().UTC()
	collector := "phleb-1"
	gluRes := &Result{
		ID: uuid.New(), TestID: glu.ID, OrderID: order.OrderID,
		Status: StatusSampleCollected, CollectedBy: &collector, CollectedAt: &now,
	}
	cxrRes := &Result{
		ID: uuid.New(), TestID: cxr.ID, OrderID: order.OrderID,
		Status: StatusSampleCollected,
	}
	repo.results[gluRes.ID] = gluRes
	repo.results[cxrRes.ID] = cxrRes

	svc := NewService(repo, history, DefaultPolicy(), formtpl.StaticProvider{}, notifier, zerolog.Nop())
	return &fixture{
		svc: svc, repo: repo, history: history, notifier: notifier,
		gluTest: glu, cxrTest: cxr, order: order,
		gluResult: gluRes.ID, cxrResult: cxrRes.ID,
	}
}

var (
	labTech     = Caller{ID: "tech-1", Role: "LAB"}
	radiologist = Caller{ID: "rad-1", Role: "XRAY"}
	doctor      = Caller{ID: "doc-1", Role: "DOCTOR"}
)

func str(s string) *string { return &s }

// -- SaveEntry --

func TestSaveEntry_ComputesInterpretation(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.SaveEntry(context.Background(), labTech, f.gluResult, EntryInput{
		ResultNumeric: f64(300),
	})
	if err != nil {
		t.Fatalf("save entry: %v", err)
	}
	if view.Status != StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", view.Status)
	}
	if view.Interpretation != InterpHigh {
		t.Errorf("expected HIGH for 300, got %s", view.Interpretation)
	}
	if view.IsCritical {
		t.Error("300 is within critical bounds, should not be critical")
	}
	if view.ReferenceMin == nil || *view.ReferenceMin != 70 {
		t.Errorf("expected snapshotted reference min 70, got %v", view.ReferenceMin)
	}
	if view.EnteredBy != "tech-1" {
		t.Errorf("expected entered_by tech-1, got %s", view.EnteredBy)
	}
	if view.ResultUnit != "mg/dL" {
		t.Errorf("expected unit defaulted from test, got %q", view.ResultUnit)
	}
}

func TestSaveEntry_CriticalValue(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.SaveEntry(context.Background(), labTech, f.gluResult, EntryInput{
		ResultNumeric: f64(450),
	})
	if err != nil {
		t.Fatalf("save entry: %v", err)
	}
	if view.Interpretation != InterpCriticalHigh {
		t.Errorf("expected CRITICAL_HIGH, got %s", view.Interpretation)
	}
	if !view.IsCritical {
		t.Error("expected is_critical true")
	}
}

func TestSaveEntry_WrongStateNamesStatus(t *testing.T) {
	f := newFixture(t)
	f.repo.results[f.gluResult].Status = StatusReleased

	_, err := f.svc.SaveEntry(context.Background(), labTech, f.gluResult, EntryInput{ResultNumeric: f64(90)})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "RELEASED") {
		t.Errorf("error should name the current status: %v", err)
	}
}

func TestSaveEntry_ForbiddenRole(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveEntry(context.Background(), radiologist, f.gluResult, EntryInput{ResultNumeric: f64(90)})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("XRAY saving a BLOOD result should be forbidden, got %v", err)
	}
}

func TestSaveEntry_ShapeFixedByCategory(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SaveEntry(context.Background(), labTech, f.gluResult, EntryInput{ReportText: str("lungs clear")})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("narrative fields on numeric category should fail, got %v", err)
	}

	_, err = f.svc.SaveEntry(context.Background(), radiologist, f.cxrResult, EntryInput{ResultNumeric: f64(1)})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("numeric fields on narrative category should fail, got %v", err)
	}
}

func TestSaveEntry_PartialMerge(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.SaveEntry(context.Background(), labTech, f.gluResult, EntryInput{
		ResultNumeric: f64(90), TechnicianNotes: str("first pass"),
	}); err != nil {
		t.Fatalf("first save: %v", err)
	}
	view, err := f.svc.SaveEntry(context.Background(), labTech, f.gluResult, EntryInput{
		ResultValue: str("90"),
	})
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if view.ResultNumeric == nil || *view.ResultNumeric != 90 {
		t.Error("earlier numeric value should survive a later partial save")
	}
	if view.TechnicianNotes != "first pass" {
		t.Error("technician notes should survive a later partial save")
	}
}

func TestSaveEntry_NarrativeNeverCritical(t *testing.T) {
	f := newFixture(t)

	view, err := f.svc.SaveEntry(context.Background(), radiologist, f.cxrResult, EntryInput{
		ReportText: str("No acute findings."),
	})
	if err != nil {
		t.Fatalf("save entry: %v", err)
	}
	if view.IsCritical {
		t.Error("narrative result with no numeric value must not be critical")
	}
	if view.Interpretation != "" {
		t.Errorf("expected no interpretation, got %s", view.Interpretation)
	}
}

// -- SubmitForReview --

func TestSubmitForReview_IncompleteNumeric(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitForReview(context.Background(), labTech, f.gluResult, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), f.gluResult)
	if got.Status != StatusSampleCollected {
		t.Errorf("status should be unchanged after failed submit, got %s", got.Status)
	}
}

func TestSubmitForReview_IncompleteNarrative(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SubmitForReview(context.Background(), radiologist, f.cxrResult, nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "report_text") {
		t.Errorf("error should itemize missing fields: %v", err)
	}
}

func TestSubmitForReview_Success(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.SaveEntry(context.Background(), labTech, f.gluResult, EntryInput{ResultNumeric: f64(90)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	view, err := f.svc.SubmitForReview(context.Background(), labTech, f.gluResult, str("done"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.Status != StatusPendingQC {
		t.Errorf("expected PENDING_QC, got %s", view.Status)
	}
	if view.SubmittedBy != "tech-1" || view.SubmittedAt == nil {
		t.Error("expected submitted stamp")
	}
	if view.TechnicianNotes != "done" {
		t.Errorf("notes should be overwritten when supplied, got %q", view.TechnicianNotes)
	}
}

func TestSubmitForReview_PreservesNotesWhenNoneSupplied(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.SaveEntry(context.Background(), labTech, f.gluResult, EntryInput{
		ResultNumeric: f64(90), TechnicianNotes: str("keep me"),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	view, err := f.svc.SubmitForReview(context.Background(), labTech, f.gluResult, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if view.TechnicianNotes != "keep me" {
		t.Errorf("notes should be preserved, got %q", view.TechnicianNotes)
	}
}

// -- QC --

func submitted(t *testing.T, f *fixture) {
	t.Helper()
	if _, err := f.svc.SaveEntry(context.Background(), labTech, f.gluResult, EntryInput{ResultNumeric: f64(300)}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := f.svc.SubmitForReview(context.Background(), labTech, f.gluResult, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestQCApprove_WrongState(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.QCApprove(context.Background(), labTech, f.gluResult, nil)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected conflict for non-pending-QC result, got %v", err)
	}
}

func TestQCReject_RequiresReason(t *testing.T) {
	f := newFixture(t)
	submitted(t, f)

	_, err := f.svc.QCReject(context.Background(), labTech, f.gluResult, "  ")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), f.gluResult)
	if got.Status != StatusPendingQC {
		t.Errorf("status should be unchanged, got %s", got.Status)
	}
}

func TestQCReject_PreservesValues(t *testing.T) {
	f := newFixture(t)
	submitted(t, f)

	view, err := f.svc.QCReject(context.Background(), labTech, f.gluResult, "illegible")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if view.Status != StatusInProgress {
		t.Errorf("expected IN_PROGRESS after rejection, got %s", view.Status)
	}
	if view.ResultNumeric == nil || *view.ResultNumeric != 300 {
		t.Error("entered values must be preserved through QC rejection")
	}
	if view.QCRejectionReason != "illegible" {
		t.Errorf("expected rejection reason recorded, got %q", view.QCRejectionReason)
	}
}

func TestQCApprove_MovesToReview(t *testing.T) {
	f := newFixture(t)
	submitted(t, f)

	view, err := f.svc.QCApprove(context.Background(), labTech, f.gluResult, str("checked"))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if view.Status != StatusPendingReview {
		t.Errorf("expected PENDING_REVIEW, got %s", view.Status)
	}
	if view.QCNotes != "checked" {
		t.Errorf("expected qc notes, got %q", view.QCNotes)
	}
}

// -- Review / Release / Amend --

func reviewed(t *testing.T, f *fixture) {
	t.Helper()
	submitted(t, f)
	if _, err := f.svc.QCApprove(context.Background(), labTech, f.gluResult, nil); err != nil {
		t.Fatalf("qc approve: %v", err)
	}
	if _, err := f.svc.ReviewApprove(context.Background(), doctor, f.gluResult, ReviewInput{}); err != nil {
		t.Fatalf("review: %v", err)
	}
}

func TestReviewApprove_InterpretationOverride(t *testing.T) {
	f := newFixture(t)
	submitted(t, f)
	if _, err := f.svc.QCApprove(context.Background(), labTech, f.gluResult, nil); err != nil {
		t.Fatalf("qc approve: %v", err)
	}

	override := InterpCriticalHigh
	view, err := f.svc.ReviewApprove(context.Background(), doctor, f.gluResult, ReviewInput{
		Interpretation: &override,
		Notes:          str("clinically significant in context"),
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if view.Status != StatusApproved {
		t.Errorf("expected APPROVED, got %s", view.Status)
	}
	if view.Interpretation != InterpCriticalHigh {
		t.Errorf("reviewer override should stick, got %s", view.Interpretation)
	}
	if !view.IsCritical {
		t.Error("is_critical must follow the overridden interpretation")
	}
}

func TestRelease_SignalsNotification(t *testing.T) {
	f := newFixture(t)
	reviewed(t, f)

	view, err := f.svc.Release(context.Background(), doctor, f.gluResult)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if view.Status != StatusReleased {
		t.Errorf("expected RELEASED, got %s", view.Status)
	}
	if !view.VisibleToPatient {
		t.Error("release must flip visible_to_patient")
	}
	if len(f.notifier.released) != 1 {
		t.Fatalf("expected 1 release event, got %d", len(f.notifier.released))
	}
	ev := f.notifier.released[0]
	if ev.Recipient != "jane@example.com" || ev.TestName != "Glucose" {
		t.Errorf("unexpected release event: %+v", ev)
	}
}

func TestRelease_RequiresApproved(t *testing.T) {
	f := newFixture(t)
	submitted(t, f)

	_, err := f.svc.Release(context.Background(), doctor, f.gluResult)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestAmend_RequiresReason(t *testing.T) {
	f := newFixture(t)
	reviewed(t, f)
	if _, err := f.svc.Release(context.Background(), doctor, f.gluResult); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, err := f.svc.Amend(context.Background(), doctor, f.gluResult, AmendInput{ResultNumeric: f64(310)})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestAmend_AppendsImmutableSnapshot(t *testing.T) {
	f := newFixture(t)
	reviewed(t, f)
	if _, err := f.svc.Release(context.Background(), doctor, f.gluResult); err != nil {
		t.Fatalf("release: %v", err)
	}

	view, err := f.svc.Amend(context.Background(), doctor, f.gluResult, AmendInput{
		Reason:        "transcription error",
		ResultNumeric: f64(310),
	})
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if view.Status != StatusAmended {
		t.Errorf("expected AMENDED, got %s", view.Status)
	}
	if len(view.AmendmentHistory) != 1 {
		t.Fatalf("expected history length 1, got %d", len(view.AmendmentHistory))
	}
	snap := view.AmendmentHistory[0]
	if snap.ResultNumeric == nil || *snap.ResultNumeric != 300 {
		t.Error("snapshot must hold the pre-amendment numeric value")
	}
	if snap.Interpretation != InterpHigh {
		t.Errorf("snapshot must hold the pre-amendment interpretation, got %s", snap.Interpretation)
	}
	if view.ResultNumeric == nil || *view.ResultNumeric != 310 {
		t.Error("current value must be the amended one")
	}

	// A second amendment grows the history again without touching entry 0.
	if _, err := f.svc.Amend(context.Background(), doctor, f.gluResult, AmendInput{
		Reason:        "second correction",
		ResultNumeric: f64(305),
	}); err != nil {
		t.Fatalf("second amend: %v", err)
	}
	got, _ := f.repo.GetByID(context.Background(), f.gluResult)
	if len(got.AmendmentHistory) != 2 {
		t.Fatalf("expected history length 2, got %d", len(got.AmendmentHistory))
	}
	if *got.AmendmentHistory[0].ResultNumeric != 300 {
		t.Error("existing history entries must be immutable")
	}
	if *got.AmendmentHistory[1].ResultNumeric != 310 {
		t.Error("second snapshot must hold the value before the second amendment")
	}
}

// -- concurrency --

func TestConditionalWrite_Conflict(t *testing.T) {
	f := newFixture(t)
	submitted(t, f)

	// A concurrent QC reviewer moves the result before our approve lands.
	f.repo.results[f.gluResult].Status = StatusInProgress

	_, err := f.svc.QCApprove(context.Background(), labTech, f.gluResult, nil)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("expected conflict from stale precondition, got %v", err)
	}
}

// staleReadRepo serves one queued stale snapshot so a write can race a read
// that happened before another session's commit.
type staleReadRepo struct {
	*mockResultRepo
	stale *ResultContext
}

func (r *staleReadRepo) GetContext(ctx context.Context, id uuid.UUID) (*ResultContext, error) {
	if r.stale != nil && r.stale.Result.ID == id {
		rc := r.stale
		r.stale = nil
		return rc, nil
	}
	return r.mockResultRepo.GetContext(ctx, id)
}

func TestAmend_ConcurrentAmendmentConflicts(t *testing.T) {
	f := newFixture(t)
	reviewed(t, f)
	if _, err := f.svc.Release(context.Background(), doctor, f.gluResult); err != nil {
		t.Fatalf("release: %v", err)
	}

	// Two sessions read the released record before either writes.
	stale, err := f.repo.GetContext(context.Background(), f.gluResult)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	gated := &staleReadRepo{mockResultRepo: f.repo}
	svc := NewService(gated, f.history, DefaultPolicy(), formtpl.StaticProvider{}, f.notifier, zerolog.Nop())

	if _, err := svc.Amend(context.Background(), doctor, f.gluResult, AmendInput{
		Reason:        "transcription error",
		ResultNumeric: f64(310),
	}); err != nil {
		t.Fatalf("first amend: %v", err)
	}

	gated.stale = stale
	_, err = svc.Amend(context.Background(), doctor, f.gluResult, AmendInput{
		Reason:        "unit mix-up",
		ResultNumeric: f64(17),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for the losing amendment, got %v", err)
	}

	got, _ := f.repo.GetByID(context.Background(), f.gluResult)
	if len(got.AmendmentHistory) != 1 {
		t.Fatalf("expected history length 1, got %d", len(got.AmendmentHistory))
	}
	if got.ResultNumeric == nil || *got.ResultNumeric != 310 {
		t.Error("winning correction must survive intact")
	}

	// Same race against an already amended record: the status no longer
	// changes, so only the history length guard can catch the loser.
	stale, err = f.repo.GetContext(context.Background(), f.gluResult)
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if _, err := svc.Amend(context.Background(), doctor, f.gluResult, AmendInput{
		Reason:        "follow-up correction",
		ResultNumeric: f64(305),
	}); err != nil {
		t.Fatalf("re-amend: %v", err)
	}
	gated.stale = stale
	_, err = svc.Amend(context.Background(), doctor, f.gluResult, AmendInput{
		Reason:        "stale correction",
		ResultNumeric: f64(320),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for the stale re-amendment, got %v", err)
	}
	got, _ = f.repo.GetByID(context.Background(), f.gluResult)
	if len(got.AmendmentHistory) != 2 {
		t.Fatalf("expected history length 2, got %d", len(got.AmendmentHistory))
	}
}

// -- worklist --

func TestWorklist_ForbiddenCategory(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Worklist(context.Background(), Caller{ID: "rad-1", Role: "XRAY"}, WorklistParams{
		Category: catalog.CategoryPathology,
	})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("XRAY filtering by PATHOLOGY should be forbidden, got %v", err)
	}
}

func TestWorklist_ImplicitCategoryRestriction(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.svc.Worklist(context.Background(), labTech, WorklistParams{Limit: 20}); err != nil {
		t.Fatalf("worklist: %v", err)
	}
	got := f.repo.lastWorklist.Categories
	want := map[catalog.Category]bool{
		catalog.CategoryBlood: true, catalog.CategoryUrine: true, catalog.CategoryHormone: true,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d categories, got %v", len(want), got)
	}
	for _, c := range got {
		if !want[c] {
			t.Errorf("category %s leaked outside LAB's allowed set", c)
		}
	}
}

func TestWorklist_DefaultActionableStatuses(t *testing.T) {
	f := newFixture(t)

	if _, _, err := f.svc.Worklist(context.Background(), labTech, WorklistParams{Limit: 20}); err != nil {
		t.Fatalf("worklist: %v", err)
	}
	got := f.repo.lastWorklist.Statuses
	if len(got) != 3 {
		t.Fatalf("expected 3 default statuses, got %v", got)
	}
	want := map[Status]bool{StatusSampleCollected: true, StatusInProgress: true, StatusPendingQC: true}
	for _, s := range got {
		if !want[s] {
			t.Errorf("unexpected default status %s", s)
		}
	}
}

func TestWorklist_RoleWithoutCategories(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Worklist(context.Background(), Caller{ID: "r-1", Role: "RECEPTION"}, WorklistParams{})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("role with no categories should be forbidden, got %v", err)
	}
}

// -- entry form --

func TestEntryForm_ComposesContext(t *testing.T) {
	f := newFixture(t)

	form, err := f.svc.EntryForm(context.Background(), labTech, f.gluResult)
	if err != nil {
		t.Fatalf("entry form: %v", err)
	}
	if form.Test.Code != "GLU" {
		t.Errorf("expected test context, got %+v", form.Test)
	}
	if form.Order.PatientName != "Jane Roe" {
		t.Errorf("expected order context, got %+v", form.Order)
	}
	if form.Schema == nil || form.Schema.Title != "Numeric Result Entry" {
		t.Errorf("expected numeric schema, got %+v", form.Schema)
	}
	want := map[string]bool{"save_entry": true, "submit_for_review": true}
	if len(form.Workflow) != len(want) {
		t.Fatalf("unexpected workflow actions: %v", form.Workflow)
	}
	for _, a := range form.Workflow {
		if !want[a] {
			t.Errorf("unexpected action %s", a)
		}
	}
}

func TestEntryForm_WorkflowFiltersByRole(t *testing.T) {
	f := newFixture(t)
	submitted(t, f)
	if _, err := f.svc.QCApprove(context.Background(), labTech, f.gluResult, nil); err != nil {
		t.Fatalf("qc approve: %v", err)
	}

	form, err := f.svc.EntryForm(context.Background(), doctor, f.gluResult)
	if err != nil {
		t.Fatalf("entry form: %v", err)
	}
	if len(form.Workflow) != 1 || form.Workflow[0] != "review_approve" {
		t.Errorf("doctor at PENDING_REVIEW should see review_approve only, got %v", form.Workflow)
	}

	labForm, err := f.svc.EntryForm(context.Background(), labTech, f.gluResult)
	if err != nil {
		t.Fatalf("entry form: %v", err)
	}
	if len(labForm.Workflow) != 0 {
		t.Errorf("lab tech at PENDING_REVIEW should see no actions, got %v", labForm.Workflow)
	}
}

func TestEntryForm_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.EntryForm(context.Background(), labTech, uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

// -- order collaboration --

func TestMarkSampleCollected(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateForOrder(context.Background(), f.gluTest.ID, f.order.OrderID)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Status != StatusPendingSample {
		t.Fatalf("expected PENDING_SAMPLE, got %s", res.Status)
	}

	view, err := f.svc.MarkSampleCollected(context.Background(), "phleb-2", res.ID)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if view.Status != StatusSampleCollected {
		t.Errorf("expected SAMPLE_COLLECTED, got %s", view.Status)
	}
	if view.CollectedBy != "phleb-2" || view.CollectedAt == nil {
		t.Error("expected collection stamp")
	}

	if _, err := f.svc.MarkSampleCollected(context.Background(), "phleb-2", res.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("double collection should conflict, got %v", err)
	}
}

func TestCancelForOrder_SkipsReleased(t *testing.T) {
	f := newFixture(t)
	reviewed(t, f)
	if _, err := f.svc.Release(context.Background(), doctor, f.gluResult); err != nil {
		t.Fatalf("release: %v", err)
	}

	n, err := f.svc.CancelForOrder(context.Background(), "admin-1", f.order.OrderID, false)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Only the X-ray result is still active.
	if n != 1 {
		t.Errorf("expected 1 cancelled result, got %d", n)
	}
	got, _ := f.repo.GetByID(context.Background(), f.gluResult)
	if got.Status != StatusReleased {
		t.Errorf("released result must not be cancelled, got %s", got.Status)
	}
}

// -- patient results --

func TestPatientResults_OnlyReleased(t *testing.T) {
	f := newFixture(t)
	reviewed(t, f)
	if _, err := f.svc.Release(context.Background(), doctor, f.gluResult); err != nil {
		t.Fatalf("release: %v", err)
	}

	views, err := f.svc.PatientResults(context.Background(), f.order.OrderID)
	if err != nil {
		t.Fatalf("patient results: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected only the released result, got %d", len(views))
	}
	if views[0].ID != f.gluResult || !views[0].VisibleToPatient {
		t.Errorf("unexpected patient view: %+v", views[0])
	}
}

// -- audit --

func TestAudit_TrailGrowsWithTransitions(t *testing.T) {
	f := newFixture(t)
	reviewed(t, f)
	if _, err := f.svc.Release(context.Background(), doctor, f.gluResult); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := f.svc.Amend(context.Background(), doctor, f.gluResult, AmendInput{
		Reason: "late correction", ResultNumeric: f64(310),
	}); err != nil {
		t.Fatalf("amend: %v", err)
	}

	trail, err := f.svc.Audit(context.Background(), doctor, f.gluResult)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(trail.Amendments) != 1 {
		t.Errorf("expected 1 amendment, got %d", len(trail.Amendments))
	}
	// collected fixture state starts at SAMPLE_COLLECTED; transitions recorded:
	// save, submit, qc approve, review, release, amend.
	if len(trail.StatusHistory) != 6 {
		t.Errorf("expected 6 recorded transitions, got %d", len(trail.StatusHistory))
	}
	last := trail.StatusHistory[len(trail.StatusHistory)-1]
	if last.ToStatus != StatusAmended || last.Reason == nil {
		t.Errorf("unexpected final transition: %+v", last)
	}
}

// -- end to end (mirrors the full bench-to-amendment walkthrough) --

func TestLifecycle_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.SaveEntry(ctx, labTech, f.gluResult, EntryInput{ResultNumeric: f64(300)})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if view.Interpretation != InterpHigh || view.IsCritical {
		t.Fatalf("expected HIGH non-critical, got %s critical=%v", view.Interpretation, view.IsCritical)
	}

	if view, err = f.svc.SubmitForReview(ctx, labTech, f.gluResult, nil); err != nil || view.Status != StatusPendingQC {
		t.Fatalf("submit: %v status=%s", err, view.Status)
	}

	if view, err = f.svc.QCReject(ctx, labTech, f.gluResult, "illegible"); err != nil || view.Status != StatusInProgress {
		t.Fatalf("reject: %v status=%s", err, view.Status)
	}
	if *view.ResultNumeric != 300 {
		t.Fatal("value lost across QC rejection")
	}

	if view, err = f.svc.SubmitForReview(ctx, labTech, f.gluResult, nil); err != nil || view.Status != StatusPendingQC {
		t.Fatalf("resubmit: %v", err)
	}
	if view, err = f.svc.QCApprove(ctx, labTech, f.gluResult, nil); err != nil || view.Status != StatusPendingReview {
		t.Fatalf("qc approve: %v", err)
	}
	if view, err = f.svc.ReviewApprove(ctx, doctor, f.gluResult, ReviewInput{}); err != nil || view.Status != StatusApproved {
		t.Fatalf("review: %v", err)
	}
	if view, err = f.svc.Release(ctx, doctor, f.gluResult); err != nil {
		t.Fatalf("release: %v", err)
	}
	if view.Status != StatusReleased || !view.VisibleToPatient {
		t.Fatalf("release state wrong: %s visible=%v", view.Status, view.VisibleToPatient)
	}

	view, err = f.svc.Amend(ctx, doctor, f.gluResult, AmendInput{
		Reason: "transcription error", ResultNumeric: f64(310),
	})
	if err != nil {
		t.Fatalf("amend: %v", err)
	}
	if view.Status != StatusAmended {
		t.Fatalf("expected AMENDED, got %s", view.Status)
	}
	if len(view.AmendmentHistory) != 1 {
		t.Fatalf("expected history length 1, got %d", len(view.AmendmentHistory))
	}
	snap := view.AmendmentHistory[0]
	if *snap.ResultNumeric != 300 || snap.Interpretation != InterpHigh {
		t.Errorf("snapshot should hold 300/HIGH, got %v/%s", *snap.ResultNumeric, snap.Interpretation)
	}
	if *view.ResultNumeric != 310 {
		t.Errorf("current value should be 310, got %v", *view.ResultNumeric)
	}
}
