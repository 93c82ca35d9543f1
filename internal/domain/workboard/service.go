package workboard

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/platform/formtpl"
	"github.com/hms/hms/internal/platform/notification"
)

// Caller identifies the authenticated actor performing an operation.
type Caller struct {
	ID   string
	Role string
}

// ReleaseNotifier signals that a patient notification should be dispatched.
// Implementations must not block; failures are the implementation's problem.
type ReleaseNotifier interface {
	ResultReleased(ev notification.ReleaseEvent)
	ResultAmended(ev notification.AmendEvent)
}

type Service struct {
	results  ResultRepository
	history  StatusHistoryRepository
	policy   CategoryPolicy
	schemas  formtpl.SchemaProvider
	notifier ReleaseNotifier
	logger   zerolog.Logger
}

// NewService wires the lifecycle engine. notifier may be nil when no
// notification collaborator is configured.
func NewService(results ResultRepository, history StatusHistoryRepository, policy CategoryPolicy, schemas formtpl.SchemaProvider, notifier ReleaseNotifier, logger zerolog.Logger) *Service {
	return &Service{
		results:  results,
		history:  history,
		policy:   policy,
		schemas:  schemas,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *Service) authorize(caller Caller, category catalog.Category) error {
	if s.policy.Allows(caller.Role, category) {
		return nil
	}
	return fmt.Errorf("%w: role %s may not act on %s results", ErrForbidden, caller.Role, category)
}

func (s *Service) recordChange(ctx context.Context, resultID uuid.UUID, from, to Status, actor string, reason *string) {
	err := s.history.Record(ctx, &StatusChange{
		ResultID:   resultID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  actor,
		ChangedAt:  time.Now().UTC(),
		Reason:     reason,
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("result_id", resultID.String()).
			Str("to_status", string(to)).
			Msg("failed to record status history")
	}
}

// EntryInput carries the fields of a partial result entry. Nil fields are
// left untouched.
type EntryInput struct {
	ResultValue      *string           `json:"result_value,omitempty"`
	ResultNumeric    *float64          `json:"result_numeric,omitempty"`
	ResultUnit       *string           `json:"result_unit,omitempty"`
	ReportText       *string           `json:"report_text,omitempty"`
	Impressions      *string           `json:"impressions,omitempty"`
	Recommendations  *string           `json:"recommendations,omitempty"`
	ComponentResults []ComponentResult `json:"component_results,omitempty"`
	TechnicianNotes  *string           `json:"technician_notes,omitempty"`
	Attachments      []string          `json:"attachments,omitempty"`
	ImageURLs        []string          `json:"image_urls,omitempty"`
}

func (in EntryInput) hasNumericFields() bool {
	return in.ResultValue != nil || in.ResultNumeric != nil || in.ResultUnit != nil || len(in.ComponentResults) > 0
}

func (in EntryInput) hasNarrativeFields() bool {
	return in.ReportText != nil || in.Impressions != nil || in.Recommendations != nil
}

// SaveEntry merges a partial entry into the result and moves it to
// IN_PROGRESS. Intended for repeated draft saves; completeness is checked at
// submission, not here.
func (s *Service) SaveEntry(ctx context.Context, caller Caller, resultID uuid.UUID, in EntryInput) (*View, error) {
	rc, err := s.results.GetContext(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, rc.Test.Category); err != nil {
		return nil, err
	}

	res := rc.Result
	if res.Status != StatusSampleCollected && res.Status != StatusInProgress {
		return nil, fmt.Errorf("%w: cannot save entry while result is %s", ErrValidation, res.Status)
	}

	// The value shape is fixed by the test's category.
	if rc.Test.Category.Numeric() && in.hasNarrativeFields() {
		return nil, fmt.Errorf("%w: %s results take numeric values, not report text", ErrValidation, rc.Test.Category)
	}
	if !rc.Test.Category.Numeric() && in.hasNumericFields() {
		return nil, fmt.Errorf("%w: %s results take report text, not numeric values", ErrValidation, rc.Test.Category)
	}

	if in.ResultValue != nil {
		res.ResultValue = in.ResultValue
	}
	if in.ResultNumeric != nil {
		res.ResultNumeric = in.ResultNumeric
	}
	if in.ResultUnit != nil {
		res.ResultUnit = in.ResultUnit
	}
	if in.ReportText != nil {
		res.ReportText = in.ReportText
	}
	if in.Impressions != nil {
		res.Impressions = in.Impressions
	}
	if in.Recommendations != nil {
		res.Recommendations = in.Recommendations
	}
	if len(in.ComponentResults) > 0 {
		res.ComponentResults = in.ComponentResults
	}
	if in.TechnicianNotes != nil {
		res.TechnicianNotes = in.TechnicianNotes
	}
	if len(in.Attachments) > 0 {
		res.Attachments = in.Attachments
	}
	if len(in.ImageURLs) > 0 {
		res.ImageURLs = in.ImageURLs
	}
	if res.ResultUnit == nil && rc.Test.Unit != "" {
		unit := rc.Test.Unit
		res.ResultUnit = &unit
	}

	if res.ResultNumeric != nil && len(rc.Test.Ranges) > 0 {
		s.applyInterpretation(res, rc)
	}

	now := time.Now().UTC()
	res.EnteredBy = &caller.ID
	res.EnteredAt = &now
	prev := res.Status
	res.Status = StatusInProgress

	if err := s.results.UpdateConditional(ctx, res, StatusSampleCollected, StatusInProgress); err != nil {
		return nil, err
	}
	if prev != StatusInProgress {
		s.recordChange(ctx, res.ID, prev, StatusInProgress, caller.ID, nil)
	}
	return NewView(res), nil
}

// applyInterpretation recomputes the clinical flags and snapshots the matched
// reference band onto the result.
func (s *Service) applyInterpretation(res *Result, rc *ResultContext) {
	age := rc.Order.PatientAge(time.Now())
	interp := Interpret(*res.ResultNumeric, rc.Test.Ranges, rc.Order.PatientGender, age)
	res.Interpretation = interp
	res.IsCritical = interp.Critical()

	if r := pickRange(rc.Test.Ranges, rc.Order.PatientGender, age); r != nil {
		res.ReferenceMin = r.Min
		res.ReferenceMax = r.Max
		if r.Text != "" {
			text := r.Text
			res.ReferenceText = &text
		}
	}
}

// SubmitForReview validates completeness for the test's value shape and moves
// the result to PENDING_QC.
func (s *Service) SubmitForReview(ctx context.Context, caller Caller, resultID uuid.UUID, notes *string) (*View, error) {
	rc, err := s.results.GetContext(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, rc.Test.Category); err != nil {
		return nil, err
	}

	res := rc.Result
	if res.Status != StatusInProgress && res.Status != StatusSampleCollected {
		return nil, fmt.Errorf("%w: result is %s", ErrConflict, res.Status)
	}

	if rc.Test.Category.Numeric() {
		hasValue := res.ResultValue != nil && strings.TrimSpace(*res.ResultValue) != ""
		if !hasValue && res.ResultNumeric == nil && len(res.ComponentResults) == 0 {
			return nil, fmt.Errorf("%w: missing result_value, result_numeric or component_results", ErrValidation)
		}
	} else {
		hasReport := res.ReportText != nil && strings.TrimSpace(*res.ReportText) != ""
		hasImpressions := res.Impressions != nil && strings.TrimSpace(*res.Impressions) != ""
		if !hasReport && !hasImpressions {
			return nil, fmt.Errorf("%w: missing report_text or impressions", ErrValidation)
		}
	}

	if notes != nil {
		res.TechnicianNotes = notes
	}
	now := time.Now().UTC()
	res.SubmittedBy = &caller.ID
	res.SubmittedAt = &now
	prev := res.Status
	res.Status = StatusPendingQC

	if err := s.results.UpdateConditional(ctx, res, StatusInProgress, StatusSampleCollected); err != nil {
		return nil, err
	}
	s.recordChange(ctx, res.ID, prev, StatusPendingQC, caller.ID, nil)
	return NewView(res), nil
}

// QCApprove moves a pending-QC result on to specialist review.
func (s *Service) QCApprove(ctx context.Context, caller Caller, resultID uuid.UUID, notes *string) (*View, error) {
	rc, err := s.results.GetContext(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, rc.Test.Category); err != nil {
		return nil, err
	}

	res := rc.Result
	if res.Status != StatusPendingQC {
		return nil, fmt.Errorf("%w: result is %s, not pending QC", ErrConflict, res.Status)
	}

	if notes != nil {
		res.QCNotes = notes
	}
	now := time.Now().UTC()
	res.QCApprovedBy = &caller.ID
	res.QCApprovedAt = &now
	res.Status = StatusPendingReview

	if err := s.results.UpdateConditional(ctx, res, StatusPendingQC); err != nil {
		return nil, err
	}
	s.recordChange(ctx, res.ID, StatusPendingQC, StatusPendingReview, caller.ID, nil)
	return NewView(res), nil
}

// QCReject sends the result back to the technician. All entered values are
// preserved so correction happens in place.
func (s *Service) QCReject(ctx context.Context, caller Caller, resultID uuid.UUID, reason string) (*View, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}

	rc, err := s.results.GetContext(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, rc.Test.Category); err != nil {
		return nil, err
	}

	res := rc.Result
	if res.Status != StatusPendingQC {
		return nil, fmt.Errorf("%w: result is %s, not pending QC", ErrConflict, res.Status)
	}

	now := time.Now().UTC()
	res.QCRejectedBy = &caller.ID
	res.QCRejectedAt = &now
	res.QCRejectionReason = &reason
	res.Status = StatusInProgress

	if err := s.results.UpdateConditional(ctx, res, StatusPendingQC); err != nil {
		return nil, err
	}
	s.recordChange(ctx, res.ID, StatusPendingQC, StatusInProgress, caller.ID, &reason)
	return NewView(res), nil
}

// ReviewInput carries the specialist's optional overrides.
type ReviewInput struct {
	Impressions     *string         `json:"impressions,omitempty"`
	Recommendations *string         `json:"recommendations,omitempty"`
	Interpretation  *Interpretation `json:"interpretation,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
}

// ReviewApprove approves the result clinically. The reviewer may overwrite
// impressions, recommendations and the interpretation; an explicit
// interpretation override is a human decision and is not recomputed.
func (s *Service) ReviewApprove(ctx context.Context, caller Caller, resultID uuid.UUID, in ReviewInput) (*View, error) {
	rc, err := s.results.GetContext(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, rc.Test.Category); err != nil {
		return nil, err
	}

	res := rc.Result
	if res.Status != StatusPendingReview && res.Status != StatusQCApproved {
		return nil, fmt.Errorf("%w: result is %s, not awaiting review", ErrConflict, res.Status)
	}

	if in.Interpretation != nil {
		switch *in.Interpretation {
		case InterpNormal, InterpLow, InterpHigh, InterpCriticalLow, InterpCriticalHigh:
		default:
			return nil, fmt.Errorf("%w: unknown interpretation %q", ErrValidation, *in.Interpretation)
		}
	}

	if in.Impressions != nil {
		res.Impressions = in.Impressions
	}
	if in.Recommendations != nil {
		res.Recommendations = in.Recommendations
	}
	if in.Interpretation != nil {
		res.Interpretation = *in.Interpretation
		res.IsCritical = res.Interpretation.Critical()
	}
	if in.Notes != nil {
		res.ReviewerNotes = in.Notes
	}

	now := time.Now().UTC()
	res.ReviewedBy = &caller.ID
	res.ReviewedAt = &now
	prev := res.Status
	res.Status = StatusApproved

	if err := s.results.UpdateConditional(ctx, res, StatusPendingReview, StatusQCApproved); err != nil {
		return nil, err
	}
	s.recordChange(ctx, res.ID, prev, StatusApproved, caller.ID, nil)
	return NewView(res), nil
}

// Release makes the result visible to the patient and signals the
// notification collaborator. Notification failure never rolls back a release.
func (s *Service) Release(ctx context.Context, caller Caller, resultID uuid.UUID) (*View, error) {
	rc, err := s.results.GetContext(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, rc.Test.Category); err != nil {
		return nil, err
	}

	res := rc.Result
	if res.Status != StatusApproved {
		return nil, fmt.Errorf("%w: result is %s, not approved", ErrConflict, res.Status)
	}

	now := time.Now().UTC()
	res.ReleasedBy = &caller.ID
	res.ReleasedAt = &now
	res.VisibleToPatient = true
	res.Status = StatusReleased

	if err := s.results.UpdateConditional(ctx, res, StatusApproved); err != nil {
		return nil, err
	}
	s.recordChange(ctx, res.ID, StatusApproved, StatusReleased, caller.ID, nil)

	if s.notifier != nil {
		ev := notification.ReleaseEvent{
			ResultID:    res.ID.String(),
			PatientName: rc.Order.PatientName,
			TestName:    rc.Test.Name,
			Recipient:   rc.Order.PatientContact,
			IsCritical:  res.IsCritical,
			Unit:        strVal(res.ResultUnit),
		}
		if res.ResultNumeric != nil {
			ev.Value = strconv.FormatFloat(*res.ResultNumeric, 'f', -1, 64)
		}
		s.notifier.ResultReleased(ev)
	}
	return NewView(res), nil
}

// AmendInput carries the corrected values for a released result.
type AmendInput struct {
	Reason          string          `json:"reason"`
	ResultValue     *string         `json:"result_value,omitempty"`
	ResultNumeric   *float64        `json:"result_numeric,omitempty"`
	ReportText      *string         `json:"report_text,omitempty"`
	Impressions     *string         `json:"impressions,omitempty"`
	Recommendations *string         `json:"recommendations,omitempty"`
	Interpretation  *Interpretation `json:"interpretation,omitempty"`
}

// Amend snapshots the current clinical fields into the append-only history,
// applies the corrections, and marks the result AMENDED. Released and already
// amended results are both amendable.
func (s *Service) Amend(ctx context.Context, caller Caller, resultID uuid.UUID, in AmendInput) (*View, error) {
	if strings.TrimSpace(in.Reason) == "" {
		return nil, fmt.Errorf("%w: amendment reason is required", ErrValidation)
	}

	rc, err := s.results.GetContext(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, rc.Test.Category); err != nil {
		return nil, err
	}

	res := rc.Result
	if res.Status != StatusReleased && res.Status != StatusAmended {
		return nil, fmt.Errorf("%w: result is %s, not released", ErrConflict, res.Status)
	}

	now := time.Now().UTC()
	res.AmendmentHistory = append(res.AmendmentHistory, Amendment{
		ResultValue:    res.ResultValue,
		ResultNumeric:  res.ResultNumeric,
		ReportText:     res.ReportText,
		Impressions:    res.Impressions,
		Interpretation: res.Interpretation,
		Reason:         in.Reason,
		AmendedBy:      caller.ID,
		AmendedAt:      now,
	})

	if in.ResultValue != nil {
		res.ResultValue = in.ResultValue
	}
	if in.ResultNumeric != nil {
		res.ResultNumeric = in.ResultNumeric
	}
	if in.ReportText != nil {
		res.ReportText = in.ReportText
	}
	if in.Impressions != nil {
		res.Impressions = in.Impressions
	}
	if in.Recommendations != nil {
		res.Recommendations = in.Recommendations
	}
	switch {
	case in.Interpretation != nil:
		res.Interpretation = *in.Interpretation
		res.IsCritical = res.Interpretation.Critical()
	case in.ResultNumeric != nil && len(rc.Test.Ranges) > 0:
		s.applyInterpretation(res, rc)
	}

	prev := res.Status
	res.AmendedBy = &caller.ID
	res.AmendedAt = &now
	res.AmendmentReason = &in.Reason
	res.Status = StatusAmended

	// Guard on the status and history length observed at read time: a
	// concurrent amendment changes both, so the losing writer conflicts
	// instead of overwriting the winner's snapshot.
	if err := s.results.UpdateAmendment(ctx, res, prev, len(res.AmendmentHistory)-1); err != nil {
		return nil, err
	}
	s.recordChange(ctx, res.ID, prev, StatusAmended, caller.ID, &in.Reason)

	if s.notifier != nil {
		s.notifier.ResultAmended(notification.AmendEvent{
			ResultID:    res.ID.String(),
			PatientName: rc.Order.PatientName,
			TestName:    rc.Test.Name,
			Reason:      in.Reason,
			Recipient:   rc.Order.PatientContact,
		})
	}
	return NewView(res), nil
}

// CreateForOrder registers a new result for an ordered test. Called by the
// order collaborator, not exposed over HTTP directly.
func (s *Service) CreateForOrder(ctx context.Context, testID, orderID uuid.UUID) (*Result, error) {
	res := &Result{
		TestID:  testID,
		OrderID: orderID,
		Status:  StatusPendingSample,
	}
	if err := s.results.Create(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// MarkSampleCollected logs sample collection for a pending result.
func (s *Service) MarkSampleCollected(ctx context.Context, actor string, resultID uuid.UUID) (*View, error) {
	res, err := s.results.GetByID(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusPendingSample {
		return nil, fmt.Errorf("%w: result is %s, not pending sample", ErrConflict, res.Status)
	}

	now := time.Now().UTC()
	res.CollectedBy = &actor
	res.CollectedAt = &now
	res.Status = StatusSampleCollected

	if err := s.results.UpdateConditional(ctx, res, StatusPendingSample); err != nil {
		return nil, err
	}
	s.recordChange(ctx, res.ID, StatusPendingSample, StatusSampleCollected, actor, nil)
	return NewView(res), nil
}

// CancelForOrder moves every still-active result of the order to CANCELLED
// (or REJECTED). Released and amended results are untouched.
func (s *Service) CancelForOrder(ctx context.Context, actor string, orderID uuid.UUID, reject bool) (int, error) {
	to := StatusCancelled
	if reject {
		to = StatusRejected
	}
	n, err := s.results.CancelByOrder(ctx, orderID, to, actor)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().
			Str("order_id", orderID.String()).
			Str("to_status", string(to)).
			Int("results", n).
			Msg("order-level cancellation applied")
	}
	return n, nil
}

// WorklistParams is the caller-facing worklist filter.
type WorklistParams struct {
	Category catalog.Category
	Statuses []Status
	Urgency  string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// Worklist returns the page of results the caller's role may work on,
// urgency-first, oldest sample first.
func (s *Service) Worklist(ctx context.Context, caller Caller, p WorklistParams) ([]*WorklistRow, int, error) {
	var cats []catalog.Category
	if p.Category != "" {
		if !p.Category.Valid() {
			return nil, 0, fmt.Errorf("%w: unknown category %q", ErrValidation, p.Category)
		}
		if !s.policy.Allows(caller.Role, p.Category) {
			return nil, 0, fmt.Errorf("%w: role %s may not view %s results", ErrForbidden, caller.Role, p.Category)
		}
		cats = []catalog.Category{p.Category}
	} else {
		cats = s.policy.Allowed(caller.Role)
		if len(cats) == 0 {
			return nil, 0, fmt.Errorf("%w: role %s has no workboard categories", ErrForbidden, caller.Role)
		}
	}

	statuses := p.Statuses
	if len(statuses) == 0 {
		statuses = ActionableStatuses()
	}
	for _, st := range statuses {
		if !st.Valid() {
			return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, st)
		}
	}

	return s.results.Worklist(ctx, WorklistQuery{
		Categories: cats,
		Statuses:   statuses,
		Urgency:    p.Urgency,
		From:       p.From,
		To:         p.To,
		Limit:      p.Limit,
		Offset:     p.Offset,
	})
}

// EntryForm composes the data-entry context for a result.
func (s *Service) EntryForm(ctx context.Context, caller Caller, resultID uuid.UUID) (*EntryForm, error) {
	rc, err := s.results.GetContext(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, rc.Test.Category); err != nil {
		return nil, err
	}

	form := &EntryForm{
		Result:   NewView(rc.Result),
		Order:    rc.Order,
		Test:     rc.Test,
		Workflow: WorkflowActions(rc.Result.Status, caller.Role),
	}
	if s.schemas != nil {
		schema, err := s.schemas.Schema(ctx, rc.Test.Code, string(rc.Test.Category))
		if err != nil {
			// The form is still usable without a schema.
			s.logger.Warn().Err(err).
				Str("test_code", rc.Test.Code).
				Msg("entry form schema unavailable")
		} else {
			form.Schema = schema
		}
	}
	return form, nil
}

// Audit returns the amendment snapshots and recorded status transitions.
func (s *Service) Audit(ctx context.Context, caller Caller, resultID uuid.UUID) (*AuditTrail, error) {
	rc, err := s.results.GetContext(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(caller, rc.Test.Category); err != nil {
		return nil, err
	}

	changes, err := s.history.ListByResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if changes == nil {
		changes = []*StatusChange{}
	}
	amendments := rc.Result.AmendmentHistory
	if amendments == nil {
		amendments = []Amendment{}
	}
	return &AuditTrail{
		ResultID:      rc.Result.ID,
		Status:        rc.Result.Status,
		Amendments:    amendments,
		StatusHistory: changes,
	}, nil
}

// ResultsForOrder returns every result of an order regardless of status.
// Used by the order module to show an order's line items.
func (s *Service) ResultsForOrder(ctx context.Context, orderID uuid.UUID) ([]*View, error) {
	results, err := s.results.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	views := []*View{}
	for _, r := range results {
		views = append(views, NewView(r))
	}
	return views, nil
}

// PatientResults returns the released or amended results of an order that are
// visible to the patient.
func (s *Service) PatientResults(ctx context.Context, orderID uuid.UUID) ([]*View, error) {
	results, err := s.results.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	views := []*View{}
	for _, r := range results {
		if !r.VisibleToPatient {
			continue
		}
		if r.Status != StatusReleased && r.Status != StatusAmended {
			continue
		}
		views = append(views, NewView(r))
	}
	return views, nil
}
