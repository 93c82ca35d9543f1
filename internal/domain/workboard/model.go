// Package workboard implements the diagnostic result lifecycle: result entry,
// quality control, specialist review, release to the patient, and post-release
// amendment. All status transitions for a result go through this package.
package workboard

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/catalog"
)

// Status is the lifecycle state of a diagnostic result.
type Status string

const (
	StatusPendingSample   Status = "PENDING_SAMPLE"
	StatusSampleCollected Status = "SAMPLE_COLLECTED"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusPendingQC       Status = "PENDING_QC"
	StatusQCApproved      Status = "QC_APPROVED"
	StatusPendingReview   Status = "PENDING_REVIEW"
	StatusApproved        Status = "APPROVED"
	StatusReleased        Status = "RELEASED"
	StatusAmended         Status = "AMENDED"
	StatusCancelled       Status = "CANCELLED"
	StatusRejected        Status = "REJECTED"
)

var validStatuses = map[Status]bool{
	StatusPendingSample: true, StatusSampleCollected: true, StatusInProgress: true,
	StatusPendingQC: true, StatusQCApproved: true, StatusPendingReview: true,
	StatusApproved: true, StatusReleased: true, StatusAmended: true,
	StatusCancelled: true, StatusRejected: true,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return validStatuses[s] }

// Active reports whether the result is still in flight. Released and amended
// results are patient-visible history; cancelled and rejected are terminal.
func (s Status) Active() bool {
	switch s {
	case StatusReleased, StatusAmended, StatusCancelled, StatusRejected:
		return false
	}
	return s.Valid()
}

// ActiveStatuses returns the states an order-level cancellation applies to.
func ActiveStatuses() []Status {
	return []Status{
		StatusPendingSample, StatusSampleCollected, StatusInProgress,
		StatusPendingQC, StatusQCApproved, StatusPendingReview, StatusApproved,
	}
}

// ActionableStatuses is the default worklist filter: results someone on the
// bench can act on right now.
func ActionableStatuses() []Status {
	return []Status{StatusSampleCollected, StatusInProgress, StatusPendingQC}
}

// Interpretation is a clinical flag derived from a numeric value and the
// test's reference ranges, or set explicitly by a reviewing specialist.
type Interpretation string

const (
	InterpNormal       Interpretation = "NORMAL"
	InterpLow          Interpretation = "LOW"
	InterpHigh         Interpretation = "HIGH"
	InterpCriticalLow  Interpretation = "CRITICAL_LOW"
	InterpCriticalHigh Interpretation = "CRITICAL_HIGH"
)

// Critical reports whether the interpretation is one of the critical flags.
func (i Interpretation) Critical() bool {
	return i == InterpCriticalLow || i == InterpCriticalHigh
}

// ComponentResult is one analyte within a multi-component panel. Stored as
// jsonb on the result row.
type ComponentResult struct {
	Name           string         `json:"name"`
	Value          string         `json:"value,omitempty"`
	Numeric        *float64       `json:"numeric,omitempty"`
	Unit           string         `json:"unit,omitempty"`
	Interpretation Interpretation `json:"interpretation,omitempty"`
	ReferenceText  string         `json:"reference_text,omitempty"`
}

// Amendment is an immutable snapshot of the clinically meaningful fields as
// they stood before an amendment was applied. The history only grows.
type Amendment struct {
	ResultValue    *string        `json:"result_value,omitempty"`
	ResultNumeric  *float64       `json:"result_numeric,omitempty"`
	ReportText     *string        `json:"report_text,omitempty"`
	Impressions    *string        `json:"impressions,omitempty"`
	Interpretation Interpretation `json:"interpretation,omitempty"`
	Reason         string         `json:"reason"`
	AmendedBy      string         `json:"amended_by"`
	AmendedAt      time.Time      `json:"amended_at"`
}

// Result maps to the diagnostic_result table. One row per ordered test item.
type Result struct {
	ID      uuid.UUID `db:"id" json:"id"`
	TestID  uuid.UUID `db:"test_id" json:"test_id"`
	OrderID uuid.UUID `db:"order_id" json:"order_id"`
	Status  Status    `db:"status" json:"status"`

	// Value payload. Numeric categories use value/numeric/unit or component
	// results; narrative categories use report text, impressions and
	// recommendations. The shape is fixed by the test's category at creation.
	ResultValue      *string           `db:"result_value" json:"result_value,omitempty"`
	ResultNumeric    *float64          `db:"result_numeric" json:"result_numeric,omitempty"`
	ResultUnit       *string           `db:"result_unit" json:"result_unit,omitempty"`
	ReportText       *string           `db:"report_text" json:"report_text,omitempty"`
	Impressions      *string           `db:"impressions" json:"impressions,omitempty"`
	Recommendations  *string           `db:"recommendations" json:"recommendations,omitempty"`
	ComponentResults []ComponentResult `db:"component_results" json:"component_results,omitempty"`

	// Derived clinical flags. IsCritical is never settable directly.
	Interpretation Interpretation `db:"interpretation" json:"interpretation,omitempty"`
	IsCritical     bool           `db:"is_critical" json:"is_critical"`

	// Reference context snapshotted from the catalog at entry time.
	ReferenceMin  *float64 `db:"reference_min" json:"reference_min,omitempty"`
	ReferenceMax  *float64 `db:"reference_max" json:"reference_max,omitempty"`
	ReferenceText *string  `db:"reference_text" json:"reference_text,omitempty"`

	TechnicianNotes   *string `db:"technician_notes" json:"technician_notes,omitempty"`
	ReviewerNotes     *string `db:"reviewer_notes" json:"reviewer_notes,omitempty"`
	QCNotes           *string `db:"qc_notes" json:"qc_notes,omitempty"`
	QCRejectionReason *string `db:"qc_rejection_reason" json:"qc_rejection_reason,omitempty"`
	AmendmentReason   *string `db:"amendment_reason" json:"amendment_reason,omitempty"`

	Attachments []string `db:"attachments" json:"attachments,omitempty"`
	ImageURLs   []string `db:"image_urls" json:"image_urls,omitempty"`

	CollectedBy  *string    `db:"collected_by" json:"collected_by,omitempty"`
	CollectedAt  *time.Time `db:"collected_at" json:"collected_at,omitempty"`
	EnteredBy    *string    `db:"entered_by" json:"entered_by,omitempty"`
	EnteredAt    *time.Time `db:"entered_at" json:"entered_at,omitempty"`
	SubmittedBy  *string    `db:"submitted_by" json:"submitted_by,omitempty"`
	SubmittedAt  *time.Time `db:"submitted_at" json:"submitted_at,omitempty"`
	QCApprovedBy *string    `db:"qc_approved_by" json:"qc_approved_by,omitempty"`
	QCApprovedAt *time.Time `db:"qc_approved_at" json:"qc_approved_at,omitempty"`
	QCRejectedBy *string    `db:"qc_rejected_by" json:"qc_rejected_by,omitempty"`
	QCRejectedAt *time.Time `db:"qc_rejected_at" json:"qc_rejected_at,omitempty"`
	ReviewedBy   *string    `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	ReleasedBy   *string    `db:"released_by" json:"released_by,omitempty"`
	ReleasedAt   *time.Time `db:"released_at" json:"released_at,omitempty"`
	AmendedBy    *string    `db:"amended_by" json:"amended_by,omitempty"`
	AmendedAt    *time.Time `db:"amended_at" json:"amended_at,omitempty"`

	AmendmentHistory []Amendment `db:"amendment_history" json:"amendment_history,omitempty"`
	VisibleToPatient bool        `db:"visible_to_patient" json:"visible_to_patient"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// OrderInfo is the patient and order snapshot joined in from the order row.
type OrderInfo struct {
	OrderID          uuid.UUID  `json:"order_id"`
	PatientName      string     `json:"patient_name"`
	PatientGender    string     `json:"patient_gender"`
	PatientBirthDate *time.Time `json:"patient_birth_date,omitempty"`
	PatientContact   string     `json:"patient_contact,omitempty"`
	ReferredBy       string     `json:"referred_by,omitempty"`
	Urgency          string     `json:"urgency"`
	OrderStatus      string     `json:"order_status"`
}

// PatientAge returns the patient's age in whole years at the given time, or
// zero when the birth date is unknown.
func (o OrderInfo) PatientAge(at time.Time) int {
	if o.PatientBirthDate == nil {
		return 0
	}
	years := at.Year() - o.PatientBirthDate.Year()
	anniversary := o.PatientBirthDate.AddDate(years, 0, 0)
	if anniversary.After(at) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// ResultContext is a result loaded with its test definition and order
// snapshot.
type ResultContext struct {
	Result *Result
	Test   *catalog.Test
	Order  *OrderInfo
}

// StatusChange records one transition for the audit trail.
type StatusChange struct {
	ID         uuid.UUID `db:"id" json:"id"`
	ResultID   uuid.UUID `db:"result_id" json:"result_id"`
	FromStatus Status    `db:"from_status" json:"from_status"`
	ToStatus   Status    `db:"to_status" json:"to_status"`
	ChangedBy  string    `db:"changed_by" json:"changed_by"`
	ChangedAt  time.Time `db:"changed_at" json:"changed_at"`
	Reason     *string   `db:"reason" json:"reason,omitempty"`
}
