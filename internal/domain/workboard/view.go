package workboard

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/platform/formtpl"
)

// View is the formatted projection of a result returned by every operation.
// Optional text fields are normalized to empty strings and slices are never
// nil, so callers never see null where a value is merely absent.
type View struct {
	ID      uuid.UUID `json:"id"`
	TestID  uuid.UUID `json:"test_id"`
	OrderID uuid.UUID `json:"order_id"`
	Status  Status    `json:"status"`

	ResultValue      string            `json:"result_value"`
	ResultNumeric    *float64          `json:"result_numeric"`
	ResultUnit       string            `json:"result_unit"`
	ReportText       string            `json:"report_text"`
	Impressions      string            `json:"impressions"`
	Recommendations  string            `json:"recommendations"`
	ComponentResults []ComponentResult `json:"component_results"`

	Interpretation Interpretation `json:"interpretation"`
	IsCritical     bool           `json:"is_critical"`

	ReferenceMin  *float64 `json:"reference_min"`
	ReferenceMax  *float64 `json:"reference_max"`
	ReferenceText string   `json:"reference_text"`

	TechnicianNotes   string `json:"technician_notes"`
	ReviewerNotes     string `json:"reviewer_notes"`
	QCNotes           string `json:"qc_notes"`
	QCRejectionReason string `json:"qc_rejection_reason"`
	AmendmentReason   string `json:"amendment_reason"`

	Attachments []string `json:"attachments"`
	ImageURLs   []string `json:"image_urls"`

	CollectedBy  string     `json:"collected_by"`
	CollectedAt  *time.Time `json:"collected_at"`
	EnteredBy    string     `json:"entered_by"`
	EnteredAt    *time.Time `json:"entered_at"`
	SubmittedBy  string     `json:"submitted_by"`
	SubmittedAt  *time.Time `json:"submitted_at"`
	QCApprovedBy string     `json:"qc_approved_by"`
	QCApprovedAt *time.Time `json:"qc_approved_at"`
	QCRejectedBy string     `json:"qc_rejected_by"`
	QCRejectedAt *time.Time `json:"qc_rejected_at"`
	ReviewedBy   string     `json:"reviewed_by"`
	ReviewedAt   *time.Time `json:"reviewed_at"`
	ReleasedBy   string     `json:"released_by"`
	ReleasedAt   *time.Time `json:"released_at"`
	AmendedBy    string     `json:"amended_by"`
	AmendedAt    *time.Time `json:"amended_at"`

	AmendmentHistory []Amendment `json:"amendment_history"`
	VisibleToPatient bool        `json:"visible_to_patient"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewView builds the formatted projection of a result.
func NewView(r *Result) *View {
	v := &View{
		ID:      r.ID,
		TestID:  r.TestID,
		OrderID: r.OrderID,
		Status:  r.Status,

		ResultValue:      strVal(r.ResultValue),
		ResultNumeric:    r.ResultNumeric,
		ResultUnit:       strVal(r.ResultUnit),
		ReportText:       strVal(r.ReportText),
		Impressions:      strVal(r.Impressions),
		Recommendations:  strVal(r.Recommendations),
		ComponentResults: r.ComponentResults,

		Interpretation: r.Interpretation,
		IsCritical:     r.IsCritical,

		ReferenceMin:  r.ReferenceMin,
		ReferenceMax:  r.ReferenceMax,
		ReferenceText: strVal(r.ReferenceText),

		TechnicianNotes:   strVal(r.TechnicianNotes),
		ReviewerNotes:     strVal(r.ReviewerNotes),
		QCNotes:           strVal(r.QCNotes),
		QCRejectionReason: strVal(r.QCRejectionReason),
		AmendmentReason:   strVal(r.AmendmentReason),

		Attachments: r.Attachments,
		ImageURLs:   r.ImageURLs,

		CollectedBy:  strVal(r.CollectedBy),
		CollectedAt:  r.CollectedAt,
		EnteredBy:    strVal(r.EnteredBy),
		EnteredAt:    r.EnteredAt,
		SubmittedBy:  strVal(r.SubmittedBy),
		SubmittedAt:  r.SubmittedAt,
		QCApprovedBy: strVal(r.QCApprovedBy),
		QCApprovedAt: r.QCApprovedAt,
		QCRejectedBy: strVal(r.QCRejectedBy),
		QCRejectedAt: r.QCRejectedAt,
		ReviewedBy:   strVal(r.ReviewedBy),
		ReviewedAt:   r.ReviewedAt,
		ReleasedBy:   strVal(r.ReleasedBy),
		ReleasedAt:   r.ReleasedAt,
		AmendedBy:    strVal(r.AmendedBy),
		AmendedAt:    r.AmendedAt,

		AmendmentHistory: r.AmendmentHistory,
		VisibleToPatient: r.VisibleToPatient,

		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if v.ComponentResults == nil {
		v.ComponentResults = []ComponentResult{}
	}
	if v.Attachments == nil {
		v.Attachments = []string{}
	}
	if v.ImageURLs == nil {
		v.ImageURLs = []string{}
	}
	if v.AmendmentHistory == nil {
		v.AmendmentHistory = []Amendment{}
	}
	return v
}

// EntryForm is the composed response for the data-entry UI: the result with
// its order and test context, the entry schema, and the actions the caller's
// role may take from the current status. The workflow list is advisory; the
// mutating operations re-check authorization themselves.
type EntryForm struct {
	Result   *View           `json:"result"`
	Order    *OrderInfo      `json:"order"`
	Test     *catalog.Test   `json:"test"`
	Schema   *formtpl.Schema `json:"schema,omitempty"`
	Workflow []string        `json:"workflow"`
}

// AuditTrail is the read-side audit projection: the append-only amendment
// snapshots plus every recorded status transition.
type AuditTrail struct {
	ResultID      uuid.UUID       `json:"result_id"`
	Status        Status          `json:"status"`
	Amendments    []Amendment     `json:"amendments"`
	StatusHistory []*StatusChange `json:"status_history"`
}

type workflowAction struct {
	name  string
	roles map[string]bool
}

var techRoles = map[string]bool{"LAB": true, "XRAY": true, "PATHOLOGY": true, "ADMIN": true}
var clinicianRoles = map[string]bool{"DOCTOR": true, "ADMIN": true}

// statusActions maps each status to the actions available from it and the
// roles that typically perform them.
var statusActions = map[Status][]workflowAction{
	StatusSampleCollected: {
		{name: "save_entry", roles: techRoles},
		{name: "submit_for_review", roles: techRoles},
	},
	StatusInProgress: {
		{name: "save_entry", roles: techRoles},
		{name: "submit_for_review", roles: techRoles},
	},
	StatusPendingQC: {
		{name: "qc_approve", roles: techRoles},
		{name: "qc_reject", roles: techRoles},
	},
	StatusQCApproved: {
		{name: "review_approve", roles: clinicianRoles},
	},
	StatusPendingReview: {
		{name: "review_approve", roles: clinicianRoles},
	},
	StatusApproved: {
		{name: "release", roles: clinicianRoles},
	},
	StatusReleased: {
		{name: "amend", roles: clinicianRoles},
	},
	StatusAmended: {
		{name: "amend", roles: clinicianRoles},
	},
}

// WorkflowActions returns the action names a role may take from the status.
func WorkflowActions(status Status, role string) []string {
	actions := []string{}
	for _, a := range statusActions[status] {
		if a.roles[role] {
			actions = append(actions, a.name)
		}
	}
	return actions
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
