package workboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository {
	return &resultRepoPG{pool: pool}
}

func (r *resultRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const resultCols = `id, test_id, order_id, status,
	result_value, result_numeric, result_unit,
	report_text, impressions, recommendations, component_results,
	interpretation, is_critical,
	reference_min, reference_max, reference_text,
	technician_notes, reviewer_notes, qc_notes, qc_rejection_reason, amendment_reason,
	attachments, image_urls,
	collected_by, collected_at, entered_by, entered_at,
	submitted_by, submitted_at, qc_approved_by, qc_approved_at,
	qc_rejected_by, qc_rejected_at, reviewed_by, reviewed_at,
	released_by, released_at, amended_by, amended_at,
	amendment_history, visible_to_patient, created_at, updated_at`

func scanResult(row pgx.Row) (*Result, error) {
	var res Result
	var interp *string
	var components, history []byte
	err := row.Scan(&res.ID, &res.TestID, &res.OrderID, &res.Status,
		&res.ResultValue, &res.ResultNumeric, &res.ResultUnit,
		&res.ReportText, &res.Impressions, &res.Recommendations, &components,
		&interp, &res.IsCritical,
		&res.ReferenceMin, &res.ReferenceMax, &res.ReferenceText,
		&res.TechnicianNotes, &res.ReviewerNotes, &res.QCNotes, &res.QCRejectionReason, &res.AmendmentReason,
		&res.Attachments, &res.ImageURLs,
		&res.CollectedBy, &res.CollectedAt, &res.EnteredBy, &res.EnteredAt,
		&res.SubmittedBy, &res.SubmittedAt, &res.QCApprovedBy, &res.QCApprovedAt,
		&res.QCRejectedBy, &res.QCRejectedAt, &res.ReviewedBy, &res.ReviewedAt,
		&res.ReleasedBy, &res.ReleasedAt, &res.AmendedBy, &res.AmendedAt,
		&history, &res.VisibleToPatient, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if interp != nil {
		res.Interpretation = Interpretation(*interp)
	}
	if len(components) > 0 {
		if err := json.Unmarshal(components, &res.ComponentResults); err != nil {
			return nil, fmt.Errorf("decode component results: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &res.AmendmentHistory); err != nil {
			return nil, fmt.Errorf("decode amendment history: %w", err)
		}
	}
	return &res, nil
}

func encodeResult(res *Result) (components, history []byte, interp *string, err error) {
	components, err = json.Marshal(res.ComponentResults)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode component results: %w", err)
	}
	history, err = json.Marshal(res.AmendmentHistory)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode amendment history: %w", err)
	}
	if res.Interpretation != "" {
		v := string(res.Interpretation)
		interp = &v
	}
	return components, history, interp, nil
}

func (r *resultRepoPG) Create(ctx context.Context, res *Result) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	components, history, interp, err := encodeResult(res)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO diagnostic_result (id, test_id, order_id, status,
			result_value, result_numeric, result_unit,
			report_text, impressions, recommendations, component_results,
			interpretation, is_critical,
			reference_min, reference_max, reference_text,
			technician_notes, attachments, image_urls,
			collected_by, collected_at,
			amendment_history, visible_to_patient)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		res.ID, res.TestID, res.OrderID, res.Status,
		res.ResultValue, res.ResultNumeric, res.ResultUnit,
		res.ReportText, res.Impressions, res.Recommendations, components,
		interp, res.IsCritical,
		res.ReferenceMin, res.ReferenceMax, res.ReferenceText,
		res.TechnicianNotes, res.Attachments, res.ImageURLs,
		res.CollectedBy, res.CollectedAt,
		history, res.VisibleToPatient)
	return err
}

func (r *resultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Result, error) {
	return scanResult(r.conn(ctx).QueryRow(ctx,
		`SELECT `+resultCols+` FROM diagnostic_result WHERE id = $1`, id))
}

func (r *resultRepoPG) GetContext(ctx context.Context, id uuid.UUID) (*ResultContext, error) {
	res, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var t catalog.Test
	var ranges []byte
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT id, code, name, category, unit, tat_hours, active, reference_ranges, created_at, updated_at
		FROM test WHERE id = $1`, res.TestID).
		Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.Unit, &t.TATHours,
			&t.Active, &ranges, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(ranges) > 0 {
		if err := json.Unmarshal(ranges, &t.Ranges); err != nil {
			return nil, fmt.Errorf("decode reference ranges: %w", err)
		}
	}

	var o OrderInfo
	err = r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_name, patient_gender, patient_birth_date, patient_contact, referred_by, urgency, status
		FROM diagnostic_order WHERE id = $1`, res.OrderID).
		Scan(&o.OrderID, &o.PatientName, &o.PatientGender, &o.PatientBirthDate,
			&o.PatientContact, &o.ReferredBy, &o.Urgency, &o.OrderStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return &ResultContext{Result: res, Test: &t, Order: &o}, nil
}

func (r *resultRepoPG) UpdateConditional(ctx context.Context, res *Result, expected ...Status) error {
	if len(expected) == 0 {
		return fmt.Errorf("conditional update requires at least one expected status")
	}
	components, history, interp, err := encodeResult(res)
	if err != nil {
		return err
	}
	exp := make([]string, len(expected))
	for i, s := range expected {
		exp[i] = string(s)
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE diagnostic_result SET status=$2,
			result_value=$3, result_numeric=$4, result_unit=$5,
			report_text=$6, impressions=$7, recommendations=$8, component_results=$9,
			interpretation=$10, is_critical=$11,
			reference_min=$12, reference_max=$13, reference_text=$14,
			technician_notes=$15, reviewer_notes=$16, qc_notes=$17,
			qc_rejection_reason=$18, amendment_reason=$19,
			attachments=$20, image_urls=$21,
			collected_by=$22, collected_at=$23, entered_by=$24, entered_at=$25,
			submitted_by=$26, submitted_at=$27, qc_approved_by=$28, qc_approved_at=$29,
			qc_rejected_by=$30, qc_rejected_at=$31, reviewed_by=$32, reviewed_at=$33,
			released_by=$34, released_at=$35, amended_by=$36, amended_at=$37,
			amendment_history=$38, visible_to_patient=$39, updated_at=NOW()
		WHERE id = $1 AND status = ANY($40)`,
		res.ID, res.Status,
		res.ResultValue, res.ResultNumeric, res.ResultUnit,
		res.ReportText, res.Impressions, res.Recommendations, components,
		interp, res.IsCritical,
		res.ReferenceMin, res.ReferenceMax, res.ReferenceText,
		res.TechnicianNotes, res.ReviewerNotes, res.QCNotes,
		res.QCRejectionReason, res.AmendmentReason,
		res.Attachments, res.ImageURLs,
		res.CollectedBy, res.CollectedAt, res.EnteredBy, res.EnteredAt,
		res.SubmittedBy, res.SubmittedAt, res.QCApprovedBy, res.QCApprovedAt,
		res.QCRejectedBy, res.QCRejectedAt, res.ReviewedBy, res.ReviewedAt,
		res.ReleasedBy, res.ReleasedAt, res.AmendedBy, res.AmendedAt,
		history, res.VisibleToPatient, exp)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *resultRepoPG) UpdateAmendment(ctx context.Context, res *Result, expected Status, priorAmendments int) error {
	components, history, interp, err := encodeResult(res)
	if err != nil {
		return err
	}

	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE diagnostic_result SET status=$2,
			result_value=$3, result_numeric=$4, result_unit=$5,
			report_text=$6, impressions=$7, recommendations=$8, component_results=$9,
			interpretation=$10, is_critical=$11,
			reference_min=$12, reference_max=$13, reference_text=$14,
			technician_notes=$15, reviewer_notes=$16, qc_notes=$17,
			qc_rejection_reason=$18, amendment_reason=$19,
			attachments=$20, image_urls=$21,
			collected_by=$22, collected_at=$23, entered_by=$24, entered_at=$25,
			submitted_by=$26, submitted_at=$27, qc_approved_by=$28, qc_approved_at=$29,
			qc_rejected_by=$30, qc_rejected_at=$31, reviewed_by=$32, reviewed_at=$33,
			released_by=$34, released_at=$35, amended_by=$36, amended_at=$37,
			amendment_history=$38, visible_to_patient=$39, updated_at=NOW()
		WHERE id = $1 AND status = $40
			AND jsonb_array_length(amendment_history) = $41`,
		res.ID, res.Status,
		res.ResultValue, res.ResultNumeric, res.ResultUnit,
		res.ReportText, res.Impressions, res.Recommendations, components,
		interp, res.IsCritical,
		res.ReferenceMin, res.ReferenceMax, res.ReferenceText,
		res.TechnicianNotes, res.ReviewerNotes, res.QCNotes,
		res.QCRejectionReason, res.AmendmentReason,
		res.Attachments, res.ImageURLs,
		res.CollectedBy, res.CollectedAt, res.EnteredBy, res.EnteredAt,
		res.SubmittedBy, res.SubmittedAt, res.QCApprovedBy, res.QCApprovedAt,
		res.QCRejectedBy, res.QCRejectedAt, res.ReviewedBy, res.ReviewedAt,
		res.ReleasedBy, res.ReleasedAt, res.AmendedBy, res.AmendedAt,
		history, res.VisibleToPatient, string(expected), priorAmendments)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (r *resultRepoPG) Worklist(ctx context.Context, q WorklistQuery) ([]*WorklistRow, int, error) {
	base := ` FROM diagnostic_result dr
		JOIN test t ON t.id = dr.test_id
		JOIN diagnostic_order o ON o.id = dr.order_id
		WHERE 1=1`
	var args []interface{}
	idx := 1

	cats := make([]string, len(q.Categories))
	for i, c := range q.Categories {
		cats[i] = string(c)
	}
	base += fmt.Sprintf(` AND t.category = ANY($%d)`, idx)
	args = append(args, cats)
	idx++

	if len(q.Statuses) > 0 {
		sts := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			sts[i] = string(s)
		}
		base += fmt.Sprintf(` AND dr.status = ANY($%d)`, idx)
		args = append(args, sts)
		idx++
	}
	if q.Urgency != "" {
		base += fmt.Sprintf(` AND o.urgency = $%d`, idx)
		args = append(args, q.Urgency)
		idx++
	}
	if q.From != nil {
		base += fmt.Sprintf(` AND dr.created_at >= $%d`, idx)
		args = append(args, *q.From)
		idx++
	}
	if q.To != nil {
		base += fmt.Sprintf(` AND dr.created_at <= $%d`, idx)
		args = append(args, *q.To)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+base, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT dr.id, dr.order_id, dr.status, t.code, t.name, t.category, t.unit,
		o.patient_name, o.urgency, o.referred_by,
		dr.is_critical, dr.interpretation, dr.collected_at, dr.entered_at` + base +
		fmt.Sprintf(` ORDER BY
			CASE o.urgency WHEN 'STAT' THEN 3 WHEN 'URGENT' THEN 2 ELSE 1 END DESC,
			dr.collected_at ASC NULLS LAST,
			dr.created_at ASC
		LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*WorklistRow
	for rows.Next() {
		var row WorklistRow
		var interp *string
		err := rows.Scan(&row.ResultID, &row.OrderID, &row.Status,
			&row.TestCode, &row.TestName, &row.Category, &row.Unit,
			&row.PatientName, &row.Urgency, &row.ReferredBy,
			&row.IsCritical, &interp, &row.CollectedAt, &row.EnteredAt)
		if err != nil {
			return nil, 0, err
		}
		if interp != nil {
			row.Interpretation = Interpretation(*interp)
		}
		items = append(items, &row)
	}
	return items, total, nil
}

func (r *resultRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*Result, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+resultCols+` FROM diagnostic_result WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Result
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	return items, nil
}

func (r *resultRepoPG) CancelByOrder(ctx context.Context, orderID uuid.UUID, to Status, actor string) (int, error) {
	active := ActiveStatuses()
	exp := make([]string, len(active))
	for i, s := range active {
		exp[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE diagnostic_result SET status=$2, updated_at=NOW()
		WHERE order_id = $1 AND status = ANY($3)`,
		orderID, to, exp)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// =========== Status History Repository ===========

type statusHistoryRepoPG struct{ pool *pgxpool.Pool }

func NewStatusHistoryRepoPG(pool *pgxpool.Pool) StatusHistoryRepository {
	return &statusHistoryRepoPG{pool: pool}
}

func (r *statusHistoryRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *statusHistoryRepoPG) Record(ctx context.Context, h *StatusChange) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.ChangedAt.IsZero() {
		h.ChangedAt = time.Now().UTC()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO result_status_history (id, result_id, from_status, to_status, changed_by, changed_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.ResultID, h.FromStatus, h.ToStatus, h.ChangedBy, h.ChangedAt, h.Reason)
	return err
}

func (r *statusHistoryRepoPG) ListByResult(ctx context.Context, resultID uuid.UUID) ([]*StatusChange, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, result_id, from_status, to_status, changed_by, changed_at, reason
		FROM result_status_history WHERE result_id = $1 ORDER BY changed_at`, resultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusChange
	for rows.Next() {
		var h StatusChange
		if err := rows.Scan(&h.ID, &h.ResultID, &h.FromStatus, &h.ToStatus,
			&h.ChangedBy, &h.ChangedAt, &h.Reason); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, nil
}
