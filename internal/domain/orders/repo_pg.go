package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type orderRepoPG struct {
	pool *pgxpool.Pool
}

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository {
	return &orderRepoPG{pool: pool}
}

// conn prefers the hospital-scoped connection from the request context so
// queries run against the correct schema.
func (r *orderRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const orderCols = `id, number, patient_name, patient_gender, patient_birth_date, patient_contact,
	referred_by, urgency, status, notes, cancel_reason, created_by, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Number, &o.PatientName, &o.PatientGender, &o.PatientBirthDate,
		&o.PatientContact, &o.ReferredBy, &o.Urgency, &o.Status, &o.Notes, &o.CancelReason,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning order: %w", err)
	}
	return &o, nil
}

func (r *orderRepoPG) Create(ctx context.Context, o *Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO diagnostic_order (id, number, patient_name, patient_gender, patient_birth_date,
			patient_contact, referred_by, urgency, status, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.Number, o.PatientName, o.PatientGender, o.PatientBirthDate,
		o.PatientContact, o.ReferredBy, o.Urgency, o.Status, o.Notes,
		o.CreatedBy, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: order number %s", ErrConflict, o.Number)
		}
		return fmt.Errorf("inserting order: %w", err)
	}
	return nil
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM diagnostic_order WHERE id = $1`, id)
	return scanOrder(row)
}

func (r *orderRepoPG) GetByNumber(ctx context.Context, number string) (*Order, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+orderCols+` FROM diagnostic_order WHERE number = $1`, number)
	return scanOrder(row)
}

func (r *orderRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, to Status, reason *string, expected ...Status) error {
	exp := make([]string, len(expected))
	for i, s := range expected {
		exp[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE diagnostic_order
		SET status = $2, cancel_reason = COALESCE($3, cancel_reason), updated_at = $4
		WHERE id = $1 AND status = ANY($5)`,
		id, to, reason, time.Now().UTC(), exp)
	if err != nil {
		return fmt.Errorf("updating order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
		return ErrConflict
	}
	return nil
}

func (r *orderRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Order, int, error) {
	where := " WHERE 1=1"
	var args []interface{}
	idx := 1

	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}
	if f.Urgency != "" {
		where += fmt.Sprintf(" AND urgency = $%d", idx)
		args = append(args, f.Urgency)
		idx++
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (number ILIKE $%d OR patient_name ILIKE $%d)", idx, idx)
		args = append(args, "%"+strings.TrimSpace(f.Search)+"%")
		idx++
	}

	var total int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM diagnostic_order`+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	query := `SELECT ` + orderCols + ` FROM diagnostic_order` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	return out, total, rows.Err()
}
