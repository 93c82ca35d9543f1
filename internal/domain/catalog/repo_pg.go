package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

type testRepoPG struct{ pool *pgxpool.Pool }

func NewTestRepoPG(pool *pgxpool.Pool) TestRepository {
	return &testRepoPG{pool: pool}
}

func (r *testRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const testCols = `id, code, name, category, unit, tat_hours, active, reference_ranges, created_at, updated_at`

func scanTest(row pgx.Row) (*Test, error) {
	var t Test
	var ranges []byte
	err := row.Scan(&t.ID, &t.Code, &t.Name, &t.Category, &t.Unit, &t.TATHours,
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
	return &t, nil
}

func (r *testRepoPG) Create(ctx context.Context, t *Test) error {
	t.ID = uuid.New()
	ranges, err := json.Marshal(t.Ranges)
	if err != nil {
		return fmt.Errorf("encode reference ranges: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO test (id, code, name, category, unit, tat_hours, active, reference_ranges)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, t.Code, t.Name, t.Category, t.Unit, t.TATHours, t.Active, ranges)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (r *testRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Test, error) {
	return scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM test WHERE id = $1`, id))
}

func (r *testRepoPG) GetByCode(ctx context.Context, code string) (*Test, error) {
	return scanTest(r.conn(ctx).QueryRow(ctx, `SELECT `+testCols+` FROM test WHERE code = $1`, code))
}

func (r *testRepoPG) Update(ctx context.Context, t *Test) error {
	ranges, err := json.Marshal(t.Ranges)
	if err != nil {
		return fmt.Errorf("encode reference ranges: %w", err)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE test SET name=$2, category=$3, unit=$4, tat_hours=$5, active=$6,
			reference_ranges=$7, updated_at=NOW()
		WHERE id = $1`,
		t.ID, t.Name, t.Category, t.Unit, t.TATHours, t.Active, ranges)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *testRepoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Test, int, error) {
	query := `SELECT ` + testCols + ` FROM test WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM test WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Category != "" {
		cond := fmt.Sprintf(` AND category = $%d`, idx)
		query += cond
		countQuery += cond
		args = append(args, f.Category)
		idx++
	}
	if f.ActiveOnly {
		query += ` AND active`
		countQuery += ` AND active`
	}
	if f.Search != "" {
		cond := fmt.Sprintf(` AND (code ILIKE $%d OR name ILIKE $%d)`, idx, idx)
		query += cond
		countQuery += cond
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY code LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, nil
}
