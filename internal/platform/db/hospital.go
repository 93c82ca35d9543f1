package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	HospitalIDKey contextKey = "hospital_id"
	DBConnKey     contextKey = "db_conn"
)

var hospitalIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// HospitalMiddleware resolves the caller's hospital and pins the request to
// that hospital's Postgres schema. The acquired connection is stashed in the
// request context so repositories run every statement against the right
// search_path.
func HospitalMiddleware(pool *pgxpool.Pool, defaultHospital string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			hospitalID := extractHospitalID(c, defaultHospital)

			if !hospitalIDPattern.MatchString(hospitalID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			schema := fmt.Sprintf("hospital_%s", hospitalID)
			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", schema))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "hospital resolution failed")
			}

			ctx = context.WithValue(ctx, HospitalIDKey, hospitalID)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("hospital_id", hospitalID)

			return next(c)
		}
	}
}

func extractHospitalID(c echo.Context, defaultHospital string) string {
	// 1. JWT claim (set by auth middleware)
	if hid, ok := c.Get("jwt_hospital_id").(string); ok && hid != "" {
		return hid
	}

	// 2. X-Hospital-ID header
	if hid := c.Request().Header.Get("X-Hospital-ID"); hid != "" {
		return hid
	}

	// 3. Query parameter
	if hid := c.QueryParam("hospital_id"); hid != "" {
		return hid
	}

	return defaultHospital
}

// ConnFromContext retrieves the hospital-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// HospitalFromContext retrieves the hospital ID from context.
func HospitalFromContext(ctx context.Context) string {
	hid, _ := ctx.Value(HospitalIDKey).(string)
	return hid
}

// CreateHospitalSchema creates a new schema for a hospital and runs all
// migrations against it. If migrationsDir is empty, migrations are skipped.
func CreateHospitalSchema(ctx context.Context, pool *pgxpool.Pool, hospitalID string, migrationsDir string) error {
	if !hospitalIDPattern.MatchString(hospitalID) {
		return fmt.Errorf("invalid hospital identifier: %s", hospitalID)
	}

	schema := fmt.Sprintf("hospital_%s", hospitalID)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	if err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}
