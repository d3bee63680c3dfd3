package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codereport/internal/domain/report"
	"github.com/ahrav/codereport/internal/infra/storage"
)

// Ensure reportStore implements report.Repository at compile time.
var _ report.Repository = (*reportStore)(nil)

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// txTimeout bounds a single mutation so a stuck connection cannot hold a
// row lock indefinitely.
const txTimeout = 10 * time.Second

const (
	insertReportSQL = `INSERT INTO reports (id, status) VALUES ($1, $2)`

	lockReportSQL = `SELECT status FROM reports WHERE id = $1 FOR UPDATE`

	updateReportSQL = `
UPDATE reports
SET status = $2, results = $3, updated_at = NOW()
WHERE id = $1`

	getReportSQL = `
SELECT id, status, results, created_at, updated_at
FROM reports
WHERE id = $1`
)

// reportStore implements report.Repository on Postgres. Every mutation runs
// in its own transaction, so concurrent runs for different tasks never share
// a transaction and a reader only ever sees committed rows.
type reportStore struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewReportStore creates a Repository backed by PostgreSQL.
func NewReportStore(pool *pgxpool.Pool, tracer trace.Tracer) *reportStore {
	return &reportStore{pool: pool, tracer: tracer}
}

// Insert persists a new report record. The insert is all-or-nothing.
func (s *reportStore) Insert(ctx context.Context, id string, status report.Status) error {
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.String("task_id", id),
		attribute.String("status", status.String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.insert_report", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, txTimeout)
		defer cancel()

		return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, insertReportSQL, id, status.String()); err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
					return fmt.Errorf("%w: %s", report.ErrDuplicateTask, id)
				}
				return fmt.Errorf("insert report error: %w", err)
			}
			return nil
		})
	})
}

// UpdateStatus locks the row, validates the transition against the stored
// status and writes the new status and results in a single transaction.
// Any failure rolls the transaction back, leaving the previous row intact.
func (s *reportStore) UpdateStatus(
	ctx context.Context,
	id string,
	status report.Status,
	results *report.Results,
) error {
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.String("task_id", id),
		attribute.String("status", status.String()),
		attribute.Bool("has_results", results != nil),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.update_report_status", dbAttrs, func(ctx context.Context) error {
		if err := report.ValidateResults(status, results); err != nil {
			return err
		}

		var payload []byte
		if results != nil {
			var err error
			if payload, err = results.Marshal(); err != nil {
				return fmt.Errorf("encoding results: %w", err)
			}
		}

		ctx, cancel := context.WithTimeout(ctx, txTimeout)
		defer cancel()

		return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
			var current string
			if err := tx.QueryRow(ctx, lockReportSQL, id).Scan(&current); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("%w: %s", report.ErrNotFound, id)
				}
				return fmt.Errorf("lock report error: %w", err)
			}

			if err := report.ParseStatus(current).ValidateTransition(status); err != nil {
				return err
			}

			tag, err := tx.Exec(ctx, updateReportSQL, id, status.String(), payload)
			if err != nil {
				return fmt.Errorf("update report error: %w", err)
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("%w: %s", report.ErrNotFound, id)
			}
			return nil
		})
	})
}

// Get retrieves a report record.
func (s *reportStore) Get(ctx context.Context, id string) (*report.Report, error) {
	dbAttrs := append(
		storage.DefaultDBAttributes,
		attribute.String("task_id", id),
	)

	var rep *report.Report
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_report", dbAttrs, func(ctx context.Context) error {
		var (
			rowID     string
			status    string
			payload   []byte
			createdAt time.Time
			updatedAt time.Time
		)
		err := s.pool.QueryRow(ctx, getReportSQL, id).Scan(&rowID, &status, &payload, &createdAt, &updatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: %s", report.ErrNotFound, id)
			}
			return fmt.Errorf("get report error: %w", err)
		}

		results, err := report.UnmarshalResults(payload)
		if err != nil {
			return err
		}

		rep = report.ReconstructReport(rowID, report.ParseStatus(status), results, createdAt, updatedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// Ping checks connectivity; used by the readiness probe.
func (s *reportStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }
