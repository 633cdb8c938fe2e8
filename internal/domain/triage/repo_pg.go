package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rapidcare/rapidcare/internal/platform/apperr"
	"github.com/rapidcare/rapidcare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `id, hospital_id, name, severity_level, arrived_at, estimated_wait_minutes,
	needs_ventilator, COALESCE(chief_complaint, ''), status, created_at, updated_at`

func (r *patientRepoPG) scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var status string
	err := row.Scan(&p.ID, &p.HospitalID, &p.Name, &p.SeverityLevel, &p.ArrivedAt, &p.EstimatedWaitMinutes,
		&p.NeedsVentilator, &p.ChiefComplaint, &status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO triage_patient (id, hospital_id, name, severity_level, arrived_at,
			estimated_wait_minutes, needs_ventilator, chief_complaint, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		RETURNING created_at, updated_at`,
		p.ID, p.HospitalID, p.Name, p.SeverityLevel, p.ArrivedAt,
		p.EstimatedWaitMinutes, p.NeedsVentilator, p.ChiefComplaint, string(p.Status),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if db.IsForeignKeyViolation(err) && p.HospitalID != nil {
		return fmt.Errorf("hospital %s: %w", *p.HospitalID, apperr.ErrNotFound)
	}
	if err != nil {
		return apperr.Upstream("create triage patient", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM triage_patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("triage patient %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Upstream("get triage patient", err)
	}
	return p, nil
}

// List returns patients in insertion order so that a stable ranking has a
// deterministic starting point.
func (r *patientRepoPG) List(ctx context.Context, f ListFilter) ([]Patient, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.HospitalID != nil {
		args = append(args, *f.HospitalID)
		where = append(where, fmt.Sprintf("hospital_id = $%d", len(args)))
	}
	if f.ActiveOnly {
		where = append(where, "status IN ('waiting', 'in_treatment')")
	}
	query := `SELECT ` + patientCols + ` FROM triage_patient`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Upstream("list triage patients", err)
	}
	defer rows.Close()
	var items []Patient
	for rows.Next() {
		p, err := r.scanPatient(rows)
		if err != nil {
			return nil, apperr.Upstream("scan triage patient", err)
		}
		items = append(items, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Upstream("list triage patients", err)
	}
	return items, nil
}

func (r *patientRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Patient, error) {
	p, err := r.scanPatient(r.conn(ctx).QueryRow(ctx, `
		UPDATE triage_patient SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+patientCols, id, string(from), string(to)))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Upstream("update triage status", err)
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM triage_patient WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, apperr.Upstream("update triage status", err)
	}
	if !exists {
		return nil, fmt.Errorf("triage patient %s: %w", id, apperr.ErrNotFound)
	}
	return nil, fmt.Errorf("triage patient %s changed since it was read as %s: %w", id, from, apperr.ErrConcurrentModification)
}
