package cases

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
	"github.com/rapidcare/rapidcare/internal/platform/auth"
	"github.com/rapidcare/rapidcare/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type caseRepoPG struct {
	pool *pgxpool.Pool
	tx   *db.Transactor
}

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool, tx: db.NewTransactor(pool)}
}

func (r *caseRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const caseCols = `id, patient_id, paramedic_id, hospital_id, severity, eta_minutes, notes,
	status, version, created_at, updated_at`

func (r *caseRepoPG) scanCase(row pgx.Row) (*Case, error) {
	var c Case
	var severity, status string
	err := row.Scan(&c.ID, &c.PatientID, &c.ParamedicID, &c.HospitalID, &severity, &c.ETAMinutes, &c.Notes,
		&status, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Severity, c.Status = Severity(severity), Status(status)
	return &c, nil
}

func (r *caseRepoPG) appendHistory(ctx context.Context, id uuid.UUID, from *Status, to Status, actor auth.Actor, version int) error {
	var fromCol *string
	if from != nil {
		s := string(*from)
		fromCol = &s
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO case_status_history (case_id, from_status, to_status, actor_role, actor_id, version)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, fromCol, string(to), actor.Role(), actor.ID, version)
	return err
}

func (r *caseRepoPG) Create(ctx context.Context, c *Case, actor auth.Actor) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO transport_case (id, patient_id, paramedic_id, hospital_id, severity, eta_minutes, notes, status, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
			RETURNING version, created_at, updated_at`,
			c.ID, c.PatientID, c.ParamedicID, c.HospitalID, string(c.Severity), c.ETAMinutes, c.Notes, string(c.Status),
		).Scan(&c.Version, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return err
		}
		return r.appendHistory(ctx, c.ID, nil, c.Status, actor, c.Version)
	})
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("hospital %s: %w", c.HospitalID, apperr.ErrNotFound)
		}
		return apperr.Upstream("create case", err)
	}
	return nil
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Case, error) {
	c, err := r.scanCase(r.conn(ctx).QueryRow(ctx, `SELECT `+caseCols+` FROM transport_case WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("case %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Upstream("get case", err)
	}
	return c, nil
}

func (r *caseRepoPG) List(ctx context.Context, f ListFilter) ([]Case, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.HospitalID != uuid.Nil {
		args = append(args, f.HospitalID)
		where = append(where, fmt.Sprintf("hospital_id = $%d", len(args)))
	}
	if f.ParamedicID != "" {
		args = append(args, f.ParamedicID)
		where = append(where, fmt.Sprintf("paramedic_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM transport_case`+clause, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Upstream("count cases", err)
	}

	query := `SELECT ` + caseCols + ` FROM transport_case` + clause + ` ORDER BY updated_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Upstream("list cases", err)
	}
	defer rows.Close()
	var items []Case
	for rows.Next() {
		c, err := r.scanCase(rows)
		if err != nil {
			return nil, 0, apperr.Upstream("scan case", err)
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperr.Upstream("list cases", err)
	}
	return items, total, nil
}

func (r *caseRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, from Status, version int, to Status, actor auth.Actor) (*Case, error) {
	var updated *Case
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		c, err := r.scanCase(r.conn(ctx).QueryRow(ctx, `
			UPDATE transport_case SET status = $4, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND status = $2 AND version = $3
			RETURNING `+caseCols, id, string(from), version, string(to)))
		if err != nil {
			return err
		}
		if err := r.appendHistory(ctx, id, &from, to, actor, c.Version); err != nil {
			return err
		}
		updated = c
		return nil
	})
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Upstream("update case status", err)
	}

	var exists bool
	if err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transport_case WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, apperr.Upstream("update case status", err)
	}
	if !exists {
		return nil, fmt.Errorf("case %s: %w", id, apperr.ErrNotFound)
	}
	return nil, fmt.Errorf("case %s is no longer %s at version %d: %w", id, from, version, apperr.ErrConcurrentModification)
}

func (r *caseRepoPG) History(ctx context.Context, id uuid.UUID) ([]HistoryEntry, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT case_id, from_status, to_status, actor_role, actor_id, version, changed_at
		FROM case_status_history WHERE case_id = $1 ORDER BY version, id`, id)
	if err != nil {
		return nil, apperr.Upstream("case history", err)
	}
	defer rows.Close()
	var items []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var from *string
		var to string
		if err := rows.Scan(&h.CaseID, &from, &to, &h.ActorRole, &h.ActorID, &h.Version, &h.ChangedAt); err != nil {
			return nil, apperr.Upstream("scan case history", err)
		}
		if from != nil {
			s := Status(*from)
			h.From = &s
		}
		h.To = Status(to)
		items = append(items, h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Upstream("case history", err)
	}
	return items, nil
}
