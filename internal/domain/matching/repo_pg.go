package matching

import (
	"context"
	"errors"
	"fmt"

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

type hospitalRepoPG struct{ pool *pgxpool.Pool }

func NewHospitalRepoPG(pool *pgxpool.Pool) HospitalRepository { return &hospitalRepoPG{pool: pool} }

func (r *hospitalRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const hospitalCols = `id, name, latitude, longitude, type, specialties,
	available_beds, icu_beds, base_wait_time_minutes, emergency_services, trauma_center,
	capacity_updated_at, created_at, updated_at`

func (r *hospitalRepoPG) scanHospital(row pgx.Row) (*HospitalRecord, error) {
	var h HospitalRecord
	var typ string
	err := row.Scan(&h.ID, &h.Name, &h.Coordinate.Latitude, &h.Coordinate.Longitude, &typ, &h.Specialties,
		&h.AvailableBeds, &h.ICUBeds, &h.BaseWaitTimeMinutes, &h.EmergencyServices, &h.TraumaCenter,
		&h.CapacityUpdatedAt, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	h.Type = HospitalType(typ)
	if h.Specialties == nil {
		h.Specialties = []string{}
	}
	return &h, nil
}

func (r *hospitalRepoPG) List(ctx context.Context) ([]HospitalRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+hospitalCols+` FROM hospital ORDER BY name, id`)
	if err != nil {
		return nil, apperr.Upstream("list hospitals", err)
	}
	defer rows.Close()
	var items []HospitalRecord
	for rows.Next() {
		h, err := r.scanHospital(rows)
		if err != nil {
			return nil, apperr.Upstream("scan hospital", err)
		}
		items = append(items, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Upstream("list hospitals", err)
	}
	return items, nil
}

func (r *hospitalRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*HospitalRecord, error) {
	h, err := r.scanHospital(r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospital WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("hospital %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Upstream("get hospital", err)
	}
	return h, nil
}

func (r *hospitalRepoPG) Upsert(ctx context.Context, h *HospitalRecord, resetCapacity bool) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hospital (id, name, latitude, longitude, type, specialties,
			available_beds, icu_beds, base_wait_time_minutes, emergency_services, trauma_center,
			capacity_updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, latitude=EXCLUDED.latitude,
			longitude=EXCLUDED.longitude, type=EXCLUDED.type, specialties=EXCLUDED.specialties,
			available_beds=CASE WHEN $12 THEN EXCLUDED.available_beds ELSE hospital.available_beds END,
			icu_beds=CASE WHEN $12 THEN EXCLUDED.icu_beds ELSE hospital.icu_beds END,
			base_wait_time_minutes=EXCLUDED.base_wait_time_minutes,
			emergency_services=EXCLUDED.emergency_services, trauma_center=EXCLUDED.trauma_center,
			capacity_updated_at=CASE WHEN $12 THEN NOW() ELSE hospital.capacity_updated_at END,
			updated_at=NOW()
		RETURNING available_beds, icu_beds, created_at, updated_at, capacity_updated_at`,
		h.ID, h.Name, h.Coordinate.Latitude, h.Coordinate.Longitude, string(h.Type), h.Specialties,
		h.AvailableBeds, h.ICUBeds, h.BaseWaitTimeMinutes, h.EmergencyServices, h.TraumaCenter, resetCapacity)
	if err := row.Scan(&h.AvailableBeds, &h.ICUBeds, &h.CreatedAt, &h.UpdatedAt, &h.CapacityUpdatedAt); err != nil {
		return apperr.Upstream("upsert hospital", err)
	}
	return nil
}

func (r *hospitalRepoPG) UpdateCapacity(ctx context.Context, id uuid.UUID, availableBeds, icuBeds int) (*HospitalRecord, error) {
	h, err := r.scanHospital(r.conn(ctx).QueryRow(ctx, `
		UPDATE hospital SET available_beds=$2, icu_beds=$3, capacity_updated_at=NOW(), updated_at=NOW()
		WHERE id = $1
		RETURNING `+hospitalCols, id, availableBeds, icuBeds))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("hospital %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, apperr.Upstream("update hospital capacity", err)
	}
	return h, nil
}
