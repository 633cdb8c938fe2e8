// Package catalog loads the static hospital catalog file and imports it into
// the hospital repository.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rapidcare/rapidcare/internal/domain/geo"
	"github.com/rapidcare/rapidcare/internal/domain/matching"
	"github.com/rapidcare/rapidcare/internal/platform/apperr"
)

// hospitalNamespace seeds deterministic ids for entries without an explicit id,
// so re-importing the same file updates rather than duplicates.
var hospitalNamespace = uuid.MustParse("6f1c8a52-3d7e-4b8e-9a41-2f0d5c7e9b13")

type File struct {
	Hospitals []Entry `yaml:"hospitals"`
}

type Entry struct {
	ID                  string          `yaml:"id"`
	Name                string          `yaml:"name"`
	Type                string          `yaml:"type"`
	Location            *geo.Coordinate `yaml:"location"`
	Specialties         []string        `yaml:"specialties"`
	AvailableBeds       int             `yaml:"available_beds"`
	ICUBeds             int             `yaml:"icu_beds"`
	BaseWaitTimeMinutes int             `yaml:"base_wait_time_minutes"`
	EmergencyServices   *bool           `yaml:"emergency_services"`
	TraumaCenter        bool            `yaml:"trauma_center"`
}

// Load parses and validates a catalog document. All entry errors are
// reported together.
func Load(r io.Reader) ([]matching.HospitalRecord, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, apperr.Validation("catalog is empty")
		}
		return nil, apperr.Validation("parse catalog: %v", err)
	}

	var (
		out  = make([]matching.HospitalRecord, 0, len(f.Hospitals))
		errs []error
		seen = make(map[uuid.UUID]string, len(f.Hospitals))
	)
	for i, e := range f.Hospitals {
		rec, err := e.record()
		if err != nil {
			errs = append(errs, fmt.Errorf("hospitals[%d] %q: %w", i, e.Name, err))
			continue
		}
		if prev, dup := seen[rec.ID]; dup {
			errs = append(errs, fmt.Errorf("hospitals[%d] %q: duplicate id %s (also %q)", i, e.Name, rec.ID, prev))
			continue
		}
		seen[rec.ID] = e.Name
		out = append(out, rec)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, errors.Join(errs...))
	}
	return out, nil
}

// LoadFile is Load for a path on disk.
func LoadFile(path string) ([]matching.HospitalRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func (e Entry) record() (matching.HospitalRecord, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return matching.HospitalRecord{}, errors.New("name is required")
	}
	if e.Location == nil {
		return matching.HospitalRecord{}, errors.New("location is required")
	}
	if err := e.Location.Validate(); err != nil {
		return matching.HospitalRecord{}, err
	}
	typ, err := matching.ParseHospitalType(e.Type)
	if err != nil {
		return matching.HospitalRecord{}, err
	}
	if e.AvailableBeds < 0 || e.ICUBeds < 0 || e.BaseWaitTimeMinutes < 0 {
		return matching.HospitalRecord{}, errors.New("bed counts and wait time must not be negative")
	}

	id := uuid.NewSHA1(hospitalNamespace, []byte(strings.ToLower(name)))
	if e.ID != "" {
		if id, err = uuid.Parse(e.ID); err != nil {
			return matching.HospitalRecord{}, fmt.Errorf("invalid id: %w", err)
		}
	}

	specialties := make([]string, 0, len(e.Specialties))
	for _, s := range e.Specialties {
		if s = strings.TrimSpace(s); s != "" {
			specialties = append(specialties, s)
		}
	}

	emergency := true
	if e.EmergencyServices != nil {
		emergency = *e.EmergencyServices
	}

	return matching.HospitalRecord{
		ID:                  id,
		Name:                name,
		Coordinate:          *e.Location,
		Type:                typ,
		Specialties:         specialties,
		AvailableBeds:       e.AvailableBeds,
		ICUBeds:             e.ICUBeds,
		BaseWaitTimeMinutes: e.BaseWaitTimeMinutes,
		EmergencyServices:   emergency,
		TraumaCenter:        e.TraumaCenter,
	}, nil
}

// Upserter stores one hospital record.
type Upserter interface {
	Upsert(ctx context.Context, h *matching.HospitalRecord, resetCapacity bool) error
}

// Options controls an import.
type Options struct {
	// ResetCapacity overwrites the live bed counts of hospitals that already
	// exist with the counts from the file. New hospitals always take the
	// file's counts.
	ResetCapacity bool
}

// TxRunner runs fn inside a single transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Import upserts every record in one transaction so a failed import leaves
// the catalog unchanged.
func Import(ctx context.Context, tx TxRunner, repo Upserter, records []matching.HospitalRecord, opts Options, logger zerolog.Logger) (int, error) {
	n := 0
	err := tx.RunInTx(ctx, func(ctx context.Context) error {
		n = 0
		for i := range records {
			if err := repo.Upsert(ctx, &records[i], opts.ResetCapacity); err != nil {
				return fmt.Errorf("upsert %q: %w", records[i].Name, err)
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Info().Int("hospitals", n).Bool("reset_capacity", opts.ResetCapacity).Msg("catalog imported")
	return n, nil
}
