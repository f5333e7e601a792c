package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGDirectory reads reference records from the local doctor, lab and
// patient tables.
type PGDirectory struct{ pool *pgxpool.Pool }

func NewPGDirectory(pool *pgxpool.Pool) *PGDirectory {
	return &PGDirectory{pool: pool}
}

func (d *PGDirectory) Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var doc Doctor
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, specialization, active FROM doctor WHERE id = $1`, id).
		Scan(&doc.ID, &doc.Name, &doc.Specialization, &doc.Active)
	if err != nil {
		return nil, notFound("doctor", id, err)
	}
	return &doc, nil
}

func (d *PGDirectory) Lab(ctx context.Context, id uuid.UUID) (*Lab, error) {
	var lab Lab
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, location FROM lab WHERE id = $1`, id).
		Scan(&lab.ID, &lab.Name, &lab.Location)
	if err != nil {
		return nil, notFound("lab", id, err)
	}
	return &lab, nil
}

func (d *PGDirectory) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, mrn FROM patient WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.MRN)
	if err != nil {
		return nil, notFound("patient", id, err)
	}
	return &p, nil
}

func notFound(kind string, id uuid.UUID, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("lookup %s %s: %w", kind, id, err)
}
