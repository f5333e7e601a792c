// Package directory resolves doctor, lab and patient references. The
// records are owned by an external registry; this package only reads them.
package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("directory: not found")

type Doctor struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	Specialization string    `json:"specialization,omitempty"`
	Active         bool      `json:"active"`
}

type Lab struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Location string    `json:"location,omitempty"`
}

type Patient struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	MRN  string    `json:"mrn,omitempty"`
}

// Directory is a read-only lookup of reference records. Implementations
// return ErrNotFound (possibly wrapped) for unknown IDs.
type Directory interface {
	Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Lab(ctx context.Context, id uuid.UUID) (*Lab, error)
	Patient(ctx context.Context, id uuid.UUID) (*Patient, error)
}
