package inpatient

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a ward or bed does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks request data that fails basic validation.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBedNumberTaken is raised by the store when the per-ward unique
	// index rejects a write that raced past the guard's lookup.
	ErrBedNumberTaken = errors.New("bed number already in use")
)

// WardRepository defines the persistence interface for wards.
type WardRepository interface {
	Create(ctx context.Context, ward *Ward) error
	GetByID(ctx context.Context, id uuid.UUID) (*Ward, error)
	// LockByID reads the ward and holds a row lock until the surrounding
	// transaction ends.
	LockByID(ctx context.Context, id uuid.UUID) (*Ward, error)
	Update(ctx context.Context, ward *Ward) error
	List(ctx context.Context, limit, offset int) ([]*Ward, int, error)
	CountActiveBeds(ctx context.Context, wardID uuid.UUID) (int, error)
}

// BedFinder looks up a bed by its normalized number within one ward.
// It returns nil, nil when no other bed uses the number.
type BedFinder interface {
	FindByNumberInWard(ctx context.Context, wardID uuid.UUID, normalized string, excluding *uuid.UUID) (*Bed, error)
}

// BedRepository defines the persistence interface for beds.
type BedRepository interface {
	BedFinder
	Create(ctx context.Context, bed *Bed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	LockByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	Update(ctx context.Context, bed *Bed) error
	MarkRemoved(ctx context.Context, id uuid.UUID) error
	ListByWard(ctx context.Context, wardID uuid.UUID, limit, offset int) ([]*Bed, int, error)
	CountByStatus(ctx context.Context, wardID uuid.UUID) (map[BedStatus]int, error)
}

// Transactor runs fn inside one database transaction. Repositories called
// with the ctx handed to fn join that transaction; returning an error rolls
// it back.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
