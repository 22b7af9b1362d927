package inpatient

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// WardPatch is a partial ward update; nil fields are left unchanged.
type WardPatch struct {
	DepartmentID *uuid.UUID  `json:"department_id"`
	Name         *string     `json:"name"`
	WardType     *WardType   `json:"ward_type"`
	Capacity     *int        `json:"capacity"`
	FloorNumber  *int        `json:"floor_number"`
	Status       *WardStatus `json:"status"`
}

// BedPatch is a partial bed update; nil fields are left unchanged.
type BedPatch struct {
	BedNumber        *string    `json:"bed_number"`
	BedType          *BedType   `json:"bed_type"`
	Status           *BedStatus `json:"status"`
	MaintenanceNotes *string    `json:"maintenance_notes"`
}

// decodePatch converts bulk update data into a typed patch, rejecting
// fields the patch does not declare.
func decodePatch(data map[string]interface{}, dst interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

func (p WardPatch) apply(w *Ward) {
	if p.DepartmentID != nil {
		w.DepartmentID = *p.DepartmentID
	}
	if p.Name != nil {
		w.Name = *p.Name
	}
	if p.WardType != nil {
		w.WardType = *p.WardType
	}
	if p.Capacity != nil {
		w.Capacity = *p.Capacity
	}
	if p.FloorNumber != nil {
		w.FloorNumber = *p.FloorNumber
	}
	if p.Status != nil {
		w.Status = *p.Status
	}
}

func validateWard(w *Ward) error {
	switch {
	case w.Name == "":
		return fmt.Errorf("%w: ward name is required", ErrInvalidInput)
	case w.DepartmentID == uuid.Nil:
		return fmt.Errorf("%w: department_id is required", ErrInvalidInput)
	case !w.WardType.Valid():
		return fmt.Errorf("%w: unknown ward_type %q", ErrInvalidInput, w.WardType)
	case w.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be a positive integer", ErrInvalidInput)
	case !w.Status.Valid():
		return fmt.Errorf("%w: unknown ward status %q", ErrInvalidInput, w.Status)
	}
	return nil
}

func validateBed(b *Bed) error {
	switch {
	case b.BedNumber == "":
		return fmt.Errorf("%w: bed_number is required", ErrInvalidInput)
	case len(b.BedNumber) > 20:
		return fmt.Errorf("%w: bed_number must be at most 20 characters", ErrInvalidInput)
	case !b.BedType.Valid():
		return fmt.Errorf("%w: unknown bed_type %q", ErrInvalidInput, b.BedType)
	case !b.Status.Valid():
		return fmt.Errorf("%w: unknown bed status %q", ErrInvalidInput, b.Status)
	}
	return nil
}
