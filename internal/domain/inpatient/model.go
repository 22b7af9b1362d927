package inpatient

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type WardType string

const (
	WardGeneral   WardType = "general"
	WardICU       WardType = "icu"
	WardMaternity WardType = "maternity"
	WardPediatric WardType = "pediatric"
	WardEmergency WardType = "emergency"
	WardSurgical  WardType = "surgical"
)

func (t WardType) Valid() bool {
	switch t {
	case WardGeneral, WardICU, WardMaternity, WardPediatric, WardEmergency, WardSurgical:
		return true
	}
	return false
}

type WardStatus string

const (
	WardActive      WardStatus = "active"
	WardInactive    WardStatus = "inactive"
	WardMaintenance WardStatus = "maintenance"
	WardRenovation  WardStatus = "renovation"
)

func (s WardStatus) Valid() bool {
	switch s {
	case WardActive, WardInactive, WardMaintenance, WardRenovation:
		return true
	}
	return false
}

type BedType string

const (
	BedStandard  BedType = "standard"
	BedICU       BedType = "icu"
	BedIsolation BedType = "isolation"
	BedMaternity BedType = "maternity"
	BedPediatric BedType = "pediatric"
	BedSurgical  BedType = "surgical"
)

func (t BedType) Valid() bool {
	switch t {
	case BedStandard, BedICU, BedIsolation, BedMaternity, BedPediatric, BedSurgical:
		return true
	}
	return false
}

// BedStatus is the allocation state of a bed. No state is terminal.
type BedStatus string

const (
	BedAvailable   BedStatus = "available"
	BedOccupied    BedStatus = "occupied"
	BedMaintenance BedStatus = "maintenance"
	BedReserved    BedStatus = "reserved"
	BedOutOfOrder  BedStatus = "out_of_order"
)

// BedStatuses lists every bed status in declaration order.
var BedStatuses = []BedStatus{BedAvailable, BedOccupied, BedMaintenance, BedReserved, BedOutOfOrder}

func (s BedStatus) Valid() bool {
	switch s {
	case BedAvailable, BedOccupied, BedMaintenance, BedReserved, BedOutOfOrder:
		return true
	}
	return false
}

// ParseBedStatus accepts the wire form of a bed status.
func ParseBedStatus(s string) (BedStatus, error) {
	st := BedStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown bed status %q", ErrInvalidInput, s)
	}
	return st, nil
}

// Ward maps to the ward table.
type Ward struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	DepartmentID uuid.UUID  `db:"department_id" json:"department_id"`
	Name         string     `db:"name" json:"name"`
	WardType     WardType   `db:"ward_type" json:"ward_type"`
	Capacity     int        `db:"capacity" json:"capacity"`
	FloorNumber  int        `db:"floor_number" json:"floor_number"`
	Status       WardStatus `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Bed maps to the bed table. A bed with RemovedAt set no longer counts
// against its ward's capacity.
type Bed struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	WardID           uuid.UUID  `db:"ward_id" json:"ward_id"`
	BedNumber        string     `db:"bed_number" json:"bed_number"`
	BedType          BedType    `db:"bed_type" json:"bed_type"`
	Status           BedStatus  `db:"status" json:"status"`
	MaintenanceNotes *string    `db:"maintenance_notes" json:"maintenance_notes,omitempty"`
	LastOccupiedAt   *time.Time `db:"last_occupied_at" json:"last_occupied_at,omitempty"`
	RemovedAt        *time.Time `db:"removed_at" json:"removed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// Removed reports whether the bed has left service permanently.
func (b *Bed) Removed() bool { return b.RemovedAt != nil }

// NormalizeBedNumber trims surrounding whitespace and upper-cases the number,
// so " a1 " and "A1" name the same bed.
func NormalizeBedNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}

// Census is a point-in-time occupancy snapshot of one ward.
type Census struct {
	WardID       uuid.UUID         `json:"ward_id"`
	WardName     string            `json:"ward_name"`
	Capacity     int               `json:"capacity"`
	ActiveBeds   int               `json:"active_beds"`
	FreeCapacity int               `json:"free_capacity"`
	ByStatus     map[BedStatus]int `json:"by_status"`
	Occupancy    float64           `json:"occupancy_rate"`
	GeneratedAt  time.Time         `json:"generated_at"`
}
