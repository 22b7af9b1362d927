package inpatient

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ConflictKind names a rejected bed or ward mutation. The set is closed:
// Classify panics on any value not declared here.
type ConflictKind string

const (
	ConflictOccupiedToMaintenance ConflictKind = "occupied_to_maintenance"
	ConflictOccupiedToOutOfOrder  ConflictKind = "occupied_to_out_of_order"
	ConflictCapacityExceeded      ConflictKind = "capacity_exceeded"
	ConflictInvalidTransition     ConflictKind = "invalid_status_transition"
	ConflictDuplicateBedNumber    ConflictKind = "duplicate_bed_number"
)

// ConflictKinds lists every conflict kind.
var ConflictKinds = []ConflictKind{
	ConflictOccupiedToMaintenance,
	ConflictOccupiedToOutOfOrder,
	ConflictCapacityExceeded,
	ConflictInvalidTransition,
	ConflictDuplicateBedNumber,
}

// Remediation hints attached to conflict reports.
const (
	SuggestDischargeFirst      = "Discharge the patient first"
	SuggestTransferPatient     = "Transfer the patient to another bed"
	SuggestDeferMaintenance    = "Defer maintenance until after discharge"
	SuggestMaintenanceLater    = "Mark the bed for maintenance after discharge"
	SuggestIncreaseCapacity    = "Increase the ward capacity"
	SuggestRemoveUnusedBeds    = "Remove unused beds from the ward"
	SuggestOtherWard           = "Create the beds in another ward"
	SuggestCheckWorkflow       = "Check the bed status workflow"
	SuggestProperSequence      = "Ensure status changes follow the proper sequence"
	SuggestContactAdmin        = "Contact a system administrator"
	SuggestDifferentBedNumber  = "Choose a different bed number"
	SuggestEditExistingBed     = "Edit the existing bed instead"
	SuggestCheckWardBedNumbers = "Check the bed numbers already used in this ward"
)

// ConflictContext carries the values a conflict message is rendered from.
type ConflictContext struct {
	EntityID  uuid.UUID
	WardID    uuid.UUID
	Label     string // bed number for bed conflicts, ward name for ward conflicts
	Current   string
	Requested string

	// Capacity conflicts only.
	Capacity          int
	RequestedCapacity int
	BedCount          int
	AddingBed         bool
}

// ConflictReport describes a mutation rejected by the Guard. It is an
// expected outcome, not a fault, and always carries at least one suggestion.
type ConflictReport struct {
	Kind        ConflictKind
	Message     string
	Suggestions []string
	Context     ConflictContext
}

func (r *ConflictReport) Error() string { return r.Message }

// Entity is "ward" for capacity conflicts and "bed" otherwise.
func (r *ConflictReport) Entity() string {
	if r.Kind == ConflictCapacityExceeded {
		return "ward"
	}
	return "bed"
}

// Code is the upper-case identifier clients switch on.
func (r *ConflictReport) Code() string {
	return strings.ToUpper(string(r.Kind))
}

// MarshalJSON renders Payload.
func (r *ConflictReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Payload())
}

// Payload is the response body for a conflict:
// {"message", "error", "conflict_type", "<entity>": {...}, "suggestions"}.
func (r *ConflictReport) Payload() map[string]interface{} {
	c := r.Context
	var entity map[string]interface{}
	switch r.Kind {
	case ConflictCapacityExceeded:
		entity = map[string]interface{}{
			"id":                 c.EntityID,
			"name":               c.Label,
			"current_capacity":   c.Capacity,
			"requested_capacity": c.RequestedCapacity,
			"bed_count":          c.BedCount,
		}
		if c.AddingBed {
			entity["requested_bed_count"] = c.BedCount
		}
	case ConflictDuplicateBedNumber:
		entity = map[string]interface{}{
			"id":         c.EntityID,
			"ward_id":    c.WardID,
			"bed_number": c.Label,
		}
	default:
		entity = map[string]interface{}{
			"id":               c.EntityID,
			"ward_id":          c.WardID,
			"bed_number":       c.Label,
			"current_status":   c.Current,
			"requested_status": c.Requested,
		}
	}

	return map[string]interface{}{
		"message":       r.Message,
		"error":         r.Code(),
		"conflict_type": r.Kind,
		r.Entity():      entity,
		"suggestions":   r.Suggestions,
	}
}

// Classify maps a conflict kind and its context onto a report. It is a pure
// function: equal arguments always produce equal reports.
func Classify(kind ConflictKind, c ConflictContext) *ConflictReport {
	r := &ConflictReport{Kind: kind, Context: c}

	switch kind {
	case ConflictOccupiedToMaintenance:
		r.Message = fmt.Sprintf("Cannot change bed %s from occupied to maintenance. Discharge patient first.", c.Label)
		r.Suggestions = []string{SuggestDischargeFirst, SuggestTransferPatient, SuggestDeferMaintenance}
	case ConflictOccupiedToOutOfOrder:
		r.Message = fmt.Sprintf("Cannot change bed %s from occupied to out of order. Discharge patient first.", c.Label)
		r.Suggestions = []string{SuggestDischargeFirst, SuggestTransferPatient, SuggestMaintenanceLater}
	case ConflictCapacityExceeded:
		if c.AddingBed {
			r.Message = fmt.Sprintf("Cannot add more beds to ward %s. Capacity limit exceeded.", c.Label)
		} else {
			r.Message = fmt.Sprintf("Cannot reduce capacity of ward %s to %d while %d beds are assigned. Capacity limit exceeded.",
				c.Label, c.RequestedCapacity, c.BedCount)
		}
		r.Suggestions = []string{SuggestIncreaseCapacity, SuggestRemoveUnusedBeds, SuggestOtherWard}
	case ConflictInvalidTransition:
		r.Message = fmt.Sprintf("Invalid status transition from %s to %s for bed %s.", c.Current, c.Requested, c.Label)
		r.Suggestions = []string{SuggestCheckWorkflow, SuggestProperSequence, SuggestContactAdmin}
	case ConflictDuplicateBedNumber:
		r.Message = fmt.Sprintf("Bed number %s already exists in this ward.", c.Label)
		r.Suggestions = []string{SuggestDifferentBedNumber, SuggestEditExistingBed, SuggestCheckWardBedNumbers}
	default:
		panic(fmt.Sprintf("inpatient: unclassified conflict kind %q", kind))
	}

	return r
}
