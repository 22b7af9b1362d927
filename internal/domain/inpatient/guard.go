package inpatient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Guard evaluates bed and ward invariants before a mutation is written. It
// holds no mutable state and performs no I/O of its own beyond the lookups
// passed to it, so callers run it inside the same transaction as the write.
// Authorization is not its concern.
type Guard struct {
	registry     *Registry
	maxBulkItems int
}

func NewGuard(registry *Registry) *Guard {
	return &Guard{registry: registry, maxBulkItems: MaxBulkItems}
}

// SetMaxBulkItems lowers the bulk batch limit. Values outside 1..MaxBulkItems
// are ignored.
func (g *Guard) SetMaxBulkItems(n int) {
	if n > 0 && n <= MaxBulkItems {
		g.maxBulkItems = n
	}
}

// ValidateBedStatusTransition rejects the two forbidden edges
// occupied → maintenance and occupied → out_of_order. Every other pair of
// statuses is allowed.
func (g *Guard) ValidateBedStatusTransition(bed *Bed, requested BedStatus) *ConflictReport {
	if bed == nil {
		panic("inpatient: ValidateBedStatusTransition called with nil bed")
	}
	if bed.Status != BedOccupied {
		return nil
	}

	var kind ConflictKind
	switch requested {
	case BedMaintenance:
		kind = ConflictOccupiedToMaintenance
	case BedOutOfOrder:
		kind = ConflictOccupiedToOutOfOrder
	default:
		return nil
	}
	return Classify(kind, bedContext(bed, string(requested)))
}

// ValidateWardCapacity fails when proposedCapacity is below proposedBedCount.
// Equal values are allowed.
func (g *Guard) ValidateWardCapacity(ward *Ward, proposedCapacity, proposedBedCount int) *ConflictReport {
	return g.checkCapacity(ward, proposedCapacity, proposedBedCount, false)
}

// ValidateBedAddition checks that one more bed fits within the ward's
// current capacity.
func (g *Guard) ValidateBedAddition(ward *Ward, currentBedCount int) *ConflictReport {
	if ward == nil {
		panic("inpatient: ValidateBedAddition called with nil ward")
	}
	return g.checkCapacity(ward, ward.Capacity, currentBedCount+1, true)
}

func (g *Guard) checkCapacity(ward *Ward, capacity, bedCount int, adding bool) *ConflictReport {
	if ward == nil {
		panic("inpatient: ValidateWardCapacity called with nil ward")
	}
	if capacity >= bedCount {
		return nil
	}
	return Classify(ConflictCapacityExceeded, ConflictContext{
		EntityID:          ward.ID,
		WardID:            ward.ID,
		Label:             ward.Name,
		Current:           strconv.Itoa(ward.Capacity),
		Requested:         strconv.Itoa(capacity),
		Capacity:          ward.Capacity,
		RequestedCapacity: capacity,
		BedCount:          bedCount,
		AddingBed:         adding,
	})
}

// ValidateBedNumberUniqueness fails when another non-removed bed in the
// same ward already uses bedNumber after normalization. excluding lets an
// edit keep its own number. The error return is reserved for lookup faults
// and empty input.
func (g *Guard) ValidateBedNumberUniqueness(ctx context.Context, finder BedFinder, wardID uuid.UUID, bedNumber string, excluding *uuid.UUID) (*ConflictReport, error) {
	if finder == nil {
		panic("inpatient: ValidateBedNumberUniqueness called with nil finder")
	}
	normalized := NormalizeBedNumber(bedNumber)
	if normalized == "" {
		return nil, fmt.Errorf("%w: bed_number is required", ErrInvalidInput)
	}

	existing, err := finder.FindByNumberInWard(ctx, wardID, normalized, excluding)
	if err != nil {
		return nil, fmt.Errorf("look up bed number %s: %w", normalized, err)
	}
	if existing == nil {
		return nil, nil
	}
	return Classify(ConflictDuplicateBedNumber, ConflictContext{
		EntityID: existing.ID,
		WardID:   wardID,
		Label:    normalized,
	}), nil
}

// bedWorkflowConflict reports an invalid_status_transition for workflow
// steps (admit, discharge, removal) whose precondition the bed does not meet.
func bedWorkflowConflict(bed *Bed, requested string) *ConflictReport {
	return Classify(ConflictInvalidTransition, bedContext(bed, requested))
}

func bedContext(bed *Bed, requested string) ConflictContext {
	return ConflictContext{
		EntityID:  bed.ID,
		WardID:    bed.WardID,
		Label:     bed.BedNumber,
		Current:   string(bed.Status),
		Requested: requested,
	}
}
