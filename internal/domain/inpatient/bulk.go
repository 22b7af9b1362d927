package inpatient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// MaxBulkItems is the largest batch a bulk update may carry.
const MaxBulkItems = 100

// EntityType names the table a bulk update targets.
type EntityType string

const (
	EntityWards         EntityType = "wards"
	EntityBeds          EntityType = "beds"
	EntityDepartments   EntityType = "departments"
	EntityTestCatalogs  EntityType = "test_catalogs"
	EntityDrugFormulary EntityType = "drug_formulary"
)

// ErrUnknownEntityType is returned for an entity type with no registered lookup.
var ErrUnknownEntityType = errors.New("unknown entity type")

// BulkUpdate is one {id, data} pair of a bulk request.
type BulkUpdate struct {
	ID   uuid.UUID              `json:"id"`
	Data map[string]interface{} `json:"data"`
}

// IndexedError is one bulk validation failure. Index is the position in the
// batch, or -1 for errors about the batch as a whole.
type IndexedError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// BatchIndex marks an IndexedError that applies to the whole batch.
const BatchIndex = -1

// IndexedErrors is the accumulated result of validating a batch.
type IndexedErrors []IndexedError

// BulkValidationError wraps a non-empty IndexedErrors so it can travel as an
// error through the service layer.
type BulkValidationError struct {
	EntityType EntityType
	Errors     IndexedErrors
}

func (e *BulkValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ie := range e.Errors {
		msgs = append(msgs, ie.Message)
	}
	return fmt.Sprintf("bulk %s update rejected: %s", e.EntityType, strings.Join(msgs, "; "))
}

// ExistenceFunc reports which of ids exist for one entity type.
type ExistenceFunc func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error)

// Registry maps entity types to their existence lookups. Register every
// type before the registry is shared.
type Registry struct {
	lookups map[EntityType]ExistenceFunc
}

func NewRegistry() *Registry {
	return &Registry{lookups: make(map[EntityType]ExistenceFunc)}
}

func (r *Registry) Register(t EntityType, fn ExistenceFunc) {
	r.lookups[t] = fn
}

func (r *Registry) Lookup(t EntityType) (ExistenceFunc, bool) {
	fn, ok := r.lookups[t]
	return fn, ok
}

// Types returns the registered entity types in sorted order.
func (r *Registry) Types() []EntityType {
	out := make([]EntityType, 0, len(r.lookups))
	for t := range r.lookups {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ValidateBulkUpdate checks batch size, per-item ids and data, id existence
// and duplicate ids. Every check runs; failures accumulate into the returned
// list. A nil list means every id exists and appears once. The error return
// is reserved for an unregistered entity type or a failed lookup.
func (g *Guard) ValidateBulkUpdate(ctx context.Context, entityType EntityType, updates []BulkUpdate) (IndexedErrors, error) {
	exists, ok := g.registry.Lookup(entityType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}

	var errs IndexedErrors
	if len(updates) == 0 {
		errs = append(errs, IndexedError{Index: BatchIndex, Field: "updates",
			Message: "The updates field must contain at least 1 item."})
	}
	if len(updates) > g.maxBulkItems {
		errs = append(errs, IndexedError{Index: BatchIndex, Field: "updates",
			Message: fmt.Sprintf("The updates field must not contain more than %d items.", g.maxBulkItems)})
	}

	seen := make(map[uuid.UUID]int, len(updates))
	var ids, dups []uuid.UUID
	for _, u := range updates {
		if u.ID == uuid.Nil {
			continue
		}
		seen[u.ID]++
		switch seen[u.ID] {
		case 1:
			ids = append(ids, u.ID)
		case 2:
			dups = append(dups, u.ID)
		}
	}

	found := map[uuid.UUID]bool{}
	if len(ids) > 0 {
		var err error
		if found, err = exists(ctx, ids); err != nil {
			return nil, fmt.Errorf("check %s existence: %w", entityType, err)
		}
	}

	for i, u := range updates {
		field := fmt.Sprintf("updates.%d.id", i)
		switch {
		case u.ID == uuid.Nil:
			errs = append(errs, IndexedError{Index: i, Field: field,
				Message: fmt.Sprintf("The %s field is required and must be a valid identifier.", field)})
		case !found[u.ID]:
			errs = append(errs, IndexedError{Index: i, Field: field,
				Message: fmt.Sprintf("The selected %s (%s) does not exist in %s.", field, u.ID, entityType)})
		}
		if len(u.Data) == 0 {
			errs = append(errs, IndexedError{Index: i, Field: fmt.Sprintf("updates.%d.data", i),
				Message: fmt.Sprintf("The updates.%d.data field is required.", i)})
		}
	}

	if len(dups) > 0 {
		names := make([]string, len(dups))
		for i, id := range dups {
			names[i] = id.String()
		}
		errs = append(errs, IndexedError{Index: BatchIndex, Field: "updates",
			Message: "Duplicate IDs found in batch: " + strings.Join(names, ", ")})
	}

	return errs, nil
}
