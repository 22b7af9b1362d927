package inpatient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Observer receives allocation outcomes for metrics. kind and entity are
// the ConflictKind and EntityType values as strings.
type Observer interface {
	ConflictRaised(kind string)
	MutationCompleted(operation string, err error)
	BulkRejected(entity string, errorCount int)
}

type noopObserver struct{}

func (noopObserver) ConflictRaised(string)           {}
func (noopObserver) MutationCompleted(string, error) {}
func (noopObserver) BulkRejected(string, int)        {}

// BulkApplier writes one validated bulk update inside the caller's
// transaction.
type BulkApplier func(ctx context.Context, u BulkUpdate) error

// BulkItemError ties a failure while applying a bulk batch to the index of
// the item that caused it. The whole batch has been rolled back.
type BulkItemError struct {
	Index int
	Err   error
}

func (e *BulkItemError) Error() string { return fmt.Sprintf("updates.%d: %v", e.Index, e.Err) }
func (e *BulkItemError) Unwrap() error { return e.Err }

// Service coordinates ward and bed mutations. Every write runs through the
// Transactor: rows are locked, the Guard is consulted, then the store is
// written, all in one transaction.
type Service struct {
	wards    WardRepository
	beds     BedRepository
	tx       Transactor
	guard    *Guard
	registry *Registry
	appliers map[EntityType]BulkApplier
	census   CensusCache
	obs      Observer

	// censusGen counts invalidations per cache key. A census read only
	// stores its snapshot if no invalidation happened while it was built.
	censusMu  sync.Mutex
	censusGen map[string]uint64

	logger zerolog.Logger
	now    func() time.Time
}

func NewService(wards WardRepository, beds BedRepository, tx Transactor, registry *Registry, logger zerolog.Logger) *Service {
	s := &Service{
		wards:     wards,
		beds:      beds,
		tx:        tx,
		guard:     NewGuard(registry),
		registry:  registry,
		appliers:  make(map[EntityType]BulkApplier),
		census:    noopCensusCache{},
		censusGen: make(map[string]uint64),
		obs:       noopObserver{},
		logger:    logger.With().Str("component", "inpatient").Logger(),
		now:       time.Now,
	}
	s.appliers[EntityWards] = s.applyWardUpdate
	s.appliers[EntityBeds] = s.applyBedUpdate
	return s
}

// Guard exposes the service's guard for validate-only callers.
func (s *Service) Guard() *Guard { return s.guard }

// SetCensusCache attaches a census cache. The default caches nothing.
func (s *Service) SetCensusCache(c CensusCache) { s.census = c }

// SetObserver attaches a metrics observer.
func (s *Service) SetObserver(o Observer) { s.obs = o }

// RegisterApplier installs the writer used by BulkUpdate for an entity type.
func (s *Service) RegisterApplier(t EntityType, fn BulkApplier) { s.appliers[t] = fn }

// mutate runs fn in a transaction and records its outcome. Conflicts are
// logged at warn level with their code.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.tx.InTx(ctx, fn)
	s.obs.MutationCompleted(op, err)

	// A bulk item conflict was already counted by the nested mutation.
	var item *BulkItemError
	var conflict *ConflictReport
	if !errors.As(err, &item) && errors.As(err, &conflict) {
		s.obs.ConflictRaised(string(conflict.Kind))
		s.logger.Warn().
			Str("operation", op).
			Str("conflict", conflict.Code()).
			Str("entity_id", conflict.Context.EntityID.String()).
			Msg(conflict.Message)
	}
	return err
}

// -- Wards --

func (s *Service) CreateWard(ctx context.Context, w *Ward) error {
	if w.Status == "" {
		w.Status = WardActive
	}
	if err := validateWard(w); err != nil {
		return err
	}
	return s.mutate(ctx, "create_ward", func(ctx context.Context) error {
		if err := s.requireDepartment(ctx, w.DepartmentID); err != nil {
			return err
		}
		return s.wards.Create(ctx, w)
	})
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return s.wards.GetByID(ctx, id)
}

func (s *Service) ListWards(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	return s.wards.List(ctx, limit, offset)
}

// UpdateWard applies a partial update. A capacity change is checked against
// the ward's active bed count under a row lock on the ward, which bed
// creation also takes.
func (s *Service) UpdateWard(ctx context.Context, id uuid.UUID, p WardPatch) (*Ward, error) {
	var out *Ward
	err := s.mutate(ctx, "update_ward", func(ctx context.Context) error {
		w, err := s.wards.LockByID(ctx, id)
		if err != nil {
			return err
		}
		next := *w
		p.apply(&next)
		if err := validateWard(&next); err != nil {
			return err
		}
		if next.DepartmentID != w.DepartmentID {
			if err := s.requireDepartment(ctx, next.DepartmentID); err != nil {
				return err
			}
		}
		if next.Capacity != w.Capacity {
			count, err := s.wards.CountActiveBeds(ctx, w.ID)
			if err != nil {
				return fmt.Errorf("count beds in ward %s: %w", w.ID, err)
			}
			if c := s.guard.ValidateWardCapacity(w, next.Capacity, count); c != nil {
				return c
			}
		}
		if err := s.wards.Update(ctx, &next); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateCensus(ctx, id)
	return out, nil
}

func (s *Service) requireDepartment(ctx context.Context, id uuid.UUID) error {
	exists, ok := s.registry.Lookup(EntityDepartments)
	if !ok {
		return nil
	}
	found, err := exists(ctx, []uuid.UUID{id})
	if err != nil {
		return fmt.Errorf("check department %s: %w", id, err)
	}
	if !found[id] {
		return fmt.Errorf("department %s: %w", id, ErrNotFound)
	}
	return nil
}

// -- Beds --

// CreateBed adds a bed to a ward after checking capacity and bed number
// uniqueness under a lock on the ward row.
func (s *Service) CreateBed(ctx context.Context, wardID uuid.UUID, b *Bed) error {
	b.WardID = wardID
	b.BedNumber = NormalizeBedNumber(b.BedNumber)
	if b.BedType == "" {
		b.BedType = BedStandard
	}
	if b.Status == "" {
		b.Status = BedAvailable
	}
	if err := validateBed(b); err != nil {
		return err
	}

	err := s.mutate(ctx, "create_bed", func(ctx context.Context) error {
		w, err := s.wards.LockByID(ctx, wardID)
		if err != nil {
			return err
		}
		count, err := s.wards.CountActiveBeds(ctx, wardID)
		if err != nil {
			return fmt.Errorf("count beds in ward %s: %w", wardID, err)
		}
		if c := s.guard.ValidateBedAddition(w, count); c != nil {
			return c
		}
		c, err := s.guard.ValidateBedNumberUniqueness(ctx, s.beds, wardID, b.BedNumber, nil)
		if err != nil {
			return err
		}
		if c != nil {
			return c
		}
		if b.Status == BedOccupied {
			now := s.now()
			b.LastOccupiedAt = &now
		}
		return s.bedWriteErr(s.beds.Create(ctx, b), b)
	})
	if err != nil {
		return err
	}
	s.invalidateCensus(ctx, wardID)
	return nil
}

func (s *Service) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := s.beds.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Removed() {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *Service) ListBeds(ctx context.Context, wardID uuid.UUID, limit, offset int) ([]*Bed, int, error) {
	if _, err := s.wards.GetByID(ctx, wardID); err != nil {
		return nil, 0, err
	}
	return s.beds.ListByWard(ctx, wardID, limit, offset)
}

// UpdateBed applies a partial update. A new bed number is checked for
// uniqueness excluding the bed itself; a new status must pass the
// transition rules.
func (s *Service) UpdateBed(ctx context.Context, id uuid.UUID, p BedPatch) (*Bed, error) {
	var out *Bed
	err := s.mutate(ctx, "update_bed", func(ctx context.Context) error {
		b, err := s.lockLiveBed(ctx, id)
		if err != nil {
			return err
		}
		next := *b

		if p.BedNumber != nil {
			next.BedNumber = NormalizeBedNumber(*p.BedNumber)
		}
		if p.BedType != nil {
			next.BedType = *p.BedType
		}
		if p.MaintenanceNotes != nil {
			next.MaintenanceNotes = p.MaintenanceNotes
		}
		if p.Status != nil {
			next.Status = *p.Status
		}
		if err := validateBed(&next); err != nil {
			return err
		}

		if next.BedNumber != b.BedNumber {
			c, err := s.guard.ValidateBedNumberUniqueness(ctx, s.beds, b.WardID, next.BedNumber, &b.ID)
			if err != nil {
				return err
			}
			if c != nil {
				return c
			}
		}
		if next.Status != b.Status {
			if c := s.guard.ValidateBedStatusTransition(b, next.Status); c != nil {
				return c
			}
			if next.Status == BedOccupied {
				now := s.now()
				next.LastOccupiedAt = &now
			}
		}

		if err := s.bedWriteErr(s.beds.Update(ctx, &next), &next); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateCensus(ctx, out.WardID)
	return out, nil
}

// ChangeBedStatus moves a bed to status, recording notes when given.
func (s *Service) ChangeBedStatus(ctx context.Context, id uuid.UUID, status BedStatus, notes *string) (*Bed, error) {
	return s.UpdateBed(ctx, id, BedPatch{Status: &status, MaintenanceNotes: notes})
}

// Admit marks an available or reserved bed occupied.
func (s *Service) Admit(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.workflow(ctx, "admit", id, BedOccupied, func(b *Bed) bool {
		return b.Status == BedAvailable || b.Status == BedReserved
	})
}

// Discharge releases an occupied bed back to available.
func (s *Service) Discharge(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.workflow(ctx, "discharge", id, BedAvailable, func(b *Bed) bool {
		return b.Status == BedOccupied
	})
}

func (s *Service) workflow(ctx context.Context, op string, id uuid.UUID, target BedStatus, allowed func(*Bed) bool) (*Bed, error) {
	var out *Bed
	err := s.mutate(ctx, op, func(ctx context.Context) error {
		b, err := s.lockLiveBed(ctx, id)
		if err != nil {
			return err
		}
		if !allowed(b) {
			return bedWorkflowConflict(b, string(target))
		}
		if c := s.guard.ValidateBedStatusTransition(b, target); c != nil {
			return c
		}
		next := *b
		next.Status = target
		if target == BedOccupied {
			now := s.now()
			next.LastOccupiedAt = &now
		}
		if err := s.beds.Update(ctx, &next); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateCensus(ctx, out.WardID)
	return out, nil
}

// RemoveBed takes a bed out of service permanently. Occupied beds cannot
// be removed.
func (s *Service) RemoveBed(ctx context.Context, id uuid.UUID) error {
	var wardID uuid.UUID
	err := s.mutate(ctx, "remove_bed", func(ctx context.Context) error {
		b, err := s.lockLiveBed(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == BedOccupied {
			return bedWorkflowConflict(b, "removed")
		}
		wardID = b.WardID
		return s.beds.MarkRemoved(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidateCensus(ctx, wardID)
	return nil
}

func (s *Service) lockLiveBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := s.beds.LockByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Removed() {
		return nil, ErrNotFound
	}
	return b, nil
}

// bedWriteErr turns a unique-index violation into the same conflict the
// guard would have produced.
func (s *Service) bedWriteErr(err error, b *Bed) error {
	if errors.Is(err, ErrBedNumberTaken) {
		return Classify(ConflictDuplicateBedNumber, ConflictContext{
			EntityID: b.ID,
			WardID:   b.WardID,
			Label:    b.BedNumber,
		})
	}
	return err
}

// -- Census --

// Census returns the ward's occupancy snapshot, served from the cache when
// a fresh one exists.
func (s *Service) Census(ctx context.Context, wardID uuid.UUID) (*Census, error) {
	if c, ok := s.census.Get(ctx, wardID); ok {
		return c, nil
	}
	key := censusKey(ctx, wardID)
	gen := s.censusGeneration(key)

	w, err := s.wards.GetByID(ctx, wardID)
	if err != nil {
		return nil, err
	}
	counts, err := s.beds.CountByStatus(ctx, wardID)
	if err != nil {
		return nil, fmt.Errorf("count beds by status: %w", err)
	}
	c := buildCensus(w, counts, s.now().UTC())

	s.censusMu.Lock()
	if s.censusGen[key] == gen {
		s.census.Set(ctx, c)
	}
	s.censusMu.Unlock()
	return c, nil
}

func (s *Service) censusGeneration(key string) uint64 {
	s.censusMu.Lock()
	defer s.censusMu.Unlock()
	return s.censusGen[key]
}

// invalidateCensus drops cached snapshots after a committed mutation. The
// generation bump keeps a census read that overlapped the write from
// caching counts taken before the commit. Another replica's writes are only
// bounded by the cache TTL.
func (s *Service) invalidateCensus(ctx context.Context, wardIDs ...uuid.UUID) {
	s.censusMu.Lock()
	for _, id := range wardIDs {
		s.censusGen[censusKey(ctx, id)]++
	}
	s.censusMu.Unlock()
	s.census.Invalidate(ctx, wardIDs...)
}

// -- Bulk --

// ValidateBulkUpdate runs the guard's batch checks without writing.
func (s *Service) ValidateBulkUpdate(ctx context.Context, t EntityType, updates []BulkUpdate) (IndexedErrors, error) {
	errs, err := s.guard.ValidateBulkUpdate(ctx, t, updates)
	if err == nil && len(errs) > 0 {
		s.obs.BulkRejected(string(t), len(errs))
	}
	return errs, err
}

// BulkUpdate validates the batch and, when it is clean, applies every item
// in one transaction. Any item failure rolls the whole batch back and is
// returned as a *BulkItemError.
func (s *Service) BulkUpdate(ctx context.Context, t EntityType, updates []BulkUpdate) (int, error) {
	apply, ok := s.appliers[t]
	if !ok {
		return 0, fmt.Errorf("%w: no bulk writer for %q", ErrUnknownEntityType, t)
	}

	errs, err := s.ValidateBulkUpdate(ctx, t, updates)
	if err != nil {
		return 0, err
	}
	if len(errs) > 0 {
		return 0, &BulkValidationError{EntityType: t, Errors: errs}
	}

	touched := make(map[uuid.UUID]struct{})
	err = s.mutate(ctx, "bulk_"+string(t), func(ctx context.Context) error {
		if err := s.prelock(ctx, t, updates); err != nil {
			return err
		}
		for i, u := range updates {
			if err := apply(ctx, u); err != nil {
				return &BulkItemError{Index: i, Err: err}
			}
			if wardID, ok := s.wardOf(ctx, t, u.ID); ok {
				touched[wardID] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(touched) > 0 {
		ids := make([]uuid.UUID, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		s.invalidateCensus(ctx, ids...)
	}
	return len(updates), nil
}

// prelock takes row locks on every ward or bed in the batch in id order so
// concurrent batches over overlapping rows cannot deadlock.
func (s *Service) prelock(ctx context.Context, t EntityType, updates []BulkUpdate) error {
	if t != EntityWards && t != EntityBeds {
		return nil
	}
	ids := make([]uuid.UUID, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		var err error
		if t == EntityWards {
			_, err = s.wards.LockByID(ctx, id)
		} else {
			_, err = s.beds.LockByID(ctx, id)
		}
		if err != nil {
			return fmt.Errorf("lock %s %s: %w", t, id, err)
		}
	}
	return nil
}

func (s *Service) wardOf(ctx context.Context, t EntityType, id uuid.UUID) (uuid.UUID, bool) {
	switch t {
	case EntityWards:
		return id, true
	case EntityBeds:
		if b, err := s.beds.GetByID(ctx, id); err == nil {
			return b.WardID, true
		}
	}
	return uuid.Nil, false
}

func (s *Service) applyWardUpdate(ctx context.Context, u BulkUpdate) error {
	var p WardPatch
	if err := decodePatch(u.Data, &p); err != nil {
		return err
	}
	_, err := s.UpdateWard(ctx, u.ID, p)
	return err
}

func (s *Service) applyBedUpdate(ctx context.Context, u BulkUpdate) error {
	var p BedPatch
	if err := decodePatch(u.Data, &p); err != nil {
		return err
	}
	_, err := s.UpdateBed(ctx, u.ID, p)
	return err
}
