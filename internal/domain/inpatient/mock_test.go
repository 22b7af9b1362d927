package inpatient

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// -- In-memory store --

type txKey struct{}

// memStore backs the mock repositories. InTx snapshots the maps and
// restores them when fn fails, which is enough to observe rollback.
type memStore struct {
	wards     map[uuid.UUID]Ward
	beds      map[uuid.UUID]Bed
	depts     map[uuid.UUID]bool
	commits   int
	rollbacks int
}

func newMemStore() *memStore {
	return &memStore{
		wards: make(map[uuid.UUID]Ward),
		beds:  make(map[uuid.UUID]Bed),
		depts: make(map[uuid.UUID]bool),
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	wards := make(map[uuid.UUID]Ward, len(s.wards))
	for k, v := range s.wards {
		wards[k] = v
	}
	beds := make(map[uuid.UUID]Bed, len(s.beds))
	for k, v := range s.beds {
		beds[k] = v
	}
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.wards, s.beds = wards, beds
		s.rollbacks++
		return err
	}
	s.commits++
	return nil
}

func requireTx(ctx context.Context, what string, id uuid.UUID) error {
	if ctx.Value(txKey{}) == nil {
		return fmt.Errorf("lock %s %s: no transaction in context", what, id)
	}
	return nil
}

func (s *memStore) liveBeds(wardID uuid.UUID) []Bed {
	var out []Bed
	for _, b := range s.beds {
		if b.WardID == wardID && b.RemovedAt == nil {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BedNumber < out[j].BedNumber })
	return out
}

func (s *memStore) registry() *Registry {
	r := NewRegistry()
	r.Register(EntityWards, func(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
		found := map[uuid.UUID]bool{}
		for _, id := range ids {
			if _, ok := s.wards[id]; ok {
				found[id] = true
			}
		}
		return found, nil
	})
	r.Register(EntityBeds, func(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
		found := map[uuid.UUID]bool{}
		for _, id := range ids {
			if b, ok := s.beds[id]; ok && b.RemovedAt == nil {
				found[id] = true
			}
		}
		return found, nil
	})
	r.Register(EntityDepartments, func(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
		found := map[uuid.UUID]bool{}
		for _, id := range ids {
			if s.depts[id] {
				found[id] = true
			}
		}
		return found, nil
	})
	return r
}

// -- Mock Repositories --

type memWards struct{ *memStore }

func (m memWards) Create(_ context.Context, w *Ward) error {
	w.ID = uuid.New()
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	m.wards[w.ID] = *w
	return nil
}

func (m memWards) GetByID(_ context.Context, id uuid.UUID) (*Ward, error) {
	w, ok := m.wards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (m memWards) LockByID(ctx context.Context, id uuid.UUID) (*Ward, error) {
	if err := requireTx(ctx, "ward", id); err != nil {
		return nil, err
	}
	return m.GetByID(ctx, id)
}

func (m memWards) Update(_ context.Context, w *Ward) error {
	if _, ok := m.wards[w.ID]; !ok {
		return ErrNotFound
	}
	w.UpdatedAt = time.Now()
	m.wards[w.ID] = *w
	return nil
}

func (m memWards) List(_ context.Context, limit, offset int) ([]*Ward, int, error) {
	var all []*Ward
	for _, w := range m.wards {
		w := w
		all = append(all, &w)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m memWards) CountActiveBeds(_ context.Context, wardID uuid.UUID) (int, error) {
	return len(m.liveBeds(wardID)), nil
}

type memBeds struct{ *memStore }

func (m memBeds) Create(_ context.Context, b *Bed) error {
	for _, other := range m.liveBeds(b.WardID) {
		if other.BedNumber == b.BedNumber {
			return ErrBedNumberTaken
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.beds[b.ID] = *b
	return nil
}

func (m memBeds) GetByID(_ context.Context, id uuid.UUID) (*Bed, error) {
	b, ok := m.beds[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m memBeds) LockByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	if err := requireTx(ctx, "bed", id); err != nil {
		return nil, err
	}
	return m.GetByID(ctx, id)
}

func (m memBeds) Update(_ context.Context, b *Bed) error {
	if _, ok := m.beds[b.ID]; !ok {
		return ErrNotFound
	}
	b.UpdatedAt = time.Now()
	m.beds[b.ID] = *b
	return nil
}

func (m memBeds) MarkRemoved(_ context.Context, id uuid.UUID) error {
	b, ok := m.beds[id]
	if !ok || b.RemovedAt != nil {
		return ErrNotFound
	}
	now := time.Now()
	b.RemovedAt = &now
	m.beds[id] = b
	return nil
}

func (m memBeds) FindByNumberInWard(_ context.Context, wardID uuid.UUID, normalized string, excluding *uuid.UUID) (*Bed, error) {
	for _, b := range m.liveBeds(wardID) {
		if excluding != nil && b.ID == *excluding {
			continue
		}
		if NormalizeBedNumber(b.BedNumber) == normalized {
			b := b
			return &b, nil
		}
	}
	return nil, nil
}

func (m memBeds) ListByWard(_ context.Context, wardID uuid.UUID, limit, offset int) ([]*Bed, int, error) {
	live := m.liveBeds(wardID)
	total := len(live)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Bed, 0, end-offset)
	for i := offset; i < end; i++ {
		b := live[i]
		out = append(out, &b)
	}
	return out, total, nil
}

func (m memBeds) CountByStatus(_ context.Context, wardID uuid.UUID) (map[BedStatus]int, error) {
	counts := map[BedStatus]int{}
	for _, b := range m.liveBeds(wardID) {
		counts[b.Status]++
	}
	return counts, nil
}

// failingFinder returns err from every lookup.
type failingFinder struct{ err error }

func (f failingFinder) FindByNumberInWard(context.Context, uuid.UUID, string, *uuid.UUID) (*Bed, error) {
	return nil, f.err
}

var errLookup = errors.New("connection reset")

// -- Observer --

type recordingObserver struct {
	conflicts []string
	mutations map[string]int
	failures  map[string]int
	rejected  map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		mutations: map[string]int{},
		failures:  map[string]int{},
		rejected:  map[string]int{},
	}
}

func (o *recordingObserver) ConflictRaised(kind string) { o.conflicts = append(o.conflicts, kind) }

func (o *recordingObserver) MutationCompleted(op string, err error) {
	o.mutations[op]++
	if err != nil {
		o.failures[op]++
	}
}

func (o *recordingObserver) BulkRejected(entity string, n int) { o.rejected[entity] += n }

// -- Fixtures --

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc   *Service
	store *memStore
	obs   *recordingObserver
	dept  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	dept := uuid.New()
	store.depts[dept] = true

	svc := NewService(memWards{store}, memBeds{store}, store, store.registry(), zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	obs := newRecordingObserver()
	svc.SetObserver(obs)
	return &fixture{svc: svc, store: store, obs: obs, dept: dept}
}

func (f *fixture) ward(t *testing.T, name string, capacity int) *Ward {
	t.Helper()
	w := &Ward{DepartmentID: f.dept, Name: name, WardType: WardGeneral, Capacity: capacity, FloorNumber: 2}
	require.NoError(t, f.svc.CreateWard(context.Background(), w), "create ward %s", name)
	return w
}

func (f *fixture) bed(t *testing.T, wardID uuid.UUID, number string, status BedStatus) *Bed {
	t.Helper()
	b := &Bed{BedNumber: number, Status: status}
	require.NoError(t, f.svc.CreateBed(context.Background(), wardID, b), "create bed %s", number)
	return b
}

func (f *fixture) storedBed(t *testing.T, id uuid.UUID) Bed {
	t.Helper()
	b, ok := f.store.beds[id]
	require.True(t, ok, "bed %s not in store", id)
	return b
}
