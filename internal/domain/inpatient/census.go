package inpatient

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hospital/hms/internal/platform/cache"
	"github.com/hospital/hms/internal/platform/db"
)

// CensusCache stores ward census snapshots between mutations. Entries are
// scoped to the tenant carried in ctx.
type CensusCache interface {
	Get(ctx context.Context, wardID uuid.UUID) (*Census, bool)
	Set(ctx context.Context, c *Census)
	Invalidate(ctx context.Context, wardIDs ...uuid.UUID)
}

type noopCensusCache struct{}

func (noopCensusCache) Get(context.Context, uuid.UUID) (*Census, bool) { return nil, false }
func (noopCensusCache) Set(context.Context, *Census)                   {}
func (noopCensusCache) Invalidate(context.Context, ...uuid.UUID)       {}

// StoreCensusCache keeps snapshots in a cache.Store. Cache failures are
// logged and treated as misses; the database stays authoritative.
type StoreCensusCache struct {
	store  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewStoreCensusCache(store cache.Store, ttl time.Duration, logger zerolog.Logger) *StoreCensusCache {
	return &StoreCensusCache{store: store, ttl: ttl, logger: logger}
}

// censusKey scopes a ward's snapshot to the request's tenant so one tenant
// can never read another's census by ward id.
func censusKey(ctx context.Context, wardID uuid.UUID) string {
	return "census:" + db.TenantFromContext(ctx) + ":" + wardID.String()
}

func (c *StoreCensusCache) Get(ctx context.Context, wardID uuid.UUID) (*Census, bool) {
	var out Census
	err := c.store.GetJSON(ctx, censusKey(ctx, wardID), &out)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			c.logger.Warn().Err(err).Str("ward_id", wardID.String()).Msg("census cache read failed")
		}
		return nil, false
	}
	return &out, true
}

func (c *StoreCensusCache) Set(ctx context.Context, census *Census) {
	if err := c.store.SetJSON(ctx, censusKey(ctx, census.WardID), census, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("ward_id", census.WardID.String()).Msg("census cache write failed")
	}
}

func (c *StoreCensusCache) Invalidate(ctx context.Context, wardIDs ...uuid.UUID) {
	keys := make([]string, 0, len(wardIDs))
	for _, id := range wardIDs {
		keys = append(keys, censusKey(ctx, id))
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.logger.Warn().Err(err).Int("wards", len(wardIDs)).Msg("census cache invalidation failed")
	}
}

func buildCensus(w *Ward, counts map[BedStatus]int, now time.Time) *Census {
	c := &Census{
		WardID:      w.ID,
		WardName:    w.Name,
		Capacity:    w.Capacity,
		ByStatus:    make(map[BedStatus]int, len(BedStatuses)),
		GeneratedAt: now,
	}
	for _, st := range BedStatuses {
		c.ByStatus[st] = counts[st]
		c.ActiveBeds += counts[st]
	}
	c.FreeCapacity = w.Capacity - c.ActiveBeds
	if c.FreeCapacity < 0 {
		c.FreeCapacity = 0
	}
	if c.ActiveBeds > 0 {
		c.Occupancy = float64(counts[BedOccupied]) / float64(c.ActiveBeds)
	}
	return c
}
