package inpatient

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/hms/internal/platform/db"
)

var pg = goqu.Dialect("postgres")

// tableFor maps each bulk entity type to its table and the columns a bulk
// update may write. Wards and beds are written through the Service, so their
// column lists are empty.
var tableFor = map[EntityType]struct {
	table   string
	columns []string
	live    goqu.Ex
}{
	EntityWards:         {table: "ward"},
	EntityBeds:          {table: "bed", live: goqu.Ex{"removed_at": nil}},
	EntityDepartments:   {table: "department", columns: []string{"name", "code", "description", "active"}},
	EntityTestCatalogs:  {table: "test_catalog", columns: []string{"code", "name", "category", "price", "active"}},
	EntityDrugFormulary: {table: "drug_formulary", columns: []string{"generic_name", "brand_name", "strength", "form", "unit_price", "active"}},
}

// NewPGRegistry returns a Registry with an existence lookup for every bulk
// entity type. Each lookup is one SELECT over all ids of the batch.
func NewPGRegistry(pool *pgxpool.Pool) *Registry {
	r := NewRegistry()
	for t, spec := range tableFor {
		r.Register(t, existsIn(pool, spec.table, spec.live))
	}
	return r
}

func existsIn(pool *pgxpool.Pool, table string, live goqu.Ex) ExistenceFunc {
	return func(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = id.String()
		}
		query, args, err := pg.From(table).Select("id").Where(existenceFilter(keys, live)).Prepared(true).ToSQL()
		if err != nil {
			return nil, fmt.Errorf("build %s existence query: %w", table, err)
		}

		rows, err := db.Conn(ctx, pool).Query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		found := make(map[uuid.UUID]bool, len(ids))
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			found[id] = true
		}
		return found, rows.Err()
	}
}

func existenceFilter(keys []string, live goqu.Ex) goqu.Ex {
	where := goqu.Ex{"id": keys}
	for k, v := range live {
		where[k] = v
	}
	return where
}

// RegisterCatalogAppliers installs bulk writers for the reference tables
// that have no service of their own.
func RegisterCatalogAppliers(s *Service, pool *pgxpool.Pool) {
	for _, t := range []EntityType{EntityDepartments, EntityTestCatalogs, EntityDrugFormulary} {
		spec := tableFor[t]
		s.RegisterApplier(t, columnApplier(pool, spec.table, spec.columns))
	}
}

// columnApplier writes the whitelisted columns present in an update's data.
// Any other key rejects the item.
func columnApplier(pool *pgxpool.Pool, table string, columns []string) BulkApplier {
	allowed := make(map[string]bool, len(columns))
	for _, c := range columns {
		allowed[c] = true
	}
	return func(ctx context.Context, u BulkUpdate) error {
		rec, err := catalogRecord(u.Data, allowed)
		if err != nil {
			return err
		}
		rec["updated_at"] = goqu.L("NOW()")

		query, args, err := pg.Update(table).Set(rec).Where(goqu.Ex{"id": u.ID.String()}).Prepared(true).ToSQL()
		if err != nil {
			return fmt.Errorf("build %s update: %w", table, err)
		}
		tag, err := db.Conn(ctx, pool).Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}
}

func catalogRecord(data map[string]interface{}, allowed map[string]bool) (goqu.Record, error) {
	rec := goqu.Record{}
	var unknown []string
	for k, v := range data {
		if !allowed[k] {
			unknown = append(unknown, k)
			continue
		}
		rec[k] = v
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown fields %s", ErrInvalidInput, strings.Join(unknown, ", "))
	}
	if len(rec) == 0 {
		return nil, fmt.Errorf("%w: no fields to update", ErrInvalidInput)
	}
	return rec, nil
}
