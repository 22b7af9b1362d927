package inpatient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hospital/hms/internal/platform/db"
)

const pgUniqueViolation = "23505"

// -- Ward Repository --

type wardRepoPG struct {
	pool *pgxpool.Pool
}

func NewWardRepo(pool *pgxpool.Pool) WardRepository {
	return &wardRepoPG{pool: pool}
}

const wardColumns = `id, department_id, name, ward_type, capacity, floor_number, status, created_at, updated_at`

func (r *wardRepoPG) Create(ctx context.Context, w *Ward) error {
	w.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO ward (id, department_id, name, ward_type, capacity, floor_number, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		w.ID, w.DepartmentID, w.Name, w.WardType, w.Capacity, w.FloorNumber, w.Status,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *wardRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return scanWard(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+wardColumns+` FROM ward WHERE id = $1`, id))
}

func (r *wardRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Ward, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("lock ward %s: no transaction in context", id)
	}
	return scanWard(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+wardColumns+` FROM ward WHERE id = $1 FOR UPDATE`, id))
}

func (r *wardRepoPG) Update(ctx context.Context, w *Ward) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE ward SET
			department_id = $2, name = $3, ward_type = $4, capacity = $5,
			floor_number = $6, status = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		w.ID, w.DepartmentID, w.Name, w.WardType, w.Capacity, w.FloorNumber, w.Status,
	).Scan(&w.UpdatedAt)
}

func (r *wardRepoPG) List(ctx context.Context, limit, offset int) ([]*Ward, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM ward`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx,
		`SELECT `+wardColumns+` FROM ward ORDER BY floor_number, name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var wards []*Ward
	for rows.Next() {
		w, err := scanWard(rows)
		if err != nil {
			return nil, 0, err
		}
		wards = append(wards, w)
	}
	return wards, total, rows.Err()
}

func (r *wardRepoPG) CountActiveBeds(ctx context.Context, wardID uuid.UUID) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM bed WHERE ward_id = $1 AND removed_at IS NULL`, wardID).Scan(&n)
	return n, err
}

func scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	err := row.Scan(&w.ID, &w.DepartmentID, &w.Name, &w.WardType, &w.Capacity,
		&w.FloorNumber, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// -- Bed Repository --

type bedRepoPG struct {
	pool *pgxpool.Pool
}

func NewBedRepo(pool *pgxpool.Pool) BedRepository {
	return &bedRepoPG{pool: pool}
}

const bedColumns = `id, ward_id, bed_number, bed_type, status, maintenance_notes,
	last_occupied_at, removed_at, created_at, updated_at`

func (r *bedRepoPG) Create(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO bed (id, ward_id, bed_number, bed_type, status, maintenance_notes, last_occupied_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		b.ID, b.WardID, b.BedNumber, b.BedType, b.Status, b.MaintenanceNotes, b.LastOccupiedAt,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	return translateBedErr(err)
}

func (r *bedRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bedColumns+` FROM bed WHERE id = $1`, id))
}

func (r *bedRepoPG) LockByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	if db.TxFromContext(ctx) == nil {
		return nil, fmt.Errorf("lock bed %s: no transaction in context", id)
	}
	return scanBed(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+bedColumns+` FROM bed WHERE id = $1 FOR UPDATE`, id))
}

func (r *bedRepoPG) Update(ctx context.Context, b *Bed) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE bed SET
			bed_number = $2, bed_type = $3, status = $4, maintenance_notes = $5,
			last_occupied_at = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, b.BedNumber, b.BedType, b.Status, b.MaintenanceNotes, b.LastOccupiedAt,
	).Scan(&b.UpdatedAt)
	return translateBedErr(err)
}

func (r *bedRepoPG) MarkRemoved(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE bed SET removed_at = NOW(), updated_at = NOW() WHERE id = $1 AND removed_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *bedRepoPG) FindByNumberInWard(ctx context.Context, wardID uuid.UUID, normalized string, excluding *uuid.UUID) (*Bed, error) {
	b, err := scanBed(db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+bedColumns+` FROM bed
		WHERE ward_id = $1 AND UPPER(TRIM(bed_number)) = $2 AND removed_at IS NULL
		  AND ($3::uuid IS NULL OR id <> $3)
		LIMIT 1`, wardID, normalized, excluding))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return b, err
}

func (r *bedRepoPG) ListByWard(ctx context.Context, wardID uuid.UUID, limit, offset int) ([]*Bed, int, error) {
	conn := db.Conn(ctx, r.pool)

	var total int
	err := conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM bed WHERE ward_id = $1 AND removed_at IS NULL`, wardID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := conn.Query(ctx, `SELECT `+bedColumns+` FROM bed
		WHERE ward_id = $1 AND removed_at IS NULL
		ORDER BY bed_number LIMIT $2 OFFSET $3`, wardID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var beds []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, 0, err
		}
		beds = append(beds, b)
	}
	return beds, total, rows.Err()
}

func (r *bedRepoPG) CountByStatus(ctx context.Context, wardID uuid.UUID) (map[BedStatus]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT status, COUNT(*) FROM bed
		WHERE ward_id = $1 AND removed_at IS NULL
		GROUP BY status`, wardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[BedStatus]int, len(BedStatuses))
	for rows.Next() {
		var st BedStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.WardID, &b.BedNumber, &b.BedType, &b.Status, &b.MaintenanceNotes,
		&b.LastOccupiedAt, &b.RemovedAt, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func translateBedErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrBedNumberTaken
	}
	return err
}
