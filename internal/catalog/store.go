package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/vitrea-gateway/internal/infrastructure/database"
	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// Store reads and writes the catalog.
type Store interface {
	Save(ctx context.Context, cat *vbox.Catalog) error
	Load(ctx context.Context) (*vbox.Catalog, error)
	SavedAt(ctx context.Context) (time.Time, error)
}

// SQLiteStore implements Store on the gateway database.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a catalog store. The catalog migration must have
// been applied to db.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// catalogTables are cleared before every save, children first.
var catalogTables = []string{"keypad_keys", "scenarios", "air_conditioners", "rooms", "floors", "catalog_meta"}

// Save replaces the stored catalog with cat in one transaction.
//
// Returns:
//   - error: ErrNotLoaded for a partial catalog, or the database error
func (s *SQLiteStore) Save(ctx context.Context, cat *vbox.Catalog) error {
	if cat == nil || !cat.IsLoaded() {
		return ErrNotLoaded
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range catalogTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clearing %s: %w", table, err)
			}
		}

		for _, f := range cat.Floors() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO floors (id, name) VALUES (?, ?)`, f.ID, f.Name); err != nil {
				return fmt.Errorf("inserting floor %d: %w", f.ID, err)
			}
		}
		for _, r := range cat.Rooms() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO rooms (id, floor_id, name) VALUES (?, ?, ?)`, r.ID, r.FloorID, r.Name); err != nil {
				return fmt.Errorf("inserting room %d: %w", r.ID, err)
			}
		}
		for _, k := range cat.Keys() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO keypad_keys (keypad_id, key_id, key_type, room_id, name) VALUES (?, ?, ?, ?, ?)`,
				k.KeypadID, k.ID, int(k.Type), k.RoomID, k.Name); err != nil {
				return fmt.Errorf("inserting key %s: %w", k.DeviceID(), err)
			}
		}
		for _, a := range cat.AirConditioners() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO air_conditioners (id, ac_type, room_id, name) VALUES (?, ?, ?, ?)`,
				a.ID, int(a.Type), a.RoomID, a.Name); err != nil {
				return fmt.Errorf("inserting air conditioner %d: %w", a.ID, err)
			}
		}
		for _, sc := range cat.Scenarios() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO scenarios (id, room_id, name) VALUES (?, ?, ?)`, sc.ID, sc.RoomID, sc.Name); err != nil {
				return fmt.Errorf("inserting scenario %d: %w", sc.ID, err)
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_meta (id, saved_at) VALUES (1, ?)`,
			time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("recording save time: %w", err)
		}
		return nil
	})
}

// SavedAt returns when the stored catalog was written.
func (s *SQLiteStore) SavedAt(ctx context.Context) (time.Time, error) {
	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT saved_at FROM catalog_meta WHERE id = 1`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNoCatalog
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading catalog metadata: %w", err)
	}
	t, err := time.Parse(time.RFC3339, savedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing saved_at %q: %w", savedAt, err)
	}
	return t, nil
}

// Load rebuilds the stored catalog. The result reports loaded.
//
// Returns:
//   - *vbox.Catalog: the stored catalog
//   - error: ErrNoCatalog if nothing was saved, or the database error
func (s *SQLiteStore) Load(ctx context.Context) (*vbox.Catalog, error) {
	if _, err := s.SavedAt(ctx); err != nil {
		return nil, err
	}

	floors, err := queryRows(ctx, s.db, `SELECT id, name FROM floors ORDER BY id`,
		func(rows *sql.Rows) (vbox.Floor, error) {
			var f vbox.Floor
			err := rows.Scan(&f.ID, &f.Name)
			return f, err
		})
	if err != nil {
		return nil, fmt.Errorf("loading floors: %w", err)
	}

	rooms, err := queryRows(ctx, s.db, `SELECT id, floor_id, name FROM rooms ORDER BY id`,
		func(rows *sql.Rows) (vbox.Room, error) {
			var r vbox.Room
			err := rows.Scan(&r.ID, &r.FloorID, &r.Name)
			return r, err
		})
	if err != nil {
		return nil, fmt.Errorf("loading rooms: %w", err)
	}

	keys, err := queryRows(ctx, s.db,
		`SELECT keypad_id, key_id, key_type, room_id, name FROM keypad_keys ORDER BY keypad_id, key_id`,
		func(rows *sql.Rows) (vbox.Key, error) {
			var k vbox.Key
			var kind int
			err := rows.Scan(&k.KeypadID, &k.ID, &kind, &k.RoomID, &k.Name)
			k.Type = vbox.KeyType(kind)
			return k, err
		})
	if err != nil {
		return nil, fmt.Errorf("loading keys: %w", err)
	}

	acs, err := queryRows(ctx, s.db, `SELECT id, ac_type, room_id, name FROM air_conditioners ORDER BY id`,
		func(rows *sql.Rows) (vbox.AirConditioner, error) {
			var a vbox.AirConditioner
			var kind int
			err := rows.Scan(&a.ID, &kind, &a.RoomID, &a.Name)
			a.Type = vbox.ACType(kind)
			return a, err
		})
	if err != nil {
		return nil, fmt.Errorf("loading air conditioners: %w", err)
	}

	scenarios, err := queryRows(ctx, s.db, `SELECT id, room_id, name FROM scenarios ORDER BY id`,
		func(rows *sql.Rows) (vbox.Scenario, error) {
			var sc vbox.Scenario
			err := rows.Scan(&sc.ID, &sc.RoomID, &sc.Name)
			return sc, err
		})
	if err != nil {
		return nil, fmt.Errorf("loading scenarios: %w", err)
	}

	return vbox.LoadedCatalog(floors, rooms, keys, acs, scenarios), nil
}

func queryRows[T any](ctx context.Context, db *database.DB, query string, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
