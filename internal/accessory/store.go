package accessory

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/echonet-heatercooler/internal/echonet"
	"github.com/nerrad567/echonet-heatercooler/internal/infrastructure/database"
)

// Record is what the bridge remembers about one appliance object.
type Record struct {
	ID      string
	Name    string
	Address string
	Object  echonet.EOJ

	MakerCode    string
	ProductCode  string
	SerialNumber string

	// PropertyMap is the object's Get property map at discovery.
	PropertyMap echonet.PropertyMap

	SwingSupported bool

	FirstSeen time.Time
	LastSeen  time.Time
}

// RecordFromDevice builds a Record for a discovered device.
func RecordFromDevice(dev echonet.Device, name string, swing bool, seen time.Time) Record {
	return Record{
		ID:             NewID(dev.SerialNumber, dev.Address, dev.Object),
		Name:           name,
		Address:        dev.Address,
		Object:         dev.Object,
		MakerCode:      dev.MakerCode,
		ProductCode:    dev.ProductCode,
		SerialNumber:   dev.SerialNumber,
		PropertyMap:    dev.GetPropertyMap,
		SwingSupported: swing,
		FirstSeen:      seen,
		LastSeen:       seen,
	}
}

// Store persists Records in the accessories table.
type Store struct {
	db *database.DB
}

// NewStore creates a Store on a migrated database.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

const recordColumns = `id, name, address, eoj, maker_code, product_code, serial_number,
	property_map, swing_supported, first_seen, last_seen`

// Upsert inserts rec or updates the existing row with the same ID.
// FirstSeen is kept from the existing row.
//
// Returns:
//   - bool: true if the stored address changed
//   - error: if the write fails
func (s *Store) Upsert(ctx context.Context, rec Record) (bool, error) {
	var addressChanged bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var previous string
		err := tx.QueryRowContext(ctx, "SELECT address FROM accessories WHERE id = ?", rec.ID).Scan(&previous)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("reading accessory %s: %w", rec.ID, err)
		default:
			addressChanged = previous != rec.Address
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO accessories (`+recordColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				address = excluded.address,
				eoj = excluded.eoj,
				maker_code = excluded.maker_code,
				product_code = excluded.product_code,
				serial_number = excluded.serial_number,
				property_map = excluded.property_map,
				swing_supported = excluded.swing_supported,
				last_seen = excluded.last_seen`,
			rec.ID, rec.Name, rec.Address, rec.Object.String(),
			rec.MakerCode, rec.ProductCode, rec.SerialNumber,
			encodeCodes(rec.PropertyMap), boolToInt(rec.SwingSupported),
			formatTime(rec.FirstSeen), formatTime(rec.LastSeen),
		)
		if err != nil {
			return fmt.Errorf("upserting accessory %s: %w", rec.ID, err)
		}
		return nil
	})
	return addressChanged, err
}

// Get returns the Record with the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+recordColumns+" FROM accessories WHERE id = ?", id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

// List returns every Record ordered by name.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+recordColumns+" FROM accessories ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("listing accessories: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accessories: %w", err)
	}
	return records, nil
}

// Delete removes a Record and its history.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM accessories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting accessory %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 { //nolint:errcheck // sqlite3 always reports rows affected
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec                 Record
		eoj, codes          string
		swing               int
		firstSeen, lastSeen string
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.Address, &eoj, &rec.MakerCode, &rec.ProductCode,
		&rec.SerialNumber, &codes, &swing, &firstSeen, &lastSeen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scanning accessory: %w", err)
	}

	if rec.Object, err = echonet.ParseEOJ(eoj); err != nil {
		return Record{}, fmt.Errorf("accessory %s: %w", rec.ID, err)
	}
	if rec.PropertyMap, err = decodeCodes(codes); err != nil {
		return Record{}, fmt.Errorf("accessory %s property map: %w", rec.ID, err)
	}
	rec.SwingSupported = swing != 0
	rec.FirstSeen = parseTime(firstSeen)
	rec.LastSeen = parseTime(lastSeen)
	return rec, nil
}

// encodeCodes stores a property map as the hex of its codes, e.g. "80b0b3".
func encodeCodes(m echonet.PropertyMap) string {
	raw := make([]byte, len(m))
	for i, epc := range m {
		raw[i] = byte(epc)
	}
	return hex.EncodeToString(raw)
}

func decodeCodes(s string) (echonet.PropertyMap, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	m := make(echonet.PropertyMap, len(raw))
	for i, b := range raw {
		m[i] = echonet.EPC(b)
	}
	return m, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s) //nolint:errcheck // Written by formatTime
	return t
}
