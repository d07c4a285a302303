package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mbenton/wattflume/pkg/models"
	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS interval_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		time TEXT NOT NULL,
		kind TEXT NOT NULL,
		energy_wh REAL,
		power REAL,
		gallons REAL,
		created_at TEXT NOT NULL,
		published INTEGER DEFAULT 0,
		UNIQUE(date, time, kind)
	);
	CREATE INDEX IF NOT EXISTS idx_interval_date ON interval_data(date);
	CREATE INDEX IF NOT EXISTS idx_interval_kind ON interval_data(kind);
	CREATE INDEX IF NOT EXISTS idx_interval_published ON interval_data(published);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// InsertInterval inserts a normalized interval record, ignoring duplicates.
// The UNIQUE(date, time, kind) constraint makes re-ingesting a window a
// no-op for rows already stored.
func (db *DB) InsertInterval(rec *models.IntervalRecord) error {
	query := `
	INSERT OR IGNORE INTO interval_data (date, time, kind, energy_wh, power, gallons, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := time.Now().UTC().Format(time.RFC3339)

	_, err := db.conn.Exec(query, rec.Date, rec.Time, string(rec.Kind),
		nullable(rec.EnergyWh), nullable(rec.Power), nullable(rec.Gallons), createdAt)
	if err != nil {
		return fmt.Errorf("inserting interval data: %w", err)
	}

	return nil
}

// ListIntervals retrieves all interval data for a kind, ordered by date and time
func (db *DB) ListIntervals(kind models.Kind) ([]models.IntervalRecord, error) {
	query := `
	SELECT id, date, time, kind, energy_wh, power, gallons
	FROM interval_data
	WHERE kind = ?
	ORDER BY date, time
	`

	rows, err := db.conn.Query(query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying interval data: %w", err)
	}
	defer rows.Close()

	return scanIntervals(rows)
}

// ListUnpublished retrieves all unpublished interval data for a kind
func (db *DB) ListUnpublished(kind models.Kind) ([]models.IntervalRecord, error) {
	query := `
	SELECT id, date, time, kind, energy_wh, power, gallons
	FROM interval_data
	WHERE kind = ? AND published = 0
	ORDER BY date, time
	`

	rows, err := db.conn.Query(query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("querying unpublished interval data: %w", err)
	}
	defer rows.Close()

	return scanIntervals(rows)
}

// HasData checks if any rows exist for a given date and kind
func (db *DB) HasData(date string, kind models.Kind) (bool, error) {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM interval_data WHERE date = ? AND kind = ?`,
		date, string(kind)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("counting interval data: %w", err)
	}
	return count > 0, nil
}

// MarkPublished marks an interval record as published
func (db *DB) MarkPublished(id int) error {
	query := `UPDATE interval_data SET published = 1 WHERE id = ?`
	_, err := db.conn.Exec(query, id)
	if err != nil {
		return fmt.Errorf("marking record as published: %w", err)
	}
	return nil
}

func scanIntervals(rows *sql.Rows) ([]models.IntervalRecord, error) {
	var results []models.IntervalRecord
	for rows.Next() {
		var rec models.IntervalRecord
		var kind string
		var energyWh, power, gallons sql.NullFloat64

		if err := rows.Scan(&rec.ID, &rec.Date, &rec.Time, &kind, &energyWh, &power, &gallons); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		rec.Kind = models.Kind(kind)
		if energyWh.Valid {
			v := energyWh.Float64
			rec.EnergyWh = &v
		}
		if power.Valid {
			v := power.Float64
			rec.Power = &v
		}
		if gallons.Valid {
			v := gallons.Float64
			rec.Gallons = &v
		}

		results = append(results, rec)
	}

	return results, rows.Err()
}

func nullable(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
