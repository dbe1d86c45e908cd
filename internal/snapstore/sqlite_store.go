// Package snapstore provides a persistent index of simulation output
// snapshots using SQLite.
package snapstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one indexed snapshot: a time step of one dataset, with the
// summary fields a listing needs without decoding the payloads again.
type Record struct {
	Dataset    string    `json:"dataset"`
	Step       string    `json:"step"` // manifest basename without extension
	XMLPath    string    `json:"xml_path"`
	SimTime    float64   `json:"time"`
	TimeUnits  string    `json:"time_units"`
	CellCount  int       `json:"cell_count"`
	Substrates []string  `json:"substrates"`
	IndexedAt  time.Time `json:"indexed_at"`
}

// Store provides persistent storage for the snapshot index using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based snapshot index.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		dataset TEXT NOT NULL,
		step TEXT NOT NULL,
		xml_path TEXT NOT NULL,
		sim_time REAL NOT NULL,
		time_units TEXT NOT NULL,
		cell_count INTEGER NOT NULL,
		substrates_json TEXT NOT NULL,
		indexed_at TEXT NOT NULL,
		PRIMARY KEY (dataset, step)
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_dataset_time ON snapshots(dataset, sim_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Upsert inserts or replaces a snapshot record.
func (s *Store) Upsert(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	substratesJSON, err := json.Marshal(rec.Substrates)
	if err != nil {
		return fmt.Errorf("failed to marshal substrates: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (dataset, step, xml_path, sim_time, time_units, cell_count, substrates_json, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dataset, step) DO UPDATE SET
			xml_path = excluded.xml_path,
			sim_time = excluded.sim_time,
			time_units = excluded.time_units,
			cell_count = excluded.cell_count,
			substrates_json = excluded.substrates_json,
			indexed_at = excluded.indexed_at
	`,
		rec.Dataset,
		rec.Step,
		rec.XMLPath,
		rec.SimTime,
		rec.TimeUnits,
		rec.CellCount,
		string(substratesJSON),
		rec.IndexedAt.Format(time.RFC3339),
	)
	return err
}

// Get retrieves one snapshot record. A missing record returns nil.
func (s *Store) Get(dataset, step string) (*Record, error) {
	row := s.db.QueryRow(`
		SELECT dataset, step, xml_path, sim_time, time_units, cell_count, substrates_json, indexed_at
		FROM snapshots WHERE dataset = ? AND step = ?
	`, dataset, step)

	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByDataset returns all snapshot records of a dataset in simulation
// time order.
func (s *Store) ListByDataset(dataset string) ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT dataset, step, xml_path, sim_time, time_units, cell_count, substrates_json, indexed_at
		FROM snapshots WHERE dataset = ?
		ORDER BY sim_time ASC, step ASC
	`, dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteDataset removes every record of a dataset, for re-indexing.
func (s *Store) DeleteDataset(dataset string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM snapshots WHERE dataset = ?", dataset)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count returns the number of indexed snapshots for a dataset.
func (s *Store) Count(dataset string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM snapshots WHERE dataset = ?", dataset).Scan(&n)
	return n, err
}

func scanRecord(scan func(dest ...any) error) (*Record, error) {
	var rec Record
	var substratesJSON, indexedAtStr string

	err := scan(
		&rec.Dataset,
		&rec.Step,
		&rec.XMLPath,
		&rec.SimTime,
		&rec.TimeUnits,
		&rec.CellCount,
		&substratesJSON,
		&indexedAtStr,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(substratesJSON), &rec.Substrates); err != nil {
		return nil, fmt.Errorf("failed to unmarshal substrates: %w", err)
	}
	rec.IndexedAt, _ = time.Parse(time.RFC3339, indexedAtStr)

	return &rec, nil
}
