package presence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-bridges/internal/infrastructure/database"
)

// ClientRecord is a persisted network client.
type ClientRecord struct {
	MAC        string    `json:"mac"`
	Hostname   string    `json:"hostname,omitempty"`
	IP         string    `json:"ip,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	LastSignal int       `json:"last_signal"`
}

// Repository persists seen clients in the clients table so hostnames and
// first-seen times survive restarts.
type Repository struct {
	db *database.DB
}

// NewRepository creates a repository backed by db.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Upsert records a sighting. First-seen is preserved on conflict; the
// hostname is only overwritten when the lease supplied one.
func (r *Repository) Upsert(ctx context.Context, result ScanResult, seenAt time.Time) error {
	seen := seenAt.UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clients (mac, hostname, ip, first_seen, last_seen, last_signal)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(mac) DO UPDATE SET
			hostname    = CASE WHEN excluded.hostname != '' THEN excluded.hostname ELSE clients.hostname END,
			ip          = CASE WHEN excluded.ip != '' THEN excluded.ip ELSE clients.ip END,
			last_seen   = excluded.last_seen,
			last_signal = excluded.last_signal`,
		result.MAC, result.Hostname, result.IP, seen, seen, result.Signal,
	)
	if err != nil {
		return fmt.Errorf("upserting client %s: %w", result.MAC, err)
	}
	return nil
}

// Get returns one client by MAC, or nil when unknown.
func (r *Repository) Get(ctx context.Context, mac string) (*ClientRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT mac, hostname, ip, first_seen, last_seen, last_signal
		FROM clients WHERE mac = ?`, mac)

	record, err := scanClient(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

// GetAll returns every persisted client, most recently seen first.
func (r *Repository) GetAll(ctx context.Context) ([]ClientRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT mac, hostname, ip, first_seen, last_seen, last_signal
		FROM clients ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying clients: %w", err)
	}
	defer rows.Close()

	var records []ClientRecord
	for rows.Next() {
		record, err := scanClient(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating clients: %w", err)
	}
	return records, nil
}

// scanClient maps one row onto a ClientRecord, parsing the stored
// RFC3339 timestamps.
func scanClient(scan func(...any) error) (*ClientRecord, error) {
	var record ClientRecord
	var firstSeen, lastSeen string

	if err := scan(&record.MAC, &record.Hostname, &record.IP, &firstSeen, &lastSeen, &record.LastSignal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning client row: %w", err)
	}

	var err error
	if record.FirstSeen, err = time.Parse(time.RFC3339, firstSeen); err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	if record.LastSeen, err = time.Parse(time.RFC3339, lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	return &record, nil
}
