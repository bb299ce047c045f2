package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/holocommander/internal/events"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates the journal at path. ":memory:" keeps it in
// memory for the lifetime of the store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap(ErrOpenFailed, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, wrap(ErrSchemaFailed, err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS device_events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		device TEXT NOT NULL,
		event_type TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		payload BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_device_events_device ON device_events(device);
	CREATE INDEX IF NOT EXISTS idx_device_events_occurred_at ON device_events(occurred_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, evt events.DeviceEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return wrap(ErrAppendFailed, err)
	}
	at := evt.OccurredAt()
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO device_events (event_id, device, event_type, occurred_at, payload) VALUES (?, ?, ?, ?, ?)",
		evt.EventID(), evt.DeviceName(), evt.EventType(), at.UnixMilli(), payload,
	)
	if err != nil {
		return wrap(ErrAppendFailed, err)
	}
	return nil
}

func (s *SQLiteStore) ByDevice(ctx context.Context, device string, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT seq, event_id, device, event_type, occurred_at, payload FROM device_events WHERE device = ? ORDER BY seq"
	args := []any{device}
	if limit > 0 {
		query = "SELECT * FROM (SELECT seq, event_id, device, event_type, occurred_at, payload FROM device_events WHERE device = ? ORDER BY seq DESC LIMIT ?) ORDER BY seq"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLiteStore) Range(ctx context.Context, start, end time.Time) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, event_id, device, event_type, occurred_at, payload FROM device_events WHERE occurred_at >= ? AND occurred_at <= ? ORDER BY seq",
		start.UnixMilli(), end.UnixMilli(),
	)
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			at int64
		)
		if err := rows.Scan(&e.Seq, &e.EventID, &e.Device, &e.Type, &at, &e.Payload); err != nil {
			return nil, wrap(ErrQueryFailed, err)
		}
		e.At = time.UnixMilli(at).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	return entries, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Decode restores the event recorded in e.
func Decode(e Entry) (events.DeviceEvent, error) {
	var (
		evt events.DeviceEvent
		err error
	)
	switch e.Type {
	case events.TypeStatusChanged:
		var v events.DeviceStatusChanged
		err = json.Unmarshal(e.Payload, &v)
		evt = v
	case events.TypeInstallProgress:
		var v events.InstallProgress
		err = json.Unmarshal(e.Payload, &v)
		evt = v
	case events.TypeTaskFailed:
		var v events.TaskFailed
		err = json.Unmarshal(e.Payload, &v)
		evt = v
	default:
		return nil, ErrUnknownType.WithContext("type", e.Type)
	}
	if err != nil {
		return nil, wrap(ErrQueryFailed, err)
	}
	return evt, nil
}
