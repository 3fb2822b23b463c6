//go:build sqlite
// +build sqlite

package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"atcwatch/internal/event"
	"atcwatch/internal/governor"
	"atcwatch/internal/notify"
	"atcwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqliteStore keeps the event log and seen set as real tables (so the
// dashboard can query them directly) and the remaining surfaces as
// versioned JSON documents.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate() error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.Exec(string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadEventLog() ([]event.LogEntry, error) {
	rows, err := s.db.Query(`SELECT payload FROM event_log ORDER BY detected_at_ms, container_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []event.LogEntry
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var e event.LogEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveEventLog replaces the whole log; the single-writer model and the
// retention bound keep it small.
func (s *sqliteStore) SaveEventLog(entries []event.LogEntry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM event_log`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO event_log(container_id, detected_at_ms, payload) VALUES(?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(string(e.Identity()), e.DetectedAt.UnixMilli(), string(payload)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadSeen() (map[event.Identity]time.Time, error) {
	rows, err := s.db.Query(`SELECT id, first_seen_ms FROM seen_identity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[event.Identity]time.Time{}
	for rows.Next() {
		var id string
		var ms int64
		if err := rows.Scan(&id, &ms); err != nil {
			return nil, err
		}
		out[event.Identity(id)] = time.UnixMilli(ms)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSeen(seen map[event.Identity]time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO seen_identity(id, first_seen_ms) VALUES(?,?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for id, at := range seen {
		if _, err := stmt.Exec(string(id), at.UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadNotifyState() (*notify.State, error) {
	st := notify.NewState()
	if err := s.loadSurface("notify", st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) SaveNotifyState(st *notify.State) error {
	if st == nil {
		st = notify.NewState()
	}
	return s.saveSurface("notify", st)
}

func (s *sqliteStore) LoadSafetyState() (*governor.Persisted, error) {
	var st governor.Persisted
	if err := s.loadSurface("safety", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *sqliteStore) SaveSafetyState(st *governor.Persisted) error {
	if st == nil {
		return nil
	}
	return s.saveSurface("safety", st)
}

func (s *sqliteStore) SaveStatus(st StatusRecord) error {
	st.SchemaVersion = SchemaVersion
	return s.saveSurface("status", st)
}

func (s *sqliteStore) LoadStatus() (*StatusRecord, error) {
	var st StatusRecord
	if err := s.loadSurface("status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *sqliteStore) loadSurface(name string, out any) error {
	var data string
	err := s.db.QueryRow(`SELECT data FROM surface WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), out)
}

func (s *sqliteStore) saveSurface(name string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO surface(name, schema_version, saved_at, data) VALUES(?,?,?,?)
		ON CONFLICT(name) DO UPDATE SET schema_version=excluded.schema_version,
		saved_at=excluded.saved_at, data=excluded.data`,
		name, SchemaVersion, time.Now().Format(time.RFC3339Nano), string(data),
	)
	return err
}
