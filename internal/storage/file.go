package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"atcwatch/internal/event"
	"atcwatch/internal/governor"
	"atcwatch/internal/notify"
	"atcwatch/pkg/logx"
)

// fileStore is the dependency-free persistence backend.
//
// Files (under <prefix>.*):
//   - <prefix>.events.json   rolling event log
//   - <prefix>.seen.json     seen identity set
//   - <prefix>.notify.json   delivery notification state
//   - <prefix>.safety.json   governor state
//   - <prefix>.status.json   status surface for the dashboard
//
// Every write goes to a temp file in the same directory and is renamed into
// place, so readers never observe a half-written surface.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	prefix string
}

// envelope wraps a surface with its schema version and write time.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	SavedAt       time.Time       `json:"saved_at"`
	Data          json.RawMessage `json:"data"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{log: log, prefix: prefix}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) LoadEventLog() ([]event.LogEntry, error) {
	var entries []event.LogEntry
	if err := s.load("events", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *fileStore) SaveEventLog(entries []event.LogEntry) error {
	if entries == nil {
		entries = []event.LogEntry{}
	}
	return s.save("events", entries)
}

func (s *fileStore) LoadSeen() (map[event.Identity]time.Time, error) {
	seen := map[event.Identity]time.Time{}
	if err := s.load("seen", &seen); err != nil {
		return nil, err
	}
	return seen, nil
}

func (s *fileStore) SaveSeen(seen map[event.Identity]time.Time) error {
	if seen == nil {
		seen = map[event.Identity]time.Time{}
	}
	return s.save("seen", seen)
}

func (s *fileStore) LoadNotifyState() (*notify.State, error) {
	st := notify.NewState()
	if err := s.load("notify", st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *fileStore) SaveNotifyState(st *notify.State) error {
	if st == nil {
		st = notify.NewState()
	}
	return s.save("notify", st)
}

func (s *fileStore) LoadSafetyState() (*governor.Persisted, error) {
	var st governor.Persisted
	if err := s.load("safety", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *fileStore) SaveSafetyState(st *governor.Persisted) error {
	if st == nil {
		return nil
	}
	return s.save("safety", st)
}

func (s *fileStore) SaveStatus(st StatusRecord) error {
	st.SchemaVersion = SchemaVersion
	return s.save("status", st)
}

func (s *fileStore) LoadStatus() (*StatusRecord, error) {
	var st StatusRecord
	if err := s.load("status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *fileStore) surfacePath(name string) string {
	return s.prefix + "." + name + ".json"
}

// load decodes a surface into out. A missing file leaves out untouched so
// first runs start from empty state.
func (s *fileStore) load(name string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.surfacePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// save writes the surface via temp file + rename.
func (s *fileStore) save(name string, in any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(envelope{
		SchemaVersion: SchemaVersion,
		SavedAt:       time.Now(),
		Data:          data,
	}, "", "  ")
	if err != nil {
		return err
	}

	path := s.surfacePath(name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
