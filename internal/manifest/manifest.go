// Package manifest persists the last-known-good snapshot of the target
// tree in an SQLite sidecar under the target root. Checkpoints and commits
// run in single transactions, so an interrupted write leaves the previous
// state intact.
package manifest

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/biswanathroul/filesync-guardian/internal/db"
	"github.com/biswanathroul/filesync-guardian/internal/utils"
	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
)

const (
	// DirName is the sidecar directory created under the target root.
	// Scanners must exclude it.
	DirName    = ".fsguardian"
	dbFileName = "manifest.db"
	lockName   = "manifest.lock"
)

var (
	ErrCorrupt = errors.New("manifest corrupt")
	ErrLocked  = errors.New("manifest locked by another process")
	ErrClosed  = errors.New("manifest store not open")
)

const schema = `
CREATE TABLE IF NOT EXISTS manifest_meta (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    version INTEGER NOT NULL,
    run_id TEXT NOT NULL,
    completed INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS manifest_entries (
    path TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    size INTEGER NOT NULL,
    mode INTEGER NOT NULL,
    mod_time TEXT NOT NULL,
    hash TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_manifest_hash ON manifest_entries(hash);
`

// Entry is one confirmed filesystem object in the manifest.
type Entry struct {
	Path    string
	Kind    string
	Size    int64
	Mode    uint32
	ModTime time.Time
	Hash    string
}

// dbEntry mirrors Entry with the timestamp stored as an RFC3339Nano string.
type dbEntry struct {
	Path    string `db:"path"`
	Kind    string `db:"kind"`
	Size    int64  `db:"size"`
	Mode    uint32 `db:"mode"`
	ModTime string `db:"mod_time"`
	Hash    string `db:"hash"`
}

type dbMeta struct {
	Version   int64  `db:"version"`
	RunID     string `db:"run_id"`
	Completed int    `db:"completed"`
	UpdatedAt string `db:"updated_at"`
}

// Manifest is the loaded state of a prior run. Completed=false means the
// prior run was interrupted; callers may use the entries for hash reuse
// only, never as authoritative prior state.
type Manifest struct {
	Version   int64
	RunID     string
	Completed bool
	UpdatedAt time.Time
	Entries   map[string]*Entry
}

// Store owns the on-disk manifest. A process-wide mutex plus a file lock
// on the sidecar directory serialize writers.
type Store struct {
	dir    string
	dbPath string
	flk    *flock.Flock
	mu     sync.Mutex
	conn   *sqlx.DB
}

// NewStore returns a Store for the sidecar under targetRoot. Open must be
// called before any other method.
func NewStore(targetRoot string) *Store {
	dir := filepath.Join(targetRoot, DirName)
	return &Store{
		dir:    dir,
		dbPath: filepath.Join(dir, dbFileName),
		flk:    flock.New(filepath.Join(dir, lockName)),
	}
}

// Open acquires the cross-process lock and opens the database.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return fmt.Errorf("manifest store already open")
	}
	if err := utils.EnsureDir(s.dir); err != nil {
		return fmt.Errorf("create manifest dir %s: %w", s.dir, err)
	}

	locked, err := s.flk.TryLock()
	if err != nil {
		return fmt.Errorf("lock manifest: %w", err)
	}
	if !locked {
		return ErrLocked
	}

	conn, err := db.NewSqliteDb(db.WithPath(s.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		s.flk.Unlock()
		// an unopenable existing file is a damaged manifest, not a setup
		// failure; callers reset and rebuild
		if utils.FileExists(s.dbPath) {
			return fmt.Errorf("%w: open db: %v", ErrCorrupt, err)
		}
		return fmt.Errorf("open manifest db: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		s.flk.Unlock()
		return fmt.Errorf("%w: init schema: %v", ErrCorrupt, err)
	}

	s.conn = conn
	return nil
}

// Close releases the database and the file lock.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if uerr := s.flk.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// Load returns the persisted manifest, or nil when none has been written
// yet. Unreadable state is reported as ErrCorrupt; callers fall back to a
// full rescan rather than aborting.
func (s *Store) Load() (*Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil, ErrClosed
	}

	var meta dbMeta
	err := s.conn.Get(&meta, "SELECT version, run_id, completed, updated_at FROM manifest_meta WHERE id = 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read meta: %v", ErrCorrupt, err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, meta.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: bad updated_at %q", ErrCorrupt, meta.UpdatedAt)
	}

	var rows []dbEntry
	if err := s.conn.Select(&rows, "SELECT path, kind, size, mode, mod_time, hash FROM manifest_entries"); err != nil {
		return nil, fmt.Errorf("%w: read entries: %v", ErrCorrupt, err)
	}

	entries := make(map[string]*Entry, len(rows))
	for _, row := range rows {
		modTime, err := time.Parse(time.RFC3339Nano, row.ModTime)
		if err != nil {
			slog.Warn("manifest entry has bad timestamp, skipping", "path", row.Path, "value", row.ModTime)
			continue
		}
		entries[row.Path] = &Entry{
			Path:    row.Path,
			Kind:    row.Kind,
			Size:    row.Size,
			Mode:    row.Mode,
			ModTime: modTime,
			Hash:    row.Hash,
		}
	}

	return &Manifest{
		Version:   meta.Version,
		RunID:     meta.RunID,
		Completed: meta.Completed != 0,
		UpdatedAt: updatedAt,
		Entries:   entries,
	}, nil
}

// Begin marks the start of a run: bumps the version and clears the
// completed flag. Existing entries are kept for checkpoint upserts.
func (s *Store) Begin(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrClosed
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.conn.Exec(`
		INSERT INTO manifest_meta (id, version, run_id, completed, updated_at)
		VALUES (1, 1, ?, 0, ?)
		ON CONFLICT(id) DO UPDATE SET
			version = version + 1,
			run_id = excluded.run_id,
			completed = 0,
			updated_at = excluded.updated_at`,
		runID, now)
	if err != nil {
		return fmt.Errorf("begin manifest run %s: %w", runID, err)
	}
	return nil
}

// Checkpoint upserts a batch of applied entries in one transaction. Safe
// to call repeatedly and to interrupt; the completed flag stays false.
func (s *Store) Checkpoint(entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrClosed
	}

	tx, err := s.conn.Beginx()
	if err != nil {
		return fmt.Errorf("checkpoint begin: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if _, err := tx.NamedExec(`
			INSERT OR REPLACE INTO manifest_entries (path, kind, size, mode, mod_time, hash)
			VALUES (:path, :kind, :size, :mode, :mod_time, :hash)`,
			toDBEntry(e)); err != nil {
			return fmt.Errorf("checkpoint %s: %w", e.Path, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec("UPDATE manifest_meta SET updated_at = ? WHERE id = 1", now); err != nil {
		return fmt.Errorf("checkpoint meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("checkpoint commit: %w", err)
	}
	slog.Debug("manifest checkpoint", "entries", len(entries))
	return nil
}

// Commit replaces the stored entries with the final snapshot and sets the
// completed flag, all in one transaction. Only a committed manifest may be
// trusted as authoritative prior state by the next run.
func (s *Store) Commit(entries []*Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrClosed
	}

	tx, err := s.conn.Beginx()
	if err != nil {
		return fmt.Errorf("commit begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM manifest_entries"); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}
	for _, e := range entries {
		if _, err := tx.NamedExec(`
			INSERT INTO manifest_entries (path, kind, size, mode, mod_time, hash)
			VALUES (:path, :kind, :size, :mode, :mod_time, :hash)`,
			toDBEntry(e)); err != nil {
			return fmt.Errorf("commit %s: %w", e.Path, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec("UPDATE manifest_meta SET completed = 1, updated_at = ? WHERE id = 1", now); err != nil {
		return fmt.Errorf("commit meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	slog.Debug("manifest committed", "entries", len(entries))
	return nil
}

// Reset moves a corrupt database aside so Open can start fresh. The old
// file is kept as a timestamped .bak for inspection.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
		s.flk.Unlock()
	}
	stamp := time.Now().Format("20060102150405")
	if err := os.Rename(s.dbPath, fmt.Sprintf("%s.%s.bak", s.dbPath, stamp)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("move corrupt manifest aside: %w", err)
	}
	return nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return 0, ErrClosed
	}
	var count int
	if err := s.conn.Get(&count, "SELECT COUNT(*) FROM manifest_entries"); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

func toDBEntry(e *Entry) dbEntry {
	return dbEntry{
		Path:    e.Path,
		Kind:    e.Kind,
		Size:    e.Size,
		Mode:    e.Mode,
		ModTime: e.ModTime.UTC().Format(time.RFC3339Nano),
		Hash:    e.Hash,
	}
}
