package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"clinica/backend/internal/domain"
)

// FormatVersion is bumped when the on-disk layout changes incompatibly.
const FormatVersion = 1

const (
	primaryName  = "snapshot.json"
	backupSuffix = ".json.bak"
	backupPrefix = "snapshot-"
)

// ErrUnrecoverable means the primary snapshot and every backup failed to
// load. The operator must intervene (or explicitly start from empty).
var ErrUnrecoverable = errors.New("snapshot: primary and all backups unreadable")

// CorruptError reports a snapshot file that exists but cannot be decoded or
// fails integrity validation.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("snapshot: corrupt file %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// WriteError reports an I/O failure while persisting. The primary file is
// untouched when this is returned: rename is the only step that mutates it
// and rename is attempted only after the temp file is durably written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("snapshot: write %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Snapshot is the on-disk representation: the complete record set keyed by
// identifier, plus format version and last-write timestamp. Field-tagged JSON
// so a corrupt file can be diagnosed by hand.
type Snapshot struct {
	Version       int                            `json:"version"`
	SavedAt       time.Time                      `json:"saved_at"`
	Appointments  map[string]domain.Appointment  `json:"appointments"`
	Patients      map[string]domain.Patient      `json:"patients"`
	Practitioners map[string]domain.Practitioner `json:"practitioners"`
}

// NewSnapshot returns an empty snapshot at the current format version.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:       FormatVersion,
		Appointments:  map[string]domain.Appointment{},
		Patients:      map[string]domain.Patient{},
		Practitioners: map[string]domain.Practitioner{},
	}
}

func (s *Snapshot) validate() error {
	if s.Version != FormatVersion {
		return fmt.Errorf("unsupported format version %d", s.Version)
	}
	if s.Appointments == nil {
		s.Appointments = map[string]domain.Appointment{}
	}
	if s.Patients == nil {
		s.Patients = map[string]domain.Patient{}
	}
	if s.Practitioners == nil {
		s.Practitioners = map[string]domain.Practitioner{}
	}
	return nil
}

// Files owns the snapshot files in a single data directory. Nothing else in
// the process touches these files.
type Files struct {
	dir    string
	retain int
	log    *slog.Logger
}

// NewFiles prepares the data directory. retain is the number of rotated
// backups kept; older ones are deleted.
func NewFiles(dir string, retain int, log *slog.Logger) (*Files, error) {
	if log == nil {
		log = slog.Default()
	}
	if retain < 1 {
		retain = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Files{
		dir:    dir,
		retain: retain,
		log:    log.With(slog.String("component", "snapshot")),
	}, nil
}

func (f *Files) primaryPath() string { return filepath.Join(f.dir, primaryName) }

// Load reads the primary snapshot. A corrupt or missing primary falls back to
// the newest readable backup; a directory with no snapshot and no backups is
// a fresh, empty store. When the primary and every backup fail, Load returns
// ErrUnrecoverable.
func (f *Files) Load() (*Snapshot, error) {
	snap, err := readFile(f.primaryPath())
	if err == nil {
		f.log.Info("snapshot loaded",
			slog.String("path", f.primaryPath()),
			slog.Int("appointments", len(snap.Appointments)),
		)
		return snap, nil
	}

	backups := f.listBackups()
	if errors.Is(err, fs.ErrNotExist) && len(backups) == 0 {
		f.log.Info("no snapshot on disk, starting empty", slog.String("dir", f.dir))
		return NewSnapshot(), nil
	}

	f.log.Warn("primary snapshot unreadable, trying backups",
		slog.Any("err", err),
		slog.Int("backups", len(backups)),
	)

	for _, name := range backups {
		path := filepath.Join(f.dir, name)
		snap, berr := readFile(path)
		if berr != nil {
			f.log.Warn("backup unreadable", slog.String("path", path), slog.Any("err", berr))
			continue
		}
		f.log.Info("recovered from backup",
			slog.String("path", path),
			slog.Int("appointments", len(snap.Appointments)),
		)
		return snap, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrUnrecoverable, err)
}

// SaveAtomic persists the snapshot durably. The current primary is first
// rotated into a backup slot, then the new snapshot is written to a temp file
// in the same directory, fsynced, and renamed over the primary. A reader of
// the primary file therefore always sees either the old or the new complete
// snapshot, never a mix.
func (f *Files) SaveAtomic(s *Snapshot) error {
	s.Version = FormatVersion
	s.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return &WriteError{Path: f.primaryPath(), Err: err}
	}

	if err := f.rotateBackup(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, primaryName+".*.tmp")
	if err != nil {
		return &WriteError{Path: f.primaryPath(), Err: err}
	}
	tmpPath := tmp.Name()
	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpPath)
		return &WriteError{Path: f.primaryPath(), Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &WriteError{Path: f.primaryPath(), Err: err}
	}
	if err := os.Rename(tmpPath, f.primaryPath()); err != nil {
		os.Remove(tmpPath)
		return &WriteError{Path: f.primaryPath(), Err: err}
	}
	f.syncDir()

	f.log.Debug("snapshot saved",
		slog.String("path", f.primaryPath()),
		slog.Int("bytes", len(data)),
		slog.Int("appointments", len(s.Appointments)),
	)
	return nil
}

// rotateBackup copies the current primary into a timestamped backup and
// prunes backups beyond the retention count. A missing primary (first save)
// is not an error.
func (f *Files) rotateBackup() error {
	data, err := os.ReadFile(f.primaryPath())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &WriteError{Path: f.primaryPath(), Err: err}
	}

	name := backupPrefix + time.Now().UTC().Format("20060102T150405.000000000") + backupSuffix
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	backups := f.listBackups()
	for i := f.retain; i < len(backups); i++ {
		stale := filepath.Join(f.dir, backups[i])
		if err := os.Remove(stale); err != nil {
			f.log.Warn("failed to prune old backup", slog.String("path", stale), slog.Any("err", err))
		}
	}
	return nil
}

// listBackups returns backup file names, newest first. The timestamp in the
// name encodes rotation order.
func (f *Files) listBackups() []string {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, backupPrefix) && strings.HasSuffix(name, backupSuffix) {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names
}

func (f *Files) syncDir() {
	d, err := os.Open(f.dir)
	if err != nil {
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		f.log.Warn("data dir fsync failed", slog.Any("err", err))
	}
}

func readFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, &CorruptError{Path: path, Err: err}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	if err := snap.validate(); err != nil {
		return nil, &CorruptError{Path: path, Err: err}
	}
	return &snap, nil
}
