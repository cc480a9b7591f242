package state

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
)

// Store persists per-key progress markers shared between cooperating
// processes. Keys must already be filesystem-safe (see Image.MarkerKey).
type Store interface {
	// Read returns the current state for key. A missing marker is Absent.
	Read(key string) (State, error)

	// Write overwrites the marker for key.
	Write(key string, s State) error

	// Delete removes the marker for key, returning it to Absent.
	// Deleting an absent marker is not an error.
	Delete(key string) error

	// Transition atomically moves key from one state to another. It
	// returns false and the observed state when the marker was not in
	// the expected state, which means another process got there first.
	Transition(key string, from, to State) (bool, State, error)

	// States returns a snapshot of all markers.
	States() (map[string]State, error)

	// RemoveAll deletes the entire state directory. Called only when a
	// run completes the whole manifest.
	RemoveAll() error
}

// FileStore is the default Store: one marker file per key in a shared
// directory. Marker reads and writes are whole-file operations; Transition
// additionally holds an advisory flock so two cooperating processes on the
// same filesystem cannot both claim the same marker. The lock narrows the
// read-then-write race window, it does not make the protocol mutually
// exclusive against processes that skip it.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the state directory if needed and returns a store
// over it.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return OpenFileStore(dir, logger), nil
}

// OpenFileStore returns a store over dir without creating it. Read-only
// callers use this so inspecting a finished run does not resurrect an
// empty state directory; a missing dir reads as an empty snapshot.
func OpenFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{dir: dir, logger: logger}
}

// Dir returns the state directory path.
func (fs *FileStore) Dir() string {
	return fs.dir
}

func (fs *FileStore) markerPath(key string) string {
	return filepath.Join(fs.dir, key)
}

func (fs *FileStore) Read(key string) (State, error) {
	data, err := os.ReadFile(fs.markerPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Absent, nil
		}
		return Absent, fmt.Errorf("reading marker %s: %w", key, err)
	}
	s, err := Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return Absent, fmt.Errorf("marker %s: %w", key, err)
	}
	return s, nil
}

func (fs *FileStore) Write(key string, s State) error {
	token, err := s.Token()
	if err != nil {
		return err
	}
	if err := os.WriteFile(fs.markerPath(key), []byte(token+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing marker %s: %w", key, err)
	}
	fs.logger.Debug("marker written", "key", key, "state", s.String())
	return nil
}

func (fs *FileStore) Delete(key string) error {
	if err := os.Remove(fs.markerPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting marker %s: %w", key, err)
	}
	return nil
}

func (fs *FileStore) Transition(key string, from, to State) (bool, State, error) {
	fl := flock.New(fs.markerPath(key) + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return false, Absent, fmt.Errorf("locking marker %s: %w", key, err)
	}
	if !locked {
		// Another process holds the marker right now; report its
		// last persisted state and let the caller skip.
		observed, rerr := fs.Read(key)
		return false, observed, rerr
	}
	defer func() {
		_ = fl.Unlock()
	}()

	observed, err := fs.Read(key)
	if err != nil {
		return false, Absent, err
	}
	if observed != from {
		return false, observed, nil
	}
	if err := fs.Write(key, to); err != nil {
		return false, observed, err
	}
	return true, to, nil
}

func (fs *FileStore) States() (map[string]State, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]State{}, nil
		}
		return nil, fmt.Errorf("listing state directory: %w", err)
	}

	states := make(map[string]State, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		s, err := fs.Read(e.Name())
		if err != nil {
			fs.logger.Warn("skipping unreadable marker", "key", e.Name(), "error", err)
			continue
		}
		states[e.Name()] = s
	}
	return states, nil
}

func (fs *FileStore) RemoveAll() error {
	if err := os.RemoveAll(fs.dir); err != nil {
		return fmt.Errorf("removing state directory: %w", err)
	}
	fs.logger.Info("state directory removed", "dir", fs.dir)
	return nil
}

// SortedKeys returns marker keys in stable order, for display.
func SortedKeys(states map[string]State) []string {
	keys := make([]string, 0, len(states))
	for k := range states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
