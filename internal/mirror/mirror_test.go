package mirror

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BadgerOps/regmirror/internal/config"
	"github.com/BadgerOps/regmirror/internal/download"
	"github.com/BadgerOps/regmirror/internal/engine"
	"github.com/BadgerOps/regmirror/internal/manifest"
	"github.com/BadgerOps/regmirror/internal/state"
)

const testRegistry = "registry.local:5000"

// fakeEngine records every call and replays canned responses. Digest lookups
// return digests[ref] when set, falling back to digest.
type fakeEngine struct {
	mu    sync.Mutex
	calls []string

	pullErr   error
	loadErr   error
	loadRefs  []string
	digest    string
	digests   map[string]string
	digestErr error
	tagErr    error
	pushErr   error
	removeErr error
}

var _ engine.Engine = (*fakeEngine)(nil)

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Pull(_ context.Context, ref string) error {
	f.record("pull " + ref)
	return f.pullErr
}

func (f *fakeEngine) Load(_ context.Context, archivePath string) ([]string, error) {
	f.record("load " + filepath.Base(archivePath))
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.loadRefs, nil
}

func (f *fakeEngine) InspectDigest(_ context.Context, ref string) (string, error) {
	f.record("inspect " + ref)
	if f.digestErr != nil {
		return "", f.digestErr
	}
	if d, ok := f.digests[ref]; ok {
		return d, nil
	}
	return f.digest, nil
}

func (f *fakeEngine) Tag(_ context.Context, src, dst string) error {
	f.record("tag " + src + " " + dst)
	return f.tagErr
}

func (f *fakeEngine) Push(_ context.Context, ref string) error {
	f.record("push " + ref)
	return f.pushErr
}

func (f *fakeEngine) Remove(_ context.Context, ref string) error {
	f.record("rmi " + ref)
	return f.removeErr
}

// callCount returns how many recorded calls start with prefix.
func (f *fakeEngine) callCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeEngine) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadTestManifest(t *testing.T, content string) *manifest.Manifest {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	man, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("loading manifest: %v", err)
	}
	return man
}

// newTestMirrorer wires a Mirrorer over a real file store in a temp
// directory, a fake engine, and short push poll settings.
func newTestMirrorer(t *testing.T, man *manifest.Manifest, eng engine.Engine) (*Mirrorer, *state.FileStore) {
	t.Helper()

	logger := quietLogger()
	store, err := state.NewFileStore(filepath.Join(t.TempDir(), "state"), logger)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Artifacts.CacheDir = t.TempDir()
	cfg.Push.WaitTimeout = "500ms"
	cfg.Push.PollInterval = "10ms"

	m := New(man, store, eng, download.NewClient(logger), cfg, testRegistry, logger)
	return m, store
}

func wantState(t *testing.T, store state.Store, key string, want state.State) {
	t.Helper()
	got, err := store.Read(key)
	if err != nil {
		t.Fatalf("reading marker %s: %v", key, err)
	}
	if got != want {
		t.Fatalf("marker %s = %v, want %v", key, got, want)
	}
}

func wantOutcome(t *testing.T, res Result, want Outcome) {
	t.Helper()
	if res.Outcome != want {
		t.Fatalf("outcome = %v (reason %q, err %v), want %v", res.Outcome, res.Reason, res.Err, want)
	}
}

// shortWait drops the push wait to something a unit test can sit through.
func shortWait(m *Mirrorer, wait, poll time.Duration) {
	m.pushWait = wait
	m.pushPoll = poll
}
