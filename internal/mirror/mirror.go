package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BadgerOps/regmirror/internal/config"
	"github.com/BadgerOps/regmirror/internal/download"
	"github.com/BadgerOps/regmirror/internal/engine"
	"github.com/BadgerOps/regmirror/internal/manifest"
	"github.com/BadgerOps/regmirror/internal/safety"
	"github.com/BadgerOps/regmirror/internal/state"
)

// Mirrorer runs the acquire/verify/publish pipeline for manifest entries,
// coordinating with sibling processes through the shared marker store.
type Mirrorer struct {
	manifest *manifest.Manifest
	store    state.Store
	engine   engine.Engine
	client   *download.Client
	cfg      *config.Config
	registry string
	logger   *slog.Logger

	// Poll settings for the push-only consumer wait; overridable in tests.
	pushWait time.Duration
	pushPoll time.Duration
}

// New creates a Mirrorer publishing to the given destination registry root.
func New(
	man *manifest.Manifest,
	st state.Store,
	eng engine.Engine,
	client *download.Client,
	cfg *config.Config,
	registry string,
	logger *slog.Logger,
) *Mirrorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirrorer{
		manifest: man,
		store:    st,
		engine:   eng,
		client:   client,
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		pushWait: cfg.PushWaitTimeout(),
		pushPoll: cfg.PushPollInterval(),
	}
}

// acquire materializes the image locally and returns the local reference.
// Images with an archive path are fetched from the artifact server and
// loaded; everything else is pulled straight from the source registry.
func (m *Mirrorer) acquire(ctx context.Context, img manifest.Image) (localRef string, viaArchive bool, err error) {
	if img.Archive != "" {
		ref, err := m.acquireArchive(ctx, img)
		return ref, true, err
	}

	if err := m.engine.Pull(ctx, img.Source); err != nil {
		return "", false, err
	}
	return img.Source, false, nil
}

func (m *Mirrorer) acquireArchive(ctx context.Context, img manifest.Image) (string, error) {
	dest, err := safety.SafeJoinUnder(m.cfg.Artifacts.CacheDir, img.Archive)
	if err != nil {
		return "", fmt.Errorf("invalid archive path: %w", err)
	}

	if m.cfg.Artifacts.BaseURL != "" {
		opts := download.Options{
			URL:        m.cfg.Artifacts.BaseURL + "/" + img.Archive,
			DestPath:   dest,
			RetryCount: m.cfg.Download.RetryCount,
		}
		if _, err := m.client.Download(ctx, opts); err != nil {
			return "", err
		}
	} else if _, err := os.Stat(dest); err != nil {
		return "", fmt.Errorf("archive %s not present locally and no artifact server configured: %w", img.Archive, err)
	}

	refs, err := m.engine.Load(ctx, dest)
	if err != nil {
		return "", err
	}

	// Archive is materialized in the engine now; reclaim the disk space.
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove archive after load", "path", dest, "error", err)
	}

	for _, ref := range refs {
		if ref == img.Source {
			return ref, nil
		}
	}
	// The archive materialized under a different reference. Re-tag it as
	// the manifest source so every later stage, including a push-only
	// consumer in another process, can address the image by img.Source.
	if len(refs) > 0 {
		if err := m.engine.Tag(ctx, refs[0], img.Source); err != nil {
			return "", fmt.Errorf("tagging loaded image %s as %s: %w", refs[0], img.Source, err)
		}
	}
	return img.Source, nil
}

// verify compares the local image digest against the manifest expectation.
// An empty expected digest skips verification entirely. An unobtainable
// actual digest soft-passes for archive-loaded images (load strips repo
// digests on some engines) but hard-fails for pulled images, where a
// missing digest means the pull did not record what the registry served.
func (m *Mirrorer) verify(ctx context.Context, img manifest.Image, localRef string, viaArchive bool) error {
	if img.Digest == "" {
		return nil
	}

	actual, err := m.engine.InspectDigest(ctx, localRef)
	if err != nil || actual == "" {
		if viaArchive {
			m.logger.Warn("digest unavailable for archive-loaded image, accepting",
				"image", img.Destination, "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("unable to determine digest for %s: %w", localRef, err)
		}
		return fmt.Errorf("no digest recorded for %s", localRef)
	}

	if actual != img.Digest {
		return fmt.Errorf("digest mismatch for %s: got %s, expected %s", img.Destination, actual, img.Digest)
	}
	return nil
}

// publish tags the image under the destination registry when needed,
// pushes it, and eagerly removes the local copies to bound disk usage.
func (m *Mirrorer) publish(ctx context.Context, img manifest.Image, localRef string) error {
	destRef := img.DestinationRef(m.registry)

	tagged := false
	if img.ExplicitTag || localRef != destRef {
		if err := m.engine.Tag(ctx, localRef, destRef); err != nil {
			return err
		}
		tagged = true
	}

	if err := m.engine.Push(ctx, destRef); err != nil {
		return err
	}

	if err := m.engine.Remove(ctx, destRef); err != nil {
		m.logger.Warn("failed to remove pushed image", "ref", destRef, "error", err)
	}
	if tagged && localRef != destRef {
		if err := m.engine.Remove(ctx, localRef); err != nil {
			m.logger.Warn("failed to remove source image", "ref", localRef, "error", err)
		}
	}
	return nil
}

// removeLocal discards a local image after a failed pipeline, ignoring
// engine errors: the image may not have fully materialized.
func (m *Mirrorer) removeLocal(ctx context.Context, localRef string) {
	if localRef == "" {
		return
	}
	if err := m.engine.Remove(ctx, localRef); err != nil {
		m.logger.Debug("local image cleanup failed", "ref", localRef, "error", err)
	}
}

// packageReady reports whether the image's owning package (if any) has
// finished loading. Member images may not leave absent before that.
func (m *Mirrorer) packageReady(img manifest.Image) (bool, error) {
	pkg := m.manifest.PackageFor(img)
	if pkg == nil {
		return true, nil
	}
	st, err := m.store.Read(pkg.MarkerKey())
	if err != nil {
		return false, err
	}
	return st == state.Done, nil
}
