package mirror

import (
	"context"
	"fmt"
	"os"

	"github.com/BadgerOps/regmirror/internal/download"
	"github.com/BadgerOps/regmirror/internal/manifest"
	"github.com/BadgerOps/regmirror/internal/safety"
	"github.com/BadgerOps/regmirror/internal/state"
)

// AcquirePackage downloads a package archive and loads it into the engine.
// The package marker distinguishes "couldn't fetch" (download failed) from
// "fetched but corrupt" (load failed) so operators can tell them apart;
// both are retry-eligible on the next invocation.
func (m *Mirrorer) AcquirePackage(ctx context.Context, pkg manifest.Package) Result {
	key := pkg.MarkerKey()

	st, err := m.store.Read(key)
	if err != nil {
		return failed(ReasonState, err)
	}
	switch st {
	case state.Done:
		m.logger.Info("package already loaded", "archive", pkg.Archive)
		return alreadyDone()
	case state.Absent, state.DownloadFailed, state.LoadFailed:
		// proceed; failed states retry
	default:
		m.logger.Info("package handled by another process", "archive", pkg.Archive, "state", st.String())
		return skipped()
	}

	claimed, observed, err := m.store.Transition(key, st, state.Started)
	if err != nil {
		return failed(ReasonState, err)
	}
	if !claimed {
		if observed == state.Done {
			return alreadyDone()
		}
		return skipped()
	}

	dest, err := safety.SafeJoinUnder(m.cfg.Artifacts.CacheDir, pkg.Archive)
	if err != nil {
		_ = m.store.Delete(key)
		return failed(ReasonDownload, fmt.Errorf("invalid archive path: %w", err))
	}

	url := pkg.URL
	if url == "" && m.cfg.Artifacts.BaseURL != "" {
		url = m.cfg.Artifacts.BaseURL + "/" + pkg.Archive
	}
	if url == "" {
		_ = m.store.Delete(key)
		return failed(ReasonDownload, fmt.Errorf("package %s has no URL and no artifact server is configured", pkg.Archive))
	}

	opts := download.Options{
		URL:              url,
		DestPath:         dest,
		ExpectedChecksum: pkg.Checksum,
		ExpectedSize:     pkg.Size,
		RetryCount:       m.cfg.Download.RetryCount,
	}
	if _, err := m.client.Download(ctx, opts); err != nil {
		if ctx.Err() != nil {
			_ = m.store.Delete(key)
			return failed("interrupted", err)
		}
		// Partial file stays on disk; the next attempt resumes from it.
		_ = m.store.Write(key, state.DownloadFailed)
		return failed(ReasonDownload, err)
	}

	if err := m.store.Write(key, state.Downloaded); err != nil {
		return failed(ReasonState, err)
	}

	if _, err := m.engine.Load(ctx, dest); err != nil {
		if ctx.Err() != nil {
			_ = m.store.Delete(key)
			return failed("interrupted", err)
		}
		_ = m.store.Write(key, state.LoadFailed)
		return failed(ReasonLoad, err)
	}

	if err := m.store.Write(key, state.Done); err != nil {
		return failed(ReasonState, err)
	}

	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("failed to remove archive after load", "path", dest, "error", err)
	}

	m.logger.Info("package loaded", "archive", pkg.Archive, "images", len(pkg.Images))
	return completed()
}

// MarkPackage verifies a loaded package's member images are present in the
// engine and marks each one downloaded, readying them for push-only
// consumers. The package itself must already be done.
func (m *Mirrorer) MarkPackage(ctx context.Context, pkg manifest.Package) Result {
	st, err := m.store.Read(pkg.MarkerKey())
	if err != nil {
		return failed(ReasonState, err)
	}
	if st != state.Done {
		return failed(ReasonLoad, fmt.Errorf(
			"package %s is %q, not loaded; run package mode first", pkg.Archive, st.String()))
	}

	missing := 0
	for _, dest := range pkg.Images {
		img, ok := m.manifest.ImageByDestination(dest)
		if !ok {
			continue
		}

		key := img.MarkerKey()
		ist, err := m.store.Read(key)
		if err != nil {
			return failed(ReasonState, err)
		}
		switch ist {
		case state.Absent, state.DownloadFailed, state.LoadFailed:
			// eligible for marking
		default:
			// done, downloaded, or claimed by a peer; markers only move
			// forward, so leave it alone.
			continue
		}

		if _, err := m.engine.InspectDigest(ctx, img.Source); err != nil {
			m.logger.Error("package member missing from engine", "image", img.Source, "error", err)
			missing++
			continue
		}

		claimed, _, err := m.store.Transition(key, ist, state.Downloaded)
		if err != nil {
			return failed(ReasonState, err)
		}
		if !claimed {
			m.logger.Info("package member taken over by another process", "image", img.Destination)
		}
	}

	if missing > 0 {
		return failed(ReasonLoad, fmt.Errorf(
			"%d member image(s) of %s missing from the engine", missing, pkg.Archive))
	}
	return completed()
}
