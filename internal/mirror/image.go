package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/BadgerOps/regmirror/internal/manifest"
	"github.com/BadgerOps/regmirror/internal/state"
)

// MirrorImage runs the combined acquire+verify+publish pipeline for one
// image. The downloaded state is never persisted in this mode: a failure
// anywhere before done deletes the marker so the next invocation retries
// the whole pipeline.
func (m *Mirrorer) MirrorImage(ctx context.Context, img manifest.Image) Result {
	key := img.MarkerKey()

	st, err := m.store.Read(key)
	if err != nil {
		return failed(ReasonState, err)
	}
	switch st {
	case state.Done:
		m.logger.Info("image already processed", "image", img.Destination)
		return alreadyDone()
	case state.DownloadFailed, state.LoadFailed:
		return failed(ReasonDownload, fmt.Errorf(
			"marker for %s records an earlier failure; remove it to retry", img.Destination))
	case state.Absent:
		// proceed
	default:
		m.logger.Info("image handled by another process", "image", img.Destination, "state", st.String())
		return skipped()
	}

	if ready, err := m.packageReady(img); err != nil {
		return failed(ReasonState, err)
	} else if !ready {
		m.logger.Info("package not loaded yet, skipping member image", "image", img.Destination)
		return skipped()
	}

	claimed, observed, err := m.store.Transition(key, state.Absent, state.Started)
	if err != nil {
		return failed(ReasonState, err)
	}
	if !claimed {
		if observed == state.Done {
			return alreadyDone()
		}
		return skipped()
	}

	localRef, viaArchive, err := m.acquire(ctx, img)
	if err != nil {
		// Marker goes back to absent so the acquire is retried next run.
		_ = m.store.Delete(key)
		if ctx.Err() != nil {
			return failed("interrupted", err)
		}
		if viaArchive {
			return failed(ReasonDownload, err)
		}
		return failed(ReasonPull, err)
	}

	if err := m.verify(ctx, img, localRef, viaArchive); err != nil {
		m.removeLocal(ctx, localRef)
		if ctx.Err() != nil {
			_ = m.store.Delete(key)
			return failed("interrupted", err)
		}
		// A wrong artifact will not self-correct on reattempt; stay failed
		// until an operator intervenes.
		_ = m.store.Write(key, state.DownloadFailed)
		return failed(ReasonDigest, err)
	}

	if err := m.publish(ctx, img, localRef); err != nil {
		_ = m.store.Delete(key)
		if ctx.Err() != nil {
			return failed("interrupted", err)
		}
		return failed(ReasonPush, err)
	}

	if err := m.store.Write(key, state.Done); err != nil {
		return failed(ReasonState, err)
	}
	return completed()
}

// PullImage is the producer half of split mode: acquire and verify, then
// persist downloaded for a push-only consumer. The local image is kept.
func (m *Mirrorer) PullImage(ctx context.Context, img manifest.Image) Result {
	key := img.MarkerKey()

	st, err := m.store.Read(key)
	if err != nil {
		return failed(ReasonState, err)
	}
	switch st {
	case state.Done:
		return alreadyDone()
	case state.Absent, state.DownloadFailed, state.LoadFailed:
		// Failed acquisitions are retry-eligible in split mode; a digest
		// mismatch will simply fail again with the same diagnostic.
	default:
		m.logger.Info("image handled by another process", "image", img.Destination, "state", st.String())
		return skipped()
	}

	if ready, err := m.packageReady(img); err != nil {
		return failed(ReasonState, err)
	} else if !ready {
		m.logger.Info("package not loaded yet, skipping member image", "image", img.Destination)
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

	localRef, viaArchive, err := m.acquire(ctx, img)
	if err != nil {
		if ctx.Err() != nil {
			_ = m.store.Delete(key)
			return failed("interrupted", err)
		}
		_ = m.store.Write(key, state.DownloadFailed)
		if viaArchive {
			return failed(ReasonDownload, err)
		}
		return failed(ReasonPull, err)
	}

	if err := m.verify(ctx, img, localRef, viaArchive); err != nil {
		m.removeLocal(ctx, localRef)
		if ctx.Err() != nil {
			_ = m.store.Delete(key)
			return failed("interrupted", err)
		}
		_ = m.store.Write(key, state.DownloadFailed)
		return failed(ReasonDigest, err)
	}

	if err := m.store.Write(key, state.Downloaded); err != nil {
		return failed(ReasonState, err)
	}
	return completed()
}

// PushImage is the consumer half of split mode. It polls the marker until a
// producer signals downloaded (or a terminal/failed state), claims the work
// by writing pushing, and publishes. The wait is bounded; a producer that
// never shows up is an error, not a hang.
func (m *Mirrorer) PushImage(ctx context.Context, img manifest.Image) Result {
	key := img.MarkerKey()
	deadline := time.Now().Add(m.pushWait)

	for {
		st, err := m.store.Read(key)
		if err != nil {
			return failed(ReasonState, err)
		}

		switch st {
		case state.Done:
			return alreadyDone()

		case state.DownloadFailed, state.LoadFailed:
			return failed(ReasonUpstream, fmt.Errorf(
				"producer recorded %q for %s; fix the download before pushing", st.String(), img.Destination))

		case state.Pushing:
			m.logger.Info("image being pushed by another process", "image", img.Destination)
			return skipped()

		case state.Downloaded:
			claimed, observed, err := m.store.Transition(key, state.Downloaded, state.Pushing)
			if err != nil {
				return failed(ReasonState, err)
			}
			if !claimed {
				switch observed {
				case state.Done:
					return alreadyDone()
				case state.Pushing:
					return skipped()
				}
				continue
			}

			if err := m.publish(ctx, img, img.Source); err != nil {
				// Revert so a later invocation retries only the push.
				_ = m.store.Write(key, state.Downloaded)
				if ctx.Err() != nil {
					return failed("interrupted", err)
				}
				return failed(ReasonPush, err)
			}
			if err := m.store.Write(key, state.Done); err != nil {
				return failed(ReasonState, err)
			}
			return completed()

		default: // absent, started: producer not finished yet
			if time.Now().After(deadline) {
				return failed(ReasonTimeout, fmt.Errorf(
					"no download appeared for %s within %s", img.Destination, m.pushWait))
			}
			select {
			case <-ctx.Done():
				return failed("interrupted", ctx.Err())
			case <-time.After(m.pushPoll):
			}
		}
	}
}
