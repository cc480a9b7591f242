package mirror

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Mode selects which handler the driver dispatches per manifest entry.
type Mode string

const (
	// ModeMirror is the combined pull+push pipeline, the default.
	ModeMirror Mode = "mirror"
	// ModePull only acquires and verifies, leaving downloaded markers.
	ModePull Mode = "pull"
	// ModePush only publishes images a producer already downloaded.
	ModePush Mode = "push"
	// ModePackage acquires and loads package archives.
	ModePackage Mode = "package"
	// ModeMark marks a loaded package's members as downloaded.
	ModeMark Mode = "mark"
)

// ParseMode resolves a command-line mode argument. Empty selects the
// combined default.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "mirror", "combined":
		return ModeMirror, nil
	case "pull", "download":
		return ModePull, nil
	case "push":
		return ModePush, nil
	case "package":
		return ModePackage, nil
	case "mark":
		return ModeMark, nil
	}
	return "", fmt.Errorf("unknown mode %q (expected mirror, pull, push, package, or mark)", s)
}

// Summary is the end-of-run accounting for one invocation.
type Summary struct {
	Mode  Mode
	Total int
	Counters
	StateRemoved bool
}

// Err returns the error the command should exit with: nil when this
// invocation saw no failures, otherwise a mode-specific remediation.
func (s *Summary) Err() error {
	if s.Errors == 0 {
		return nil
	}
	switch s.Mode {
	case ModePull:
		return fmt.Errorf("%d download(s) failed, re-run pull mode; completed downloads are skipped", s.Errors)
	case ModePush:
		return fmt.Errorf("%d push(es) failed; re-run push mode once the downloads are available", s.Errors)
	case ModePackage, ModeMark:
		return fmt.Errorf("%d package(s) failed, re-run the tool; completed packages are skipped", s.Errors)
	default:
		return fmt.Errorf("%d image(s) failed, re-run the tool; completed images are skipped", s.Errors)
	}
}

// Runner iterates the manifest in input order and folds handler results
// into the run summary. Per-entry failures never stop the iteration; only
// an interrupt does.
type Runner struct {
	mirrorer *Mirrorer
	out      io.Writer
	logger   *slog.Logger
}

// NewRunner creates a Runner writing progress lines to out.
func NewRunner(m *Mirrorer, out io.Writer, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{mirrorer: m, out: out, logger: logger}
}

// Run processes every manifest entry for the given mode and returns the
// summary. A context cancellation aborts the run early; the in-flight
// handler has already reset its marker by the time Run returns, and no
// summary is printed.
func (r *Runner) Run(ctx context.Context, mode Mode) (*Summary, error) {
	switch mode {
	case ModePackage, ModeMark:
		return r.runPackages(ctx, mode)
	default:
		return r.runImages(ctx, mode)
	}
}

func (r *Runner) runImages(ctx context.Context, mode Mode) (*Summary, error) {
	images := r.mirrorer.manifest.Images
	sum := &Summary{Mode: mode, Total: len(images)}

	for _, img := range images {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		sizeNote := ""
		if img.Size != "" {
			sizeNote = " (" + img.Size + ")"
		}
		fmt.Fprintf(r.out, "[%d/%d] %s%s\n", img.Index, sum.Total, img.Destination, sizeNote)

		var res Result
		switch mode {
		case ModePull:
			res = r.mirrorer.PullImage(ctx, img)
		case ModePush:
			res = r.mirrorer.PushImage(ctx, img)
		default:
			res = r.mirrorer.MirrorImage(ctx, img)
		}

		if ctx.Err() != nil && res.Outcome == OutcomeFailed {
			return sum, ctx.Err()
		}

		sum.Apply(res)
		r.report(img.Destination, res)
	}

	// Terminal cleanup: every image accounted for means the markers have
	// served their purpose. Pull mode is excluded — its completions are
	// downloads, and the markers must survive for the pushing process.
	if mode != ModePull && sum.Completed == sum.Total {
		if err := r.mirrorer.store.RemoveAll(); err != nil {
			r.logger.Warn("failed to remove state directory", "error", err)
		} else {
			sum.StateRemoved = true
		}
	}

	r.printSummary(sum)
	return sum, nil
}

func (r *Runner) runPackages(ctx context.Context, mode Mode) (*Summary, error) {
	packages := r.mirrorer.manifest.Packages
	sum := &Summary{Mode: mode, Total: len(packages)}

	for i, pkg := range packages {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}

		fmt.Fprintf(r.out, "[%d/%d] %s\n", i+1, sum.Total, pkg.Archive)

		var res Result
		if mode == ModeMark {
			res = r.mirrorer.MarkPackage(ctx, pkg)
		} else {
			res = r.mirrorer.AcquirePackage(ctx, pkg)
		}

		if ctx.Err() != nil && res.Outcome == OutcomeFailed {
			return sum, ctx.Err()
		}

		sum.Apply(res)
		r.report(pkg.Archive, res)
	}

	r.printSummary(sum)
	return sum, nil
}

func (r *Runner) report(name string, res Result) {
	switch res.Outcome {
	case OutcomeCompleted:
		fmt.Fprintf(r.out, "  done\n")
	case OutcomeAlreadyDone:
		fmt.Fprintf(r.out, "  already processed\n")
	case OutcomeSkipped:
		fmt.Fprintf(r.out, "  in progress elsewhere, skipping\n")
	case OutcomeFailed:
		fmt.Fprintf(r.out, "  FAILED: %s: %v\n", res.Reason, res.Err)
		r.logger.Error("entry failed", "name", name, "category", res.Reason, "error", res.Err)
	}
}

func (r *Runner) printSummary(sum *Summary) {
	fmt.Fprintf(r.out, "\n%d/%d completed", sum.Completed, sum.Total)
	if sum.Errors > 0 {
		fmt.Fprintf(r.out, ", %d error(s)", sum.Errors)
	}
	if sum.StateRemoved {
		fmt.Fprintf(r.out, "; all done, state directory removed")
	} else if sum.Errors == 0 && sum.Completed < sum.Total {
		fmt.Fprintf(r.out, "; remaining items are being processed elsewhere")
	}
	fmt.Fprintln(r.out)
}
