package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// The two supported engines expose the repo digest through different
// inspect output shapes, so each gets its own format string.
const (
	dockerDigestFormat = "{{index .RepoDigests 0}}"
	podmanDigestFormat = "{{.Digest}}"
)

// autoOrder is the probe order when no engine preference is configured.
var autoOrder = []string{"podman", "docker"}

// runCommandFunc runs a CLI command and returns its combined output.
// Overridable in tests.
type runCommandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CLI shells out to a container engine binary.
type CLI struct {
	binary       string
	digestFormat string
	logger       *slog.Logger
	run          runCommandFunc
}

var _ Engine = (*CLI)(nil)

// Detect selects an engine implementation at startup. preference is
// "docker", "podman", or "auto"/"" to probe PATH in order.
func Detect(preference string, logger *slog.Logger) (*CLI, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch preference {
	case "", "auto":
		for _, name := range autoOrder {
			if _, err := exec.LookPath(name); err == nil {
				return newCLI(name, logger)
			}
		}
		return nil, fmt.Errorf("no container engine found in PATH (tried %s)", strings.Join(autoOrder, ", "))
	case "docker", "podman":
		if _, err := exec.LookPath(preference); err != nil {
			return nil, fmt.Errorf("container engine %q not found in PATH: %w", preference, err)
		}
		return newCLI(preference, logger)
	default:
		return nil, fmt.Errorf("unsupported container engine %q", preference)
	}
}

func newCLI(binary string, logger *slog.Logger) (*CLI, error) {
	format := podmanDigestFormat
	if binary == "docker" {
		format = dockerDigestFormat
	}
	logger.Debug("container engine selected", "engine", binary)
	return &CLI{
		binary:       binary,
		digestFormat: format,
		logger:       logger,
		run:          runCommand,
	}, nil
}

func (c *CLI) Name() string {
	return c.binary
}

func (c *CLI) Pull(ctx context.Context, ref string) error {
	out, err := c.run(ctx, c.binary, "pull", ref)
	if err != nil {
		return fmt.Errorf("%s pull %s: %w: %s", c.binary, ref, err, firstLine(out))
	}
	return nil
}

func (c *CLI) Load(ctx context.Context, archivePath string) ([]string, error) {
	out, err := c.run(ctx, c.binary, "load", "-i", archivePath)
	if err != nil {
		return nil, fmt.Errorf("%s load %s: %w: %s", c.binary, archivePath, err, firstLine(out))
	}
	return parseLoadedRefs(out), nil
}

func (c *CLI) InspectDigest(ctx context.Context, ref string) (string, error) {
	out, err := c.run(ctx, c.binary, "image", "inspect", "--format", c.digestFormat, ref)
	if err != nil {
		return "", fmt.Errorf("%s inspect %s: %w: %s", c.binary, ref, err, firstLine(out))
	}
	digest := strings.TrimSpace(string(out))
	// docker's RepoDigests entries are "repo@sha256:..."; podman's
	// .Digest is the bare digest.
	if i := strings.LastIndex(digest, "@"); i >= 0 {
		digest = digest[i+1:]
	}
	if digest == "<no value>" {
		digest = ""
	}
	return digest, nil
}

func (c *CLI) Tag(ctx context.Context, src, dst string) error {
	out, err := c.run(ctx, c.binary, "tag", src, dst)
	if err != nil {
		return fmt.Errorf("%s tag %s %s: %w: %s", c.binary, src, dst, err, firstLine(out))
	}
	return nil
}

func (c *CLI) Push(ctx context.Context, ref string) error {
	out, err := c.run(ctx, c.binary, "push", ref)
	if err != nil {
		return fmt.Errorf("%s push %s: %w: %s", c.binary, ref, err, firstLine(out))
	}
	return nil
}

func (c *CLI) Remove(ctx context.Context, ref string) error {
	out, err := c.run(ctx, c.binary, "rmi", ref)
	if err != nil {
		return fmt.Errorf("%s rmi %s: %w: %s", c.binary, ref, err, firstLine(out))
	}
	return nil
}

// parseLoadedRefs extracts image references from engine load output lines
// like "Loaded image: quay.example.com/app/api:v1".
func parseLoadedRefs(out []byte) []string {
	var refs []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		for _, prefix := range []string{"Loaded image:", "Loaded image(s):"} {
			if rest, ok := strings.CutPrefix(line, prefix); ok {
				for _, ref := range strings.Split(rest, ",") {
					if ref = strings.TrimSpace(ref); ref != "" {
						refs = append(refs, ref)
					}
				}
			}
		}
	}
	return refs
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
