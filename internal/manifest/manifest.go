package manifest

import (
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"
	"gopkg.in/yaml.v3"

	"github.com/BadgerOps/regmirror/internal/safety"
)

// Image is one manifest line: a single image to mirror.
type Image struct {
	// Index is the 1-based position in the manifest, used only for
	// progress display.
	Index int `yaml:"-"`

	// Source is the fully qualified source registry/repo/tag.
	Source string `yaml:"source"`

	// Destination is the repo:tag path relative to the destination
	// registry root.
	Destination string `yaml:"destination"`

	// Digest is the expected content digest. Empty skips verification.
	Digest string `yaml:"digest,omitempty"`

	// Size is a human-readable size hint, display-only.
	Size string `yaml:"size,omitempty"`

	// Archive is an optional relative path to a pre-packaged tarball on
	// the artifact server. When set, the image is loaded from the archive
	// instead of pulled.
	Archive string `yaml:"archive,omitempty"`

	// ExplicitTag forces a local tag step before push even when the
	// pulled reference already matches the destination layout.
	ExplicitTag bool `yaml:"explicit_tag,omitempty"`
}

// Package is an archive bundling multiple images, acquired once and
// fanned out to multiple image-level completions.
type Package struct {
	Archive  string   `yaml:"archive"`
	URL      string   `yaml:"url"`
	Checksum string   `yaml:"checksum,omitempty"`
	Size     int64    `yaml:"size,omitempty"`
	Images   []string `yaml:"images"`
}

// Manifest is the static, ordered list of images and packages to mirror.
type Manifest struct {
	Images   []Image   `yaml:"images"`
	Packages []Package `yaml:"packages,omitempty"`

	// packageByDest maps a member image destination to its owning package.
	packageByDest map[string]*Package
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) validate() error {
	if len(m.Images) == 0 {
		return fmt.Errorf("manifest contains no images")
	}

	seen := make(map[string]struct{}, len(m.Images))
	for i := range m.Images {
		img := &m.Images[i]
		img.Index = i + 1
		img.Source = strings.TrimSpace(img.Source)
		img.Destination = strings.Trim(strings.TrimSpace(img.Destination), "/")

		if img.Source == "" {
			return fmt.Errorf("image %d: source is required", img.Index)
		}
		if img.Destination == "" {
			return fmt.Errorf("image %d: destination is required", img.Index)
		}
		if _, ok := seen[img.Destination]; ok {
			return fmt.Errorf("image %d: duplicate destination %q", img.Index, img.Destination)
		}
		seen[img.Destination] = struct{}{}

		if img.Digest != "" {
			if _, err := digest.Parse(img.Digest); err != nil {
				return fmt.Errorf("image %d: invalid digest %q: %w", img.Index, img.Digest, err)
			}
		}
		if img.Archive != "" {
			if _, err := safety.CleanRelativePath(img.Archive); err != nil {
				return fmt.Errorf("image %d: invalid archive path: %w", img.Index, err)
			}
		}
	}

	m.packageByDest = make(map[string]*Package)
	archives := make(map[string]struct{}, len(m.Packages))
	for i := range m.Packages {
		pkg := &m.Packages[i]
		pkg.Archive = strings.TrimSpace(pkg.Archive)
		if pkg.Archive == "" {
			return fmt.Errorf("package %d: archive is required", i+1)
		}
		if _, err := safety.CleanRelativePath(pkg.Archive); err != nil {
			return fmt.Errorf("package %q: invalid archive path: %w", pkg.Archive, err)
		}
		if _, ok := archives[pkg.Archive]; ok {
			return fmt.Errorf("duplicate package archive %q", pkg.Archive)
		}
		archives[pkg.Archive] = struct{}{}

		for _, dest := range pkg.Images {
			dest = strings.Trim(strings.TrimSpace(dest), "/")
			if _, ok := seen[dest]; !ok {
				return fmt.Errorf("package %q: member image %q not in manifest", pkg.Archive, dest)
			}
			if prev, ok := m.packageByDest[dest]; ok {
				return fmt.Errorf("image %q belongs to packages %q and %q", dest, prev.Archive, pkg.Archive)
			}
			m.packageByDest[dest] = pkg
		}
	}

	return nil
}

// PackageFor returns the package bundling the given image, or nil when the
// image is acquired individually.
func (m *Manifest) PackageFor(img Image) *Package {
	if m.packageByDest == nil {
		return nil
	}
	return m.packageByDest[img.Destination]
}

// ImageByDestination returns the image record with the given destination.
func (m *Manifest) ImageByDestination(dest string) (Image, bool) {
	dest = strings.Trim(strings.TrimSpace(dest), "/")
	for _, img := range m.Images {
		if img.Destination == dest {
			return img, true
		}
	}
	return Image{}, false
}

// TotalSizeBytes sums the parseable size hints across all images.
// Hints that fail to parse are skipped; the total is display-only.
func (m *Manifest) TotalSizeBytes() int64 {
	var total int64
	for _, img := range m.Images {
		if img.Size == "" {
			continue
		}
		if n, err := units.FromHumanSize(img.Size); err == nil {
			total += n
		}
	}
	return total
}

// MarkerKey returns the state-store key for this image: the destination
// repo:tag made filesystem-safe.
func (img Image) MarkerKey() string {
	return strings.ReplaceAll(img.Destination, "/", "_")
}

// MarkerKey returns the state-store key for this package. The suffix keeps
// package markers from colliding with image markers.
func (p Package) MarkerKey() string {
	return strings.ReplaceAll(p.Archive, "/", "_") + ".pkg"
}

// DestinationRef returns the fully qualified destination reference for the
// image under the given registry root.
func (img Image) DestinationRef(registry string) string {
	return strings.TrimRight(registry, "/") + "/" + img.Destination
}
