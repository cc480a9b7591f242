package engine

import "context"

// Engine abstracts the container engine CLI behind the operations the
// mirror pipeline needs. Implementations report failure through the
// underlying command's exit status; output is only parsed where a value is
// needed (load, inspect).
type Engine interface {
	// Name identifies the engine ("docker", "podman").
	Name() string

	// Pull fetches ref from its source registry.
	Pull(ctx context.Context, ref string) error

	// Load imports an image archive and returns the references it
	// materialized, when the engine reports them.
	Load(ctx context.Context, archivePath string) ([]string, error)

	// InspectDigest returns the content digest of a local image, or ""
	// when the engine has no digest recorded for it.
	InspectDigest(ctx context.Context, ref string) (string, error)

	// Tag creates an additional local reference for an image.
	Tag(ctx context.Context, src, dst string) error

	// Push uploads ref to its registry.
	Push(ctx context.Context, ref string) error

	// Remove deletes a local image reference to reclaim disk space.
	Remove(ctx context.Context, ref string) error
}
