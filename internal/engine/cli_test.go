package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"
)

// stubCLI returns a CLI whose run function records invocations and replays
// canned output.
func stubCLI(binary string, out []byte, runErr error) (*CLI, *[][]string) {
	var calls [][]string
	c := &CLI{
		binary:       binary,
		digestFormat: podmanDigestFormat,
		logger:       slog.New(slog.NewTextHandler(os.Stderr, nil)),
		run: func(_ context.Context, name string, args ...string) ([]byte, error) {
			calls = append(calls, append([]string{name}, args...))
			return out, runErr
		},
	}
	if binary == "docker" {
		c.digestFormat = dockerDigestFormat
	}
	return c, &calls
}

func TestPullBuildsCommand(t *testing.T) {
	c, calls := stubCLI("podman", nil, nil)

	if err := c.Pull(context.Background(), "quay.io/app/api:v1"); err != nil {
		t.Fatalf("Pull: %v", err)
	}
	want := []string{"podman", "pull", "quay.io/app/api:v1"}
	if !reflect.DeepEqual((*calls)[0], want) {
		t.Fatalf("expected %v, got %v", want, (*calls)[0])
	}
}

func TestPullErrorIncludesOutput(t *testing.T) {
	c, _ := stubCLI("docker", []byte("Error: manifest unknown\nsecond line"), errors.New("exit status 1"))

	err := c.Pull(context.Background(), "quay.io/app/api:v1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "manifest unknown") {
		t.Fatalf("expected first output line in error, got %v", err)
	}
	if strings.Contains(err.Error(), "second line") {
		t.Fatalf("expected only the first output line, got %v", err)
	}
}

func TestInspectDigestDocker(t *testing.T) {
	// docker's RepoDigests entries carry the repo prefix.
	c, calls := stubCLI("docker", []byte("quay.io/app/api@sha256:abc123\n"), nil)

	got, err := c.InspectDigest(context.Background(), "quay.io/app/api:v1")
	if err != nil {
		t.Fatalf("InspectDigest: %v", err)
	}
	if got != "sha256:abc123" {
		t.Fatalf("expected bare digest, got %q", got)
	}

	want := []string{"docker", "image", "inspect", "--format", dockerDigestFormat, "quay.io/app/api:v1"}
	if !reflect.DeepEqual((*calls)[0], want) {
		t.Fatalf("expected %v, got %v", want, (*calls)[0])
	}
}

func TestInspectDigestPodman(t *testing.T) {
	c, calls := stubCLI("podman", []byte("sha256:abc123\n"), nil)

	got, err := c.InspectDigest(context.Background(), "quay.io/app/api:v1")
	if err != nil {
		t.Fatalf("InspectDigest: %v", err)
	}
	if got != "sha256:abc123" {
		t.Fatalf("expected bare digest, got %q", got)
	}
	if (*calls)[0][4] != podmanDigestFormat {
		t.Fatalf("expected podman digest format, got %q", (*calls)[0][4])
	}
}

func TestInspectDigestNoValue(t *testing.T) {
	// Images loaded from archives have no repo digest; docker prints the
	// template miss marker.
	c, _ := stubCLI("docker", []byte("<no value>\n"), nil)

	got, err := c.InspectDigest(context.Background(), "quay.io/app/api:v1")
	if err != nil {
		t.Fatalf("InspectDigest: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty digest, got %q", got)
	}
}

func TestLoadParsesRefs(t *testing.T) {
	out := []byte("Getting image source signatures\nLoaded image: quay.io/app/api:v1\nLoaded image(s): quay.io/app/web:v1, quay.io/app/db:v1\n")
	c, calls := stubCLI("podman", out, nil)

	refs, err := c.Load(context.Background(), "/tmp/bundle.tar")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"quay.io/app/api:v1", "quay.io/app/web:v1", "quay.io/app/db:v1"}
	if !reflect.DeepEqual(refs, want) {
		t.Fatalf("expected %v, got %v", want, refs)
	}

	wantCmd := []string{"podman", "load", "-i", "/tmp/bundle.tar"}
	if !reflect.DeepEqual((*calls)[0], wantCmd) {
		t.Fatalf("expected %v, got %v", wantCmd, (*calls)[0])
	}
}

func TestTagPushRemoveCommands(t *testing.T) {
	c, calls := stubCLI("docker", nil, nil)
	ctx := context.Background()

	if err := c.Tag(ctx, "quay.io/app/api:v1", "registry.local:5000/app/api:v1"); err != nil {
		t.Fatalf("Tag: %v", err)
	}
	if err := c.Push(ctx, "registry.local:5000/app/api:v1"); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := c.Remove(ctx, "registry.local:5000/app/api:v1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	want := [][]string{
		{"docker", "tag", "quay.io/app/api:v1", "registry.local:5000/app/api:v1"},
		{"docker", "push", "registry.local:5000/app/api:v1"},
		{"docker", "rmi", "registry.local:5000/app/api:v1"},
	}
	if !reflect.DeepEqual(*calls, want) {
		t.Fatalf("expected %v, got %v", want, *calls)
	}
}

func TestDetectUnsupportedEngine(t *testing.T) {
	if _, err := Detect("rkt", nil); err == nil {
		t.Fatal("expected error for unsupported engine")
	}
}

func TestDetectMissingBinary(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	if _, err := Detect("docker", nil); err == nil {
		t.Fatal("expected error when binary is not in PATH")
	}
	if _, err := Detect("auto", nil); err == nil {
		t.Fatal("expected error when no engine is in PATH")
	}
}

func TestDetectPrefersConfiguredEngine(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"docker", "podman"} {
		path := dir + "/" + name
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755); err != nil {
			t.Fatalf("creating fake binary: %v", err)
		}
	}
	t.Setenv("PATH", dir)

	c, err := Detect("docker", nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if c.Name() != "docker" {
		t.Fatalf("expected docker, got %q", c.Name())
	}
	if c.digestFormat != dockerDigestFormat {
		t.Fatalf("expected docker digest format, got %q", c.digestFormat)
	}

	// Auto probes podman first.
	c, err = Detect("auto", nil)
	if err != nil {
		t.Fatalf("Detect auto: %v", err)
	}
	if c.Name() != "podman" {
		t.Fatalf("expected podman from auto probe, got %q", c.Name())
	}
}

func TestParseLoadedRefsEmpty(t *testing.T) {
	if refs := parseLoadedRefs([]byte("nothing relevant\n")); refs != nil {
		t.Fatalf("expected nil, got %v", refs)
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "one line", want: "one line"},
		{in: "first\nsecond", want: "first"},
		{in: "\n\npadded\n", want: "padded"},
	}
	for _, tt := range tests {
		if got := firstLine([]byte(tt.in)); got != tt.want {
			t.Fatalf("firstLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
