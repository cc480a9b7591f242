package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/regmirror/internal/manifest"
	"github.com/BadgerOps/regmirror/internal/state"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [destination-registry[/path]]",
		Short: "Show marker state for a mirror run",
		Long: `Show the per-image marker state recorded in the shared state directory
for a destination registry. Useful for checking how far a set of
cooperating mirror processes has progressed and which images failed.`,
		Example: `  regmirror status
  regmirror status registry.example.com:5000/mirror`,
		Args: cobra.MaximumNArgs(1),
		RunE: statusRun,
	}
	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	registry := globalCfg.Registry.Endpoint
	if len(args) > 0 && args[0] != "" {
		registry = args[0]
	}
	registry = normalizeRegistry(registry)

	// Read-only: never create the state directory as a side effect.
	store := state.OpenFileStore(globalCfg.StateDirFor(registry), logger)

	states, err := store.States()
	if err != nil {
		return fmt.Errorf("failed to read markers: %w", err)
	}

	man, err := manifest.Load(globalCfg.Manifest)
	if err != nil {
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	counts := make(map[state.State]int)
	done := 0
	fmt.Printf("Registry:  %s\n", registry)
	fmt.Printf("State dir: %s\n\n", store.Dir())

	for _, img := range man.Images {
		st, ok := states[img.MarkerKey()]
		if !ok {
			st = state.Absent
		}
		counts[st]++
		if st == state.Done {
			done++
		}
		if !quiet {
			fmt.Printf("  %-60s %s\n", img.Destination, st.String())
		}
	}
	for _, pkg := range man.Packages {
		st, ok := states[pkg.MarkerKey()]
		if !ok {
			st = state.Absent
		}
		if !quiet {
			fmt.Printf("  %-60s %s (package)\n", pkg.Archive, st.String())
		}
	}

	fmt.Printf("\n%d/%d images done\n", done, len(man.Images))
	for _, st := range []state.State{state.Started, state.Downloaded, state.Pushing, state.DownloadFailed, state.LoadFailed} {
		if n := counts[st]; n > 0 {
			fmt.Printf("  %-16s %d\n", st.String()+":", n)
		}
	}
	return nil
}
