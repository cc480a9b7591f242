package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/regmirror/internal/manifest"
)

var manifestShowImages bool

func newManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Validate and summarize the image manifest",
		Long: `Parse the configured manifest, validate every entry (references,
digests, package membership), and print a summary. Fails with a non-zero
exit code when the manifest is invalid.`,
		Example: `  regmirror manifest
  regmirror manifest --images
  regmirror manifest --manifest ./manifest.yaml`,
		RunE: manifestRun,
	}
	cmd.Flags().BoolVar(&manifestShowImages, "images", false, "list every image entry")
	return cmd
}

func manifestRun(cmd *cobra.Command, args []string) error {
	man, err := manifest.Load(globalCfg.Manifest)
	if err != nil {
		return fmt.Errorf("manifest invalid: %w", err)
	}

	verified := 0
	archived := 0
	for _, img := range man.Images {
		if img.Digest != "" {
			verified++
		}
		if img.Archive != "" {
			archived++
		}
	}

	fmt.Printf("Manifest: %s\n", globalCfg.Manifest)
	fmt.Printf("  Images:    %d (%d with digest, %d archive-based)\n", len(man.Images), verified, archived)
	fmt.Printf("  Packages:  %d\n", len(man.Packages))
	if total := man.TotalSizeBytes(); total > 0 {
		fmt.Printf("  Size hint: %s\n", units.HumanSize(float64(total)))
	}

	if manifestShowImages {
		fmt.Println()
		for _, img := range man.Images {
			note := ""
			if img.Archive != "" {
				note = "  [archive: " + img.Archive + "]"
			}
			fmt.Printf("  [%d] %s -> %s%s\n", img.Index, img.Source, img.Destination, note)
		}
	}

	return nil
}
