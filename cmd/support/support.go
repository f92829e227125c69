package support

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/diagnostics"
	"github.com/tphakala/btsink-go/internal/support"
	"github.com/tphakala/btsink-go/internal/telemetry"
)

// Command creates the support command that collects a redacted
// diagnostics bundle for troubleshooting.
func Command(settings *conf.Settings) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "support",
		Short: "Collect system diagnostics for troubleshooting",
		Long:  "Collect logs, configuration and system information into a zip archive. Secrets, tokens and device identifiers are scrubbed before archiving.",
		Run: func(cmd *cobra.Command, args []string) {
			if full {
				collectFull()
				return
			}

			fmt.Println("Collecting support data...")

			configPaths, err := conf.GetDefaultConfigPaths()
			if err != nil || len(configPaths) == 0 {
				configPaths = []string{"."}
			}

			systemID := settings.SystemID
			if systemID == "" {
				if id, err := telemetry.LoadOrCreateSystemID(configPaths[0]); err == nil {
					systemID = id
				} else {
					systemID = "unknown"
				}
			}
			version := settings.Version
			if version == "" {
				version = "unknown"
			}

			collector := support.NewCollector(
				configPaths[0],
				".",
				systemID,
				version,
			)

			opts := support.DefaultCollectorOptions()

			ctx := cmd.Context()
			dump, err := collector.Collect(ctx, opts)
			if err != nil {
				fmt.Printf("Error collecting support data: %v\n", err)
				os.Exit(1)
			}

			archiveData, err := collector.CreateArchive(ctx, dump, opts)
			if err != nil {
				fmt.Printf("Error creating archive: %v\n", err)
				os.Exit(1)
			}

			filename := fmt.Sprintf("btsink-support-%s.zip", dump.ID)
			if err := os.WriteFile(filename, archiveData, 0o600); err != nil {
				fmt.Printf("Error saving archive: %v\n", err)
				os.Exit(1)
			}

			fmt.Printf("Support data collected and saved to: %s\n", filename)
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Also capture journald logs, ALSA/PipeWire state and Bluetooth adapter info")

	return cmd
}

// collectFull runs the deep diagnostics collector, which shells out to
// journalctl and the audio stack tools. Its output is scrubbed the same
// way as the standard bundle.
func collectFull() {
	fmt.Println("Collecting full diagnostics, this may take a minute...")

	path, err := diagnostics.CollectDiagnostics()
	if err != nil {
		fmt.Printf("Error collecting diagnostics: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Diagnostics collected and saved to: %s\n", path)
}
