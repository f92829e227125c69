package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/btsink-go/cmd/authors"
	"github.com/tphakala/btsink-go/cmd/bench"
	"github.com/tphakala/btsink-go/cmd/license"
	"github.com/tphakala/btsink-go/cmd/notify"
	"github.com/tphakala/btsink-go/cmd/process"
	"github.com/tphakala/btsink-go/cmd/serve"
	"github.com/tphakala/btsink-go/cmd/support"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "btsink",
		Short:   "Bluetooth audio sink engine",
		Version: settings.Version,
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	// Add sub-commands to the root command.
	serveCmd := serve.Command(settings)
	processCmd := process.Command(settings)
	benchCmd := bench.Command(settings)
	notifyCmd := notify.Command(settings)
	supportCmd := support.Command(settings)
	authorsCmd := authors.Command()
	licenseCmd := license.Command()

	subcommands := []*cobra.Command{
		serveCmd,
		processCmd,
		benchCmd,
		notifyCmd,
		supportCmd,
		authorsCmd,
		licenseCmd,
	}

	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Meta commands run without touching configuration state.
		if cmd.Name() == authorsCmd.Name() || cmd.Name() == licenseCmd.Name() {
			return nil
		}
		if settings.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
		return nil
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Main.Name, "name", viper.GetString("main.name"), "Node name, used as the MQTT client id and in notifications")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
