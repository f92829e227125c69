package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/btsink-go/internal/audio"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/datastore"
	"github.com/tphakala/btsink-go/internal/engine"
	"github.com/tphakala/btsink-go/internal/httpcontroller"
	"github.com/tphakala/btsink-go/internal/logging"
	"github.com/tphakala/btsink-go/internal/monitor"
	"github.com/tphakala/btsink-go/internal/mqtt"
	"github.com/tphakala/btsink-go/internal/notify"
	"github.com/tphakala/btsink-go/internal/observability"
	"github.com/tphakala/btsink-go/internal/telemetry"
)

// telemetryFlushTimeout bounds the Sentry queue drain at shutdown.
const telemetryFlushTimeout = 3 * time.Second

// Command creates the serve command that runs the sink engine.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audio sink engine",
		Long:  "Start the render pipeline, control API, MQTT telemetry and resource monitor, and run until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Serve(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the serve command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Audio.Device, "device", viper.GetString("audio.device"), "Output device name, empty for system default")
	cmd.Flags().IntVar(&settings.API.Port, "port", viper.GetInt("api.port"), "Control API listen port")
	cmd.Flags().StringVar(&settings.Overlay.SoundsDir, "sounds", viper.GetString("overlay.soundsdir"), "Directory with wav/flac cue files")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

// Serve wires the subsystems together and runs them until SIGINT or
// SIGTERM. Every component hangs off one errgroup so a fatal error in
// any loop tears the whole process down cleanly.
func Serve(settings *conf.Settings) error {
	if info, err := host.Info(); err == nil {
		fmt.Printf("System details: %s %s %s\n", info.OS, info.Platform, info.PlatformVersion)
	}
	fmt.Printf("Starting btsink %s, default rate %d Hz, device %q\n",
		settings.Version, settings.Audio.DefaultSampleRate, settings.Audio.Device)

	if err := telemetry.Init(settings); err != nil {
		logging.Warn("Error telemetry disabled", "error", err)
	}
	defer telemetry.Flush(telemetryFlushTimeout)

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("error initializing metrics: %w", err)
	}

	sink, err := audio.NewDeviceSink(settings.Audio)
	if err != nil {
		return fmt.Errorf("error opening output device: %w", err)
	}

	eng, err := engine.New(settings, sink, metrics)
	if err != nil {
		return fmt.Errorf("error creating engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Session history and stats snapshots, when a backend is enabled.
	var store datastore.Interface
	if settings.Datastore.SQLite.Enabled || settings.Datastore.MySQL.Enabled {
		store, err = datastore.New(settings, metrics.Datastore)
		if err != nil {
			return fmt.Errorf("error creating datastore: %w", err)
		}
		if err := store.Open(); err != nil {
			return fmt.Errorf("error opening datastore: %w", err)
		}
		defer closeDataStore(store)

		recorder := datastore.NewRecorder(store, settings.Datastore.SnapshotInterval)
		eng.AddSessionListener(recorder)
		g.Go(func() error { return recorder.Run(ctx, eng) })
	}

	notifier, err := notify.NewNotifier(settings.Notify)
	if err != nil {
		return fmt.Errorf("error creating notifier: %w", err)
	}
	if notifier.Enabled() {
		eng.AddSessionListener(notifier)
	}

	sysMonitor := monitor.NewSystemMonitor(settings.Monitor, notifier, eng)
	sysMonitor.Start()
	defer sysMonitor.Stop()

	if settings.API.Enabled {
		server, err := httpcontroller.New(settings, eng, store, metrics)
		if err != nil {
			return fmt.Errorf("error creating API server: %w", err)
		}
		g.Go(func() error { return server.Start(ctx) })
	}

	if settings.MQTT.Enabled {
		service, err := mqtt.NewService(settings, eng, eng, metrics)
		if err != nil {
			return fmt.Errorf("error creating MQTT service: %w", err)
		}
		g.Go(func() error { return service.Run(ctx) })
	}

	g.Go(func() error { return eng.Run(ctx) })

	err = g.Wait()
	fmt.Println("btsink stopped")
	return err
}

// closeDataStore attempts to close the database connection and logs the outcome.
func closeDataStore(store datastore.Interface) {
	if err := store.Close(); err != nil {
		logging.Error("Failed to close database", "error", err)
	} else {
		logging.Info("Database connection closed")
	}
}
