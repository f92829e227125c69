package main

import (
	"fmt"
	"os"

	"github.com/tphakala/btsink-go/cmd"
	"github.com/tphakala/btsink-go/internal/conf"
	"github.com/tphakala/btsink-go/internal/logging"
)

// version and buildDate are injected at build time:
//
//	go build -ldflags "-X main.version=v1.2.3 -X main.buildDate=2026-08-25T00:00:00Z"
var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading configuration: %v\n", err)
		os.Exit(1)
	}
	settings.Version = version
	settings.BuildDate = buildDate

	if settings.Main.Log.Enabled {
		logging.SetFileRotation(int(settings.Main.Log.MaxSize/(1024*1024)), settings.Main.Log.MaxBackups, settings.Main.Log.MaxAge)
	}

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
