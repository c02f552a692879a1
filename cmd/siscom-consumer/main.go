package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/go-kit/log/level"

	"github.com/JesusCabrera84/siscom-consumer/cmd/siscom-consumer/app"
	"github.com/JesusCabrera84/siscom-consumer/pkg/util/log"
)

const appName = "siscom-consumer"

// Version is set via build flag -ldflags -X main.Version
var Version = "dev"

func main() {
	var (
		configFile   string
		expandEnv    bool
		printVersion bool
	)
	flag.StringVar(&configFile, "config.file", "", "Configuration file to load before the environment overlay.")
	flag.BoolVar(&expandEnv, "config.expand-env", false, "Expand ${VAR} references in the config file.")
	flag.BoolVar(&printVersion, "version", false, "Print version information and exit.")
	flag.Parse()

	if printVersion {
		fmt.Printf("%s, version %s\n", appName, Version)
		os.Exit(0)
	}

	cfg, err := app.LoadConfig(configFile, expandEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed parsing config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.InitLogger(cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed initialising logger: %v\n", err)
		os.Exit(1)
	}

	printBanner()
	level.Info(logger).Log("msg", "starting siscom consumer", "version", Version,
		"broker", cfg.Broker.Kind, "topic", cfg.Broker.Topic)

	if err := cfg.Validate(); err != nil {
		level.Error(logger).Log("msg", "invalid configuration", "err", err)
		os.Exit(1)
	}

	if cfg.Processing.WorkerThreads > 0 {
		runtime.GOMAXPROCS(cfg.Processing.WorkerThreads)
	}

	a, err := app.New(*cfg, logger)
	if err != nil {
		level.Error(logger).Log("msg", "error initialising application", "err", err)
		os.Exit(1)
	}
	if err := a.Run(); err != nil {
		level.Error(logger).Log("msg", "error running application", "err", err)
		os.Exit(1)
	}
}
