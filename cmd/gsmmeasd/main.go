package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dbehnke/gsmmeas/internal/config"
	"github.com/dbehnke/gsmmeas/internal/logging"
)

const VERSION = "1.0.0"

func main() {
	var (
		configFile = flag.String("config", getDefaultConfig(), "Configuration file path")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("gsmmeasd v%s\n", VERSION)
		return
	}

	if flag.NArg() > 0 {
		*configFile = flag.Arg(0)
	}

	cfg := config.NewConfig(*configFile)
	if _, err := os.Stat(*configFile); err == nil {
		if err := cfg.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintf(os.Stderr, "config %s not found, using defaults\n", *configFile)
	}

	logger := logging.New(logging.Config{
		Level:     cfg.GetLogLevel(),
		Format:    cfg.GetLogFormat(),
		AddSource: cfg.GetLogAddSource(),
	}.ApplyEnv())

	daemon, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Error("failed to start", logging.Err(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := daemon.Run(ctx); err != nil {
		logger.Error("daemon error", logging.Err(err))
		os.Exit(1)
	}
}

// getDefaultConfig returns the default configuration file path
func getDefaultConfig() string {
	if _, err := os.Stat("gsmmeasd.yaml"); err == nil {
		return "gsmmeasd.yaml"
	}

	systemConfig := "/etc/gsmmeasd.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig
	}

	return "gsmmeasd.yaml"
}
