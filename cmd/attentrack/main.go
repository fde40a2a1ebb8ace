package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"attentrack/internal/app"
	"attentrack/internal/config"
	"attentrack/internal/logging"

	"github.com/sevlyar/go-daemon"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("c", "", "Path to configuration file (e.g., config.yaml). Defaults to ./config.yaml, ~/.config/attentrack/config.yaml, /etc/attentrack/config.yaml")
	daemonize  = flag.Bool("d", false, "Run in the background, detached from the terminal")
	pidFile    = flag.String("pid", "attentrack.pid", "PID file used in daemon mode")
	stdLogFile = flag.String("log", "attentrack.out", "File receiving stdout/stderr in daemon mode")
)

func main() {
	flag.Parse()

	if *daemonize {
		cntxt := &daemon.Context{
			PidFileName: *pidFile,
			PidFilePerm: 0644,
			LogFileName: *stdLogFile,
			LogFilePerm: 0640,
			WorkDir:     "./",
			Umask:       027,
			Args:        os.Args,
		}
		child, err := cntxt.Reborn()
		if err != nil {
			log.Fatalf("FATAL: Failed to daemonize: %v", err)
		}
		if child != nil {
			fmt.Printf("attentrack started in background (pid %d)\n", child.Pid)
			return
		}
		defer cntxt.Release()
	}

	// Uses viper which checks the -c file, ATTENTRACK_* env vars and the
	// default search paths.
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	logger, err := logging.Init(cfg.Logging)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logging: %v", err)
	}
	defer logger.Sync()

	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	application, err := app.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create application", zap.Error(err))
	}

	if err := application.Run(); err != nil {
		logger.Error("Application exited with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("attentrack finished successfully.")
}
