package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clipforge/toolhost"
)

type serveFlags struct {
	ConfigPath string
	Listen     string
	BasePath   string
	LogLevel   string
	LogColor   bool
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the tool host daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(f)
		},
	}
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "toolhost.toml", "path to TOML config")
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&f.BasePath, "base-path", "", "API base path (overrides config)")
	cmd.Flags().StringVar(&f.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.LogColor, "log-color", false, "colorize log output")
	return cmd
}

func runServe(f serveFlags) error {
	log := toolhost.NewLogger(f.LogLevel, f.LogColor)

	cfg, err := toolhost.LoadConfig(f.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	listen := cfg.Server.Listen
	if f.Listen != "" {
		listen = f.Listen
	}
	if listen == "" {
		listen = "127.0.0.1:8870"
	}
	basePath := cfg.Server.BasePath
	if f.BasePath != "" {
		basePath = f.BasePath
	}

	host := toolhost.NewWithLogger(log)
	if err := toolhost.RegisterMetricsDefault(); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}

	vars, err := cfg.GlobalEnv()
	if err != nil {
		return fmt.Errorf("load global env: %w", err)
	}
	host.SetGlobalEnv(vars)

	var closers []io.Closer
	if cfg.History.DSN != "" {
		sink, err := toolhost.NewHistorySink(cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		host.SetHistorySinks(sink)
		closers = append(closers, sink)
	}

	specs, err := cfg.Specs()
	if err != nil {
		return fmt.Errorf("process config: %w", err)
	}
	for _, spec := range specs {
		started, err := host.Start(spec)
		if err != nil {
			log.Error("start failed", "id", spec.ID, "error", err)
			continue
		}
		if started {
			log.Info("tool started", "id", spec.ID)
		}
	}

	var defaultLog toolhost.LogConfig
	if cfg.Log != nil {
		defaultLog = toolhost.LogConfig{
			Dir:        cfg.Log.Dir,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}

	shutdownCh := make(chan struct{}, 1)
	requestShutdown := func() {
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	}

	srv := host.NewHTTPServer(listen, basePath, defaultLog, requestShutdown)
	log.Info("control API listening", "addr", listen, "base_path", basePath)

	quiesceURL := "http://" + listen + basePath + "/quiesce"
	coord := host.NewShutdownCoordinator(cfg.Shutdown.Budget,
		host.ShutdownSteps(cfg.Shutdown.Budget, cfg.Shutdown.PrimaryID, quiesceURL, 0, closers...)...)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("signal received, shutting down", "signal", sig.String())
	case <-shutdownCh:
		log.Info("shutdown requested over API")
	}

	rep := coord.Shutdown()
	_ = srv.Close()
	if rep.TimedOut {
		log.Warn("shutdown budget exhausted", "elapsed", rep.Elapsed)
		return nil
	}
	log.Info("shutdown complete", "elapsed", rep.Elapsed)
	return nil
}
