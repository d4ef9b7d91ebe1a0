// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbeema/asihost/pkg/agent"
	"github.com/mbeema/asihost/pkg/config"
	"github.com/mbeema/asihost/pkg/host"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		configDir   string
		logLevel    string
		gameName    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&configDir, "config-dir", "", "path to config directory (multi-file mode with auto-reload)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&gameName, "game", "", "treat the process as this game (launcher, le1, le2, le3)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("asihost %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	var cfg *config.Config
	var err error
	if configDir != "" {
		cfg, err = config.LoadDir(configDir)
	} else {
		cfg, err = loadConfig(configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if gameName != "" {
		cfg.Game = gameName
	}

	level := zap.NewAtomicLevel()
	logger, err := newLogger(cfg.LogLevel, level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting asihost",
		zap.String("version", version),
		zap.String("commit", commit),
	)

	img, err := host.NewImage()
	if err != nil {
		logger.Fatal("failed to identify process image", zap.Error(err))
	}

	a, err := agent.New(cfg, img, version, logger)
	if err != nil {
		logger.Fatal("failed to create host", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		logger.Fatal("failed to attach host", zap.Error(err))
	}

	applyLevel := config.LevelReloader(level, logger)
	reload := func(newCfg *config.Config, source string) {
		applyLevel(newCfg, source)
		if err := a.Reload(newCfg); err != nil {
			logger.Error("failed to apply reloaded config", zap.String("file", source), zap.Error(err))
		}
	}

	var watcher *config.Watcher
	if configDir != "" {
		watcher = config.NewWatcher(configDir, reload, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Fatal("failed to start config watcher", zap.Error(err))
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			if watcher != nil {
				watcher.Stop()
			}
			cancel()

			// Detach may hang on a plugin that never returns from its
			// detach export.
			detached := make(chan struct{})
			go func() {
				if err := a.Stop(); err != nil {
					logger.Error("error during detach", zap.Error(err))
				}
				close(detached)
			}()

			select {
			case <-detached:
				logger.Info("asihost stopped")
			case <-time.After(10 * time.Second):
				logger.Error("detach timed out after 10s, forcing exit")
				os.Exit(1)
			}
			return

		case <-hupCh:
			logger.Info("received SIGHUP, reloading configuration")
			var newCfg *config.Config
			var err error
			if configDir != "" {
				newCfg, err = config.LoadDir(configDir)
			} else {
				newCfg, err = loadConfig(configPath)
			}
			if err != nil {
				logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			reload(newCfg, "SIGHUP")
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Next to the executable first, then the working directory.
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, exe+".yaml")
	}
	candidates = append(candidates, "asihost.yaml")
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return config.Load(p)
		}
	}

	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	return cfg, cfg.Validate()
}

func newLogger(level string, atomic zap.AtomicLevel) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	atomic.SetLevel(zapLevel)

	cfg := zap.Config{
		Level:            atomic,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
