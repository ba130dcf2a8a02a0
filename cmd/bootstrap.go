package cmd

import (
	"fmt"

	"github.com/brogergvhs/mangacache/internal/app"
	"github.com/brogergvhs/mangacache/internal/config"
	"github.com/brogergvhs/mangacache/internal/ui"
)

// loadConfig merges the active profile, environment and flags.
func loadConfig(opts config.Options) (*config.Config, string, error) {
	opts.IgnoreConfig = flagIgnoreConfig
	opts.Debug = flagDebug
	return config.LoadMerged(opts)
}

// loadApp is loadConfig followed by openApp.
func loadApp(opts config.Options) (*app.App, func(), error) {
	cfg, used, err := loadConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	return openApp(cfg, used)
}

func newLogger(cfg *config.Config) (*ui.Logger, error) {
	level := ui.ParseLevel(cfg.Log.Level)
	log := ui.NewLogger(cfg.Debug || level == ui.LevelDebug)

	if cfg.Log.Path != "" {
		if err := log.WithFile(cfg.Log.Path, level); err != nil {
			return nil, err
		}
	}
	return log, nil
}

// openApp builds the engine for a loaded config. The returned close func
// also closes the log file.
func openApp(cfg *config.Config, used string) (*app.App, func(), error) {
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("config: %s", used)

	a, err := app.New(cfg, log)
	if err != nil {
		_ = log.Close()
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	return a, func() {
		if err := a.Close(); err != nil {
			log.Warnf("close: %v", err)
		}
		_ = log.Close()
	}, nil
}
