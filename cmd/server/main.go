// Package main runs the medistream API server: it verifies bearer tokens, streams
// consultation summaries and business ideas from the configured LLM as server-sent
// events and records per-subject usage.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/nghyane/medistream/internal/access"
	"github.com/nghyane/medistream/internal/api"
	"github.com/nghyane/medistream/internal/config"
	log "github.com/nghyane/medistream/internal/logging"
	"github.com/nghyane/medistream/internal/upstream"
	"github.com/nghyane/medistream/internal/usage"
	"github.com/nghyane/medistream/internal/util"
	"github.com/nghyane/medistream/internal/watcher"
)

var (
	Version           = "dev"
	Commit            = "none"
	BuildDate         = "unknown"
	DefaultConfigPath = "$XDG_CONFIG_HOME/medistream/config.yaml"
)

func init() {
	log.SetupBaseLogger()
}

func main() {
	fmt.Printf("medistream server Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var configPath string
	var initConfig bool
	var port int
	var noWatch bool

	flag.StringVar(&configPath, "config", DefaultConfigPath, "Configure File Path")
	flag.BoolVar(&initConfig, "init", false, "Write a default config file and exit")
	flag.IntVar(&port, "port", 0, "Listen port (overrides the config file)")
	flag.BoolVar(&noWatch, "no-watch", false, "Do not reload the config file on change")
	flag.Parse()

	configFilePath, err := config.ExpandPath(configPath)
	if err != nil {
		log.Fatalf("failed to resolve config path: %v", err)
	}

	if initConfig {
		doInitConfig(configFilePath)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("failed to get working directory: %v", err)
	}
	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	cfg, err := config.LoadConfigOptional(configFilePath, true)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if port > 0 {
		cfg.Port = port
	}

	if err = log.ConfigureLogOutput(cfg.LoggingToFile, ""); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}
	util.SetLogLevel(cfg)

	if err = run(configFilePath, cfg, noWatch); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(configFilePath string, cfg *config.Config, noWatch bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authClient := util.NewHTTPClient(cfg.ProxyURL, 30*time.Second)
	accessManager, err := access.NewManager(ctx, cfg.Auth, authClient)
	if err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}
	defer accessManager.Close()

	completer, err := upstream.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize upstream: %w", err)
	}

	var persister *usage.Persister
	if cfg.Usage.Enabled {
		persister, err = usage.NewPersister(cfg.Usage.DBPath, cfg.Usage.BatchSize, cfg.Usage.FlushIntervalSecs, cfg.Usage.RetentionDays)
		if err != nil {
			return fmt.Errorf("failed to initialize usage persistence: %w", err)
		}
		defer persister.Stop()
	}

	shutdown := make(chan struct{}, 1)
	requestShutdown := func() {
		select {
		case shutdown <- struct{}{}:
		default:
		}
	}

	var opts []api.ServerOption
	if cfg.KeepAliveSeconds > 0 {
		opts = append(opts, api.WithKeepAliveEndpoint(time.Duration(cfg.KeepAliveSeconds)*time.Second, requestShutdown))
	}
	server := api.NewServer(cfg, completer, accessManager, persister, opts...)

	if !noWatch {
		w, errWatch := watcher.NewConfigWatcher(configFilePath, cfg, reloader(ctx, server, accessManager, cfg))
		if errWatch != nil {
			log.WithError(errWatch).Warn("config watcher unavailable, reload disabled")
		} else if errWatch = w.Start(ctx); errWatch != nil {
			log.WithError(errWatch).Warn("failed to start config watcher")
		} else {
			defer func() { _ = w.Stop() }()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
	case <-shutdown:
		log.Info("keep-alive timeout, shutting down")
	case err = <-errCh:
		return err
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return server.Stop(stopCtx)
}

// reloader applies a reloaded config: verifiers and the completer are rebuilt only
// when their sections changed. A rebuild that fails keeps the previous component.
func reloader(ctx context.Context, server *api.Server, accessManager *access.Manager, initial *config.Config) func(*config.Config) {
	current := initial
	return func(next *config.Config) {
		prev := current
		current = next

		if watcher.AuthChanged(prev, next) {
			client := util.NewHTTPClient(next.ProxyURL, 30*time.Second)
			if err := accessManager.Apply(ctx, next.Auth, client); err != nil {
				log.WithError(err).Error("failed to apply auth config, keeping previous verifiers")
			}
		}

		var completer upstream.Completer
		if watcher.UpstreamChanged(prev, next) {
			c, err := upstream.New(ctx, next)
			if err != nil {
				log.WithError(err).Error("failed to rebuild upstream, keeping previous provider")
			} else {
				completer = c
			}
		}
		server.UpdateConfig(next, completer)
	}
}

func doInitConfig(configPath string) {
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		return
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		log.Fatalf("Failed to create directory: %v", err)
	}
	data, err := config.GenerateInitConfigYAML()
	if err != nil {
		log.Fatalf("Failed to render config: %v", err)
	}
	if err = os.WriteFile(configPath, data, 0o600); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	fmt.Printf("Created config at %s with a new auth.hmac-secret\n", configPath)
}
