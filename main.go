package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/phuslu/log"
)

var engineLog *log.Logger

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	setupLogging(cfg)

	proxies, solver := loadResources(cfg)
	registry := createRegistry(cfg, proxies, solver)

	os.Exit(run(cfg, registry))
}

func setupLogging(cfg *Config) {
	engineLog = NewRootLogger(cfg.LogLevel, cfg.LogFile)
}

func loadResources(cfg *Config) (*ProxyPool, CoordinateSolver) {
	var proxies *ProxyPool
	if cfg.ProxyFile != "" {
		var err error
		proxies, err = LoadProxyPool(cfg.ProxyFile, newModuleLogger(engineLog, "proxy"))
		if err != nil {
			engineLog.Fatal().Err(err).Msg("Failed to load proxies")
		}
		engineLog.Info().Msgf("Loaded %d proxies", proxies.Count())
	}

	solver, err := NewCoordinateSolver(cfg.Solver)
	if err != nil {
		// Generation still works while no challenge is demanded.
		engineLog.Warn().Err(err).Msg("Challenge solving disabled")
		return proxies, nil
	}

	if bc, ok := solver.(balanceChecker); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		balance, err := bc.Balance(ctx)
		cancel()
		switch {
		case IsFatalError(err):
			engineLog.Fatal().Err(err).Msg("Solver account is unusable")
		case err != nil:
			engineLog.Warn().Err(err).Msg("Could not read solver balance")
		default:
			engineLog.Info().Msgf("Solver backend %s, balance $%.2f", cfg.Solver.Backend, balance)
		}
	}
	return proxies, solver
}

func createRegistry(cfg *Config, proxies *ProxyPool, solver CoordinateSolver) *Registry {
	launcher := newPlaywrightLauncher(cfg.Browser, newModuleLogger(engineLog, "browser"))
	builder := newClientBuilder(cfg, proxies, launcher, solver, newModuleLogger(engineLog, "suno"))
	return NewRegistry(builder.Build, WithTTL(cfg.ClientTTL.Std()))
}

func run(cfg *Config, registry *Registry) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Cookie == "" {
		engineLog.Warn().Msg("No SUNO_COOKIE configured, every request must carry its own Cookie header")
	}

	server := NewServer(ctx, registry, cfg.Cookie, newModuleLogger(engineLog, "http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.ListenAddr)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			engineLog.Error().Err(err).Msg("Server stopped")
			return 1
		}
		return 0
	case <-ctx.Done():
	}

	engineLog.Info().Msg("Shutting down...")
	if err := server.Shutdown(); err != nil && !errors.Is(err, context.Canceled) {
		engineLog.Error().Err(err).Msg("Shutdown failed")
		return 1
	}
	engineLog.Info().Msgf("=== Stopped: %d cached client(s) ===", registry.Len())
	return 0
}
