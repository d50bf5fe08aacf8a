package main

import (
	"context"
)

const maxInitAttempts = 3

// clientBuilder creates initialized clients for the registry. A client whose
// bootstrap fails on a transport error is rebuilt on another proxy.
type clientBuilder struct {
	cfg      *Config
	proxies  *ProxyPool
	launcher BrowserLauncher
	solver   CoordinateSolver
	logger   Logger

	newDoer func(proxyURL string) (Doer, error)
}

func newClientBuilder(cfg *Config, proxies *ProxyPool, launcher BrowserLauncher, solver CoordinateSolver, logger Logger) *clientBuilder {
	return &clientBuilder{
		cfg:      cfg,
		proxies:  proxies,
		launcher: launcher,
		solver:   solver,
		logger:   logger,
		newDoer: func(proxyURL string) (Doer, error) {
			return NewClient(nil, proxyURL)
		},
	}
}

// Build satisfies ClientFactory.
func (b *clientBuilder) Build(ctx context.Context, cookie string) (*SunoClient, error) {
	creds, err := ParseCredentials(cookie)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxInitAttempts; attempt++ {
		client, err := b.newClient(creds)
		if err != nil {
			return nil, err
		}

		client.logger.Log("Initializing session...")
		err = client.Init(ctx)
		if err == nil {
			return client, nil
		}
		lastErr = err
		client.logger.Log("Session init failed (attempt %d/%d): %v", attempt, maxInitAttempts, err)

		if ctx.Err() != nil || !IsRetryableError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (b *clientBuilder) newClient(creds *Credentials) (*SunoClient, error) {
	proxyURL, display := b.proxies.Random()
	doer, err := b.newDoer(proxyURL)
	if err != nil {
		return nil, err
	}

	client := NewSunoClient(b.cfg, creds, ClientDeps{
		Doer:     doer,
		Launcher: b.launcher,
		Solver:   b.solver,
		Proxy:    proxyURL,
		Logger:   b.logger,
	})
	if display != "" {
		client.logger.Log("Using proxy: %s", display)
	}
	return client, nil
}
