package main

import (
	"context"
	"fmt"

	"github.com/liftlabs/liftlog-go/internal/api"
	"github.com/liftlabs/liftlog-go/internal/netmon"
	"github.com/liftlabs/liftlog-go/internal/queue"
	"github.com/liftlabs/liftlog-go/internal/sync"
)

// appHandles bundles the assembled sync stack for a command's lifetime.
type appHandles struct {
	Store   *queue.Store
	Monitor *netmon.Monitor
	Engine  *sync.Engine
	Tokens  *api.FileTokenSource
}

// Close releases the queue database.
func (a *appHandles) Close() {
	if a.Store != nil {
		a.Store.Close()
	}
}

// openQueueOnly assembles just the durable queue and engine with no network
// collaborators. Used by `log`, which must work fully offline and never
// needs credentials.
func openQueueOnly(ctx context.Context, cc *CLIContext) (*appHandles, error) {
	store, err := queue.NewStore(cc.Config.QueuePath, cc.Logger)
	if err != nil {
		return nil, err
	}

	monitor := netmon.New(cc.Logger)

	engine, err := sync.NewEngine(ctx, &sync.EngineConfig{
		Store:  store,
		Net:    monitor,
		Logger: cc.Logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &appHandles{Store: store, Monitor: monitor, Engine: engine}, nil
}

// openEngine assembles the full sync stack: queue store, saved credentials,
// API client, reachability monitor, and engine. Fails with ErrNotLoggedIn
// when no credential file exists.
func openEngine(ctx context.Context, cc *CLIContext) (*appHandles, error) {
	store, err := queue.NewStore(cc.Config.QueuePath, cc.Logger)
	if err != nil {
		return nil, err
	}

	tokens, err := api.TokenSourceFromPath(cc.Config.BaseURL, cc.httpClient(), cc.Config.TokenPath, cc.Logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	client := api.NewClient(cc.Config.BaseURL, cc.httpClient(), tokens, cc.Logger)
	monitor := netmon.New(cc.Logger)

	engine, err := sync.NewEngine(ctx, &sync.EngineConfig{
		Store:     store,
		Submitter: client,
		Net:       monitor,
		Logger:    cc.Logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &appHandles{
		Store:   store,
		Monitor: monitor,
		Engine:  engine,
		Tokens:  tokens,
	}, nil
}

// probe updates the monitor's online state from one reachability check.
// Probe only errors on cancellation; unreachable just leaves us offline.
func (a *appHandles) probe(ctx context.Context, cc *CLIContext) {
	_ = a.Monitor.Probe(ctx, cc.httpClient(), cc.Config.ProbeURL)
}
