// Package app builds the client runtime from configuration and owns its
// start and shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/marcus/offtask/internal/apiclient"
	"github.com/marcus/offtask/internal/config"
	"github.com/marcus/offtask/internal/connectivity"
	"github.com/marcus/offtask/internal/store"
	tsync "github.com/marcus/offtask/internal/sync"
	"github.com/marcus/offtask/internal/tasks"
)

// ErrForcedOffline is the probe result when the app runs with Offline set.
var ErrForcedOffline = errors.New("offline mode")

// Options adjust how New wires the app.
type Options struct {
	// Offline pins connectivity to offline; nothing reaches the network.
	Offline bool
}

// App holds every long-lived component.
type App struct {
	Config  *config.Config
	Store   store.Store
	Client  *apiclient.Client
	Monitor *connectivity.Monitor
	Sync    *tsync.Orchestrator
	Tasks   *tasks.Service

	mu      stdsync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      stdsync.WaitGroup
}

// New opens the store and constructs the client, monitor, orchestrator and
// facade. Nothing runs until Start or Connect.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	st, err := OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	client := apiclient.New(cfg.API.BaseURL, apiclient.WithTimeout(cfg.API.Timeout))

	probe := connectivity.Probe(client.Ping)
	if opts.Offline {
		probe = func(context.Context) error { return ErrForcedOffline }
	}
	mon := connectivity.New(probe, connectivity.Options{
		Interval: cfg.Connectivity.ProbeInterval,
		Timeout:  cfg.Connectivity.ProbeTimeout,
	})

	syncCfg := tsync.Config{Grace: cfg.Sync.Grace}
	if cfg.Sync.Auto {
		syncCfg.Interval = cfg.Sync.Interval
	}
	orch := tsync.New(st, client, mon, syncCfg)

	svc := tasks.New(st,
		tasks.WithSyncer(orch),
		tasks.WithConnectivity(mon),
		tasks.WithRemote(client),
		tasks.WithAutoPush(cfg.Sync.Auto),
	)

	slog.Debug("app: initialized", "backend", st.Backend(), "api", cfg.API.BaseURL)
	return &App{
		Config:  cfg,
		Store:   st,
		Client:  client,
		Monitor: mon,
		Sync:    orch,
		Tasks:   svc,
	}, nil
}

// Connect runs one connectivity probe without starting background work.
// One-shot commands use it in place of Start.
func (a *App) Connect(ctx context.Context) bool {
	return a.Monitor.Check(ctx)
}

// Start begins probing, forwards online edges to the orchestrator as push
// requests and runs the orchestrator loop. With sync.on_start set, a full
// sync is queued when the initial probe finds the remote reachable.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.started = true

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	edges, unsub := a.Monitor.Subscribe()
	a.Monitor.Start(ctx)

	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-edges:
				if !ok {
					return
				}
				if e.Online {
					a.Sync.Request(tsync.KindPush)
				}
			}
		}
	}()
	go func() {
		defer a.wg.Done()
		a.Sync.Run(ctx)
	}()

	if a.Config.Sync.OnStart && a.Monitor.Online() {
		a.Sync.Request(tsync.KindFull)
	}
}

// Close stops everything in reverse order: edge wiring and the run loop,
// then the progress broadcaster, the monitor and finally the store.
func (a *App) Close() error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	a.wg.Wait()
	a.Sync.Close()
	a.Monitor.Stop()
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
