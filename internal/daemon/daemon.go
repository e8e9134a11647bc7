// Package daemon manages the Overwatch process lifecycle and
// configuration: loading and validating the TOML config, and wiring
// every subsystem together into a running scan orchestration engine.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/health"
	"github.com/overwatch-scan/overwatch/internal/infra/cache"
	"github.com/overwatch-scan/overwatch/internal/infra/catalog"
	"github.com/overwatch-scan/overwatch/internal/infra/pipeline"
	"github.com/overwatch-scan/overwatch/internal/infra/pool"
	"github.com/overwatch-scan/overwatch/internal/infra/recovery"
	"github.com/overwatch-scan/overwatch/internal/infra/snapshot"
	"github.com/overwatch-scan/overwatch/internal/infra/sqlite"
	"github.com/overwatch-scan/overwatch/internal/notifier"
	"github.com/overwatch-scan/overwatch/internal/scheduler"
	"github.com/overwatch-scan/overwatch/internal/security"
	"github.com/overwatch-scan/overwatch/internal/viewer"
	"github.com/overwatch-scan/overwatch/internal/worker"
)

// Daemon is the running Overwatch engine. It wires together every
// subsystem — storage, caches, the account/proxy pools, the worker set,
// the Overseer, the notification stack, the introspection viewer, and
// health checking.
type Daemon struct {
	Config Config

	DB         *sqlite.DB
	Catalog    *catalog.Catalog
	Sightings  *cache.SightingCache
	LongSpawns *cache.LongspawnCache
	Snapshots  *snapshot.Store
	Pipeline   *pipeline.Pipeline
	Accounts   *pool.Accounts
	Proxies    *pool.Proxies
	Workers    []*worker.Worker
	Overseer   *scheduler.Overseer
	Notifier   *notifier.Notifier
	Viewer     *viewer.Server
	Health     *health.Checker
	Keypair    *security.Keypair
	Quarantine *recovery.QuarantineManager

	log    *slog.Logger
	cancel context.CancelFunc
}

// Collaborators bundles the external-system implementations outside
// this engine's own scope: the upstream geospatial API client (one per
// account, via MapClientFactory), the captcha solving service, the
// notification transport, and the proxy circuit-rotation control socket.
// A nil field is wired to a conservative no-op/fallback.
type Collaborators struct {
	ClientFactory domain.MapClientFactory
	Solver        domain.CaptchaSolver
	Transport     domain.Notifier
	Control       domain.ControlSocket

	// SpeciesRank overrides the notifier's popularity-rank lookup, e.g.
	// to source it from a live rarity feed instead of static config. A
	// nil field falls back to Config.Notify.SpeciesRankFunc(), built
	// from the notify_ids/notify_ranking config keys.
	SpeciesRank func(speciesID int) int

	// NoPickle mirrors the --no-pickle CLI flag: when set, New skips
	// loading the on-disk catalog/account snapshots even if present.
	NoPickle bool
}

// New wires a Daemon from cfg and the caller-supplied external
// collaborators. It opens the database, loads any persisted snapshot,
// and constructs the full worker set, but does not yet start any
// goroutine — call Run to do that.
func New(cfg Config, collab Collaborators) (*Daemon, error) {
	log := newLogger(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	home := OverwatchHome()
	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	keypair, err := security.LoadOrCreateKeypair(home)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load signing identity: %w", err)
	}

	cat := catalog.New()
	snapStore := snapshot.NewStore(home, keypair)
	catalogLoaded := false
	if collab.NoPickle {
		log.Info("daemon: --no-pickle set, ignoring on-disk snapshots")
	} else if spawns, mysteries, ok, err := snapStore.LoadCatalog(); err != nil {
		log.Warn("daemon: catalog snapshot failed to load, falling back to database", "err", err)
	} else if ok {
		cat.Load(spawns, mysteries)
		catalogLoaded = true
		log.Info("daemon: catalog restored from snapshot", "spawns", len(spawns), "mysteries", len(mysteries))
	}
	if !catalogLoaded {
		if dbSpawns, err := db.ListSpawns(); err != nil {
			log.Warn("daemon: spawn table query failed, starting with an empty catalog", "err", err)
		} else if len(dbSpawns) > 0 {
			cat.Load(dbSpawns, nil)
			log.Info("daemon: catalog restored from database", "spawns", len(dbSpawns))
		}
	}

	accounts := pool.NewAccounts()
	if collab.NoPickle {
		accounts.Seed(configAccounts(cfg))
	} else if snapAccounts, ok, err := snapStore.LoadAccounts(); err != nil {
		log.Warn("daemon: account snapshot failed to load, seeding from config", "err", err)
		accounts.Seed(configAccounts(cfg))
	} else if ok && len(snapAccounts) > 0 {
		accounts.Seed(snapAccounts)
	} else {
		accounts.Seed(configAccounts(cfg))
	}

	proxies := pool.NewProxies(cfg.Proxies)

	sightings := cache.NewSightingCache()
	longSpawns := cache.NewLongspawnCache()

	pl := pipeline.New(db, sightings, longSpawns, log, pipeline.DefaultConfig())

	clientFactory := collab.ClientFactory
	if clientFactory == nil {
		log.Warn("daemon: no MapClientFactory wired in, visits will fail with ErrMapClientUnconfigured")
		clientFactory = newNullMapClientFactory()
	}

	dedup := notifier.NewDedup()
	freq := notifier.NewFrequencyController(notifier.FrequencyConfig{
		DesiredLowMinutes:  cfg.Notify.DesiredFreqLowMin,
		DesiredHighMinutes: cfg.Notify.DesiredFreqHighMin,
	})
	speciesRank := collab.SpeciesRank
	if speciesRank == nil {
		speciesRank = cfg.Notify.SpeciesRankFunc()
	}
	notif := notifier.New(collab.Transport, dedup, freq, speciesRank)

	loginGate := worker.NewLoginGate(cfg.Limits.SimultaneousLogins, 3*time.Second)
	cellIDs := worker.NewCellIDTable()
	netLimiter := worker.NewNetworkLimiter(cfg.Limits.NetworkThreads)

	workers, err := buildWorkers(cfg, accounts, proxies, clientFactory, collab.Solver, pl, notif, loginGate, cellIDs, netLimiter)
	if err != nil {
		db.Close()
		return nil, err
	}

	overseer := scheduler.New(log, workers, cat, sightings, pl, accounts, proxies, scheduler.Limits{
		MaxCaptchas:    cfg.Limits.MaxCaptchas,
		GiveUpKnownS:   cfg.Limits.GiveUpKnownS,
		GiveUpUnknownS: cfg.Limits.GiveUpUnknownS,
		ScanDelayS:     cfg.Limits.ScanDelayS,
		ShuffleEvery:   cfg.Limits.ShuffleEvery,
		SkipSpawnS:     cfg.Limits.SkipSpawnS,
	})

	quarantine := recovery.NewQuarantineManager(recovery.DefaultQuarantineConfig())
	overseer.WireRecovery(quarantine, collab.Control)
	if len(cfg.Control.Socks) > 0 && collab.Control == nil {
		log.Warn("daemon: control sockets configured but no ControlSocket collaborator wired, proxy circuits will not rotate", "socks", len(cfg.Control.Socks))
	}
	if !cfg.Logging.NoStatusBar {
		overseer.EnableStatus(os.Stdout)
	}

	src := overseerSource{overseer: overseer, accounts: accounts}
	viewerSrv := viewer.New(src, cfg.Viewer.AuthToken, cfg.Viewer.Prometheus, cfg.Limits.MapWorkers)

	checker := health.NewChecker(db, home, cat.Len)

	return &Daemon{
		Config:     cfg,
		DB:         db,
		Catalog:    cat,
		Sightings:  sightings,
		LongSpawns: longSpawns,
		Snapshots:  snapStore,
		Pipeline:   pl,
		Accounts:   accounts,
		Proxies:    proxies,
		Workers:    workers,
		Overseer:   overseer,
		Notifier:   notif,
		Viewer:     viewerSrv,
		Health:     checker,
		Keypair:    keypair,
		Quarantine: quarantine,
		log:        log,
	}, nil
}

// overseerSource adapts scheduler.Overseer and pool.Accounts to the
// viewer's narrower Source interface.
type overseerSource struct {
	overseer *scheduler.Overseer
	accounts *pool.Accounts
}

func (s overseerSource) WorkerSnapshots() []domain.WorkerSnapshot { return s.overseer.Snapshots() }
func (s overseerSource) CaptchaQueueLen() int                     { return s.accounts.CaptchaLen() }
func (s overseerSource) ExtraQueueLen() int                       { return s.accounts.ReadyLen() }

func buildWorkers(cfg Config, accounts *pool.Accounts, proxies *pool.Proxies, clientFactory domain.MapClientFactory, solver domain.CaptchaSolver, pl *pipeline.Pipeline, notif *notifier.Notifier, loginGate *worker.LoginGate, cellIDs *worker.CellIDTable, netLimiter *worker.NetworkLimiter) ([]*worker.Worker, error) {
	count := accounts.ReadyLen()
	workers := make([]*worker.Worker, 0, count)
	limits := worker.Limits{
		SpeedLimit:     cfg.Limits.SpeedLimit,
		GiveUpKnownS:   cfg.Limits.GiveUpKnownS,
		GiveUpUnknownS: cfg.Limits.GiveUpUnknownS,
		MaxRetries:     cfg.Limits.MaxRetries,
		AppSimulation:  cfg.Limits.AppSimulation,
		Longspawn:      cfg.Limits.Longspawn,
	}
	var notify worker.NotifyFunc
	if cfg.Notify.Enabled {
		notify = func(ctx context.Context, event domain.NotifyEvent) {
			notif.Notify(ctx, event)
		}
	}
	for i := 0; i < count; i++ {
		acc, ok := accounts.Next()
		if !ok {
			break
		}
		proxy, _ := proxies.Next()
		deps := worker.Deps{
			Client:         clientFactory(acc),
			Solver:         solver,
			Pipeline:       pl,
			LoginGate:      loginGate,
			CellIDs:        cellIDs,
			Limits:         limits,
			NetworkLimiter: netLimiter,
			Notifier:       notify,
		}
		workers = append(workers, worker.New(i, acc, proxy, deps))
	}
	if len(workers) == 0 {
		return nil, domain.ErrNoAccountsConfigured
	}
	return workers, nil
}

func configAccounts(cfg Config) []domain.Account {
	out := make([]domain.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		out = append(out, domain.Account{
			Username:  a.Username,
			Password:  a.Password,
			Provider:  a.Provider,
			AuthState: domain.AccountReady,
		})
	}
	return out
}

// Run performs the bootstrap coverage sweep when the catalog starts
// empty, then starts the launch loop, the supervisory loop, the health
// checker, and — if enabled — the viewer HTTP server, blocking until ctx
// is cancelled or a termination signal arrives.
func (d *Daemon) Run(ctx context.Context, forceBootstrap bool) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	// The pipeline must be draining before bootstrap starts enqueueing,
	// or a large grid could fill the queue and stall the sweep.
	go d.Pipeline.Run(ctx)
	go d.Health.Run(ctx)

	if forceBootstrap || d.Catalog.Len() == 0 {
		d.log.Info("daemon: running bootstrap coverage sweep")
		d.Overseer.Bootstrap(ctx, d.Config.StartPoint(), d.Config.EndPoint(), d.Config.Grid[0], d.Config.Grid[1])
	}

	go d.Overseer.Supervise(ctx)
	go d.Overseer.Launch(ctx)

	var httpServer *http.Server
	if d.Config.Viewer.Enabled {
		addr := fmt.Sprintf("%s:%d", d.Config.Viewer.Host, d.Config.Viewer.Port)
		httpServer = &http.Server{
			Addr:         addr,
			Handler:      d.Viewer.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			d.log.Info("daemon: viewer listening", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.log.Error("daemon: viewer server error", "err", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		d.log.Info("daemon: shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	d.Overseer.Kill()
	d.Pipeline.Kill()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}

	select {
	case <-d.Pipeline.Done():
	case <-time.After(10 * time.Second):
		d.log.Warn("daemon: pipeline drain timed out")
	}

	d.saveSnapshots()
	return nil
}

func (d *Daemon) saveSnapshots() {
	spawns := d.Catalog.IterInOffsetOrder(0)
	if err := d.Snapshots.SaveCatalog(spawns, nil); err != nil {
		d.log.Warn("daemon: catalog snapshot save failed", "err", err)
	}
	if err := d.DB.ReplaceSpawns(spawns); err != nil {
		d.log.Warn("daemon: spawn table update failed", "err", err)
	}
	accts := make([]domain.Account, 0, len(d.Workers))
	for _, w := range d.Workers {
		accts = append(accts, w.Account())
	}
	if err := d.Snapshots.SaveAccounts(accts); err != nil {
		d.log.Warn("daemon: account snapshot save failed", "err", err)
	}
}

// Close releases the daemon's resources without running the shutdown
// sequence in Run — used when New succeeds but the caller aborts before
// calling Run.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}

func newLogger(cfg LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	}

	out := os.Stderr
	if cfg.NoStatusBar && cfg.File != "" {
		if f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
			out = f
		}
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
