// Package service assembles the client core: settings, bridge, transport,
// catalog, query, monitor, events, history, credentials, and the control
// API, wired together and run under one errgroup.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/bridge"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/catalog"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/certs"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/control"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/credstore"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/events"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/health"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/history"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/logging"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/metrics"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/monitor"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/query"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/transport"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/worker"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

// historyFlushCadence bounds how long an appended sample can sit unflushed
// while a monitor session runs.
const historyFlushCadence = 30 * time.Second

// Config selects the settings file and stamps the build version into
// outbound requests and the control API.
type Config struct {
	SettingsPath string
	Version      string
}

// Dependencies allow tests to redirect logging and the clock.
type Dependencies struct {
	Logger *log.Logger
	// LogWriter is the sink for per-subsystem loggers. Defaults to the
	// main logger's writer.
	LogWriter io.Writer
	Now       func() time.Time
}

// Core owns every long-lived component of the client core and the order
// they start and stop in.
type Core struct {
	cfg     Config
	logger  *log.Logger
	now     func() time.Time
	dataDir string

	settings *settingsStore
	session  *sessionManager
	handle   *monitorHandle

	metrics *metrics.Store
	ring    *events.Ring
	bus     *events.Bus

	bridge  *bridge.Bridge
	client  *transport.Client
	catalog *catalog.Client
	syncer  *catalog.Syncer
	history *history.Store
	adapter *query.Adapter
	monitor *monitor.Monitor
	checker *health.Checker
	control *control.Server
}

// New loads settings, prepares the data dir and install state, and builds
// the full component graph. Nothing starts running until Run.
func New(ctx context.Context, cfg Config, deps Dependencies) (*Core, error) {
	logger := deps.Logger
	if logger == nil {
		logger = logging.New()
	}
	logWriter := deps.LogWriter
	if logWriter == nil {
		logWriter = logger.Writer()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	settingsPath := cfg.SettingsPath
	if settingsPath == "" {
		var err error
		settingsPath, err = config.DefaultSettingsPath()
		if err != nil {
			return nil, fmt.Errorf("resolve settings path: %w", err)
		}
	}
	settings, err := config.LoadOrDefault(ctx, settingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	settings = settings.Normalized()

	dataDir := settings.ResolveDataDir(settingsPath)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("ensure data dir %q: %w", dataDir, err)
	}

	state, err := loadOrInitState(ctx, dataDir)
	if err != nil {
		return nil, err
	}

	metricsStore := metrics.NewStore()
	ring := events.NewRing(0)
	bus := events.NewBus(events.WithDropHook(metricsStore.IncEventsDropped))
	recorder := events.NewMulti(ring, bus)

	br := bridge.New(
		bridge.Config{
			Disabled:   settings.Bridge.Disabled,
			QueryRate:  settings.Bridge.QueryRate,
			QueryBurst: settings.Bridge.QueryBurst,
		},
		bridge.Dependencies{Logger: logging.For(logWriter, "bridge")},
	)

	rootCAs, err := certs.LoadRootPool(settings.API.CAFile)
	if err != nil {
		return nil, err
	}

	client, err := transport.NewClient(
		transport.Config{BaseURL: settings.API.BaseURL, ClientVersion: cfg.Version},
		transport.Dependencies{
			BridgeChannel: transport.NewBridgeChannel(br.Available, rootCAs),
			Metrics:       metricsStore.TransportRecorder(),
			Logger:        logging.For(logWriter, "transport"),
			OnFallback: func(from, to string) {
				recorder.Record(types.Event{
					Type:      types.EventTransportFallback,
					Timestamp: now().UTC(),
					Status:    fmt.Sprintf("transport fell back from %s to %s", from, to),
				})
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("init transport: %w", err)
	}

	creds, err := credstore.NewStore(
		credstore.Config{DataDir: dataDir},
		credstore.Dependencies{Logger: logging.For(logWriter, "credstore"), Now: now},
	)
	if err != nil {
		return nil, err
	}

	session := &sessionManager{
		creds:     creds,
		transport: client,
		logger:    logging.For(logWriter, "session"),
	}
	session.restore()

	catalogClient, err := catalog.NewClient(catalog.Dependencies{
		Transport: client,
		Pool:      worker.NewPool(),
		Logger:    logging.For(logWriter, "catalog"),
	})
	if err != nil {
		return nil, err
	}

	hist, err := history.NewStore(
		history.Config{Dir: dataDir},
		history.Dependencies{Logger: logging.For(logWriter, "history"), Now: now},
	)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	adapter, err := query.NewAdapter(query.Dependencies{
		Bridge:  br,
		Catalog: catalogClient,
		Metrics: metricsStore.QueryRecorder(),
		Logger:  logging.For(logWriter, "query"),
	})
	if err != nil {
		return nil, err
	}

	store := &settingsStore{path: settingsPath, current: settings, logger: logger}
	store.onChange = func(next config.Settings) {
		err := client.Reconfigure(transport.Config{
			BaseURL:       next.API.BaseURL,
			Credential:    session.currentCredential(),
			ClientVersion: cfg.Version,
		})
		if err != nil {
			logger.Printf("reconfigure transport: %v", err)
		}
	}

	mon, err := monitor.New(monitor.Dependencies{
		Query:    adapter,
		Launcher: br,
		Variant:  func() string { return store.Current().ClientVariant },
		History:  hist,
		Events:   recorder,
		Metrics:  metricsStore.MonitorRecorder(),
		Logger:   logging.For(logWriter, "monitor"),
	})
	if err != nil {
		return nil, err
	}

	checker := health.NewChecker(0, health.Dependencies{
		Metrics:         metricsStore,
		BridgeAvailable: br.Available,
		MonitorStatus:   mon.Status,
	})

	verifier, err := catalog.NewMinisignVerifier(catalog.DefaultPublicKey())
	if err != nil {
		return nil, fmt.Errorf("init directory verifier: %w", err)
	}

	syncer, err := catalog.NewSyncer(
		catalog.SyncerConfig{DataDir: dataDir},
		catalog.SyncerDependencies{
			Transport: client,
			Verifier:  verifier,
			Logger:    logging.For(logWriter, "directory"),
			Metrics:   metricsStore,
			Events:    recorder,
			Now:       now,
			OnSync:    checker.ObserveDirectorySync,
		},
	)
	if err != nil {
		return nil, err
	}

	handle := &monitorHandle{monitor: mon}

	ctrl, err := control.New(
		control.Config{Listen: settings.Control.Listen, Version: cfg.Version},
		control.Dependencies{
			Logger:          logging.For(logWriter, "control"),
			Settings:        store,
			Monitor:         handle,
			Query:           adapter,
			Catalog:         catalogClient,
			Directory:       syncer,
			Session:         session,
			Exporter:        br,
			History:         hist,
			Events:          ring,
			Bus:             bus,
			Metrics:         metricsStore,
			Health:          checker,
			BridgeAvailable: br.Available,
			ActiveChannel:   client.ActiveChannelName,
			Now:             now,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("init control server: %w", err)
	}

	logger.Printf("core assembled (install=%s, data_dir=%s, api=%s, bridge=%t)",
		state.InstallID, dataDir, settings.API.BaseURL, br.Available())

	return &Core{
		cfg:      cfg,
		logger:   logger,
		now:      now,
		dataDir:  dataDir,
		settings: store,
		session:  session,
		handle:   handle,
		metrics:  metricsStore,
		ring:     ring,
		bus:      bus,
		bridge:   br,
		client:   client,
		catalog:  catalogClient,
		syncer:   syncer,
		history:  hist,
		adapter:  adapter,
		monitor:  mon,
		checker:  checker,
		control:  ctrl,
	}, nil
}

// loadOrInitState returns the install state, creating it with a fresh
// install ID on first run.
func loadOrInitState(ctx context.Context, dataDir string) (config.State, error) {
	state, err := config.LoadState(ctx, dataDir)
	if errors.Is(err, fs.ErrNotExist) {
		state = config.State{InstallID: uuid.NewString()}
		if err := config.SaveState(ctx, dataDir, state); err != nil {
			return state, fmt.Errorf("initialize state: %w", err)
		}
		return state, nil
	}
	if err != nil {
		return state, fmt.Errorf("load state: %w", err)
	}
	if state.InstallID == "" {
		state.InstallID = uuid.NewString()
		if err := config.UpdateState(ctx, dataDir, state); err != nil {
			return state, fmt.Errorf("update state: %w", err)
		}
	}
	return state, nil
}

// Run starts the control server, the directory syncer, and the history
// flusher, and blocks until the context is cancelled or a component fails.
// An active monitor session is stopped on the way out.
func (c *Core) Run(ctx context.Context) error {
	c.handle.bind(ctx)

	grp, groupCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return c.control.Run(groupCtx)
	})

	grp.Go(func() error {
		if err := c.syncer.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	grp.Go(func() error {
		return c.flushHistory(groupCtx)
	})

	grp.Go(func() error {
		<-groupCtx.Done()
		c.monitor.Stop()
		return nil
	})

	err := grp.Wait()
	if closeErr := c.history.Close(); closeErr != nil {
		c.logger.Printf("close history: %v", closeErr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	c.logger.Printf("core stopped")
	return nil
}

func (c *Core) flushHistory(ctx context.Context) error {
	ticker := time.NewTicker(historyFlushCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.history.Flush(); err != nil {
				c.logger.Printf("history flush: %v", err)
			}
		}
	}
}

// Close flushes persistent stores. One-shot command paths that never call
// Run use this instead.
func (c *Core) Close() error {
	return c.history.Close()
}

// Query exposes the occupancy adapter for one-shot command use.
func (c *Core) Query() *query.Adapter { return c.adapter }

// Catalog exposes the catalog client for one-shot command use.
func (c *Core) Catalog() *catalog.Client { return c.catalog }

// Directory exposes the signed directory syncer.
func (c *Core) Directory() *catalog.Syncer { return c.syncer }

// Monitor exposes the auto-join monitor.
func (c *Core) Monitor() *monitor.Monitor { return c.monitor }

// Bus exposes the live event bus.
func (c *Core) Bus() *events.Bus { return c.bus }

// Settings returns the current normalized settings.
func (c *Core) Settings() config.Settings { return c.settings.Current() }

// DataDir returns the resolved data directory.
func (c *Core) DataDir() string { return c.dataDir }

// Login stores credentials and applies them to the transport.
func (c *Core) Login(ctx context.Context, steamID, secureCode string) error {
	return c.session.Login(ctx, steamID, secureCode)
}

// Logout clears stored credentials.
func (c *Core) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

// LoggedIn reports whether credentials are stored on this device.
func (c *Core) LoggedIn() bool { return c.session.LoggedIn() }

// monitorHandle adapts the monitor for the control API. Sessions started
// over HTTP must outlive the request, so Start binds the service run
// context instead of taking one from the caller.
type monitorHandle struct {
	monitor *monitor.Monitor

	mu  sync.Mutex
	ctx context.Context
}

func (h *monitorHandle) bind(ctx context.Context) {
	h.mu.Lock()
	h.ctx = ctx
	h.mu.Unlock()
}

func (h *monitorHandle) Start(cfg monitor.Config, target types.ServerTarget) error {
	h.mu.Lock()
	ctx := h.ctx
	h.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return h.monitor.Start(ctx, cfg, target)
}

func (h *monitorHandle) Stop() { h.monitor.Stop() }

func (h *monitorHandle) Status() types.MonitorSnapshot { return h.monitor.Status() }
