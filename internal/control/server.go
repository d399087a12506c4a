// Package control serves the loopback HTTP API the desktop shell drives:
// one-shot queries, monitor start and stop, settings edits, login, and
// favorites export, plus a websocket feed that streams monitor events back
// for live rendering.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/catalog"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/events"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/health"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/metrics"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/monitor"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

// SettingsManager reads and mutates the persisted settings. Update applies
// the mutation against a normalized copy, persists it, and returns the
// settings now in force.
type SettingsManager interface {
	Current() config.Settings
	Update(ctx context.Context, mutate func(*config.Settings)) (config.Settings, error)
}

// MonitorController is the slice of the auto-join monitor the API drives.
// Start carries no context: the session must outlive the HTTP request that
// started it, so the implementation binds its own run context.
type MonitorController interface {
	Start(cfg monitor.Config, target types.ServerTarget) error
	Stop()
	Status() types.MonitorSnapshot
}

// OccupancyQuerier answers one-shot occupancy queries; see internal/query.
type OccupancyQuerier interface {
	QueryDetail(ctx context.Context, target types.ServerTarget) (types.OccupancyResult, *types.ServerInfo)
}

// CatalogClient is the remote catalog slice used by the server list and the
// refresh-all fanout.
type CatalogClient interface {
	ListServers(ctx context.Context) ([]types.ServerRecord, error)
	RefreshAll(ctx context.Context, targets []types.ServerTarget) []catalog.RefreshOutcome
}

// DirectorySource exposes the verified local directory copy.
type DirectorySource interface {
	Snapshot() ([]types.ServerRecord, time.Time)
}

// SessionManager owns the login state: device-bound credential storage plus
// the transport's bearer credential.
type SessionManager interface {
	Login(ctx context.Context, steamID, secureCode string) error
	Logout(ctx context.Context) error
	LoggedIn() bool
}

// Exporter writes favorites exports through the host bridge.
type Exporter interface {
	ExportJSON(path string, payload []byte) error
}

// HistorySource reads retained occupancy samples.
type HistorySource interface {
	All() map[string][]types.OccupancySample
	Samples(target types.ServerTarget) []types.OccupancySample
}

// Config controls the HTTP server settings. Listen must be a loopback
// address: this API has no authentication because the OS keeps other hosts
// off the socket.
type Config struct {
	Listen       string
	Version      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Dependencies holds the collaborators behind each endpoint group.
type Dependencies struct {
	Logger *log.Logger

	Settings  SettingsManager
	Monitor   MonitorController
	Query     OccupancyQuerier
	Catalog   CatalogClient
	Directory DirectorySource
	Session   SessionManager
	Exporter  Exporter
	History   HistorySource

	Events *events.Ring
	Bus    *events.Bus

	Metrics *metrics.Store
	Health  *health.Checker

	// BridgeAvailable and ActiveChannel feed the status endpoint.
	BridgeAvailable func() bool
	ActiveChannel   func() string

	Now func() time.Time
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

// New constructs the control server and wires every route. It refuses
// non-loopback listen addresses.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultControlListen
	}
	if err := requireLoopback(cfg.Listen); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Long-poll free API; the websocket route strips this via Hijack.
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", statusHandler(cfg, deps)).Methods(http.MethodGet)
	api.HandleFunc("/servers", serversHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/servers/refresh", refreshHandler(deps)).Methods(http.MethodPost)
	api.HandleFunc("/query", queryHandler(deps)).Methods(http.MethodPost)
	api.HandleFunc("/monitor", monitorStatusHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/monitor/start", monitorStartHandler(deps)).Methods(http.MethodPost)
	api.HandleFunc("/monitor/stop", monitorStopHandler(deps)).Methods(http.MethodPost)
	api.HandleFunc("/settings", settingsGetHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/settings", settingsPutHandler(deps)).Methods(http.MethodPut)
	api.HandleFunc("/join-url", joinURLHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/login", loginHandler(deps)).Methods(http.MethodPost)
	api.HandleFunc("/logout", logoutHandler(deps)).Methods(http.MethodPost)
	api.HandleFunc("/export/favorites", exportFavoritesHandler(deps)).Methods(http.MethodPost)
	api.HandleFunc("/events", eventsHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/events/ws", eventsWSHandler(deps)).Methods(http.MethodGet)
	api.HandleFunc("/history", historyHandler(deps)).Methods(http.MethodGet)

	r.HandleFunc("/healthz", healthzHandler(deps)).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyzHandler(deps)).Methods(http.MethodGet)
	if deps.Metrics != nil {
		r.Handle("/metrics", metrics.NewHTTPHandler(deps.Metrics)).Methods(http.MethodGet, http.MethodHead)
	}

	s := &http.Server{
		Addr:         cfg.Listen,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return &Server{Server: s, cfg: cfg, deps: deps}, nil
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Printf("control API listening on http://%s", s.Addr)
		errCh <- s.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// requireLoopback rejects listen addresses other hosts could reach.
func requireLoopback(listen string) error {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("control listen address %q: %w", listen, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("control listen address %q is not loopback", listen)
	}
	return nil
}
