package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/bridge"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/catalog"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/events"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/health"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/metrics"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/monitor"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

type stubSettings struct {
	mu      sync.Mutex
	current config.Settings
	updates int
	err     error
}

func (s *stubSettings) Current() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *stubSettings) Update(ctx context.Context, mutate func(*config.Settings)) (config.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.current, s.err
	}
	next := s.current
	mutate(&next)
	s.current = next.Normalized()
	s.updates++
	return s.current, nil
}

type stubMonitor struct {
	mu       sync.Mutex
	started  []monitor.Config
	targets  []types.ServerTarget
	stops    int
	startErr error
	snapshot types.MonitorSnapshot
}

func (m *stubMonitor) Start(cfg monitor.Config, target types.ServerTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = append(m.started, cfg)
	m.targets = append(m.targets, target)
	return nil
}

func (m *stubMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *stubMonitor) Status() types.MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

type stubQuerier struct {
	result types.OccupancyResult
	info   *types.ServerInfo
}

func (q *stubQuerier) QueryDetail(ctx context.Context, target types.ServerTarget) (types.OccupancyResult, *types.ServerInfo) {
	return q.result, q.info
}

type stubCatalog struct {
	servers   []types.ServerRecord
	listErr   error
	refreshed [][]types.ServerTarget
}

func (c *stubCatalog) ListServers(ctx context.Context) ([]types.ServerRecord, error) {
	return c.servers, c.listErr
}

func (c *stubCatalog) RefreshAll(ctx context.Context, targets []types.ServerTarget) []catalog.RefreshOutcome {
	c.refreshed = append(c.refreshed, targets)
	outcomes := make([]catalog.RefreshOutcome, len(targets))
	for i, target := range targets {
		outcomes[i] = catalog.RefreshOutcome{
			Target: target,
			Record: types.ServerRecord{Address: target.Address, Port: target.Port, Players: 5, MaxPlayers: 32},
		}
	}
	return outcomes
}

type stubDirectory struct {
	servers  []types.ServerRecord
	syncedAt time.Time
}

func (d *stubDirectory) Snapshot() ([]types.ServerRecord, time.Time) {
	return d.servers, d.syncedAt
}

type stubSession struct {
	mu       sync.Mutex
	steamID  string
	code     string
	logins   int
	logouts  int
	loggedIn bool
	err      error
}

func (s *stubSession) Login(ctx context.Context, steamID, secureCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.steamID, s.code = steamID, secureCode
	s.logins++
	s.loggedIn = true
	return nil
}

func (s *stubSession) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.logouts++
	s.loggedIn = false
	return nil
}

func (s *stubSession) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

type stubExporter struct {
	path    string
	payload []byte
	err     error
}

func (e *stubExporter) ExportJSON(path string, payload []byte) error {
	if e.err != nil {
		return e.err
	}
	e.path, e.payload = path, payload
	return nil
}

type stubHistory struct {
	samples map[string][]types.OccupancySample
}

func (h *stubHistory) All() map[string][]types.OccupancySample { return h.samples }

func (h *stubHistory) Samples(target types.ServerTarget) []types.OccupancySample {
	return h.samples[target.HostPort()]
}

type testDeps struct {
	settings  *stubSettings
	monitor   *stubMonitor
	querier   *stubQuerier
	catalog   *stubCatalog
	directory *stubDirectory
	session   *stubSession
	exporter  *stubExporter
	history   *stubHistory
	ring      *events.Ring
	bus       *events.Bus
	checker   *health.Checker
	store     *metrics.Store
}

func newTestServer(t *testing.T, mutate func(*testDeps)) (*Server, *testDeps) {
	t.Helper()

	td := &testDeps{
		settings:  &stubSettings{current: config.Defaults()},
		monitor:   &stubMonitor{snapshot: types.MonitorSnapshot{Phase: types.PhaseIdle}},
		querier:   &stubQuerier{result: types.OccupancyResult{Success: true, RealPlayers: 10, MaxPlayers: 24, Transport: types.TransportLocal}},
		catalog:   &stubCatalog{},
		directory: &stubDirectory{},
		session:   &stubSession{},
		exporter:  &stubExporter{},
		history:   &stubHistory{samples: map[string][]types.OccupancySample{}},
		ring:      events.NewRing(16),
		bus:       events.NewBus(),
		store:     metrics.NewStore(),
	}
	td.checker = health.NewChecker(time.Hour, health.Dependencies{})
	if mutate != nil {
		mutate(td)
	}

	srv, err := New(
		Config{Listen: "127.0.0.1:0", Version: "0.4.1"},
		Dependencies{
			Logger:          log.New(io.Discard, "", 0),
			Settings:        td.settings,
			Monitor:         td.monitor,
			Query:           td.querier,
			Catalog:         td.catalog,
			Directory:       td.directory,
			Session:         td.session,
			Exporter:        td.exporter,
			History:         td.history,
			Events:          td.ring,
			Bus:             td.bus,
			Metrics:         td.store,
			Health:          td.checker,
			BridgeAvailable: func() bool { return true },
			ActiveChannel:   func() string { return "bridge" },
		},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return srv, td
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestStatusReportsComposedState(t *testing.T) {
	srv, _ := newTestServer(t, func(td *testDeps) {
		td.directory.servers = []types.ServerRecord{{Address: "198.51.100.7", Port: "27015"}}
		td.directory.syncedAt = time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
		td.session.loggedIn = true
		td.monitor.snapshot = types.MonitorSnapshot{Phase: types.PhaseMonitoring, MinSlots: 4}
	})

	rr := doJSON(t, srv, http.MethodGet, "/api/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}

	var resp statusResponse
	decodeBody(t, rr, &resp)
	if resp.Version != "0.4.1" {
		t.Fatalf("expected version 0.4.1, got %q", resp.Version)
	}
	if !resp.BridgeAvailable || resp.ActiveChannel != "bridge" {
		t.Fatalf("unexpected bridge state: %+v", resp)
	}
	if resp.APIBaseURL != config.DefaultAPIBaseURL {
		t.Fatalf("unexpected api base url %q", resp.APIBaseURL)
	}
	if !resp.LoggedIn {
		t.Fatal("expected logged-in status")
	}
	if resp.DirectoryServers != 1 || resp.DirectorySyncedAt.IsZero() {
		t.Fatalf("unexpected directory state: %+v", resp)
	}
	if resp.Monitor.Phase != types.PhaseMonitoring {
		t.Fatalf("unexpected monitor phase %s", resp.Monitor.Phase)
	}
}

func TestQueryReturnsOccupancyAndInfo(t *testing.T) {
	srv, _ := newTestServer(t, func(td *testDeps) {
		td.querier.info = &types.ServerInfo{Name: "de_dust2 24/7", Map: "de_dust2", Players: 12, MaxPlayers: 24}
	})

	rr := doJSON(t, srv, http.MethodPost, "/api/query", types.ServerTarget{Address: "198.51.100.7", Port: "27015"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Occupancy types.OccupancyResult `json:"occupancy"`
		Info      *types.ServerInfo     `json:"info"`
	}
	decodeBody(t, rr, &resp)
	if !resp.Occupancy.Success || resp.Occupancy.RealPlayers != 10 {
		t.Fatalf("unexpected occupancy %+v", resp.Occupancy)
	}
	if resp.Info == nil || resp.Info.Map != "de_dust2" {
		t.Fatalf("expected info block, got %+v", resp.Info)
	}
}

func TestQueryRequiresAddressAndPort(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodPost, "/api/query", types.ServerTarget{Address: "198.51.100.7"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["error"] == "" {
		t.Fatal("expected error payload")
	}
}

func TestMonitorStartAppliesAndPersistsConfig(t *testing.T) {
	srv, td := newTestServer(t, nil)

	body := map[string]any{
		"target":                 map[string]any{"address": "198.51.100.7", "port": "27015", "game_id": 730},
		"min_slots":              "5",
		"check_interval_seconds": 9,
	}
	rr := doJSON(t, srv, http.MethodPost, "/api/monitor/start", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}

	if len(td.monitor.started) != 1 {
		t.Fatalf("expected one start, got %d", len(td.monitor.started))
	}
	got := td.monitor.started[0]
	if got.MinSlots != 5 || got.CheckIntervalSeconds != 9 {
		t.Fatalf("unexpected config %+v", got)
	}
	if td.monitor.targets[0].GameID != 730 {
		t.Fatalf("unexpected target %+v", td.monitor.targets[0])
	}

	settings := td.settings.Current()
	if settings.MinSlots != 5 || settings.CheckIntervalSeconds != 9 {
		t.Fatalf("expected persisted config, got %+v", settings)
	}
	if td.settings.updates != 1 {
		t.Fatalf("expected one settings update, got %d", td.settings.updates)
	}
}

func TestMonitorStartMapsGarbageToDefaultsAndClamps(t *testing.T) {
	srv, td := newTestServer(t, nil)

	body := map[string]any{
		"target":                 map[string]any{"address": "198.51.100.7", "port": "27015"},
		"min_slots":              "lots",
		"check_interval_seconds": 999,
	}
	rr := doJSON(t, srv, http.MethodPost, "/api/monitor/start", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}

	got := td.monitor.started[0]
	if got.MinSlots != config.DefaultMinSlots {
		t.Fatalf("expected non-numeric min slots mapped to default %d, got %d", config.DefaultMinSlots, got.MinSlots)
	}
	if got.CheckIntervalSeconds != config.CheckIntervalCeil {
		t.Fatalf("expected interval clamped to %d, got %d", config.CheckIntervalCeil, got.CheckIntervalSeconds)
	}
}

func TestMonitorStartInheritsSettingsWhenFieldsAbsent(t *testing.T) {
	srv, td := newTestServer(t, func(td *testDeps) {
		td.settings.current.MinSlots = 7
		td.settings.current.CheckIntervalSeconds = 30
	})

	body := map[string]any{"target": map[string]any{"address": "198.51.100.7", "port": "27015"}}
	rr := doJSON(t, srv, http.MethodPost, "/api/monitor/start", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}

	got := td.monitor.started[0]
	if got.MinSlots != 7 || got.CheckIntervalSeconds != 30 {
		t.Fatalf("expected settings inherited, got %+v", got)
	}
}

func TestMonitorStartConflict(t *testing.T) {
	srv, _ := newTestServer(t, func(td *testDeps) {
		td.monitor.startErr = monitor.ErrAlreadyActive
	})

	body := map[string]any{"target": map[string]any{"address": "198.51.100.7", "port": "27015"}}
	rr := doJSON(t, srv, http.MethodPost, "/api/monitor/start", body)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestMonitorStartRequiresTarget(t *testing.T) {
	srv, td := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodPost, "/api/monitor/start", map[string]any{"min_slots": 4})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if len(td.monitor.started) != 0 {
		t.Fatal("expected no start without a target")
	}
}

func TestMonitorStopAlwaysSucceeds(t *testing.T) {
	srv, td := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodPost, "/api/monitor/stop", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if td.monitor.stops != 1 {
		t.Fatalf("expected one stop, got %d", td.monitor.stops)
	}
}

func TestSettingsGetAndPatch(t *testing.T) {
	srv, td := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodGet, "/api/settings", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var payload settingsPayload
	decodeBody(t, rr, &payload)
	if payload.MinSlots != config.DefaultMinSlots || payload.ClientVariant != "steam" {
		t.Fatalf("unexpected defaults %+v", payload)
	}

	patch := map[string]any{
		"min_slots":      "3",
		"client_variant": "steamchina",
		"api_base_url":   "https://api.example.net",
	}
	rr = doJSON(t, srv, http.MethodPut, "/api/settings", patch)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	decodeBody(t, rr, &payload)
	if payload.MinSlots != 3 {
		t.Fatalf("expected min slots 3, got %d", payload.MinSlots)
	}
	if payload.ClientVariant != "steamchina" {
		t.Fatalf("expected variant steamchina, got %q", payload.ClientVariant)
	}
	if payload.APIBaseURL != "https://api.example.net" {
		t.Fatalf("expected new base url, got %q", payload.APIBaseURL)
	}

	// Untouched fields keep their values.
	if got := td.settings.Current().CheckIntervalSeconds; got != config.DefaultCheckIntervalSeconds {
		t.Fatalf("expected interval untouched, got %d", got)
	}
}

func TestSettingsPatchGarbageFallsBackToDefault(t *testing.T) {
	srv, td := newTestServer(t, func(td *testDeps) {
		td.settings.current.MinSlots = 8
	})

	rr := doJSON(t, srv, http.MethodPut, "/api/settings", map[string]any{"min_slots": "plenty"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if got := td.settings.Current().MinSlots; got != config.DefaultMinSlots {
		t.Fatalf("expected garbage mapped to default %d, got %d", config.DefaultMinSlots, got)
	}
}

func TestSettingsPatchRejectsEmptyBaseURL(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodPut, "/api/settings", map[string]any{"api_base_url": "  "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestJoinURLUsesConfiguredVariant(t *testing.T) {
	srv, _ := newTestServer(t, func(td *testDeps) {
		td.settings.current.ClientVariant = "steamchina"
	})

	rr := doJSON(t, srv, http.MethodGet, "/api/join-url?address=198.51.100.7&port=27015&game_id=730", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	want := "steamchina://rungame/730/76561202255233023/+connect 198.51.100.7:27015"
	if resp["uri"] != want {
		t.Fatalf("expected %q, got %q", want, resp["uri"])
	}
}

func TestJoinURLRequiresAddressAndPort(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodGet, "/api/join-url?address=198.51.100.7", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestLoginValidatesAndDelegates(t *testing.T) {
	srv, td := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodPost, "/api/login", map[string]string{
		"steamid64":   "76561198000000001",
		"secure_code": "s3cret",
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if td.session.logins != 1 || td.session.steamID != "76561198000000001" {
		t.Fatalf("unexpected session state %+v", td.session)
	}

	rr = doJSON(t, srv, http.MethodPost, "/api/login", map[string]string{
		"steamid64":   "not-a-steamid",
		"secure_code": "s3cret",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric steamid, got %d", rr.Code)
	}
	if td.session.logins != 1 {
		t.Fatal("expected invalid login rejected before the session manager")
	}
}

func TestLogout(t *testing.T) {
	srv, td := newTestServer(t, func(td *testDeps) {
		td.session.loggedIn = true
	})

	rr := doJSON(t, srv, http.MethodPost, "/api/logout", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d", rr.Code)
	}
	if td.session.logouts != 1 || td.session.LoggedIn() {
		t.Fatalf("unexpected session state %+v", td.session)
	}
}

func TestExportFavoritesWritesThroughBridge(t *testing.T) {
	srv, td := newTestServer(t, nil)

	body := map[string]any{
		"path": "/tmp/favorites.json",
		"servers": []types.ServerRecord{
			{Address: "198.51.100.7", Port: "27015", Name: "dust2 24/7", Players: 12, MaxPlayers: 24},
		},
	}
	rr := doJSON(t, srv, http.MethodPost, "/api/export/favorites", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if td.exporter.path != "/tmp/favorites.json" {
		t.Fatalf("unexpected export path %q", td.exporter.path)
	}
	if !bytes.Contains(td.exporter.payload, []byte(`"dust2 24/7"`)) {
		t.Fatalf("expected server in export payload, got %s", td.exporter.payload)
	}

	var resp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rr, &resp)
	if resp.Count != 1 {
		t.Fatalf("expected count 1, got %d", resp.Count)
	}
}

func TestExportFavoritesMapsBridgeAbsence(t *testing.T) {
	srv, _ := newTestServer(t, func(td *testDeps) {
		td.exporter.err = bridge.ErrUnavailable
	})

	rr := doJSON(t, srv, http.MethodPost, "/api/export/favorites", map[string]any{"path": "/tmp/favorites.json"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	srv, _ = newTestServer(t, func(td *testDeps) {
		td.exporter.err = errors.New(`only .json files are allowed, got ".exe"`)
	})
	rr = doJSON(t, srv, http.MethodPost, "/api/export/favorites", map[string]any{"path": "/tmp/evil.exe"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestServersPassesCatalogFailureThrough(t *testing.T) {
	srv, _ := newTestServer(t, func(td *testDeps) {
		td.catalog.listErr = errors.New("list servers: 502 Bad Gateway")
	})

	rr := doJSON(t, srv, http.MethodGet, "/api/servers", nil)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rr.Code)
	}
	var resp map[string]string
	decodeBody(t, rr, &resp)
	if !strings.Contains(resp["error"], "list servers") {
		t.Fatalf("expected error text preserved, got %q", resp["error"])
	}
}

func TestRefreshUsesDirectoryWhenNoTargetsGiven(t *testing.T) {
	srv, td := newTestServer(t, func(td *testDeps) {
		td.directory.servers = []types.ServerRecord{
			{Address: "198.51.100.7", Port: "27015"},
			{Address: "198.51.100.8", Port: "27016"},
		}
	})

	rr := doJSON(t, srv, http.MethodPost, "/api/servers/refresh", map[string]any{})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if len(td.catalog.refreshed) != 1 || len(td.catalog.refreshed[0]) != 2 {
		t.Fatalf("expected directory-wide refresh, got %+v", td.catalog.refreshed)
	}

	var resp struct {
		Results []refreshResult `json:"results"`
	}
	decodeBody(t, rr, &resp)
	if len(resp.Results) != 2 || resp.Results[0].Record.Players != 5 {
		t.Fatalf("unexpected results %+v", resp.Results)
	}
}

func TestEventsReturnsRecentRingEntries(t *testing.T) {
	srv, td := newTestServer(t, nil)
	for i := 0; i < 3; i++ {
		td.ring.Record(types.Event{Type: types.EventOccupancy, Status: "12/24"})
	}
	td.ring.Record(types.Event{Type: types.EventTrigger, Status: "4 slots free"})

	rr := doJSON(t, srv, http.MethodGet, "/api/events?limit=2", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var resp struct {
		Events []types.Event `json:"events"`
	}
	decodeBody(t, rr, &resp)
	if len(resp.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(resp.Events))
	}
	if resp.Events[1].Type != types.EventTrigger {
		t.Fatalf("expected newest event last, got %+v", resp.Events)
	}
}

func TestHistoryByTargetAndOverall(t *testing.T) {
	sample := types.OccupancySample{
		Timestamp: time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC),
		Target:    types.ServerTarget{Address: "198.51.100.7", Port: "27015"},
		Occupancy: types.OccupancyResult{Success: true, RealPlayers: 9, MaxPlayers: 24},
	}
	srv, _ := newTestServer(t, func(td *testDeps) {
		td.history.samples["198.51.100.7:27015"] = []types.OccupancySample{sample}
	})

	rr := doJSON(t, srv, http.MethodGet, "/api/history?address=198.51.100.7&port=27015", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var single struct {
		Samples []types.OccupancySample `json:"samples"`
	}
	decodeBody(t, rr, &single)
	if len(single.Samples) != 1 || single.Samples[0].Occupancy.RealPlayers != 9 {
		t.Fatalf("unexpected samples %+v", single.Samples)
	}

	rr = doJSON(t, srv, http.MethodGet, "/api/history", nil)
	var all struct {
		Targets map[string][]types.OccupancySample `json:"targets"`
	}
	decodeBody(t, rr, &all)
	if len(all.Targets) != 1 {
		t.Fatalf("expected one tracked target, got %+v", all.Targets)
	}
}

func TestReadyzReflectsDirectorySync(t *testing.T) {
	srv, td := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before first sync, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "not yet synced") {
		t.Fatalf("expected sync reason, got %q", rr.Body.String())
	}

	td.checker.ObserveDirectorySync(time.Now(), nil)
	rr = doJSON(t, srv, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after sync, got %d", rr.Code)
	}
}

func TestHealthzReportsJSON(t *testing.T) {
	srv, td := newTestServer(t, nil)
	td.checker.ObserveDirectorySync(time.Now(), nil)

	rr := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var report health.Report
	decodeBody(t, rr, &report)
	if !report.Ready {
		t.Fatalf("expected ready report, got %+v", report)
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	srv, td := newTestServer(t, nil)
	td.store.TransportRecorder().IncRequests()

	rr := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "upkk_core_api_requests_total 1") {
		t.Fatalf("expected transport counter in exposition, got:\n%s", rr.Body.String())
	}
}

func TestNewRejectsNonLoopbackListen(t *testing.T) {
	_, err := New(Config{Listen: "0.0.0.0:17717"}, Dependencies{})
	if err == nil {
		t.Fatal("expected error for non-loopback listen address")
	}
	if _, err := New(Config{Listen: "192.168.1.20:17717"}, Dependencies{}); err == nil {
		t.Fatal("expected error for LAN listen address")
	}
	if _, err := New(Config{Listen: "localhost:17717"}, Dependencies{Settings: &stubSettings{}}); err != nil {
		t.Fatalf("expected localhost accepted, got %v", err)
	}
}

func TestMethodRouting(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rr := doJSON(t, srv, http.MethodPost, "/api/settings", map[string]any{})
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST settings, got %d", rr.Code)
	}
	rr = doJSON(t, srv, http.MethodGet, "/api/monitor/start", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET monitor/start, got %d", rr.Code)
	}
}
