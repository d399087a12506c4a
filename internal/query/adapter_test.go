package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/metrics"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

type stubBridge struct {
	available bool
	resolve   func(host string) string
	query     func(address, port string) (*types.ServerInfo, error)

	resolvedHosts []string
	queriedHosts  []string
}

func (b *stubBridge) Available() bool { return b.available }

func (b *stubBridge) ResolveHostname(ctx context.Context, host string) string {
	b.resolvedHosts = append(b.resolvedHosts, host)
	if b.resolve == nil {
		return host
	}
	return b.resolve(host)
}

func (b *stubBridge) Query(ctx context.Context, address, port string) (*types.ServerInfo, error) {
	b.queriedHosts = append(b.queriedHosts, address)
	if b.query == nil {
		return nil, errors.New("no query stub")
	}
	return b.query(address, port)
}

type stubRefresher struct {
	calls  int
	record types.ServerRecord
	err    error
}

func (r *stubRefresher) RefreshServer(ctx context.Context, target types.ServerTarget) (types.ServerRecord, error) {
	r.calls++
	return r.record, r.err
}

func newTestAdapter(t *testing.T, bridge Bridge, refresher Refresher, store *metrics.Store) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(Dependencies{
		Bridge:  bridge,
		Catalog: refresher,
		Metrics: store.QueryRecorder(),
	})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return adapter
}

func TestQueryOccupancyPrefersBridge(t *testing.T) {
	bridge := &stubBridge{
		available: true,
		query: func(address, port string) (*types.ServerInfo, error) {
			return &types.ServerInfo{Players: 14, MaxPlayers: 64, Bots: 3}, nil
		},
	}
	refresher := &stubRefresher{}
	store := metrics.NewStore()
	adapter := newTestAdapter(t, bridge, refresher, store)

	target := types.ServerTarget{Address: "198.51.100.7", Port: "27015"}
	result := adapter.QueryOccupancy(context.Background(), target)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.Transport != types.TransportLocal {
		t.Fatalf("expected local transport, got %s", result.Transport)
	}
	if result.RealPlayers != 11 || result.MaxPlayers != 64 || result.Bots != 3 {
		t.Fatalf("unexpected occupancy: %+v", result)
	}
	if refresher.calls != 0 {
		t.Fatalf("expected catalog leg unused, got %d calls", refresher.calls)
	}

	snap := store.Snapshot()
	if snap.LocalQueriesTotal != 1 || snap.RemoteQueriesTotal != 0 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestQueryOccupancyResolvesHostname(t *testing.T) {
	bridge := &stubBridge{
		available: true,
		resolve:   func(host string) string { return "203.0.113.9" },
		query: func(address, port string) (*types.ServerInfo, error) {
			return &types.ServerInfo{Players: 1, MaxPlayers: 10}, nil
		},
	}
	adapter := newTestAdapter(t, bridge, &stubRefresher{}, metrics.NewStore())

	target := types.ServerTarget{Address: "play.example.net", Port: "27015"}
	if result := adapter.QueryOccupancy(context.Background(), target); !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if len(bridge.resolvedHosts) != 1 || bridge.resolvedHosts[0] != "play.example.net" {
		t.Fatalf("unexpected resolve calls: %v", bridge.resolvedHosts)
	}
	if len(bridge.queriedHosts) != 1 || bridge.queriedHosts[0] != "203.0.113.9" {
		t.Fatalf("expected query against resolved address, got %v", bridge.queriedHosts)
	}
}

func TestQueryOccupancyFallsBackWhenBridgeFails(t *testing.T) {
	bridge := &stubBridge{
		available: true,
		query: func(address, port string) (*types.ServerInfo, error) {
			return nil, errors.New("i/o timeout")
		},
	}
	refresher := &stubRefresher{
		record: types.ServerRecord{Players: 20, MaxPlayers: 32, Bots: 4},
	}
	store := metrics.NewStore()
	adapter := newTestAdapter(t, bridge, refresher, store)

	result := adapter.QueryOccupancy(context.Background(), types.ServerTarget{Address: "198.51.100.7", Port: "27015"})

	if !result.Success {
		t.Fatalf("expected remote leg to succeed, got %+v", result)
	}
	if result.Transport != types.TransportRemote {
		t.Fatalf("expected remote transport, got %s", result.Transport)
	}
	if result.RealPlayers != 16 || result.MaxPlayers != 32 {
		t.Fatalf("unexpected occupancy: %+v", result)
	}
	if refresher.calls != 1 {
		t.Fatalf("expected 1 refresh call, got %d", refresher.calls)
	}

	snap := store.Snapshot()
	if snap.LocalQueriesTotal != 1 || snap.RemoteQueriesTotal != 1 {
		t.Fatalf("unexpected counters: %+v", snap)
	}
}

func TestQueryOccupancySkipsUnavailableBridge(t *testing.T) {
	bridge := &stubBridge{available: false}
	refresher := &stubRefresher{record: types.ServerRecord{Players: 2, MaxPlayers: 16}}
	store := metrics.NewStore()
	adapter := newTestAdapter(t, bridge, refresher, store)

	result := adapter.QueryOccupancy(context.Background(), types.ServerTarget{Address: "198.51.100.7", Port: "27015"})

	if result.Transport != types.TransportRemote {
		t.Fatalf("expected remote transport, got %s", result.Transport)
	}
	if len(bridge.queriedHosts) != 0 || len(bridge.resolvedHosts) != 0 {
		t.Fatal("expected no bridge activity when capability is absent")
	}
	if store.Snapshot().LocalQueriesTotal != 0 {
		t.Fatal("expected no local query counted")
	}
}

func TestQueryOccupancyNilBridgeMeansRemote(t *testing.T) {
	refresher := &stubRefresher{record: types.ServerRecord{Players: 2, MaxPlayers: 16}}
	adapter := newTestAdapter(t, nil, refresher, metrics.NewStore())

	result := adapter.QueryOccupancy(context.Background(), types.ServerTarget{Address: "198.51.100.7", Port: "27015"})
	if !result.Success || result.Transport != types.TransportRemote {
		t.Fatalf("expected remote success, got %+v", result)
	}
}

func TestQueryOccupancyFoldsRemoteFailure(t *testing.T) {
	refresher := &stubRefresher{err: errors.New("refresh 198.51.100.7:27015: server not in catalog")}
	adapter := newTestAdapter(t, &stubBridge{available: false}, refresher, metrics.NewStore())

	result := adapter.QueryOccupancy(context.Background(), types.ServerTarget{Address: "198.51.100.7", Port: "27015"})

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if !strings.Contains(result.Error, "server not in catalog") {
		t.Fatalf("expected failure message preserved, got %q", result.Error)
	}
	if result.Transport != types.TransportRemote {
		t.Fatalf("expected remote transport tag, got %s", result.Transport)
	}
	if result.RealPlayers != 0 || result.MaxPlayers != 0 || result.Bots != 0 {
		t.Fatalf("expected zeroed counts on failure, got %+v", result)
	}
}

func TestQueryDetailCarriesInfoOnlyForLocalResults(t *testing.T) {
	bridge := &stubBridge{
		available: true,
		query: func(address, port string) (*types.ServerInfo, error) {
			return &types.ServerInfo{Name: "de_dust2 24/7", Map: "de_dust2", Players: 9, MaxPlayers: 24}, nil
		},
	}
	adapter := newTestAdapter(t, bridge, &stubRefresher{}, metrics.NewStore())

	result, info := adapter.QueryDetail(context.Background(), types.ServerTarget{Address: "198.51.100.7", Port: "27015"})
	if !result.Success || info == nil {
		t.Fatalf("expected local result with info, got %+v info=%v", result, info)
	}
	if info.Map != "de_dust2" {
		t.Fatalf("unexpected info: %+v", info)
	}

	bridge.available = false
	refresher := &stubRefresher{record: types.ServerRecord{Players: 3, MaxPlayers: 12}}
	adapter = newTestAdapter(t, bridge, refresher, metrics.NewStore())

	result, info = adapter.QueryDetail(context.Background(), types.ServerTarget{Address: "198.51.100.7", Port: "27015"})
	if !result.Success || result.Transport != types.TransportRemote {
		t.Fatalf("expected remote result, got %+v", result)
	}
	if info != nil {
		t.Fatalf("expected nil info for remote result, got %+v", info)
	}
}

func TestNewAdapterRequiresCatalog(t *testing.T) {
	if _, err := NewAdapter(Dependencies{}); err == nil {
		t.Fatal("expected error for missing catalog")
	}
}
