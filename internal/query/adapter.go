// Package query obtains live occupancy for one server, preferring a direct
// bridge query and falling back to a catalog-mediated refresh. It never
// returns an error: every failure is folded into the result so pollers can
// treat the outcome uniformly.
package query

import (
	"context"
	"errors"
	"io"
	"log"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/metrics"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

// Bridge is the slice of the host bridge the adapter consumes.
type Bridge interface {
	Available() bool
	ResolveHostname(ctx context.Context, host string) string
	Query(ctx context.Context, address, port string) (*types.ServerInfo, error)
}

// Refresher is the catalog leg: ask the service to re-query the server.
type Refresher interface {
	RefreshServer(ctx context.Context, target types.ServerTarget) (types.ServerRecord, error)
}

// Dependencies allow tests to stub both legs.
type Dependencies struct {
	Bridge  Bridge
	Catalog Refresher
	Metrics metrics.QueryRecorder
	Logger  *log.Logger
}

// Adapter answers occupancy queries. Exactly one leg contributes each
// result: a successful bridge query is final, anything else hands over to
// the catalog refresh and that leg's outcome is what the caller sees.
type Adapter struct {
	bridge  Bridge
	catalog Refresher
	metrics metrics.QueryRecorder
	logger  *log.Logger
}

// NewAdapter builds a query adapter. The catalog leg is required; a nil
// bridge behaves like an absent capability.
func NewAdapter(deps Dependencies) (*Adapter, error) {
	if deps.Catalog == nil {
		return nil, errors.New("query adapter: catalog client is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopQueryRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	return &Adapter{
		bridge:  deps.Bridge,
		catalog: deps.Catalog,
		metrics: deps.Metrics,
		logger:  deps.Logger,
	}, nil
}

// QueryOccupancy resolves the target's current occupancy. It never returns
// an error; a result with Success=false carries the failure message of the
// leg that produced it.
func (a *Adapter) QueryOccupancy(ctx context.Context, target types.ServerTarget) types.OccupancyResult {
	result, _ := a.QueryDetail(ctx, target)
	return result
}

// QueryDetail behaves like QueryOccupancy but also hands back the full info
// block when the bridge answered. The info pointer is nil for remote results:
// the catalog refresh only carries counts.
func (a *Adapter) QueryDetail(ctx context.Context, target types.ServerTarget) (types.OccupancyResult, *types.ServerInfo) {
	if a.bridge != nil && a.bridge.Available() {
		a.metrics.IncLocalQueries()
		address := a.bridge.ResolveHostname(ctx, target.Address)
		info, err := a.bridge.Query(ctx, address, target.Port)
		if err == nil {
			return info.Occupancy(), info
		}
		a.logger.Printf("direct query %s failed, falling back to catalog refresh: %v", target.HostPort(), err)
	}

	a.metrics.IncRemoteQueries()
	record, err := a.catalog.RefreshServer(ctx, target)
	if err != nil {
		return types.OccupancyResult{
			Success:   false,
			Error:     err.Error(),
			Transport: types.TransportRemote,
		}, nil
	}
	return record.Occupancy(), nil
}
