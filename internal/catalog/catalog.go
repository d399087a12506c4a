// Package catalog talks to the remote server-catalog API: listing servers,
// asking the service to re-query one server's occupancy, and keeping a
// signature-verified local copy of the server directory.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/transport"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/worker"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

const (
	serversPath            = "/api/servers"
	refreshPath            = "/api/servers/refresh"
	directorySnapshotPath  = "/api/directory/snapshot"
	directorySignaturePath = "/api/directory/snapshot.minisig"
)

// Client performs catalog API operations.
type Client struct {
	transport *transport.Client
	pool      *worker.Pool
	logger    *log.Logger
}

// Dependencies allow test overrides for the transport and fanout pool.
type Dependencies struct {
	Transport *transport.Client
	Pool      *worker.Pool
	Logger    *log.Logger
}

// NewClient builds a catalog client. The transport is required.
func NewClient(deps Dependencies) (*Client, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("transport client is required")
	}
	pool := deps.Pool
	if pool == nil {
		pool = worker.NewPool()
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{transport: deps.Transport, pool: pool, logger: logger}, nil
}

// ListServers fetches the catalog list, normalizing every record at the
// decode boundary regardless of which wire shape it arrived in.
func (c *Client) ListServers(ctx context.Context) ([]types.ServerRecord, error) {
	resp, err := c.transport.Send(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   serversPath,
	})
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}

	var payload struct {
		Servers []types.RawServerRecord `json:"servers"`
	}
	if err := resp.DecodeJSON(&payload); err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}

	records := make([]types.ServerRecord, 0, len(payload.Servers))
	for _, raw := range payload.Servers {
		records = append(records, raw.Normalize())
	}
	return records, nil
}

type refreshRequest struct {
	Address string `json:"address"`
	Port    string `json:"port"`
}

// RefreshServer asks the service to re-query one server and returns the
// normalized result. This is the remote leg occupancy queries fall back to
// when the host bridge cannot query directly.
func (c *Client) RefreshServer(ctx context.Context, target types.ServerTarget) (types.ServerRecord, error) {
	resp, err := c.transport.Send(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   refreshPath,
		Body:   refreshRequest{Address: target.Address, Port: target.Port},
	})
	if err != nil {
		return types.ServerRecord{}, fmt.Errorf("refresh %s: %w", target.HostPort(), err)
	}

	var raw types.RawServerRecord
	if err := resp.DecodeJSON(&raw); err != nil {
		return types.ServerRecord{}, fmt.Errorf("refresh %s: %w", target.HostPort(), err)
	}
	return raw.Normalize(), nil
}

// RefreshOutcome pairs one refresh target with its result or failure.
type RefreshOutcome struct {
	Target types.ServerTarget
	Record types.ServerRecord
	Err    error
}

// ErrNotAttempted fills the outcome of a refresh the pool never ran because
// the batch context was cancelled first.
var ErrNotAttempted = errors.New("refresh not attempted")

// RefreshAll refreshes every target with bounded concurrency. Outcomes keep
// the input order; individual failures land in their outcome rather than
// aborting the batch.
func (c *Client) RefreshAll(ctx context.Context, targets []types.ServerTarget) []RefreshOutcome {
	outcomes := make([]RefreshOutcome, len(targets))
	tasks := make([]worker.Task, len(targets))
	for i := range targets {
		idx := i
		outcomes[idx] = RefreshOutcome{Target: targets[idx], Err: ErrNotAttempted}
		tasks[idx] = func(ctx context.Context) {
			record, err := c.RefreshServer(ctx, targets[idx])
			outcomes[idx] = RefreshOutcome{Target: targets[idx], Record: record, Err: err}
		}
	}
	c.pool.RunAll(ctx, tasks)
	return outcomes
}
