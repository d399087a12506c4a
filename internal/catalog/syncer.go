package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/events"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/metrics"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/transport"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

const (
	// DirectoryFileName is the on-disk cache of the last verified snapshot
	// payload, stored next to state.yaml in the data dir.
	DirectoryFileName = "directory.json"

	defaultSyncInterval = 15 * time.Minute
)

// directorySnapshot is the signed payload served by the directory endpoint.
type directorySnapshot struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Servers     []types.RawServerRecord `json:"servers"`
}

// SyncerConfig configures the directory syncer.
type SyncerConfig struct {
	DataDir  string
	Interval time.Duration
}

// SyncerDependencies allow tests to stub collaborators.
type SyncerDependencies struct {
	Transport *transport.Client
	Verifier  SignatureVerifier
	Logger    *log.Logger
	Metrics   *metrics.Store
	Events    events.Recorder
	Now       func() time.Time

	// OnSync, when set, observes the outcome of every sync attempt. The
	// health checker hangs off this to track directory freshness.
	OnSync func(ts time.Time, err error)
}

// Syncer keeps a signature-verified copy of the server directory, refreshing
// it periodically with conditional requests. A snapshot that fails
// verification is rejected and the previously accepted one stays in effect.
type Syncer struct {
	cfg       SyncerConfig
	transport *transport.Client
	verifier  SignatureVerifier
	logger    *log.Logger
	metrics   *metrics.Store
	events    events.Recorder
	now       func() time.Time
	onSync    func(time.Time, error)

	mu          sync.RWMutex
	etag        string
	syncedAt    time.Time
	generatedAt time.Time
	servers     []types.ServerRecord
}

// NewSyncer constructs a directory syncer.
func NewSyncer(cfg SyncerConfig, deps SyncerDependencies) (*Syncer, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("catalog syncer: data dir is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSyncInterval
	}
	if deps.Transport == nil {
		return nil, errors.New("catalog syncer: transport is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("catalog syncer: signature verifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Events == nil {
		deps.Events = events.NoopRecorder{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Syncer{
		cfg:       cfg,
		transport: deps.Transport,
		verifier:  deps.Verifier,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		events:    deps.Events,
		now:       deps.Now,
		onSync:    deps.OnSync,
	}, nil
}

// Load restores the last verified snapshot from the data dir, if one exists.
// A missing cache is a fresh start, not an error; a corrupt cache is logged
// and ignored so startup never wedges on stale disk contents.
func (s *Syncer) Load(ctx context.Context) error {
	path := filepath.Join(s.cfg.DataDir, DirectoryFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read directory cache %q: %w", path, err)
	}

	var snapshot directorySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.Printf("directory sync: ignoring corrupt cache %q: %v", path, err)
		return nil
	}

	state, err := config.LoadState(ctx, s.cfg.DataDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Printf("directory sync: state unavailable, will refetch unconditionally: %v", err)
	}

	s.mu.Lock()
	s.servers = normalizeAll(snapshot.Servers)
	s.generatedAt = snapshot.GeneratedAt
	s.etag = state.Directory.ETag
	s.syncedAt = state.Directory.SyncedAt
	s.mu.Unlock()

	s.logger.Printf("directory sync: restored %d servers from cache", len(snapshot.Servers))
	return nil
}

// Run syncs once immediately and then on every interval tick until the
// context is cancelled.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		s.logger.Printf("directory sync: load failed: %v", err)
	}
	if err := s.SyncOnce(ctx); err != nil {
		s.logger.Printf("directory sync: %v", err)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil {
				s.logger.Printf("directory sync: %v", err)
			}
		}
	}
}

// SyncOnce fetches the snapshot and its detached signature, verifies the
// payload, and installs it. The previously observed ETag turns an unchanged
// snapshot into a 304 round trip with no signature fetch.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	err := s.syncOnce(ctx)
	if s.onSync != nil {
		s.onSync(s.now().UTC(), err)
	}
	return err
}

func (s *Syncer) syncOnce(ctx context.Context) error {
	s.mu.RLock()
	etag := s.etag
	s.mu.RUnlock()

	header := http.Header{}
	if etag != "" {
		header.Set("If-None-Match", etag)
	}

	resp, err := s.transport.Send(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   directorySnapshotPath,
		Header: header,
	})
	if err != nil {
		return fmt.Errorf("fetch directory snapshot: %w", err)
	}
	if resp.Status == http.StatusNotModified {
		return nil
	}
	payload := resp.Body

	sigResp, err := s.transport.Send(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   directorySignaturePath,
	})
	if err != nil {
		return fmt.Errorf("fetch directory signature: %w", err)
	}

	if err := s.verifier.Verify(payload, sigResp.Body); err != nil {
		return s.reject(fmt.Errorf("verify directory snapshot: %w", err))
	}

	var snapshot directorySnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return s.reject(fmt.Errorf("decode directory snapshot: %w", err))
	}

	newETag := resp.Header.Get("ETag")
	syncedAt := s.now().UTC()

	s.mu.Lock()
	s.servers = normalizeAll(snapshot.Servers)
	s.generatedAt = snapshot.GeneratedAt
	s.etag = newETag
	s.syncedAt = syncedAt
	s.mu.Unlock()

	s.persist(ctx, payload, newETag, syncedAt, len(snapshot.Servers))

	if s.metrics != nil {
		s.metrics.IncDirectorySyncs()
	}
	s.events.Record(types.Event{
		Type:      types.EventDirectorySynced,
		Timestamp: syncedAt,
		Status:    fmt.Sprintf("directory updated: %d servers", len(snapshot.Servers)),
		Details: map[string]any{
			"servers": len(snapshot.Servers),
			"etag":    newETag,
		},
	})
	s.logger.Printf("directory sync: accepted snapshot with %d servers", len(snapshot.Servers))
	return nil
}

// reject records a snapshot that arrived but failed verification or decoding.
// The in-memory and on-disk copies keep the previous accepted snapshot.
func (s *Syncer) reject(err error) error {
	if s.metrics != nil {
		s.metrics.IncDirectoryRejections()
	}
	s.events.Record(types.Event{
		Type:      types.EventDirectoryRejected,
		Timestamp: s.now().UTC(),
		Status:    err.Error(),
	})
	return err
}

// persist writes the verified payload and bookkeeping. Disk trouble is logged
// rather than returned: the in-memory snapshot is already current and the
// cache only shortens the next cold start.
func (s *Syncer) persist(ctx context.Context, payload []byte, etag string, syncedAt time.Time, servers int) {
	path := filepath.Join(s.cfg.DataDir, DirectoryFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		s.logger.Printf("directory sync: write cache %q: %v", tmp, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		s.logger.Printf("directory sync: commit cache %q: %v", path, err)
		return
	}

	state, err := config.LoadState(ctx, s.cfg.DataDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Printf("directory sync: load state: %v", err)
	}
	state.Directory = config.DirectoryState{
		ETag:     etag,
		SyncedAt: syncedAt,
		Servers:  servers,
	}
	if err := config.UpdateState(ctx, s.cfg.DataDir, state); err != nil {
		s.logger.Printf("directory sync: update state: %v", err)
	}
}

// Snapshot returns a copy of the current server directory and when it was
// last accepted.
func (s *Syncer) Snapshot() ([]types.ServerRecord, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ServerRecord, len(s.servers))
	copy(out, s.servers)
	return out, s.syncedAt
}

// Find looks up a directory record by target address and port.
func (s *Syncer) Find(target types.ServerTarget) (types.ServerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.servers {
		if rec.Address == target.Address && rec.Port == target.Port {
			return rec, true
		}
	}
	return types.ServerRecord{}, false
}

func normalizeAll(raw []types.RawServerRecord) []types.ServerRecord {
	out := make([]types.ServerRecord, len(raw))
	for i, r := range raw {
		out[i] = r.Normalize()
	}
	return out
}
