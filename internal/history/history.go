// Package history keeps a bounded record of recent occupancy polls per
// target so the UI regains its sparkline after a restart.
package history

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

const (
	HistoryFileName = "history.yaml"

	defaultCapacity      = 360
	defaultMaxTargets    = 32
	defaultFlushInterval = 5 * time.Second
)

// Config bounds the store. Capacity is samples kept per target; MaxTargets
// bounds how many targets are tracked before the stalest is evicted;
// FlushInterval is the minimum delay between disk writes.
type Config struct {
	Dir           string
	Capacity      int
	MaxTargets    int
	FlushInterval time.Duration
}

// Dependencies allow tests to stub the clock.
type Dependencies struct {
	Logger *log.Logger
	Now    func() time.Time
}

// Store is a per-target ring of occupancy samples with YAML persistence.
// Appends mark the store dirty; writes happen at most once per
// FlushInterval, plus a final flush on Close.
type Store struct {
	cfg    Config
	logger *log.Logger
	now    func() time.Time

	mu        sync.Mutex
	samples   map[string][]types.OccupancySample
	dirty     bool
	lastFlush time.Time
}

type historyFile struct {
	Targets map[string][]types.OccupancySample `yaml:"targets"`
}

// NewStore opens the history store, restoring any samples persisted by a
// previous run. A corrupt history file is logged and discarded rather than
// failing startup.
func NewStore(cfg Config, deps Dependencies) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("history: dir is required")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.MaxTargets <= 0 {
		cfg.MaxTargets = defaultMaxTargets
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Store{
		cfg:     cfg,
		logger:  deps.Logger,
		now:     deps.Now,
		samples: make(map[string][]types.OccupancySample),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) path() string {
	return filepath.Join(s.cfg.Dir, HistoryFileName)
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read history file %q: %w", s.path(), err)
	}

	var file historyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		s.logger.Printf("history: ignoring corrupt file %q: %v", s.path(), err)
		return nil
	}

	for key, samples := range file.Targets {
		if len(samples) > s.cfg.Capacity {
			samples = samples[len(samples)-s.cfg.Capacity:]
		}
		s.samples[key] = samples
	}
	return nil
}

// Append records one poll outcome for its target, evicting the oldest sample
// past capacity and the stalest target past the target bound.
func (s *Store) Append(sample types.OccupancySample) {
	key := sample.Target.HostPort()

	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.samples[key], sample)
	if len(list) > s.cfg.Capacity {
		list = list[len(list)-s.cfg.Capacity:]
	}
	s.samples[key] = list

	if len(s.samples) > s.cfg.MaxTargets {
		s.evictStalestLocked(key)
	}

	s.dirty = true
	s.maybeFlushLocked()
}

// evictStalestLocked drops the target whose newest sample is oldest,
// never touching the target that was just appended to.
func (s *Store) evictStalestLocked(keep string) {
	var victim string
	var oldest time.Time
	for key, list := range s.samples {
		if key == keep || len(list) == 0 {
			continue
		}
		last := list[len(list)-1].Timestamp
		if victim == "" || last.Before(oldest) {
			victim = key
			oldest = last
		}
	}
	if victim != "" {
		delete(s.samples, victim)
	}
}

// Samples returns the recorded history for one target, oldest first.
func (s *Store) Samples(target types.ServerTarget) []types.OccupancySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.samples[target.HostPort()]
	out := make([]types.OccupancySample, len(list))
	copy(out, list)
	return out
}

// All returns every tracked target's history, oldest first.
func (s *Store) All() map[string][]types.OccupancySample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]types.OccupancySample, len(s.samples))
	for key, list := range s.samples {
		copied := make([]types.OccupancySample, len(list))
		copy(copied, list)
		out[key] = copied
	}
	return out
}

func (s *Store) maybeFlushLocked() {
	if s.now().Sub(s.lastFlush) < s.cfg.FlushInterval {
		return
	}
	if err := s.flushLocked(); err != nil {
		s.logger.Printf("history: %v", err)
	}
}

// Flush forces a write of any unpersisted samples.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Store) flushLocked() error {
	if !s.dirty {
		return nil
	}

	data, err := yaml.Marshal(historyFile{Targets: s.samples})
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	path := s.path()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp history file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit history file %q: %w", path, err)
	}

	s.dirty = false
	s.lastFlush = s.now()
	return nil
}

// Close flushes outstanding samples.
func (s *Store) Close() error {
	return s.Flush()
}
