// Package monitor implements the auto-join watcher: a polling state machine
// that re-queries one server's occupancy and launches the game exactly once
// when enough slots open up.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/events"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/history"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/metrics"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/steam"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

// ErrAlreadyActive is returned by Start while a session is running.
var ErrAlreadyActive = errors.New("monitor already active")

// graceTicks is how many countdown ticks the monitor waits after requesting
// a launch before stopping itself, so the game client can claim the slot.
const graceTicks = 2

// OccupancyQuerier is the polling leg; see internal/query.
type OccupancyQuerier interface {
	QueryOccupancy(ctx context.Context, target types.ServerTarget) types.OccupancyResult
}

// Launcher opens the join URI on the host; see internal/bridge.
type Launcher interface {
	LaunchURI(ctx context.Context, uri string) error
}

// Config is the per-activation tuning. Zero values mean defaults; anything
// out of range is clamped, never rejected.
type Config struct {
	MinSlots             int
	CheckIntervalSeconds int
}

func (c Config) normalized() Config {
	if c.MinSlots == 0 {
		c.MinSlots = config.DefaultMinSlots
	}
	if c.CheckIntervalSeconds == 0 {
		c.CheckIntervalSeconds = config.DefaultCheckIntervalSeconds
	}
	c.MinSlots = config.ClampMinSlots(c.MinSlots)
	c.CheckIntervalSeconds = config.ClampCheckInterval(c.CheckIntervalSeconds)
	return c
}

// Dependencies are the monitor's collaborators.
type Dependencies struct {
	Query    OccupancyQuerier
	Launcher Launcher
	Variant  func() string
	History  *history.Store
	Events   events.Recorder
	Metrics  metrics.MonitorRecorder
	Logger   *log.Logger
}

// Option tunes a Monitor.
type Option func(*Monitor)

// WithNow overrides the clock used for event timestamps.
func WithNow(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithTickResolution sets the real-time length of one countdown second.
// Tests compress it so interval and grace delays elapse in milliseconds.
func WithTickResolution(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.tickResolution = d
		}
	}
}

// Monitor runs at most one watch session at a time. All state is confined
// behind the mutex; polls carry the session ID they were started under and
// completions holding a stale session are discarded, which closes the
// stop-before-resolve race.
type Monitor struct {
	query    OccupancyQuerier
	launcher Launcher
	variant  func() string
	history  *history.Store
	events   events.Recorder
	metrics  metrics.MonitorRecorder
	logger   *log.Logger

	now            func() time.Time
	tickResolution time.Duration
	newSessionID   func() string

	mu            sync.Mutex
	phase         types.MonitorPhase
	session       string
	target        types.ServerTarget
	cfg           Config
	countdown     int
	statusText    string
	lastOccupancy *types.OccupancyResult
	startedAt     time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

// New builds an idle monitor.
func New(deps Dependencies, opts ...Option) (*Monitor, error) {
	if deps.Query == nil {
		return nil, errors.New("monitor: occupancy querier is required")
	}
	if deps.Launcher == nil {
		return nil, errors.New("monitor: launcher is required")
	}
	if deps.Events == nil {
		deps.Events = events.NoopRecorder{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NoopMonitorRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}

	m := &Monitor{
		query:          deps.Query,
		launcher:       deps.Launcher,
		variant:        deps.Variant,
		history:        deps.History,
		events:         deps.Events,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		now:            time.Now,
		tickResolution: time.Second,
		newSessionID:   uuid.NewString,
		phase:          types.PhaseIdle,
		cfg:            Config{}.normalized(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start begins watching the target. It polls immediately, then on every
// interval tick, with a 1-second countdown running alongside. Only one
// session may be active.
func (m *Monitor) Start(ctx context.Context, cfg Config, target types.ServerTarget) error {
	cfg = cfg.normalized()

	m.mu.Lock()
	if m.phase == types.PhaseMonitoring || m.phase == types.PhaseTriggering {
		m.mu.Unlock()
		return ErrAlreadyActive
	}
	runCtx, cancel := context.WithCancel(ctx)
	session := m.newSessionID()
	done := make(chan struct{})
	m.phase = types.PhaseMonitoring
	m.session = session
	m.target = target
	m.cfg = cfg
	m.countdown = cfg.CheckIntervalSeconds
	m.statusText = fmt.Sprintf("monitoring %s", target.HostPort())
	m.lastOccupancy = nil
	m.startedAt = m.now().UTC()
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.metrics.ObserveActive(true)
	m.events.Record(types.Event{
		Type:      types.EventMonitorStarted,
		Timestamp: m.now().UTC(),
		Target:    &target,
		Details: map[string]any{
			"min_slots":        cfg.MinSlots,
			"interval_seconds": cfg.CheckIntervalSeconds,
		},
	})
	m.logger.Printf("monitor: watching %s (min slots %d, every %ds)",
		target.HostPort(), cfg.MinSlots, cfg.CheckIntervalSeconds)

	go m.run(runCtx, session, cfg, done)
	return nil
}

// Stop ends the active session. Safe to call in any phase; a poll already in
// flight is discarded when it completes.
func (m *Monitor) Stop() {
	m.stopSession("", "stopped")
}

// Done exposes the running session's completion channel for shutdown
// ordering. A nil channel means no session ever ran.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Status returns a consistent snapshot for the control surface.
func (m *Monitor) Status() types.MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := types.MonitorSnapshot{
		Phase:            m.phase,
		SessionID:        m.session,
		MinSlots:         m.cfg.MinSlots,
		IntervalSeconds:  m.cfg.CheckIntervalSeconds,
		CountdownSeconds: m.countdown,
		StatusText:       m.statusText,
		StartedAt:        m.startedAt,
	}
	if m.target.Address != "" {
		target := m.target
		snap.Target = &target
	}
	if m.lastOccupancy != nil {
		occ := *m.lastOccupancy
		snap.LastOccupancy = &occ
	}
	return snap
}

func (m *Monitor) run(ctx context.Context, session string, cfg Config, done chan struct{}) {
	defer close(done)

	m.poll(ctx, session)

	pollTicker := time.NewTicker(time.Duration(cfg.CheckIntervalSeconds) * m.tickResolution)
	defer pollTicker.Stop()
	countdownTicker := time.NewTicker(m.tickResolution)
	defer countdownTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			m.poll(ctx, session)
		case <-countdownTicker.C:
			m.tickCountdown(session)
		}
	}
}

// tickCountdown decrements the displayed countdown, wrapping back to the
// interval after showing zero. Each tick is recorded so live feeds can drive
// a countdown label; the ring does not retain them.
func (m *Monitor) tickCountdown(session string) {
	m.mu.Lock()
	if m.session != session || m.phase != types.PhaseMonitoring {
		m.mu.Unlock()
		return
	}
	if m.countdown <= 0 {
		m.countdown = m.cfg.CheckIntervalSeconds
	} else {
		m.countdown--
	}
	remaining := m.countdown
	target := m.target
	m.mu.Unlock()

	m.events.Record(types.Event{
		Type:      types.EventCountdown,
		Timestamp: m.now().UTC(),
		Target:    &target,
		Status:    fmt.Sprintf("next check in %ds", remaining),
		Details:   map[string]any{"seconds": remaining},
	})
}

func (m *Monitor) poll(ctx context.Context, session string) {
	m.mu.Lock()
	if m.session != session || m.phase != types.PhaseMonitoring {
		m.mu.Unlock()
		return
	}
	target := m.target
	minSlots := m.cfg.MinSlots
	m.countdown = m.cfg.CheckIntervalSeconds
	m.mu.Unlock()

	m.metrics.IncPolls()
	result := m.query.QueryOccupancy(ctx, target)
	now := m.now().UTC()

	m.mu.Lock()
	if m.session != session || m.phase != types.PhaseMonitoring {
		// Stopped while the query was in flight; the result must have no
		// observable effect.
		m.mu.Unlock()
		return
	}

	if !result.Success {
		m.statusText = fmt.Sprintf("check failed: %s", result.Error)
		m.mu.Unlock()
		m.metrics.IncPollFailures()
		m.events.Record(types.Event{
			Type:      types.EventPollFailed,
			Timestamp: now,
			Target:    &target,
			Status:    result.Error,
		})
		return
	}

	occ := result
	m.lastOccupancy = &occ
	available := result.AvailableSlots()
	triggering := available >= minSlots
	if triggering {
		m.phase = types.PhaseTriggering
		m.statusText = fmt.Sprintf("%d slots free, launching", available)
	} else {
		m.statusText = fmt.Sprintf("%d/%d players, %d slots free",
			result.RealPlayers, result.MaxPlayers, available)
	}
	m.mu.Unlock()

	if m.history != nil {
		m.history.Append(types.OccupancySample{Timestamp: now, Target: target, Occupancy: result})
	}
	m.events.Record(types.Event{
		Type:      types.EventOccupancy,
		Timestamp: now,
		Target:    &target,
		Occupancy: &occ,
	})

	if triggering {
		m.trigger(ctx, session, target, occ)
	}
}

// trigger launches the join URI, falls back to direct navigation when the
// launcher refuses, and stops the session after the grace delay.
func (m *Monitor) trigger(ctx context.Context, session string, target types.ServerTarget, occ types.OccupancyResult) {
	variant := ""
	if m.variant != nil {
		variant = m.variant()
	}
	uri := steam.JoinURLFor(variant, target)

	m.metrics.IncTriggers()
	m.events.Record(types.Event{
		Type:      types.EventTrigger,
		Timestamp: m.now().UTC(),
		Target:    &target,
		Occupancy: &occ,
		URI:       uri,
		Status:    fmt.Sprintf("%d slots free", occ.AvailableSlots()),
	})
	m.logger.Printf("monitor: triggering auto-join for %s", target.HostPort())

	if err := m.launcher.LaunchURI(ctx, uri); err != nil {
		m.metrics.IncLaunchFailures()
		m.logger.Printf("monitor: launch failed, requesting direct navigation: %v", err)
		m.events.Record(types.Event{
			Type:      types.EventNavigate,
			Timestamp: m.now().UTC(),
			Target:    &target,
			URI:       uri,
			Status:    "launcher unavailable",
		})
	} else {
		m.events.Record(types.Event{
			Type:      types.EventLaunch,
			Timestamp: m.now().UTC(),
			Target:    &target,
			URI:       uri,
		})
	}

	grace := time.NewTimer(graceTicks * m.tickResolution)
	defer grace.Stop()
	select {
	case <-ctx.Done():
		return
	case <-grace.C:
	}

	m.stopSession(session, "auto-join complete")
}

// stopSession moves to Stopped and invalidates the session. An empty session
// matches whatever is active.
func (m *Monitor) stopSession(session, reason string) {
	m.mu.Lock()
	if session != "" && m.session != session {
		m.mu.Unlock()
		return
	}
	if m.phase != types.PhaseMonitoring && m.phase != types.PhaseTriggering {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.cancel = nil
	m.phase = types.PhaseStopped
	m.session = ""
	m.statusText = ""
	m.countdown = 0
	target := m.target
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.metrics.ObserveActive(false)
	m.events.Record(types.Event{
		Type:      types.EventMonitorStopped,
		Timestamp: m.now().UTC(),
		Target:    &target,
		Status:    reason,
	})
	m.logger.Printf("monitor: stopped (%s)", reason)
}
