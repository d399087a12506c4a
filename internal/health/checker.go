// Package health evaluates the readiness conditions exposed on /healthz and
// /readyz: whether a server directory has been synced, whether the sync loop
// is still succeeding, and whether the auto-join monitor is in a sane phase.
package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/metrics"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

const (
	defaultSyncStale = 45 * time.Minute

	// The monitor holds the triggering phase only for the short launch grace
	// window; a session sitting there longer than this is wedged.
	triggeringStuckAfter = 30 * time.Second
)

// Dependencies feed the checker its live inputs. All fields are optional;
// absent ones contribute nothing to the evaluation.
type Dependencies struct {
	Metrics         *metrics.Store
	BridgeAvailable func() bool
	MonitorStatus   func() types.MonitorSnapshot
}

// Checker evaluates readiness. Directory sync outcomes are pushed in through
// ObserveDirectorySync; monitor and bridge state are pulled on demand.
type Checker struct {
	metrics         *metrics.Store
	bridgeAvailable func() bool
	monitorStatus   func() types.MonitorSnapshot
	staleAfter      time.Duration

	mu              sync.RWMutex
	lastSyncSuccess time.Time
	syncErr         string
	lastSyncError   time.Time
	triggeringSince time.Time
}

// NewChecker constructs a readiness checker. staleAfter bounds how old the
// last successful directory sync may be before readiness degrades.
func NewChecker(staleAfter time.Duration, deps Dependencies) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultSyncStale
	}
	return &Checker{
		metrics:         deps.Metrics,
		bridgeAvailable: deps.BridgeAvailable,
		monitorStatus:   deps.MonitorStatus,
		staleAfter:      staleAfter,
	}
}

// ObserveDirectorySync records the outcome of a directory sync attempt.
func (c *Checker) ObserveDirectorySync(ts time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.syncErr = err.Error()
		c.lastSyncError = ts
		return
	}
	c.lastSyncSuccess = ts
	c.syncErr = ""
	c.lastSyncError = time.Time{}
}

// Ready evaluates all readiness conditions, updates the readiness gauge, and
// returns the overall verdict with the reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 3)

	c.mu.RLock()
	lastSuccess := c.lastSyncSuccess
	syncErr := c.syncErr
	lastErr := c.lastSyncError
	staleAfter := c.staleAfter
	c.mu.RUnlock()

	if lastSuccess.IsZero() {
		reasons = append(reasons, "server directory not yet synced")
	} else if now.Sub(lastSuccess) > staleAfter {
		reasons = append(reasons, fmt.Sprintf("directory sync stale (%s)", now.Sub(lastSuccess).Round(time.Second)))
	}

	if syncErr != "" && now.Sub(lastErr) <= staleAfter {
		reasons = append(reasons, fmt.Sprintf("directory sync failing: %s", syncErr))
	}

	if c.monitorStatus != nil {
		snap := c.monitorStatus()
		if c.observeTriggering(snap.Phase, now) {
			reasons = append(reasons, "monitor stuck in triggering phase")
		}
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		c.metrics.ObserveReadiness(ready, strings.Join(reasons, "; "))
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}

// observeTriggering tracks how long the monitor has sat in the triggering
// phase and reports once the stay exceeds the launch grace by a wide margin.
func (c *Checker) observeTriggering(phase types.MonitorPhase, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if phase != types.PhaseTriggering {
		c.triggeringSince = time.Time{}
		return false
	}
	if c.triggeringSince.IsZero() {
		c.triggeringSince = now
		return false
	}
	return now.Sub(c.triggeringSince) > triggeringStuckAfter
}

// Report is the /healthz payload: the readiness verdict plus informational
// facts that do not gate readiness, such as bridge availability.
type Report struct {
	Ready             bool               `json:"ready"`
	Reasons           []string           `json:"reasons,omitempty"`
	BridgeAvailable   bool               `json:"bridge_available"`
	DirectorySyncedAt time.Time          `json:"directory_synced_at,omitempty"`
	MonitorPhase      types.MonitorPhase `json:"monitor_phase,omitempty"`
}

// Report assembles the full health view for the control surface.
func (c *Checker) Report(now time.Time) Report {
	ready, reasons := c.Ready(now)

	c.mu.RLock()
	syncedAt := c.lastSyncSuccess
	c.mu.RUnlock()

	report := Report{
		Ready:             ready,
		Reasons:           reasons,
		DirectorySyncedAt: syncedAt,
	}
	if c.bridgeAvailable != nil {
		report.BridgeAvailable = c.bridgeAvailable()
	}
	if c.monitorStatus != nil {
		report.MonitorPhase = c.monitorStatus().Phase
	}
	return report
}
