package types

import "time"

// MonitorPhase is the auto-join monitor's lifecycle state.
type MonitorPhase string

const (
	PhaseIdle       MonitorPhase = "idle"
	PhaseMonitoring MonitorPhase = "monitoring"
	PhaseTriggering MonitorPhase = "triggering"
	PhaseStopped    MonitorPhase = "stopped"
)

// MonitorSnapshot is the control-surface view of the auto-join monitor at a
// point in time. LastOccupancy is the most recent successful poll; failed
// polls never replace it.
type MonitorSnapshot struct {
	Phase            MonitorPhase     `json:"phase"`
	SessionID        string           `json:"session_id,omitempty"`
	Target           *ServerTarget    `json:"target,omitempty"`
	MinSlots         int              `json:"min_slots"`
	IntervalSeconds  int              `json:"interval_seconds"`
	CountdownSeconds int              `json:"countdown_seconds"`
	StatusText       string           `json:"status_text,omitempty"`
	LastOccupancy    *OccupancyResult `json:"last_occupancy,omitempty"`
	StartedAt        time.Time        `json:"started_at,omitempty"`
}
