package types

import "time"

type EventType string

const (
	EventMonitorStarted    EventType = "MonitorStarted"
	EventMonitorStopped    EventType = "MonitorStopped"
	EventOccupancy         EventType = "Occupancy"
	EventPollFailed        EventType = "PollFailed"
	EventCountdown         EventType = "Countdown"
	EventTrigger           EventType = "Trigger"
	EventLaunch            EventType = "Launch"
	EventNavigate          EventType = "Navigate"
	EventTransportFallback EventType = "TransportFallback"
	EventDirectorySynced   EventType = "DirectorySynced"
	EventDirectoryRejected EventType = "DirectoryRejected"
)

type Event struct {
	Type      EventType        `json:"type"`
	Timestamp time.Time        `json:"ts"`
	Target    *ServerTarget    `json:"target,omitempty"`
	Occupancy *OccupancyResult `json:"occupancy,omitempty"`
	Status    string           `json:"status,omitempty"`
	URI       string           `json:"uri,omitempty"`
	Details   map[string]any   `json:"details,omitempty"`
}
