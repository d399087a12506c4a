package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Store maintains in-memory gauges and counters for client-core telemetry.
type Store struct {
	pollsTotal          atomic.Uint64
	pollFailures        atomic.Uint64
	localQueries        atomic.Uint64
	remoteQueries       atomic.Uint64
	requestsTotal       atomic.Uint64
	requestFailures     atomic.Uint64
	transportRetries    atomic.Uint64
	transportFallbacks  atomic.Uint64
	monitorActive       atomic.Int64
	triggersTotal       atomic.Uint64
	launchFailures      atomic.Uint64
	eventsDropped       atomic.Uint64
	directorySyncs      atomic.Uint64
	directoryRejections atomic.Uint64
	readinessState      atomic.Int64
	readinessReason     atomic.Value
	readyTransitions    atomic.Uint64
	notReadyTransitions atomic.Uint64
}

// NewStore constructs a Store with zeroed metrics.
func NewStore() *Store {
	store := &Store{}
	store.readinessReason.Store("")
	return store
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	PollsTotal          uint64
	PollFailuresTotal   uint64
	LocalQueriesTotal   uint64
	RemoteQueriesTotal  uint64
	RequestsTotal       uint64
	RequestFailures     uint64
	TransportRetries    uint64
	TransportFallbacks  uint64
	MonitorActive       bool
	TriggersTotal       uint64
	LaunchFailures      uint64
	EventsDroppedTotal  uint64
	DirectorySyncs      uint64
	DirectoryRejections uint64
	Ready               bool
	ReadyReason         string
	ReadyTransitions    uint64
	NotReadyTransitions uint64
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	reason, _ := s.readinessReason.Load().(string)
	return Snapshot{
		PollsTotal:          s.pollsTotal.Load(),
		PollFailuresTotal:   s.pollFailures.Load(),
		LocalQueriesTotal:   s.localQueries.Load(),
		RemoteQueriesTotal:  s.remoteQueries.Load(),
		RequestsTotal:       s.requestsTotal.Load(),
		RequestFailures:     s.requestFailures.Load(),
		TransportRetries:    s.transportRetries.Load(),
		TransportFallbacks:  s.transportFallbacks.Load(),
		MonitorActive:       s.monitorActive.Load() == 1,
		TriggersTotal:       s.triggersTotal.Load(),
		LaunchFailures:      s.launchFailures.Load(),
		EventsDroppedTotal:  s.eventsDropped.Load(),
		DirectorySyncs:      s.directorySyncs.Load(),
		DirectoryRejections: s.directoryRejections.Load(),
		Ready:               s.readinessState.Load() == 1,
		ReadyReason:         reason,
		ReadyTransitions:    s.readyTransitions.Load(),
		NotReadyTransitions: s.notReadyTransitions.Load(),
	}
}

// TransportRecorder returns an implementation of TransportRecorder backed by the store.
func (s *Store) TransportRecorder() TransportRecorder {
	return transportRecorder{store: s}
}

// QueryRecorder returns an implementation of QueryRecorder backed by the store.
func (s *Store) QueryRecorder() QueryRecorder {
	return queryRecorder{store: s}
}

// MonitorRecorder returns an implementation of MonitorRecorder backed by the store.
func (s *Store) MonitorRecorder() MonitorRecorder {
	return monitorRecorder{store: s}
}

type transportRecorder struct {
	store *Store
}

func (r transportRecorder) IncRequests()        { r.store.requestsTotal.Add(1) }
func (r transportRecorder) IncRequestFailures() { r.store.requestFailures.Add(1) }
func (r transportRecorder) IncRetries()         { r.store.transportRetries.Add(1) }
func (r transportRecorder) IncFallbacks()       { r.store.transportFallbacks.Add(1) }

type queryRecorder struct {
	store *Store
}

func (r queryRecorder) IncLocalQueries()  { r.store.localQueries.Add(1) }
func (r queryRecorder) IncRemoteQueries() { r.store.remoteQueries.Add(1) }

type monitorRecorder struct {
	store *Store
}

func (r monitorRecorder) ObserveActive(active bool) {
	v := int64(0)
	if active {
		v = 1
	}
	r.store.monitorActive.Store(v)
}

func (r monitorRecorder) IncPolls()          { r.store.pollsTotal.Add(1) }
func (r monitorRecorder) IncPollFailures()   { r.store.pollFailures.Add(1) }
func (r monitorRecorder) IncTriggers()       { r.store.triggersTotal.Add(1) }
func (r monitorRecorder) IncLaunchFailures() { r.store.launchFailures.Add(1) }

// IncEventsDropped counts bus events discarded because a subscriber lagged.
func (s *Store) IncEventsDropped() { s.eventsDropped.Add(1) }

// IncDirectorySyncs counts accepted directory snapshots.
func (s *Store) IncDirectorySyncs() { s.directorySyncs.Add(1) }

// IncDirectoryRejections counts snapshots refused on signature or decode grounds.
func (s *Store) IncDirectoryRejections() { s.directoryRejections.Add(1) }

// ObserveReadiness records the latest readiness evaluation.
func (s *Store) ObserveReadiness(ready bool, reason string) {
	prev := s.readinessState.Load()
	if ready {
		if prev == 0 {
			s.readyTransitions.Add(1)
		}
		s.readinessState.Store(1)
		s.readinessReason.Store("")
		return
	}
	if prev == 1 {
		s.notReadyTransitions.Add(1)
	}
	s.readinessState.Store(0)
	s.readinessReason.Store(reason)
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	readyValue := 0
	if snap.Ready {
		readyValue = 1
	}
	activeValue := 0
	if snap.MonitorActive {
		activeValue = 1
	}
	reason := snap.ReadyReason
	if snap.Ready && reason == "" {
		reason = "ready"
	}
	if !snap.Ready && reason == "" {
		reason = "unknown"
	}
	lines := []string{
		"# HELP upkk_core_polls_total Total occupancy polls performed by the auto-join monitor.",
		"# TYPE upkk_core_polls_total counter",
		fmt.Sprintf("upkk_core_polls_total %d", snap.PollsTotal),
		"# HELP upkk_core_poll_failures_total Polls that produced no usable occupancy.",
		"# TYPE upkk_core_poll_failures_total counter",
		fmt.Sprintf("upkk_core_poll_failures_total %d", snap.PollFailuresTotal),
		"# HELP upkk_core_queries_total Occupancy queries by delivery transport.",
		"# TYPE upkk_core_queries_total counter",
		fmt.Sprintf("upkk_core_queries_total{transport=%q} %d", "local", snap.LocalQueriesTotal),
		fmt.Sprintf("upkk_core_queries_total{transport=%q} %d", "remote", snap.RemoteQueriesTotal),
		"# HELP upkk_core_api_requests_total API requests issued through the transport client.",
		"# TYPE upkk_core_api_requests_total counter",
		fmt.Sprintf("upkk_core_api_requests_total %d", snap.RequestsTotal),
		"# HELP upkk_core_api_request_failures_total API requests that exhausted all attempts.",
		"# TYPE upkk_core_api_request_failures_total counter",
		fmt.Sprintf("upkk_core_api_request_failures_total %d", snap.RequestFailures),
		"# HELP upkk_core_transport_retries_total Retried request attempts after retryable failures.",
		"# TYPE upkk_core_transport_retries_total counter",
		fmt.Sprintf("upkk_core_transport_retries_total %d", snap.TransportRetries),
		"# HELP upkk_core_transport_fallbacks_total Permanent fallbacks from the bridge channel to the standard channel.",
		"# TYPE upkk_core_transport_fallbacks_total counter",
		fmt.Sprintf("upkk_core_transport_fallbacks_total %d", snap.TransportFallbacks),
		"# HELP upkk_core_monitor_active Whether an auto-join monitor session is running (1=active).",
		"# TYPE upkk_core_monitor_active gauge",
		fmt.Sprintf("upkk_core_monitor_active %d", activeValue),
		"# HELP upkk_core_triggers_total Threshold triggers that initiated a launch.",
		"# TYPE upkk_core_triggers_total counter",
		fmt.Sprintf("upkk_core_triggers_total %d", snap.TriggersTotal),
		"# HELP upkk_core_launch_failures_total Launch attempts that fell back to direct navigation.",
		"# TYPE upkk_core_launch_failures_total counter",
		fmt.Sprintf("upkk_core_launch_failures_total %d", snap.LaunchFailures),
		"# HELP upkk_core_events_dropped_total Bus events discarded because a subscriber lagged.",
		"# TYPE upkk_core_events_dropped_total counter",
		fmt.Sprintf("upkk_core_events_dropped_total %d", snap.EventsDroppedTotal),
		"# HELP upkk_core_directory_syncs_total Signed directory snapshots accepted.",
		"# TYPE upkk_core_directory_syncs_total counter",
		fmt.Sprintf("upkk_core_directory_syncs_total %d", snap.DirectorySyncs),
		"# HELP upkk_core_directory_rejections_total Directory snapshots refused on verification grounds.",
		"# TYPE upkk_core_directory_rejections_total counter",
		fmt.Sprintf("upkk_core_directory_rejections_total %d", snap.DirectoryRejections),
		"# HELP upkk_core_ready Whether the core considers itself ready (1=ready).",
		"# TYPE upkk_core_ready gauge",
		fmt.Sprintf("upkk_core_ready %d", readyValue),
		"# HELP upkk_core_ready_info Reason associated with the most recent readiness evaluation.",
		"# TYPE upkk_core_ready_info gauge",
		fmt.Sprintf("upkk_core_ready_info{reason=%q} 1", reason),
		"# HELP upkk_core_ready_transitions_total Count of readiness state transitions by resulting state.",
		"# TYPE upkk_core_ready_transitions_total counter",
		fmt.Sprintf("upkk_core_ready_transitions_total{state=%q} %d", "ready", snap.ReadyTransitions),
		fmt.Sprintf("upkk_core_ready_transitions_total{state=%q} %d", "not_ready", snap.NotReadyTransitions),
		"",
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
