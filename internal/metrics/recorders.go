package metrics

// TransportRecorder observes request traffic through the transport client.
type TransportRecorder interface {
	IncRequests()
	IncRequestFailures()
	IncRetries()
	IncFallbacks()
}

type NoopTransportRecorder struct{}

func (NoopTransportRecorder) IncRequests()        {}
func (NoopTransportRecorder) IncRequestFailures() {}
func (NoopTransportRecorder) IncRetries()         {}
func (NoopTransportRecorder) IncFallbacks()       {}

// QueryRecorder observes occupancy queries by delivery transport.
type QueryRecorder interface {
	IncLocalQueries()
	IncRemoteQueries()
}

type NoopQueryRecorder struct{}

func (NoopQueryRecorder) IncLocalQueries()  {}
func (NoopQueryRecorder) IncRemoteQueries() {}

// MonitorRecorder observes auto-join monitor activity.
type MonitorRecorder interface {
	ObserveActive(active bool)
	IncPolls()
	IncPollFailures()
	IncTriggers()
	IncLaunchFailures()
}

type NoopMonitorRecorder struct{}

func (NoopMonitorRecorder) ObserveActive(active bool) {}
func (NoopMonitorRecorder) IncPolls()                 {}
func (NoopMonitorRecorder) IncPollFailures()          {}
func (NoopMonitorRecorder) IncTriggers()              {}
func (NoopMonitorRecorder) IncLaunchFailures()        {}
