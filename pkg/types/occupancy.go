package types

import "time"

// Transport names the delivery channel that produced an occupancy result.
type Transport string

const (
	// TransportLocal means the host bridge queried the server directly.
	TransportLocal Transport = "local"
	// TransportRemote means the catalog API refreshed the server for us.
	TransportRemote Transport = "remote"
)

// OccupancyResult is the outcome of one occupancy poll. It is never
// partially filled: when Success is false the count fields carry no meaning
// and must not overwrite previously displayed values.
type OccupancyResult struct {
	Success     bool      `json:"success" yaml:"success"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	RealPlayers int       `json:"real_players" yaml:"real_players"`
	MaxPlayers  int       `json:"max_players" yaml:"max_players"`
	Bots        int       `json:"bots" yaml:"bots"`
	Transport   Transport `json:"transport" yaml:"transport"`
}

// AvailableSlots is always recomputed from its inputs, never stored. The
// result can go negative when a server overfills past its advertised
// capacity; threshold comparisons treat that as no free capacity.
func (r OccupancyResult) AvailableSlots() int {
	return r.MaxPlayers - r.RealPlayers
}

// OccupancySample is one timestamped poll outcome kept in the occupancy
// history ring and replayed to the UI after a restart.
type OccupancySample struct {
	Timestamp time.Time       `json:"ts" yaml:"ts"`
	Target    ServerTarget    `json:"target" yaml:"target"`
	Occupancy OccupancyResult `json:"occupancy" yaml:"occupancy"`
}
