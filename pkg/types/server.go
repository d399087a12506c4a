package types

import (
	"net"
	"strconv"
)

// ServerTarget identifies one game server being queried, watched, or joined.
// Immutable for the lifetime of a monitoring session.
type ServerTarget struct {
	Address     string `json:"address" yaml:"address"`
	Port        string `json:"port" yaml:"port"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	GameID      int    `json:"game_id,omitempty" yaml:"game_id,omitempty"`
	GameName    string `json:"game_name,omitempty" yaml:"game_name,omitempty"`
}

// HostPort renders the target as "address:port" for dialing and URIs.
func (t ServerTarget) HostPort() string {
	return net.JoinHostPort(t.Address, t.Port)
}

// ServerRecord is the canonical catalog entry for one listed server.
type ServerRecord struct {
	Address    string `json:"address" yaml:"address"`
	Port       string `json:"port" yaml:"port"`
	Name       string `json:"name" yaml:"name"`
	GameID     int    `json:"game_id,omitempty" yaml:"game_id,omitempty"`
	GameName   string `json:"game_name,omitempty" yaml:"game_name,omitempty"`
	Players    int    `json:"players" yaml:"players"`
	MaxPlayers int    `json:"max_players" yaml:"max_players"`
	Bots       int    `json:"bots" yaml:"bots"`
}

// Target converts a catalog record into a query/monitor target.
func (r ServerRecord) Target() ServerTarget {
	return ServerTarget{
		Address:     r.Address,
		Port:        r.Port,
		DisplayName: r.Name,
		GameID:      r.GameID,
		GameName:    r.GameName,
	}
}

// Occupancy projects the record's counts onto a successful remote-transport
// occupancy result. Like ServerInfo, the advertised player count still
// includes bots.
func (r ServerRecord) Occupancy() OccupancyResult {
	real := r.Players - r.Bots
	if real < 0 {
		real = 0
	}
	return OccupancyResult{
		Success:     true,
		RealPlayers: real,
		MaxPlayers:  r.MaxPlayers,
		Bots:        r.Bots,
		Transport:   TransportRemote,
	}
}

// RawServerRecord accepts both field-naming generations the catalog API
// emits. Current deployments send address/port/name/game_id; older ones
// still send ip/server_port/hostname/appid. The shape of a record is keyed
// by which address field is populated, and Normalize maps either shape into
// a canonical ServerRecord exactly once, at the decode boundary.
type RawServerRecord struct {
	Address    string `json:"address"`
	Port       int    `json:"port"`
	Name       string `json:"name"`
	GameID     int    `json:"game_id"`
	GameName   string `json:"game_name"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Bots       int    `json:"bots"`

	IP            string `json:"ip"`
	ServerPort    int    `json:"server_port"`
	Hostname      string `json:"hostname"`
	AppID         int    `json:"appid"`
	Game          string `json:"game"`
	NumPlayers    int    `json:"num_players"`
	LegacyMaximum int    `json:"maxplayers"`
	NumBots       int    `json:"num_bots"`
}

// Normalize resolves the wire shape into the canonical record.
func (r RawServerRecord) Normalize() ServerRecord {
	if r.Address != "" {
		return ServerRecord{
			Address:    r.Address,
			Port:       strconv.Itoa(r.Port),
			Name:       r.Name,
			GameID:     r.GameID,
			GameName:   r.GameName,
			Players:    r.Players,
			MaxPlayers: r.MaxPlayers,
			Bots:       r.Bots,
		}
	}
	return ServerRecord{
		Address:    r.IP,
		Port:       strconv.Itoa(r.ServerPort),
		Name:       r.Hostname,
		GameID:     r.AppID,
		GameName:   r.Game,
		Players:    r.NumPlayers,
		MaxPlayers: r.LegacyMaximum,
		Bots:       r.NumBots,
	}
}

// ServerInfo is the full decode of a direct A2S_INFO response. Players is
// the raw advertised count and still includes bots; Occupancy derives the
// real-player figure.
type ServerInfo struct {
	Name        string `json:"name"`
	Map         string `json:"map"`
	Folder      string `json:"folder"`
	Game        string `json:"game"`
	AppID       int    `json:"app_id"`
	Players     int    `json:"players"`
	MaxPlayers  int    `json:"max_players"`
	Bots        int    `json:"bots"`
	ServerType  string `json:"server_type"`
	Environment string `json:"environment"`
	Password    bool   `json:"password"`
	VAC         bool   `json:"vac"`
	Version     string `json:"version"`
}

// Occupancy projects the info block onto a successful local-transport
// occupancy result.
func (i ServerInfo) Occupancy() OccupancyResult {
	real := i.Players - i.Bots
	if real < 0 {
		real = 0
	}
	return OccupancyResult{
		Success:     true,
		RealPlayers: real,
		MaxPlayers:  i.MaxPlayers,
		Bots:        i.Bots,
		Transport:   TransportLocal,
	}
}
