// Package steam classifies catalog games and builds the launch URIs handed
// to the platform opener. Everything here is pure string logic; reading the
// persisted variant preference is the caller's job.
package steam

import (
	"fmt"
	"net"
	"strings"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

// The two supported client variants double as URI schemes.
const (
	VariantInternational = "steam"
	VariantChina         = "steamchina"
)

// rungame URIs embed the fixed CS2 app id and the account token the launch
// contract expects.
const (
	csAppID      = 730
	accountToken = "76561202255233023"
)

// Classification is the tri-state outcome of game identification.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassCS
	ClassNotCS
)

func (c Classification) String() string {
	switch c {
	case ClassCS:
		return "cs"
	case ClassNotCS:
		return "not-cs"
	default:
		return "unknown"
	}
}

var csGameIDs = map[int]struct{}{
	10:  {}, // Counter-Strike
	240: {}, // Counter-Strike: Source
	730: {}, // CS:GO / Counter-Strike 2
}

var csGameNames = map[string]struct{}{
	"counter-strike":                   {},
	"counter-strike: source":           {},
	"counter-strike: global offensive": {},
	"counter-strike 2":                 {},
	"cs 1.6":                           {},
	"cs:go":                            {},
	"csgo":                             {},
	"cs2":                              {},
}

// NormalizeVariant maps any stored preference onto the supported variants,
// defaulting to the international client.
func NormalizeVariant(variant string) string {
	if strings.EqualFold(strings.TrimSpace(variant), VariantChina) {
		return VariantChina
	}
	return VariantInternational
}

// ClassifyCSFamily reports whether the game is part of the Counter-Strike
// family. Numeric ids win over names; a target carrying neither id nor name
// is Unknown rather than NotCS.
func ClassifyCSFamily(gameID int, gameName string) Classification {
	if _, ok := csGameIDs[gameID]; ok {
		return ClassCS
	}
	name := strings.ToLower(strings.TrimSpace(gameName))
	if _, ok := csGameNames[name]; ok {
		return ClassCS
	}
	if gameID != 0 || name != "" {
		return ClassNotCS
	}
	return ClassUnknown
}

// BuildJoinURL renders the launch URI for one server. Known non-CS games get
// a plain connect URI; CS-family games get the rungame form. Unknown games
// take the CS path so bare-address targets keep auto-joining.
func BuildJoinURL(variant, address, port string, gameID int, gameName string) string {
	scheme := NormalizeVariant(variant)
	hostport := net.JoinHostPort(address, port)
	if ClassifyCSFamily(gameID, gameName) == ClassNotCS {
		return fmt.Sprintf("%s://connect/%s", scheme, hostport)
	}
	return fmt.Sprintf("%s://rungame/%d/%s/+connect %s", scheme, csAppID, accountToken, hostport)
}

// JoinURLFor is BuildJoinURL over a catalog target.
func JoinURLFor(variant string, target types.ServerTarget) string {
	return BuildJoinURL(variant, target.Address, target.Port, target.GameID, target.GameName)
}
