package bridge

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

// A2S_INFO request: FF FF FF FF 54 "Source Engine Query\0".
var a2sInfoRequest = []byte{
	0xFF, 0xFF, 0xFF, 0xFF, 0x54,
	'S', 'o', 'u', 'r', 'c', 'e', ' ', 'E', 'n', 'g', 'i', 'n', 'e', ' ',
	'Q', 'u', 'e', 'r', 'y', 0x00,
}

const (
	a2sTypeInfo      = 0x49 // 'I'
	a2sTypeChallenge = 0x41 // 'A'

	a2sQueryTimeout = 5 * time.Second
	a2sBufferSize   = 1400

	// CS servers top out at 64 slots; anything past 67 is a server faking
	// its capacity and every count it reports is discarded.
	maxBelievableSlots = 67
)

func queryInfo(ctx context.Context, hostport string) (*types.ServerInfo, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", hostport)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", hostport, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(a2sQueryTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if _, err := conn.Write(a2sInfoRequest); err != nil {
		return nil, fmt.Errorf("send query: %w", err)
	}

	buf := make([]byte, a2sBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	if err := checkResponseHeader(buf[:n]); err != nil {
		return nil, err
	}

	// Modern servers hand out a challenge first: resend the request with
	// the 4-byte challenge appended.
	if buf[4] == a2sTypeChallenge {
		if n < 9 {
			return nil, fmt.Errorf("challenge response too short: %d bytes", n)
		}
		request := make([]byte, 0, len(a2sInfoRequest)+4)
		request = append(request, a2sInfoRequest...)
		request = append(request, buf[5:9]...)

		if _, err := conn.Write(request); err != nil {
			return nil, fmt.Errorf("send challenge reply: %w", err)
		}
		n, err = conn.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("receive after challenge: %w", err)
		}
		if err := checkResponseHeader(buf[:n]); err != nil {
			return nil, err
		}
	}

	if buf[4] != a2sTypeInfo {
		return nil, fmt.Errorf("unexpected response type 0x%02X", buf[4])
	}

	// Skip header(4), type(1), protocol(1).
	return parseInfo(buf[6:n]), nil
}

func checkResponseHeader(data []byte) error {
	if len(data) < 6 {
		return fmt.Errorf("response too short: %d bytes", len(data))
	}
	if data[0] != 0xFF || data[1] != 0xFF || data[2] != 0xFF || data[3] != 0xFF {
		return fmt.Errorf("invalid response header")
	}
	return nil
}

// parseInfo decodes the info payload. Truncated responses yield whatever
// fields fit; the reader runs out quietly rather than failing the query.
func parseInfo(data []byte) *types.ServerInfo {
	r := payloadReader{data: data}
	info := &types.ServerInfo{
		Name:   r.cstring(),
		Map:    r.cstring(),
		Folder: r.cstring(),
		Game:   r.cstring(),
		AppID:  int(r.uint16()),
	}
	info.Players = int(r.byte())
	info.MaxPlayers = int(r.byte())
	info.Bots = int(r.byte())
	info.ServerType = serverTypeName(r.byte())
	info.Environment = environmentName(r.byte())
	info.Password = r.byte() != 0
	info.VAC = r.byte() != 0
	info.Version = r.cstring()

	if info.MaxPlayers > maxBelievableSlots {
		info.Players = 0
		info.MaxPlayers = 0
		info.Bots = 0
	}
	return info
}

func serverTypeName(c byte) string {
	switch c {
	case 'd':
		return "dedicated"
	case 'l':
		return "non-dedicated"
	case 'p':
		return "sourcetv"
	case 0:
		return ""
	default:
		return string(c)
	}
}

func environmentName(c byte) string {
	switch c {
	case 'l':
		return "Linux"
	case 'w':
		return "Windows"
	case 'm', 'o':
		return "Mac"
	case 0:
		return ""
	default:
		return string(c)
	}
}

type payloadReader struct {
	data []byte
	pos  int
}

func (r *payloadReader) cstring() string {
	start := r.pos
	for r.pos < len(r.data) && r.data[r.pos] != 0 {
		r.pos++
	}
	s := string(r.data[start:r.pos])
	if r.pos < len(r.data) {
		r.pos++ // skip terminator
	}
	return s
}

func (r *payloadReader) byte() byte {
	if r.pos >= len(r.data) {
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *payloadReader) uint16() uint16 {
	if r.pos+2 > len(r.data) {
		r.pos = len(r.data)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v
}
