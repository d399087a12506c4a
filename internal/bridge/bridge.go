// Package bridge implements the host-runtime capabilities the UI shell
// cannot perform itself: raw server queries over UDP, hostname resolution,
// external process launch, and guarded file export. Capability may be
// absent (bridge disabled in settings, or the host denies UDP sockets);
// every entry point then reports ErrUnavailable.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/time/rate"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

// ErrUnavailable signals capability absence, as opposed to a capability
// that was present but failed. Callers fall back on this error only.
var ErrUnavailable = errors.New("bridge unavailable")

type Config struct {
	// Disabled turns the bridge off regardless of what the host allows.
	Disabled bool
	// QueryRate and QueryBurst bound outbound A2S traffic.
	QueryRate  float64
	QueryBurst int
}

type Dependencies struct {
	Logger *log.Logger
	// LookupIP overrides hostname resolution (tests).
	LookupIP func(ctx context.Context, host string) ([]net.IP, error)
	// RunCommand overrides the platform launcher invocation (tests).
	RunCommand func(ctx context.Context, name string, args ...string) error
}

type Bridge struct {
	cfg       Config
	logger    *log.Logger
	limiter   *rate.Limiter
	lookupIP  func(ctx context.Context, host string) ([]net.IP, error)
	runCmd    func(ctx context.Context, name string, args ...string) error
	available bool
}

// New probes capability once, at construction. The bridge is available when
// it is not disabled and the host grants an unprivileged UDP socket.
func New(cfg Config, deps Dependencies) *Bridge {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.LookupIP == nil {
		deps.LookupIP = func(ctx context.Context, host string) ([]net.IP, error) {
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, err
			}
			ips := make([]net.IP, 0, len(addrs))
			for _, a := range addrs {
				ips = append(ips, a.IP)
			}
			return ips, nil
		}
	}
	if deps.RunCommand == nil {
		deps.RunCommand = func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		}
	}

	rateLimit := cfg.QueryRate
	if rateLimit <= 0 {
		rateLimit = 2
	}
	burst := cfg.QueryBurst
	if burst <= 0 {
		burst = 4
	}

	b := &Bridge{
		cfg:      cfg,
		logger:   deps.Logger,
		limiter:  rate.NewLimiter(rate.Limit(rateLimit), burst),
		lookupIP: deps.LookupIP,
		runCmd:   deps.RunCommand,
	}
	b.available = !cfg.Disabled && probeUDP()
	if !b.available {
		b.logger.Printf("bridge: capability absent (disabled=%t)", cfg.Disabled)
	}
	return b
}

func probeUDP() bool {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Available reports the capability decision made at construction.
func (b *Bridge) Available() bool {
	return b.available
}

// ResolveHostname maps a host name to a numeric address. Resolution is
// best-effort: numeric input passes through, and any lookup failure returns
// the original host unchanged. IPv4 addresses are preferred.
func (b *Bridge) ResolveHostname(ctx context.Context, host string) string {
	if net.ParseIP(host) != nil {
		return host
	}
	ips, err := b.lookupIP(ctx, host)
	if err != nil || len(ips) == 0 {
		b.logger.Printf("bridge: resolve %q failed, using as-is: %v", host, err)
		return host
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
	}
	return ips[0].String()
}

// Query performs a direct A2S_INFO query against address:port.
func (b *Bridge) Query(ctx context.Context, address, port string) (*types.ServerInfo, error) {
	if !b.available {
		return nil, ErrUnavailable
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("query rate limit: %w", err)
	}
	return queryInfo(ctx, net.JoinHostPort(address, port))
}

// Launchable URI schemes. The launcher hands the URI to the OS shell, so
// anything outside the game client and plain web links is refused.
var allowedSchemes = map[string]struct{}{
	"steam":      {},
	"steamchina": {},
	"http":       {},
	"https":      {},
}

// LaunchURI asks the operating system to open the URI with its registered
// handler.
func (b *Bridge) LaunchURI(ctx context.Context, uri string) error {
	if !b.available {
		return ErrUnavailable
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("parse launch uri: %w", err)
	}
	if _, ok := allowedSchemes[parsed.Scheme]; !ok {
		return fmt.Errorf("refusing to launch scheme %q", parsed.Scheme)
	}

	name, args := openerCommand(uri)
	if err := b.runCmd(ctx, name, args...); err != nil {
		return fmt.Errorf("launch %q: %w", uri, err)
	}
	b.logger.Printf("bridge: launched %s", uri)
	return nil
}

func openerCommand(uri string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		return "open", []string{uri}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", uri}
	default:
		return "xdg-open", []string{uri}
	}
}

// ExportJSON writes a favorites export. Only .json destinations are
// allowed; the UI passes arbitrary user-picked paths through here.
func (b *Bridge) ExportJSON(path string, payload []byte) error {
	if !b.available {
		return ErrUnavailable
	}
	clean := filepath.Clean(path)
	if !strings.EqualFold(filepath.Ext(clean), ".json") {
		return fmt.Errorf("only .json files are allowed, got %q", filepath.Ext(clean))
	}
	if err := os.WriteFile(clean, payload, 0o644); err != nil {
		return fmt.Errorf("write export %q: %w", clean, err)
	}
	return nil
}
