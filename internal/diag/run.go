// Package diag checks the local installation: settings, data dir, bridge
// capability, API reachability, and the credential store. Each check prints
// one PASS/WARN/FAIL line; the command fails when any check fails.
package diag

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/bridge"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/credstore"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/logging"
)

type status string

const (
	statusPass status = "PASS"
	statusWarn status = "WARN"
	statusFail status = "FAIL"
)

type result struct {
	name   string
	status status
	detail string
}

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now        func() time.Time
	Out        io.Writer
	HTTPClient *http.Client
}

// Run executes the environment checks.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}

	fs := flag.NewFlagSet("diag", flag.ContinueOnError)
	settingsFlag := fs.String("settings", "", "Path to settings file (default: per-user location)")
	probeTarget := fs.String("probe", "", "Optional address:port to query over UDP as a live check")
	timeout := fs.Duration("timeout", 5*time.Second, "Per-check timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}

	settingsPath := strings.TrimSpace(*settingsFlag)
	if settingsPath == "" {
		var err error
		settingsPath, err = config.DefaultSettingsPath()
		if err != nil {
			return fmt.Errorf("resolve settings path: %w", err)
		}
	}

	var results []result

	settings, res := checkSettings(ctx, settingsPath)
	results = append(results, res)
	settings = settings.Normalized()

	dataDir := settings.ResolveDataDir(settingsPath)
	results = append(results, checkDataDir(dataDir))
	results = append(results, checkControlListen(settings.Control.Listen))

	br := bridge.New(
		bridge.Config{
			Disabled:   settings.Bridge.Disabled,
			QueryRate:  settings.Bridge.QueryRate,
			QueryBurst: settings.Bridge.QueryBurst,
		},
		bridge.Dependencies{Logger: logging.For(io.Discard, "bridge")},
	)
	results = append(results, checkBridge(br, settings.Bridge.Disabled))

	if *probeTarget != "" {
		results = append(results, checkProbe(ctx, br, *probeTarget, *timeout))
	}

	results = append(results, checkAPI(ctx, deps.HTTPClient, settings.API.BaseURL, *timeout))
	results = append(results, checkCredentials(dataDir, deps.Now))

	var pass, warn, fail int
	for _, r := range results {
		fmt.Fprintf(deps.Out, "%-4s %-16s %s\n", r.status, r.name, r.detail)
		switch r.status {
		case statusPass:
			pass++
		case statusWarn:
			warn++
		case statusFail:
			fail++
		}
	}
	fmt.Fprintf(deps.Out, "\n%d pass, %d warn, %d fail\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func checkSettings(ctx context.Context, path string) (config.Settings, result) {
	settings, err := config.Load(ctx, path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return config.Defaults(), result{
			name:   "settings",
			status: statusWarn,
			detail: fmt.Sprintf("%s not found, defaults in effect", path),
		}
	case err != nil:
		return config.Defaults(), result{
			name:   "settings",
			status: statusFail,
			detail: err.Error(),
		}
	}
	return settings, result{
		name:   "settings",
		status: statusPass,
		detail: fmt.Sprintf("loaded %s", path),
	}
}

// checkDataDir writes and removes a probe file so permission problems show
// up here instead of on the first monitor session.
func checkDataDir(dir string) result {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return result{name: "data dir", status: statusFail, detail: err.Error()}
	}
	probe := filepath.Join(dir, ".diag-probe")
	if err := os.WriteFile(probe, []byte("ok\n"), 0o600); err != nil {
		return result{name: "data dir", status: statusFail, detail: fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	os.Remove(probe)
	return result{name: "data dir", status: statusPass, detail: fmt.Sprintf("%s writable", dir)}
}

func checkControlListen(listen string) result {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return result{name: "control listen", status: statusFail, detail: fmt.Sprintf("%q: %v", listen, err)}
	}
	if host != "localhost" {
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			return result{
				name:   "control listen",
				status: statusFail,
				detail: fmt.Sprintf("%q is not a loopback address", listen),
			}
		}
	}
	return result{name: "control listen", status: statusPass, detail: listen}
}

func checkBridge(br *bridge.Bridge, disabled bool) result {
	if br.Available() {
		return result{name: "bridge", status: statusPass, detail: "capability present"}
	}
	if disabled {
		return result{name: "bridge", status: statusWarn, detail: "disabled in settings, queries use the catalog API"}
	}
	return result{name: "bridge", status: statusWarn, detail: "capability absent, queries use the catalog API"}
}

func checkProbe(ctx context.Context, br *bridge.Bridge, target string, timeout time.Duration) result {
	address, port, err := net.SplitHostPort(target)
	if err != nil {
		return result{name: "udp probe", status: statusFail, detail: fmt.Sprintf("%q: %v", target, err)}
	}
	if !br.Available() {
		return result{name: "udp probe", status: statusWarn, detail: "skipped, bridge capability absent"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	info, err := br.Query(probeCtx, br.ResolveHostname(probeCtx, address), port)
	if err != nil {
		return result{name: "udp probe", status: statusFail, detail: fmt.Sprintf("%s: %v", target, err)}
	}
	return result{
		name:   "udp probe",
		status: statusPass,
		detail: fmt.Sprintf("%s answered: %s (%d/%d)", target, info.Name, info.Players, info.MaxPlayers),
	}
}

func checkAPI(ctx context.Context, client *http.Client, baseURL string, timeout time.Duration) result {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	endpoint, err := url.JoinPath(baseURL, "/api/servers")
	if err != nil {
		return result{name: "catalog api", status: statusFail, detail: fmt.Sprintf("%q: %v", baseURL, err)}
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return result{name: "catalog api", status: statusFail, detail: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return result{name: "catalog api", status: statusFail, detail: fmt.Sprintf("%s unreachable: %v", baseURL, err)}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return result{name: "catalog api", status: statusWarn, detail: fmt.Sprintf("%s answered %s", baseURL, resp.Status)}
	}
	return result{name: "catalog api", status: statusPass, detail: fmt.Sprintf("%s answered %s", baseURL, resp.Status)}
}

func checkCredentials(dataDir string, now func() time.Time) result {
	store, err := credstore.NewStore(
		credstore.Config{DataDir: dataDir},
		credstore.Dependencies{Logger: logging.For(io.Discard, "credstore"), Now: now},
	)
	if err != nil {
		return result{name: "credentials", status: statusFail, detail: err.Error()}
	}
	if !store.Present() {
		return result{name: "credentials", status: statusWarn, detail: "none stored (run the login command)"}
	}
	creds, err := store.Load()
	if err != nil {
		return result{name: "credentials", status: statusFail, detail: fmt.Sprintf("stored but unreadable: %v", err)}
	}
	return result{
		name:   "credentials",
		status: statusPass,
		detail: fmt.Sprintf("stored for %s (since %s)", creds.SteamID64, creds.CreatedAt.Format("2006-01-02")),
	}
}
