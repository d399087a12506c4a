// Package watchcli implements the watch subcommand: a single monitoring
// session rendered as terminal lines. It assembles its own query pipeline
// instead of starting the full core, so it can run while a service instance
// owns the control port, and it writes nothing except the credentials it
// reads.
package watchcli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/bridge"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/catalog"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/certs"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/credstore"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/events"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/logging"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/monitor"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/query"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/transport"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/worker"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

type Dependencies struct {
	Now func() time.Time
	Out io.Writer
	// LogWriter receives component logs. It defaults to io.Discard so
	// bridge and transport chatter stays off the rendered feed.
	LogWriter io.Writer
}

// Run watches one server until the auto-join triggers or ctx is cancelled.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.LogWriter == nil {
		deps.LogWriter = io.Discard
	}

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	settingsFlag := fs.String("settings", "", "Path to settings file (default: per-user location)")
	address := fs.String("address", "", "Server address (hostname or IP)")
	port := fs.String("port", "", "Server query port")
	minSlots := fs.Int("min-slots", 0, "Free slots that trigger the join (default: settings value)")
	interval := fs.Int("interval", 0, "Seconds between checks (default: settings value)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	target := types.ServerTarget{
		Address: strings.TrimSpace(*address),
		Port:    strings.TrimSpace(*port),
	}
	if target.Address == "" || target.Port == "" {
		return errors.New("--address and --port are required")
	}

	settingsPath := strings.TrimSpace(*settingsFlag)
	if settingsPath == "" {
		var err error
		settingsPath, err = config.DefaultSettingsPath()
		if err != nil {
			return fmt.Errorf("resolve settings path: %w", err)
		}
	}
	settings, err := config.LoadOrDefault(ctx, settingsPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	settings = settings.Normalized()

	cfg := monitor.Config{
		MinSlots:             settings.MinSlots,
		CheckIntervalSeconds: settings.CheckIntervalSeconds,
	}
	if *minSlots > 0 {
		cfg.MinSlots = config.ClampMinSlots(*minSlots)
	}
	if *interval > 0 {
		cfg.CheckIntervalSeconds = config.ClampCheckInterval(*interval)
	}

	mon, bus, err := assemble(settings, settingsPath, deps)
	if err != nil {
		return err
	}

	// Subscribe before Start so the session's first events are not lost.
	feed, cancelFeed := bus.Subscribe()
	defer cancelFeed()

	if err := mon.Start(ctx, cfg, target); err != nil {
		return err
	}
	done := mon.Done()

	for {
		select {
		case <-ctx.Done():
			// Stop records the final stopped event before returning, so
			// a drain afterwards always renders it.
			mon.Stop()
			drainFeed(deps.Out, feed)
			return nil
		case ev, ok := <-feed:
			if !ok {
				return nil
			}
			renderEvent(deps.Out, ev)
			if ev.Type == types.EventMonitorStopped {
				return nil
			}
		case <-done:
			drainFeed(deps.Out, feed)
			return nil
		}
	}
}

// assemble builds the minimal pipeline a watch session needs: bridge plus
// API-fallback transport feeding the query adapter, and a private bus the
// renderer subscribes to. No history store, no state file, no control server.
func assemble(settings config.Settings, settingsPath string, deps Dependencies) (*monitor.Monitor, *events.Bus, error) {
	logWriter := deps.LogWriter

	br := bridge.New(
		bridge.Config{
			Disabled:   settings.Bridge.Disabled,
			QueryRate:  settings.Bridge.QueryRate,
			QueryBurst: settings.Bridge.QueryBurst,
		},
		bridge.Dependencies{Logger: logging.For(logWriter, "bridge")},
	)

	rootCAs, err := certs.LoadRootPool(settings.API.CAFile)
	if err != nil {
		return nil, nil, err
	}
	client, err := transport.NewClient(
		transport.Config{BaseURL: settings.API.BaseURL},
		transport.Dependencies{
			BridgeChannel: transport.NewBridgeChannel(br.Available, rootCAs),
			Logger:        logging.For(logWriter, "transport"),
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("init transport: %w", err)
	}
	applyStoredCredential(settings.ResolveDataDir(settingsPath), client, logWriter, deps.Now)

	catalogClient, err := catalog.NewClient(catalog.Dependencies{
		Transport: client,
		Pool:      worker.NewPool(),
		Logger:    logging.For(logWriter, "catalog"),
	})
	if err != nil {
		return nil, nil, err
	}

	adapter, err := query.NewAdapter(query.Dependencies{
		Bridge:  br,
		Catalog: catalogClient,
		Logger:  logging.For(logWriter, "query"),
	})
	if err != nil {
		return nil, nil, err
	}

	bus := events.NewBus()
	mon, err := monitor.New(
		monitor.Dependencies{
			Query:    adapter,
			Launcher: br,
			Variant:  func() string { return settings.ClientVariant },
			Events:   bus,
			Logger:   logging.For(logWriter, "monitor"),
		},
		monitor.WithNow(deps.Now),
	)
	if err != nil {
		return nil, nil, err
	}
	return mon, bus, nil
}

// applyStoredCredential sets the API bearer token when a usable credentials
// file exists. Watch sessions stay anonymous otherwise.
func applyStoredCredential(dataDir string, client *transport.Client, logWriter io.Writer, now func() time.Time) {
	logger := logging.For(logWriter, "session")
	store, err := credstore.NewStore(credstore.Config{DataDir: dataDir}, credstore.Dependencies{Logger: logger, Now: now})
	if err != nil || !store.Present() {
		return
	}
	creds, err := store.Load()
	if err != nil {
		logger.Printf("stored credentials unusable: %v", err)
		return
	}
	client.SetCredential(creds.SecureCode)
}

func renderEvent(out io.Writer, ev types.Event) {
	stamp := ev.Timestamp.Local().Format("15:04:05")
	switch ev.Type {
	case types.EventMonitorStarted:
		fmt.Fprintf(out, "%s watching %s (min %v slots, check every %vs)\n",
			stamp, ev.Target.HostPort(), ev.Details["min_slots"], ev.Details["interval_seconds"])
	case types.EventOccupancy:
		occ := ev.Occupancy
		fmt.Fprintf(out, "%s %d/%d players, %d bots, %d slots free (%s)\n",
			stamp, occ.RealPlayers, occ.MaxPlayers, occ.Bots, occ.AvailableSlots(), occ.Transport)
	case types.EventPollFailed:
		fmt.Fprintf(out, "%s check failed: %s\n", stamp, ev.Status)
	case types.EventCountdown:
		fmt.Fprintf(out, "%s %s\n", stamp, ev.Status)
	case types.EventTrigger:
		fmt.Fprintf(out, "%s %s, joining %s\n", stamp, ev.Status, ev.Target.HostPort())
	case types.EventLaunch:
		fmt.Fprintf(out, "%s launched %s\n", stamp, ev.URI)
	case types.EventNavigate:
		fmt.Fprintf(out, "%s launcher unavailable, open manually: %s\n", stamp, ev.URI)
	case types.EventTransportFallback:
		fmt.Fprintf(out, "%s %s\n", stamp, ev.Status)
	case types.EventMonitorStopped:
		fmt.Fprintf(out, "%s stopped (%s)\n", stamp, ev.Status)
	}
}

func drainFeed(out io.Writer, feed <-chan types.Event) {
	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				return
			}
			renderEvent(out, ev)
		default:
			return
		}
	}
}
