package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/diag"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/logincli"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/service"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/steam"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/watchcli"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/pkg/types"
)

// version is stamped by the release build.
var version = "dev"

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = run(ctx, os.Args[2:])
	case "query":
		err = runQuery(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "join-url":
		err = runJoinURL(ctx, os.Args[2:])
	case "servers":
		err = runServers(ctx, os.Args[2:])
	case "login":
		err = logincli.RunLogin(ctx, os.Args[2:], logincli.Dependencies{})
	case "logout":
		err = logincli.RunLogout(ctx, os.Args[2:], logincli.Dependencies{})
	case "diag":
		err = diag.Run(ctx, os.Args[2:], diag.Dependencies{})
	case "version":
		fmt.Printf("upkkcore %s\n", version)
		return
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	settingsFlag := fs.String("settings", "", "Path to settings file (default: per-user location)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := service.New(runCtx, service.Config{SettingsPath: *settingsFlag, Version: version}, service.Dependencies{})
	if err != nil {
		return err
	}
	return core.Run(runCtx)
}

func runQuery(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	settingsFlag := fs.String("settings", "", "Path to settings file (default: per-user location)")
	address := fs.String("address", "", "Server address (hostname or IP)")
	port := fs.String("port", "", "Server query port")
	timeout := fs.Duration("timeout", 10*time.Second, "Query deadline")

	if err := fs.Parse(args); err != nil {
		return err
	}
	target := types.ServerTarget{Address: strings.TrimSpace(*address), Port: strings.TrimSpace(*port)}
	if target.Address == "" || target.Port == "" {
		return errors.New("--address and --port are required")
	}

	core, err := service.New(ctx, service.Config{SettingsPath: *settingsFlag, Version: version}, service.Dependencies{})
	if err != nil {
		return err
	}
	defer core.Close()

	queryCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	result, info := core.Query().QueryDetail(queryCtx, target)
	if !result.Success {
		return fmt.Errorf("query %s: %s", target.HostPort(), result.Error)
	}
	renderQueryResult(os.Stdout, target, result, info)
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	watchCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return watchcli.Run(watchCtx, args, watchcli.Dependencies{})
}

func runJoinURL(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("join-url", flag.ContinueOnError)
	settingsFlag := fs.String("settings", "", "Path to settings file (default: per-user location)")
	address := fs.String("address", "", "Server address (hostname or IP)")
	port := fs.String("port", "", "Server game port")
	gameID := fs.Int("game-id", 0, "Numeric game id, if known")
	gameName := fs.String("game-name", "", "Game name, if known")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*address) == "" || strings.TrimSpace(*port) == "" {
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

	uri := steam.BuildJoinURL(settings.Normalized().ClientVariant, *address, *port, *gameID, *gameName)
	fmt.Println(uri)
	return nil
}

func runServers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("servers", flag.ContinueOnError)
	settingsFlag := fs.String("settings", "", "Path to settings file (default: per-user location)")
	sync := fs.Bool("sync", false, "Force a signed directory sync and list its servers")

	if err := fs.Parse(args); err != nil {
		return err
	}

	core, err := service.New(ctx, service.Config{SettingsPath: *settingsFlag, Version: version}, service.Dependencies{})
	if err != nil {
		return err
	}
	defer core.Close()

	if *sync {
		if err := core.Directory().SyncOnce(ctx); err != nil {
			return fmt.Errorf("directory sync: %w", err)
		}
		servers, syncedAt := core.Directory().Snapshot()
		fmt.Printf("directory synced at %s (%d servers)\n", syncedAt.Format(time.RFC3339), len(servers))
		renderServerTable(os.Stdout, servers)
		return nil
	}

	servers, err := core.Catalog().ListServers(ctx)
	if err != nil {
		return err
	}
	renderServerTable(os.Stdout, servers)
	return nil
}

func renderQueryResult(out io.Writer, target types.ServerTarget, result types.OccupancyResult, info *types.ServerInfo) {
	fmt.Fprintf(out, "%s: %d/%d players, %d bots, %d slots free (%s)\n",
		target.HostPort(), result.RealPlayers, result.MaxPlayers, result.Bots,
		result.AvailableSlots(), result.Transport)
	if info != nil {
		fmt.Fprintf(out, "name: %s\n", info.Name)
		fmt.Fprintf(out, "map: %s, game: %s", info.Map, info.Game)
		if info.VAC {
			fmt.Fprint(out, ", VAC")
		}
		if info.Password {
			fmt.Fprint(out, ", password")
		}
		fmt.Fprintln(out)
	}
}

func renderServerTable(out io.Writer, servers []types.ServerRecord) {
	if len(servers) == 0 {
		fmt.Fprintln(out, "no servers")
		return
	}
	fmt.Fprintf(out, "%-32s %-22s %-9s %s\n", "NAME", "ADDRESS", "PLAYERS", "GAME")
	for _, rec := range servers {
		fmt.Fprintf(out, "%-32s %-22s %4d/%-4d %s\n",
			clip(rec.Name, 32), net.JoinHostPort(rec.Address, rec.Port),
			rec.Players, rec.MaxPlayers, rec.GameName)
	}
}

// clip shortens by runes, not bytes; catalog names are frequently CJK.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

func printUsage() {
	fmt.Println("UPKK Core CLI")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  upkkcore run [--settings path]")
	fmt.Println("  upkkcore query --address HOST --port PORT [--timeout 10s] [--settings path]")
	fmt.Println("  upkkcore watch --address HOST --port PORT [--min-slots N] [--interval SECONDS] [--settings path]")
	fmt.Println("  upkkcore join-url --address HOST --port PORT [--game-id ID] [--game-name NAME] [--settings path]")
	fmt.Println("  upkkcore servers [--sync] [--settings path]")
	fmt.Println("  upkkcore login --steamid ID --code CODE [--settings path]")
	fmt.Println("  upkkcore logout [--settings path]")
	fmt.Println("  upkkcore diag [--settings path] [--probe HOST:PORT] [--timeout 5s]")
	fmt.Println("  upkkcore version")
}
