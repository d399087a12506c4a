// Package logincli implements the login and logout subcommands. Both talk to
// the credential store directly, so they work whether or not the core service
// is running; a running service picks the change up on its next restart or
// via the control API.
package logincli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/credstore"
)

type Dependencies struct {
	Now func() time.Time
	Out io.Writer
}

// RunLogin stores a SteamID64 and secure code in the device-bound store.
func RunLogin(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}

	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	settingsFlag := fs.String("settings", "", "Path to settings file (default: per-user location)")
	steamID := fs.String("steamid", "", "SteamID64 of the account")
	code := fs.String("code", "", "Secure code issued by the account portal")

	if err := fs.Parse(args); err != nil {
		return err
	}

	id := strings.TrimSpace(*steamID)
	secret := strings.TrimSpace(*code)
	if id == "" || secret == "" {
		return errors.New("--steamid and --code are required")
	}
	if !isDigits(id) {
		return fmt.Errorf("steamid %q must be numeric", id)
	}

	store, dataDir, err := openStore(ctx, *settingsFlag, deps.Now)
	if err != nil {
		return err
	}
	if err := store.Save(credstore.Credentials{SteamID64: id, SecureCode: secret}); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}

	fmt.Fprintf(deps.Out, "Credentials stored for %s\n", id)
	fmt.Fprintf(deps.Out, "Sealed to this device under %s\n", dataDir)
	return nil
}

// RunLogout removes stored credentials. Logging out twice is not an error.
func RunLogout(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}

	fs := flag.NewFlagSet("logout", flag.ContinueOnError)
	settingsFlag := fs.String("settings", "", "Path to settings file (default: per-user location)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	store, _, err := openStore(ctx, *settingsFlag, deps.Now)
	if err != nil {
		return err
	}
	if !store.Present() {
		fmt.Fprintln(deps.Out, "No stored credentials")
		return nil
	}
	if err := store.Clear(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}

	fmt.Fprintln(deps.Out, "Credentials cleared")
	return nil
}

// openStore resolves the data directory from settings the same way the
// service does, so the CLI and the running core share one credentials file.
func openStore(ctx context.Context, settingsFlag string, now func() time.Time) (*credstore.Store, string, error) {
	settingsPath := strings.TrimSpace(settingsFlag)
	if settingsPath == "" {
		var err error
		settingsPath, err = config.DefaultSettingsPath()
		if err != nil {
			return nil, "", fmt.Errorf("resolve settings path: %w", err)
		}
	}

	settings, err := config.LoadOrDefault(ctx, settingsPath)
	if err != nil {
		return nil, "", fmt.Errorf("load settings: %w", err)
	}
	dataDir := settings.Normalized().ResolveDataDir(settingsPath)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, "", fmt.Errorf("ensure data dir %q: %w", dataDir, err)
	}

	store, err := credstore.NewStore(credstore.Config{DataDir: dataDir}, credstore.Dependencies{Now: now})
	if err != nil {
		return nil, "", err
	}
	return store, dataDir, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
