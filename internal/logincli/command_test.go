package logincli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/config"
	"github.com/UpKK-Xnet-YYDCS/UpkkCS2Browser-Client-sub001/internal/credstore"
)

func writeSettings(t *testing.T, tmp string) string {
	t.Helper()
	settings := config.Defaults()
	settings.DataDir = filepath.Join(tmp, "data")
	path := filepath.Join(tmp, "settings.yaml")
	if err := config.Save(context.Background(), path, settings); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	return path
}

func TestLoginStoresCredentials(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	path := writeSettings(t, tmp)

	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	out := &bytes.Buffer{}
	deps := Dependencies{Now: func() time.Time { return fixed }, Out: out}

	err := RunLogin(ctx, []string{
		"--settings", path,
		"--steamid", "76561198000000001",
		"--code", "s3cret",
	}, deps)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !strings.Contains(out.String(), "76561198000000001") {
		t.Fatalf("expected steam id in output: %s", out.String())
	}

	store, err := credstore.NewStore(credstore.Config{DataDir: filepath.Join(tmp, "data")}, credstore.Dependencies{})
	if err != nil {
		t.Fatalf("credstore: %v", err)
	}
	creds, err := store.Load()
	if err != nil {
		t.Fatalf("load credentials: %v", err)
	}
	if creds.SteamID64 != "76561198000000001" || creds.SecureCode != "s3cret" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
	if !creds.CreatedAt.Equal(fixed) {
		t.Fatalf("expected created at %v, got %v", fixed, creds.CreatedAt)
	}
}

func TestLoginRejectsNonNumericSteamID(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	path := writeSettings(t, tmp)

	deps := Dependencies{Out: &bytes.Buffer{}}
	err := RunLogin(ctx, []string{"--settings", path, "--steamid", "not-a-steamid", "--code", "x"}, deps)
	if err == nil {
		t.Fatal("expected error for non-numeric steamid")
	}
	if !strings.Contains(err.Error(), "numeric") {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(tmp, "data", credstore.CredentialsFileName)); !os.IsNotExist(err) {
		t.Fatalf("expected no credentials file, stat err = %v", err)
	}
}

func TestLoginRequiresBothFlags(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	path := writeSettings(t, tmp)

	deps := Dependencies{Out: &bytes.Buffer{}}
	if err := RunLogin(ctx, []string{"--settings", path, "--steamid", "765611980000"}, deps); err == nil {
		t.Fatal("expected error when --code missing")
	}
	if err := RunLogin(ctx, []string{"--settings", path, "--code", "x"}, deps); err == nil {
		t.Fatal("expected error when --steamid missing")
	}
}

// Login must work before the first service run creates a settings file.
func TestLoginWithoutSettingsFile(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "settings.yaml")

	deps := Dependencies{Out: &bytes.Buffer{}}
	err := RunLogin(ctx, []string{"--settings", path, "--steamid", "76561198000000001", "--code", "x"}, deps)
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// With no settings file the data dir defaults to the settings directory.
	if _, err := os.Stat(filepath.Join(tmp, credstore.CredentialsFileName)); err != nil {
		t.Fatalf("expected credentials beside settings path: %v", err)
	}
}

func TestLogoutClearsCredentials(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	path := writeSettings(t, tmp)

	deps := Dependencies{Out: &bytes.Buffer{}}
	if err := RunLogin(ctx, []string{"--settings", path, "--steamid", "76561198000000001", "--code", "x"}, deps); err != nil {
		t.Fatalf("login: %v", err)
	}

	out := &bytes.Buffer{}
	if err := RunLogout(ctx, []string{"--settings", path}, Dependencies{Out: out}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !strings.Contains(out.String(), "Credentials cleared") {
		t.Fatalf("unexpected output: %s", out.String())
	}
	if _, err := os.Stat(filepath.Join(tmp, "data", credstore.CredentialsFileName)); !os.IsNotExist(err) {
		t.Fatalf("expected credentials removed, stat err = %v", err)
	}
}

func TestLogoutWithoutCredentials(t *testing.T) {
	ctx := context.Background()
	tmp := t.TempDir()
	path := writeSettings(t, tmp)

	out := &bytes.Buffer{}
	if err := RunLogout(ctx, []string{"--settings", path}, Dependencies{Out: out}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !strings.Contains(out.String(), "No stored credentials") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}
