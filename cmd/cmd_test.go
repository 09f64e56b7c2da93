package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/illarion/ctsecretsd/internal/state"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCtx(t, context.Background(), args...)
}

func runCtx(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		cfgFile, logLevel, logFormat = "", "", ""
		serveFlags.host, serveFlags.port, serveFlags.authToken = "", -1, ""
	})
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "ct-secretsd "+Version) {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestBackendFileMode(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CT_SECRETSD_STORAGE_BACKEND", "file")
	t.Setenv("CT_SECRETSD_STORAGE_DIR", dir)

	out, err := run(t, "backend", "--log-level", "error")
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	if !strings.Contains(out, "file (encrypted, "+dir+")") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestProvidersListsRegistry(t *testing.T) {
	t.Setenv("CT_SECRETSD_STORAGE_BACKEND", "file")
	t.Setenv("CT_SECRETSD_STORAGE_DIR", t.TempDir())

	out, err := run(t, "providers", "--log-level", "error")
	if err != nil {
		t.Fatalf("providers: %v", err)
	}
	for _, id := range []string{"openrouter", "openai", "together", "groq", "custom"} {
		if !strings.Contains(out, id) {
			t.Errorf("output missing %s:\n%s", id, out)
		}
	}
}

func TestProvidersDoesNotCreateStateDB(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CT_SECRETSD_STORAGE_BACKEND", "file")
	t.Setenv("CT_SECRETSD_STORAGE_DIR", dir)

	if _, err := run(t, "providers", "--log-level", "error"); err != nil {
		t.Fatalf("providers: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, state.FileName)); !os.IsNotExist(err) {
		t.Errorf("providers should not create the state database, stat err = %v", err)
	}
}

func TestServeKeyringModeCreatesStateDir(t *testing.T) {
	gokeyring.MockInit()
	dir := filepath.Join(t.TempDir(), "fresh-home", ".claude-throne")
	t.Setenv("CT_SECRETSD_STORAGE_BACKEND", "keyring")
	t.Setenv("CT_SECRETSD_STORAGE_DIR", dir)
	t.Setenv("CT_SECRETSD_METRICS_ENABLED", "false")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := runCtx(t, ctx, "serve", "--port", "0", "--log-level", "error")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !strings.Contains(out, "Listening on http://127.0.0.1:") {
		t.Errorf("unexpected output: %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, state.FileName)); err != nil {
		t.Errorf("state database should exist: %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	t.Setenv("CT_SECRETSD_STORAGE_BACKEND", "floppy")

	if _, err := run(t, "backend"); err == nil {
		t.Fatal("expected validation error")
	}
}
