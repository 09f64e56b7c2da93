package storage

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	gokeyring "github.com/zalando/go-keyring"
)

func TestSelectorFallsBackToFile(t *testing.T) {
	var buf bytes.Buffer
	probes := 0
	sel := NewSelector(SelectorOptions{
		Dir: filepath.Join(t.TempDir(), "store"),
		Probe: func() error {
			probes++
			return errors.New("no secret service")
		},
		Logger: slog.New(slog.NewTextHandler(&buf, nil)),
	})

	b, err := sel.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if b.Name() != BackendFile {
		t.Errorf("Backend = %s, want %s", b.Name(), BackendFile)
	}
	if !strings.Contains(buf.String(), "falling back to encrypted file storage") {
		t.Errorf("Expected fallback warning, got %q", buf.String())
	}

	again, _ := sel.Resolve()
	if again != b {
		t.Error("Resolve should return the same backend instance")
	}
	if probes != 1 {
		t.Errorf("Probe called %d times, want 1", probes)
	}
}

func TestSelectorUsesKeyring(t *testing.T) {
	gokeyring.MockInit()
	sel := NewSelector(SelectorOptions{
		Dir:    t.TempDir(),
		Probe:  func() error { return nil },
		Logger: quietLogger(),
	})

	b, err := sel.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if b.Name() != BackendKeyring {
		t.Errorf("Backend = %s, want %s", b.Name(), BackendKeyring)
	}
}

func TestSelectorKeyringModeFails(t *testing.T) {
	sel := NewSelector(SelectorOptions{
		Mode:   ModeKeyring,
		Dir:    t.TempDir(),
		Probe:  func() error { return errors.New("locked") },
		Logger: quietLogger(),
	})

	if _, err := sel.Resolve(); err == nil {
		t.Error("Keyring mode should fail without fallback")
	}
}

func TestSelectorFileModeSkipsProbe(t *testing.T) {
	sel := NewSelector(SelectorOptions{
		Mode: ModeFile,
		Dir:  filepath.Join(t.TempDir(), "store"),
		Probe: func() error {
			t.Error("Probe should not be called in file mode")
			return nil
		},
		Logger: quietLogger(),
	})

	b, err := sel.Resolve()
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if b.Name() != BackendFile {
		t.Errorf("Backend = %s, want %s", b.Name(), BackendFile)
	}
}

func TestSelectorUnknownMode(t *testing.T) {
	sel := NewSelector(SelectorOptions{Mode: "tape", Logger: quietLogger()})
	if _, err := sel.Resolve(); err == nil {
		t.Error("Unknown mode should fail")
	}
}

func TestSelectorConcurrentResolve(t *testing.T) {
	var mu sync.Mutex
	probes := 0
	sel := NewSelector(SelectorOptions{
		Dir: filepath.Join(t.TempDir(), "store"),
		Probe: func() error {
			mu.Lock()
			probes++
			mu.Unlock()
			return errors.New("unavailable")
		},
		Logger: quietLogger(),
	})

	var wg sync.WaitGroup
	results := make([]Backend, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = sel.Resolve()
		}()
	}
	wg.Wait()

	for _, b := range results {
		if b != results[0] {
			t.Fatal("All callers should see the same backend")
		}
	}
	if probes != 1 {
		t.Errorf("Probe called %d times, want 1", probes)
	}
}

func TestObserve(t *testing.T) {
	fb, _ := newTestFileBackend(t)
	ctx := context.Background()

	type event struct {
		backend, op string
		ok          bool
	}
	var events []event
	b := Observe(fb, func(backend, op string, ok bool) {
		events = append(events, event{backend, op, ok})
	})

	b.Store(ctx, "openai", "sk", nil)
	b.Get(ctx, "openai")
	b.Get(ctx, "missing")
	b.Delete(ctx, "openai")

	want := []event{
		{BackendFile, "store", true},
		{BackendFile, "get", true},
		{BackendFile, "get", false},
		{BackendFile, "delete", true},
	}
	if len(events) != len(want) {
		t.Fatalf("Got %d events, want %d: %v", len(events), len(want), events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("Event %d = %v, want %v", i, events[i], want[i])
		}
	}

	if Observe(fb, nil) != Backend(fb) {
		t.Error("Observe with nil func should return backend unchanged")
	}
}
