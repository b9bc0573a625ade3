package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func (c *collector) has(typ EventType, path string) bool {
	for _, e := range c.snapshot() {
		if e.Type == typ && e.Path == path {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, dir string, opts Options) *collector {
	t.Helper()
	c := &collector{}
	w, err := New(dir, opts, c.add)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Close() })

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Give the watcher time to start
	time.Sleep(100 * time.Millisecond)
	return c
}

func TestNewInvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/that/does/not/exist", Options{Debounce: 100 * time.Millisecond}, func(e Event) {})
	if err == nil {
		t.Fatal("New() should return error for invalid path")
	}
}

func TestWatcherCreateEvent(t *testing.T) {
	tmpDir := t.TempDir()
	c := startWatcher(t, tmpDir, Options{Debounce: 50 * time.Millisecond})

	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// Wait for debounce and event processing
	time.Sleep(200 * time.Millisecond)

	events := c.snapshot()
	if len(events) == 0 {
		t.Fatal("Expected at least one event, got none")
	}
	found := false
	for _, e := range events {
		if e.Path == testFile && e.Rel == "test.txt" && (e.Type == EventCreate || e.Type == EventModify) {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected event for %s, got events: %+v", testFile, events)
	}
}

func TestWatcherDeleteEvent(t *testing.T) {
	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.txt")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	c := startWatcher(t, tmpDir, Options{Debounce: 50 * time.Millisecond})
	c.reset()

	if err := os.Remove(testFile); err != nil {
		t.Fatalf("Failed to delete test file: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if !c.has(EventDelete, testFile) {
		t.Errorf("Expected delete event for %s, got events: %+v", testFile, c.snapshot())
	}
}

func TestWatcherRecursive(t *testing.T) {
	tmpDir := t.TempDir()
	existing := filepath.Join(tmpDir, "src")
	if err := os.MkdirAll(existing, 0755); err != nil {
		t.Fatal(err)
	}

	c := startWatcher(t, tmpDir, Options{Debounce: 50 * time.Millisecond})

	nested := filepath.Join(existing, "main.go")
	if err := os.WriteFile(nested, []byte("package main"), 0644); err != nil {
		t.Fatal(err)
	}

	// A directory created after start is picked up too
	created := filepath.Join(tmpDir, "pkg")
	if err := os.Mkdir(created, 0755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	late := filepath.Join(created, "lib.go")
	if err := os.WriteFile(late, []byte("package pkg"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(200 * time.Millisecond)

	seen := map[string]bool{}
	for _, e := range c.snapshot() {
		seen[e.Rel] = true
	}
	for _, rel := range []string{"src/main.go", "pkg/lib.go"} {
		if !seen[rel] {
			t.Errorf("Expected an event for %s, got %+v", rel, c.snapshot())
		}
	}
}

func TestWatcherExclude(t *testing.T) {
	tmpDir := t.TempDir()
	ignored := filepath.Join(tmpDir, "node_modules")
	if err := os.MkdirAll(ignored, 0755); err != nil {
		t.Fatal(err)
	}

	c := startWatcher(t, tmpDir, Options{
		Debounce: 50 * time.Millisecond,
		Exclude: func(rel string) bool {
			return strings.HasPrefix(rel, "node_modules") || strings.HasSuffix(rel, ".log")
		},
	})

	for _, p := range []string{
		filepath.Join(ignored, "dep.js"),
		filepath.Join(tmpDir, "debug.log"),
		filepath.Join(tmpDir, "kept.txt"),
	} {
		if err := os.WriteFile(p, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(200 * time.Millisecond)

	for _, e := range c.snapshot() {
		if e.Rel != "kept.txt" {
			t.Errorf("Unexpected event for excluded path %s", e.Rel)
		}
	}
	if len(c.snapshot()) == 0 {
		t.Error("Expected an event for kept.txt")
	}
}

func TestWatcherDebouncing(t *testing.T) {
	tmpDir := t.TempDir()
	c := startWatcher(t, tmpDir, Options{Debounce: 100 * time.Millisecond})

	testFile := filepath.Join(tmpDir, "test.txt")

	// Create and modify the file rapidly
	for i := 0; i < 10; i++ {
		if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to write test file: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Wait for debounce
	time.Sleep(200 * time.Millisecond)

	if n := len(c.snapshot()); n >= 10 {
		t.Errorf("Expected debouncing to reduce events, got %d events", n)
	}
}

func TestWatcherClose(t *testing.T) {
	w, err := New(t.TempDir(), Options{Debounce: 100 * time.Millisecond}, func(e Event) {})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("Second Start() should fail")
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	// Calling Close again should not panic or error
	if err := w.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("Start() after Close() should fail")
	}
}
