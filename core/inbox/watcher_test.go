package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	ch    chan string
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan string, 16)}
}

func (r *recorder) handle(ctx context.Context, path string) error {
	r.mu.Lock()
	r.paths = append(r.paths, path)
	r.mu.Unlock()
	r.ch <- path
	if filepath.Base(path) == "broken.mp3" {
		return errors.New("decode failed")
	}
	return nil
}

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for handler")
		return ""
	}
}

func startWatcher(t *testing.T, dir string, r *recorder) (*Watcher, func()) {
	t.Helper()
	w := New(dir, r.handle, WithWorkers(2), WithSettle(40*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return w, func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}
}

func TestWatcherPicksUpExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "early.wav"), []byte("RIFF...."), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newRecorder()
	w, stop := startWatcher(t, dir, r)

	if got := filepath.Base(r.next(t)); got != "early.wav" {
		t.Fatalf("first handled = %s", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".partial.mp3"), []byte("hidden"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Late.MP3"), []byte("ID3...."), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := filepath.Base(r.next(t)); got != "Late.MP3" {
		t.Fatalf("second handled = %s", got)
	}

	// 再次写入同一文件不会重复处理
	if err := os.WriteFile(filepath.Join(dir, "Late.MP3"), []byte("ID3....more"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	stop()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.paths) != 2 {
		t.Fatalf("handled %v", r.paths)
	}
	if s := w.Stats(); s.Queued != 2 || s.Handled != 2 || s.Failed != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestWatcherCountsFailures(t *testing.T) {
	dir := t.TempDir()
	r := newRecorder()
	w, stop := startWatcher(t, dir, r)

	if err := os.WriteFile(filepath.Join(dir, "broken.mp3"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	r.next(t)

	deadline := time.Now().Add(time.Second)
	for w.Stats().Failed == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stop()

	if s := w.Stats(); s.Failed != 1 || s.Handled != 0 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestWatcherMissingDir(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "absent"), func(context.Context, string) error { return nil })
	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestAcceptFilters(t *testing.T) {
	w := New(".", nil, WithExtensions(".flac"))
	tests := map[string]bool{
		"a.flac":  true,
		"B.FLAC":  true,
		"a.mp3":   false,
		".a.flac": false,
		"noext":   false,
	}
	for name, want := range tests {
		if got := w.accept(name); got != want {
			t.Errorf("accept(%q) = %v, want %v", name, got, want)
		}
	}
}
