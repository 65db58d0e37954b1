package core

import (
	"errors"
	"testing"

	"github.com/spf13/afero"

	"github.com/cloudsync/cloudsync/internal/model"
)

func TestSession_StartRefusesRunningJob(t *testing.T) {
	fs := afero.NewMemMapFs()
	first := NewSession(fs, "/cache", "home", nil)
	if err := first.Start(false); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	second := NewSession(fs, "/cache", "home", nil)
	if err := second.Start(false); !errors.Is(err, model.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := second.Start(true); err != nil {
		t.Fatalf("expected forced start to succeed, got %v", err)
	}

	other := NewSession(fs, "/cache", "work", nil)
	if err := other.Start(false); err != nil {
		t.Errorf("expected a different backup name to start, got %v", err)
	}

	if err := first.Finish(); err != nil {
		t.Fatalf("failed to finish: %v", err)
	}
	if ok, _ := afero.Exists(fs, first.PIDPath()); ok {
		t.Error("pid file not removed")
	}
}

func TestSession_LockRelease(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewSession(fs, "/cache", "home", nil)
	if err := s.Start(false); err != nil {
		t.Fatalf("failed to start: %v", err)
	}

	root := sampleTree()
	if err := s.Release(root); err != nil {
		t.Fatalf("release without lock failed: %v", err)
	}
	if ok, _ := afero.Exists(fs, s.CachePath()); ok {
		t.Error("cache written without a lock")
	}

	if err := s.Lock(); err != nil {
		t.Fatalf("failed to lock: %v", err)
	}
	if err := s.Lock(); err != nil {
		t.Fatalf("second lock failed: %v", err)
	}
	if ok, _ := afero.Exists(fs, s.LockPath()); !ok {
		t.Fatal("lock file missing")
	}

	if err := s.Release(root); err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	if ok, _ := afero.Exists(fs, s.LockPath()); ok {
		t.Error("lock file not removed")
	}
	loaded, err := LoadSnapshot(fs, s.CachePath())
	if err != nil {
		t.Fatalf("failed to load cache: %v", err)
	}
	if len(loaded.Flatten()) != len(root.Flatten()) {
		t.Errorf("expected %d items in cache, got %d", len(root.Flatten()), len(loaded.Flatten()))
	}
}

func TestSession_LeftoverLockForcesLiveWalk(t *testing.T) {
	h := newHarness(t)
	h.file("/src/x.txt", "x", 10)
	walker := NewRemoteWalker(h.conn, nil)

	s := NewSession(h.fs, "/cache", "home", nil)
	if err := s.Start(false); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	tree, err := s.LoadTree(h.ctx, walker, LoadOptions{})
	if err != nil {
		t.Fatalf("failed to load tree: %v", err)
	}
	h.backup(tree, Options{})

	// crash: lock taken, cache never rewritten
	if err := s.Lock(); err != nil {
		t.Fatalf("failed to lock: %v", err)
	}
	s.Finish()

	next := NewSession(h.fs, "/cache", "home", nil)
	if err := next.Start(false); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if !next.Inconsistent() {
		t.Fatal("expected leftover lock to be detected")
	}
	h.store.ResetCalls()
	tree, err = next.LoadTree(h.ctx, walker, LoadOptions{})
	if err != nil {
		t.Fatalf("failed to load tree: %v", err)
	}
	if h.store.Calls["List"] == 0 {
		t.Error("expected a remote walk")
	}
	if _, ok := tree.Root.Child("x.txt"); !ok {
		t.Error("walked tree misses x.txt")
	}
	if ok, _ := afero.Exists(h.fs, next.LockPath()); ok {
		t.Error("lock not released after the walk")
	}

	// the rewritten cache is used from now on
	h.store.ResetCalls()
	third := NewSession(h.fs, "/cache", "home", nil)
	third.Start(true)
	if _, err := third.LoadTree(h.ctx, walker, LoadOptions{}); err != nil {
		t.Fatalf("failed to load tree: %v", err)
	}
	if h.store.Calls["List"] != 0 {
		t.Errorf("expected the cache to be used, got %d list calls", h.store.Calls["List"])
	}
}

func TestSession_UnreadableCacheFallsBackToWalk(t *testing.T) {
	h := newHarness(t)
	s := NewSession(h.fs, "/cache", "home", nil)
	if err := afero.WriteFile(h.fs, s.CachePath(), []byte("a/b,id,1\n"), 0o600); err != nil {
		t.Fatalf("failed to write cache: %v", err)
	}
	if err := s.Start(false); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if _, err := s.LoadTree(h.ctx, NewRemoteWalker(h.conn, nil), LoadOptions{}); err != nil {
		t.Fatalf("expected fallback to a walk, got %v", err)
	}
	if h.store.Calls["List"] == 0 {
		t.Error("expected a remote walk")
	}
}
