package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, WatchName)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	h, err := readHolder(filepath.Join(dir, WatchName))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if h.PID != os.Getpid() {
		t.Errorf("holder PID = %d, want %d", h.PID, os.Getpid())
	}
	if h.Since.IsZero() {
		t.Error("holder time not recorded")
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, WatchName)); !os.IsNotExist(err) {
		t.Errorf("lock file still present after Release: %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir, WatchName)
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dir, WatchName)
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected HeldError, got %T: %v", err, err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("HeldError PID = %d, want %d", held.PID, os.Getpid())
	}
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()

	if _, ok := Probe(dir, WatchName); ok {
		t.Fatal("Probe on free lock reported a holder")
	}

	l, err := Acquire(dir, WatchName)
	if err != nil {
		t.Fatal(err)
	}
	h, ok := Probe(dir, WatchName)
	if !ok {
		t.Fatal("Probe on held lock reported none")
	}
	if h.PID != os.Getpid() {
		t.Errorf("Probe PID = %d", h.PID)
	}
	_ = l.Release()

	if _, ok := Probe(dir, WatchName); ok {
		t.Error("Probe after Release reported a holder")
	}
}

func TestReleaseNilAndTwice(t *testing.T) {
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}

	l, err := Acquire(t.TempDir(), WatchName)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
