package runlock_test

import (
	"errors"
	"os"
	"testing"

	"docprep/internal/runlock"
	"docprep/internal/services"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	lock := runlock.New(dir)

	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

func TestSecondAcquireFailsWhileHeld(t *testing.T) {
	dir := t.TempDir()
	first := runlock.New(dir)
	if err := first.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer first.Release()

	second := runlock.New(dir)
	err := second.Acquire()
	if err == nil {
		second.Release()
		t.Fatal("expected second Acquire to fail while lock is held")
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()
	lock := runlock.New(dir)
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	next := runlock.New(dir)
	if err := next.Acquire(); err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	defer next.Release()
}

func TestAcquireCreatesMissingDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/data"
	lock := runlock.New(dir)
	if err := lock.Acquire(); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()
}
