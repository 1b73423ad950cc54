package filelock

import "testing"

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("unexpected error releasing: %v", err)
	}
}

func TestAcquireFailsWhenAlreadyHeld(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer first.Release()

	_, err = Acquire(dir)
	if err != ErrLocked {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Release(); err != nil {
		t.Fatal(err)
	}

	second, err := Acquire(dir)
	if err != nil {
		t.Fatalf("expected lock to be acquirable after release, got %v", err)
	}
	second.Release()
}
