package config

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"time"
)

func TestSaveAndLoadState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	state := State{
		PID:         4242,
		RunID:       "run-123",
		StartedAt:   time.Unix(1730000000, 0).UTC(),
		ConfigPath:  "configs/sdwan.json",
		ResultsPath: "ping_results.csv",
		Streams:     3,
	}

	if err := SaveState(ctx, dir, state); err != nil {
		t.Fatalf("SaveState returned error: %v", err)
	}

	loaded, err := LoadState(ctx, dir)
	if err != nil {
		t.Fatalf("LoadState returned error: %v", err)
	}
	if loaded.PID != state.PID || loaded.RunID != state.RunID {
		t.Fatalf("unexpected state: %+v", loaded)
	}
	if !loaded.StartedAt.Equal(state.StartedAt) {
		t.Fatalf("expected started_at %s got %s", state.StartedAt, loaded.StartedAt)
	}
	if loaded.ResultsPath != state.ResultsPath || loaded.Streams != 3 {
		t.Fatalf("unexpected state: %+v", loaded)
	}
}

func TestSaveStateRefusesExisting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	if err := SaveState(ctx, dir, State{PID: 1}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	err := SaveState(ctx, dir, State{PID: 2})
	if !errors.Is(err, ErrStateExists) {
		t.Fatalf("expected ErrStateExists, got %v", err)
	}

	if err := UpdateState(ctx, dir, State{PID: 3}); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}
	loaded, err := LoadState(ctx, dir)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded.PID != 3 {
		t.Fatalf("expected pid 3 got %d", loaded.PID)
	}
}

func TestRemoveStateIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	if err := RemoveState(ctx, dir); err != nil {
		t.Fatalf("RemoveState on empty dir: %v", err)
	}
	if err := SaveState(ctx, dir, State{PID: 1}); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := RemoveState(ctx, dir); err != nil {
		t.Fatalf("RemoveState: %v", err)
	}
	if _, err := LoadState(ctx, dir); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist after removal, got %v", err)
	}
}
