package session

import (
	"context"
	"testing"
	"time"
)

type countingStore struct {
	Store
	sweeps int
}

func (c *countingStore) Sweep(context.Context) (int64, error) {
	c.sweeps++
	return 0, nil
}

func TestNewSweeper_ValidatesSchedule(t *testing.T) {
	if _, err := NewSweeper(&countingStore{}, "0 * * * *"); err != nil {
		t.Errorf("hourly schedule rejected: %v", err)
	}
	if _, err := NewSweeper(&countingStore{}, "not a cron"); err == nil {
		t.Error("invalid schedule accepted")
	}
}

func TestSweeper_RunSweepsEverySecond(t *testing.T) {
	store := &countingStore{}
	sweeper, err := NewSweeper(store, "* * * * * *")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	sweeper.Run(ctx)

	if store.sweeps == 0 {
		t.Error("no sweep ran within the window")
	}
}
