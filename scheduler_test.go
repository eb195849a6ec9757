package server

import (
	"math/rand"
	"testing"
	"time"

	"gridsnakes/server/storage"
)

func TestSchedulerTicksAndBroadcasts(t *testing.T) {
	store := storage.NewMemoryStorage()
	cfg := RuntimeConfig{
		TickHz: 60, SpectatorHz: 60, EnableBroadcast: true,
		Width: 20, Height: 20, MaxSnakesPerUser: 3,
		ChunkSize: 64, SingleChunkMode: true,
	}
	game := NewGameService(store, cfg, rand.New(rand.NewSource(5)))
	game.LoadFromStorage()
	game.World().CreateSnakeForUser(1, "")
	game.World().QueueDirectionInput(1, 1, DirRight)

	broadcaster := NewBroadcaster()
	sched := NewScheduler(game, broadcaster, cfg)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(stop)
	}()

	time.Sleep(200 * time.Millisecond)
	close(stop)
	<-done

	if game.World().TickID() == 0 {
		t.Fatalf("scheduler never ticked")
	}
	if broadcaster.Sequence() <= 1 {
		t.Fatalf("scheduler never bumped the snapshot sequence")
	}

	// The final flush persisted the board.
	records, _ := store.ListSnakes()
	if len(records) != 1 {
		t.Fatalf("expected the snake flushed to storage, got %d records", len(records))
	}
}

func TestSchedulerReloadRequest(t *testing.T) {
	store := storage.NewMemoryStorage()
	store.PutSnake(storage.SnakeRecord{SnakeID: "9", OwnerUserID: "2", Alive: true, BodyCompact: "[[3,3]]"})

	cfg := RuntimeConfig{
		TickHz: 60, SpectatorHz: 60, EnableBroadcast: false,
		Width: 20, Height: 20, MaxSnakesPerUser: 3,
		ChunkSize: 64, SingleChunkMode: true,
	}
	game := NewGameService(store, cfg, rand.New(rand.NewSource(5)))
	game.LoadFromStorage()

	broadcaster := NewBroadcaster()
	sched := NewScheduler(game, broadcaster, cfg)
	seqBefore := broadcaster.Sequence()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		sched.Run(stop)
	}()

	// Write behind the world's back, then ask for a reload.
	store.PutSnake(storage.SnakeRecord{SnakeID: "10", OwnerUserID: "2", Alive: true, BodyCompact: "[[6,6]]"})
	sched.RequestReload()
	time.Sleep(100 * time.Millisecond)
	close(stop)
	<-done

	if got := len(game.World().ListUserSnakes(2)); got != 2 {
		t.Fatalf("reload should pick up the new record, got %d snakes", got)
	}
	if broadcaster.Sequence() <= seqBefore {
		t.Fatalf("reload must bump the snapshot sequence")
	}
}
