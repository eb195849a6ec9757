package server

import (
	"log"
	"sync/atomic"
	"time"
)

// Scheduler drives the fixed-rate tick and broadcast cadence on a single
// background goroutine. Ticks are flushed to storage immediately; broadcasts
// only bump the snapshot sequence, and every stream session derives its own
// view from that.
type Scheduler struct {
	game        *GameService
	broadcaster *Broadcaster
	cfg         RuntimeConfig

	reloadRequested atomic.Bool
}

const (
	maxCatchUpTicks = 3
	// Sleep at most this long so a stop request never waits on a full period.
	maxSchedulerSleep = 5 * time.Millisecond
)

// NewScheduler wires the loop to its collaborators.
func NewScheduler(game *GameService, broadcaster *Broadcaster, cfg RuntimeConfig) *Scheduler {
	return &Scheduler{game: game, broadcaster: broadcaster, cfg: cfg}
}

// RequestReload asks the loop to reload the world from storage before its
// next tick. Safe from signal handlers and watchers.
func (s *Scheduler) RequestReload() {
	s.reloadRequested.Store(true)
}

// Run loops until the stop channel closes, then flushes a final delta.
func (s *Scheduler) Run(stop <-chan struct{}) {
	tickDT := time.Duration(s.cfg.TickIntervalMS()) * time.Millisecond
	spectatorDT := time.Duration(s.cfg.SpectatorIntervalMS()) * time.Millisecond
	maxLag := tickDT * 5

	nextTick := time.Now().Add(tickDT)
	nextBroadcast := time.Now().Add(spectatorDT)

	var ticksSinceLog, broadcastsSinceLog uint64
	nextLogAt := time.Now().Add(5 * time.Second)

	for {
		select {
		case <-stop:
			s.game.FlushPersistenceDelta()
			return
		default:
		}

		if s.reloadRequested.Swap(false) {
			s.game.LoadFromStorage()
			s.broadcaster.Bump()
			log.Printf("world reloaded from storage")
		}

		now := time.Now()

		catchUp := 0
		for !now.Before(nextTick) && catchUp < maxCatchUpTicks {
			if s.game.TickAndFlush() {
				// Observable change: wake streams even between broadcasts.
				s.broadcaster.Bump()
			}
			ticksSinceLog++
			catchUp++
			nextTick = nextTick.Add(tickDT)
			now = time.Now()
		}

		if now.Sub(nextTick) > maxLag {
			nextTick = now.Add(tickDT)
		}

		for s.cfg.EnableBroadcast && !now.Before(nextBroadcast) {
			s.broadcaster.Bump()
			broadcastsSinceLog++
			nextBroadcast = nextBroadcast.Add(spectatorDT)
			now = time.Now()
		}

		if now.Sub(nextBroadcast) > spectatorDT*5 {
			nextBroadcast = now.Add(spectatorDT)
		}

		if s.cfg.DebugTPS && !now.Before(nextLogAt) {
			log.Printf("[rate] ticks/5s=%d, broadcasts/5s=%d", ticksSinceLog, broadcastsSinceLog)
			ticksSinceLog = 0
			broadcastsSinceLog = 0
			nextLogAt = nextLogAt.Add(5 * time.Second)
		}

		deadline := nextTick
		if s.cfg.EnableBroadcast && nextBroadcast.Before(deadline) {
			deadline = nextBroadcast
		}
		sleepUntil := time.Now().Add(maxSchedulerSleep)
		if deadline.Before(sleepUntil) {
			sleepUntil = deadline
		}
		if d := time.Until(sleepUntil); d > 0 {
			time.Sleep(d)
		}
	}
}
