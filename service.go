package server

import (
	"errors"
	"log"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	"gridsnakes/server/economy"
	"gridsnakes/server/storage"
)

// GameService binds the world facade to the store: it loads state, runs
// ticks, and ships each drained delta. Store failures are logged and not
// retried here; dirty bookkeeping re-upserts on the next drain anyway.
type GameService struct {
	store storage.Storage
	world *World
}

// NewGameService builds the world from runtime config. rng is a test seam;
// pass nil in production.
func NewGameService(store storage.Storage, cfg RuntimeConfig, rng *rand.Rand) *GameService {
	return &GameService{store: store, world: NewWorld(WorldConfig{
		Width:            cfg.Width,
		Height:           cfg.Height,
		FoodCount:        DefaultFoodCount,
		MaxSnakesPerUser: cfg.MaxSnakesPerUser,
		ChunkSize:        cfg.ChunkSize,
		SingleChunkMode:  cfg.SingleChunkMode,
		Rand:             rng,
	})}
}

// World exposes the facade for input queueing and snapshots.
func (g *GameService) World() *World {
	return g.world
}

// LoadFromStorage rebuilds the in-memory world from persisted rows.
func (g *GameService) LoadFromStorage() {
	records, err := g.store.ListSnakes()
	if err != nil {
		log.Printf("load snakes failed: %v", err)
	}
	chunk, err := g.store.GetWorldChunk("main")
	if err != nil {
		log.Printf("load world chunk failed: %v", err)
	}
	g.world.LoadFromStorage(records, chunk)
}

// TickAndFlush advances one tick and immediately ships the delta. It reports
// whether the tick produced any observable change.
func (g *GameService) TickAndFlush() bool {
	g.world.Tick()
	return g.FlushPersistenceDelta()
}

// FlushPersistenceDelta drains pending mutations and writes them one by one:
// snake upserts, snake deletes, chunk upsert, event appends. There is no
// cross-item transaction. Returns false when the delta was empty.
func (g *GameService) FlushPersistenceDelta() bool {
	delta := g.world.DrainPersistenceDelta(time.Now().UnixMilli())
	if delta.Empty() {
		return false
	}
	for _, rec := range delta.UpsertSnakes {
		if err := g.store.PutSnake(rec); err != nil {
			log.Printf("upsert snake %s failed: %v", rec.SnakeID, err)
		}
	}
	for _, sid := range delta.DeleteSnakeIDs {
		if err := g.store.DeleteSnake(sid); err != nil {
			log.Printf("delete snake %s failed: %v", sid, err)
		}
	}
	if delta.UpsertWorldChunk != nil {
		if err := g.store.PutWorldChunk(*delta.UpsertWorldChunk); err != nil {
			log.Printf("upsert world chunk failed: %v", err)
		}
	}
	for _, e := range delta.SnakeEvents {
		if err := g.store.AppendSnakeEvent(e); err != nil {
			log.Printf("append event %s failed: %v", e.EventID, err)
		}
	}
	return true
}

// Purchase failure modes, mapped to HTTP 500 bodies at the handler boundary.
var (
	ErrPurchaseUserUpdate   = errors.New("purchase_user_update_failed")
	ErrPurchasePeriodUpdate = errors.New("purchase_period_update_failed")
)

// EconomySnapshot is one computed state plus the inputs it came from.
type EconomySnapshot struct {
	State     economy.State
	Params    storage.EconomyParams
	DeltaMBuy int64
	KSnakes   int64
}

// EconomyService derives macro aggregates from the store and caches them
// briefly. Reads degrade to a zero-input computation when the store fails so
// the endpoint stays available through transient outages.
type EconomyService struct {
	store      storage.Storage
	cacheTTL   time.Duration
	mu         sync.Mutex
	cache      EconomySnapshot
	cacheValid bool
	expireAt   time.Time
}

// NewEconomyService reads the cache TTL from ECONOMY_CACHE_MS, clamped to
// [500, 10000] ms with a 2000 ms default.
func NewEconomyService(store storage.Storage) *EconomyService {
	ttlMS := 2000
	if v := os.Getenv("ECONOMY_CACHE_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			ttlMS = clampInt(parsed, 500, 10000)
		}
	}
	return &EconomyService{store: store, cacheTTL: time.Duration(ttlMS) * time.Millisecond}
}

// GetState returns the cached snapshot, recomputing on expiry. The compute
// happens outside the cache lock.
func (e *EconomyService) GetState() EconomySnapshot {
	now := time.Now()
	e.mu.Lock()
	if e.cacheValid && now.Before(e.expireAt) {
		snap := e.cache
		e.mu.Unlock()
		return snap
	}
	e.mu.Unlock()

	fresh := e.computeFresh(economy.PeriodKey(time.Now()))

	e.mu.Lock()
	e.cache = fresh
	e.cacheValid = true
	e.expireAt = now.Add(e.cacheTTL)
	e.mu.Unlock()
	return fresh
}

// InvalidateCache drops the cached snapshot; the next read recomputes.
func (e *EconomyService) InvalidateCache() {
	e.mu.Lock()
	e.cacheValid = false
	e.mu.Unlock()
}

// Purchase credits the buyer and the period counter through the two atomic
// increments. The writes are not transactional: a period failure triggers a
// best-effort balance compensation, and the partial failure surfaces as an
// error either way.
func (e *EconomyService) Purchase(userID int, cells int64) (EconomySnapshot, string, error) {
	userKey := strconv.Itoa(userID)
	periodKey := economy.PeriodKey(time.Now())

	if err := e.store.IncrementUserBalance(userKey, cells); err != nil {
		log.Printf("purchase: user balance update failed for %s: %v", userKey, err)
		return EconomySnapshot{}, periodKey, ErrPurchaseUserUpdate
	}
	if err := e.store.IncrementEconomyPeriodDeltaMBuy(periodKey, cells); err != nil {
		log.Printf("purchase: period counter update failed for %s: %v", periodKey, err)
		if cerr := e.store.IncrementUserBalance(userKey, -cells); cerr != nil {
			log.Printf("purchase: compensation failed for %s: %v (balance inconsistent by %d)", userKey, cerr, cells)
		}
		return EconomySnapshot{}, periodKey, ErrPurchasePeriodUpdate
	}

	e.InvalidateCache()
	return e.RecomputeAndPersist(periodKey), periodKey, nil
}

// RecomputeAndPersist refreshes the period row's computed aggregates.
func (e *EconomyService) RecomputeAndPersist(periodKey string) EconomySnapshot {
	fresh := e.computeFresh(periodKey)
	period := storage.EconomyPeriod{
		PeriodKey:         periodKey,
		DeltaMBuy:         fresh.DeltaMBuy,
		ComputedM:         fresh.State.M,
		ComputedK:         fresh.State.K,
		ComputedY:         int64(fresh.State.Y),
		ComputedP:         int64(fresh.State.P * 1e6),
		ComputedPi:        int64(fresh.State.Pi * 1e6),
		ComputedWorldArea: fresh.State.AWorld,
		ComputedWhite:     fresh.State.MWhite,
		ComputedAt:        time.Now().Unix(),
	}
	if err := e.store.PutEconomyPeriod(period); err != nil {
		log.Printf("persist economy period %s failed: %v", periodKey, err)
	}
	return fresh
}

func (e *EconomyService) computeFresh(periodKey string) EconomySnapshot {
	var out EconomySnapshot

	out.Params = storage.DefaultEconomyParams()
	if params, err := e.store.GetEconomyParamsActive(); err != nil {
		log.Printf("economy params read failed: %v", err)
	} else if params != nil {
		out.Params = *params
	}

	if period, err := e.store.GetEconomyPeriod(periodKey); err != nil {
		log.Printf("economy period read failed: %v", err)
	} else if period != nil {
		out.DeltaMBuy = period.DeltaMBuy
	}

	var sumMi int64
	if users, err := e.store.ListUsers(); err != nil {
		log.Printf("economy user listing failed: %v", err)
	} else {
		for _, u := range users {
			sumMi += u.BalanceMi
		}
	}

	if snakes, err := e.store.ListSnakes(); err != nil {
		log.Printf("economy snake listing failed: %v", err)
	} else {
		for _, s := range snakes {
			if s.Alive && s.IsOnField && s.LengthK > 0 {
				out.KSnakes += int64(s.LengthK)
			}
		}
	}

	out.State = economy.ComputeV1(economy.Inputs{
		Params:      out.Params,
		SumMi:       sumMi,
		MG:          out.Params.MGovReserve,
		DeltaMBuy:   out.DeltaMBuy,
		DeltaMIssue: out.Params.DeltaMIssue,
		CapDeltaM:   out.Params.CapDeltaM,
		KSnakes:     out.KSnakes,
		DeltaKObs:   out.Params.DeltaKObs,
	}, periodKey)
	return out
}
