package server

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sort"
	"strconv"
	"sync"

	"gridsnakes/server/storage"
)

// WorldSnapshot is a consistent copy of the live board.
type WorldSnapshot struct {
	Snakes []Snake
	Foods  []Food
	Tick   uint64
	W      int
	H      int
}

// PersistenceDelta is the minimal set of mutations one drain produced.
// Per-tick movement is deliberately absent: snakes appear here only when
// events fired or their (dir, paused) changed.
type PersistenceDelta struct {
	UpsertSnakes     []storage.SnakeRecord
	DeleteSnakeIDs   []string
	UpsertWorldChunk *storage.WorldChunk
	SnakeEvents      []storage.SnakeEvent
}

// Empty reports whether the drain produced nothing to ship.
func (d *PersistenceDelta) Empty() bool {
	return len(d.UpsertSnakes) == 0 && len(d.DeleteSnakeIDs) == 0 &&
		d.UpsertWorldChunk == nil && len(d.SnakeEvents) == 0
}

// WorldConfig sets the immutable world parameters. Rand is a test seam;
// when nil the world seeds itself from the OS entropy source.
type WorldConfig struct {
	Width            int
	Height           int
	FoodCount        int
	MaxSnakesPerUser int
	ChunkSize        int
	SingleChunkMode  bool
	Rand             *rand.Rand
}

// World owns the only canonical copy of the live board. Every public method
// takes the mutex for its whole duration; tick, snapshot, input queueing and
// delta draining are mutually exclusive and none of them blocks on I/O.
type World struct {
	mu sync.Mutex

	width            int
	height           int
	foodCount        int
	maxSnakesPerUser int

	tick         uint64
	worldVersion int64
	nextSnakeID  int

	snakes    []Snake
	foods     []Food
	obstacles []Obstacle

	inputBuffer      map[int]InputIntent
	snakeCreatedAtMS map[int]int64
	dirtySnakeIDs    map[int]struct{}
	deletedSnakeIDs  map[int]struct{}
	pendingEvents    []storage.SnakeEvent
	worldChunkDirty  bool

	rng    *rand.Rand
	chunks *ChunkManager
}

// NewWorld builds an empty world; call LoadFromStorage before ticking.
func NewWorld(cfg WorldConfig) *World {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(entropySeed()))
	}
	return &World{
		width:            cfg.Width,
		height:           cfg.Height,
		foodCount:        cfg.FoodCount,
		maxSnakesPerUser: cfg.MaxSnakesPerUser,
		nextSnakeID:      1,
		inputBuffer:      make(map[int]InputIntent),
		snakeCreatedAtMS: make(map[int]int64),
		dirtySnakeIDs:    make(map[int]struct{}),
		deletedSnakeIDs:  make(map[int]struct{}),
		rng:              rng,
		chunks:           NewChunkManager(cfg.ChunkSize, cfg.SingleChunkMode),
	}
}

func entropySeed() int64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 1
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}

// ConfigureChunking re-applies chunking parameters.
func (w *World) ConfigureChunking(chunkSize int, singleChunkMode bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks.SetConfig(chunkSize, singleChunkMode)
	w.chunks.Rebuild(w.snakes, w.foods, w.obstacles, w.tick)
}

// LoadFromStorage resets all live state and reconstructs it from persisted
// records. Records with empty bodies, non-positive ids, or dead snakes are
// skipped. Overlapping bodies are re-seeded onto free cells so the board
// starts consistent even after a partial flush.
func (w *World) LoadFromStorage(records []storage.SnakeRecord, chunk *storage.WorldChunk) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.snakes = nil
	w.foods = nil
	w.inputBuffer = make(map[int]InputIntent)
	w.snakeCreatedAtMS = make(map[int]int64)
	w.dirtySnakeIDs = make(map[int]struct{})
	w.deletedSnakeIDs = make(map[int]struct{})
	w.pendingEvents = nil
	w.worldChunkDirty = false

	maxSnakeID := 0
	for _, rec := range records {
		s := Snake{
			ID:     atoiOrZero(rec.SnakeID),
			UserID: atoiOrZero(rec.OwnerUserID),
			Alive:  rec.Alive,
			Dir:    Dir(rec.Direction),
			Paused: rec.Paused,
			Color:  rec.Color,
			Body:   decodeCells(rec.BodyCompact),
		}
		if s.Color == "" {
			s.Color = colorForUser(s.UserID)
		}
		if len(s.Body) == 0 {
			s.Body = []Vec2{{X: rec.HeadX, Y: rec.HeadY}}
		}

		if len(s.Body) > 0 && s.ID > 0 && s.UserID > 0 && s.Alive {
			w.snakes = append(w.snakes, s)
			w.snakeCreatedAtMS[s.ID] = rec.CreatedAt
			if s.ID > maxSnakeID {
				maxSnakeID = s.ID
			}
		}
	}
	w.nextSnakeID = maxSnakeID + 1

	if chunk != nil {
		w.foods = decodeFoods(chunk.FoodState)
		w.worldVersion = chunk.Version
		if chunk.Width > 0 {
			w.width = chunk.Width
		}
		if chunk.Height > 0 {
			w.height = chunk.Height
		}
	}

	w.foods = ensureFoodCount(w.snakes, w.foods, w.foodCount, w.width, w.height, w.rng)
	w.resolveOverlapsOnStartLocked()

	if chunk == nil {
		// First boot against an empty store needs an initial world row.
		w.worldChunkDirty = true
		w.worldVersion++
	}

	w.chunks.Rebuild(w.snakes, w.foods, w.obstacles, w.tick)
}

// Tick runs one simulation step: movement, collision, food top-up, then the
// dirty/event bookkeeping that feeds the persistence delta.
func (w *World) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()

	type dirPause struct {
		dir    Dir
		paused bool
	}
	before := make(map[int]dirPause, len(w.snakes))
	for i := range w.snakes {
		before[w.snakes[i].ID] = dirPause{w.snakes[i].Dir, w.snakes[i].Paused}
	}

	runMovement(w.snakes, w.inputBuffer, w.width, w.height)

	events := make([]CollisionEvent, 0, 8)
	var foodChanged bool
	w.snakes, events, foodChanged = runCollision(w.snakes, w.foods, w.width, w.height, w.rng, events)

	w.foods = ensureFoodCount(w.snakes, w.foods, w.foodCount, w.width, w.height, w.rng)

	for _, e := range events {
		w.pushSnakeEventLocked(e, 0)
		if e.SnakeID > 0 {
			w.markSnakeDirtyLocked(e.SnakeID)
		}
		if e.OtherSnakeID > 0 {
			w.markSnakeDirtyLocked(e.OtherSnakeID)
		}
		if e.EventType == EventDeath && e.SnakeID > 0 {
			w.deletedSnakeIDs[e.SnakeID] = struct{}{}
			delete(w.dirtySnakeIDs, e.SnakeID)
		}
	}

	for i := range w.snakes {
		prev, ok := before[w.snakes[i].ID]
		if !ok {
			continue
		}
		if prev.dir != w.snakes[i].Dir || prev.paused != w.snakes[i].Paused {
			w.markSnakeDirtyLocked(w.snakes[i].ID)
		}
	}

	if foodChanged || len(events) > 0 {
		w.worldChunkDirty = true
		w.worldVersion++
	}

	w.tick++
	w.chunks.Rebuild(w.snakes, w.foods, w.obstacles, w.tick)
}

// TickID returns the current tick counter.
func (w *World) TickID() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tick
}

// Width returns the grid width.
func (w *World) Width() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width
}

// Height returns the grid height.
func (w *World) Height() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.height
}

// Snapshot copies the whole board out under the lock.
func (w *World) Snapshot() WorldSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// SnapshotForCamera copies the board and applies head-based AOI filtering
// around the camera cell.
func (w *World) SnapshotForCamera(cameraX, cameraY int, aoiEnabled bool, aoiRadius int) WorldSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	snap := w.snapshotLocked()
	return BuildSnapshot(snap, w.chunks, ReplicationRequest{
		CameraX:    cameraX,
		CameraY:    cameraY,
		AOIEnabled: aoiEnabled,
		AOIRadius:  aoiRadius,
	})
}

func (w *World) snapshotLocked() WorldSnapshot {
	snap := WorldSnapshot{Tick: w.tick, W: w.width, H: w.height}
	snap.Snakes = make([]Snake, len(w.snakes))
	for i := range w.snakes {
		snap.Snakes[i] = w.snakes[i]
		snap.Snakes[i].Body = append([]Vec2(nil), w.snakes[i].Body...)
	}
	snap.Foods = append([]Food(nil), w.foods...)
	return snap
}

// QueueDirectionInput records a direction intent for the next tick. It
// succeeds only when user_id owns the snake.
func (w *World) QueueDirectionInput(userID, snakeID int, d Dir) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.findSnakeLocked(snakeID)
	if s == nil || s.UserID != userID {
		return false
	}
	intent := w.inputBuffer[snakeID]
	intent.HasDesiredDir = true
	intent.DesiredDir = d
	w.inputBuffer[snakeID] = intent
	return true
}

// QueuePauseToggle flips the pause-intent parity bit; two toggles before a
// tick cancel out.
func (w *World) QueuePauseToggle(userID, snakeID int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.findSnakeLocked(snakeID)
	if s == nil || s.UserID != userID {
		return false
	}
	intent := w.inputBuffer[snakeID]
	intent.TogglePause = !intent.TogglePause
	w.inputBuffer[snakeID] = intent
	return true
}

// ListUserSnakes copies out the caller's snakes.
func (w *World) ListUserSnakes(userID int) []Snake {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Snake
	for i := range w.snakes {
		if w.snakes[i].UserID == userID {
			s := w.snakes[i]
			s.Body = append([]Vec2(nil), s.Body...)
			out = append(out, s)
		}
	}
	return out
}

// CreateSnakeForUser spawns a single-cell snake on a free cell and emits a
// SPAWN event. Returns 0 when the caller already owns the per-user maximum.
func (w *World) CreateSnakeForUser(userID int, color string) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	count := 0
	for i := range w.snakes {
		if w.snakes[i].UserID == userID {
			count++
		}
	}
	if count >= w.maxSnakesPerUser {
		return 0
	}

	if color == "" {
		color = colorForUser(userID)
	}
	s := Snake{
		ID:     w.nextSnakeID,
		UserID: userID,
		Color:  color,
		Dir:    DirStop,
		Alive:  true,
	}
	w.nextSnakeID++

	p := randFreeCell(w.snakes, w.foods, w.width, w.height, w.rng)
	s.Body = []Vec2{p}
	w.snakes = append(w.snakes, s)

	w.snakeCreatedAtMS[s.ID] = 0
	w.markSnakeDirtyLocked(s.ID)
	w.pushSnakeEventLocked(CollisionEvent{
		EventType:   EventSpawn,
		SnakeID:     s.ID,
		X:           p.X,
		Y:           p.Y,
		DeltaLength: 1,
	}, 0)

	return s.ID
}

// DrainPersistenceDelta moves all pending bookkeeping into a delta and
// clears it. Snake records use the compact body encoding; events are stamped
// with created_at and world_version where still missing.
func (w *World) DrainPersistenceDelta(tsMS int64) PersistenceDelta {
	w.mu.Lock()
	defer w.mu.Unlock()

	var delta PersistenceDelta

	deleted := make([]int, 0, len(w.deletedSnakeIDs))
	for sid := range w.deletedSnakeIDs {
		deleted = append(deleted, sid)
	}
	sort.Ints(deleted)
	for _, sid := range deleted {
		delta.DeleteSnakeIDs = append(delta.DeleteSnakeIDs, strconv.Itoa(sid))
		delete(w.snakeCreatedAtMS, sid)
	}
	w.deletedSnakeIDs = make(map[int]struct{})

	dirty := make([]int, 0, len(w.dirtySnakeIDs))
	for sid := range w.dirtySnakeIDs {
		dirty = append(dirty, sid)
	}
	sort.Ints(dirty)
	for _, sid := range dirty {
		s := w.findSnakeLocked(sid)
		if s == nil {
			continue
		}

		head := s.Head()
		rec := storage.SnakeRecord{
			SnakeID:     strconv.Itoa(s.ID),
			OwnerUserID: strconv.Itoa(s.UserID),
			Alive:       s.Alive,
			HeadX:       head.X,
			HeadY:       head.Y,
			Direction:   int(s.Dir),
			Paused:      s.Paused,
			LengthK:     len(s.Body),
			IsOnField:   true,
			BodyCompact: encodeCells(s.Body),
			Color:       s.Color,
			UpdatedAt:   tsMS,
		}
		if createdAt, ok := w.snakeCreatedAtMS[sid]; ok && createdAt > 0 {
			rec.CreatedAt = createdAt
		} else {
			rec.CreatedAt = tsMS
			w.snakeCreatedAtMS[sid] = tsMS
		}
		for i := len(w.pendingEvents) - 1; i >= 0; i-- {
			if w.pendingEvents[i].SnakeID == rec.SnakeID {
				rec.LastEventID = w.pendingEvents[i].EventID
				break
			}
		}
		delta.UpsertSnakes = append(delta.UpsertSnakes, rec)
	}
	w.dirtySnakeIDs = make(map[int]struct{})

	if w.worldChunkDirty {
		delta.UpsertWorldChunk = &storage.WorldChunk{
			ChunkID:   "main",
			Width:     w.width,
			Height:    w.height,
			Obstacles: "[]",
			FoodState: encodeFoods(w.foods),
			Version:   w.worldVersion,
			UpdatedAt: tsMS,
		}
		w.worldChunkDirty = false
	}

	delta.SnakeEvents = w.pendingEvents
	w.pendingEvents = nil
	for i := range delta.SnakeEvents {
		if delta.SnakeEvents[i].CreatedAt <= 0 {
			delta.SnakeEvents[i].CreatedAt = tsMS
		}
		if delta.SnakeEvents[i].WorldVersion <= 0 {
			delta.SnakeEvents[i].WorldVersion = w.worldVersion
		}
	}

	return delta
}

func (w *World) findSnakeLocked(snakeID int) *Snake {
	for i := range w.snakes {
		if w.snakes[i].ID == snakeID {
			return &w.snakes[i]
		}
	}
	return nil
}

// resolveOverlapsOnStartLocked re-seeds any snake whose body intersects a
// cell already claimed by an earlier snake, which can happen after a partial
// flush or a hand-edited store.
func (w *World) resolveOverlapsOnStartLocked() {
	occupied := make(map[int64]struct{})

	for i := range w.snakes {
		s := &w.snakes[i]
		if !s.Alive {
			continue
		}
		if len(s.Body) == 0 {
			s.Body = []Vec2{randFreeCell(w.snakes, w.foods, w.width, w.height, w.rng)}
		}

		overlaps := false
		for _, c := range s.Body {
			if _, taken := occupied[cellKey(c)]; taken {
				overlaps = true
				break
			}
		}

		if overlaps {
			s.Body = []Vec2{randFreeCell(w.snakes, w.foods, w.width, w.height, w.rng)}
			s.Grow = 0
			s.Dir = DirStop
			s.Paused = false
			w.markSnakeDirtyLocked(s.ID)
		}

		for _, c := range s.Body {
			occupied[cellKey(c)] = struct{}{}
		}
	}
}

func (w *World) markSnakeDirtyLocked(snakeID int) {
	if snakeID <= 0 {
		return
	}
	if _, deleted := w.deletedSnakeIDs[snakeID]; deleted {
		return
	}
	w.dirtySnakeIDs[snakeID] = struct{}{}
}

func (w *World) pushSnakeEventLocked(e CollisionEvent, createdAt int64) {
	if e.SnakeID <= 0 || e.EventType == "" {
		return
	}
	out := storage.SnakeEvent{
		SnakeID: strconv.Itoa(e.SnakeID),
		EventID: strconv.FormatInt(createdAt, 10) + "#" + strconv.FormatUint(w.tick, 10) +
			"#" + e.EventType + "#" + strconv.Itoa(len(w.pendingEvents)),
		EventType:    e.EventType,
		X:            e.X,
		Y:            e.Y,
		DeltaLength:  e.DeltaLength,
		TickNumber:   w.tick,
		WorldVersion: w.worldVersion,
		CreatedAt:    createdAt,
	}
	if e.OtherSnakeID > 0 {
		out.OtherSnakeID = strconv.Itoa(e.OtherSnakeID)
	}
	w.pendingEvents = append(w.pendingEvents, out)
}

var userColorPalette = []string{"#00ff00", "#00aaff", "#ff00ff", "#ff8800", "#00ffaa", "#ffaa00"}

func colorForUser(userID int) string {
	if userID <= 0 {
		return userColorPalette[0]
	}
	return userColorPalette[(userID-1)%len(userColorPalette)]
}

func atoiOrZero(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return v
}
