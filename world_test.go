package server

import (
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"gridsnakes/server/storage"
)

func newTestWorld(t *testing.T, width, height int) *World {
	t.Helper()
	return NewWorld(WorldConfig{
		Width:            width,
		Height:           height,
		FoodCount:        1,
		MaxSnakesPerUser: 2,
		ChunkSize:        64,
		SingleChunkMode:  true,
		Rand:             rand.New(rand.NewSource(7)),
	})
}

func TestWorldEatFoodScenario(t *testing.T) {
	w := newTestWorld(t, 10, 10)
	w.snakes = []Snake{{ID: 1, UserID: 1, Alive: true, Dir: DirRight, Color: "#00ff00", Body: []Vec2{{X: 5, Y: 5}}}}
	w.foods = []Food{{X: 6, Y: 5}}
	versionBefore := w.worldVersion

	w.Tick()

	snap := w.Snapshot()
	if snap.Snakes[0].Body[0] != (Vec2{X: 6, Y: 5}) {
		t.Fatalf("head should be on the eaten cell, got %v", snap.Snakes[0].Body[0])
	}
	if len(snap.Snakes[0].Body) != 1 {
		t.Fatalf("growth lands on the following tick, length=%d", len(snap.Snakes[0].Body))
	}
	if len(snap.Foods) != 1 {
		t.Fatalf("food count must stay at 1, got %d", len(snap.Foods))
	}
	if snap.Foods[0] == (Food{X: 6, Y: 5}) {
		t.Fatalf("eaten food must be replaced elsewhere")
	}
	if w.worldVersion != versionBefore+1 {
		t.Fatalf("eating must bump world_version: before=%d after=%d", versionBefore, w.worldVersion)
	}

	delta := w.DrainPersistenceDelta(1000)
	if delta.UpsertWorldChunk == nil {
		t.Fatalf("food change must dirty the world chunk")
	}
	var foodEvents int
	for _, e := range delta.SnakeEvents {
		if e.EventType == EventFood {
			foodEvents++
			if e.X != 6 || e.Y != 5 {
				t.Fatalf("FOOD event should carry the eaten cell, got (%d,%d)", e.X, e.Y)
			}
		}
	}
	if foodEvents != 1 {
		t.Fatalf("expected exactly one FOOD event, got %d", foodEvents)
	}

	w.Tick()
	snap = w.Snapshot()
	if snap.Snakes[0].Body[0] != (Vec2{X: 7, Y: 5}) {
		t.Fatalf("head should advance to (7,5), got %v", snap.Snakes[0].Body[0])
	}
	if len(snap.Snakes[0].Body) != 2 {
		t.Fatalf("grow is consumed on the tick after eating, length=%d", len(snap.Snakes[0].Body))
	}
}

func TestWorldReversalDelaysSelfHit(t *testing.T) {
	w := newTestWorld(t, 10, 10)
	w.snakes = []Snake{{ID: 1, UserID: 7, Alive: true, Dir: DirUp, Body: []Vec2{{X: 5, Y: 5}, {X: 5, Y: 6}}}}
	w.foods = []Food{{X: 0, Y: 0}}

	w.Tick()
	if head := w.snakes[0].Body[0]; head != (Vec2{X: 5, Y: 4}) {
		t.Fatalf("expected head (5,4), got %v", head)
	}

	if !w.QueueDirectionInput(7, 1, DirDown) {
		t.Fatalf("owner input must be accepted")
	}
	w.Tick()
	if !w.snakes[0].Alive {
		t.Fatalf("reversal itself must not kill the snake")
	}
	if head := w.snakes[0].Body[0]; head != (Vec2{X: 5, Y: 5}) {
		t.Fatalf("expected head (5,5) after reversal, got %v", head)
	}
}

func TestWorldInputAuthorization(t *testing.T) {
	w := newTestWorld(t, 10, 10)
	w.snakes = []Snake{{ID: 3, UserID: 7, Alive: true, Dir: DirStop, Body: []Vec2{{X: 1, Y: 1}}}}

	if w.QueueDirectionInput(8, 3, DirLeft) {
		t.Fatalf("direction input by a non-owner must be rejected")
	}
	if w.QueuePauseToggle(8, 3) {
		t.Fatalf("pause toggle by a non-owner must be rejected")
	}
	if !w.QueueDirectionInput(7, 3, DirLeft) {
		t.Fatalf("owner direction input must be accepted")
	}
	if !w.QueuePauseToggle(7, 3) {
		t.Fatalf("owner pause toggle must be accepted")
	}
}

func TestWorldCreateSnakeCapAndSpawnEvent(t *testing.T) {
	w := newTestWorld(t, 10, 10)

	first := w.CreateSnakeForUser(4, "")
	second := w.CreateSnakeForUser(4, "#123456")
	if first == 0 || second == 0 {
		t.Fatalf("creation under the cap must succeed: %d, %d", first, second)
	}
	if second != first+1 {
		t.Fatalf("ids must be monotone: %d then %d", first, second)
	}
	if third := w.CreateSnakeForUser(4, ""); third != 0 {
		t.Fatalf("cap of 2 must reject the third snake, got id %d", third)
	}
	if got := len(w.ListUserSnakes(4)); got != 2 {
		t.Fatalf("user must own exactly 2 snakes, got %d", got)
	}

	delta := w.DrainPersistenceDelta(500)
	var spawns int
	for _, e := range delta.SnakeEvents {
		if e.EventType == EventSpawn {
			spawns++
			if e.CreatedAt != 500 {
				t.Fatalf("spawn event must be stamped at drain time, got %d", e.CreatedAt)
			}
		}
	}
	if spawns != 2 {
		t.Fatalf("expected 2 SPAWN events, got %d", spawns)
	}
	if len(delta.UpsertSnakes) != 2 {
		t.Fatalf("both snakes must upsert, got %d", len(delta.UpsertSnakes))
	}
	for _, rec := range delta.UpsertSnakes {
		if !rec.IsOnField {
			t.Fatalf("persisted snakes are on-field once placed: %+v", rec)
		}
		if rec.LastEventID == "" {
			t.Fatalf("upsert must reference the latest owned event")
		}
	}
}

func TestWorldQuietTickProducesEmptyDelta(t *testing.T) {
	w := newTestWorld(t, 10, 10)
	w.snakes = []Snake{{ID: 1, UserID: 1, Alive: true, Dir: DirStop, Body: []Vec2{{X: 2, Y: 2}}}}
	w.foods = []Food{{X: 8, Y: 8}}

	w.Tick()
	delta := w.DrainPersistenceDelta(100)
	if !delta.Empty() {
		t.Fatalf("a tick with no events and no dir/paused change must drain empty: %+v", delta)
	}
}

func TestWorldDirChangeMarksDirty(t *testing.T) {
	w := newTestWorld(t, 10, 10)
	w.snakes = []Snake{{ID: 1, UserID: 1, Alive: true, Dir: DirStop, Body: []Vec2{{X: 2, Y: 2}}}}
	w.foods = []Food{{X: 8, Y: 8}}

	w.QueueDirectionInput(1, 1, DirRight)
	w.Tick()

	delta := w.DrainPersistenceDelta(100)
	if len(delta.UpsertSnakes) != 1 {
		t.Fatalf("a (dir,paused) change must upsert the snake, got %d", len(delta.UpsertSnakes))
	}
	if delta.UpsertSnakes[0].Direction != int(DirRight) {
		t.Fatalf("record should carry the new direction, got %d", delta.UpsertSnakes[0].Direction)
	}
	if delta.UpsertWorldChunk != nil {
		t.Fatalf("a movement-only tick must not dirty the world chunk")
	}
}

func TestWorldEventIDOrdinalsAreUniqueAndOrdered(t *testing.T) {
	w := newTestWorld(t, 10, 10)
	w.CreateSnakeForUser(1, "")
	w.CreateSnakeForUser(2, "")

	delta := w.DrainPersistenceDelta(100)
	if len(delta.SnakeEvents) != 2 {
		t.Fatalf("expected 2 events, got %d", len(delta.SnakeEvents))
	}
	seen := make(map[string]bool)
	for i, e := range delta.SnakeEvents {
		if seen[e.EventID] {
			t.Fatalf("duplicate event id %s", e.EventID)
		}
		seen[e.EventID] = true
		if !strings.HasSuffix(e.EventID, "#"+EventSpawn+"#"+strconv.Itoa(i)) {
			t.Fatalf("event %d id should end with ordinal %d: %s", i, i, e.EventID)
		}
	}
}

func TestWorldLoadFromStorageFiltersAndTopsUp(t *testing.T) {
	w := newTestWorld(t, 10, 10)
	records := []storage.SnakeRecord{
		{SnakeID: "3", OwnerUserID: "1", Alive: true, BodyCompact: "[[1,1],[1,2]]", Direction: 2, Color: "#00ff00", CreatedAt: 9},
		{SnakeID: "0", OwnerUserID: "1", Alive: true, BodyCompact: "[[2,2]]"},  // bad id
		{SnakeID: "4", OwnerUserID: "0", Alive: true, BodyCompact: "[[3,3]]"},  // bad owner
		{SnakeID: "5", OwnerUserID: "2", Alive: false, BodyCompact: "[[4,4]]"}, // dead
		{SnakeID: "6", OwnerUserID: "2", Alive: true, HeadX: 7, HeadY: 7},      // body from head fallback
	}

	w.LoadFromStorage(records, nil)

	if len(w.snakes) != 2 {
		t.Fatalf("only valid alive records load, got %d", len(w.snakes))
	}
	if w.nextSnakeID != 7 {
		t.Fatalf("next id must be max+1, got %d", w.nextSnakeID)
	}
	if len(w.foods) != 1 {
		t.Fatalf("food top-up must run on load, got %d foods", len(w.foods))
	}
	if !w.worldChunkDirty {
		t.Fatalf("missing chunk record must dirty the world chunk")
	}
	if w.worldVersion != 1 {
		t.Fatalf("missing chunk record must bump world_version, got %d", w.worldVersion)
	}
}

func TestWorldLoadResolvesOverlaps(t *testing.T) {
	w := newTestWorld(t, 10, 10)
	records := []storage.SnakeRecord{
		{SnakeID: "1", OwnerUserID: "1", Alive: true, BodyCompact: "[[1,1],[1,2]]"},
		{SnakeID: "2", OwnerUserID: "2", Alive: true, BodyCompact: "[[1,2],[1,3]]"},
	}
	chunk := &storage.WorldChunk{ChunkID: "main", Width: 10, Height: 10, FoodState: "[[9,9]]", Version: 4}

	w.LoadFromStorage(records, chunk)

	occupied := make(map[int64]int)
	for _, s := range w.snakes {
		for _, c := range s.Body {
			occupied[cellKey(c)]++
		}
	}
	for k, n := range occupied {
		if n > 1 {
			t.Fatalf("cell %d still shared by %d snakes after overlap resolution", k, n)
		}
	}
	second := w.findSnakeLocked(2)
	if second == nil || len(second.Body) != 1 || second.Dir != DirStop {
		t.Fatalf("overlapping snake must be re-seeded to a single stopped cell: %+v", second)
	}
	if w.worldVersion != 4 {
		t.Fatalf("version must come from the chunk record, got %d", w.worldVersion)
	}
}

func TestWorldInvariantsAcrossTicks(t *testing.T) {
	w := newTestWorld(t, 12, 12)
	w.CreateSnakeForUser(1, "")
	w.CreateSnakeForUser(2, "")
	w.QueueDirectionInput(1, 1, DirRight)
	w.QueueDirectionInput(2, 2, DirDown)

	for i := 0; i < 50; i++ {
		w.Tick()
		snap := w.Snapshot()
		if len(snap.Foods) != 1 {
			t.Fatalf("tick %d: food count drifted to %d", i, len(snap.Foods))
		}
		ids := make(map[int]bool)
		for _, s := range snap.Snakes {
			if ids[s.ID] {
				t.Fatalf("tick %d: duplicate snake id %d", i, s.ID)
			}
			ids[s.ID] = true
			if len(s.Body) == 0 {
				t.Fatalf("tick %d: alive snake %d with empty body", i, s.ID)
			}
			for _, c := range s.Body {
				if c.X < 0 || c.X >= snap.W || c.Y < 0 || c.Y >= snap.H {
					t.Fatalf("tick %d: snake %d out of bounds at %v", i, s.ID, c)
				}
			}
		}
		for _, f := range snap.Foods {
			if f.X < 0 || f.X >= snap.W || f.Y < 0 || f.Y >= snap.H {
				t.Fatalf("tick %d: food out of bounds at %+v", i, f)
			}
		}
	}
}

func TestWorldVersionNeverDecreases(t *testing.T) {
	w := newTestWorld(t, 10, 10)
	w.CreateSnakeForUser(1, "")
	last := w.worldVersion
	for i := 0; i < 30; i++ {
		w.Tick()
		if w.worldVersion < last {
			t.Fatalf("world_version decreased from %d to %d", last, w.worldVersion)
		}
		last = w.worldVersion
	}
}

func TestCodecRoundTrip(t *testing.T) {
	cases := [][]Vec2{
		nil,
		{{X: 0, Y: 0}},
		{{X: 5, Y: 5}, {X: 4, Y: 5}, {X: 3, Y: 5}},
		{{X: -1, Y: 7}, {X: 12, Y: -3}},
	}
	for _, cells := range cases {
		encoded := encodeCells(cells)
		decoded := decodeCells(encoded)
		if len(decoded) != len(cells) {
			t.Fatalf("round trip length mismatch for %v: got %v", cells, decoded)
		}
		for i := range cells {
			if decoded[i] != cells[i] {
				t.Fatalf("round trip mismatch at %d for %v: got %v", i, cells, decoded)
			}
		}
	}
}

func TestCodecToleratesWhitespace(t *testing.T) {
	decoded := decodeCells(" [ [1 , 2] ,\n [3,4] ] ")
	if len(decoded) != 2 || decoded[0] != (Vec2{X: 1, Y: 2}) || decoded[1] != (Vec2{X: 3, Y: 4}) {
		t.Fatalf("whitespace-tolerant decode failed: %v", decoded)
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "null", "[[", "[[1,]]", "{\"x\":1}"} {
		if got := decodeCells(input); len(got) != 0 {
			t.Fatalf("decode(%q) should yield nothing, got %v", input, got)
		}
	}
}
