package server

import (
	"math/rand"
	"testing"
)

func testRand() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestCollisionSelfHitPopsTailAndPauses(t *testing.T) {
	// Head overlapping a later segment: one tail pop, paused, still alive.
	snakes := []Snake{{ID: 1, UserID: 1, Alive: true, Dir: DirUp, Body: []Vec2{
		{X: 5, Y: 5}, {X: 5, Y: 6}, {X: 5, Y: 5},
	}}}
	foods := []Food{{X: 0, Y: 0}}

	live, events, _ := runCollision(snakes, foods, 10, 10, testRand(), nil)

	if len(live) != 1 {
		t.Fatalf("expected snake to survive, live=%d", len(live))
	}
	if got := len(live[0].Body); got != 2 {
		t.Fatalf("expected tail popped to length 2, got %d", got)
	}
	if !live[0].Paused {
		t.Fatalf("self-hit must pause the snake")
	}
	if len(events) != 1 || events[0].EventType != EventSelfCollision {
		t.Fatalf("expected a single SELF_COLLISION event, got %+v", events)
	}
	if events[0].X != 5 || events[0].Y != 5 {
		t.Fatalf("event should carry the head cell, got (%d,%d)", events[0].X, events[0].Y)
	}
}

func TestCollisionSelfHitCollapseKills(t *testing.T) {
	// A degenerate single-cell overlap collapses to empty and dies.
	snakes := []Snake{{ID: 1, UserID: 1, Alive: true, Dir: DirStop, Body: []Vec2{
		{X: 5, Y: 5}, {X: 5, Y: 5},
	}}}
	foods := []Food{{X: 0, Y: 0}}

	live, events, _ := runCollision(snakes, foods, 10, 10, testRand(), nil)

	if len(live) != 1 {
		t.Fatalf("one tail pop leaves length 1, snake stays alive; live=%d", len(live))
	}
	if len(live[0].Body) != 1 {
		t.Fatalf("expected length 1 after pop, got %d", len(live[0].Body))
	}
	if len(events) != 1 || events[0].EventType != EventSelfCollision {
		t.Fatalf("expected only SELF_COLLISION, got %+v", events)
	}
}

func TestCollisionBiteScenario(t *testing.T) {
	// A moved onto B's head cell this tick; both fire as attackers in id
	// order because the owner index contains every body cell including heads.
	snakes := []Snake{
		{ID: 1, UserID: 1, Alive: true, Dir: DirRight, Body: []Vec2{{X: 5, Y: 5}, {X: 4, Y: 5}}},
		{ID: 2, UserID: 2, Alive: true, Dir: DirStop, Body: []Vec2{{X: 5, Y: 5}, {X: 6, Y: 5}}},
	}
	foods := []Food{{X: 0, Y: 0}}

	live, events, _ := runCollision(snakes, foods, 10, 10, testRand(), nil)

	if len(events) != 4 {
		t.Fatalf("expected BITE/BITTEN pairs for both attackers, got %d events: %+v", len(events), events)
	}
	assertEvent(t, events[0], EventBite, 1, 2, 5, 5, 1)
	assertEvent(t, events[1], EventBitten, 2, 1, 5, 5, -1)
	assertEvent(t, events[2], EventBite, 2, 1, 5, 5, 1)
	assertEvent(t, events[3], EventBitten, 1, 2, 5, 5, -1)

	if len(live) != 2 {
		t.Fatalf("both snakes must survive, live=%d", len(live))
	}
	a := findSnake(live, 1)
	b := findSnake(live, 2)
	if a.Grow != 1 || a.Dir != DirLeft || a.Paused {
		t.Fatalf("attacker A should grow, reverse to Left and unpause: %+v", a)
	}
	if b.Grow != 1 || b.Dir != DirStop {
		t.Fatalf("attacker B should grow and reverse Stop to Stop: %+v", b)
	}
	if len(a.Body) != 1 || len(b.Body) != 1 {
		t.Fatalf("each defender pops one tail cell: |A|=%d |B|=%d", len(a.Body), len(b.Body))
	}
}

func TestCollisionBiteOnBodySegment(t *testing.T) {
	// Head on a mid-body segment: only the attacker with its head on foreign
	// cells fires.
	snakes := []Snake{
		{ID: 1, UserID: 1, Alive: true, Dir: DirRight, Body: []Vec2{{X: 5, Y: 5}, {X: 4, Y: 5}}},
		{ID: 2, UserID: 2, Alive: true, Dir: DirDown, Body: []Vec2{{X: 5, Y: 4}, {X: 5, Y: 5}, {X: 5, Y: 6}}},
	}
	foods := []Food{{X: 0, Y: 0}}

	live, events, _ := runCollision(snakes, foods, 10, 10, testRand(), nil)

	// A's head sits on B's middle; B's head cell (5,4) is its own only.
	if len(events) != 2 {
		t.Fatalf("expected exactly one BITE/BITTEN pair, got %+v", events)
	}
	assertEvent(t, events[0], EventBite, 1, 2, 5, 5, 1)
	assertEvent(t, events[1], EventBitten, 2, 1, 5, 5, -1)

	b := findSnake(live, 2)
	if len(b.Body) != 2 {
		t.Fatalf("defender should lose its tail, length=%d", len(b.Body))
	}
}

func TestCollisionDefenderCollapseDies(t *testing.T) {
	snakes := []Snake{
		{ID: 1, UserID: 1, Alive: true, Dir: DirRight, Body: []Vec2{{X: 5, Y: 5}, {X: 4, Y: 5}}},
		{ID: 2, UserID: 2, Alive: true, Dir: DirStop, Body: []Vec2{{X: 5, Y: 5}}},
	}
	foods := []Food{{X: 0, Y: 0}}

	live, events, _ := runCollision(snakes, foods, 10, 10, testRand(), nil)

	if len(live) != 1 || live[0].ID != 1 {
		t.Fatalf("defender must die and be compacted, live=%+v", live)
	}
	var sawDeath bool
	for _, e := range events {
		if e.EventType == EventDeath && e.SnakeID == 2 {
			sawDeath = true
		}
	}
	if !sawDeath {
		t.Fatalf("expected a DEATH event for snake 2, got %+v", events)
	}
}

func TestCollisionFoodEatReplacesAndGrows(t *testing.T) {
	snakes := []Snake{{ID: 1, UserID: 1, Alive: true, Dir: DirRight, Body: []Vec2{{X: 6, Y: 5}}}}
	foods := []Food{{X: 6, Y: 5}}

	live, events, foodChanged := runCollision(snakes, foods, 10, 10, testRand(), nil)

	if !foodChanged {
		t.Fatalf("eating must mark the food changed")
	}
	if live[0].Grow != 1 {
		t.Fatalf("expected grow=1 after eating, got %d", live[0].Grow)
	}
	if len(events) != 1 || events[0].EventType != EventFood {
		t.Fatalf("expected a single FOOD event, got %+v", events)
	}
	if foods[0] == (Food{X: 6, Y: 5}) {
		t.Fatalf("food must be replaced in place, still at (6,5)")
	}
	if foods[0].X < 0 || foods[0].X >= 10 || foods[0].Y < 0 || foods[0].Y >= 10 {
		t.Fatalf("replacement food out of bounds: %+v", foods[0])
	}
}

func assertEvent(t *testing.T, e CollisionEvent, eventType string, snakeID, otherID, x, y, delta int) {
	t.Helper()
	if e.EventType != eventType || e.SnakeID != snakeID || e.OtherSnakeID != otherID ||
		e.X != x || e.Y != y || e.DeltaLength != delta {
		t.Fatalf("event mismatch: got %+v, want {%s %d %d (%d,%d) %+d}", e, eventType, snakeID, otherID, x, y, delta)
	}
}
