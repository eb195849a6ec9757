package server

import (
	"math/rand"
	"sort"
)

// runCollision resolves the post-movement board in a fixed order: self-hits,
// inter-snake bites in ascending id order, food, then deaths. It appends the
// gameplay events it produced, reports whether any food moved, and compacts
// dead snakes out of the live slice.
func runCollision(snakes []Snake, foods []Food, width, height int, rng *rand.Rand, events []CollisionEvent) ([]Snake, []CollisionEvent, bool) {
	foodChanged := false

	// Self-hits first: a snake that collapses here is dead before the bite
	// arbitration below ever sees it.
	for i := range snakes {
		s := &snakes[i]
		if !s.Alive || len(s.Body) < 2 {
			continue
		}
		head := s.Body[0]
		hitSelf := false
		for _, c := range s.Body[1:] {
			if c == head {
				hitSelf = true
				break
			}
		}
		if hitSelf {
			s.Body = s.Body[:len(s.Body)-1]
			s.Paused = true
			events = append(events, CollisionEvent{EventType: EventSelfCollision, SnakeID: s.ID, X: head.X, Y: head.Y, DeltaLength: -1})
			if len(s.Body) == 0 {
				s.Alive = false
			}
		}
	}

	cellOwners := make(map[int64][]int)
	for i := range snakes {
		if !snakes[i].Alive {
			continue
		}
		for _, c := range snakes[i].Body {
			k := cellKey(c)
			cellOwners[k] = append(cellOwners[k], snakes[i].ID)
		}
	}

	snakeIDs := make([]int, 0, len(snakes))
	for i := range snakes {
		if snakes[i].Alive {
			snakeIDs = append(snakeIDs, snakes[i].ID)
		}
	}
	sort.Ints(snakeIDs)

	for _, sid := range snakeIDs {
		attacker := findSnake(snakes, sid)
		if attacker == nil || !attacker.Alive || len(attacker.Body) == 0 {
			continue
		}

		defenderID := 0
		for _, ownerID := range cellOwners[cellKey(attacker.Body[0])] {
			if ownerID != attacker.ID {
				defenderID = ownerID
				break
			}
		}
		if defenderID == 0 {
			continue
		}
		defender := findSnake(snakes, defenderID)
		if defender == nil || !defender.Alive {
			continue
		}

		impact := attacker.Body[0]
		attacker.Grow++
		attacker.Dir = OppositeDir(attacker.Dir)
		attacker.Paused = false
		events = append(events, CollisionEvent{EventType: EventBite, SnakeID: attacker.ID, OtherSnakeID: defender.ID, X: impact.X, Y: impact.Y, DeltaLength: 1})

		if len(defender.Body) > 0 {
			defender.Body = defender.Body[:len(defender.Body)-1]
			events = append(events, CollisionEvent{EventType: EventBitten, SnakeID: defender.ID, OtherSnakeID: attacker.ID, X: impact.X, Y: impact.Y, DeltaLength: -1})
		}
		if len(defender.Body) == 0 {
			defender.Alive = false
		}
	}

	for i := range snakes {
		s := &snakes[i]
		if !s.Alive || len(s.Body) == 0 {
			continue
		}
		head := s.Body[0]
		for fi := range foods {
			if foods[fi].X == head.X && foods[fi].Y == head.Y {
				s.Grow++
				events = append(events, CollisionEvent{EventType: EventFood, SnakeID: s.ID, X: head.X, Y: head.Y, DeltaLength: 1})
				replacement := randFreeCell(snakes, foods, width, height, rng)
				foods[fi].X = replacement.X
				foods[fi].Y = replacement.Y
				foodChanged = true
			}
		}
	}

	for i := range snakes {
		s := &snakes[i]
		if s.Alive {
			continue
		}
		at := s.Head()
		events = append(events, CollisionEvent{EventType: EventDeath, SnakeID: s.ID, X: at.X, Y: at.Y, DeltaLength: -1})
	}

	live := snakes[:0]
	for i := range snakes {
		if snakes[i].Alive {
			live = append(live, snakes[i])
		}
	}

	return live, events, foodChanged
}

func findSnake(snakes []Snake, id int) *Snake {
	for i := range snakes {
		if snakes[i].ID == id {
			return &snakes[i]
		}
	}
	return nil
}
