package server

import "math/rand"

// spawnAttempts bounds the uniform rejection sampling in randFreeCell.
const spawnAttempts = 2000

// randFreeCell draws uniformly from the grid until it finds a cell occupied by
// no alive snake body and no food. After spawnAttempts draws it gives up and
// returns (0,0); callers tolerate the overlap and the next tick reshuffles.
func randFreeCell(snakes []Snake, foods []Food, width, height int, rng *rand.Rand) Vec2 {
	occupied := make(map[int64]struct{})
	for i := range snakes {
		if !snakes[i].Alive {
			continue
		}
		for _, c := range snakes[i].Body {
			occupied[cellKey(c)] = struct{}{}
		}
	}
	for _, f := range foods {
		occupied[cellKey(f.Cell())] = struct{}{}
	}

	for tries := 0; tries < spawnAttempts; tries++ {
		candidate := Vec2{X: rng.Intn(width), Y: rng.Intn(height)}
		if _, taken := occupied[cellKey(candidate)]; !taken {
			return candidate
		}
	}
	return Vec2{}
}

// ensureFoodCount appends fresh foods until the target count is reached.
// Uniqueness against current foods holds because randFreeCell rejects
// occupied cells.
func ensureFoodCount(snakes []Snake, foods []Food, target, width, height int, rng *rand.Rand) []Food {
	for len(foods) < target {
		pos := randFreeCell(snakes, foods, width, height, rng)
		foods = append(foods, Food{X: pos.X, Y: pos.Y})
	}
	return foods
}
