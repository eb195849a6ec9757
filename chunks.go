package server

// ChunkID addresses the fixed-size square of cells
// [cx*S, (cx+1)*S) x [cy*S, (cy+1)*S) for chunk size S.
type ChunkID struct {
	CX int
	CY int
}

// ChunkData is the per-tick occupancy index of one chunk.
type ChunkData struct {
	ID             ChunkID
	SnakeIDs       map[int]struct{}
	Foods          []Food
	Obstacles      []Vec2
	Dirty          bool
	DirtySinceTick uint64
}

// ChunkManager maps cells to chunks and maintains the per-tick occupancy
// index used by AOI-filtered replication.
type ChunkManager struct {
	chunkSize       int
	singleChunkMode bool
	chunks          map[ChunkID]*ChunkData
	snakeHeadChunk  map[int]ChunkID
}

const minChunkSize = 8

// NewChunkManager clamps the chunk size to the minimum and starts empty.
func NewChunkManager(chunkSize int, singleChunkMode bool) *ChunkManager {
	m := &ChunkManager{
		chunks:         make(map[ChunkID]*ChunkData),
		snakeHeadChunk: make(map[int]ChunkID),
	}
	m.SetConfig(chunkSize, singleChunkMode)
	return m
}

// SetConfig re-applies chunking parameters; the index is rebuilt on the next
// tick so no immediate invalidation is needed.
func (m *ChunkManager) SetConfig(chunkSize int, singleChunkMode bool) {
	if chunkSize < minChunkSize {
		chunkSize = minChunkSize
	}
	m.chunkSize = chunkSize
	m.singleChunkMode = singleChunkMode
}

// CoordToChunk maps a cell to its chunk. In single-chunk mode everything
// lives in (0,0).
func (m *ChunkManager) CoordToChunk(x, y int) ChunkID {
	if m.singleChunkMode {
		return ChunkID{}
	}
	return ChunkID{CX: floorDiv(x, m.chunkSize), CY: floorDiv(y, m.chunkSize)}
}

// ChunksInRadius returns the (2r+1)^2 square neighborhood around center.
func (m *ChunkManager) ChunksInRadius(center ChunkID, radius int) []ChunkID {
	if radius < 0 {
		radius = 0
	}
	out := make([]ChunkID, 0, (2*radius+1)*(2*radius+1))
	for dx := -radius; dx <= radius; dx++ {
		for dy := -radius; dy <= radius; dy++ {
			out = append(out, ChunkID{CX: center.CX + dx, CY: center.CY + dy})
		}
	}
	return out
}

// Rebuild replaces the whole index from current world state. Chunk records
// are dirty on first creation within a tick.
func (m *ChunkManager) Rebuild(snakes []Snake, foods []Food, obstacles []Obstacle, tickID uint64) {
	m.chunks = make(map[ChunkID]*ChunkData)
	m.snakeHeadChunk = make(map[int]ChunkID)

	for i := range snakes {
		s := &snakes[i]
		if !s.Alive || len(s.Body) == 0 {
			continue
		}
		id := m.CoordToChunk(s.Body[0].X, s.Body[0].Y)
		chunk := m.ensureChunk(id, tickID)
		chunk.SnakeIDs[s.ID] = struct{}{}
		m.snakeHeadChunk[s.ID] = id
	}

	for _, f := range foods {
		id := m.CoordToChunk(f.X, f.Y)
		chunk := m.ensureChunk(id, tickID)
		chunk.Foods = append(chunk.Foods, f)
	}

	for _, o := range obstacles {
		id := m.CoordToChunk(o.Pos.X, o.Pos.Y)
		chunk := m.ensureChunk(id, tickID)
		chunk.Obstacles = append(chunk.Obstacles, o.Pos)
	}
}

// SnakeInChunks reports whether the snake's recorded head chunk is in the set.
func (m *ChunkManager) SnakeInChunks(snakeID int, visible map[ChunkID]struct{}) bool {
	id, ok := m.snakeHeadChunk[snakeID]
	if !ok {
		return false
	}
	_, in := visible[id]
	return in
}

// FoodInChunks reports whether the food's cell maps into the set.
func (m *ChunkManager) FoodInChunks(f Food, visible map[ChunkID]struct{}) bool {
	_, in := visible[m.CoordToChunk(f.X, f.Y)]
	return in
}

func (m *ChunkManager) ensureChunk(id ChunkID, tickID uint64) *ChunkData {
	if chunk, ok := m.chunks[id]; ok {
		return chunk
	}
	chunk := &ChunkData{
		ID:             id,
		SnakeIDs:       make(map[int]struct{}),
		Dirty:          true,
		DirtySinceTick: tickID,
	}
	m.chunks[id] = chunk
	return chunk
}

// floorDiv divides toward negative infinity so negative cells land in the
// expected chunk.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
