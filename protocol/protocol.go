// Package protocol holds the wire types shared by the HTTP/SSE surface and
// client tooling. The structs double as the source for the machine-readable
// JSON schema; bump Version before altering any field.
package protocol

import "encoding/json"

// Version is the snapshot wire protocol version.
const Version = 1

// Vec2 is one grid cell.
type Vec2 struct {
	X int `json:"x" jsonschema:"description=Column index on the grid"`
	Y int `json:"y" jsonschema:"description=Row index on the grid"`
}

// SnakeState is the wire form of one snake.
type SnakeState struct {
	ID     int    `json:"id" jsonschema:"description=Unique positive snake id"`
	UserID int    `json:"user_id" jsonschema:"description=Owning user id"`
	Color  string `json:"color" jsonschema:"description=Display color as #rrggbb"`
	Dir    int    `json:"dir" jsonschema:"minimum=0,maximum=4,description=Stop=0 Left=1 Right=2 Up=3 Down=4"`
	Paused bool   `json:"paused"`
	Body   []Vec2 `json:"body" jsonschema:"description=Cells head-first"`
}

// Snapshot is one full or AOI-filtered view of the world, sent as the data
// payload of every frame event.
type Snapshot struct {
	Tick   uint64       `json:"tick"`
	W      int          `json:"w" jsonschema:"minimum=10,description=Grid width"`
	H      int          `json:"h" jsonschema:"minimum=10,description=Grid height"`
	Foods  []Vec2       `json:"foods"`
	Snakes []SnakeState `json:"snakes"`
}

// EncodeSnapshot renders the stable snapshot JSON. Nil slices encode as
// empty arrays so the wire shape never omits fields.
func EncodeSnapshot(s Snapshot) ([]byte, error) {
	if s.Foods == nil {
		s.Foods = []Vec2{}
	}
	if s.Snakes == nil {
		s.Snakes = []SnakeState{}
	}
	for i := range s.Snakes {
		if s.Snakes[i].Body == nil {
			s.Snakes[i].Body = []Vec2{}
		}
	}
	return json.Marshal(s)
}
