package server

import (
	"sync"
	"time"
)

// Session is one viewer's camera state. Sessions are created on first
// /game/camera or /game/stream touch and keyed by an opaque id the client
// either supplies or is assigned.
type Session struct {
	SID                   string
	CameraX               int
	CameraY               int
	CameraZoom            float64
	WatchedSnakeID        int
	SubscribedChunksCount int
	UpdatedAtMS           int64
}

const (
	minZoom = 0.25
	maxZoom = 4.0
)

// SessionRegistry serializes access to the per-viewer camera map. Reads and
// writes are short; the registry never touches the world lock.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      RuntimeConfig
}

// NewSessionRegistry creates an empty registry bound to the runtime AOI
// configuration.
func NewSessionRegistry(cfg RuntimeConfig) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
	}
}

// Touch returns the session for sid, creating it centered at the grid origin
// with neutral zoom on first use.
func (r *SessionRegistry) Touch(sid string) Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.touchLocked(sid)
}

func (r *SessionRegistry) touchLocked(sid string) *Session {
	s, ok := r.sessions[sid]
	if !ok {
		s = &Session{
			SID:                   sid,
			CameraZoom:            1.0,
			SubscribedChunksCount: r.subscribedChunks(),
			UpdatedAtMS:           time.Now().UnixMilli(),
		}
		r.sessions[sid] = s
	}
	return s
}

// UpdateCamera clamps and stores a camera move, returning the new state.
// Zoom and watch target are optional; negative zoom means "keep".
func (r *SessionRegistry) UpdateCamera(sid string, x, y, width, height int, zoom float64, watchedSnakeID int) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.touchLocked(sid)
	s.CameraX = clampInt(x, 0, width-1)
	s.CameraY = clampInt(y, 0, height-1)
	if zoom > 0 {
		if zoom < minZoom {
			zoom = minZoom
		}
		if zoom > maxZoom {
			zoom = maxZoom
		}
		s.CameraZoom = zoom
	}
	if watchedSnakeID > 0 {
		s.WatchedSnakeID = watchedSnakeID
	}
	s.SubscribedChunksCount = r.subscribedChunks()
	s.UpdatedAtMS = time.Now().UnixMilli()
	return *s
}

// subscribedChunks is (2r+1)^2, 1 in single-chunk mode, or -1 meaning
// "no filter" when AOI is disabled.
func (r *SessionRegistry) subscribedChunks() int {
	if !r.cfg.AOIEnabled {
		return -1
	}
	if r.cfg.SingleChunkMode {
		return 1
	}
	side := 2*r.cfg.AOIRadius + 1
	return side * side
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
