package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Broadcaster owns the snapshot sequence counter. The scheduler bumps it on
// scheduled broadcasts, reloads, and observable ticks; stream sessions poll
// it and re-derive their view whenever it moves.
type Broadcaster struct {
	mu  sync.Mutex
	seq uint64
}

// NewBroadcaster starts the sequence at 1 so a fresh client always sees the
// boot snapshot as a change.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{seq: 1}
}

// Bump advances the sequence.
func (b *Broadcaster) Bump() {
	b.mu.Lock()
	b.seq++
	b.mu.Unlock()
}

// Sequence reads the current sequence.
func (b *Broadcaster) Sequence() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

const wsWriteWait = 10 * time.Second

// wsSubscriber is one websocket mirror connection. The mutex serializes
// writes the same way the SSE chunked writer is naturally serialized.
type wsSubscriber struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// writeFrame ships one encoded snapshot; an error means the peer is gone.
func (s *wsSubscriber) writeFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// writeKeepalive ships a ping control frame during idle stretches.
func (s *wsSubscriber) writeKeepalive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *wsSubscriber) close(reason string) {
	if reason != "" {
		log.Printf("closing websocket mirror: %s", reason)
	}
	s.conn.Close()
}
