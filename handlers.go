package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"gridsnakes/server/protocol"
)

// HTTPDeps carries everything the handler set closes over.
type HTTPDeps struct {
	Game        *GameService
	Economy     *EconomyService
	Auth        *AuthState
	Sessions    *SessionRegistry
	Broadcaster *Broadcaster
	Runtime     RuntimeConfig
}

// NewHTTPHandler builds the full route table with CORS applied to every
// response.
func NewHTTPHandler(deps HTTPDeps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("OPTIONS /", func(w http.ResponseWriter, r *http.Request) {
		addCORS(w)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		addCORS(w)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.HandleFunc("GET /game/state", func(w http.ResponseWriter, r *http.Request) {
		addCORS(w)
		data, err := encodeSnapshotJSON(deps.Game.World().Snapshot())
		if err != nil {
			http.Error(w, "failed to encode", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})

	mux.HandleFunc("GET /game/runtime", func(w http.ResponseWriter, r *http.Request) {
		addCORS(w)
		writeJSON(w, http.StatusOK, map[string]any{
			"tick_hz":           deps.Runtime.TickHz,
			"spectator_hz":      deps.Runtime.SpectatorHz,
			"player_hz":         deps.Runtime.PlayerHz,
			"enable_broadcast":  deps.Runtime.EnableBroadcast,
			"chunk_size":        deps.Runtime.ChunkSize,
			"single_chunk_mode": deps.Runtime.SingleChunkMode,
			"aoi_enabled":       deps.Runtime.AOIEnabled,
			"aoi_radius":        deps.Runtime.AOIRadius,
		})
	})

	mux.HandleFunc("GET /game/stream", deps.handleStream)
	mux.HandleFunc("GET /game/ws", deps.handleWS)
	mux.HandleFunc("POST /game/camera", deps.handleCamera)

	mux.HandleFunc("GET /economy/state", func(w http.ResponseWriter, r *http.Request) {
		addCORS(w)
		writeJSON(w, http.StatusOK, economyStateBody(deps.Economy.GetState()))
	})

	mux.HandleFunc("POST /economy/purchase", deps.handlePurchase)
	mux.HandleFunc("POST /auth/login", deps.handleLogin)
	mux.HandleFunc("GET /me/snakes", deps.handleListSnakes)
	mux.HandleFunc("POST /me/snakes", deps.handleCreateSnake)
	mux.HandleFunc("POST /snakes/{id}/dir", deps.handleSetDir)
	mux.HandleFunc("POST /snakes/{id}/pause", deps.handleTogglePause)

	return mux
}

func addCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to encode", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// encodeSnapshotJSON converts the internal snapshot to the stable wire form.
func encodeSnapshotJSON(snap WorldSnapshot) ([]byte, error) {
	out := protocol.Snapshot{Tick: snap.Tick, W: snap.W, H: snap.H}
	out.Foods = make([]protocol.Vec2, len(snap.Foods))
	for i, f := range snap.Foods {
		out.Foods[i] = protocol.Vec2{X: f.X, Y: f.Y}
	}
	out.Snakes = make([]protocol.SnakeState, len(snap.Snakes))
	for i := range snap.Snakes {
		s := &snap.Snakes[i]
		state := protocol.SnakeState{
			ID:     s.ID,
			UserID: s.UserID,
			Color:  s.Color,
			Dir:    int(s.Dir),
			Paused: s.Paused,
			Body:   make([]protocol.Vec2, len(s.Body)),
		}
		for j, c := range s.Body {
			state.Body[j] = protocol.Vec2{X: c.X, Y: c.Y}
		}
		out.Snakes[i] = state
	}
	return protocol.EncodeSnapshot(out)
}

func economyStateBody(snap EconomySnapshot) map[string]any {
	return map[string]any{
		"period_key": snap.State.PeriodKey,
		"M":          snap.State.M,
		"K":          snap.State.K,
		"Y":          snap.State.Y,
		"P":          snap.State.P,
		"pi":         snap.State.Pi,
		"A_world":    snap.State.AWorld,
		"M_white":    snap.State.MWhite,
		"inputs": map[string]any{
			"k_land":        snap.Params.KLand,
			"A":             snap.Params.AProductivity,
			"V":             snap.Params.VVelocity,
			"M_G":           snap.Params.MGovReserve,
			"cap_delta_m":   snap.Params.CapDeltaM,
			"delta_m_issue": snap.Params.DeltaMIssue,
			"delta_m_buy":   snap.DeltaMBuy,
			"delta_k_obs":   snap.Params.DeltaKObs,
			"sum_mi":        snap.State.SumMi,
			"k_snakes":      snap.KSnakes,
		},
	}
}

// sessionID returns the client-supplied sid or mints one.
func sessionID(raw string) string {
	if raw != "" {
		return raw
	}
	return uuid.NewString()
}

// cameraView derives the AOI-filtered view for one session.
func (d HTTPDeps) cameraView(sess Session) WorldSnapshot {
	return d.Game.World().SnapshotForCamera(sess.CameraX, sess.CameraY, d.Runtime.AOIEnabled, d.Runtime.AOIRadius)
}

// handleStream serves the SSE feed: one frame event per snapshot-sequence
// change, derived per camera, with comment keepalives during idle stretches.
// The world lock is never held across a network write.
func (d HTTPDeps) handleStream(w http.ResponseWriter, r *http.Request) {
	addCORS(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sid := sessionID(r.URL.Query().Get("sid"))
	d.Sessions.Touch(sid)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	pollInterval := time.Duration(maxInt(1, d.Runtime.SpectatorIntervalMS()/2)) * time.Millisecond
	const heartbeatEvery = 10 * time.Second

	var lastSeq uint64
	lastWrite := time.Now()

	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		var payload []byte
		if seq := d.Broadcaster.Sequence(); seq != lastSeq {
			lastSeq = seq
			sess := d.Sessions.Touch(sid)
			data, err := encodeSnapshotJSON(d.cameraView(sess))
			if err != nil {
				log.Printf("stream %s: encode failed: %v", sid, err)
				return
			}
			payload = append(payload, "event: frame\ndata: "...)
			payload = append(payload, data...)
			payload = append(payload, "\n\n"...)
		} else if time.Since(lastWrite) >= heartbeatEvery {
			payload = []byte(": keepalive\n\n")
		}

		if len(payload) > 0 {
			if _, err := w.Write(payload); err != nil {
				return
			}
			flusher.Flush()
			lastWrite = time.Now()
		}

		time.Sleep(pollInterval)
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS mirrors the frame stream over a websocket for clients that prefer
// a socket to SSE. Same cadence, same per-camera derivation.
func (d HTTPDeps) handleWS(w http.ResponseWriter, r *http.Request) {
	sid := sessionID(r.URL.Query().Get("sid"))
	d.Sessions.Touch(sid)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed for %s: %v", sid, err)
		return
	}
	sub := &wsSubscriber{conn: conn}

	// Drain (and discard) client frames so control frames are processed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pollInterval := time.Duration(maxInt(1, d.Runtime.SpectatorIntervalMS()/2)) * time.Millisecond
	const heartbeatEvery = 10 * time.Second

	var lastSeq uint64
	lastWrite := time.Now()

	for {
		select {
		case <-r.Context().Done():
			sub.close("")
			return
		default:
		}

		if seq := d.Broadcaster.Sequence(); seq != lastSeq {
			lastSeq = seq
			sess := d.Sessions.Touch(sid)
			data, err := encodeSnapshotJSON(d.cameraView(sess))
			if err != nil {
				sub.close(fmt.Sprintf("encode failed: %v", err))
				return
			}
			if err := sub.writeFrame(data); err != nil {
				sub.close("")
				return
			}
			lastWrite = time.Now()
		} else if time.Since(lastWrite) >= heartbeatEvery {
			if err := sub.writeKeepalive(); err != nil {
				sub.close("")
				return
			}
			lastWrite = time.Now()
		}

		time.Sleep(pollInterval)
	}
}

type cameraRequest struct {
	SID          string   `json:"sid"`
	X            *int     `json:"x"`
	Y            *int     `json:"y"`
	Zoom         *float64 `json:"zoom"`
	WatchSnakeID int      `json:"watch_snake_id"`
}

func (d HTTPDeps) handleCamera(w http.ResponseWriter, r *http.Request) {
	addCORS(w)

	var req cameraRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SID == "" || req.X == nil || req.Y == nil {
		writeError(w, http.StatusBadRequest, "bad_camera_payload")
		return
	}

	zoom := -1.0
	if req.Zoom != nil {
		zoom = *req.Zoom
	}
	world := d.Game.World()
	sess := d.Sessions.UpdateCamera(req.SID, *req.X, *req.Y, world.Width(), world.Height(), zoom, req.WatchSnakeID)

	writeJSON(w, http.StatusOK, map[string]any{
		"sid":               sess.SID,
		"camera_x":          sess.CameraX,
		"camera_y":          sess.CameraY,
		"camera_zoom":       sess.CameraZoom,
		"watch_snake_id":    sess.WatchedSnakeID,
		"subscribed_chunks": sess.SubscribedChunksCount,
		"updated_at":        sess.UpdatedAtMS,
	})
}

func (d HTTPDeps) handlePurchase(w http.ResponseWriter, r *http.Request) {
	addCORS(w)

	uid, ok := d.Auth.RequireAuthUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body struct {
		Cells          *int64 `json:"cells"`
		PurchasedCells *int64 `json:"purchased_cells"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_cells")
		return
	}
	cells := body.Cells
	if cells == nil {
		cells = body.PurchasedCells
	}
	if cells == nil || *cells <= 0 {
		writeError(w, http.StatusBadRequest, "bad_cells")
		return
	}

	snap, periodKey, err := d.Economy.Purchase(uid, *cells)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "OK",
		"cells":      *cells,
		"period_key": periodKey,
		"M":          snap.State.M,
		"P":          snap.State.P,
	})
}

func (d HTTPDeps) handleLogin(w http.ResponseWriter, r *http.Request) {
	addCORS(w)

	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	user, err := d.Game.store.GetUserByUsername(body.Username)
	if err != nil {
		log.Printf("login lookup failed for %q: %v", body.Username, err)
	}
	if user == nil || user.PasswordHash != body.Password {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	uid, err := strconv.Atoi(user.UserID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	token := d.Auth.IssueToken(uid)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user_id": uid})
}

func (d HTTPDeps) handleListSnakes(w http.ResponseWriter, r *http.Request) {
	addCORS(w)

	uid, ok := d.Auth.RequireAuthUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snakes := d.Game.World().ListUserSnakes(uid)
	items := make([]map[string]any, 0, len(snakes))
	for i := range snakes {
		items = append(items, map[string]any{
			"id":     snakes[i].ID,
			"color":  snakes[i].Color,
			"paused": snakes[i].Paused,
			"len":    len(snakes[i].Body),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"snakes": items})
}

func (d HTTPDeps) handleCreateSnake(w http.ResponseWriter, r *http.Request) {
	addCORS(w)

	uid, ok := d.Auth.RequireAuthUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var body struct {
		Color string `json:"color"`
	}
	// A missing or empty body just means "default color".
	json.NewDecoder(r.Body).Decode(&body)

	id := d.Game.World().CreateSnakeForUser(uid, body.Color)
	if id == 0 {
		writeError(w, http.StatusTooManyRequests, "snake_limit")
		return
	}
	d.Game.FlushPersistenceDelta()

	writeJSON(w, http.StatusOK, map[string]any{"id": id})
}

func (d HTTPDeps) handleSetDir(w http.ResponseWriter, r *http.Request) {
	addCORS(w)

	uid, ok := d.Auth.RequireAuthUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snakeID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	var body struct {
		Dir *int `json:"dir"`
	}
	if derr := json.NewDecoder(r.Body).Decode(&body); derr != nil || body.Dir == nil || *body.Dir < 1 || *body.Dir > 4 {
		writeError(w, http.StatusBadRequest, "bad_dir")
		return
	}

	if !d.Game.World().QueueDirectionInput(uid, snakeID, Dir(*body.Dir)) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

func (d HTTPDeps) handleTogglePause(w http.ResponseWriter, r *http.Request) {
	addCORS(w)

	uid, ok := d.Auth.RequireAuthUser(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snakeID, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request")
		return
	}

	if !d.Game.World().QueuePauseToggle(uid, snakeID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}
