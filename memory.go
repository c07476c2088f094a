// Pairbox Memory Game
//
// A board of face-down tiles is dealt from the configured deck, two tiles per
// key. The player flips two tiles at a time; matching pairs stay face up,
// mismatched pairs are turned back over after the reveal delay. The game is
// complete once every pair has been found.
//
// Features:
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - Browser that created the game holds a signed session cookie and drives play
// - Everyone else who opens the link watches the same board, read-only
// - Each game runs on its own goroutine, so timers never race with input
// - Restart deals a fresh board; timers from the old board are dropped
// - Tile faces are only sent to clients once a tile is revealed
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side collision check
// - Completed games optionally recorded to sqlite
// - In-browser QR button to share the current session, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/pairbox/games/memory"
	"github.com/Seednode/pairbox/history"
)

// Messages coming from clients
type ClientMessage struct {
	Type string `json:"type"`           // "activate", "restart"
	Tile string `json:"tile,omitempty"` // activate
}

// TileView is the client's picture of one tile. Key is left out while the
// tile is face down.
type TileView struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
	State    string `json:"state"`
	Key      string `json:"key,omitempty"`
}

// BoardMessage carries every tile in display order.
type BoardMessage struct {
	Type     string     `json:"type"` // "board"
	Tiles    []TileView `json:"tiles"`
	Locked   bool       `json:"locked"`
	Complete bool       `json:"complete"`
}

// TileMessage is sent whenever a single tile changes state.
type TileMessage struct {
	Type string   `json:"type"` // "tile"
	Tile TileView `json:"tile"`
}

type CompleteMessage struct {
	Type        string `json:"type"` // "complete"
	Message     string `json:"message"`
	Activations int    `json:"activations"`
	Mismatches  int    `json:"mismatches"`
	ElapsedMs   int64  `json:"elapsed_ms"`
}

// LockMessage tells clients whether the board is accepting flips.
type LockMessage struct {
	Type   string `json:"type"` // "lock"
	Locked bool   `json:"locked"`
}

// SessionMessage is sent immediately on connect so the client knows
// whether it may play or only watch.
type SessionMessage struct {
	Type  string `json:"type"` // "session"
	Game  string `json:"game"`
	Owner bool   `json:"owner"`
}

// SimpleMessage is for generic notifications ("read_only", etc.)
type SimpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Client struct {
	conn  *websocket.Conn
	send  chan any
	owner bool
}

type activation struct {
	client *Client
	tile   string
}

// task is a deferred game callback, tagged with the board it belongs to.
type task struct {
	generation uint64
	fn         func()
}

type Hub struct {
	id      string
	cfg     *Config
	deck    []string
	history *history.Store
	records *sync.WaitGroup

	// Only touched by run.
	clients    map[*Client]bool
	game       *memory.Game[string]
	generation uint64
	startedAt  time.Time
	sentLocked bool

	register    chan *Client
	unreg       chan *Client
	activations chan activation
	restarts    chan *Client
	tasks       chan task
	done        chan struct{}
	stopOnce    sync.Once

	mu         sync.RWMutex
	lastActive time.Time
}

func newHub(cfg *Config, gameID string, deck []string, hist *history.Store, records *sync.WaitGroup) (*Hub, error) {
	now := time.Now()

	h := &Hub{
		id:          gameID,
		cfg:         cfg,
		deck:        deck,
		history:     hist,
		records:     records,
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unreg:       make(chan *Client),
		activations: make(chan activation),
		restarts:    make(chan *Client),
		tasks:       make(chan task),
		done:        make(chan struct{}),
		lastActive:  now,
	}

	if err := h.newBoard(); err != nil {
		return nil, err
	}

	return h, nil
}

// newBoard replaces the current board with a freshly shuffled one. Tasks
// scheduled by the previous board are discarded by run.
func (h *Hub) newBoard() error {
	h.generation++
	generation := h.generation

	scheduler := memory.SchedulerFunc(func(d time.Duration, fn func()) {
		time.AfterFunc(d, func() {
			select {
			case h.tasks <- task{generation: generation, fn: fn}:
			case <-h.done:
			}
		})
	})

	log := zerolog.Nop()
	if h.cfg.verbose {
		log = logger.With().Str("game", h.id).Logger()
	}

	game, err := memory.New(
		memory.Pairs(deal(h.deck, h.cfg.pairs)),
		hubRenderer{hub: h},
		scheduler,
		memory.WithRevealDelay(h.cfg.revealDelay),
		memory.WithCompleteDelay(h.cfg.completeDelay),
		memory.WithLogger(log),
	)
	if err != nil {
		return err
	}

	h.game = game
	h.startedAt = time.Now()
	h.sentLocked = false

	game.Initialize()

	return nil
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.touch()
			h.clients[c] = true

			h.sendTo(c, SessionMessage{
				Type:  "session",
				Game:  h.id,
				Owner: c.owner,
			})
			h.sendTo(c, h.boardMessage())

		case c := <-h.unreg:
			h.touch()

			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

		case a := <-h.activations:
			h.touch()

			if !a.client.owner {
				h.sendTo(a.client, SimpleMessage{
					Type:    "read_only",
					Message: "Only the player who started this game can flip tiles.",
				})

				continue
			}

			id, err := uuid.Parse(a.tile)
			if err != nil {
				continue
			}

			h.game.ActivateID(id)
			h.syncLock()

		case c := <-h.restarts:
			h.touch()

			if !c.owner {
				h.sendTo(c, SimpleMessage{
					Type:    "read_only",
					Message: "Only the player who started this game can restart it.",
				})

				continue
			}

			if err := h.newBoard(); err != nil {
				logErr(err, "GAMES: Failed to restart game %s", h.id)

				continue
			}

			logf(h.cfg, "GAMES: Restarted game %s", h.id)

		case t := <-h.tasks:
			if t.generation != h.generation {
				continue
			}

			t.fn()
			h.syncLock()

		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
				_ = c.conn.Close()
			}

			return
		}
	}
}

// stop ends the hub and disconnects all of its clients.
func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// syncLock tells clients when the board locks or unlocks. A matched pair
// locks and unlocks within one activation, so only mismatches are visible.
func (h *Hub) syncLock() {
	locked := h.game.Locked()
	if locked == h.sentLocked {
		return
	}
	h.sentLocked = locked

	h.broadcast(LockMessage{
		Type:   "lock",
		Locked: locked,
	})
}

// sendTo queues msg for c, dropping the client if it cannot keep up.
func (h *Hub) sendTo(c *Client, msg any) {
	if _, ok := h.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(msg any) {
	for c := range h.clients {
		h.sendTo(c, msg)
	}
}

func (h *Hub) boardMessage() BoardMessage {
	return boardOf(h.game.Tiles(), h.game.Locked(), h.game.Complete())
}

func boardOf(tiles []*memory.Tile[string], locked, complete bool) BoardMessage {
	views := make([]TileView, 0, len(tiles))
	for _, t := range tiles {
		views = append(views, viewOf(t))
	}

	return BoardMessage{
		Type:     "board",
		Tiles:    views,
		Locked:   locked,
		Complete: complete,
	}
}

func viewOf(t *memory.Tile[string]) TileView {
	v := TileView{
		ID:       t.ID().String(),
		Position: t.Position(),
		State:    t.Visibility().String(),
	}
	if t.Revealed() {
		v.Key = t.Key()
	}

	return v
}

// hubRenderer turns render intents from the game into websocket messages.
// It is only ever called from the hub's run goroutine.
type hubRenderer struct {
	hub *Hub
}

func (r hubRenderer) Render(t *memory.Tile[string]) {
	r.hub.broadcast(TileMessage{
		Type: "tile",
		Tile: viewOf(t),
	})
}

func (r hubRenderer) Reorder(tiles []*memory.Tile[string]) {
	r.hub.broadcast(boardOf(tiles, false, false))
}

func (r hubRenderer) NotifyComplete() {
	h := r.hub
	stats := h.game.Stats()
	finished := time.Now()

	h.broadcast(CompleteMessage{
		Type:        "complete",
		Message:     "You found every pair!",
		Activations: stats.Activations,
		Mismatches:  stats.Mismatches,
		ElapsedMs:   finished.Sub(h.startedAt).Milliseconds(),
	})

	logf(h.cfg, "GAMES: Completed game %s (%d flips, %d misses) in %s",
		h.id,
		stats.Activations,
		stats.Mismatches,
		finished.Sub(h.startedAt).Round(time.Millisecond),
	)

	if h.history == nil {
		return
	}

	c := history.Completion{
		GameID:      h.id,
		Tiles:       len(h.game.Tiles()),
		Activations: stats.Activations,
		Mismatches:  stats.Mismatches,
		StartedAt:   h.startedAt,
		FinishedAt:  finished,
	}

	h.records.Add(1)
	go func() {
		defer h.records.Done()

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := h.history.Record(ctx, c); err != nil {
			logErr(err, "GAMES: Failed to record game %s", h.id)
		}
	}()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GameManager holds a set of hubs keyed by game ID, so each $path/$gameid
// is its own isolated session.
type GameManager struct {
	mu     sync.Mutex
	hubs   map[string]*Hub
	cfg    *Config
	deck   []string
	secret []byte
	hist   *history.Store

	// running counts hub goroutines; records counts completion writes
	// still in flight.
	running sync.WaitGroup
	records sync.WaitGroup

	quit     chan struct{}
	quitOnce sync.Once
}

func newGameManager(cfg *Config, deck []string, secret []byte, hist *history.Store) *GameManager {
	gm := &GameManager{
		hubs:   make(map[string]*Hub),
		cfg:    cfg,
		deck:   deck,
		secret: secret,
		hist:   hist,
		quit:   make(chan struct{}),
	}
	if cfg.sessionTimeout > 0 {
		go gm.reaperLoop(cfg.sessionTimeout)
	}
	return gm
}

// create deals a new game under a fresh ID and starts its hub.
func (gm *GameManager) create() (*Hub, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	id := gm.newGameIDLocked()

	hub, err := newHub(gm.cfg, id, gm.deck, gm.hist, &gm.records)
	if err != nil {
		return nil, err
	}

	gm.hubs[id] = hub

	gm.running.Add(1)
	go func() {
		defer gm.running.Done()
		hub.run()
	}()

	return hub, nil
}

func (gm *GameManager) get(gameID string) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	return gm.hubs[gameID]
}

// remove stops and forgets a single game.
func (gm *GameManager) remove(gameID string) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		delete(gm.hubs, gameID)
		hub.stop()
	}
}

// newGameIDLocked generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameIDLocked() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		if _, exists := gm.hubs[id]; !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer than idleTimeout.
func (gm *GameManager) reaperLoop(idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-gm.quit:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				hub.stop()

				logf(gm.cfg, "GAMES: Reaped idle game %s", id)
			}
		}
		gm.mu.Unlock()
	}
}

// stop ends every running game and waits for pending completion writes.
func (gm *GameManager) stop() {
	gm.quitOnce.Do(func() {
		close(gm.quit)
	})

	gm.mu.Lock()
	for id, hub := range gm.hubs {
		delete(gm.hubs, id)
		hub.stop()
	}
	gm.mu.Unlock()

	// Completions are only recorded from a hub goroutine, so once every
	// hub has exited no new write can start.
	gm.running.Wait()
	gm.records.Wait()
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")

		hub := gm.get(gameID)
		if hub == nil {
			http.NotFound(w, r)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logErr(err, "SERVE: Websocket upgrade for %s", requestTag(r))
			return
		}

		client := &Client{
			conn:  conn,
			send:  make(chan any, 16),
			owner: isOwner(r, gm.secret, gameID),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			_ = conn.Close()
			return
		}

		logf(cfg, "GAMES: %s joined game %s (owner: %t)", requestTag(r), gameID, client.owner)

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unreg <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "activate":
			select {
			case h.activations <- activation{client: c, tile: msg.Tile}:
			case <-h.done:
				return
			}
		case "restart":
			select {
			case h.restarts <- c:
			case <-h.done:
				return
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// qrHandler generates a PNG QR code for the current game URL using go-qrcode.
func qrHandler(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if gm.get(ps.ByName("gameid")) == nil {
			http.NotFound(w, r)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_, _ = w.Write(png)
	}
}

func getIndexHandler(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if gm.get(ps.ByName("gameid")) == nil {
			http.Redirect(w, r, cfg.prefix+path, http.StatusTemporaryRedirect)
			return
		}

		page, err := assets.ReadFile("assets/memory/index.html")
		if err != nil {
			http.Error(w, "missing client", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		securityHeaders(cfg, w)

		_, _ = w.Write(page)
	}
}

// redirectNewGame handles GET /path by dealing a new game under a random ID,
// handing the caller its owner session, and redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		hub, err := gm.create()
		if err != nil {
			logErr(err, "GAMES: Failed to create game for %s", requestTag(r))
			http.Error(w, "unable to create game", http.StatusInternalServerError)
			return
		}

		if err := issueSession(cfg, w, gm.secret, path, hub.id); err != nil {
			gm.remove(hub.id)
			logErr(err, "GAMES: Failed to sign session for game %s", hub.id)
			http.Error(w, "unable to create game", http.StatusInternalServerError)
			return
		}

		logf(cfg, "GAMES: Created game %s%s/%s for %s", cfg.prefix, path, hub.id, requestTag(r))

		http.Redirect(w, r, cfg.prefix+path+"/"+hub.id, http.StatusTemporaryRedirect)
	}
}

// registerMemoryGame sets up routes so that:
//   - $path                  → redirects to a newly dealt game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerMemoryGame(cfg *Config, path string, gm *GameManager, mux *httprouter.Router) {
	mux.GET(cfg.prefix+path, redirectNewGame(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg, path, gm))

	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(cfg, gm))

	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler(cfg, gm))
}
