// Pairbox Memory Game
//
// Guests open an event link and play a timed picture-matching game
// against a deck dealt from the event's uploaded images. Scores go to a
// shared leaderboard, and guests may chip in to the event's
// crowdfunding pool.
//
// Features:
// - WebSockets per event ID: /e/:eventid and /e/:eventid/ws
// - Every connected guest plays their own solo session against the
//   shared image set; the authoritative state machine is server-side
// - Card keys are withheld from face-down cards so clients can't peek
// - Match/mismatch resolution via cancellable delayed transitions; a
//   deck reset between scheduling and firing discards the resolution
// - Live image uploads reset all in-progress sessions (the deck may
//   now differ), zeroing flips, matches, and the timer
// - Leaderboard and crowdfunding totals recomputed from full store
//   snapshots on every delivery and pushed to all clients
// - Guests identified by cookie (playerID)
// - Events auto-reaped after configurable idle timeout
// - In-browser QR button to share the current event, backed by go-qrcode

package main

import (
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const (
	tickInterval = 100 * time.Millisecond
	boardLimit   = 10
)

// Messages coming from clients
type ClientMessage struct {
	Type   string `json:"type"`              // "flip", "restart", "submit_score", "donate"
	CardID string `json:"card_id,omitempty"` // flip
	Name   string `json:"name,omitempty"`    // submit_score
	Amount int64  `json:"amount,omitempty"`  // donate
}

// SessionInfoMessage is sent on connect and whenever the event document
// changes.
type SessionInfoMessage struct {
	Type           string `json:"type"` // "session_info"
	EventID        string `json:"event_id"`
	EventName      string `json:"event_name"`
	EventDate      string `json:"event_date,omitempty"`
	UploadsEnabled bool   `json:"uploads_enabled"`
	Promoted       bool   `json:"promoted"`
}

// DeckMessage deals a fresh deck. Only card ids travel; keys and image
// URLs are revealed card by card.
type DeckMessage struct {
	Type    string   `json:"type"` // "deck"
	CardIDs []string `json:"card_ids"`
	Pairs   int      `json:"pairs"`
}

// RevealMessage shows one accepted flip.
type RevealMessage struct {
	Type   string `json:"type"` // "reveal"
	CardID string `json:"card_id"`
	Key    string `json:"key"`
	URL    string `json:"url"`
}

// MatchMessage locks in a found pair after the reveal delay.
type MatchMessage struct {
	Type    string   `json:"type"` // "match"
	Key     string   `json:"key"`
	CardIDs []string `json:"card_ids"`
	Matched int      `json:"matched"`
}

// FlipBackMessage turns a mismatched pair face-down again.
type FlipBackMessage struct {
	Type    string   `json:"type"` // "flip_back"
	CardIDs []string `json:"card_ids"`
}

// TickMessage carries the running timer.
type TickMessage struct {
	Type      string `json:"type"` // "tick"
	ElapsedMs int64  `json:"elapsed_ms"`
}

// CompleteMessage reports the final time, exactly once per session.
type CompleteMessage struct {
	Type      string `json:"type"` // "complete"
	ElapsedMs int64  `json:"elapsed_ms"`
}

// LeaderboardMessage carries the current top scores, ascending.
type LeaderboardMessage struct {
	Type    string  `json:"type"` // "leaderboard"
	Entries []Score `json:"entries"`
}

// FundingMessage carries the derived crowdfunding state.
type FundingMessage struct {
	Type     string `json:"type"` // "funding"
	Total    int64  `json:"total"`
	Target   int64  `json:"target"`
	Percent  int    `json:"percent"`
	Promoted bool   `json:"promoted"`
}

// ErrorMessage is for user-visible, non-fatal failures.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string

	// owned by the hub goroutine
	session *gameSession
}

type clientAction struct {
	client *Client
	msg    ClientMessage
}

// resolveOrder is the delayed match/mismatch resolution. The generation
// ties it to the session state it was scheduled against; a reset bumps
// the generation so stale orders are discarded instead of applied.
type resolveOrder struct {
	client *Client
	gen    uint64
	match  bool
	key    string
	cards  [2]string
}

// gameSession is one guest's in-progress game. All fields are owned by
// the hub goroutine.
type gameSession struct {
	deck    []Card
	byID    map[string]Card
	flipped []string
	matched map[string]bool

	running   bool
	complete  bool
	startedAt time.Time
	finalMs   int64

	gen     uint64
	pending *time.Timer
}

func newGameSession(images []CardImage, pairCap int, gen uint64) *gameSession {
	deck := buildDeck(images, pairCap)
	byID := make(map[string]Card, len(deck))
	for _, c := range deck {
		byID[c.ID] = c
	}
	return &gameSession{
		deck:    deck,
		byID:    byID,
		matched: make(map[string]bool),
		gen:     gen,
	}
}

// elapsed reports the monotonic timer: zero before the first flip,
// advancing while running, frozen at the final time once complete.
func (s *gameSession) elapsed() int64 {
	switch {
	case s.complete:
		return s.finalMs
	case s.running:
		return time.Since(s.startedAt).Milliseconds()
	default:
		return 0
	}
}

// Hub owns one event's realtime state: connected clients, their game
// sessions, and the latest store snapshots. Everything runs on the hub
// goroutine; store watches and reveal timers re-enter through channels,
// which serializes all event handling without locks.
type Hub struct {
	id    string
	store docStore

	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	actions  chan clientAction
	resolves chan resolveOrder

	eventUpdates   chan Event
	imageUpdates   chan []CardImage
	scoreUpdates   chan []Score
	contribUpdates chan []Contribution

	event        Event
	images       []CardImage
	leaderboard  []Score
	fundingTotal int64
	fundingPct   int

	nextGen uint64

	mu         sync.RWMutex
	createdAt  time.Time
	lastActive time.Time

	cancels []func()
	done    chan struct{}
	once    sync.Once
}

func newHub(eventID string, store docStore) *Hub {
	now := time.Now()
	return &Hub{
		id:             eventID,
		store:          store,
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unreg:          make(chan *Client),
		actions:        make(chan clientAction),
		resolves:       make(chan resolveOrder),
		eventUpdates:   make(chan Event, 1),
		imageUpdates:   make(chan []CardImage, 1),
		scoreUpdates:   make(chan []Score, 1),
		contribUpdates: make(chan []Contribution, 1),
		createdAt:      now,
		lastActive:     now,
		done:           make(chan struct{}),
	}
}

// start subscribes the store watches and launches the hub goroutine.
// Each watch is released again when the hub stops.
func (h *Hub) start(cfg *Config) {
	h.cancels = append(h.cancels,
		h.store.WatchEvent(h.id, func(ev Event) {
			select {
			case h.eventUpdates <- ev:
			case <-h.done:
			}
		}),
		h.store.WatchImages(h.id, func(imgs []CardImage) {
			select {
			case h.imageUpdates <- imgs:
			case <-h.done:
			}
		}),
		h.store.WatchScores(h.id, boardLimit, func(recs []Score) {
			select {
			case h.scoreUpdates <- recs:
			case <-h.done:
			}
		}),
		h.store.WatchContributions(h.id, func(recs []Contribution) {
			select {
			case h.contribUpdates <- recs:
			case <-h.done:
			}
		}),
	)

	go h.run(cfg)
}

// stop releases the store subscriptions and ends the hub goroutine,
// which disconnects any remaining clients on its way out.
func (h *Hub) stop() {
	h.once.Do(func() {
		for _, cancel := range h.cancels {
			cancel()
		}
		close(h.done)
	})
}

func (h *Hub) touch() {
	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()
}

func (h *Hub) idle(cutoff time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastActive.Before(cutoff)
}

func (h *Hub) run(cfg *Config) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.touch()
			h.clients[c] = true
			h.dealSession(cfg, c)
			h.sendSessionInfo(c)
			c.send <- LeaderboardMessage{Type: "leaderboard", Entries: h.boardEntries()}
			c.send <- h.fundingMessage()

		case c := <-h.unreg:
			h.touch()
			h.dropClient(c)

		case a := <-h.actions:
			h.touch()
			switch a.msg.Type {
			case "flip":
				h.handleFlip(cfg, a.client, a.msg.CardID)
			case "restart":
				h.dealSession(cfg, a.client)
			case "submit_score":
				h.handleSubmitScore(cfg, a.client, a.msg.Name)
			case "donate":
				h.handleDonate(cfg, a.client, a.msg.Amount)
			}

		case o := <-h.resolves:
			h.handleResolve(cfg, o)

		case ev := <-h.eventUpdates:
			h.event = ev
			for c := range h.clients {
				h.sendSessionInfo(c)
				h.trySend(c, h.fundingMessage())
			}

		case imgs := <-h.imageUpdates:
			h.handleImages(cfg, imgs)

		case recs := <-h.scoreUpdates:
			h.leaderboard = topScores(recs, boardLimit)
			for c := range h.clients {
				h.trySend(c, LeaderboardMessage{Type: "leaderboard", Entries: h.boardEntries()})
			}

		case recs := <-h.contribUpdates:
			h.fundingTotal, h.fundingPct = fundingTotals(recs, h.event.FundingTarget)
			for c := range h.clients {
				h.trySend(c, h.fundingMessage())
			}

		case <-ticker.C:
			for c := range h.clients {
				if s := c.session; s != nil && s.running {
					h.trySend(c, TickMessage{Type: "tick", ElapsedMs: s.elapsed()})
				}
			}

		case <-h.done:
			for c := range h.clients {
				h.dropClient(c)
			}
			return
		}
	}
}

// promoted derives the pro status: set explicitly, or earned by
// reaching the funding target.
func (h *Hub) promoted() bool {
	if h.event.Pro {
		return true
	}
	return h.event.FundingTarget > 0 && h.fundingTotal >= h.event.FundingTarget
}

func (h *Hub) fundingMessage() FundingMessage {
	return FundingMessage{
		Type:     "funding",
		Total:    h.fundingTotal,
		Target:   h.event.FundingTarget,
		Percent:  h.fundingPct,
		Promoted: h.promoted(),
	}
}

func (h *Hub) sendSessionInfo(c *Client) {
	h.trySend(c, SessionInfoMessage{
		Type:           "session_info",
		EventID:        h.event.ID,
		EventName:      h.event.Name,
		EventDate:      h.event.Date,
		UploadsEnabled: h.event.UploadsEnabled,
		Promoted:       h.promoted(),
	})
}

func (h *Hub) boardEntries() []Score {
	if h.leaderboard == nil {
		return []Score{}
	}
	return h.leaderboard
}

// trySend delivers without blocking the hub; a client that can't keep
// up is dropped.
func (h *Hub) trySend(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		h.dropClient(c)
	}
}

func (h *Hub) dropClient(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	if s := c.session; s != nil && s.pending != nil {
		s.pending.Stop()
	}
	close(c.send)
}

// dealSession gives a client a fresh deck and a zeroed session. Any
// pending resolution for the old session is cancelled, and the
// generation bump invalidates one already in flight.
func (h *Hub) dealSession(cfg *Config, c *Client) {
	if s := c.session; s != nil && s.pending != nil {
		s.pending.Stop()
	}
	h.nextGen++
	c.session = newGameSession(h.images, cfg.pairCap, h.nextGen)
	metricDecksDealt.Inc()

	ids := make([]string, len(c.session.deck))
	for i, card := range c.session.deck {
		ids[i] = card.ID
	}
	h.trySend(c, DeckMessage{Type: "deck", CardIDs: ids, Pairs: len(ids) / 2})
}

// handleImages reacts to a changed image set: adopt the new snapshot
// and restart every session, since any dealt deck may now differ.
func (h *Hub) handleImages(cfg *Config, imgs []CardImage) {
	if sameImageSet(h.images, imgs) {
		h.images = imgs
		return
	}
	h.images = imgs

	logf(cfg, "GAMES: Image set for %s changed (%d images), resetting sessions", h.id, len(imgs))
	for c := range h.clients {
		h.dealSession(cfg, c)
	}
}

func sameImageSet(a, b []CardImage) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			return false
		}
	}
	return true
}

// handleFlip applies the flip rules. Invalid flips are silently
// ignored: no error, no state change.
func (h *Hub) handleFlip(cfg *Config, c *Client, cardID string) {
	s := c.session
	if s == nil || s.complete {
		return
	}
	card, ok := s.byID[cardID]
	if !ok {
		return
	}
	if s.matched[card.Key] {
		return
	}
	if len(s.flipped) >= 2 {
		return
	}
	if len(s.flipped) == 1 && s.flipped[0] == cardID {
		return
	}

	if !s.running {
		s.running = true
		s.startedAt = time.Now()
	}

	s.flipped = append(s.flipped, cardID)
	h.trySend(c, RevealMessage{Type: "reveal", CardID: card.ID, Key: card.Key, URL: card.URL})

	if len(s.flipped) < 2 {
		return
	}

	first := s.byID[s.flipped[0]]
	order := resolveOrder{
		client: c,
		gen:    s.gen,
		match:  first.Key == card.Key,
		key:    card.Key,
		cards:  [2]string{s.flipped[0], s.flipped[1]},
	}
	s.pending = time.AfterFunc(cfg.revealDelay, func() {
		select {
		case h.resolves <- order:
		case <-h.done:
		}
	})
}

func (h *Hub) handleResolve(cfg *Config, o resolveOrder) {
	c := o.client
	if !h.clients[c] {
		return
	}
	s := c.session
	if s == nil || s.gen != o.gen {
		// The session was reset after this resolution was scheduled.
		return
	}
	s.pending = nil
	s.flipped = s.flipped[:0]

	if !o.match {
		h.trySend(c, FlipBackMessage{Type: "flip_back", CardIDs: o.cards[:]})
		return
	}

	s.matched[o.key] = true
	h.trySend(c, MatchMessage{
		Type:    "match",
		Key:     o.key,
		CardIDs: o.cards[:],
		Matched: len(s.matched),
	})

	if len(s.matched)*2 == len(s.deck) && !s.complete {
		s.complete = true
		s.running = false
		s.finalMs = time.Since(s.startedAt).Milliseconds()
		metricGamesCompleted.Inc()
		logf(cfg, "GAMES: Session in %s completed in %dms", h.id, s.finalMs)
		h.trySend(c, CompleteMessage{Type: "complete", ElapsedMs: s.finalMs})
	}
}

func (h *Hub) handleSubmitScore(cfg *Config, c *Client, name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		h.trySend(c, ErrorMessage{Type: "error", Message: "Please enter a name before submitting your score."})
		return
	}
	s := c.session
	if s == nil || !s.complete {
		h.trySend(c, ErrorMessage{Type: "error", Message: "Finish the game before submitting a score."})
		return
	}

	err := h.store.AppendScore(Score{
		ID:          uuid.NewString(),
		EventID:     h.id,
		Name:        name,
		ElapsedMs:   s.finalMs,
		SubmittedAt: time.Now(),
	})
	if err != nil {
		h.trySend(c, ErrorMessage{Type: "error", Message: "Saving your score failed. Please try again."})
		return
	}

	metricScoresSubmitted.Inc()
	logf(cfg, "GAMES: %q scored %dms in %s", name, s.finalMs, h.id)
}

// handleDonate appends one ledger entry. This is a demo ledger: the
// record is written as succeeded with a server timestamp, and the total
// shown to everyone is recomputed from the full record set.
func (h *Hub) handleDonate(cfg *Config, c *Client, amount int64) {
	if c.playerID == "" {
		h.trySend(c, ErrorMessage{Type: "error", Message: "Could not establish a session; contribution not recorded."})
		return
	}
	if amount <= 0 {
		h.trySend(c, ErrorMessage{Type: "error", Message: "Contribution amount must be positive."})
		return
	}

	err := h.store.AppendContribution(Contribution{
		ID:        uuid.NewString(),
		EventID:   h.id,
		Amount:    amount,
		Provider:  "demo",
		Status:    "succeeded",
		CreatedAt: time.Now(),
	})
	if err != nil {
		h.trySend(c, ErrorMessage{Type: "error", Message: "Recording your contribution failed. Please try again."})
		return
	}

	metricContributions.Inc()
	logf(cfg, "FUND: Contribution of %d to %s", amount, h.id)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveWSForManager upgrades a guest connection and attaches it to the
// event's hub.
func serveWSForManager(cfg *Config, em *EventManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		eventID := ps.ByName("eventid")
		if eventID == "" {
			http.Error(w, "missing event id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		hub, err := em.getHub(cfg, eventID)
		if err != nil {
			http.Error(w, "no such event", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		metricConnections.Inc()

		client := &Client{
			conn:     conn,
			send:     make(chan any, 16),
			playerID: playerID,
		}

		hub, ok := attachClient(cfg, em, hub, eventID, client)
		if !ok {
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(hub)
	}
}

// attachClient registers the client with the event's hub. The idle
// reaper may stop the hub between lookup and registration; a stopped
// hub has no receiver on its register channel, so the send is guarded
// by the hub's done channel and the event is looked up again until a
// live hub takes the client.
func attachClient(cfg *Config, em *EventManager, hub *Hub, eventID string, client *Client) (*Hub, bool) {
	for {
		select {
		case hub.register <- client:
			return hub, true
		case <-hub.done:
			next, err := em.getHub(cfg, eventID)
			if err != nil {
				return nil, false
			}
			hub = next
		}
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

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "flip", "restart", "submit_score", "donate":
			select {
			case h.actions <- clientAction{client: c, msg: msg}:
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
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// eventShareURL builds the absolute event link encoded into the QR
// code. The configured scheme wins unless a proxy forwarded one.
func eventShareURL(cfg *Config, base, host, forwardedProto, eventID string) string {
	scheme := cfg.scheme()
	if forwardedProto != "" {
		scheme = forwardedProto
	}

	return scheme + "://" + host + base + "/" + eventID
}

// qrHandler serves a PNG QR code pointing at the event page, for
// passing the link around a room full of phones.
func qrHandler(cfg *Config, base string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		eventID := ps.ByName("eventid")
		if eventID == "" {
			http.Error(w, "missing event id", http.StatusBadRequest)
			return
		}

		url := eventShareURL(cfg, base, r.Host, r.Header.Get("X-Forwarded-Proto"), eventID)

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}
