/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// The document store is an external collaborator: pairbox only assumes
// collection-style access with live full-snapshot streams, and never
// exclusive ownership of any record set. The in-memory implementation
// below exists so a single binary runs standalone; every watcher
// delivery is a complete, sorted view of the current record set, so
// consumers can recompute derived state from scratch on each delivery.

package main

import (
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	errEventNotFound = errors.New("event not found")
	errEventExists   = errors.New("event already exists")
)

// Event is the organizer-configured document one hosted game hangs off.
// Its identifier doubles as the public capability token: anyone who
// knows the id can open and play the event.
type Event struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Date           string    `json:"date"`
	UploadsEnabled bool      `json:"uploadsEnabled"`
	FundingTarget  int64     `json:"fundingTarget"`
	Pro            bool      `json:"pro"`
	SecretDigest   string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// CardImage is one uploaded picture. Append-only per event; the key is
// the stable identity shared by the two physical cards depicting it.
type CardImage struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Uploader  string    `json:"uploader"` // "organizer" or "guest"
	CreatedAt time.Time `json:"createdAt"`
}

// Score is one submitted leaderboard entry. Append-only.
type Score struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	Name        string    `json:"name"`
	ElapsedMs   int64     `json:"elapsedMs"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Contribution is one crowdfunding ledger entry. Append-only; the
// running total is always derived by summing the record set, never
// stored as a counter, so concurrent contributions cannot lose updates.
type Contribution struct {
	ID        string    `json:"id"`
	EventID   string    `json:"eventId"`
	Amount    int64     `json:"amount"`
	Provider  string    `json:"provider"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// docStore is the narrow surface pairbox needs from the realtime
// document store. Watch methods deliver the current complete snapshot
// immediately and again after every mutation, until the returned cancel
// function is called.
type docStore interface {
	GetEvent(id string) (Event, error)
	CreateEvent(ev Event) error
	UpdateEvent(id string, update func(*Event) error) error
	WatchEvent(id string, fn func(Event)) (cancel func())

	Images(eventID string) ([]CardImage, error)
	AppendImage(eventID string, img CardImage) error
	WatchImages(eventID string, fn func([]CardImage)) (cancel func())

	AppendScore(rec Score) error
	WatchScores(eventID string, limit int, fn func([]Score)) (cancel func())

	AppendContribution(rec Contribution) error
	// ContributionsByEvent is a cross-event scoped query on the shared
	// eventId field.
	ContributionsByEvent(eventID string) ([]Contribution, error)
	WatchContributions(eventID string, fn func([]Contribution)) (cancel func())
}

// watcher fans snapshots out to one subscriber through a capacity-one
// mailbox: if the consumer lags, older snapshots are replaced by newer
// ones. Safe because each delivery is a complete view.
type watcher[T any] struct {
	mailbox chan T
	done    chan struct{}
	once    sync.Once
}

func newWatcher[T any](fn func(T)) *watcher[T] {
	w := &watcher[T]{
		mailbox: make(chan T, 1),
		done:    make(chan struct{}),
	}
	go func() {
		for {
			select {
			case snap := <-w.mailbox:
				fn(snap)
			case <-w.done:
				return
			}
		}
	}()
	return w
}

func (w *watcher[T]) notify(snap T) {
	for {
		select {
		case w.mailbox <- snap:
			return
		default:
			select {
			case <-w.mailbox:
			default:
			}
		}
	}
}

func (w *watcher[T]) stop() {
	w.once.Do(func() { close(w.done) })
}

type memStore struct {
	mu sync.Mutex

	events        map[string]Event
	images        map[string][]CardImage
	scores        map[string][]Score
	contributions []Contribution

	eventWatchers   map[string]map[*watcher[Event]]bool
	imageWatchers   map[string]map[*watcher[[]CardImage]]bool
	scoreWatchers   map[string]map[*scoreWatcher]bool
	contribWatchers map[string]map[*watcher[[]Contribution]]bool
}

type scoreWatcher struct {
	*watcher[[]Score]
	limit int
}

func newMemStore() *memStore {
	return &memStore{
		events:          make(map[string]Event),
		images:          make(map[string][]CardImage),
		scores:          make(map[string][]Score),
		eventWatchers:   make(map[string]map[*watcher[Event]]bool),
		imageWatchers:   make(map[string]map[*watcher[[]CardImage]]bool),
		scoreWatchers:   make(map[string]map[*scoreWatcher]bool),
		contribWatchers: make(map[string]map[*watcher[[]Contribution]]bool),
	}
}

func (s *memStore) GetEvent(id string) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return Event{}, errEventNotFound
	}
	return ev, nil
}

func (s *memStore) CreateEvent(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ev.ID]; ok {
		return errEventExists
	}
	s.events[ev.ID] = ev
	s.notifyEventLocked(ev.ID)
	return nil
}

func (s *memStore) UpdateEvent(id string, update func(*Event) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[id]
	if !ok {
		return errEventNotFound
	}
	if err := update(&ev); err != nil {
		return err
	}
	ev.ID = id
	s.events[id] = ev
	s.notifyEventLocked(id)
	return nil
}

func (s *memStore) WatchEvent(id string, fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := newWatcher(fn)
	if s.eventWatchers[id] == nil {
		s.eventWatchers[id] = make(map[*watcher[Event]]bool)
	}
	s.eventWatchers[id][w] = true

	if ev, ok := s.events[id]; ok {
		w.notify(ev)
	}

	return func() {
		s.mu.Lock()
		delete(s.eventWatchers[id], w)
		s.mu.Unlock()
		w.stop()
	}
}

func (s *memStore) notifyEventLocked(id string) {
	ev := s.events[id]
	for w := range s.eventWatchers[id] {
		w.notify(ev)
	}
}

func (s *memStore) Images(eventID string) ([]CardImage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[eventID]; !ok {
		return nil, errEventNotFound
	}
	return s.imageSnapshotLocked(eventID), nil
}

func (s *memStore) AppendImage(eventID string, img CardImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[eventID]; !ok {
		return errEventNotFound
	}
	s.images[eventID] = append(s.images[eventID], img)

	snap := s.imageSnapshotLocked(eventID)
	for w := range s.imageWatchers[eventID] {
		w.notify(snap)
	}
	return nil
}

func (s *memStore) imageSnapshotLocked(eventID string) []CardImage {
	src := s.images[eventID]
	snap := make([]CardImage, len(src))
	copy(snap, src)
	sort.SliceStable(snap, func(i, j int) bool {
		return snap[i].CreatedAt.Before(snap[j].CreatedAt)
	})
	return snap
}

func (s *memStore) WatchImages(eventID string, fn func([]CardImage)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := newWatcher(fn)
	if s.imageWatchers[eventID] == nil {
		s.imageWatchers[eventID] = make(map[*watcher[[]CardImage]]bool)
	}
	s.imageWatchers[eventID][w] = true
	w.notify(s.imageSnapshotLocked(eventID))

	return func() {
		s.mu.Lock()
		delete(s.imageWatchers[eventID], w)
		s.mu.Unlock()
		w.stop()
	}
}

func (s *memStore) AppendScore(rec Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[rec.EventID]; !ok {
		return errEventNotFound
	}
	s.scores[rec.EventID] = append(s.scores[rec.EventID], rec)

	for w := range s.scoreWatchers[rec.EventID] {
		w.notify(s.scoreSnapshotLocked(rec.EventID, w.limit))
	}
	return nil
}

// scoreSnapshotLocked applies the server-side order/limit: ascending by
// elapsed time, ties broken by submission time.
func (s *memStore) scoreSnapshotLocked(eventID string, limit int) []Score {
	src := s.scores[eventID]
	snap := make([]Score, len(src))
	copy(snap, src)
	sort.SliceStable(snap, func(i, j int) bool {
		if snap[i].ElapsedMs != snap[j].ElapsedMs {
			return snap[i].ElapsedMs < snap[j].ElapsedMs
		}
		return snap[i].SubmittedAt.Before(snap[j].SubmittedAt)
	})
	if limit > 0 && len(snap) > limit {
		snap = snap[:limit]
	}
	return snap
}

func (s *memStore) WatchScores(eventID string, limit int, fn func([]Score)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := &scoreWatcher{watcher: newWatcher(fn), limit: limit}
	if s.scoreWatchers[eventID] == nil {
		s.scoreWatchers[eventID] = make(map[*scoreWatcher]bool)
	}
	s.scoreWatchers[eventID][w] = true
	w.notify(s.scoreSnapshotLocked(eventID, limit))

	return func() {
		s.mu.Lock()
		delete(s.scoreWatchers[eventID], w)
		s.mu.Unlock()
		w.stop()
	}
}

func (s *memStore) AppendContribution(rec Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[rec.EventID]; !ok {
		return errEventNotFound
	}
	s.contributions = append(s.contributions, rec)

	snap := s.contributionSnapshotLocked(rec.EventID)
	for w := range s.contribWatchers[rec.EventID] {
		w.notify(snap)
	}
	return nil
}

// contributionSnapshotLocked filters the shared ledger by eventId, the
// cross-event scoped query.
func (s *memStore) contributionSnapshotLocked(eventID string) []Contribution {
	var snap []Contribution
	for _, rec := range s.contributions {
		if rec.EventID == eventID {
			snap = append(snap, rec)
		}
	}
	sort.SliceStable(snap, func(i, j int) bool {
		return snap[i].CreatedAt.Before(snap[j].CreatedAt)
	})
	return snap
}

func (s *memStore) ContributionsByEvent(eventID string) ([]Contribution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.contributionSnapshotLocked(eventID), nil
}

func (s *memStore) WatchContributions(eventID string, fn func([]Contribution)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := newWatcher(fn)
	if s.contribWatchers[eventID] == nil {
		s.contribWatchers[eventID] = make(map[*watcher[[]Contribution]]bool)
	}
	s.contribWatchers[eventID][w] = true
	w.notify(s.contributionSnapshotLocked(eventID))

	return func() {
		s.mu.Lock()
		delete(s.contribWatchers[eventID], w)
		s.mu.Unlock()
		w.stop()
	}
}
