/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	_ "embed"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

const (
	eventIDLength = 8
	maxUploadSize = 10 << 20
)

// EventManager owns one hub per active event, keyed by the event id.
// The id is a bearer capability: anyone who knows it can open the event
// and play. Hubs are reaped after the configured idle timeout, which
// also releases their store subscriptions.
type EventManager struct {
	mu          sync.Mutex
	hubs        map[string]*Hub
	adminTokens map[string]string   // unlock token -> event id
	eventTokens map[string][]string // event id -> live tokens, oldest first

	store       docStore
	objects     objectStore
	idleTimeout time.Duration
}

func newEventManager(cfg *Config, store docStore, objects objectStore) *EventManager {
	em := &EventManager{
		hubs:        make(map[string]*Hub),
		adminTokens: make(map[string]string),
		eventTokens: make(map[string][]string),
		store:       store,
		objects:     objects,
		idleTimeout: cfg.sessionTimeout,
	}
	if em.idleTimeout > 0 {
		go em.reaperLoop(cfg)
	}
	return em
}

func (em *EventManager) getHub(cfg *Config, eventID string) (*Hub, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if hub, ok := em.hubs[eventID]; ok {
		// Keep the reaper away from a hub someone is about to join.
		hub.touch()
		return hub, nil
	}

	if _, err := em.store.GetEvent(eventID); err != nil {
		return nil, err
	}

	hub := newHub(eventID, em.store)
	em.hubs[eventID] = hub
	hub.start(cfg)
	return hub, nil
}

// newEventID generates a crypto-random event ID and ensures it doesn't
// collide with an existing event.
func (em *EventManager) newEventID() string {
	for {
		id := randomID(eventIDLength)
		if _, err := em.store.GetEvent(id); err != nil {
			return id
		}
	}
}

// reaperLoop periodically stops hubs that have been idle longer than
// idleTimeout. The events themselves are never deleted; expiry on the
// event document is advisory metadata only.
func (em *EventManager) reaperLoop(cfg *Config) {
	ticker := time.NewTicker(em.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-em.idleTimeout)

		em.mu.Lock()
		for id, hub := range em.hubs {
			if hub.idle(cutoff) {
				delete(em.hubs, id)
				hub.stop()
				logf(cfg, "GAMES: Reaped idle event session %s", id)
			}
		}
		em.mu.Unlock()
	}
}

const adminCookieName = "pairbox_admin"

// authorized reports whether the request carries a live admin unlock
// token for the event. Tokens last for the browser session.
func (em *EventManager) authorized(r *http.Request, eventID string) bool {
	c, err := r.Cookie(adminCookieName)
	if err != nil || c.Value == "" {
		return false
	}

	em.mu.Lock()
	defer em.mu.Unlock()
	return em.adminTokens[c.Value] == eventID
}

// maxAdminSessions caps the live unlock tokens per event. Unlocking
// from one more browser than that displaces the oldest unlock, which
// keeps the token map bounded over the process lifetime.
const maxAdminSessions = 4

func (em *EventManager) grantAdmin(w http.ResponseWriter, eventID string) {
	token := randomID(32)

	em.mu.Lock()
	em.adminTokens[token] = eventID
	em.eventTokens[eventID] = append(em.eventTokens[eventID], token)
	if excess := len(em.eventTokens[eventID]) - maxAdminSessions; excess > 0 {
		for _, old := range em.eventTokens[eventID][:excess] {
			delete(em.adminTokens, old)
		}
		em.eventTokens[eventID] = em.eventTokens[eventID][excess:]
	}
	em.mu.Unlock()

	// Session cookie: no Max-Age, so the unlock lasts until the browser
	// session ends.
	http.SetCookie(w, &http.Cookie{
		Name:     adminCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// serveCreateEvent handles the organizer's create action: a new event
// document with a fresh capability id and the admin secret stored only
// as a digest.
func serveCreateEvent(cfg *Config, em *EventManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		name := strings.TrimSpace(r.PostFormValue("name"))
		secret := r.PostFormValue("secret")
		if name == "" || secret == "" {
			http.Error(w, "name and secret are required", http.StatusBadRequest)
			return
		}

		now := time.Now()
		ev := Event{
			ID:             em.newEventID(),
			Name:           name,
			Date:           strings.TrimSpace(r.PostFormValue("date")),
			UploadsEnabled: true,
			FundingTarget:  cfg.fundingTarget,
			SecretDigest:   secretDigest(secret),
			CreatedAt:      now,
			ExpiresAt:      now.AddDate(1, 0, 0),
		}

		if err := em.store.CreateEvent(ev); err != nil {
			http.Error(w, "creating event failed", http.StatusInternalServerError)
			return
		}

		metricEventsCreated.Inc()

		// Unlock the creating browser right away.
		em.grantAdmin(w, ev.ID)

		logf(cfg, "GAMES: Created event %s (%q)", ev.ID, ev.Name)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":  ev.ID,
			"url": cfg.prefix + "/e/" + ev.ID,
		})
	}
}

//go:embed memory/index.html
var memoryHTML []byte

// serveEventPage serves the embedded game client. The page itself is
// the same for every event; the client reads the event id from the URL
// (or the #e= fragment on the home page) and opens the websocket.
func serveEventPage(cfg *Config, em *EventManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if _, err := em.store.GetEvent(ps.ByName("eventid")); err != nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, newPage("Not Found", "No such event. Check your link."))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(memoryHTML)
	}
}

func readUploadedImage(r *http.Request) ([]byte, *multipart.FileHeader, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, nil, err
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		return nil, nil, err
	}
	return data, header, nil
}

// appendCardImage stores the bytes and records the new image; the image
// watch then resets every in-progress session against the old deck.
func appendCardImage(em *EventManager, eventID, uploader string, data []byte, filename string) error {
	key := uuid.NewString()
	ext := ".img"
	if i := strings.LastIndex(filename, "."); i >= 0 {
		ext = strings.ToLower(filename[i:])
	}

	url, err := em.objects.Put(eventID+"/"+key+ext, data)
	if err != nil {
		return err
	}

	return em.store.AppendImage(eventID, CardImage{
		Key:       key,
		URL:       url,
		Uploader:  uploader,
		CreatedAt: time.Now(),
	})
}

// serveGuestUpload lets guests add pictures when the event allows it.
func serveGuestUpload(cfg *Config, em *EventManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		eventID := ps.ByName("eventid")

		ev, err := em.store.GetEvent(eventID)
		if err != nil {
			http.Error(w, "no such event", http.StatusNotFound)
			return
		}
		if !ev.UploadsEnabled {
			http.Error(w, "uploads are disabled for this event", http.StatusForbidden)
			return
		}
		if playerID := getOrSetPlayerID(w, r); playerID == "" {
			http.Error(w, "unable to establish a session", http.StatusInternalServerError)
			return
		}

		data, header, err := readUploadedImage(r)
		if err != nil {
			http.Error(w, "no image provided", http.StatusBadRequest)
			return
		}

		if err := appendCardImage(em, eventID, "guest", data, header.Filename); err != nil {
			http.Error(w, "saving image failed", http.StatusInternalServerError)
			return
		}

		logf(cfg, "GAMES: Guest upload to %s (%s)", eventID, humanReadableSize(int64(len(data))))
		w.WriteHeader(http.StatusNoContent)
	}
}

// registerMemoryGame sets up all event routes:
//   - POST $path                        → create a new event
//   - $path/:eventid                    → HTML client
//   - $path/:eventid/ws                 → WebSocket for that event
//   - $path/:eventid/qr                 → PNG QR code for that event URL
//   - $path/:eventid/upload             → guest image upload
//   - $path/:eventid/export.pdf         → printable card set (admin)
//   - $path/:eventid/admin/unlock       → secret check
//   - $path/:eventid/admin              → event update (admin)
//   - $path/:eventid/admin/upload       → organizer image upload (admin)
func registerMemoryGame(cfg *Config, path string, em *EventManager, mux *httprouter.Router) {
	mux.POST(cfg.prefix+path, serveCreateEvent(cfg, em))

	mux.GET(cfg.prefix+path+"/:eventid", serveEventPage(cfg, em))
	mux.GET(cfg.prefix+path+"/:eventid/ws", serveWSForManager(cfg, em))
	mux.GET(cfg.prefix+path+"/:eventid/qr", qrHandler(cfg, cfg.prefix+path))
	mux.POST(cfg.prefix+path+"/:eventid/upload", serveGuestUpload(cfg, em))
	mux.GET(cfg.prefix+path+"/:eventid/export.pdf", serveCardExport(cfg, em))

	mux.POST(cfg.prefix+path+"/:eventid/admin/unlock", serveAdminUnlock(cfg, em))
	mux.POST(cfg.prefix+path+"/:eventid/admin", serveAdminUpdate(cfg, em))
	mux.POST(cfg.prefix+path+"/:eventid/admin/upload", serveAdminUpload(cfg, em))
}
