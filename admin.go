/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
)

var errInvalidTarget = errors.New("invalid funding target")

// serveAdminUnlock checks an entered secret against the event's stored
// digest. On match the browser gets a session-scoped unlock token; on
// mismatch it gets a denial and nothing changes. There is no lockout or
// rate limit: one shared secret per event is the whole access model.
func serveAdminUnlock(cfg *Config, em *EventManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		eventID := ps.ByName("eventid")

		ev, err := em.store.GetEvent(eventID)
		if err != nil {
			http.Error(w, "no such event", http.StatusNotFound)
			return
		}

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		secret := r.PostFormValue("secret")
		if !digestEqual(secretDigest(secret), ev.SecretDigest) {
			logf(cfg, "ADMIN: Failed unlock attempt for %s from %s", eventID, realIP(r))
			http.Error(w, "wrong secret", http.StatusForbidden)
			return
		}

		em.grantAdmin(w, eventID)
		logf(cfg, "ADMIN: Unlocked %s for %s", eventID, realIP(r))
		w.WriteHeader(http.StatusNoContent)
	}
}

// serveAdminUpdate applies organizer changes to the event document.
// Only fields present in the form are touched; a new secret replaces
// the stored digest.
func serveAdminUpdate(cfg *Config, em *EventManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		eventID := ps.ByName("eventid")
		if !em.authorized(r, eventID) {
			http.Error(w, "admin unlock required", http.StatusForbidden)
			return
		}

		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		err := em.store.UpdateEvent(eventID, func(ev *Event) error {
			if v := strings.TrimSpace(r.PostFormValue("name")); v != "" {
				ev.Name = v
			}
			if r.PostForm.Has("date") {
				ev.Date = strings.TrimSpace(r.PostFormValue("date"))
			}
			if v := r.PostFormValue("uploads_enabled"); v != "" {
				enabled, perr := strconv.ParseBool(v)
				if perr != nil {
					return perr
				}
				ev.UploadsEnabled = enabled
			}
			if v := r.PostFormValue("funding_target"); v != "" {
				target, perr := strconv.ParseInt(v, 10, 64)
				if perr != nil || target < 0 {
					return errInvalidTarget
				}
				ev.FundingTarget = target
			}
			if v := r.PostFormValue("pro"); v != "" {
				pro, perr := strconv.ParseBool(v)
				if perr != nil {
					return perr
				}
				ev.Pro = pro
			}
			if v := r.PostFormValue("secret"); v != "" {
				ev.SecretDigest = secretDigest(v)
			}
			return nil
		})
		if err != nil {
			http.Error(w, "updating event failed", http.StatusBadRequest)
			return
		}

		logf(cfg, "ADMIN: Updated event %s", eventID)
		w.WriteHeader(http.StatusNoContent)
	}
}

// serveAdminUpload adds an organizer image to the event's card pool.
func serveAdminUpload(cfg *Config, em *EventManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		eventID := ps.ByName("eventid")
		if !em.authorized(r, eventID) {
			http.Error(w, "admin unlock required", http.StatusForbidden)
			return
		}

		data, header, err := readUploadedImage(r)
		if err != nil {
			http.Error(w, "no image provided", http.StatusBadRequest)
			return
		}

		if err := appendCardImage(em, eventID, "organizer", data, header.Filename); err != nil {
			http.Error(w, "saving image failed", http.StatusInternalServerError)
			return
		}

		logf(cfg, "ADMIN: Organizer upload to %s (%s)", eventID, humanReadableSize(int64(len(data))))
		w.WriteHeader(http.StatusNoContent)
	}
}
