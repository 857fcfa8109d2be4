package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSecretDigest(t *testing.T) {
	Convey("Given a stored admin-secret digest", t, func() {
		stored := secretDigest("hunter2")

		Convey("The correct secret always matches", func() {
			So(digestEqual(secretDigest("hunter2"), stored), ShouldBeTrue)

			Convey("And matching is idempotent", func() {
				So(digestEqual(secretDigest("hunter2"), stored), ShouldBeTrue)
			})
		})

		Convey("Any incorrect secret fails", func() {
			So(digestEqual(secretDigest("hunter3"), stored), ShouldBeFalse)
			So(digestEqual(secretDigest(""), stored), ShouldBeFalse)
			So(digestEqual(secretDigest("Hunter2"), stored), ShouldBeFalse)
			So(digestEqual(secretDigest("HUNTER2"), stored), ShouldBeFalse)
		})

		Convey("Only the digest is comparable, never the secret", func() {
			So(stored, ShouldNotContainSubstring, "hunter2")
			So(len(stored), ShouldEqual, 64)
		})
	})
}

func TestPlayerIdentity(t *testing.T) {
	Convey("Given the anonymous identity cookie", t, func() {
		Convey("A first contact is assigned a fresh id via Set-Cookie", func() {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("GET", "/", nil)

			id := getOrSetPlayerID(w, r)
			So(id, ShouldNotBeEmpty)
			So(len(id), ShouldEqual, 32)

			cookies := w.Result().Cookies()
			So(len(cookies), ShouldEqual, 1)
			So(cookies[0].Name, ShouldEqual, playerCookieName)
			So(cookies[0].Value, ShouldEqual, id)
		})

		Convey("A request carrying the cookie keeps its id, no new cookie", func() {
			w := httptest.NewRecorder()
			r := httptest.NewRequest("GET", "/", nil)
			r.AddCookie(&http.Cookie{Name: playerCookieName, Value: "deadbeefcafef00d"})

			So(getOrSetPlayerID(w, r), ShouldEqual, "deadbeefcafef00d")
			So(w.Result().Cookies(), ShouldBeEmpty)
		})
	})
}

func TestAdminTokenBound(t *testing.T) {
	Convey("Given repeated admin unlocks for one event", t, func() {
		cfg := &Config{}
		em := newEventManager(cfg, storeWithEvent("ev1"), nil)

		grant := func() string {
			w := httptest.NewRecorder()
			em.grantAdmin(w, "ev1")
			return w.Result().Cookies()[0].Value
		}

		first := grant()
		var last string
		for i := 0; i < maxAdminSessions; i++ {
			last = grant()
		}

		withToken := func(token string) *http.Request {
			r := httptest.NewRequest("GET", "/", nil)
			r.AddCookie(&http.Cookie{Name: adminCookieName, Value: token})
			return r
		}

		Convey("The newest unlock is live", func() {
			So(em.authorized(withToken(last), "ev1"), ShouldBeTrue)
		})

		Convey("The oldest unlock has been displaced", func() {
			So(em.authorized(withToken(first), "ev1"), ShouldBeFalse)
		})

		Convey("Live tokens for the event stay capped", func() {
			em.mu.Lock()
			So(len(em.adminTokens), ShouldEqual, maxAdminSessions)
			So(len(em.eventTokens["ev1"]), ShouldEqual, maxAdminSessions)
			em.mu.Unlock()
		})
	})
}

func TestRandomID(t *testing.T) {
	Convey("Random identifiers are alphanumeric and non-colliding in practice", t, func() {
		seen := make(map[string]bool)
		for i := 0; i < 100; i++ {
			id := randomID(eventIDLength)
			So(len(id), ShouldEqual, eventIDLength)
			for _, r := range id {
				So(idAlphabet, ShouldContainSubstring, string(r))
			}
			So(seen[id], ShouldBeFalse)
			seen[id] = true
		}
	})
}
