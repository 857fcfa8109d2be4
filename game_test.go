package main

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func testHub(images int) (*Hub, *Client, *Config) {
	cfg := &Config{pairCap: 8, revealDelay: time.Millisecond}
	h := newHub("ev", nil)
	h.images = testImages(images)

	c := &Client{send: make(chan any, 64), playerID: "p1"}
	h.clients[c] = true
	h.dealSession(cfg, c)

	return h, c, cfg
}

func waitResolve(h *Hub) (resolveOrder, bool) {
	select {
	case o := <-h.resolves:
		return o, true
	case <-time.After(time.Second):
		return resolveOrder{}, false
	}
}

func drain(c *Client) []any {
	var msgs []any
	for {
		select {
		case msg := <-c.send:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

// pairFor returns the two card ids sharing a key.
func pairFor(s *gameSession, key string) (string, string) {
	var ids []string
	for _, card := range s.deck {
		if card.Key == key {
			ids = append(ids, card.ID)
		}
	}
	return ids[0], ids[1]
}

func TestGameStateMachine(t *testing.T) {
	Convey("Given a dealt session", t, func() {
		h, c, cfg := testHub(4)
		s := c.session
		So(len(s.deck), ShouldEqual, 8)

		Convey("The first accepted flip starts the timer", func() {
			So(s.running, ShouldBeFalse)
			h.handleFlip(cfg, c, s.deck[0].ID)
			So(s.running, ShouldBeTrue)
			So(len(s.flipped), ShouldEqual, 1)
		})

		Convey("Flipping the same card twice is a no-op", func() {
			h.handleFlip(cfg, c, s.deck[0].ID)
			h.handleFlip(cfg, c, s.deck[0].ID)
			So(len(s.flipped), ShouldEqual, 1)
		})

		Convey("A third flip while two are face-up is a no-op", func() {
			a, b := pairFor(s, s.deck[0].Key)
			h.handleFlip(cfg, c, a)
			h.handleFlip(cfg, c, b)
			So(len(s.flipped), ShouldEqual, 2)

			drain(c)
			h.handleFlip(cfg, c, s.deck[3].ID)
			So(len(s.flipped), ShouldEqual, 2)
			So(len(s.matched), ShouldEqual, 0)
			So(drain(c), ShouldBeEmpty)
		})

		Convey("Flipping a card whose key is already matched is a no-op", func() {
			key := s.deck[0].Key
			s.matched[key] = true
			a, _ := pairFor(s, key)

			h.handleFlip(cfg, c, a)
			So(len(s.flipped), ShouldEqual, 0)
			So(s.running, ShouldBeFalse)
		})

		Convey("A matching pair locks in after the reveal delay", func() {
			key := s.deck[0].Key
			a, b := pairFor(s, key)
			h.handleFlip(cfg, c, a)
			h.handleFlip(cfg, c, b)

			o, ok := waitResolve(h)
			So(ok, ShouldBeTrue)
			So(o.match, ShouldBeTrue)

			h.handleResolve(cfg, o)
			So(s.matched[key], ShouldBeTrue)
			So(len(s.flipped), ShouldEqual, 0)
			So(s.complete, ShouldBeFalse)
		})

		Convey("A mismatched pair flips back, both cards re-flippable", func() {
			var a, b Card
			for _, card := range s.deck[1:] {
				if card.Key != s.deck[0].Key {
					a, b = s.deck[0], card
					break
				}
			}

			h.handleFlip(cfg, c, a.ID)
			h.handleFlip(cfg, c, b.ID)

			o, ok := waitResolve(h)
			So(ok, ShouldBeTrue)
			So(o.match, ShouldBeFalse)

			h.handleResolve(cfg, o)
			So(len(s.matched), ShouldEqual, 0)
			So(len(s.flipped), ShouldEqual, 0)

			h.handleFlip(cfg, c, a.ID)
			So(len(s.flipped), ShouldEqual, 1)
		})

		Convey("A session reset discards a pending resolution", func() {
			key := s.deck[0].Key
			a, b := pairFor(s, key)
			h.handleFlip(cfg, c, a)
			h.handleFlip(cfg, c, b)

			o, ok := waitResolve(h)
			So(ok, ShouldBeTrue)

			h.dealSession(cfg, c)
			fresh := c.session
			So(fresh, ShouldNotEqual, s)

			h.handleResolve(cfg, o)
			So(len(fresh.matched), ShouldEqual, 0)
			So(len(fresh.flipped), ShouldEqual, 0)
			So(fresh.complete, ShouldBeFalse)
		})
	})

	Convey("Given a full playthrough of a 16-card deck", t, func() {
		h, c, cfg := testHub(8)
		s := c.session
		So(len(s.deck), ShouldEqual, 16)

		keys := make(map[string]bool)
		for _, card := range s.deck {
			keys[card.Key] = true
		}

		for key := range keys {
			a, b := pairFor(s, key)
			h.handleFlip(cfg, c, a)
			h.handleFlip(cfg, c, b)

			o, ok := waitResolve(h)
			So(ok, ShouldBeTrue)
			So(o.match, ShouldBeTrue)
			h.handleResolve(cfg, o)
		}

		Convey("The session completes with a final time, exactly once", func() {
			So(s.complete, ShouldBeTrue)
			So(s.running, ShouldBeFalse)
			So(s.finalMs, ShouldBeGreaterThanOrEqualTo, 0)

			completions := 0
			for _, msg := range drain(c) {
				if _, ok := msg.(CompleteMessage); ok {
					completions++
				}
			}
			So(completions, ShouldEqual, 1)

			Convey("And further flips are ignored", func() {
				h.handleFlip(cfg, c, s.deck[0].ID)
				So(len(s.flipped), ShouldEqual, 0)
			})

			Convey("And the frozen timer reports the final time", func() {
				So(s.elapsed(), ShouldEqual, s.finalMs)
			})
		})
	})

	Convey("Given a changed image set", t, func() {
		h, c, cfg := testHub(3)
		So(len(c.session.deck), ShouldEqual, 6)

		h.handleFlip(cfg, c, c.session.deck[0].ID)
		So(c.session.running, ShouldBeTrue)

		Convey("When a new image arrives, every session restarts", func() {
			h.handleImages(cfg, testImages(4))

			So(len(h.images), ShouldEqual, 4)
			So(len(c.session.deck), ShouldEqual, 8)
			So(c.session.running, ShouldBeFalse)
			So(c.session.elapsed(), ShouldEqual, 0)
			So(len(c.session.flipped), ShouldEqual, 0)
			So(len(c.session.matched), ShouldEqual, 0)
		})

		Convey("An identical snapshot does not restart sessions", func() {
			old := c.session
			h.handleImages(cfg, testImages(3))
			So(c.session, ShouldEqual, old)
		})
	})

	Convey("Given an empty image set", t, func() {
		h, c, _ := testHub(0)

		Convey("The session presents zero cards and stays inert", func() {
			So(len(c.session.deck), ShouldEqual, 0)
			h.handleFlip(&Config{}, c, "nope")
			So(c.session.running, ShouldBeFalse)
		})
	})
}

func TestRegisterAfterReap(t *testing.T) {
	Convey("Given a hub the idle reaper stopped mid-connect", t, func() {
		cfg := &Config{pairCap: 8, revealDelay: time.Millisecond}
		em := newEventManager(cfg, storeWithEvent("ev1"), nil)

		stale, err := em.getHub(cfg, "ev1")
		So(err, ShouldBeNil)

		// Reaper order: drop the hub from the manager, then stop it.
		em.mu.Lock()
		delete(em.hubs, "ev1")
		em.mu.Unlock()
		stale.stop()

		client := &Client{send: make(chan any, 64), playerID: "p1"}

		Convey("A connecting guest lands on a fresh hub instead of blocking", func() {
			hub, ok := attachClient(cfg, em, stale, "ev1", client)
			So(ok, ShouldBeTrue)
			So(hub, ShouldNotEqual, stale)

			_, dealt := awaitSnapshot(client.send, func(msg any) bool {
				_, isDeck := msg.(DeckMessage)
				return isDeck
			})
			So(dealt, ShouldBeTrue)

			hub.stop()
		})

		Convey("A deleted event turns the guest away instead of blocking", func() {
			_, ok := attachClient(cfg, em, stale, "gone", client)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestEventShareURL(t *testing.T) {
	Convey("Given the share link encoded into the QR code", t, func() {
		cfg := &Config{}

		Convey("Plain serving yields an http link", func() {
			So(eventShareURL(cfg, "/e", "party.local:8080", "", "abc123"),
				ShouldEqual, "http://party.local:8080/e/abc123")
		})

		Convey("TLS serving yields an https link", func() {
			cfg.tlsCert = "cert.pem"
			cfg.tlsKey = "key.pem"
			So(eventShareURL(cfg, "/e", "party.local", "", "abc123"),
				ShouldEqual, "https://party.local/e/abc123")
		})

		Convey("A proxy's forwarded proto wins, and the prefix is kept", func() {
			So(eventShareURL(cfg, "/pairbox/e", "party.example", "https", "abc123"),
				ShouldEqual, "https://party.example/pairbox/e/abc123")
		})
	})
}

func TestPromotion(t *testing.T) {
	Convey("Given an event with a funding target", t, func() {
		h := newHub("ev", nil)
		h.event = Event{ID: "ev", FundingTarget: 4000}

		Convey("Below the target, not promoted", func() {
			h.fundingTotal = 3999
			So(h.promoted(), ShouldBeFalse)
		})

		Convey("At or above the target, promoted", func() {
			h.fundingTotal = 4000
			So(h.promoted(), ShouldBeTrue)
		})

		Convey("The explicit pro flag always promotes", func() {
			h.event.Pro = true
			h.fundingTotal = 0
			So(h.promoted(), ShouldBeTrue)
		})

		Convey("Without a target, only the flag promotes", func() {
			h.event.FundingTarget = 0
			h.fundingTotal = 1000000
			So(h.promoted(), ShouldBeFalse)
		})
	})
}
