package main

import (
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func testImages(n int) []CardImage {
	imgs := make([]CardImage, n)
	for i := range imgs {
		imgs[i] = CardImage{
			Key:       fmt.Sprintf("key-%d", i),
			URL:       fmt.Sprintf("/uploads/ev/key-%d.jpg", i),
			Uploader:  "organizer",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
	}
	return imgs
}

func TestBuildDeck(t *testing.T) {
	Convey("Given a set of available images", t, func() {
		Convey("When the set is empty", func() {
			So(buildDeck(nil, 8), ShouldBeEmpty)
			So(buildDeck([]CardImage{}, 8), ShouldBeEmpty)
		})

		Convey("When the set is smaller than the pair cap", func() {
			deck := buildDeck(testImages(3), 8)

			Convey("Then every image yields exactly one pair", func() {
				So(len(deck), ShouldEqual, 6)

				keys := make(map[string]int)
				ids := make(map[string]bool)
				for _, c := range deck {
					keys[c.Key]++
					ids[c.ID] = true
				}
				So(len(keys), ShouldEqual, 3)
				for _, count := range keys {
					So(count, ShouldEqual, 2)
				}

				Convey("And all card identifiers are unique", func() {
					So(len(ids), ShouldEqual, 6)
				})
			})
		})

		Convey("When the set is at least as large as the pair cap", func() {
			deck := buildDeck(testImages(12), 8)

			Convey("Then the deck holds exactly two cards per capped pair", func() {
				So(len(deck), ShouldEqual, 16)

				keys := make(map[string]int)
				for _, c := range deck {
					keys[c.Key]++
				}
				So(len(keys), ShouldEqual, 8)
				for _, count := range keys {
					So(count, ShouldEqual, 2)
				}
			})
		})

		Convey("When the builder runs twice on the same set", func() {
			imgs := testImages(8)
			a := buildDeck(imgs, 8)
			b := buildDeck(imgs, 8)

			Convey("Then no cards are reused between deals", func() {
				ids := make(map[string]bool)
				for _, c := range a {
					ids[c.ID] = true
				}
				for _, c := range b {
					So(ids[c.ID], ShouldBeFalse)
				}
			})
		})
	})
}
