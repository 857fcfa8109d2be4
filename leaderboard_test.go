package main

import (
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTopScores(t *testing.T) {
	Convey("Given submitted scores with distinct times", t, func() {
		var recs []Score
		for i := 0; i < 11; i++ {
			recs = append(recs, Score{
				ID:          fmt.Sprintf("s-%d", i),
				EventID:     "ev",
				Name:        fmt.Sprintf("player-%d", i),
				ElapsedMs:   int64(11-i) * 1000,
				SubmittedAt: time.Now(),
			})
		}

		Convey("When reduced to the top 10", func() {
			top := topScores(recs, 10)

			Convey("Then only the 10 smallest remain, ascending", func() {
				So(len(top), ShouldEqual, 10)
				So(top[0].ElapsedMs, ShouldEqual, 1000)
				So(top[9].ElapsedMs, ShouldEqual, 10000)
				for i := 1; i < len(top); i++ {
					So(top[i].ElapsedMs, ShouldBeGreaterThanOrEqualTo, top[i-1].ElapsedMs)
				}
			})
		})

		Convey("Ties keep submission order", func() {
			now := time.Now()
			tied := []Score{
				{ID: "b", Name: "second", ElapsedMs: 500, SubmittedAt: now.Add(time.Second)},
				{ID: "a", Name: "first", ElapsedMs: 500, SubmittedAt: now},
			}
			top := topScores(tied, 10)
			So(top[0].Name, ShouldEqual, "first")
			So(top[1].Name, ShouldEqual, "second")
		})

		Convey("The input snapshot is not mutated", func() {
			first := recs[0].ID
			_ = topScores(recs, 10)
			So(recs[0].ID, ShouldEqual, first)
		})
	})
}
