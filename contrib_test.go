package main

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func contributions(amounts ...int64) []Contribution {
	recs := make([]Contribution, len(amounts))
	for i, amount := range amounts {
		recs[i] = Contribution{
			EventID:   "ev",
			Amount:    amount,
			Provider:  "demo",
			Status:    "succeeded",
			CreatedAt: time.Now(),
		}
	}
	return recs
}

func TestFundingTotals(t *testing.T) {
	Convey("Given a contribution snapshot and a target", t, func() {
		Convey("An empty snapshot sums to zero", func() {
			total, percent := fundingTotals(nil, 4000)
			So(total, ShouldEqual, 0)
			So(percent, ShouldEqual, 0)
		})

		Convey("A partial snapshot yields a proportional percentage", func() {
			total, percent := fundingTotals(contributions(1000), 4000)
			So(total, ShouldEqual, 1000)
			So(percent, ShouldEqual, 25)
		})

		Convey("The percentage is capped at 100", func() {
			total, percent := fundingTotals(contributions(1500, 2500), 4000)
			So(total, ShouldEqual, 4000)
			So(percent, ShouldEqual, 100)

			total, percent = fundingTotals(contributions(9000), 4000)
			So(total, ShouldEqual, 9000)
			So(percent, ShouldEqual, 100)
		})

		Convey("The percentage rounds to the nearest integer", func() {
			_, percent := fundingTotals(contributions(1), 3)
			So(percent, ShouldEqual, 33)

			_, percent = fundingTotals(contributions(2), 3)
			So(percent, ShouldEqual, 67)
		})

		Convey("A zero or negative target never divides", func() {
			total, percent := fundingTotals(contributions(500), 0)
			So(total, ShouldEqual, 500)
			So(percent, ShouldEqual, 0)
		})
	})
}
