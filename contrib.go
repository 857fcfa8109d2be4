/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"math"
)

// fundingTotals is the pure reducer over one event's contribution
// snapshot: the running sum and the completion percentage against the
// target, capped at 100. It recomputes from the full record set on
// every call so the displayed total can never drift from the ledger,
// whatever order concurrent contributions arrived in.
func fundingTotals(recs []Contribution, target int64) (total int64, percent int) {
	for _, rec := range recs {
		total += rec.Amount
	}

	if target <= 0 || total <= 0 {
		return total, 0
	}

	percent = int(math.Round(float64(total) * 100 / float64(target)))
	if percent > 100 {
		percent = 100
	}
	return total, percent
}
