/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"sort"
)

// topScores is the pure reducer over one event's score snapshot: the
// fastest `limit` entries, ascending by elapsed time, ties broken by
// submission time. The store already applies the same order and limit
// server-side; re-applying it here keeps the derived view correct even
// for an over-full or unsorted delivery.
func topScores(recs []Score, limit int) []Score {
	out := make([]Score, len(recs))
	copy(out, recs)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ElapsedMs != out[j].ElapsedMs {
			return out[i].ElapsedMs < out[j].ElapsedMs
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
