/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"math/rand"
)

// Card is one physical, flippable card. Two cards share one key (the
// image identity); the id is unique per card so the pair can be told
// apart once both are face-up.
type Card struct {
	ID  string `json:"id"`
	Key string `json:"key"`
	URL string `json:"url"`
}

// buildDeck deals a fresh deck: shuffle the available images, keep the
// first min(n, pairCap), emit two cards per kept image, shuffle again.
// Both shuffles are unbiased Fisher-Yates. An empty image set yields an
// empty, unplayable deck rather than an error.
func buildDeck(images []CardImage, pairCap int) []Card {
	if len(images) == 0 || pairCap < 1 {
		return nil
	}

	pool := make([]CardImage, len(images))
	copy(pool, images)
	rand.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})

	if len(pool) > pairCap {
		pool = pool[:pairCap]
	}

	deck := make([]Card, 0, 2*len(pool))
	for _, img := range pool {
		deck = append(deck,
			Card{ID: newCardID(), Key: img.Key, URL: img.URL},
			Card{ID: newCardID(), Key: img.Key, URL: img.URL},
		)
	}
	rand.Shuffle(len(deck), func(i, j int) {
		deck[i], deck[j] = deck[j], deck[i]
	})

	return deck
}
