/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "pairbox"

var (
	metricEventsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "events_created_total",
		Help:      "Number of events created.",
	})
	metricConnections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "websocket_connections_total",
		Help:      "Number of accepted websocket connections.",
	})
	metricDecksDealt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "decks_dealt_total",
		Help:      "Number of card decks dealt to players.",
	})
	metricGamesCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "games_completed_total",
		Help:      "Number of games played to completion.",
	})
	metricScoresSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "scores_submitted_total",
		Help:      "Number of leaderboard scores submitted.",
	})
	metricContributions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "contributions_total",
		Help:      "Number of crowdfunding contributions recorded.",
	})
	metricExports = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "exports_total",
		Help:      "Number of printable card exports rendered.",
	})
	metricExportImagesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "export_images_skipped_total",
		Help:      "Number of card images skipped during export because they could not be decoded.",
	})
)

func registerMetricsHandler(cfg *Config, mux *httprouter.Router) {
	mux.Handler("GET", cfg.prefix+"/metrics", promhttp.Handler())
}
