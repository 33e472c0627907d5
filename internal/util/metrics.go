package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PurchasesStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_started_total",
		Help: "Total number of purchase attempts received",
	})

	PurchasesCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purchases_completed_total",
		Help: "Total number of purchases completed with a minted NFT",
	})

	PurchasesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purchases_failed_total",
		Help: "Total number of failed purchase attempts",
	}, []string{"reason"})

	InventoryReserveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inventory_reserve_latency_seconds",
		Help:    "Latency of inventory reservation operations",
		Buckets: prometheus.DefBuckets,
	})

	InventoryReleasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_releases_total",
		Help: "Total number of compensating inventory releases",
	}, []string{"result"})

	BarcodeCollisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barcode_collisions_total",
		Help: "Total number of generated barcodes rejected as already claimed",
	})

	MintAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mint_attempts_total",
		Help: "Total number of mint calls",
	})

	MintFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mint_failed_total",
		Help: "Total number of failed mint calls",
	})

	MintLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mint_latency_seconds",
		Help:    "Latency of minting collaborator calls",
		Buckets: prometheus.DefBuckets,
	})

	FulfillmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fulfillments_total",
		Help: "Total number of fulfillment attempts",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
