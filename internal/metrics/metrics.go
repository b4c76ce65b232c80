package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP API
	HttpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "route", "status"})

	HttpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Tweet service
	TweetOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tweet_operations_total",
		Help: "Tweet service operations by outcome",
	}, []string{"operation", "outcome"})

	TweetsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tweets_published_total",
		Help: "Tweets handed to the publish channel",
	})

	// Persistence worker
	WorkerMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_messages_total",
		Help: "Messages consumed by the persistence worker",
	}, []string{"result"})
)
