package main

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conll_jobs_total",
			Help: "Conversion jobs by outcome",
		},
		[]string{"status"}, // success, config_error, bad_request, failed
	)
	sentencesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conll_sentences_total",
			Help: "Sentences converted to records, by split",
		},
		[]string{"split"},
	)
	newTagsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conll_new_tags_total",
			Help: "Tags registered dynamically during conversion",
		},
	)
	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conll_job_duration_seconds",
			Help:    "Wall time of a conversion job",
			Buckets: prometheus.DefBuckets,
		},
	)
	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "conll_upload_bytes",
			Help:    "Size of uploaded corpora",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)
	storageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conll_storage_errors_total",
			Help: "Artifact store and database failures",
		},
		[]string{"operation"},
	)
)

var metricsOnce sync.Once

func initMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(jobsTotal)
		prometheus.MustRegister(sentencesTotal)
		prometheus.MustRegister(newTagsTotal)
		prometheus.MustRegister(jobDuration)
		prometheus.MustRegister(uploadBytes)
		prometheus.MustRegister(storageErrors)
	})
}
