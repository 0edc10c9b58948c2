package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequestDuration длительность запросов к бэкенду аналитики
	BackendRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heatmap_backend_request_duration_seconds",
		Help:    "Duration of analytics backend requests in seconds",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint", "outcome"}) // outcome: ok, unauthorized, status, shape, network

	// FetchRequestsTotal запросы статистики в пакетной загрузке по результату
	FetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heatmap_fetch_requests_total",
		Help: "Total number of per-region statistics requests issued by the batched fetcher",
	}, []string{"outcome"}) // success, failure

	// FetchChunkDuration длительность одного пакета (барьер пакета)
	FetchChunkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "heatmap_fetch_chunk_duration_seconds",
		Help:    "Duration of one fetch chunk until all members settle",
		Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	// FetchChunkSize размер пакета
	FetchChunkSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "heatmap_fetch_chunk_size",
		Help:    "Number of requests in a fetch chunk",
		Buckets: []float64{1, 2, 3, 5, 8, 10, 20},
	})

	// LoadDuration полная загрузка представления: геометрия, статистика, слияние
	LoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "heatmap_load_duration_seconds",
		Help:    "Duration of full view loads",
		Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"status"}) // ready, failed, expired

	// MergeDuration длительность слияния
	MergeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "heatmap_merge_duration_seconds",
		Help:    "Duration of the merge and normalization pass",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
	})

	// RegionsWithData распределение числа регионов с данными по слияниям всех представлений
	RegionsWithData = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "heatmap_merge_regions_with_data",
		Help:    "Number of regions with non-zero flights per merge",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 85, 100, 250},
	})

	// EmptyDatasets количество слияний без единого региона с данными
	EmptyDatasets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heatmap_empty_datasets_total",
		Help: "Number of merges that produced no region with data",
	})

	// DetailFetches запросы детальной статистики по результату
	DetailFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heatmap_detail_fetches_total",
		Help: "Detail statistics fetches triggered by region selection",
	}, []string{"outcome"}) // loaded, error, stale

	// AuthFailures отказы бэкенда в авторизации
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heatmap_auth_failures_total",
		Help: "Number of 401/403 responses escalated as session expiry",
	})
)
