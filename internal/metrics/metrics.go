package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Query pipeline metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_queries_total",
			Help: "Total number of queries processed",
		},
		[]string{"template", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_query_duration_seconds",
			Help:    "End-to-end query processing duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"template"},
	)

	QueryTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_query_tokens_used",
			Help:    "Context tokens included per answered query",
			Buckets: []float64{100, 500, 1000, 2000, 4000, 8000},
		},
	)

	// Retrieval metrics
	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_retrievals_total",
			Help: "Total number of retrieval backend calls",
		},
		[]string{"backend", "status"},
	)

	RetrievalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_retrieval_duration_seconds",
			Help:    "Retrieval backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	RetrievalResults = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_retrieval_results",
			Help:    "Number of records returned per retrieval call",
			Buckets: []float64{0, 1, 5, 10, 20, 50},
		},
		[]string{"backend"},
	)

	FusionMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_fusion_merges_total",
			Help: "Total number of RRF fusion operations",
		},
		[]string{"kind"},
	)

	RerankRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_rerank_requests_total",
			Help: "Total number of rerank backend calls",
		},
		[]string{"status"},
	)

	RerankDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_rerank_duration_seconds",
			Help:    "Rerank backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FilteredResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rag_filtered_results",
			Help:    "Number of records surviving the token/relevance filter",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_embedding_requests_total",
			Help: "Total number of embedding lookups by outcome",
		},
		[]string{"model", "status"},
	)

	EmbeddingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_embedding_duration_seconds",
			Help:    "Embedding backend call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	// Vector store metrics
	VectorSearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_vector_searches_total",
			Help: "Total number of vector store searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_vector_search_duration_seconds",
			Help:    "Vector store search duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	// LLM metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_llm_requests_total",
			Help: "Total number of chat completion calls",
		},
		[]string{"purpose", "status"},
	)

	LLMDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rag_llm_duration_seconds",
			Help:    "Chat completion call duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"purpose"},
	)

	// Conversation memory metrics
	SessionCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_session_cache_hits_total",
			Help: "Total number of session cache hits",
		},
	)

	SessionCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_session_cache_misses_total",
			Help: "Total number of session cache misses",
		},
	)

	SessionCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rag_session_cache_size",
			Help: "Current number of sessions in the local cache",
		},
	)

	SessionEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_session_evictions_total",
			Help: "Total number of stale sessions evicted from the cache",
		},
	)

	// Ingestion metrics
	IngestFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rag_ingest_files_total",
			Help: "Total number of files ingested",
		},
		[]string{"status"},
	)

	IngestChunksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_ingest_chunks_total",
			Help: "Total number of chunks persisted",
		},
	)

	IngestVectorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rag_ingest_vectors_total",
			Help: "Total number of vectors upserted",
		},
	)
)

// RecordQuery records one query pipeline outcome.
func RecordQuery(template, status string, seconds float64) {
	QueriesTotal.WithLabelValues(template, status).Inc()
	QueryDuration.WithLabelValues(template).Observe(seconds)
}

// RecordRetrieval records one retrieval backend call.
func RecordRetrieval(backend, status string, seconds float64, results int) {
	RetrievalsTotal.WithLabelValues(backend, status).Inc()
	RetrievalDuration.WithLabelValues(backend).Observe(seconds)
	if status == "ok" {
		RetrievalResults.WithLabelValues(backend).Observe(float64(results))
	}
}

// RecordEmbedding records one embedding lookup.
func RecordEmbedding(model, status string, seconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if seconds > 0 {
		EmbeddingDuration.WithLabelValues(model).Observe(seconds)
	}
}

// RecordVectorSearch records one vector store search.
func RecordVectorSearch(collection, status string, seconds float64) {
	VectorSearchesTotal.WithLabelValues(collection, status).Inc()
	VectorSearchDuration.WithLabelValues(collection).Observe(seconds)
}

// RecordRerank records one rerank backend call.
func RecordRerank(status string, seconds float64) {
	RerankRequests.WithLabelValues(status).Inc()
	RerankDuration.Observe(seconds)
}

// RecordLLM records one chat completion call.
func RecordLLM(purpose, status string, seconds float64) {
	LLMRequests.WithLabelValues(purpose, status).Inc()
	LLMDuration.WithLabelValues(purpose).Observe(seconds)
}
