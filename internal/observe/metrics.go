// Package observe provides application-wide observability primitives for
// Fabula: OpenTelemetry metrics, tracing helpers, and structured logging.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Fabula metrics.
const meterName = "github.com/MrWong99/fabula"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// PromptAssemblyDuration tracks end-to-end generation prompt assembly
	// latency, including retrieval.
	PromptAssemblyDuration metric.Float64Histogram

	// RetrievalDuration tracks similarity search latency over a project's
	// embedding records.
	RetrievalDuration metric.Float64Histogram

	// EmbeddingDuration tracks embedding provider call latency.
	EmbeddingDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// EmbeddingRequests counts embedding provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	EmbeddingRequests metric.Int64Counter

	// IndexedChunks counts chunks written to the vector store.
	IndexedChunks metric.Int64Counter

	// RetrievedResults counts retrieval hits surfaced into prompts.
	RetrievedResults metric.Int64Counter

	// --- Error counters ---

	// EnrichmentFailures counts post-chapter enrichment steps that were
	// skipped due to errors. Use with attribute:
	//   attribute.String("step", "summary"|"index")
	EnrichmentFailures metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM and embedding round-trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.PromptAssemblyDuration, err = m.Float64Histogram("fabula.prompt_assembly.duration",
		metric.WithDescription("Latency of generation prompt assembly, including retrieval."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = m.Float64Histogram("fabula.retrieval.duration",
		metric.WithDescription("Latency of similarity search over project embeddings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmbeddingDuration, err = m.Float64Histogram("fabula.embedding.duration",
		metric.WithDescription("Latency of embedding provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("fabula.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.EmbeddingRequests, err = m.Int64Counter("fabula.embedding.requests",
		metric.WithDescription("Total embedding provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.IndexedChunks, err = m.Int64Counter("fabula.indexed.chunks",
		metric.WithDescription("Total text chunks written to the vector store."),
	); err != nil {
		return nil, err
	}
	if met.RetrievedResults, err = m.Int64Counter("fabula.retrieved.results",
		metric.WithDescription("Total retrieval hits surfaced into generation prompts."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EnrichmentFailures, err = m.Int64Counter("fabula.enrichment.failures",
		metric.WithDescription("Total post-chapter enrichment steps skipped due to errors, by step."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("fabula.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordEmbeddingRequest records an embedding request counter increment with
// the standard attribute set.
func (m *Metrics) RecordEmbeddingRequest(ctx context.Context, provider, status string) {
	m.EmbeddingRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordEnrichmentFailure records a skipped enrichment step by name.
func (m *Metrics) RecordEnrichmentFailure(ctx context.Context, step string) {
	m.EnrichmentFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("step", step)),
	)
}

// RecordLLMDuration records one LLM inference latency observation, tagged
// with what the completion was for ("summary", "plot_options", ...).
func (m *Metrics) RecordLLMDuration(ctx context.Context, seconds float64, purpose string) {
	m.LLMDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("purpose", purpose)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
