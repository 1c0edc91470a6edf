// Package observe provides application-wide observability primitives for
// Mentara: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Mentara metrics.
const meterName = "github.com/MrWong99/mentara"

// Frame results recorded by [Metrics.RecordFrame].
const (
	FrameSent    = "sent"
	FrameDropped = "dropped"
	FrameFailed  = "failed"
	FrameGated   = "gated"
)

// Fragment results recorded by [Metrics.RecordFragment].
const (
	FragmentScheduled    = "scheduled"
	FragmentDecodeFailed = "decode_failed"
	FragmentSuperseded   = "superseded"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Voice session ---

	// VoiceOpenDuration tracks how long it takes a voice session to become
	// active (capture acquired and handshake resolved). Use with attribute:
	//   attribute.String("status", "active"|"closed")
	VoiceOpenDuration metric.Float64Histogram

	// VoiceFrames counts microphone blocks by outcome. Use with attribute:
	//   attribute.String("result", FrameSent|FrameDropped|FrameFailed|FrameGated)
	VoiceFrames metric.Int64Counter

	// PlaybackFragments counts model audio fragments by outcome. Use with attribute:
	//   attribute.String("result", FragmentScheduled|FragmentDecodeFailed|FragmentSuperseded)
	PlaybackFragments metric.Int64Counter

	// Interruptions counts playback cancellations. Use with attribute:
	//   attribute.String("source", "remote"|"barge_in")
	Interruptions metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Companion ---

	// ChatDuration tracks chat completion latency including fallbacks.
	ChatDuration metric.Float64Histogram

	// CrisisDetections counts messages flagged as crisis.
	CrisisDetections metric.Int64Counter

	// StoreDuration tracks document store latency. Use with attribute:
	//   attribute.String("op", "load"|"save")
	StoreDuration metric.Float64Histogram

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice and chat latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.VoiceOpenDuration, err = m.Float64Histogram("mentara.voice.open.duration",
		metric.WithDescription("Time from opening a voice session until it is active or closed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("mentara.chat.duration",
		metric.WithDescription("Latency of chat completions including fallbacks."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StoreDuration, err = m.Float64Histogram("mentara.store.duration",
		metric.WithDescription("Latency of document store operations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.VoiceFrames, err = m.Int64Counter("mentara.voice.frames",
		metric.WithDescription("Microphone blocks by outcome."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFragments, err = m.Int64Counter("mentara.playback.fragments",
		metric.WithDescription("Model audio fragments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("mentara.voice.interruptions",
		metric.WithDescription("Playback cancellations by source."),
	); err != nil {
		return nil, err
	}
	if met.CrisisDetections, err = m.Int64Counter("mentara.chat.crisis",
		metric.WithDescription("Chat messages flagged as crisis."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("mentara.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("mentara.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("mentara.voice.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("mentara.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordFrame records one microphone block outcome.
func (m *Metrics) RecordFrame(ctx context.Context, result string) {
	m.VoiceFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordFragment records one model audio fragment outcome.
func (m *Metrics) RecordFragment(ctx context.Context, result string) {
	m.PlaybackFragments.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordInterruption records a playback cancellation.
func (m *Metrics) RecordInterruption(ctx context.Context, source string) {
	m.Interruptions.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
