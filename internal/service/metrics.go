package service

import (
	"context"
	"time"

	"github.com/loqalabs/loqa-phonemizer/internal/phonemize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	requests   metric.Int64Counter
	utterances metric.Int64Counter
	switches   metric.Int64Counter
	duration   metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-phonemizer/service")
	requests, err := meter.Int64Counter("phonemizer.requests", metric.WithDescription("Phonemize requests served"))
	if err != nil {
		return nil, err
	}
	utterances, err := meter.Int64Counter("phonemizer.utterances", metric.WithDescription("Utterances processed"))
	if err != nil {
		return nil, err
	}
	switches, err := meter.Int64Counter("phonemizer.language_switches", metric.WithDescription("Utterances containing language switches"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("phonemizer.request.duration",
		metric.WithDescription("Request latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &metrics{requests: requests, utterances: utterances, switches: switches, duration: duration}, nil
}

func (m *metrics) record(ctx context.Context, opts phonemize.Options, result phonemize.Result, switched int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("language", opts.Language),
		attribute.String("status", status),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	if n := len(result.Utterances); n > 0 {
		m.utterances.Add(ctx, int64(n), attrs)
	}
	if switched > 0 {
		m.switches.Add(ctx, int64(switched), metric.WithAttributes(
			attribute.String("language", opts.Language),
			attribute.String("policy", string(opts.LanguageSwitch)),
		))
	}
}
