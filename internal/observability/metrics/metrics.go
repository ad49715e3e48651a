package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	redemptions      metric.Int64Counter
	redeemDuration   metric.Float64Histogram
	commitRetries    metric.Int64Counter
	tokensIssued     metric.Int64Counter
	paymentsApplied  metric.Int64Counter
	creditsPurchased metric.Int64Counter
	ledgerEntries    metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	jobRuns          metric.Int64Counter
	jobDuration      metric.Float64Histogram
	jobItems         metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "edupass"
	}
	meter := provider.Meter(name)

	redemptions, err := meter.Int64Counter("edupass_redemptions_total")
	if err != nil {
		return nil, err
	}
	redeemDuration, err := meter.Float64Histogram("edupass_redemption_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	commitRetries, err := meter.Int64Counter("edupass_commit_retries_total")
	if err != nil {
		return nil, err
	}
	tokensIssued, err := meter.Int64Counter("edupass_tokens_issued_total")
	if err != nil {
		return nil, err
	}
	paymentsApplied, err := meter.Int64Counter("edupass_payments_total")
	if err != nil {
		return nil, err
	}
	creditsPurchased, err := meter.Int64Counter("edupass_credits_purchased_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("edupass_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("edupass_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	jobRuns, err := meter.Int64Counter("edupass_scheduler_job_runs_total")
	if err != nil {
		return nil, err
	}
	jobDuration, err := meter.Float64Histogram("edupass_scheduler_job_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	jobItems, err := meter.Int64Counter("edupass_scheduler_job_items_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		redemptions:      redemptions,
		redeemDuration:   redeemDuration,
		commitRetries:    commitRetries,
		tokensIssued:     tokensIssued,
		paymentsApplied:  paymentsApplied,
		creditsPurchased: creditsPurchased,
		ledgerEntries:    ledgerEntries,
		rateLimitDenied:  rateLimitDenied,
		jobRuns:          jobRuns,
		jobDuration:      jobDuration,
		jobItems:         jobItems,
	}, nil
}

// RecordRedemption counts a redemption attempt by token kind and outcome.
func (m *Metrics) RecordRedemption(ctx context.Context, tokenKind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("token_kind", strings.TrimSpace(tokenKind)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.redemptions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.redeemDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

// RecordCommitRetry counts a transaction retried after a serialization conflict.
func (m *Metrics) RecordCommitRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("operation", strings.TrimSpace(operation)))
	m.commitRetries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTokenIssued increments issued token counts.
func (m *Metrics) RecordTokenIssued(ctx context.Context, tokenKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("token_kind", strings.TrimSpace(tokenKind)))
	m.tokensIssued.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPayment increments payment counts and purchased credits.
func (m *Metrics) RecordPayment(ctx context.Context, method string, credits int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("method", strings.TrimSpace(method)))
	m.paymentsApplied.Add(ctx, 1, metric.WithAttributes(attrs...))
	if credits > 0 {
		m.creditsPurchased.Add(ctx, credits, metric.WithAttributes(attrs...))
	}
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, sourceType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source_type", strings.TrimSpace(sourceType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordJobRun counts a scheduler job run, its outcome and the rows it touched.
func (m *Metrics) RecordJobRun(ctx context.Context, job, outcome string, processed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("job", strings.TrimSpace(job)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.jobRuns.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
	if processed > 0 {
		m.jobItems.Add(ctx, int64(processed), metric.WithAttributes(attrs...))
	}
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"token_kind":  {},
	"outcome":     {},
	"operation":   {},
	"method":      {},
	"source_type": {},
	"reason":      {},
	"job":         {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
