package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"

	"github.com/Cogwheel-Validator/comet-router/comet/config"
)

// OTelConfig configures OpenTelemetry exporters
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	EnableTracing bool
	UseOTLPTraces bool
	OTLPTracesURL string

	EnableMetrics  bool
	UsePrometheus  bool
	UseOTLPMetrics bool
	OTLPMetricsURL string

	EnableLogs  bool
	UseOTLPLogs bool
	OTLPLogsURL string

	// InsecureOTLP allows unencrypted connections to OTLP endpoints.
	// Only for local development.
	InsecureOTLP bool

	// client side TLS for the OTLP exporters, not for this server
	OTLPClientCertFile string
	OTLPClientKeyFile  string
	OTLPCACertFile     string

	// DevelopmentMode swaps every exporter for stdout
	DevelopmentMode bool
}

func DefaultOTelConfig() *OTelConfig {
	return &OTelConfig{
		ServiceName:    "comet-router",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		EnableTracing:  true,
		UseOTLPTraces:  true,
		OTLPTracesURL:  "http://localhost:4318/v1/traces",
		EnableMetrics:  true,
		UsePrometheus:  true,
		OTLPMetricsURL: "http://localhost:4318/v1/metrics",
		OTLPLogsURL:    "http://localhost:4318/v1/logs",
	}
}

// OTelConfigFrom maps the service config onto exporter settings.
func OTelConfigFrom(c *config.RPCCometConfig) *OTelConfig {
	return &OTelConfig{
		ServiceName:     c.ServiceName,
		ServiceVersion:  c.ServiceVersion,
		Environment:     c.Environment,
		EnableTracing:   c.EnableTracing,
		UseOTLPTraces:   c.UseOTLPTraces,
		OTLPTracesURL:   c.OTLPTracesURL,
		EnableMetrics:   c.EnableMetrics,
		UsePrometheus:   c.UsePrometheus,
		UseOTLPMetrics:  c.UseOTLPMetrics,
		OTLPMetricsURL:  c.OTLPMetricsURL,
		EnableLogs:      c.EnableLogs,
		UseOTLPLogs:     c.UseOTLPLogs,
		OTLPLogsURL:     c.OTLPLogsURL,
		InsecureOTLP:    c.InsecureOTLP,
		DevelopmentMode: c.DevelopmentMode,
	}
}

func (c *OTelConfig) enabled() bool {
	return c != nil && (c.EnableTracing || c.EnableMetrics || c.EnableLogs)
}

// NewOTelSDK installs the global tracer, meter and logger providers. The
// returned shutdown flushes and stops all of them and is safe to call even
// when an error is returned.
func NewOTelSDK(ctx context.Context, cfg *OTelConfig) (func(context.Context) error, error) {
	if cfg == nil {
		cfg = DefaultOTelConfig()
	}

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var err error
		for _, fn := range shutdownFuncs {
			err = errors.Join(err, fn(ctx))
		}
		shutdownFuncs = nil
		return err
	}
	fail := func(err error) (func(context.Context) error, error) {
		return shutdown, errors.Join(err, shutdown(ctx))
	}

	res, err := newResource(cfg)
	if err != nil {
		return shutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.EnableTracing {
		tp, err := newTracerProvider(ctx, res, cfg)
		if err != nil {
			return fail(err)
		}
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	if cfg.EnableMetrics {
		mp, err := newMeterProvider(ctx, res, cfg)
		if err != nil {
			return fail(err)
		}
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
		otel.SetMeterProvider(mp)
	}

	if cfg.EnableLogs {
		lp, err := newLoggerProvider(ctx, res, cfg)
		if err != nil {
			return fail(err)
		}
		shutdownFuncs = append(shutdownFuncs, lp.Shutdown)
		global.SetLoggerProvider(lp)
	}

	return shutdown, nil
}

func newResource(cfg *OTelConfig) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
}

// buildTLSConfig returns nil when the OTLP connection is insecure.
func buildTLSConfig(cfg *OTelConfig) (*tls.Config, error) {
	if cfg.InsecureOTLP {
		return nil, nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.OTLPCACertFile != "" {
		caCert, err := os.ReadFile(cfg.OTLPCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate")
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.OTLPClientCertFile != "" && cfg.OTLPClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.OTLPClientCertFile, cfg.OTLPClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func newTracerProvider(ctx context.Context, res *resource.Resource, cfg *OTelConfig) (*trace.TracerProvider, error) {
	var exporter trace.SpanExporter
	var err error

	switch {
	case cfg.DevelopmentMode:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
	case cfg.UseOTLPTraces:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(cfg.OTLPTracesURL)}
		if cfg.InsecureOTLP {
			opts = append(opts, otlptracehttp.WithInsecure())
		} else {
			tlsConfig, err := buildTLSConfig(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to build TLS config for traces: %w", err)
			}
			opts = append(opts, otlptracehttp.WithTLSClientConfig(tlsConfig))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
		}
	default:
		return trace.NewTracerProvider(trace.WithResource(res)), nil
	}

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter, trace.WithBatchTimeout(5*time.Second)),
		trace.WithResource(res),
	), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg *OTelConfig) (*metric.MeterProvider, error) {
	opts := []metric.Option{metric.WithResource(res)}

	if cfg.UsePrometheus {
		exporter, err := prometheus.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		opts = append(opts, metric.WithReader(exporter))
	}

	if cfg.UseOTLPMetrics {
		if cfg.DevelopmentMode {
			exporter, err := stdoutmetric.New()
			if err != nil {
				return nil, fmt.Errorf("failed to create stdout metric exporter: %w", err)
			}
			opts = append(opts, metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(10*time.Second))))
		} else {
			otlpOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(cfg.OTLPMetricsURL)}
			if cfg.InsecureOTLP {
				otlpOpts = append(otlpOpts, otlpmetrichttp.WithInsecure())
			} else {
				tlsConfig, err := buildTLSConfig(cfg)
				if err != nil {
					return nil, fmt.Errorf("failed to build TLS config for metrics: %w", err)
				}
				otlpOpts = append(otlpOpts, otlpmetrichttp.WithTLSClientConfig(tlsConfig))
			}
			exporter, err := otlpmetrichttp.New(ctx, otlpOpts...)
			if err != nil {
				return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
			}
			opts = append(opts, metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(60*time.Second))))
		}
	}

	return metric.NewMeterProvider(opts...), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource, cfg *OTelConfig) (*sdklog.LoggerProvider, error) {
	var exporter sdklog.Exporter
	var err error

	switch {
	case cfg.DevelopmentMode:
		exporter, err = stdoutlog.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout log exporter: %w", err)
		}
	case cfg.UseOTLPLogs:
		opts := []otlploghttp.Option{otlploghttp.WithEndpointURL(cfg.OTLPLogsURL)}
		if cfg.InsecureOTLP {
			opts = append(opts, otlploghttp.WithInsecure())
		} else {
			tlsConfig, err := buildTLSConfig(cfg)
			if err != nil {
				return nil, fmt.Errorf("failed to build TLS config for logs: %w", err)
			}
			opts = append(opts, otlploghttp.WithTLSClientConfig(tlsConfig))
		}
		exporter, err = otlploghttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
		}
	default:
		return sdklog.NewLoggerProvider(sdklog.WithResource(res)), nil
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	), nil
}
