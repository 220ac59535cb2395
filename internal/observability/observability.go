// Package observability installs the process-wide slog logger.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies log records emitted through the OTel bridge.
const instrumentationName = "github.com/florianilch/tolino-cloud"

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Instrument sets the default slog logger for the given level and format
// (text, json or otlp). The returned function must be called before exit;
// for otlp it flushes buffered records.
func Instrument(ctx context.Context, level slog.Level, format string) (ShutdownFunc, error) {
	handler, shutdown, err := newHandler(ctx, os.Stderr, level, format, os.Getenv)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(handler))
	return shutdown, nil
}

func newHandler(ctx context.Context, w io.Writer, level slog.Level, format string, getenv func(string) string) (slog.Handler, ShutdownFunc, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "", "text":
		return slog.NewTextHandler(w, opts), noopShutdown, nil
	case "json":
		return slog.NewJSONHandler(w, opts), noopShutdown, nil
	case "otlp":
		provider, err := newLoggerProvider(ctx, w, level, getenv)
		if err != nil {
			return nil, nil, err
		}
		global.SetLoggerProvider(provider)
		otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
			_, _ = fmt.Fprintf(w, "otel: %v\n", err)
		}))
		handler := otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))
		return handler, provider.Shutdown, nil
	default:
		return nil, nil, fmt.Errorf("unsupported log format: %q", format)
	}
}

// newLoggerProvider exports to an OTLP collector when one is configured
// through the standard OTEL_EXPORTER_OTLP_* variables, and to w otherwise.
func newLoggerProvider(ctx context.Context, w io.Writer, level slog.Level, getenv func(string) string) (*sdklog.LoggerProvider, error) {
	var processor sdklog.Processor

	endpoint := getenv("OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")
	if endpoint == "" {
		endpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	if endpoint == "" {
		exporter, err := stdoutlog.New(stdoutlog.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		processor = sdklog.NewSimpleProcessor(exporter)
	} else {
		exporter, err := newOTLPExporter(ctx, getenv)
		if err != nil {
			return nil, err
		}
		processor = sdklog.NewBatchProcessor(exporter)
	}

	return sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	), nil
}

func newOTLPExporter(ctx context.Context, getenv func(string) string) (sdklog.Exporter, error) {
	protocol := getenv("OTEL_EXPORTER_OTLP_LOGS_PROTOCOL")
	if protocol == "" {
		protocol = getenv("OTEL_EXPORTER_OTLP_PROTOCOL")
	}

	switch strings.ToLower(protocol) {
	case "grpc":
		exporter, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp grpc log exporter: %w", err)
		}
		return exporter, nil
	case "", "http/protobuf":
		exporter, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp http log exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, errors.New("unsupported OTLP protocol: " + protocol)
	}
}

func severity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
