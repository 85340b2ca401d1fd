package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/formengine/internal/config"
)

const instrumentationName = "github.com/pitabwire/formengine"

// Span attribute keys.
var (
	AttrFormID     = attribute.Key("formengine.form_id")
	AttrSessionID  = attribute.Key("formengine.session_id")
	AttrTransition = attribute.Key("formengine.transition")
	AttrOperation  = attribute.Key("formengine.backend_operation")
)

// defaultSamplingRate applies when the configured rate is unset.
const defaultSamplingRate = 0.1

// InitTracing installs the global tracer provider and W3C propagators. The
// returned function flushes and stops the provider. With tracing disabled
// nothing is installed and the shutdown function does nothing.
func InitTracing(ctx context.Context, cfg config.TracingConfig, service, version string) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "", "otlp":
		var opts []otlptracegrpc.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("tracing: %s exporter: %w", cfg.Exporter, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			semconv.ServiceName(service),
			semconv.ServiceVersion(version),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplingRate(cfg.SamplingRate)))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// samplingRate clamps a configured rate into (0, 1].
func samplingRate(rate float64) float64 {
	switch {
	case rate <= 0:
		return defaultSamplingRate
	case rate > 1:
		return 1
	}
	return rate
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts an internal span named after the operation.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpanWithError ends span, marking it failed when err is set.
func EndSpanWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TraceIDFromContext returns the active trace id, or "".
func TraceIDFromContext(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// InjectTraceHeaders propagates the active trace to a backend request.
func InjectTraceHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}

// TracingMiddleware starts a server span per request, continuing an inbound
// traceparent. Once the router has matched, the span is renamed after the
// route and tagged with the form and session ids from the path. It must run
// inside the chi router so the route context is populated.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prop := otel.GetTextMapPropagator()
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer().Start(ctx, r.Method,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()
		prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		route := routePattern(r)
		span.SetName(r.Method + " " + route)
		span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(rec.status))
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if id := rc.URLParam("formId"); id != "" {
				span.SetAttributes(AttrFormID.String(id))
			}
			if id := rc.URLParam("sessionId"); id != "" {
				span.SetAttributes(AttrSessionID.String(id))
			}
		}
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}
