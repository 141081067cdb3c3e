package middleware

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/mushroom/pkg/server"
)

const defaultTracerName = "mushroom"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "mushroom").
	TracerName string

	// IncludeSessionID includes the session ID in spans.
	// Enabled by default.
	IncludeSessionID bool

	// IncludeRemoteIP includes the client IP in spans.
	// May contain sensitive information - disabled by default.
	IncludeRemoteIP bool

	// Filter determines which calls to trace.
	// Return true to trace the call, false to skip.
	// If nil, all calls are traced.
	Filter func(call *server.Call) bool

	// AttributeExtractor extracts custom attributes from the call.
	AttributeExtractor func(call *server.Call) []attribute.KeyValue

	// TracerProvider overrides the global provider.
	TracerProvider trace.TracerProvider

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithIncludeSessionID enables/disables including the session ID in spans.
func WithIncludeSessionID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeSessionID = include
	}
}

// WithIncludeRemoteIP enables including the client IP in spans.
func WithIncludeRemoteIP(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeRemoteIP = include
	}
}

// WithCallFilter sets a filter function for calls.
func WithCallFilter(filter func(call *server.Call) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(call *server.Call) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName:       defaultTracerName,
		IncludeSessionID: true,
	}
}

// OpenTelemetry creates call middleware that traces every RPC call.
//
// Each call gets a server span named "mushroom <method>" carrying the method,
// the qualified function name and the session. The span's context is passed
// on to the plugin function, so outbound calls made with it join the trace.
// Errors are recorded on the span.
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before starting:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) server.CallMiddleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if config.TracerProvider != nil {
		config.tracer = config.TracerProvider.Tracer(config.TracerName)
	} else {
		config.tracer = otel.Tracer(config.TracerName)
	}

	return func(next server.CallHandler) server.CallHandler {
		return func(ctx context.Context, call *server.Call) (any, error) {
			if config.Filter != nil && !config.Filter(call) {
				return next(ctx, call)
			}

			attrs := []attribute.KeyValue{
				attribute.String("mushroom.method", call.Method),
			}
			if call.Entry != nil {
				attrs = append(attrs, attribute.String("mushroom.function", call.Entry.QualifiedName))
			}
			if call.Request != nil {
				attrs = append(attrs, attribute.Bool("mushroom.notification", call.Request.Notification))
			}
			if sess := call.Session; sess != nil {
				attrs = append(attrs, attribute.String("mushroom.transport", sess.Transport()))
				if config.IncludeSessionID {
					attrs = append(attrs, attribute.String("mushroom.session_id", sess.ID()))
				}
				if config.IncludeRemoteIP {
					attrs = append(attrs, attribute.String("mushroom.remote_ip", sess.RemoteIP()))
				}
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(call)...)
			}

			spanCtx, span := config.tracer.Start(ctx,
				fmt.Sprintf("mushroom %s", call.Method),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()
			spanCtx = context.WithValue(spanCtx, spanMarkerKey{}, true)

			result, err := next(spanCtx, call)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return result, err
		}
	}
}

// SpanFromContext returns the call span from a plugin function's context.
// It returns nil if the call was not traced.
//
// Example:
//
//	func ping(ctx context.Context, host plugin.Host, req *plugin.Request) (any, error) {
//	    if span := middleware.SpanFromContext(ctx); span != nil {
//	        span.SetAttributes(attribute.Int("ping.count", 42))
//	    }
//	    return "pong", nil
//	}
func SpanFromContext(ctx context.Context) trace.Span {
	if traced, _ := ctx.Value(spanMarkerKey{}).(bool); !traced {
		return nil
	}
	return trace.SpanFromContext(ctx)
}

// spanMarkerKey marks contexts created by the tracing middleware.
type spanMarkerKey struct{}
