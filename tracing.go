package centrifuge

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/nshafer/centrifuge"

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

// commandSpan covers one command from the write until its reply, timeout or failure.
type commandSpan struct {
	span trace.Span
}

func startCommandSpan(tracer trace.Tracer, cmd *Command, channel string) *commandSpan {
	attrs := []attribute.KeyValue{
		attribute.Int64("centrifuge.command_id", int64(cmd.ID)),
		attribute.String("centrifuge.method", cmd.Method.String()),
	}
	if channel != "" {
		attrs = append(attrs, attribute.String("centrifuge.channel", channel))
	}
	_, span := tracer.Start(context.Background(), "centrifuge."+cmd.Method.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return &commandSpan{span: span}
}

func (s *commandSpan) end(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
