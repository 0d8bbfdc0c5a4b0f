package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Span measures one engine or storage operation within a request.
type Span struct {
	name   string
	logger *slog.Logger
	start  time.Time
	failed error
}

// StartSpan derives a child span from ctx. The request id, when present, doubles
// as the trace id so that span logs line up with the request log.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := FromContext(ctx)

	if TraceIDFromContext(ctx) == "" {
		traceID := RequestIDFromContext(ctx)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		ctx = withTraceID(ctx, traceID)
		logger = logger.With(slog.String("trace_id", traceID))
	}

	parentSpanID := SpanIDFromContext(ctx)
	spanID := uuid.NewString()

	logger = logger.With(
		slog.String("span_id", spanID),
		slog.String("span_name", name),
	)
	if parentSpanID != "" {
		logger = logger.With(slog.String("parent_span_id", parentSpanID))
	}

	ctx = WithLogger(ctx, logger)
	ctx = withSpanID(ctx, spanID)

	return ctx, &Span{name: name, logger: logger, start: time.Now()}
}

// Fail records err as the outcome of the span. Nil errors are ignored.
func (s *Span) Fail(err error) {
	if s == nil || err == nil {
		return
	}
	s.failed = err
}

// End emits a completion entry at debug level, or warn when the span failed.
func (s *Span) End() {
	if s == nil {
		return
	}
	elapsed := time.Since(s.start)
	if s.failed != nil {
		s.logger.Warn("span failed", slog.Duration("duration", elapsed), slog.String("error", s.failed.Error()))
		return
	}
	s.logger.Debug("span completed", slog.Duration("duration", elapsed))
}
