package tracking

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "go-deferred"

func addDBStatsToSpan(span trace.Span, system, statement, messageID string, duration time.Duration) {
	span.SetAttributes(
		attribute.String("db.system", system),
		attribute.String("db.statement", statement),
		attribute.String("message.id", messageID),
		attribute.Float64("db.execution_time_ms", float64(duration.Milliseconds())),
	)
}
