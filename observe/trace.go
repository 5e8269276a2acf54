// Package observe provides the per-document pipeline tracing used by the
// orchestrator (§5). One span tree per document ties every ingestion step
// together under a single trace, regardless of how many documents are
// in flight concurrently.
package observe

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the ingestion pipeline.
const tracerName = "github.com/kgraph-ai/harmonizer"

// Tracer returns the package-level Tracer, resolved against whatever
// TracerProvider the host registered globally (otel.SetTracerProvider).
// Hosts that never call that keep the no-op provider, so spans are free
// when tracing isn't configured.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartDocumentSpan starts the root span for one document's trip through
// runIngestion, tagging it with the document id so exported traces can be
// filtered per document.
func StartDocumentSpan(ctx context.Context, docID int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ingest.document", trace.WithAttributes(attribute.Int64("document_id", docID)))
}

// StartStep starts a child span for one named pipeline step (fetch+parse,
// embed-chunks, extract, ...). The caller must call span.End().
func StartStep(ctx context.Context, step string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ingest.step."+step)
}

// RecordError marks the span as failed and attaches the error, mirroring
// what withRetry already logs via slog so traces and logs agree.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID extracts the trace id from the active span in ctx, for
// correlating a logged HTTP request with its exported trace. Returns the
// empty string when no active span with a valid trace id exists (e.g. no
// TracerProvider configured).
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
