package httpmw

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "linnemanlabs/healthchecks/httpmw"

// recordingWriter captures status and size for the access log and times the
// write phase of the response in a child span. For /health the handler body
// runs every probe before the first byte, so the span separates probe time
// from client time.
type recordingWriter struct {
	http.ResponseWriter
	status int
	bytes  int64

	ctx     context.Context
	started time.Time

	span     trace.Span
	spanOnce bool
	blocked  time.Duration
	firstErr error
}

func newRecordingWriter(w http.ResponseWriter, r *http.Request, start time.Time) *recordingWriter {
	return &recordingWriter{ResponseWriter: w, ctx: r.Context(), started: start}
}

// code reports the status sent, 200 if the handler never set one.
func (rw *recordingWriter) code() int {
	if rw.status == 0 {
		return http.StatusOK
	}
	return rw.status
}

func (rw *recordingWriter) beginWrite() {
	if rw.spanOnce {
		return
	}
	rw.spanOnce = true

	parent := trace.SpanFromContext(rw.ctx)
	if !parent.IsRecording() {
		return
	}
	// same provider as the request span
	_, rw.span = parent.TracerProvider().Tracer(tracerName).Start(rw.ctx, "response.write",
		trace.WithAttributes(attribute.Float64("http.server.ttfb_seconds", time.Since(rw.started).Seconds())),
	)
}

func (rw *recordingWriter) endWrite() {
	if rw.span == nil {
		return
	}
	rw.span.SetAttributes(
		attribute.Int("http.response.status_code", rw.code()),
		attribute.Int64("http.response.body.size", rw.bytes),
		attribute.Float64("http.server.write.block_seconds", rw.blocked.Seconds()),
	)
	if rw.firstErr != nil {
		rw.span.RecordError(rw.firstErr)
		rw.span.SetStatus(codes.Error, rw.firstErr.Error())
	}
	rw.span.End()
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.beginWrite()
	if rw.status == 0 {
		rw.status = code
	}
	t := time.Now()
	rw.ResponseWriter.WriteHeader(code)
	rw.blocked += time.Since(t)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	rw.beginWrite()
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	t := time.Now()
	n, err := rw.ResponseWriter.Write(b)
	rw.blocked += time.Since(t)
	rw.bytes += int64(n)
	if err != nil && rw.firstErr == nil {
		rw.firstErr = err
	}
	return n, err
}

func (rw *recordingWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *recordingWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
