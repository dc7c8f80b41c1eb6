package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-healthchecks/internal/xerrors"
)

func jsonLogger(t *testing.T, opts Options) (*slogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts.Writer = &buf
	opts.JsonFormat = true
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger), &buf
}

// lastRecord decodes the final JSON line written to buf.
func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &m); err != nil {
		t.Fatalf("decode %q: %v", lines[len(lines)-1], err)
	}
	return m
}

func TestNewSlog_Defaults(t *testing.T) {
	l, err := newSlog(Options{App: "x"})
	if err != nil {
		t.Fatal(err)
	}
	s := l.(*slogLogger)
	if s.maxErrorLinks != defaultMaxErrorLinks {
		t.Fatalf("maxErrorLinks = %d", s.maxErrorLinks)
	}
	if sh, ok := s.h.(stackHandler); !ok || sh.level != slog.LevelError {
		t.Fatalf("handler chain = %T", s.h)
	}
}

func TestNewSlog_BuildAttrs(t *testing.T) {
	l, buf := jsonLogger(t, Options{App: "linnemanlabs-healthchecks", Component: "healthctl", Version: "v1.4.0", Commit: "abc123"})
	l.Info(context.Background(), "probes registered", "count", 3)
	rec := lastRecord(t, buf)

	want := map[string]any{
		"app": "linnemanlabs-healthchecks", "component": "healthctl", "version": "v1.4.0",
		"commit": "abc123", "msg": "probes registered", "count": float64(3), "level": "INFO",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s = %v, want %v", k, rec[k], v)
		}
	}
	if _, ok := rec["build_id"]; ok {
		t.Error("empty build_id should be omitted")
	}
	src, _ := rec["source"].(map[string]any)
	if file, _ := src["file"].(string); !strings.HasSuffix(file, "slog_test.go") {
		t.Errorf("source = %v, want the calling test file", rec["source"])
	}
}

func TestNewSlog_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, _ := newSlog(Options{App: "svc", Writer: &buf})
	l.Info(context.Background(), "hello", "probe", "Redis")
	if out := buf.String(); !strings.Contains(out, "msg=hello") || !strings.Contains(out, "probe=Redis") {
		t.Fatalf("text output = %q", out)
	}
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	l, buf := jsonLogger(t, Options{Level: slog.LevelWarn})
	ctx := context.Background()
	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	if buf.Len() != 0 {
		t.Fatalf("below-level records written: %s", buf)
	}
	l.Warn(ctx, "w")
	l.Error(ctx, nil, "e")
	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Fatalf("wrote %d records, want 2", n)
	}
}

func TestSlogLogger_With(t *testing.T) {
	base, buf := jsonLogger(t, Options{App: "svc", IncludeErrorLinks: true})
	probe := base.With("probe", "Key Vault", 7, "dropped", "dangling")
	other := base.With("probe", "Redis")

	probe.Info(context.Background(), "probe finished")
	rec := lastRecord(t, buf)
	if rec["probe"] != "Key Vault" || rec["app"] != "svc" {
		t.Fatalf("record = %v", rec)
	}
	if _, ok := rec["dangling"]; ok {
		t.Fatal("odd trailing key should be dropped")
	}

	other.Info(context.Background(), "probe finished")
	if rec := lastRecord(t, buf); rec["probe"] != "Redis" {
		t.Fatalf("sibling logger leaked attrs: %v", rec)
	}
	if p := probe.(*slogLogger); !p.includeErrorLinks || p.maxErrorLinks != base.maxErrorLinks {
		t.Fatal("With should keep error settings")
	}
}

func TestSlogLogger_Error(t *testing.T) {
	l, buf := jsonLogger(t, Options{IncludeErrorLinks: true})
	root := &probeErr{dep: "Redis"}
	err := xerrors.Wrap(fmt.Errorf("dial: %w", root), "probe failed")

	l.Error(context.Background(), err, "dependency unhealthy", "probe", "Redis")
	rec := lastRecord(t, buf)

	if rec["err"] != "probe failed: dial: redis unreachable" {
		t.Errorf("err = %v", rec["err"])
	}
	if rec["error_type"] != "*log.probeErr" || rec["cause_type"] != "*log.probeErr" {
		t.Errorf("types = %v / %v", rec["error_type"], rec["cause_type"])
	}
	chain, _ := rec["error_chain"].([]any)
	if len(chain) != 3 {
		t.Errorf("error_chain = %v", rec["error_chain"])
	}
	links, _ := rec["error_links"].([]any)
	if len(links) == 0 {
		t.Fatal("error_links missing")
	}
	first, _ := links[0].(map[string]any)
	if fn, _ := first["func"].(string); !strings.Contains(fn, "TestSlogLogger_Error") {
		t.Errorf("first link func = %v", first["func"])
	}
	if s, _ := rec["stack"].(string); s == "" {
		t.Error("error records carry a stack")
	}
	if rec["probe"] != "Redis" {
		t.Error("caller kv lost")
	}
}

func TestSlogLogger_ErrorNil(t *testing.T) {
	l, buf := jsonLogger(t, Options{})
	l.Error(context.Background(), nil, "no error")
	rec := lastRecord(t, buf)
	for _, k := range []string{"err", "error_type", "error_chain"} {
		if _, ok := rec[k]; ok {
			t.Errorf("%s present for nil error", k)
		}
	}
}

type probeErr struct{ dep string }

func (e *probeErr) Error() string { return strings.ToLower(e.dep) + " unreachable" }

func TestTraceHandler(t *testing.T) {
	l, buf := jsonLogger(t, Options{})
	tid, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	sid, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled,
	}))

	l.Info(ctx, "in span")
	rec := lastRecord(t, buf)
	if rec["trace_id"] != tid.String() || rec["span_id"] != sid.String() {
		t.Fatalf("trace fields = %v %v", rec["trace_id"], rec["span_id"])
	}

	l.Info(context.Background(), "no span")
	if _, ok := lastRecord(t, buf)["trace_id"]; ok {
		t.Fatal("trace_id without a span")
	}
}

func TestStackHandler(t *testing.T) {
	l, buf := jsonLogger(t, Options{Level: slog.LevelDebug, StacktraceLevel: slog.LevelWarn})
	ctx := context.Background()

	l.Info(ctx, "quiet")
	if _, ok := lastRecord(t, buf)["stack"]; ok {
		t.Fatal("stack below threshold")
	}

	l.Warn(ctx, "loud")
	s, _ := lastRecord(t, buf)["stack"].(string)
	if s == "" || strings.Contains(s, "(*slogLogger)") {
		t.Fatalf("call-site stack = %q", s)
	}

	err := stackedHere()
	l.Error(ctx, err, "from error")
	s, _ = lastRecord(t, buf)["stack"].(string)
	if want := renderFrames(err.(hasStack).StackPCs()); s != want {
		t.Fatalf("stack should come from the error:\n%s\nwant:\n%s", s, want)
	}
}

func stackedHere() error { return xerrors.New("captured") }

func TestErrorChain(t *testing.T) {
	a := errors.New("redis: timeout")
	b := errors.New("sql: login failed")
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"nil", nil, nil},
		{"single", a, []string{"redis: timeout"}},
		{"dedup stack wrapper", xerrors.WithStack(a), []string{"redis: timeout"}},
		{"wrapped", fmt.Errorf("probe: %w", a), []string{"probe: redis: timeout", "redis: timeout"}},
		{"joined", xerrors.Join(a, b), []string{"redis: timeout\nsql: login failed", "redis: timeout", "sql: login failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errorChain(tt.err)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("chain = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChainLinks(t *testing.T) {
	err := xerrors.Wrap(xerrors.Wrap(xerrors.Wrap(errors.New("root"), "a"), "b"), "c")
	if n := len(chainLinks(err, 2)); n != 2 {
		t.Fatalf("max 2 gave %d links", n)
	}
	// the bare root has no position and is dropped
	if n := len(chainLinks(err, 0)); n != 3 {
		t.Fatalf("unbounded gave %d links", n)
	}
	if links := chainLinks(errors.New("plain"), 8); len(links) != 1 || links[0]["func"] != nil {
		t.Fatalf("plain error links = %v", links)
	}
	if chainLinks(nil, 8) != nil {
		t.Fatal("nil error should have no links")
	}
}

func TestClassifyTypes(t *testing.T) {
	if s, r := classifyTypes(nil); s != "" || r != "" {
		t.Fatal("nil error")
	}
	s, r := classifyTypes(xerrors.WithStack(fmt.Errorf("x: %w", errors.New("y"))))
	if s != "*errors.errorString" || r != "*errors.errorString" {
		t.Fatalf("surface=%s root=%s", s, r)
	}
}

func TestFrameHelpers(t *testing.T) {
	if _, ok := frameAt(0); ok {
		t.Fatal("zero pc")
	}
	if _, ok := firstCallerFrame(nil); ok {
		t.Fatal("empty pcs")
	}
	if !internal("log/slog.(*Logger).Info", false) || internal("main.main", true) {
		t.Fatal("internal classification")
	}
}
