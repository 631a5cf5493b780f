package httpmw

import (
	"context"
	"sync"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
)

type entry struct {
	level string
	msg   string
	err   error
	kv    []any
}

// recLogger records every call, fields from With included, in a shared sink.
type recLogger struct {
	mu      *sync.Mutex
	entries *[]entry
	fields  []any
}

func newRecLogger() *recLogger {
	return &recLogger{mu: &sync.Mutex{}, entries: &[]entry{}}
}

func (l *recLogger) With(kv ...any) log.Logger {
	cp := *l
	cp.fields = append(append([]any{}, l.fields...), kv...)
	return &cp
}

func (l *recLogger) add(level string, err error, msg string, kv []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, entry{level: level, msg: msg, err: err, kv: append(append([]any{}, l.fields...), kv...)})
}

func (l *recLogger) Debug(_ context.Context, msg string, kv ...any) { l.add("debug", nil, msg, kv) }
func (l *recLogger) Info(_ context.Context, msg string, kv ...any)  { l.add("info", nil, msg, kv) }
func (l *recLogger) Warn(_ context.Context, msg string, kv ...any)  { l.add("warn", nil, msg, kv) }
func (l *recLogger) Error(_ context.Context, err error, msg string, kv ...any) {
	l.add("error", err, msg, kv)
}
func (l *recLogger) Sync() error { return nil }

func (l *recLogger) all() []entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]entry{}, *l.entries...)
}

func (l *recLogger) last(t *testing.T) entry {
	t.Helper()
	es := l.all()
	if len(es) == 0 {
		t.Fatal("no log entries")
	}
	return es[len(es)-1]
}

// field returns the last value logged under key.
func (e entry) field(key string) (any, bool) {
	var (
		v  any
		ok bool
	)
	for i := 0; i+1 < len(e.kv); i += 2 {
		if e.kv[i] == key {
			v, ok = e.kv[i+1], true
		}
	}
	return v, ok
}

// recordingContext starts a recording span and returns its context.
func recordingContext(t *testing.T) (context.Context, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, _ := tp.Tracer("test").Start(context.Background(), "http.server")
	return ctx, sr
}
