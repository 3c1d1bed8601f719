package harness

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// failureRecorder is a slog.Handler that keeps every error record carrying
// a "code" attribute and forwards all records to next.
type failureRecorder struct {
	next  slog.Handler
	attrs []slog.Attr
	sink  *failureSink
}

type failureSink struct {
	mu       sync.Mutex
	failures []Failure
}

func newFailureRecorder(w io.Writer) *failureRecorder {
	if w == nil {
		w = io.Discard
	}
	return &failureRecorder{
		next: slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		sink: &failureSink{},
	}
}

func (h *failureRecorder) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelError || h.next.Enabled(ctx, level)
}

func (h *failureRecorder) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		var f Failure
		visit := func(a slog.Attr) bool {
			switch a.Key {
			case "code":
				f.Code = a.Value.String()
			case "event":
				f.Event = a.Value.String()
			case "effect":
				f.Effect = a.Value.String()
			}
			return true
		}
		for _, a := range h.attrs {
			visit(a)
		}
		r.Attrs(visit)
		if f.Code != "" {
			h.sink.mu.Lock()
			h.sink.failures = append(h.sink.failures, f)
			h.sink.mu.Unlock()
		}
	}
	if h.next.Enabled(ctx, r.Level) {
		return h.next.Handle(ctx, r)
	}
	return nil
}

func (h *failureRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &failureRecorder{
		next:  h.next.WithAttrs(attrs),
		attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...),
		sink:  h.sink,
	}
}

func (h *failureRecorder) WithGroup(name string) slog.Handler {
	return &failureRecorder{next: h.next.WithGroup(name), attrs: h.attrs, sink: h.sink}
}

// Failures returns the recorded failures in log order.
func (h *failureRecorder) Failures() []Failure {
	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	return append([]Failure{}, h.sink.failures...)
}
