package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type requestIdKey struct{}

// WithRequestId tags a context with the scrape request it belongs to.
// Every slog call made under that context is relayed to the request's
// log sink, no explicit logger threading required.
func WithRequestId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIdKey{}, id)
}

func RequestIdFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIdKey{}).(string)
	return id, ok
}

// RelayHandler is a slog.Handler middleware: records pass through to
// the wrapped handler untouched, and records whose context carries a
// request id are additionally appended to that request's log sequence
// and forwarded to its live connection. Lines tagged with different
// request ids never cross.
type RelayHandler struct {
	inner    slog.Handler
	registry *Registry
	attrs    []slog.Attr
}

func NewRelayHandler(inner slog.Handler, registry *Registry) *RelayHandler {
	return &RelayHandler{inner: inner, registry: registry}
}

func (h *RelayHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *RelayHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.inner.Handle(ctx, record)

	id, ok := RequestIdFromContext(ctx)
	if !ok {
		return err
	}

	line := h.formatLine(record)
	if h.registry.AppendLog(id, line) {
		h.registry.Forward(id, Event{Type: "log", Data: line})
	}
	return err
}

func (h *RelayHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RelayHandler{
		inner:    h.inner.WithAttrs(attrs),
		registry: h.registry,
		attrs:    append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *RelayHandler) WithGroup(name string) slog.Handler {
	return &RelayHandler{
		inner:    h.inner.WithGroup(name),
		registry: h.registry,
		attrs:    h.attrs,
	}
}

// human-readable line matching what the web client renders in its log
// pane: timestamp, level, message, then any attributes
func (h *RelayHandler) formatLine(record slog.Record) string {
	var b strings.Builder
	b.WriteString(record.Time.Format("2006-01-02 15:04:05"))
	b.WriteString(" - ")
	b.WriteString(record.Level.String())
	b.WriteString(" - ")
	b.WriteString(record.Message)

	for _, attr := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
	}
	record.Attrs(func(attr slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", attr.Key, attr.Value)
		return true
	})
	return b.String()
}
