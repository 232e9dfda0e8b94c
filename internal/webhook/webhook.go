// Package webhook delivers >=WARNING log records to external alert sinks
// (Slack/Discord), per spec §7. Formatting each service's payload body is an
// explicit non-goal (spec.md §1/§5) — Sink only prescribes author/level/text.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Sink delivers one structured alert. Implementations must not block the
// logging call site for long; HTTPSink applies its own short timeout.
type Sink interface {
	Send(ctx context.Context, author, level, text string) error
}

// HTTPSink POSTs a minimal JSON body to a webhook URL (Slack/Discord both
// accept `{"text": "..."}`-shaped payloads for simple alerts).
type HTTPSink struct {
	URL    string
	Client *http.Client
}

// NewHTTPSink returns a Sink posting to url with a 5s client timeout.
func NewHTTPSink(url string) *HTTPSink {
	return &HTTPSink{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (h *HTTPSink) Send(ctx context.Context, author, level, text string) error {
	body, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("[%s] %s: %s", level, author, text),
	})
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()
	return nil
}

// Handler wraps an slog.Handler and additionally forwards records at
// slog.LevelWarn or above to every configured Sink.
type Handler struct {
	next   slog.Handler
	author string
	sinks  []Sink
}

// NewHandler wraps next, tagging forwarded alerts with author (the daemon's
// own address) and fanning out to sinks.
func NewHandler(next slog.Handler, author string, sinks ...Sink) *Handler {
	return &Handler{next: next, author: author, sinks: sinks}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelWarn {
		for _, sink := range h.sinks {
			go func(s Sink) {
				sendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = s.Send(sendCtx, h.author, record.Level.String(), record.Message)
			}(sink)
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(attrs), author: h.author, sinks: h.sinks}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name), author: h.author, sinks: h.sinks}
}
