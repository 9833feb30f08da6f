package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
)

const (
	payloadLogLimit = 200
	slowAfter       = 100 * time.Millisecond
)

// Handler answers one message.
type Handler func(ctx context.Context, msg models.Message) models.Response

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// longRunning lists message types that wait on the assistant or a browser
// tab and are never reported as slow.
var longRunning = map[models.MessageType]bool{
	models.MsgProxyPrompt: true,
	models.MsgFetchJobs:   true,
}

// LoggingMiddleware logs every message once it has been answered. Failures
// go to ERROR, slow answers to WARN and the rest to DEBUG.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg models.Message) models.Response {
			start := time.Now()
			resp := next(ctx, msg)
			elapsed := time.Since(start)

			attrs := make([]slog.Attr, 0, 5)
			attrs = append(attrs,
				slog.String("type", string(msg.Type)),
				slog.Int64("duration_ms", elapsed.Milliseconds()),
			)
			if msg.TabID != "" {
				attrs = append(attrs, slog.String("tab_id", string(msg.TabID)))
			}
			if len(msg.Payload) > 0 {
				attrs = append(attrs, slog.String("payload", truncate(string(msg.Payload), payloadLogLimit)))
			}

			level, text := slog.LevelDebug, "message handled"
			switch {
			case !resp.Success:
				level, text = slog.LevelError, "message failed"
				attrs = append(attrs, slog.String("error", resp.Error))
			case elapsed > slowAfter && !longRunning[msg.Type]:
				level, text = slog.LevelWarn, "slow message"
			}
			logger.LogAttrs(ctx, level, text, attrs...)
			return resp
		}
	}
}

// truncate cuts s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
