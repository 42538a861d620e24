// Package logging は slog のロガーを組み立てる。
// release は JSON、dev はテキスト。Rollbar のトークンがあれば ERROR 以上を転送する。
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/rollbar/rollbar-go"

	"LIBRIS-backend/internal/platform/config"
	"LIBRIS-backend/internal/platform/requestctx"
)

func New(cfg *config.Config) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg *config.Config, w io.Writer) *slog.Logger {
	var h slog.Handler
	if cfg.Mode == config.ModeRelease {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	h = contextHandler{Handler: h}

	if cfg.Rollbar.Token != "" {
		rollbar.SetToken(cfg.Rollbar.Token)
		rollbar.SetEnvironment(cfg.Rollbar.Environment)
		rollbar.SetCodeVersion(cfg.Version)
		h = &rollbarHandler{Handler: h, report: func(args ...interface{}) { rollbar.Error(args...) }}
	}
	return slog.New(h)
}

// Close flushes pending Rollbar items.
func Close() {
	rollbar.Close()
}

// contextHandler はリクエストIDと操作ユーザーを全ログに付与する
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := requestctx.RequestID(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if a := requestctx.ActorFrom(ctx); !a.IsZero() {
		r.AddAttrs(slog.String("user_id", a.UserID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{Handler: h.Handler.WithGroup(name)}
}

type rollbarHandler struct {
	slog.Handler
	attrs  []slog.Attr
	report func(args ...interface{})
}

func (h *rollbarHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		extras := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
		var cause error
		collect := func(a slog.Attr) bool {
			if e, ok := a.Value.Any().(error); ok {
				cause = e
			}
			extras[a.Key] = a.Value.String()
			return true
		}
		for _, a := range h.attrs {
			collect(a)
		}
		r.Attrs(collect)
		if id := requestctx.RequestID(ctx); id != "" {
			extras["request_id"] = id
		}

		args := []interface{}{r.Message, extras}
		if cause != nil {
			args = append(args, cause)
		}
		h.report(args...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *rollbarHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &rollbarHandler{Handler: h.Handler.WithAttrs(attrs), attrs: merged, report: h.report}
}

func (h *rollbarHandler) WithGroup(name string) slog.Handler {
	return &rollbarHandler{Handler: h.Handler.WithGroup(name), attrs: h.attrs, report: h.report}
}

// Discard はテスト用の何も出力しないロガー
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
