package audit

import (
	"context"
	"log/slog"
	"time"

	"LIBRIS-backend/internal/platform/requestctx"
)

// Recorder は業務処理から呼ばれる入口。書き込みは Worker に任せ、呼び出し側は待たない。
type Recorder struct {
	inbox chan Event
	log   *slog.Logger
	now   func() time.Time
}

func NewRecorder(buffer int, log *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{inbox: make(chan Event, buffer), log: log, now: time.Now}
}

// Record は操作者やクライアント情報を ctx から取り出して積む。
// キューが詰まっている場合は捨ててログに残す。
func (r *Recorder) Record(ctx context.Context, action, details string) {
	e := Event{
		Timestamp: r.now(),
		Action:    action,
		Details:   details,
		UserID:    requestctx.ActorFrom(ctx).UserID,
		Client:    requestctx.Client(ctx),
		RequestID: requestctx.RequestID(ctx),
	}
	select {
	case r.inbox <- e:
	default:
		r.log.WarnContext(ctx, "audit queue full, event dropped", "action", action, "details", details)
	}
}

// Inbox は Worker に渡す受信側
func (r *Recorder) Inbox() <-chan Event { return r.inbox }
