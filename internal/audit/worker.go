package audit

import (
	"context"
	"log/slog"
	"time"
)

// Worker は Recorder に積まれた Event を各 Sink に書き出す。
// 書き込み失敗はログに出して次へ進む。
type Worker struct {
	sinks []Sink
	inbox <-chan Event
	log   *slog.Logger
}

func NewWorker(inbox <-chan Event, log *slog.Logger, sinks ...Sink) *Worker {
	return &Worker{sinks: sinks, inbox: inbox, log: log}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return nil
		case e := <-w.inbox:
			w.write(ctx, e)
		}
	}
}

// 停止時に残っている分を書き切る
func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-w.inbox:
			w.write(ctx, e)
		default:
			return
		}
	}
}

func (w *Worker) write(ctx context.Context, e Event) {
	for _, s := range w.sinks {
		if err := s.Append(ctx, e); err != nil {
			w.log.ErrorContext(ctx, "audit write failed", "action", e.Action, "err", err)
		}
	}
}
