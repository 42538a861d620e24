package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"LIBRIS-backend/internal/audit"
	"LIBRIS-backend/internal/platform/metrics"
)

// Reconciler は返却済みなのに返却記録が無い貸出を見つけて記録を補う。
// 在庫には触れない（在庫は返却時に戻し済み）。
// 管理者が消した返却記録は墓標があるので再作成しない。
type Reconciler struct {
	ledger   Ledger
	ids      IDGen
	audit    Auditor
	metrics  *metrics.Circulation
	log      *slog.Logger
	interval time.Duration
	batch    int
}

type ReconcilerConfig struct {
	Interval  time.Duration
	BatchSize int
}

func NewReconciler(svc *Service, cfg ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		ledger:   svc.ledger,
		ids:      svc.ids,
		audit:    svc.audit,
		metrics:  svc.metrics,
		log:      svc.log,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
	}
	if r.interval <= 0 {
		r.interval = 15 * time.Minute
	}
	if r.batch <= 0 {
		r.batch = 100
	}
	if r.metrics == nil {
		r.metrics = metrics.NewCirculation(prometheus.NewRegistry())
	}
	return r
}

// RunOnce は1バッチ分処理し、補った件数を返す
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.ledger.ListUnreconciled(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("list unreconciled: %w", err)
	}

	n := 0
	for i := range pending {
		b := &pending[i]
		rid, err := r.ids.New()
		if err != nil {
			return n, err
		}
		// 罰金は返却時に確定した値を使う
		ret := snapshotReturn(b, rid, b.ReturnedAt.Time, b.Penalty.Int64)
		ok, err := r.ledger.BackfillReturn(ctx, ret)
		if err != nil {
			return n, fmt.Errorf("backfill %s: %w", b.BorrowID, err)
		}
		if !ok {
			continue
		}
		n++
		r.metrics.Reconciled.Inc()
		r.log.InfoContext(ctx, "返却記録を補完", "borrow_id", b.BorrowID, "return_id", ret.ReturnID)
	}
	if n > 0 {
		r.audit.Record(ctx, audit.ActionReconcile, fmt.Sprintf("Back-filled %d return records", n))
	}
	return n, nil
}

// Run は ctx が終わるまで interval ごとに RunOnce を呼ぶ
func (r *Reconciler) Run(ctx context.Context) error {
	r.log.Info("reconciler started", "interval", r.interval.String(), "batch", r.batch)
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.ErrorContext(ctx, "reconcile failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
