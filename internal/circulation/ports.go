package circulation

import (
	"context"
	"time"

	"LIBRIS-backend/internal/notify"
	"LIBRIS-backend/internal/students"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Notifier,Auditor,StudentDirectory

// Ledger は貸出・返却の永続化。複数行にまたがる更新は1トランザクションで行う。
type Ledger interface {
	GetBorrow(ctx context.Context, borrowID string) (*Borrow, error)
	ListBorrows(ctx context.Context, f BorrowFilter, p Page) ([]Borrow, int64, error)
	// ExecCreateBorrow は在庫確保（-1）と貸出行の追加を行い、書籍情報を b に書き戻す
	ExecCreateBorrow(ctx context.Context, b *Borrow) error
	// ExecCloseBorrow は返却確定・在庫+1・返却記録追加を行う。
	// 書籍行が見つからなかった場合 restocked=false で確定する。
	ExecCloseBorrow(ctx context.Context, b *Borrow, ret *ReturnRecord) (restocked bool, err error)
	DeleteBorrow(ctx context.Context, borrowID string) error

	GetReturn(ctx context.Context, key ReturnKey) (*ReturnRecord, error)
	ListReturns(ctx context.Context, f ReturnFilter, p Page) ([]ReturnRecord, int64, error)
	// ExecDeleteReturn は返却記録を消し、照合処理が再作成しないよう墓標を残す
	ExecDeleteReturn(ctx context.Context, ret *ReturnRecord, deletedBy string, at time.Time) error

	// ListUnreconciled は返却済みなのに返却記録も墓標もない貸出を返す
	ListUnreconciled(ctx context.Context, limit int) ([]Borrow, error)
	// BackfillReturn は返却記録がまだ無い場合だけ追加する
	BackfillReturn(ctx context.Context, ret *ReturnRecord) (bool, error)
}

type StudentDirectory interface {
	Lookup(ctx context.Context, studentNo string) (*students.Student, error)
}

type Notifier interface {
	BorrowReceipt(ctx context.Context, r notify.BorrowReceipt) error
	ReturnReceipt(ctx context.Context, r notify.ReturnReceipt) error
}

// Auditor は操作ログの書き込み。失敗しても呼び出し側には返さない。
type Auditor interface {
	Record(ctx context.Context, action, details string)
}
