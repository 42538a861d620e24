package circulation

import (
	"database/sql"
	"time"

	"LIBRIS-backend/internal/books"
)

// LoanPeriodDays は貸出日から返却期限までの日数
const LoanPeriodDays = 7

// Borrow は borrows テーブルの1行を表す。returned_at が NULL の間は貸出中。
type Borrow struct {
	BorrowID        string
	StudentNo       string
	BookIdentifier  sql.NullString
	ISBN            sql.NullString
	AccessionNumber sql.NullString
	Title           string
	BorrowedAt      time.Time
	DueOn           string // "YYYY-MM-DD"。旧データには壊れた値もある
	ReturnedAt      sql.NullTime
	Penalty         sql.NullInt64
}

func (b *Borrow) Closed() bool { return b.ReturnedAt.Valid }

// BookRef は返却時に在庫を戻す書籍行の識別子
func (b *Borrow) BookRef() (books.Ref, bool) {
	return books.ResolveRef(b.BookIdentifier.String, b.ISBN.String, b.AccessionNumber.String)
}

// ReturnRecord は returns テーブルの1行。返却時点の貸出情報のスナップショット。
type ReturnRecord struct {
	ReturnID        int64
	ReturnULID      string
	BorrowID        string
	StudentNo       string
	ISBN            sql.NullString
	AccessionNumber sql.NullString
	Title           string
	ReturnedAt      time.Time
	Penalty         int64
}

// snapshotReturn は返却記録を貸出行から組み立てる
func snapshotReturn(b *Borrow, returnULID string, at time.Time, amount int64) *ReturnRecord {
	return &ReturnRecord{
		ReturnULID:      returnULID,
		BorrowID:        b.BorrowID,
		StudentNo:       b.StudentNo,
		ISBN:            b.ISBN,
		AccessionNumber: b.AccessionNumber,
		Title:           b.Title,
		ReturnedAt:      at,
		Penalty:         amount,
	}
}

// ReturnKey は return_id（数値）か return_ulid のどちらか
type ReturnKey struct {
	ID   int64
	ULID string
}

// 貸出一覧の status 絞り込み
const (
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusOverdue = "overdue"
)

type BorrowFilter struct {
	StudentNo string
	// overdue は Store では open と同じ扱い。延滞の判定は Service が penalty.Engine で行う
	Status string
}

type ReturnFilter struct {
	StudentNo string
	BorrowID  string
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}
