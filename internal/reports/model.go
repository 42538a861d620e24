package reports

import (
	"database/sql"
	"strings"
	"time"
)

// loanRow は borrows に students を LEFT JOIN した1行
type loanRow struct {
	BorrowID        string         `db:"borrow_id"`
	StudentNo       string         `db:"student_no"`
	FirstName       sql.NullString `db:"first_name"`
	LastName        sql.NullString `db:"last_name"`
	Title           string         `db:"title"`
	ISBN            sql.NullString `db:"isbn"`
	AccessionNumber sql.NullString `db:"accession_number"`
	BorrowedAt      time.Time      `db:"borrowed_at"`
	DueOn           string         `db:"due_on"`
	ReturnedAt      sql.NullTime   `db:"returned_at"`
	Penalty         sql.NullInt64  `db:"penalty"`
}

func (r *loanRow) studentName() string {
	return strings.TrimSpace(r.FirstName.String + " " + r.LastName.String)
}

type returnRow struct {
	ReturnedAt time.Time `db:"returned_at"`
	Penalty    int64     `db:"penalty"`
}

// 一覧の status 絞り込み
const (
	StatusAll     = "all"
	StatusOpen    = "open"
	StatusClosed  = "closed"
	StatusOverdue = "overdue"
)

type LoanFilter struct {
	Status    string
	StudentNo string
	From      string // 貸出日（図書館タイムゾーン, YYYY-MM-DD）
	To        string
}

// loanQuery は store に渡す検索条件（時刻は UTC の半開区間）
type loanQuery struct {
	StudentNo string
	OpenOnly  bool
	Closed    bool
	Since     time.Time
	Until     time.Time
}
