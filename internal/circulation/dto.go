package circulation

import "time"

// 貸出登録リクエスト。identifier はスキャンした ISBN または蔵書番号。
type CreateBorrowRequest struct {
	StudentNo  string `json:"student_no" binding:"required"`
	Identifier string `json:"book_identifier" binding:"required"`
}

// 貸出レスポンス。penalty は返却済みなら確定値、貸出中なら現時点の値。
type BorrowResponse struct {
	BorrowID        string     `json:"borrow_id"`
	StudentNo       string     `json:"student_no"`
	BookIdentifier  *string    `json:"book_identifier,omitempty"`
	ISBN            *string    `json:"isbn,omitempty"`
	AccessionNumber *string    `json:"accession_number,omitempty"`
	Title           string     `json:"title"`
	BorrowedAt      time.Time  `json:"borrowed_at"`
	DueOn           string     `json:"due_on"`
	ReturnedAt      *time.Time `json:"returned_at,omitempty"`
	Status          string     `json:"status"`
	Penalty         int64      `json:"penalty"`
	DaysOverdue     int        `json:"days_overdue"`
	DateParseError  bool       `json:"date_parse_error,omitempty"`
}

type BorrowListResponse struct {
	Items      []BorrowResponse `json:"items"`
	Total      int64            `json:"total"`
	NextOffset *int             `json:"next_offset,omitempty"`
}

// 返却レスポンス
type ReturnResponse struct {
	ReturnID        int64     `json:"return_id"`
	ReturnULID      string    `json:"return_ulid"`
	BorrowID        string    `json:"borrow_id"`
	StudentNo       string    `json:"student_no"`
	ISBN            *string   `json:"isbn,omitempty"`
	AccessionNumber *string   `json:"accession_number,omitempty"`
	Title           string    `json:"title"`
	ReturnedAt      time.Time `json:"returned_at"`
	Penalty         int64     `json:"penalty"`
	ReceiptCode     string    `json:"receipt_code"`
}

type ReturnListResponse struct {
	Items      []ReturnResponse `json:"items"`
	Total      int64            `json:"total"`
	NextOffset *int             `json:"next_offset,omitempty"`
}

type ReceiptResponse struct {
	ReceiptCode string `json:"receipt_code"`
	SentTo      string `json:"sent_to"`
}

type ReconcileResponse struct {
	Backfilled int `json:"backfilled"`
}
