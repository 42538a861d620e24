package reports

import "time"

type LoanReportRow struct {
	BorrowID        string     `json:"borrow_id"`
	StudentNo       string     `json:"student_no"`
	StudentName     string     `json:"student_name,omitempty"`
	Title           string     `json:"title"`
	ISBN            *string    `json:"isbn,omitempty"`
	AccessionNumber *string    `json:"accession_number,omitempty"`
	BorrowedAt      time.Time  `json:"borrowed_at"`
	DueOn           string     `json:"due_on"`
	ReturnedAt      *time.Time `json:"returned_at,omitempty"`
	Status          string     `json:"status"`
	DaysOverdue     int        `json:"days_overdue"`
	Penalty         int64      `json:"penalty"`
	DateParseError  bool       `json:"date_parse_error,omitempty"`
}

// LoanReport の total_penalty は rows[].penalty の合計と必ず一致する
type LoanReport struct {
	AsOf                string          `json:"as_of"`
	Rows                []LoanReportRow `json:"rows"`
	Count               int             `json:"count"`
	TotalPenalty        int64           `json:"total_penalty"`
	DataQualityWarnings int             `json:"data_quality_warnings"`
}

type SummaryDay struct {
	Date               string `json:"date"`
	Borrows            int    `json:"borrows"`
	Returns            int    `json:"returns"`
	PenaltiesCollected int64  `json:"penalties_collected"`
}

type SummaryReport struct {
	From                    string       `json:"from"`
	To                      string       `json:"to"`
	Days                    []SummaryDay `json:"days"`
	TotalBorrows            int          `json:"total_borrows"`
	TotalReturns            int          `json:"total_returns"`
	TotalPenaltiesCollected int64        `json:"total_penalties_collected"`
}
