package attendance

import "time"

const (
	SortTimeInDesc     = "time_in_desc"
	SortTimeInAsc      = "time_in_asc"
	SortAttendedOnDesc = "attended_on_desc"
	SortAttendedOnAsc  = "attended_on_asc"
	DefaultPageLimit   = 50
	MaxPageLimit       = 200
	DefaultSort        = SortTimeInDesc
	DateLayout         = "2006-01-02"
)

type CheckInRequest struct {
	StudentNo string  `json:"student_no" binding:"required,student_no"`
	Note      *string `json:"note,omitempty"`
}

type CheckOutRequest struct {
	StudentNo string `json:"student_no" binding:"required,student_no"`
}

type AttendanceResponse struct {
	AttendanceID uint64     `json:"attendance_id"`
	StudentNo    string     `json:"student_no"`
	AttendedOn   string     `json:"attended_on"` // YYYY-MM-DD（図書館タイムゾーン）
	TimeIn       time.Time  `json:"time_in"`
	TimeOut      *time.Time `json:"time_out,omitempty"`
	Note         *string    `json:"note,omitempty"`
}

type AttendanceListResponse struct {
	Items      []AttendanceResponse `json:"items"`
	Total      int64                `json:"total"`
	NextOffset *int                 `json:"next_offset,omitempty"`
}

type ListQuery struct {
	StudentNo string
	On        string // YYYY-MM-DD or "today"
	From      string
	To        string
	Limit     int
	Offset    int
	Sort      string
}

type StatsRequest struct {
	From  string // YYYY-MM-DD
	To    string // YYYY-MM-DD
	Limit int
}

type StatsRow struct {
	StudentNo string `json:"student_no"`
	Count     int64  `json:"count"`
}
