package attendance

import (
	"database/sql"
	"time"
)

// DB行に対応（スキャン用）
type attendanceRow struct {
	AttendanceID uint64
	StudentNo    string
	AttendedOn   string // DATE → "YYYY-MM-DD"
	TimeIn       time.Time
	TimeOut      sql.NullTime
	Note         sql.NullString
}

// Service ↔ Store で使うモデル
type Attendance struct {
	AttendanceID uint64
	StudentNo    string
	AttendedOn   string
	TimeIn       time.Time
	TimeOut      *time.Time
	Note         *string
}

func (r attendanceRow) toModel() Attendance {
	a := Attendance{
		AttendanceID: r.AttendanceID,
		StudentNo:    r.StudentNo,
		AttendedOn:   r.AttendedOn,
		TimeIn:       r.TimeIn.UTC(),
	}
	if r.TimeOut.Valid {
		t := r.TimeOut.Time.UTC()
		a.TimeOut = &t
	}
	if r.Note.Valid {
		n := r.Note.String
		a.Note = &n
	}
	return a
}

func (a Attendance) toDTO() AttendanceResponse {
	return AttendanceResponse{
		AttendanceID: a.AttendanceID,
		StudentNo:    a.StudentNo,
		AttendedOn:   a.AttendedOn,
		TimeIn:       a.TimeIn,
		TimeOut:      a.TimeOut,
		Note:         a.Note,
	}
}
