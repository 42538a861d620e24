package attendance

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"LIBRIS-backend/internal/platform/db"
)

type Store struct{ db db.DBTX }

func NewStore(conn db.DBTX) *Store { return &Store{db: conn} }

const attendanceColumns = `attendance_id, student_no, DATE_FORMAT(attended_on, '%Y-%m-%d') AS attended_on, time_in, time_out, note`

func scanAttendance(sc interface{ Scan(...any) error }) (Attendance, error) {
	var r attendanceRow
	if err := sc.Scan(&r.AttendanceID, &r.StudentNo, &r.AttendedOn, &r.TimeIn, &r.TimeOut, &r.Note); err != nil {
		return Attendance{}, err
	}
	return r.toModel(), nil
}

// CheckIn: student_no + attended_on（UNIQUE）でINSERT。既にあれば time_in は変えず note だけ更新。
// 返り値: 確定行、created=true（新規）/false（既存）
func (s *Store) CheckIn(ctx context.Context, studentNo, on string, at time.Time, note *string) (Attendance, bool, error) {
	// INSERT ... ON DUPLICATE KEY UPDATE
	// - 新規: RowsAffected = 1
	// - 既存更新: RowsAffected = 2（変化なしは 0）
	const q = `
	INSERT INTO attendances (student_no, attended_on, time_in, note)
	VALUES (?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
	note = COALESCE(VALUES(note), note)`

	res, err := s.db.ExecContext(ctx, q, studentNo, on, at.UTC(), noteOrNil(note))
	if err != nil {
		return Attendance{}, false, err
	}
	aff, _ := res.RowsAffected()
	created := aff == 1

	a, err := s.GetByDay(ctx, studentNo, on)
	if errors.Is(err, sql.ErrNoRows) {
		return Attendance{}, created, ErrServer("inserted but not found")
	}
	return a, created, err
}

// CheckOut: time_out が未設定の行だけ更新する。更新できたら true。
func (s *Store) CheckOut(ctx context.Context, studentNo, on string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
	UPDATE attendances SET time_out = ?
	WHERE student_no = ? AND attended_on = ? AND time_out IS NULL`,
		at.UTC(), studentNo, on,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) GetByDay(ctx context.Context, studentNo, on string) (Attendance, error) {
	return scanAttendance(s.db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendances WHERE student_no = ? AND attended_on = ?`,
		studentNo, on,
	))
}

// Exists: 指定学生が指定日(=on)に存在するか
func (s *Store) Exists(ctx context.Context, studentNo, on string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
	SELECT 1 FROM attendances
	WHERE student_no = ? AND attended_on = ? LIMIT 1`, studentNo, on,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete: 1行削除。存在しなければ false。
func (s *Store) Delete(ctx context.Context, id uint64) (Attendance, bool, error) {
	a, err := scanAttendance(s.db.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendances WHERE attendance_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attendance{}, false, nil
	}
	if err != nil {
		return Attendance{}, false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM attendances WHERE attendance_id = ?`, id)
	if err != nil {
		return Attendance{}, false, err
	}
	n, _ := res.RowsAffected()
	return a, n == 1, nil
}

// List: 条件に応じて動的WHERE + ORDER + LIMIT/OFFSET
// 日付は呼び出し側で検証済み（YYYY-MM-DD）
func (s *Store) List(ctx context.Context, q ListQuery) ([]Attendance, int64, error) {
	var (
		buf    bytes.Buffer
		args   []any
		wheres []string
	)

	buf.WriteString(`SELECT ` + attendanceColumns + ` FROM attendances`)
	if q.StudentNo != "" {
		wheres = append(wheres, "student_no = ?")
		args = append(args, q.StudentNo)
	}
	if q.On != "" {
		wheres = append(wheres, "attended_on = ?")
		args = append(args, q.On)
	} else {
		if q.From != "" {
			wheres = append(wheres, "attended_on >= ?")
			args = append(args, q.From)
		}
		if q.To != "" {
			wheres = append(wheres, "attended_on <= ?")
			args = append(args, q.To)
		}
	}
	if len(wheres) > 0 {
		buf.WriteString(" WHERE " + strings.Join(wheres, " AND "))
	}

	switch q.Sort {
	case SortTimeInAsc:
		buf.WriteString(" ORDER BY time_in ASC, attendance_id ASC")
	case SortAttendedOnDesc:
		buf.WriteString(" ORDER BY attended_on DESC, time_in DESC, attendance_id DESC")
	case SortAttendedOnAsc:
		buf.WriteString(" ORDER BY attended_on ASC, time_in ASC, attendance_id ASC")
	default:
		buf.WriteString(" ORDER BY time_in DESC, attendance_id DESC")
	}
	buf.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset))

	rows, err := s.db.QueryContext(ctx, buf.String(), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Attendance
	for rows.Next() {
		a, err := scanAttendance(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	// COUNT（ORDER BY より前までを再構築）
	cnt := "SELECT COUNT(*) FROM attendances"
	if len(wheres) > 0 {
		cnt += " WHERE " + strings.Join(wheres, " AND ")
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, cnt, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Stats: 期間の出席数を学生別合計（TOP N）
func (s *Store) Stats(ctx context.Context, from, to string, limit int) ([]StatsRow, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT student_no, COUNT(*) AS cnt
	FROM attendances
	WHERE attended_on BETWEEN ? AND ?
	GROUP BY student_no
	ORDER BY cnt DESC, student_no ASC
	LIMIT ?`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatsRow
	for rows.Next() {
		var row StatsRow
		if err := rows.Scan(&row.StudentNo, &row.Count); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ===== helpers =====

func noteOrNil(s *string) any {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return strings.TrimSpace(*s)
}
