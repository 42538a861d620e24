package reports

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store は集計用の読み取り専用クエリ
type Store struct{ db *sqlx.DB }

func NewStore(db *sql.DB) *Store { return &Store{db: sqlx.NewDb(db, "mysql")} }

const loanSelect = `
SELECT b.borrow_id, b.student_no, st.first_name, st.last_name, b.title, b.isbn,
       b.accession_number, b.borrowed_at, b.due_on, b.returned_at, b.penalty
FROM borrows b
LEFT JOIN students st ON st.student_no = b.student_no`

func (s *Store) Loans(ctx context.Context, q loanQuery) ([]loanRow, error) {
	var (
		wheres []string
		args   []any
	)
	if q.StudentNo != "" {
		wheres = append(wheres, "b.student_no = ?")
		args = append(args, q.StudentNo)
	}
	switch {
	case q.OpenOnly:
		wheres = append(wheres, "b.returned_at IS NULL")
	case q.Closed:
		wheres = append(wheres, "b.returned_at IS NOT NULL")
	}
	if !q.Since.IsZero() {
		wheres = append(wheres, "b.borrowed_at >= ?")
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		wheres = append(wheres, "b.borrowed_at < ?")
		args = append(args, q.Until.UTC())
	}

	query := loanSelect
	if len(wheres) > 0 {
		query += " WHERE " + strings.Join(wheres, " AND ")
	}
	query += " ORDER BY b.due_on ASC, b.borrow_id ASC"

	var rows []loanRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) BorrowedBetween(ctx context.Context, since, until time.Time) ([]time.Time, error) {
	var out []time.Time
	err := s.db.SelectContext(ctx, &out,
		`SELECT borrowed_at FROM borrows WHERE borrowed_at >= ? AND borrowed_at < ?`,
		since.UTC(), until.UTC())
	return out, err
}

// ReturnsBetween の penalty は返却時に確定した値
func (s *Store) ReturnsBetween(ctx context.Context, since, until time.Time) ([]returnRow, error) {
	var out []returnRow
	err := s.db.SelectContext(ctx, &out,
		`SELECT returned_at, penalty FROM returns WHERE returned_at >= ? AND returned_at < ?`,
		since.UTC(), until.UTC())
	return out, err
}
