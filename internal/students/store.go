package students

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"LIBRIS-backend/internal/platform/db"
)

const studentColumns = `student_no, first_name, last_name, program, year, section, image_path, email, created_at`

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Insert(ctx context.Context, st *Student) error {
	const q = `
	INSERT INTO students (student_no, first_name, last_name, program, year, section, image_path, email, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		st.StudentNo, st.FirstName, st.LastName,
		nullStrOrNil(st.Program), nullStrOrNil(st.Year), nullStrOrNil(st.Section),
		nullStrOrNil(st.ImagePath), nullStrOrNil(st.Email), st.CreatedAt,
	)
	if db.IsDuplicateKey(err) {
		return ErrConflict("student_no already exists")
	}
	return err
}

// Lookup は学籍番号で1件取得する。Directory の実装。
func (s *Store) Lookup(ctx context.Context, studentNo string) (*Student, error) {
	q := `SELECT ` + studentColumns + ` FROM students WHERE student_no = ?`
	var st Student
	err := s.db.QueryRowContext(ctx, q, studentNo).Scan(
		&st.StudentNo, &st.FirstName, &st.LastName, &st.Program, &st.Year,
		&st.Section, &st.ImagePath, &st.Email, &st.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("student not found")
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) List(ctx context.Context, f Filter, p Page) ([]Student, int64, error) {
	var (
		wheres []string
		args   []any
	)
	if q := strings.TrimSpace(f.Q); q != "" {
		wheres = append(wheres, "(student_no LIKE ? OR first_name LIKE ? OR last_name LIKE ?)")
		like := "%" + q + "%"
		args = append(args, like, like, like)
	}
	if f.Program != "" {
		wheres = append(wheres, "program = ?")
		args = append(args, f.Program)
	}
	where := ""
	if len(wheres) > 0 {
		where = " WHERE " + strings.Join(wheres, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+studentColumns+` FROM students`+where+` ORDER BY last_name, first_name, student_no LIMIT ? OFFSET ?`,
		append(args, p.Limit, p.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Student
	for rows.Next() {
		var st Student
		if err := rows.Scan(
			&st.StudentNo, &st.FirstName, &st.LastName, &st.Program, &st.Year,
			&st.Section, &st.ImagePath, &st.Email, &st.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
