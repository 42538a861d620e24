package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"LIBRIS-backend/internal/platform/db"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Insert(ctx context.Context, b *Book) error {
	const q = `
	INSERT INTO books (isbn, accession_number, title, author, quantity, thumbnail, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		nullStrOrNil(b.ISBN), nullStrOrNil(b.AccessionNumber), b.Title,
		nullStrOrNil(b.Author), b.Quantity, nullStrOrNil(b.Thumbnail), b.CreatedAt,
	)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return ErrConflict("isbn or accession_number already exists")
		}
		return err
	}
	id, _ := res.LastInsertId()
	b.BookID = uint64(id)
	return nil
}

func (s *Store) Get(ctx context.Context, id uint64) (*Book, error) {
	q := `SELECT ` + bookColumns + ` FROM books WHERE book_id = ?`
	b, err := scanBook(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("book not found")
	}
	return b, err
}

func (s *Store) GetByRef(ctx context.Context, ref Ref) (*Book, error) {
	cond, args := ref.where()
	q := `SELECT ` + bookColumns + ` FROM books WHERE ` + cond + ` LIMIT 1`
	b, err := scanBook(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("book not found")
	}
	return b, err
}

func (s *Store) List(ctx context.Context, f Filter, p Page) ([]Book, int64, error) {
	where := strings.Builder{}
	where.WriteString(` WHERE 1=1`)
	args := []any{}
	if q := strings.TrimSpace(f.Q); q != "" {
		where.WriteString(` AND (title LIKE ? OR author LIKE ?)`)
		like := "%" + q + "%"
		args = append(args, like, like)
	}
	if f.InStock {
		where.WriteString(` AND quantity > 0`)
	}

	order := "ASC"
	if strings.ToLower(p.Order) == "desc" {
		order = "DESC"
	}
	q := fmt.Sprintf(`SELECT %s FROM books%s ORDER BY title %s, book_id %s LIMIT ? OFFSET ?`,
		bookColumns, where.String(), order, order)

	rows, err := s.db.QueryContext(ctx, q, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`+where.String(), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Update は指定列のみ更新する（COALESCE で nil は据え置き）
func (s *Store) Update(ctx context.Context, id uint64, in UpdateBookRequest) error {
	const q = `
	UPDATE books SET
		title     = COALESCE(?, title),
		author    = COALESCE(?, author),
		quantity  = COALESCE(?, quantity),
		thumbnail = COALESCE(?, thumbnail)
	WHERE book_id = ?`
	res, err := s.db.ExecContext(ctx, q, in.Title, in.Author, in.Quantity, in.Thumbnail, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// 値が同じで 0 件のケースもあるので存在確認する
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}
