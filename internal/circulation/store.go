package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"LIBRIS-backend/internal/books"
	"LIBRIS-backend/internal/platform/db"
)

const borrowColumns = `borrow_id, student_no, book_identifier, isbn, accession_number, title, borrowed_at, due_on, returned_at, penalty`

const returnColumns = `return_id, return_ulid, borrow_id, student_no, isbn, accession_number, title, returned_at, penalty`

// Store は MySQL 上の Ledger 実装
type Store struct {
	db *sql.DB
}

var _ Ledger = (*Store)(nil)

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBorrow(r rowScanner) (*Borrow, error) {
	var b Borrow
	if err := r.Scan(
		&b.BorrowID, &b.StudentNo, &b.BookIdentifier, &b.ISBN, &b.AccessionNumber,
		&b.Title, &b.BorrowedAt, &b.DueOn, &b.ReturnedAt, &b.Penalty,
	); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanReturn(r rowScanner) (*ReturnRecord, error) {
	var m ReturnRecord
	if err := r.Scan(
		&m.ReturnID, &m.ReturnULID, &m.BorrowID, &m.StudentNo, &m.ISBN,
		&m.AccessionNumber, &m.Title, &m.ReturnedAt, &m.Penalty,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

// ---- Borrows ----

func (s *Store) GetBorrow(ctx context.Context, borrowID string) (*Borrow, error) {
	q := `SELECT ` + borrowColumns + ` FROM borrows WHERE borrow_id = ?`
	b, err := scanBorrow(s.db.QueryRowContext(ctx, q, borrowID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("borrow not found")
	}
	return b, err
}

func borrowWhere(f BorrowFilter) (string, []any) {
	var (
		wheres []string
		args   []any
	)
	if f.StudentNo != "" {
		wheres = append(wheres, "student_no = ?")
		args = append(args, f.StudentNo)
	}
	switch f.Status {
	case StatusOpen, StatusOverdue:
		wheres = append(wheres, "returned_at IS NULL")
	case StatusClosed:
		wheres = append(wheres, "returned_at IS NOT NULL")
	}
	if len(wheres) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wheres, " AND "), args
}

func (s *Store) ListBorrows(ctx context.Context, f BorrowFilter, p Page) ([]Borrow, int64, error) {
	where, args := borrowWhere(f)
	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	q := fmt.Sprintf(`SELECT %s FROM borrows%s ORDER BY borrowed_at %s, borrow_id %s LIMIT ? OFFSET ?`,
		borrowColumns, where, order, order)

	rows, err := s.db.QueryContext(ctx, q, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Borrow
	for rows.Next() {
		b, err := scanBorrow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM borrows`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ExecCreateBorrow handles the full transaction flow for opening a borrow
func (s *Store) ExecCreateBorrow(ctx context.Context, b *Borrow) error {
	ref, ok := b.BookRef()
	if !ok {
		return ErrValidation("book identifier is required")
	}
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		// 1. 書籍行ロック & 在庫 -1
		book, err := books.LockForLoan(ctx, tx, ref)
		switch {
		case errors.Is(err, books.ErrBookNotFound):
			return ErrNotFound("book not found")
		case errors.Is(err, books.ErrOutOfStock):
			return ErrConflict("no copies available")
		case err != nil:
			return err
		}
		b.ISBN = book.ISBN
		b.AccessionNumber = book.AccessionNumber
		b.Title = book.Title

		// 2. 貸出行
		const q = `
		INSERT INTO borrows
		(borrow_id, student_no, book_identifier, isbn, accession_number, title, borrowed_at, due_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, q,
			b.BorrowID, b.StudentNo, nullStrOrNil(b.BookIdentifier), nullStrOrNil(b.ISBN),
			nullStrOrNil(b.AccessionNumber), b.Title, b.BorrowedAt.UTC(), b.DueOn,
		)
		if db.IsDuplicateKey(err) {
			return ErrConflict("borrow_id already exists")
		}
		return err
	})
}

// ExecCloseBorrow handles the full transaction flow for a return
func (s *Store) ExecCloseBorrow(ctx context.Context, b *Borrow, ret *ReturnRecord) (bool, error) {
	var restocked bool
	err := db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		// 1. 返却確定。既に returned_at があれば 0 件
		const closeQ = `UPDATE borrows SET returned_at = ?, penalty = ? WHERE borrow_id = ? AND returned_at IS NULL`
		res, err := tx.ExecContext(ctx, closeQ, ret.ReturnedAt.UTC(), ret.Penalty, b.BorrowID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrAlreadyClosed()
		}

		// 2. 在庫 +1（書籍行が無くても返却自体は確定させる）
		if ref, ok := b.BookRef(); ok {
			if restocked, err = books.Restock(ctx, tx, ref); err != nil {
				return err
			}
		}

		// 3. 返却記録
		return insertReturn(ctx, tx, ret)
	})
	if err != nil {
		return false, err
	}
	return restocked, nil
}

func insertReturn(ctx context.Context, tx db.DBTX, ret *ReturnRecord) error {
	const q = `
	INSERT INTO returns
	(return_ulid, borrow_id, student_no, isbn, accession_number, title, returned_at, penalty)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q,
		ret.ReturnULID, ret.BorrowID, ret.StudentNo, nullStrOrNil(ret.ISBN),
		nullStrOrNil(ret.AccessionNumber), ret.Title, ret.ReturnedAt.UTC(), ret.Penalty,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ret.ReturnID = id
	return nil
}

// DeleteBorrow は貸出行だけを消す。在庫や返却記録には触れない。
func (s *Store) DeleteBorrow(ctx context.Context, borrowID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM borrows WHERE borrow_id = ?`, borrowID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound("borrow not found")
	}
	return nil
}

// ---- Returns ----

func (s *Store) GetReturn(ctx context.Context, key ReturnKey) (*ReturnRecord, error) {
	var (
		q   string
		arg any
	)
	if key.ULID != "" {
		q, arg = `SELECT `+returnColumns+` FROM returns WHERE return_ulid = ?`, key.ULID
	} else {
		q, arg = `SELECT `+returnColumns+` FROM returns WHERE return_id = ?`, key.ID
	}
	r, err := scanReturn(s.db.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound("return record not found")
	}
	return r, err
}

func (s *Store) ListReturns(ctx context.Context, f ReturnFilter, p Page) ([]ReturnRecord, int64, error) {
	var (
		wheres []string
		args   []any
	)
	if f.StudentNo != "" {
		wheres = append(wheres, "student_no = ?")
		args = append(args, f.StudentNo)
	}
	if f.BorrowID != "" {
		wheres = append(wheres, "borrow_id = ?")
		args = append(args, f.BorrowID)
	}
	where := ""
	if len(wheres) > 0 {
		where = " WHERE " + strings.Join(wheres, " AND ")
	}
	order := "DESC"
	if strings.ToLower(p.Order) == "asc" {
		order = "ASC"
	}
	q := fmt.Sprintf(`SELECT %s FROM returns%s ORDER BY returned_at %s, return_id %s LIMIT ? OFFSET ?`,
		returnColumns, where, order, order)

	rows, err := s.db.QueryContext(ctx, q, append(args, p.Limit, p.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []ReturnRecord
	for rows.Next() {
		r, err := scanReturn(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM returns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// ExecDeleteReturn は返却記録の削除と墓標の追加を同じトランザクションで行う。
// books / borrows は変更しない。
func (s *Store) ExecDeleteReturn(ctx context.Context, ret *ReturnRecord, deletedBy string, at time.Time) error {
	return db.RunInTx(ctx, s.db, nil, func(ctx context.Context, tx db.DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM returns WHERE return_id = ?`, ret.ReturnID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound("return record not found")
		}
		const tomb = `
		INSERT INTO return_deletions (borrow_id, return_ulid, deleted_at, deleted_by)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE deleted_at = VALUES(deleted_at)`
		_, err = tx.ExecContext(ctx, tomb, ret.BorrowID, ret.ReturnULID, at.UTC(), strOrNil(deletedBy))
		return err
	})
}

// ---- Reconciliation ----

func (s *Store) ListUnreconciled(ctx context.Context, limit int) ([]Borrow, error) {
	q := `
	SELECT ` + borrowColumns + `
	FROM borrows b
	WHERE b.returned_at IS NOT NULL
	  AND NOT EXISTS (SELECT 1 FROM returns r WHERE r.borrow_id = b.borrow_id)
	  AND NOT EXISTS (SELECT 1 FROM return_deletions d WHERE d.borrow_id = b.borrow_id)
	ORDER BY b.returned_at ASC
	LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Borrow
	for rows.Next() {
		b, err := scanBorrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// BackfillReturn は同じ貸出の返却記録・墓標が無い場合に限り追加する
func (s *Store) BackfillReturn(ctx context.Context, ret *ReturnRecord) (bool, error) {
	const q = `
	INSERT INTO returns
	(return_ulid, borrow_id, student_no, isbn, accession_number, title, returned_at, penalty)
	SELECT ?, ?, ?, ?, ?, ?, ?, ? FROM DUAL
	WHERE NOT EXISTS (SELECT 1 FROM returns WHERE borrow_id = ?)
	  AND NOT EXISTS (SELECT 1 FROM return_deletions WHERE borrow_id = ?)`
	res, err := s.db.ExecContext(ctx, q,
		ret.ReturnULID, ret.BorrowID, ret.StudentNo, nullStrOrNil(ret.ISBN),
		nullStrOrNil(ret.AccessionNumber), ret.Title, ret.ReturnedAt.UTC(), ret.Penalty,
		ret.BorrowID, ret.BorrowID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	id, _ := res.LastInsertId()
	ret.ReturnID = id
	return true, nil
}

// ---- helpers ----

func nullStrOrNil(ns sql.NullString) any {
	if ns.Valid {
		return ns.String
	}
	return nil
}

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
