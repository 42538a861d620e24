package books

import (
	"context"
	"database/sql"
	"errors"

	"LIBRIS-backend/internal/platform/db"
)

const bookColumns = `book_id, isbn, accession_number, title, author, quantity, thumbnail, created_at`

var (
	ErrBookNotFound = errors.New("book not found")
	ErrOutOfStock   = errors.New("no copies available")
)

// LockForLoan は貸出対象の書籍行を FOR UPDATE で確保し、在庫を1減らす。
// tx は呼び出し側のトランザクション。
func LockForLoan(ctx context.Context, tx db.DBTX, ref Ref) (*Book, error) {
	cond, args := ref.where()
	q := `SELECT ` + bookColumns + ` FROM books WHERE ` + cond + ` LIMIT 1 FOR UPDATE`

	b, err := scanBook(tx.QueryRowContext(ctx, q, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, err
	}
	if b.Quantity == 0 {
		return nil, ErrOutOfStock
	}

	const dec = `UPDATE books SET quantity = quantity - 1 WHERE book_id = ? AND quantity > 0`
	res, err := tx.ExecContext(ctx, dec, b.BookID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, ErrOutOfStock
	}
	b.Quantity--
	return b, nil
}

// Restock は返却1冊分 quantity を +1 する。
// 対象行が見つからなければ false を返す（エラーではない）。
func Restock(ctx context.Context, tx db.DBTX, ref Ref) (bool, error) {
	cond, args := ref.where()
	q := `UPDATE books SET quantity = quantity + 1 WHERE ` + cond + ` LIMIT 1`
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(r rowScanner) (*Book, error) {
	var b Book
	if err := r.Scan(
		&b.BookID, &b.ISBN, &b.AccessionNumber, &b.Title, &b.Author,
		&b.Quantity, &b.Thumbnail, &b.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &b, nil
}
