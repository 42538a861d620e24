package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"LIBRIS-backend/internal/platform/db"
)

// Account は司書・管理者のログインアカウント。学生はログインしない。
type Account struct {
	ID           string
	PasswordHash string
	Role         string
	IsDisabled   bool
	CreatedAt    time.Time
}

type AccountStore interface {
	GetByID(ctx context.Context, id string) (*Account, error)
	List(ctx context.Context) ([]Account, error)
	Create(ctx context.Context, a *Account) error
	SetDisabled(ctx context.Context, id string, disabled bool) (int64, error)
	Delete(ctx context.Context, id string) (int64, error)
	UpdateID(ctx context.Context, oldID, newID string) (int64, error)
}

type Store struct{ db db.DBTX }

func NewStore(conn db.DBTX) AccountStore { return &Store{db: conn} }

const accountColumns = `id, password_hash, role, is_disabled, created_at`

func scanAccount(sc interface{ Scan(...any) error }) (Account, error) {
	var a Account
	err := sc.Scan(&a.ID, &a.PasswordHash, &a.Role, &a.IsDisabled, &a.CreatedAt)
	return a, err
}

// GetByID は存在しなければ (nil, nil)
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM auth_accounts WHERE id = ? LIMIT 1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) List(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM auth_accounts ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) Create(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO auth_accounts (id, password_hash, role, is_disabled, created_at)
	VALUES (?, ?, ?, 0, UTC_TIMESTAMP(6))`,
		a.ID, a.PasswordHash, a.Role)
	if db.IsDuplicateKey(err) {
		return ErrAlreadyExists
	}
	return err
}

func (s *Store) SetDisabled(ctx context.Context, id string, disabled bool) (int64, error) {
	return affected(s.db.ExecContext(ctx, `UPDATE auth_accounts SET is_disabled = ? WHERE id = ?`, disabled, id))
}

func (s *Store) Delete(ctx context.Context, id string) (int64, error) {
	return affected(s.db.ExecContext(ctx, `DELETE FROM auth_accounts WHERE id = ?`, id))
}

// UpdateID: PK の付け替え。new が埋まっていれば ErrAlreadyExists
func (s *Store) UpdateID(ctx context.Context, oldID, newID string) (int64, error) {
	n, err := affected(s.db.ExecContext(ctx, `UPDATE auth_accounts SET id = ? WHERE id = ?`, newID, oldID))
	if db.IsDuplicateKey(err) {
		return 0, ErrAlreadyExists
	}
	return n, err
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
