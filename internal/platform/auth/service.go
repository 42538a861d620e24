package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"LIBRIS-backend/internal/platform/config"
)

const (
	RoleLibrarian = "librarian"
	RoleAdmin     = "admin"

	minPasswordLen  = 8
	defaultTokenTTL = 12 * time.Hour
)

var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrInvalidInput  = errors.New("invalid input")
)

// Claims は JWT の中身。sub がアカウント ID。
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type Service struct {
	store  AccountStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewService(db *sql.DB, cfg config.AuthConfig) (*Service, error) {
	return newService(NewStore(db), cfg)
}

func newService(store AccountStore, cfg config.AuthConfig) (*Service, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("auth.jwt_secret must be at least 32 bytes")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Service{store: store, secret: []byte(cfg.JWTSecret), ttl: ttl, now: time.Now}, nil
}

type AuthService interface {
	Login(ctx context.Context, id, password string) (string, error)
	Register(ctx context.Context, id, password, role string) error
	List(ctx context.Context) ([]AccountResponse, error)
	SetDisabled(ctx context.Context, id string, disabled bool) error
	Delete(ctx context.Context, id string) error
	ChangeID(ctx context.Context, oldID, newID string) error
}

type AccountResponse struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	IsDisabled bool      `json:"is_disabled"`
	CreatedAt  time.Time `json:"created_at"`
}

var _ AuthService = (*Service)(nil)

// Secret は RequireAuth に渡す署名鍵
func (s *Service) Secret() []byte { return s.secret }

func (s *Service) Login(ctx context.Context, id, password string) (string, error) {
	acct, err := s.store.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return "", err
	}
	// 存在しない・無効・パスワード不一致は区別しない
	if acct == nil || acct.IsDisabled {
		return "", ErrAuthFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return "", ErrAuthFailed
	}
	return s.issue(acct)
}

func (s *Service) issue(acct *Account) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role: acct.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			Issuer:    "libris",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	return token.SignedString(s.secret)
}

func (s *Service) Register(ctx context.Context, id, password, role string) error {
	id = strings.TrimSpace(id)
	if id == "" || len(password) < minPasswordLen {
		return fmt.Errorf("%w: id is required and password must be at least %d characters", ErrInvalidInput, minPasswordLen)
	}
	if role == "" {
		role = RoleLibrarian
	}
	if role != RoleLibrarian && role != RoleAdmin {
		return fmt.Errorf("%w: role must be librarian or admin", ErrInvalidInput)
	}

	exists, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if exists != nil {
		return ErrAlreadyExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.store.Create(ctx, &Account{ID: id, PasswordHash: string(hash), Role: role})
}

// EnsureAdmin は起動時に管理者アカウントが無ければ作る
func (s *Service) EnsureAdmin(ctx context.Context, id, password string) (bool, error) {
	if id == "" || password == "" {
		return false, nil
	}
	err := s.Register(ctx, id, password, RoleAdmin)
	if errors.Is(err, ErrAlreadyExists) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) List(ctx context.Context) ([]AccountResponse, error) {
	accts, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AccountResponse, 0, len(accts))
	for _, a := range accts {
		out = append(out, AccountResponse{ID: a.ID, Role: a.Role, IsDisabled: a.IsDisabled, CreatedAt: a.CreatedAt})
	}
	return out, nil
}

// SetDisabled: 無効化されたアカウントはログインできない。発行済みトークンは期限まで有効。
func (s *Service) SetDisabled(ctx context.Context, id string, disabled bool) error {
	n, err := s.store.SetDisabled(ctx, id, disabled)
	if err != nil {
		return err
	}
	if n == 0 {
		exists, err := s.store.GetByID(ctx, id)
		if err != nil {
			return err
		}
		// 値が変わらなかっただけなら成功扱い
		if exists == nil {
			return ErrNotFound
		}
	}
	return nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	n, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) ChangeID(ctx context.Context, oldID, newID string) error {
	newID = strings.TrimSpace(newID)
	if newID == "" {
		return fmt.Errorf("%w: new_id is required", ErrInvalidInput)
	}
	// old が存在するか
	old, err := s.store.GetByID(ctx, oldID)
	if err != nil {
		return err
	}
	if old == nil {
		return ErrNotFound
	}

	// new が空いてるか
	nw, err := s.store.GetByID(ctx, newID)
	if err != nil {
		return err
	}
	if nw != nil {
		return ErrAlreadyExists
	}

	updated, err := s.store.UpdateID(ctx, oldID, newID)
	if err != nil {
		return err
	}
	if updated == 0 {
		return ErrNotFound
	}
	return nil
}
