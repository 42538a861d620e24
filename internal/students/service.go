package students

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"LIBRIS-backend/internal/platform/cache"
	"LIBRIS-backend/internal/platform/config"
)

// ===== Error model =====
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeServer     Code = "SERVER_ERROR"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string      { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError  { return &APIError{Code: CodeValidation, Message: msg} }
func ErrNotFound(msg string) *APIError { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError { return &APIError{Code: CodeConflict, Message: msg} }

// IsNotFound reports whether err means the student does not exist.
func IsNotFound(err error) bool {
	var api *APIError
	return errors.As(err, &api) && api.Code == CodeNotFound
}

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeValidation:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		}
	}
	return 500
}

type Service struct {
	store  *Store
	dir    Directory
	cached *Cached
	now    func() time.Time
}

// NewService は rdb が nil なら DB 直読みになる
func NewService(db *sql.DB, rdb *cache.Client, cfg config.RedisConfig, log *slog.Logger) *Service {
	s := &Service{store: NewStore(db), now: time.Now}
	s.dir = s.store
	if rdb != nil {
		s.cached = NewCached(s.store, rdb, cfg.StudentTTL, log)
		s.dir = s.cached
	}
	return s
}

// Lookup implements Directory for the circulation service.
func (s *Service) Lookup(ctx context.Context, studentNo string) (*Student, error) {
	studentNo = strings.TrimSpace(studentNo)
	if studentNo == "" {
		return nil, ErrInvalid("student_no is required")
	}
	return s.dir.Lookup(ctx, studentNo)
}

func (s *Service) Create(ctx context.Context, in CreateStudentRequest) (StudentResponse, error) {
	st := &Student{
		StudentNo: strings.TrimSpace(in.StudentNo),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Program:   trimmed(in.Program),
		Year:      trimmed(in.Year),
		Section:   trimmed(in.Section),
		ImagePath: trimmed(in.ImagePath),
		Email:     trimmed(in.Email),
		CreatedAt: s.now().UTC(),
	}
	if st.StudentNo == "" || st.FirstName == "" || st.LastName == "" {
		return StudentResponse{}, ErrInvalid("student_no, first_name, last_name are required")
	}
	if err := s.store.Insert(ctx, st); err != nil {
		return StudentResponse{}, err
	}
	if s.cached != nil {
		s.cached.Invalidate(ctx, st.StudentNo)
	}
	return toResponse(st), nil
}

func (s *Service) Get(ctx context.Context, studentNo string) (StudentResponse, error) {
	st, err := s.Lookup(ctx, studentNo)
	if err != nil {
		return StudentResponse{}, err
	}
	return toResponse(st), nil
}

func (s *Service) List(ctx context.Context, f Filter, p Page) (StudentListResponse, error) {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	items, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return StudentListResponse{}, err
	}
	out := StudentListResponse{Items: make([]StudentResponse, 0, len(items)), Total: total}
	for i := range items {
		out.Items = append(out.Items, toResponse(&items[i]))
	}
	if next := p.Offset + len(items); int64(next) < total {
		out.NextOffset = &next
	}
	return out, nil
}

func trimmed(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	v := strings.TrimSpace(*p)
	return sql.NullString{String: v, Valid: v != ""}
}
