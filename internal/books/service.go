package books

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
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
	store *Store
	now   func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{store: NewStore(db), now: time.Now}
}

func (s *Service) Create(ctx context.Context, in CreateBookRequest) (BookResponse, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return BookResponse{}, ErrInvalid("title is required")
	}
	isbn := trimmed(in.ISBN)
	acc := trimmed(in.AccessionNumber)
	if !isbn.Valid && !acc.Valid {
		return BookResponse{}, ErrInvalid("isbn or accession_number is required")
	}

	b := &Book{
		ISBN:            isbn,
		AccessionNumber: acc,
		Title:           title,
		Author:          trimmed(in.Author),
		Quantity:        in.Quantity,
		Thumbnail:       trimmed(in.Thumbnail),
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.Insert(ctx, b); err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

func (s *Service) Get(ctx context.Context, id uint64) (BookResponse, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

// Lookup はカウンターでのスキャン用。isbn → accession_number の順に見る。
func (s *Service) Lookup(ctx context.Context, isbn, accession string) (BookResponse, error) {
	ref, ok := ResolveRef("", isbn, accession)
	if !ok {
		return BookResponse{}, ErrInvalid("isbn or accession_number is required")
	}
	b, err := s.store.GetByRef(ctx, ref)
	if err != nil {
		return BookResponse{}, err
	}
	return toResponse(b), nil
}

func (s *Service) List(ctx context.Context, f Filter, p Page) (BookListResponse, error) {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	items, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return BookListResponse{}, err
	}
	out := BookListResponse{Items: make([]BookResponse, 0, len(items)), Total: total}
	for i := range items {
		out.Items = append(out.Items, toResponse(&items[i]))
	}
	if next := p.Offset + len(items); int64(next) < total {
		out.NextOffset = &next
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, id uint64, in UpdateBookRequest) (BookResponse, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return BookResponse{}, ErrInvalid("title must not be empty")
	}
	if err := s.store.Update(ctx, id, in); err != nil {
		return BookResponse{}, err
	}
	return s.Get(ctx, id)
}

func trimmed(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	v := strings.TrimSpace(*p)
	return sql.NullString{String: v, Valid: v != ""}
}
