package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"LIBRIS-backend/internal/audit"
	"LIBRIS-backend/internal/platform/clock"
	"LIBRIS-backend/internal/students"
)

// ===== Error model (books/students と同型) =====
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeInvalidID  Code = "INVALID_ID"
	CodeNotFound   Code = "NOT_FOUND"
	CodeConflict   Code = "CONFLICT"
	CodeServer     Code = "SERVER_ERROR"
)

type APIError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string       { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError   { return &APIError{Code: CodeValidation, Message: msg} }
func ErrInvalidID(msg string) *APIError { return &APIError{Code: CodeInvalidID, Message: msg} }
func ErrNotFound(msg string) *APIError  { return &APIError{Code: CodeNotFound, Message: msg} }
func ErrConflict(msg string) *APIError  { return &APIError{Code: CodeConflict, Message: msg} }
func ErrServer(msg string) *APIError    { return &APIError{Code: CodeServer, Message: msg} }

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) {
		switch api.Code {
		case CodeValidation, CodeInvalidID:
			return 400
		case CodeNotFound:
			return 404
		case CodeConflict:
			return 409
		}
	}
	return 500
}

// ===== Service =====

type StudentDirectory interface {
	Lookup(ctx context.Context, studentNo string) (*students.Student, error)
}

type Auditor interface {
	Record(ctx context.Context, action, details string)
}

type Service struct {
	store    *Store
	students StudentDirectory
	clock    clock.Clock
	audit    Auditor
	log      *slog.Logger
}

func NewService(db *sql.DB, dir StudentDirectory, c clock.Clock, a Auditor, log *slog.Logger) *Service {
	return &Service{store: NewStore(db), students: dir, clock: c, audit: a, log: log}
}

// POST /attendances/check-in
// 同じ日に2回目のチェックインは既存行を返す（created=false）
func (s *Service) CheckIn(ctx context.Context, in CheckInRequest) (AttendanceResponse, bool, error) {
	st, err := s.lookup(ctx, in.StudentNo)
	if err != nil {
		return AttendanceResponse{}, false, err
	}
	now := s.clock.Now()
	row, created, err := s.store.CheckIn(ctx, st.StudentNo, s.dateOf(now), now, in.Note)
	if err != nil {
		return AttendanceResponse{}, false, s.serverError(ctx, "check-in failed", err)
	}
	if created {
		s.audit.Record(ctx, audit.ActionCheckIn, fmt.Sprintf("Checked in %s", st.FullName()))
	}
	return row.toDTO(), created, nil
}

// POST /attendances/check-out
func (s *Service) CheckOut(ctx context.Context, in CheckOutRequest) (AttendanceResponse, error) {
	st, err := s.lookup(ctx, in.StudentNo)
	if err != nil {
		return AttendanceResponse{}, err
	}
	now := s.clock.Now()
	on := s.dateOf(now)

	ok, err := s.store.CheckOut(ctx, st.StudentNo, on, now)
	if err != nil {
		return AttendanceResponse{}, s.serverError(ctx, "check-out failed", err)
	}
	if !ok {
		exists, err := s.store.Exists(ctx, st.StudentNo, on)
		if err != nil {
			return AttendanceResponse{}, s.serverError(ctx, "check-out failed", err)
		}
		if exists {
			return AttendanceResponse{}, ErrConflict("already checked out today")
		}
		return AttendanceResponse{}, ErrNotFound("not checked in today")
	}

	row, err := s.store.GetByDay(ctx, st.StudentNo, on)
	if err != nil {
		return AttendanceResponse{}, s.serverError(ctx, "check-out failed", err)
	}
	s.audit.Record(ctx, audit.ActionCheckOut, fmt.Sprintf("Checked out %s", st.FullName()))
	return row.toDTO(), nil
}

// GET /attendances
func (s *Service) List(ctx context.Context, q ListQuery) (AttendanceListResponse, error) {
	if q.Sort == "" {
		q.Sort = DefaultSort
	}
	if q.Limit <= 0 {
		q.Limit = DefaultPageLimit
	}
	if q.Limit > MaxPageLimit {
		q.Limit = MaxPageLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	var err error
	if q.On, err = s.normalizeDate("on", q.On); err != nil {
		return AttendanceListResponse{}, err
	}
	if q.From, err = s.normalizeDate("from", q.From); err != nil {
		return AttendanceListResponse{}, err
	}
	if q.To, err = s.normalizeDate("to", q.To); err != nil {
		return AttendanceListResponse{}, err
	}

	rows, total, err := s.store.List(ctx, q)
	if err != nil {
		return AttendanceListResponse{}, s.serverError(ctx, "list attendances failed", err)
	}
	out := AttendanceListResponse{Items: make([]AttendanceResponse, 0, len(rows)), Total: total}
	for i := range rows {
		out.Items = append(out.Items, rows[i].toDTO())
	}
	if next := q.Offset + len(rows); int64(next) < total {
		out.NextOffset = &next
	}
	return out, nil
}

// GET /attendances/stats
func (s *Service) Stats(ctx context.Context, req StatsRequest) ([]StatsRow, error) {
	from, err := s.normalizeDate("from", req.From)
	if err != nil || from == "" {
		return nil, ErrInvalid("from must be YYYY-MM-DD")
	}
	to, err := s.normalizeDate("to", req.To)
	if err != nil || to == "" {
		return nil, ErrInvalid("to must be YYYY-MM-DD")
	}
	if to < from {
		return nil, ErrInvalid("to must be >= from")
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	rows, err := s.store.Stats(ctx, from, to, req.Limit)
	if err != nil {
		return nil, s.serverError(ctx, "attendance stats failed", err)
	}
	return rows, nil
}

// DELETE /attendances/:id（管理者）。他のテーブルには触れない。
func (s *Service) Delete(ctx context.Context, id uint64) error {
	if id == 0 {
		return ErrInvalidID("attendance_id must be positive")
	}
	a, ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return s.serverError(ctx, "delete attendance failed", err)
	}
	if !ok {
		return ErrNotFound("attendance not found")
	}
	s.audit.Record(ctx, audit.ActionDeleteAttend, fmt.Sprintf("Deleted attendance %d (%s, %s)", a.AttendanceID, a.StudentNo, a.AttendedOn))
	return nil
}

// ===== helpers =====

func (s *Service) lookup(ctx context.Context, studentNo string) (*students.Student, error) {
	no := strings.TrimSpace(studentNo)
	if no == "" {
		return nil, ErrInvalid("student_no is required")
	}
	st, err := s.students.Lookup(ctx, no)
	if err != nil {
		if students.IsNotFound(err) {
			return nil, ErrNotFound("student not found")
		}
		return nil, s.serverError(ctx, "student lookup failed", err)
	}
	return st, nil
}

// dateOf は図書館タイムゾーンでの日付
func (s *Service) dateOf(t time.Time) string {
	return t.In(s.clock.Location()).Format(DateLayout)
}

// normalizeDate は "today" を図書館の今日に置き換え、YYYY-MM-DD を検証する
func (s *Service) normalizeDate(name, v string) (string, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	switch v {
	case "":
		return "", nil
	case "today":
		return s.dateOf(s.clock.Now()), nil
	}
	if _, err := time.ParseInLocation(DateLayout, v, s.clock.Location()); err != nil {
		return "", ErrInvalid(name + " must be YYYY-MM-DD or 'today'")
	}
	return v, nil
}

func (s *Service) serverError(ctx context.Context, msg string, err error) error {
	var api *APIError
	if errors.As(err, &api) {
		return api
	}
	s.log.ErrorContext(ctx, msg, "err", err)
	return ErrServer(msg)
}
