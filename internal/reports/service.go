package reports

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"LIBRIS-backend/internal/penalty"
	"LIBRIS-backend/internal/platform/clock"
)

// ===== Error model =====
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeServer     Code = "SERVER_ERROR"
)

type APIError struct {
	Code    Code
	Message string
}

func (e *APIError) Error() string     { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func ErrInvalid(msg string) *APIError { return &APIError{Code: CodeValidation, Message: msg} }
func ErrServer(msg string) *APIError  { return &APIError{Code: CodeServer, Message: msg} }

func ToHTTPStatus(err error) int {
	var api *APIError
	if errors.As(err, &api) && api.Code == CodeValidation {
		return 400
	}
	return 500
}

// 集計期間の上限（日数）
const maxSummaryDays = 366

type Service struct {
	store  *Store
	engine penalty.Engine
	clock  clock.Clock
	log    *slog.Logger
}

func NewService(db *sql.DB, c clock.Clock, log *slog.Logger) *Service {
	return &Service{
		store:  NewStore(db),
		engine: penalty.NewEngine(c.Location()),
		clock:  c,
		log:    log,
	}
}

// Overdue は貸出中で期限切れの行と、期限日が読めない行（警告付き）を返す
func (s *Service) Overdue(ctx context.Context, studentNo string) (*LoanReport, error) {
	rows, err := s.store.Loans(ctx, loanQuery{StudentNo: strings.TrimSpace(studentNo), OpenOnly: true})
	if err != nil {
		s.log.ErrorContext(ctx, "overdue report query failed", "err", err)
		return nil, ErrServer("failed to load borrows")
	}
	return s.aggregate(rows, func(r penalty.Result) bool {
		return r.Overdue() || r.DateParseError()
	}), nil
}

func (s *Service) Loans(ctx context.Context, f LoanFilter) (*LoanReport, error) {
	q := loanQuery{StudentNo: strings.TrimSpace(f.StudentNo)}
	keep := func(penalty.Result) bool { return true }
	switch strings.ToLower(strings.TrimSpace(f.Status)) {
	case "", StatusAll:
	case StatusOpen:
		q.OpenOnly = true
	case StatusClosed:
		q.Closed = true
	case StatusOverdue:
		q.OpenOnly = true
		keep = func(r penalty.Result) bool { return r.Overdue() }
	default:
		return nil, ErrInvalid("status must be one of all, open, closed, overdue")
	}

	since, until, err := s.dateRange(f.From, f.To, false)
	if err != nil {
		return nil, err
	}
	q.Since, q.Until = since, until

	rows, err := s.store.Loans(ctx, q)
	if err != nil {
		s.log.ErrorContext(ctx, "loan report query failed", "err", err)
		return nil, ErrServer("failed to load borrows")
	}
	return s.aggregate(rows, keep), nil
}

// Summary は日別の貸出数・返却数・徴収した罰金（返却記録の確定値）
func (s *Service) Summary(ctx context.Context, from, to string) (*SummaryReport, error) {
	loc := s.clock.Location()
	if strings.TrimSpace(from) == "" && strings.TrimSpace(to) == "" {
		today := s.today()
		to = today.Format(penalty.DateLayout)
		from = today.AddDate(0, 0, -6).Format(penalty.DateLayout)
	}
	since, until, err := s.dateRange(from, to, true)
	if err != nil {
		return nil, err
	}

	borrowed, err := s.store.BorrowedBetween(ctx, since, until)
	if err != nil {
		s.log.ErrorContext(ctx, "summary borrows query failed", "err", err)
		return nil, ErrServer("failed to load borrows")
	}
	returned, err := s.store.ReturnsBetween(ctx, since, until)
	if err != nil {
		s.log.ErrorContext(ctx, "summary returns query failed", "err", err)
		return nil, ErrServer("failed to load returns")
	}

	out := &SummaryReport{From: since.Format(penalty.DateLayout)}
	index := map[string]int{}
	for d := since; d.Before(until); d = d.AddDate(0, 0, 1) {
		key := d.Format(penalty.DateLayout)
		index[key] = len(out.Days)
		out.Days = append(out.Days, SummaryDay{Date: key})
		out.To = key
	}
	for _, t := range borrowed {
		if i, ok := index[t.In(loc).Format(penalty.DateLayout)]; ok {
			out.Days[i].Borrows++
			out.TotalBorrows++
		}
	}
	for _, r := range returned {
		if i, ok := index[r.ReturnedAt.In(loc).Format(penalty.DateLayout)]; ok {
			out.Days[i].Returns++
			out.Days[i].PenaltiesCollected += r.Penalty
			out.TotalReturns++
			out.TotalPenaltiesCollected += r.Penalty
		}
	}
	return out, nil
}

// aggregate は各行に罰金を計算し、keep を満たす行だけを合計する
func (s *Service) aggregate(rows []loanRow, keep func(penalty.Result) bool) *LoanReport {
	now := s.clock.Now()
	rep := &LoanReport{
		AsOf: now.In(s.clock.Location()).Format(penalty.DateLayout),
		Rows: make([]LoanReportRow, 0, len(rows)),
	}
	var kept []penalty.Result
	for i := range rows {
		r := &rows[i]
		res := s.engine.Assess(penalty.Input{
			DueOn:  r.DueOn,
			AsOf:   now,
			Closed: r.ReturnedAt.Valid,
			Stored: r.Penalty.Int64,
		})
		if !keep(res) {
			continue
		}
		rep.Rows = append(rep.Rows, toRow(r, res))
		kept = append(kept, res)
		if res.DateParseError() {
			rep.DataQualityWarnings++
		}
	}
	rep.Count = len(rep.Rows)
	rep.TotalPenalty = penalty.Total(kept)
	return rep
}

func toRow(r *loanRow, res penalty.Result) LoanReportRow {
	row := LoanReportRow{
		BorrowID:        r.BorrowID,
		StudentNo:       r.StudentNo,
		StudentName:     r.studentName(),
		Title:           r.Title,
		ISBN:            nullablePtr(r.ISBN),
		AccessionNumber: nullablePtr(r.AccessionNumber),
		BorrowedAt:      r.BorrowedAt,
		DueOn:           r.DueOn,
		DaysOverdue:     res.DaysOverdue,
		Penalty:         res.Amount,
		DateParseError:  res.DateParseError(),
	}
	switch {
	case r.ReturnedAt.Valid:
		t := r.ReturnedAt.Time
		row.ReturnedAt = &t
		row.Status = StatusClosed
	case res.Overdue():
		row.Status = StatusOverdue
	default:
		row.Status = StatusOpen
	}
	return row
}

func (s *Service) today() time.Time {
	y, m, d := s.clock.Now().In(s.clock.Location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.clock.Location())
}

// dateRange は from/to（両端含む）を図書館タイムゾーンの [since, until) に変換する。
// required=false なら空の端はゼロ値のまま。
func (s *Service) dateRange(from, to string, required bool) (time.Time, time.Time, error) {
	loc := s.clock.Location()
	parse := func(name, v string) (time.Time, error) {
		v = strings.TrimSpace(v)
		if v == "" {
			if required {
				return time.Time{}, ErrInvalid(name + " is required")
			}
			return time.Time{}, nil
		}
		t, err := time.ParseInLocation(penalty.DateLayout, v, loc)
		if err != nil {
			return time.Time{}, ErrInvalid(name + " must be YYYY-MM-DD")
		}
		return t, nil
	}
	since, err := parse("from", from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parse("to", to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	var until time.Time
	if !end.IsZero() {
		until = end.AddDate(0, 0, 1)
	}
	if !since.IsZero() && !until.IsZero() {
		if !since.Before(until) {
			return time.Time{}, time.Time{}, ErrInvalid("from must not be after to")
		}
		if penalty.DaysBetween(since, until, loc) > maxSummaryDays {
			return time.Time{}, time.Time{}, ErrInvalid(fmt.Sprintf("range must be at most %d days", maxSummaryDays))
		}
	}
	return since, until, nil
}

func nullablePtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
