// Package penalty computes overdue fines.
//
// Closed loans always report the penalty fixed at return time. Open loans are
// recomputed from the due date and the current date, compared as calendar days
// in the library's time zone. Every listing, total and export goes through
// Engine.Assess so a row and its contribution to a total never disagree.
package penalty

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RatePerDay is the fine per whole calendar day overdue.
const RatePerDay int64 = 10

// DateLayout is the canonical due_on format written by new borrows.
const DateLayout = "2006-01-02"

// ErrDateParse marks a due date that could not be read. The amount is 0 in that case.
var ErrDateParse = errors.New("penalty: unparseable date")

// 旧データに混在している日付形式
var layouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006/01/02",
}

// Input is one loan as stored. Stored is only read when Closed is true.
type Input struct {
	DueOn  string
	AsOf   time.Time
	Closed bool
	Stored int64
}

// Result is the assessed penalty of one loan.
type Result struct {
	Amount      int64
	DaysOverdue int
	Closed      bool
	err         error
}

// DateParseError reports whether the amount was defaulted to 0 because of bad data.
func (r Result) DateParseError() bool { return errors.Is(r.err, ErrDateParse) }

// Err is the parse error behind a zero amount, or nil.
func (r Result) Err() error { return r.err }

// Overdue is true for open loans past their due date.
func (r Result) Overdue() bool { return r.DaysOverdue > 0 }

// Engine assesses penalties in the library's time zone.
type Engine struct {
	loc *time.Location
}

// NewEngine returns an Engine for loc. A nil loc means UTC.
func NewEngine(loc *time.Location) Engine {
	if loc == nil {
		loc = time.UTC
	}
	return Engine{loc: loc}
}

// Location is the zone due dates and "today" are read in.
func (e Engine) Location() *time.Location {
	if e.loc == nil {
		return time.UTC
	}
	return e.loc
}

// Assess returns the stored penalty for closed loans and the live penalty for open ones.
func (e Engine) Assess(in Input) Result {
	if in.Closed {
		return Result{Amount: in.Stored, Closed: true}
	}
	due, err := e.ParseDate(in.DueOn)
	if err != nil {
		return Result{err: err}
	}
	return e.Open(due, in.AsOf)
}

// Open computes the penalty of a loan that is still out as of asOf.
func (e Engine) Open(due, asOf time.Time) Result {
	days := DaysBetween(due, asOf, e.Location())
	if days <= 0 {
		return Result{}
	}
	return Result{Amount: int64(days) * RatePerDay, DaysOverdue: days}
}

// ParseDate reads a stored due date as a civil date in the engine's zone.
func (e Engine) ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrDateParse)
	}
	for _, l := range layouts {
		if t, err := time.ParseInLocation(l, s, e.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrDateParse, s)
}

// DaysBetween is the number of calendar days from from to to, using only the
// date components in loc. Time of day and DST shifts do not matter.
func DaysBetween(from, to time.Time, loc *time.Location) int {
	return int(dayNumber(to, loc) - dayNumber(from, loc))
}

// time.Duration は約292年で頭打ちになるので Unix 秒から日番号を出す
func dayNumber(t time.Time, loc *time.Location) int64 {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400
}

// Total sums the amounts exactly as they are shown per row.
func Total(results []Result) int64 {
	var sum int64
	for _, r := range results {
		sum += r.Amount
	}
	return sum
}
