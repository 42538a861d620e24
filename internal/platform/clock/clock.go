// Package clock は図書館の固定タイムゾーンでの「現在時刻」を提供する。
// 返却期限の比較はすべてこのタイムゾーンの暦日で行う。
package clock

import (
	"fmt"
	"time"
)

type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type Zoned struct {
	loc *time.Location
}

func New(tz string) (*Zoned, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("タイムゾーンの読み込み失敗(%s): %w", tz, err)
	}
	return &Zoned{loc: loc}, nil
}

func (z *Zoned) Now() time.Time           { return time.Now().In(z.loc) }
func (z *Zoned) Location() *time.Location { return z.loc }

// Fixed は常に同じ時刻を返す。テストとバッチの再実行用。
type Fixed struct {
	T   time.Time
	Loc *time.Location
}

func (f *Fixed) Now() time.Time { return f.T.In(f.Location()) }

func (f *Fixed) Location() *time.Location {
	if f.Loc == nil {
		return time.UTC
	}
	return f.Loc
}

// Advance moves the fixed clock forward.
func (f *Fixed) Advance(d time.Duration) { f.T = f.T.Add(d) }
