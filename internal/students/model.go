package students

import (
	"database/sql"
	"strings"
	"time"
)

// Student は students テーブルの1行を表す
type Student struct {
	StudentNo string
	FirstName string
	LastName  string
	Program   sql.NullString
	Year      sql.NullString
	Section   sql.NullString
	ImagePath sql.NullString
	Email     sql.NullString
	CreatedAt time.Time
}

func (s *Student) FullName() string {
	return strings.TrimSpace(s.FirstName + " " + s.LastName)
}

type Filter struct {
	Q       string
	Program string
}

type Page struct {
	Limit  int
	Offset int
}
