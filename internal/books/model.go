package books

import (
	"database/sql"
	"time"
)

// Book は books テーブルの1行を表す
type Book struct {
	BookID          uint64
	ISBN            sql.NullString
	AccessionNumber sql.NullString
	Title           string
	Author          sql.NullString
	Quantity        uint
	Thumbnail       sql.NullString
	CreatedAt       time.Time
}

// 一覧取得用の検索条件
type Filter struct {
	Q       string // title / author 部分一致
	InStock bool
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}
