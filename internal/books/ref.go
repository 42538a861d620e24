package books

import "strings"

// Kind は書籍の引き当てに使う識別子の種類
type Kind int

const (
	// KindAny はスキャンされた値。ISBN と蔵書番号のどちらにもなりうる
	KindAny Kind = iota
	KindISBN
	KindAccession
)

func (k Kind) String() string {
	switch k {
	case KindISBN:
		return "isbn"
	case KindAccession:
		return "accession_number"
	default:
		return "book_identifier"
	}
}

// Ref は1冊の書籍行を指す識別子
type Ref struct {
	Kind  Kind
	Value string
}

// ResolveRef picks the identifier used to locate a book row.
// 優先順位: book_identifier → isbn → accession_number
func ResolveRef(identifier, isbn, accession string) (Ref, bool) {
	if v := strings.TrimSpace(identifier); v != "" {
		return Ref{Kind: KindAny, Value: v}, true
	}
	if v := strings.TrimSpace(isbn); v != "" {
		return Ref{Kind: KindISBN, Value: v}, true
	}
	if v := strings.TrimSpace(accession); v != "" {
		return Ref{Kind: KindAccession, Value: v}, true
	}
	return Ref{}, false
}

// where は Ref に対応する WHERE 句と引数を返す。
// KindAny は ISBN 一致の行を優先する。
func (r Ref) where() (string, []any) {
	switch r.Kind {
	case KindISBN:
		return `isbn = ?`, []any{r.Value}
	case KindAccession:
		return `accession_number = ?`, []any{r.Value}
	default:
		return `(isbn = ? OR accession_number = ?) ORDER BY (isbn <=> ?) DESC`, []any{r.Value, r.Value, r.Value}
	}
}
