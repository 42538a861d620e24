package reports

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding は CSV の文字コード
type Encoding string

const (
	EncodingUTF8    Encoding = "utf8"
	EncodingUTF8BOM Encoding = "utf8bom" // Excel 用
	EncodingSJIS    Encoding = "sjis"    // 旧 Windows 環境（CP932 相当）
)

func ParseEncoding(v string) (Encoding, error) {
	switch e := Encoding(strings.ToLower(strings.TrimSpace(v))); e {
	case "":
		return EncodingUTF8, nil
	case EncodingUTF8, EncodingUTF8BOM, EncodingSJIS:
		return e, nil
	default:
		return "", ErrInvalid("encoding must be one of utf8, utf8bom, sjis")
	}
}

func (e Encoding) ContentType() string {
	if e == EncodingSJIS {
		return "text/csv; charset=Shift_JIS"
	}
	return "text/csv; charset=utf-8"
}

var csvHeader = []string{
	"borrow_id", "student_no", "student_name", "title", "isbn", "accession_number",
	"borrowed_at", "due_on", "returned_at", "status", "days_overdue", "penalty", "date_parse_error",
}

// WriteCSV は画面と同じ行・同じ罰金値で CSV を書く
func WriteCSV(w io.Writer, rep *LoanReport, enc Encoding) error {
	var tw *transform.Writer
	switch enc {
	case EncodingSJIS:
		// Shift_JIS に無い文字（ñ など）は置換して続行
		tw = transform.NewWriter(w, encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder()))
	case EncodingUTF8BOM:
		tw = transform.NewWriter(w, unicode.UTF8BOM.NewEncoder())
	case EncodingUTF8, "":
	default:
		return fmt.Errorf("unsupported encoding %q", enc)
	}
	out := w
	if tw != nil {
		out = tw
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rep.Rows {
		returned := ""
		if r.ReturnedAt != nil {
			returned = r.ReturnedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		record := []string{
			r.BorrowID,
			r.StudentNo,
			r.StudentName,
			r.Title,
			deref(r.ISBN),
			deref(r.AccessionNumber),
			r.BorrowedAt.UTC().Format("2006-01-02T15:04:05Z"),
			r.DueOn,
			returned,
			r.Status,
			strconv.Itoa(r.DaysOverdue),
			strconv.FormatInt(r.Penalty, 10),
			strconv.FormatBool(r.DateParseError),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if tw != nil {
		return tw.Close()
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
