package circulation

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"LIBRIS-backend/internal/audit"
	"LIBRIS-backend/internal/notify"
	"LIBRIS-backend/internal/penalty"
	"LIBRIS-backend/internal/platform/clock"
	"LIBRIS-backend/internal/platform/metrics"
	"LIBRIS-backend/internal/platform/requestctx"
	"LIBRIS-backend/internal/students"
)

// ===== インターフェース群 =====

type IDGen interface {
	New() (string, error)
}

type ulidGen struct{ c clock.Clock }

func (g ulidGen) New() (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(g.c.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, string, string) {}

type nopNotifier struct{}

func (nopNotifier) BorrowReceipt(context.Context, notify.BorrowReceipt) error { return nil }
func (nopNotifier) ReturnReceipt(context.Context, notify.ReturnReceipt) error { return nil }

// ===== Service本体 =====

// Deps は Service の依存。Ledger / Students / Clock 以外は省略可。
type Deps struct {
	Ledger   Ledger
	Students StudentDirectory
	Clock    clock.Clock
	IDs      IDGen
	Auditor  Auditor
	Notifier Notifier
	Metrics  *metrics.Circulation
	Logger   *slog.Logger
	// nil ならグローバル（otel.SetTracerProvider）を使う
	TracerProvider trace.TracerProvider
}

type Service struct {
	ledger   Ledger
	students StudentDirectory
	clock    clock.Clock
	engine   penalty.Engine
	ids      IDGen
	audit    Auditor
	notifier Notifier
	metrics  *metrics.Circulation
	log      *slog.Logger
	tracer   trace.Tracer

	// メール送信などの後処理
	bg sync.WaitGroup
}

func NewService(d Deps) *Service {
	s := &Service{
		ledger:   d.Ledger,
		students: d.Students,
		clock:    d.Clock,
		engine:   penalty.NewEngine(d.Clock.Location()),
		ids:      d.IDs,
		audit:    d.Auditor,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		log:      d.Logger,
	}
	tp := d.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer("LIBRIS-backend/circulation")
	if s.ids == nil {
		s.ids = ulidGen{c: d.Clock}
	}
	if s.audit == nil {
		s.audit = nopAuditor{}
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCirculation(prometheus.NewRegistry())
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Wait は送信中のレシートメールを待つ（シャットダウン・テスト用）
func (s *Service) Wait() { s.bg.Wait() }

// Engine は一覧・集計で同じ計算を使うために公開している
func (s *Service) Engine() penalty.Engine { return s.engine }

// 貸出登録
func (s *Service) CreateBorrow(ctx context.Context, req CreateBorrowRequest) (*BorrowResponse, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.CreateBorrow")
	defer span.End()

	studentNo := strings.TrimSpace(req.StudentNo)
	identifier := strings.TrimSpace(req.Identifier)
	if studentNo == "" || identifier == "" {
		return nil, ErrValidation("student_no and book_identifier are required")
	}

	st, err := s.students.Lookup(ctx, studentNo)
	if err != nil {
		if students.IsNotFound(err) {
			return nil, ErrNotFound("student not found")
		}
		return nil, s.serverError(ctx, span, "student lookup failed", err)
	}

	id, err := s.ids.New()
	if err != nil {
		return nil, s.serverError(ctx, span, "id generation failed", err)
	}
	now := s.clock.Now()
	b := &Borrow{
		BorrowID:   id,
		StudentNo:  st.StudentNo,
		BorrowedAt: now.Truncate(time.Second),
		DueOn:      dueOn(now, s.clock.Location()),
	}
	b.BookIdentifier.String, b.BookIdentifier.Valid = identifier, true
	span.SetAttributes(attribute.String("borrow_id", id), attribute.String("book_identifier", identifier))

	if err := s.ledger.ExecCreateBorrow(ctx, b); err != nil {
		var api *APIError
		if errors.As(err, &api) {
			return nil, api
		}
		return nil, s.serverError(ctx, span, "create borrow failed", err)
	}

	s.metrics.BorrowsCreated.Inc()
	s.audit.Record(ctx, audit.ActionBorrow, fmt.Sprintf("Borrowed %s by %s", b.Title, st.FullName()))
	s.async(ctx, "borrow receipt", func(ctx context.Context) error {
		return s.notifier.BorrowReceipt(ctx, notify.BorrowReceipt{
			To:          recipient(st),
			StudentName: st.FullName(),
			StudentNo:   st.StudentNo,
			Title:       b.Title,
			BorrowID:    b.BorrowID,
			BorrowedAt:  b.BorrowedAt,
			DueOn:       b.DueOn,
		})
	})

	resp := s.toBorrowResponse(b, now)
	return &resp, nil
}

// CloseBorrow は貸出を返却済みにする。
// 既に返却済みなら ALREADY_CLOSED（何も変更しない）。
func (s *Service) CloseBorrow(ctx context.Context, borrowID string) (*ReturnResponse, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.CloseBorrow")
	defer span.End()

	id, err := parseBorrowID(borrowID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("borrow_id", id))

	b, err := s.ledger.GetBorrow(ctx, id)
	if err != nil {
		if CodeOf(err) == CodeNotFound {
			return nil, err
		}
		return nil, s.serverError(ctx, span, "get borrow failed", err)
	}
	if b.Closed() {
		s.metrics.AlreadyClosed.Inc()
		return nil, ErrAlreadyClosed()
	}

	// 1. 罰金（貸出中として現在日で計算）
	now := s.clock.Now()
	res := s.engine.Assess(penalty.Input{DueOn: b.DueOn, AsOf: now})
	if res.DateParseError() {
		s.metrics.DateParseErrors.Inc()
		s.log.WarnContext(ctx, "due_on を解釈できないため罰金0で返却", "borrow_id", b.BorrowID, "due_on", b.DueOn)
	}

	rid, err := s.ids.New()
	if err != nil {
		return nil, s.serverError(ctx, span, "id generation failed", err)
	}
	ret := snapshotReturn(b, rid, now.Truncate(time.Second), res.Amount)

	// 2-4. 返却確定・在庫+1・返却記録（1トランザクション）
	restocked, err := s.ledger.ExecCloseBorrow(ctx, b, ret)
	if err != nil {
		if CodeOf(err) == CodeAlreadyClosed {
			s.metrics.AlreadyClosed.Inc()
			return nil, err
		}
		return nil, s.serverError(ctx, span, "close borrow failed", err)
	}
	if !restocked {
		s.metrics.UnmatchedBooks.Inc()
		s.log.WarnContext(ctx, "返却対象の書籍行が見つからず在庫未更新",
			"borrow_id", b.BorrowID,
			"book_identifier", b.BookIdentifier.String,
			"isbn", b.ISBN.String,
			"accession_number", b.AccessionNumber.String)
	}
	s.metrics.ReturnsClosed.Inc()
	s.metrics.PenaltyAssessed.Add(float64(ret.Penalty))
	span.SetAttributes(attribute.Int64("penalty", ret.Penalty), attribute.Bool("restocked", restocked))

	// 5. 操作ログ・レシート（失敗しても返却は成立している）
	st := s.lookupQuietly(ctx, b.StudentNo)
	s.audit.Record(ctx, audit.ActionReturn, fmt.Sprintf("Returned %s by %s", b.Title, studentLabel(st, b.StudentNo)))
	if st != nil {
		s.async(ctx, "return receipt", func(ctx context.Context) error {
			return s.notifier.ReturnReceipt(ctx, returnReceipt(st, b, ret))
		})
	}

	out := toReturnResponse(ret)
	return &out, nil
}

func (s *Service) GetBorrow(ctx context.Context, borrowID string) (*BorrowResponse, error) {
	id, err := parseBorrowID(borrowID)
	if err != nil {
		return nil, err
	}
	b, err := s.ledger.GetBorrow(ctx, id)
	if err != nil {
		return nil, s.passThrough(ctx, "get borrow failed", err)
	}
	resp := s.toBorrowResponse(b, s.clock.Now())
	return &resp, nil
}

func (s *Service) ListBorrows(ctx context.Context, f BorrowFilter, p Page) (*BorrowListResponse, error) {
	switch f.Status {
	case "", StatusOpen, StatusClosed:
	case StatusOverdue:
		return s.listOverdue(ctx, f, normalizePage(p))
	default:
		return nil, ErrValidation("status must be one of open, closed, overdue")
	}
	now := s.clock.Now()
	p = normalizePage(p)

	items, total, err := s.ledger.ListBorrows(ctx, f, p)
	if err != nil {
		return nil, s.passThrough(ctx, "list borrows failed", err)
	}
	out := &BorrowListResponse{Items: make([]BorrowResponse, 0, len(items)), Total: total}
	for i := range items {
		out.Items = append(out.Items, s.toBorrowResponse(&items[i], now))
	}
	out.NextOffset = nextOffset(p, len(items), total)
	return out, nil
}

// 延滞の一覧は due_on の形式が揃っていないので SQL では絞れない。
// 未返却を全件読み、Engine が延滞と判定した行だけ残してからページングする。
const overdueScanBatch = 500

func (s *Service) listOverdue(ctx context.Context, f BorrowFilter, p Page) (*BorrowListResponse, error) {
	now := s.clock.Now()
	f.Status = StatusOpen

	var overdue []BorrowResponse
	scan := Page{Limit: overdueScanBatch, Order: p.Order}
	for {
		batch, total, err := s.ledger.ListBorrows(ctx, f, scan)
		if err != nil {
			return nil, s.passThrough(ctx, "list overdue borrows failed", err)
		}
		for i := range batch {
			if r := s.toBorrowResponse(&batch[i], now); r.DaysOverdue > 0 {
				overdue = append(overdue, r)
			}
		}
		scan.Offset += len(batch)
		if len(batch) == 0 || int64(scan.Offset) >= total {
			break
		}
	}

	total := int64(len(overdue))
	out := &BorrowListResponse{Items: []BorrowResponse{}, Total: total}
	if p.Offset < len(overdue) {
		end := min(p.Offset+p.Limit, len(overdue))
		out.Items = overdue[p.Offset:end]
	}
	out.NextOffset = nextOffset(p, len(out.Items), total)
	return out, nil
}

// DeleteBorrow は管理者用。在庫や返却記録は変更しない。
func (s *Service) DeleteBorrow(ctx context.Context, borrowID string) error {
	id, err := parseBorrowID(borrowID)
	if err != nil {
		return err
	}
	b, err := s.ledger.GetBorrow(ctx, id)
	if err != nil {
		return s.passThrough(ctx, "get borrow failed", err)
	}
	if err := s.ledger.DeleteBorrow(ctx, id); err != nil {
		return s.passThrough(ctx, "delete borrow failed", err)
	}
	s.audit.Record(ctx, audit.ActionDeleteBorrow, fmt.Sprintf("Deleted borrow %s (%s, %s)", b.BorrowID, b.Title, b.StudentNo))
	return nil
}

func (s *Service) GetReturn(ctx context.Context, returnID string) (*ReturnResponse, error) {
	key, err := parseReturnKey(returnID)
	if err != nil {
		return nil, err
	}
	r, err := s.ledger.GetReturn(ctx, key)
	if err != nil {
		return nil, s.passThrough(ctx, "get return failed", err)
	}
	out := toReturnResponse(r)
	return &out, nil
}

func (s *Service) ListReturns(ctx context.Context, f ReturnFilter, p Page) (*ReturnListResponse, error) {
	if f.BorrowID != "" {
		id, err := parseBorrowID(f.BorrowID)
		if err != nil {
			return nil, err
		}
		f.BorrowID = id
	}
	p = normalizePage(p)
	items, total, err := s.ledger.ListReturns(ctx, f, p)
	if err != nil {
		return nil, s.passThrough(ctx, "list returns failed", err)
	}
	out := &ReturnListResponse{Items: make([]ReturnResponse, 0, len(items)), Total: total}
	for i := range items {
		out.Items = append(out.Items, toReturnResponse(&items[i]))
	}
	out.NextOffset = nextOffset(p, len(items), total)
	return out, nil
}

// DeleteReturnRecord は返却記録だけを消す。在庫・貸出状態は変えない。
func (s *Service) DeleteReturnRecord(ctx context.Context, returnID string) error {
	key, err := parseReturnKey(returnID)
	if err != nil {
		return err
	}
	r, err := s.ledger.GetReturn(ctx, key)
	if err != nil {
		return s.passThrough(ctx, "get return failed", err)
	}
	actor := requestctx.ActorFrom(ctx)
	if err := s.ledger.ExecDeleteReturn(ctx, r, actor.UserID, s.clock.Now()); err != nil {
		return s.passThrough(ctx, "delete return failed", err)
	}
	s.audit.Record(ctx, audit.ActionDeleteReturn, fmt.Sprintf("Deleted return record %d (%s, %s)", r.ReturnID, r.Title, r.StudentNo))
	return nil
}

// ReceiptFor は返却レシートを再送する（同期）
func (s *Service) ReceiptFor(ctx context.Context, returnID string) (*ReceiptResponse, error) {
	key, err := parseReturnKey(returnID)
	if err != nil {
		return nil, err
	}
	r, err := s.ledger.GetReturn(ctx, key)
	if err != nil {
		return nil, s.passThrough(ctx, "get return failed", err)
	}
	st, err := s.students.Lookup(ctx, r.StudentNo)
	if err != nil {
		if students.IsNotFound(err) {
			return nil, ErrNotFound("student not found")
		}
		return nil, s.passThrough(ctx, "student lookup failed", err)
	}
	if !st.Email.Valid || st.Email.String == "" {
		return nil, ErrValidation("student has no email address")
	}

	// 貸出行は管理者削除されている場合がある
	b, err := s.ledger.GetBorrow(ctx, r.BorrowID)
	if err != nil {
		if CodeOf(err) != CodeNotFound {
			return nil, s.passThrough(ctx, "get borrow failed", err)
		}
		b = &Borrow{BorrowID: r.BorrowID, Title: r.Title, StudentNo: r.StudentNo}
	}

	receipt := returnReceipt(st, b, r)
	if err := s.notifier.ReturnReceipt(ctx, receipt); err != nil {
		s.log.ErrorContext(ctx, "receipt resend failed", "return_ulid", r.ReturnULID, "err", err)
		return nil, ErrServer("failed to send receipt")
	}
	return &ReceiptResponse{ReceiptCode: receipt.Code(), SentTo: st.Email.String}, nil
}

// ===== helpers =====

func (s *Service) toBorrowResponse(b *Borrow, now time.Time) BorrowResponse {
	res := s.engine.Assess(penalty.Input{
		DueOn:  b.DueOn,
		AsOf:   now,
		Closed: b.Closed(),
		Stored: b.Penalty.Int64,
	})
	r := BorrowResponse{
		BorrowID:        b.BorrowID,
		StudentNo:       b.StudentNo,
		BookIdentifier:  nullablePtr(b.BookIdentifier.String, b.BookIdentifier.Valid),
		ISBN:            nullablePtr(b.ISBN.String, b.ISBN.Valid),
		AccessionNumber: nullablePtr(b.AccessionNumber.String, b.AccessionNumber.Valid),
		Title:           b.Title,
		BorrowedAt:      b.BorrowedAt,
		DueOn:           b.DueOn,
		Penalty:         res.Amount,
		DaysOverdue:     res.DaysOverdue,
		DateParseError:  res.DateParseError(),
	}
	switch {
	case b.Closed():
		t := b.ReturnedAt.Time
		r.ReturnedAt = &t
		r.Status = StatusClosed
	case res.Overdue():
		r.Status = StatusOverdue
	default:
		r.Status = StatusOpen
	}
	return r
}

func toReturnResponse(r *ReturnRecord) ReturnResponse {
	return ReturnResponse{
		ReturnID:        r.ReturnID,
		ReturnULID:      r.ReturnULID,
		BorrowID:        r.BorrowID,
		StudentNo:       r.StudentNo,
		ISBN:            nullablePtr(r.ISBN.String, r.ISBN.Valid),
		AccessionNumber: nullablePtr(r.AccessionNumber.String, r.AccessionNumber.Valid),
		Title:           r.Title,
		ReturnedAt:      r.ReturnedAt,
		Penalty:         r.Penalty,
		ReceiptCode:     "RET-" + r.ReturnULID,
	}
}

func returnReceipt(st *students.Student, b *Borrow, r *ReturnRecord) notify.ReturnReceipt {
	return notify.ReturnReceipt{
		To:          recipient(st),
		StudentName: st.FullName(),
		StudentNo:   st.StudentNo,
		Title:       r.Title,
		BorrowID:    b.BorrowID,
		ReturnID:    r.ReturnULID,
		BorrowedAt:  b.BorrowedAt,
		DueOn:       b.DueOn,
		ReturnedAt:  r.ReturnedAt,
		Penalty:     r.Penalty,
	}
}

func recipient(st *students.Student) mail.Address {
	if !st.Email.Valid {
		return mail.Address{}
	}
	return mail.Address{Name: st.FullName(), Address: st.Email.String}
}

func studentLabel(st *students.Student, fallback string) string {
	if st == nil || st.FullName() == "" {
		return fallback
	}
	return st.FullName()
}

// lookupQuietly は操作ログ・レシート用。失敗はログだけ。
func (s *Service) lookupQuietly(ctx context.Context, studentNo string) *students.Student {
	st, err := s.students.Lookup(ctx, studentNo)
	if err != nil {
		s.log.WarnContext(ctx, "student lookup failed", "student_no", studentNo, "err", err)
		return nil
	}
	return st
}

// async はリクエスト終了後も走る後処理。失敗はログに出すだけ。
func (s *Service) async(ctx context.Context, what string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, notify.ErrNoRecipient) {
			s.log.ErrorContext(ctx, what+" failed", "err", err)
		}
	}()
}

func (s *Service) serverError(ctx context.Context, span trace.Span, msg string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.log.ErrorContext(ctx, msg, "err", err)
	return ErrServer(msg)
}

// passThrough は APIError はそのまま返し、それ以外を SERVER_ERROR にする
func (s *Service) passThrough(ctx context.Context, msg string, err error) error {
	var api *APIError
	if errors.As(err, &api) {
		return api
	}
	s.log.ErrorContext(ctx, msg, "err", err)
	return ErrServer(msg)
}

func parseBorrowID(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", ErrValidation("borrow_id is required")
	}
	id, err := ulid.ParseStrict(v)
	if err != nil {
		return "", ErrInvalidID("borrow_id must be a ULID")
	}
	return id.String(), nil
}

// parseReturnKey は数値の return_id と return_ulid の両方を受け付ける
func parseReturnKey(raw string) (ReturnKey, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ReturnKey{}, ErrValidation("return_id is required")
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n <= 0 {
			return ReturnKey{}, ErrInvalidID("return_id must be positive")
		}
		return ReturnKey{ID: n}, nil
	}
	id, err := ulid.ParseStrict(v)
	if err != nil {
		return ReturnKey{}, ErrInvalidID("return_id must be a number or a ULID")
	}
	return ReturnKey{ULID: id.String()}, nil
}

// dueOn は貸出日（図書館タイムゾーンの暦日）+ LoanPeriodDays
func dueOn(now time.Time, loc *time.Location) string {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d+LoanPeriodDays, 0, 0, 0, 0, loc).Format(penalty.DateLayout)
}

func normalizePage(p Page) Page {
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func nextOffset(p Page, n int, total int64) *int {
	next := p.Offset + n
	if int64(next) >= total {
		return nil
	}
	return &next
}

func nullablePtr(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}
