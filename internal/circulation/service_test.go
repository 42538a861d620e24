package circulation

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"LIBRIS-backend/internal/audit"
	"LIBRIS-backend/internal/circulation/mocks"
	"LIBRIS-backend/internal/notify"
	"LIBRIS-backend/internal/platform/clock"
	"LIBRIS-backend/internal/platform/metrics"
	"LIBRIS-backend/internal/platform/requestctx"
	"LIBRIS-backend/internal/students"
)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	ctrl     *gomock.Controller
	ledger   *memLedger
	students *mocks.MockStudentDirectory
	notifier *mocks.MockNotifier
	auditor  *mocks.MockAuditor
	clock    *clock.Fixed
	metrics  *metrics.Circulation
	spans    *tracetest.SpanRecorder
	svc      *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func (s *ServiceSuite) SetupTest() {
	loc, err := time.LoadLocation("Asia/Manila")
	s.Require().NoError(err)

	s.ctx = requestctx.WithActor(context.Background(), requestctx.Actor{UserID: "librarian1", Role: "librarian"})
	s.ctrl = gomock.NewController(s.T())
	s.ledger = newMemLedger()
	s.students = mocks.NewMockStudentDirectory(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.auditor = mocks.NewMockAuditor(s.ctrl)
	s.clock = &clock.Fixed{T: time.Date(2024, 1, 15, 9, 30, 0, 0, loc), Loc: loc}
	s.metrics = metrics.NewCirculation(prometheus.NewRegistry())
	s.spans = tracetest.NewSpanRecorder()
	s.svc = NewService(Deps{
		Ledger:   s.ledger,
		Students: s.students,
		Clock:    s.clock,
		Auditor:  s.auditor,
		Notifier: s.notifier,
		Metrics:  s.metrics,
		Logger:   quietLogger(),

		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(s.spans)),
	})
}

func maria() *students.Student {
	return &students.Student{
		StudentNo: "2021-0001",
		FirstName: "Maria",
		LastName:  "Santos",
		Email:     sql.NullString{String: "maria@example.edu", Valid: true},
	}
}

// openBorrow は ISBN で書籍を指す貸出中の行を作る
func (s *ServiceSuite) openBorrow(dueOn, isbn, title string) string {
	id := ulid.Make().String()
	s.ledger.addBorrow(Borrow{
		BorrowID:   id,
		StudentNo:  "2021-0001",
		ISBN:       sql.NullString{String: isbn, Valid: isbn != ""},
		Title:      title,
		BorrowedAt: time.Date(2024, 1, 3, 1, 0, 0, 0, time.UTC),
		DueOn:      dueOn,
	})
	return id
}

func (s *ServiceSuite) closedBorrow(dueOn, isbn string, returnedAt time.Time, amount int64) string {
	id := ulid.Make().String()
	s.ledger.addBorrow(Borrow{
		BorrowID:   id,
		StudentNo:  "2021-0001",
		ISBN:       sql.NullString{String: isbn, Valid: true},
		Title:      "Dune",
		BorrowedAt: time.Date(2024, 1, 3, 1, 0, 0, 0, time.UTC),
		DueOn:      dueOn,
		ReturnedAt: sql.NullTime{Time: returnedAt, Valid: true},
		Penalty:    sql.NullInt64{Int64: amount, Valid: true},
	})
	return id
}

func (s *ServiceSuite) expectReturnSideEffects(title string) {
	s.students.EXPECT().Lookup(gomock.Any(), "2021-0001").Return(maria(), nil)
	s.auditor.EXPECT().Record(gomock.Any(), audit.ActionReturn, "Returned "+title+" by Maria Santos")
	s.notifier.EXPECT().ReturnReceipt(gomock.Any(), gomock.Any()).Return(nil)
}

// 5日遅れの返却: 罰金50・在庫+1・返却記録1件
func (s *ServiceSuite) TestCloseBorrow_LateReturn() {
	book := s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 2})
	id := s.openBorrow("2024-01-10", "9780441172719", "Dune")

	s.students.EXPECT().Lookup(gomock.Any(), "2021-0001").Return(maria(), nil)
	s.auditor.EXPECT().Record(gomock.Any(), audit.ActionReturn, "Returned Dune by Maria Santos")
	s.notifier.EXPECT().ReturnReceipt(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r notify.ReturnReceipt) error {
			s.Equal(int64(50), r.Penalty)
			s.Equal("maria@example.edu", r.To.Address)
			s.Equal("2024-01-10", r.DueOn)
			return nil
		})

	res, err := s.svc.CloseBorrow(s.ctx, id)
	s.svc.Wait()
	s.Require().NoError(err)

	s.Equal(int64(50), res.Penalty)
	s.Equal(id, res.BorrowID)
	s.Equal("RET-"+res.ReturnULID, res.ReceiptCode)
	s.NotZero(res.ReturnID)
	s.Equal(3, s.ledger.quantity(book))
	s.Equal(1, s.ledger.returnCount())

	b, err := s.ledger.GetBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.True(b.Closed())
	s.Equal(int64(50), b.Penalty.Int64)
	s.Equal(s.clock.Now().Truncate(time.Second), b.ReturnedAt.Time)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.ReturnsClosed))
	s.Equal(50.0, testutil.ToFloat64(s.metrics.PenaltyAssessed))
}

// 返却済みの貸出は何も変えずに ALREADY_CLOSED
func (s *ServiceSuite) TestCloseBorrow_AlreadyClosed() {
	book := s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 2})
	id := s.closedBorrow("2024-01-10", "9780441172719", time.Date(2024, 1, 12, 2, 0, 0, 0, time.UTC), 20)

	res, err := s.svc.CloseBorrow(s.ctx, id)
	s.Nil(res)
	s.Equal(CodeAlreadyClosed, CodeOf(err))
	s.Equal(2, s.ledger.quantity(book))
	s.Equal(0, s.ledger.returnCount())

	b, _ := s.ledger.GetBorrow(s.ctx, id)
	s.Equal(int64(20), b.Penalty.Int64)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AlreadyClosed))
}

func (s *ServiceSuite) TestCloseBorrow_TwiceOnlyRestocksOnce() {
	book := s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 0})
	id := s.openBorrow("2024-01-20", "9780441172719", "Dune")
	s.expectReturnSideEffects("Dune")

	first, err := s.svc.CloseBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.Zero(first.Penalty)

	_, err = s.svc.CloseBorrow(s.ctx, id)
	s.svc.Wait()
	s.Equal(CodeAlreadyClosed, CodeOf(err))
	s.Equal(1, s.ledger.quantity(book))
	s.Equal(1, s.ledger.returnCount())
}

// 取得後・更新前に別リクエストが返却した場合
func (s *ServiceSuite) TestCloseBorrow_LosesRace() {
	book := s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 1})
	id := s.openBorrow("2024-01-10", "9780441172719", "Dune")
	s.ledger.beforeClose = func() {
		s.ledger.beforeClose = nil
		_, err := s.ledger.ExecCloseBorrow(s.ctx, &Borrow{BorrowID: id, ISBN: sql.NullString{String: "9780441172719", Valid: true}},
			&ReturnRecord{ReturnULID: ulid.Make().String(), BorrowID: id, ReturnedAt: time.Now(), Penalty: 50})
		s.Require().NoError(err)
	}

	_, err := s.svc.CloseBorrow(s.ctx, id)
	s.Equal(CodeAlreadyClosed, CodeOf(err))
	s.Equal(2, s.ledger.quantity(book), "only the winning close restocks")
	s.Equal(1, s.ledger.returnCount())
}

func (s *ServiceSuite) TestCloseBorrow_BadIDs() {
	_, err := s.svc.CloseBorrow(s.ctx, "")
	s.Equal(CodeValidation, CodeOf(err))

	_, err = s.svc.CloseBorrow(s.ctx, "   ")
	s.Equal(CodeValidation, CodeOf(err))

	_, err = s.svc.CloseBorrow(s.ctx, "not-a-ulid")
	s.Equal(CodeInvalidID, CodeOf(err))

	_, err = s.svc.CloseBorrow(s.ctx, ulid.Make().String())
	s.Equal(CodeNotFound, CodeOf(err))
}

// 書籍行が無くても返却は確定し、警告だけ残す
func (s *ServiceSuite) TestCloseBorrow_UnmatchedBookStillCloses() {
	id := s.openBorrow("2024-01-14", "9999999999999", "Lost Book")

	s.students.EXPECT().Lookup(gomock.Any(), "2021-0001").Return(nil, students.ErrNotFound("student not found"))
	s.auditor.EXPECT().Record(gomock.Any(), audit.ActionReturn, "Returned Lost Book by 2021-0001")

	res, err := s.svc.CloseBorrow(s.ctx, id)
	s.svc.Wait()
	s.Require().NoError(err)
	s.Equal(int64(10), res.Penalty)
	s.Equal(1, s.ledger.returnCount())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.UnmatchedBooks))
}

func (s *ServiceSuite) TestCloseBorrow_MalformedDueDate() {
	s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 0})
	id := s.openBorrow("10/01/2024", "9780441172719", "Dune")
	s.expectReturnSideEffects("Dune")

	res, err := s.svc.CloseBorrow(s.ctx, id)
	s.svc.Wait()
	s.Require().NoError(err)
	s.Zero(res.Penalty)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.DateParseErrors))
}

func (s *ServiceSuite) TestCloseBorrow_NotifierFailureDoesNotFailReturn() {
	s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 0})
	id := s.openBorrow("2024-01-10", "9780441172719", "Dune")
	s.students.EXPECT().Lookup(gomock.Any(), "2021-0001").Return(maria(), nil)
	s.auditor.EXPECT().Record(gomock.Any(), audit.ActionReturn, gomock.Any())
	s.notifier.EXPECT().ReturnReceipt(gomock.Any(), gomock.Any()).Return(errors.New("sendgrid: status 500"))

	res, err := s.svc.CloseBorrow(s.ctx, id)
	s.svc.Wait()
	s.Require().NoError(err)
	s.Equal(int64(50), res.Penalty)
}

// 確定した罰金は時間が経っても変わらない
func (s *ServiceSuite) TestGetBorrow_ClosedPenaltyIsFrozen() {
	s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 0})
	id := s.openBorrow("2024-01-10", "9780441172719", "Dune")
	s.expectReturnSideEffects("Dune")
	_, err := s.svc.CloseBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.svc.Wait()

	s.clock.Advance(30 * 24 * time.Hour)
	got, err := s.svc.GetBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(int64(50), got.Penalty)
	s.Equal(StatusClosed, got.Status)
	s.NotNil(got.ReturnedAt)
}

func (s *ServiceSuite) TestGetBorrow_OpenPenaltyIsLive() {
	id := s.openBorrow("2024-01-10", "9780441172719", "Dune")

	got, err := s.svc.GetBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(int64(50), got.Penalty)
	s.Equal(5, got.DaysOverdue)
	s.Equal(StatusOverdue, got.Status)

	s.clock.Advance(24 * time.Hour)
	got, err = s.svc.GetBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(int64(60), got.Penalty)
}

func (s *ServiceSuite) TestGetBorrow_FlagsUnreadableDueDate() {
	id := s.openBorrow("someday", "9780441172719", "Dune")

	got, err := s.svc.GetBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.Zero(got.Penalty)
	s.True(got.DateParseError)
	s.Equal(StatusOpen, got.Status)
}

func (s *ServiceSuite) TestListBorrows() {
	s.openBorrow("2024-01-10", "9780441172719", "Dune")
	s.openBorrow("2024-01-20", "9780441172719", "Dune")
	s.closedBorrow("2024-01-05", "9780441172719", time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), 10)

	all, err := s.svc.ListBorrows(s.ctx, BorrowFilter{}, Page{})
	s.Require().NoError(err)
	s.EqualValues(3, all.Total)

	overdue, err := s.svc.ListBorrows(s.ctx, BorrowFilter{Status: StatusOverdue}, Page{})
	s.Require().NoError(err)
	s.Require().Len(overdue.Items, 1)
	s.Equal(int64(50), overdue.Items[0].Penalty)

	_, err = s.svc.ListBorrows(s.ctx, BorrowFilter{Status: "lost"}, Page{})
	s.Equal(CodeValidation, CodeOf(err))
}

// 延滞の絞り込みは一覧表示と同じ Engine で判定する（旧形式の日付も含む）
func (s *ServiceSuite) TestListBorrows_OverdueFollowsPenaltyEngine() {
	slash := s.openBorrow("2024/01/10", "9780441172719", "Dune")
	s.openBorrow("", "9780441172719", "Dune")
	s.openBorrow("someday", "9780441172719", "Dune")
	s.openBorrow("2024-01-20", "9780441172719", "Dune")
	s.openBorrow("2024-01-15", "9780441172719", "Dune")
	dashed := s.openBorrow("2024-01-14", "9780441172719", "Dune")
	s.closedBorrow("2024-01-05", "9780441172719", time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), 10)

	got, err := s.svc.ListBorrows(s.ctx, BorrowFilter{Status: StatusOverdue}, Page{})
	s.Require().NoError(err)
	s.EqualValues(2, got.Total)
	s.Require().Len(got.Items, 2)
	s.Nil(got.NextOffset)

	penalties := map[string]int64{}
	for _, it := range got.Items {
		s.Equal(StatusOverdue, it.Status)
		s.False(it.DateParseError)
		penalties[it.BorrowID] = it.Penalty
	}
	s.Equal(map[string]int64{slash: 50, dashed: 10}, penalties)
}

func (s *ServiceSuite) TestListBorrows_OverduePaging() {
	for i := 0; i < 3; i++ {
		s.openBorrow("2024-01-10", "9780441172719", "Dune")
	}
	s.openBorrow("2024-01-30", "9780441172719", "Dune")

	first, err := s.svc.ListBorrows(s.ctx, BorrowFilter{Status: StatusOverdue}, Page{Limit: 2})
	s.Require().NoError(err)
	s.EqualValues(3, first.Total)
	s.Len(first.Items, 2)
	s.Require().NotNil(first.NextOffset)
	s.Equal(2, *first.NextOffset)

	rest, err := s.svc.ListBorrows(s.ctx, BorrowFilter{Status: StatusOverdue}, Page{Limit: 2, Offset: 2})
	s.Require().NoError(err)
	s.Len(rest.Items, 1)
	s.Nil(rest.NextOffset)

	past, err := s.svc.ListBorrows(s.ctx, BorrowFilter{Status: StatusOverdue}, Page{Limit: 2, Offset: 10})
	s.Require().NoError(err)
	s.Empty(past.Items)
	s.EqualValues(3, past.Total)
}

// isbn と accession_number が別々の書籍行に当たる場合は isbn 側だけ在庫を戻す
func (s *ServiceSuite) TestCloseBorrow_PrefersISBNOverAccession() {
	byISBN := s.ledger.addBook(memBook{ISBN: "111", Title: "Dune", Quantity: 0})
	byAccession := s.ledger.addBook(memBook{Accession: "222", Title: "Emma", Quantity: 0})
	id := ulid.Make().String()
	s.ledger.addBorrow(Borrow{
		BorrowID:        id,
		StudentNo:       "2021-0001",
		ISBN:            sql.NullString{String: "111", Valid: true},
		AccessionNumber: sql.NullString{String: "222", Valid: true},
		Title:           "Dune",
		BorrowedAt:      time.Date(2024, 1, 3, 1, 0, 0, 0, time.UTC),
		DueOn:           "2024-01-10",
	})
	s.expectReturnSideEffects("Dune")

	res, err := s.svc.CloseBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.svc.Wait()

	s.Equal(1, s.ledger.quantity(byISBN))
	s.Equal(0, s.ledger.quantity(byAccession))
	s.Require().NotNil(res.ISBN)
	s.Equal("111", *res.ISBN)
	s.Require().NotNil(res.AccessionNumber)
	s.Equal("222", *res.AccessionNumber)
}

func (s *ServiceSuite) TestCloseBorrow_RecordsSpan() {
	s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 0})
	id := s.openBorrow("2024-01-10", "9780441172719", "Dune")
	s.expectReturnSideEffects("Dune")

	_, err := s.svc.CloseBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.svc.Wait()

	ended := s.spans.Ended()
	s.Require().Len(ended, 1)
	s.Equal("circulation.CloseBorrow", ended[0].Name())
	s.Contains(ended[0].Attributes(), attribute.Int64("penalty", 50))
	s.Contains(ended[0].Attributes(), attribute.String("borrow_id", id))
}

// 返却記録の削除は在庫にも貸出状態にも影響しない
func (s *ServiceSuite) TestDeleteReturnRecord_LeavesInventoryAlone() {
	book := s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 0})
	id := s.openBorrow("2024-01-10", "9780441172719", "Dune")
	s.expectReturnSideEffects("Dune")
	res, err := s.svc.CloseBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.svc.Wait()
	s.Equal(1, s.ledger.quantity(book))

	s.auditor.EXPECT().Record(gomock.Any(), audit.ActionDeleteReturn, gomock.Any())
	s.Require().NoError(s.svc.DeleteReturnRecord(s.ctx, res.ReturnULID))

	s.Equal(1, s.ledger.quantity(book))
	s.Equal(0, s.ledger.returnCount())
	b, _ := s.ledger.GetBorrow(s.ctx, id)
	s.True(b.Closed(), "borrow must not be reopened")

	// 照合処理は墓標のある貸出を復活させない
	n, err := NewReconciler(s.svc, ReconcilerConfig{}).RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Equal(0, s.ledger.returnCount())
}

func (s *ServiceSuite) TestDeleteReturnRecord_IDs() {
	s.Equal(CodeValidation, CodeOf(s.svc.DeleteReturnRecord(s.ctx, "")))
	s.Equal(CodeInvalidID, CodeOf(s.svc.DeleteReturnRecord(s.ctx, "abc")))
	s.Equal(CodeInvalidID, CodeOf(s.svc.DeleteReturnRecord(s.ctx, "-4")))
	s.Equal(CodeNotFound, CodeOf(s.svc.DeleteReturnRecord(s.ctx, "999")))
	s.Equal(CodeNotFound, CodeOf(s.svc.DeleteReturnRecord(s.ctx, ulid.Make().String())))
}

func (s *ServiceSuite) TestDeleteBorrow_DoesNotTouchInventory() {
	book := s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 0})
	id := s.openBorrow("2024-01-10", "9780441172719", "Dune")

	s.auditor.EXPECT().Record(gomock.Any(), audit.ActionDeleteBorrow, gomock.Any())
	s.Require().NoError(s.svc.DeleteBorrow(s.ctx, id))
	s.Equal(0, s.ledger.quantity(book))

	s.Equal(CodeNotFound, CodeOf(s.svc.DeleteBorrow(s.ctx, id)))
}

func (s *ServiceSuite) TestCreateBorrow_ThenReturnConservesStock() {
	book := s.ledger.addBook(memBook{ISBN: "9780441172719", Accession: "ACC-0042", Title: "Dune", Quantity: 1})

	s.students.EXPECT().Lookup(gomock.Any(), "2021-0001").Return(maria(), nil).Times(2)
	s.auditor.EXPECT().Record(gomock.Any(), audit.ActionBorrow, "Borrowed Dune by Maria Santos")
	s.notifier.EXPECT().BorrowReceipt(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r notify.BorrowReceipt) error {
			s.Equal("2024-01-22", r.DueOn)
			return nil
		})

	created, err := s.svc.CreateBorrow(s.ctx, CreateBorrowRequest{StudentNo: "2021-0001", Identifier: "ACC-0042"})
	s.Require().NoError(err)
	s.Equal("2024-01-22", created.DueOn)
	s.Equal("Dune", created.Title)
	s.Equal(StatusOpen, created.Status)
	s.Require().NotNil(created.BookIdentifier)
	s.Equal("ACC-0042", *created.BookIdentifier)
	s.Equal(0, s.ledger.quantity(book))

	// 在庫切れ
	_, err = s.svc.CreateBorrow(s.ctx, CreateBorrowRequest{StudentNo: "2021-0001", Identifier: "9780441172719"})
	s.Equal(CodeConflict, CodeOf(err))

	s.auditor.EXPECT().Record(gomock.Any(), audit.ActionReturn, gomock.Any())
	s.notifier.EXPECT().ReturnReceipt(gomock.Any(), gomock.Any()).Return(nil)
	s.students.EXPECT().Lookup(gomock.Any(), "2021-0001").Return(maria(), nil)
	_, err = s.svc.CloseBorrow(s.ctx, created.BorrowID)
	s.Require().NoError(err)
	s.svc.Wait()
	s.Equal(1, s.ledger.quantity(book))
}

func (s *ServiceSuite) TestCreateBorrow_Validation() {
	_, err := s.svc.CreateBorrow(s.ctx, CreateBorrowRequest{StudentNo: "", Identifier: "ACC-1"})
	s.Equal(CodeValidation, CodeOf(err))

	s.students.EXPECT().Lookup(gomock.Any(), "0000").Return(nil, students.ErrNotFound("student not found"))
	_, err = s.svc.CreateBorrow(s.ctx, CreateBorrowRequest{StudentNo: "0000", Identifier: "ACC-1"})
	s.Equal(CodeNotFound, CodeOf(err))

	s.students.EXPECT().Lookup(gomock.Any(), "2021-0001").Return(maria(), nil)
	_, err = s.svc.CreateBorrow(s.ctx, CreateBorrowRequest{StudentNo: "2021-0001", Identifier: "UNKNOWN"})
	s.Equal(CodeNotFound, CodeOf(err))
}

func (s *ServiceSuite) TestReceiptFor() {
	s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 0})
	id := s.openBorrow("2024-01-10", "9780441172719", "Dune")
	s.expectReturnSideEffects("Dune")
	res, err := s.svc.CloseBorrow(s.ctx, id)
	s.Require().NoError(err)
	s.svc.Wait()

	s.students.EXPECT().Lookup(gomock.Any(), "2021-0001").Return(maria(), nil)
	s.notifier.EXPECT().ReturnReceipt(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, r notify.ReturnReceipt) error {
			s.Equal(res.ReturnULID, r.ReturnID)
			s.Equal(int64(50), r.Penalty)
			return nil
		})
	got, err := s.svc.ReceiptFor(s.ctx, "1")
	s.Require().NoError(err)
	s.Equal("RET-"+res.ReturnULID, got.ReceiptCode)
	s.Equal("maria@example.edu", got.SentTo)

	noMail := maria()
	noMail.Email = sql.NullString{}
	s.students.EXPECT().Lookup(gomock.Any(), "2021-0001").Return(noMail, nil)
	_, err = s.svc.ReceiptFor(s.ctx, res.ReturnULID)
	s.Equal(CodeValidation, CodeOf(err))
}

func (s *ServiceSuite) TestReconciler_BackfillsMissingReturn() {
	book := s.ledger.addBook(memBook{ISBN: "9780441172719", Title: "Dune", Quantity: 4})
	returnedAt := time.Date(2024, 1, 12, 2, 0, 0, 0, time.UTC)
	id := s.closedBorrow("2024-01-10", "9780441172719", returnedAt, 20)

	s.auditor.EXPECT().Record(gomock.Any(), audit.ActionReconcile, "Back-filled 1 return records")
	r := NewReconciler(s.svc, ReconcilerConfig{BatchSize: 10})

	n, err := r.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, n)

	got, err := s.svc.ListReturns(s.ctx, ReturnFilter{BorrowID: id}, Page{})
	s.Require().NoError(err)
	s.Require().Len(got.Items, 1)
	s.Equal(int64(20), got.Items[0].Penalty)
	s.Equal(returnedAt, got.Items[0].ReturnedAt)
	s.Equal(4, s.ledger.quantity(book), "reconciliation never touches stock")

	n, err = r.RunOnce(s.ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Reconciled))
}

func (s *ServiceSuite) TestReconciler_RunStopsWithContext() {
	r := NewReconciler(s.svc, ReconcilerConfig{Interval: time.Millisecond})
	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()
	s.NoError(r.Run(ctx))
}
