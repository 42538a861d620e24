package attendance

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/audit"
	"LIBRIS-backend/internal/platform/clock"
	"LIBRIS-backend/internal/platform/validation"
	"LIBRIS-backend/internal/students"
)

var columns = []string{"attendance_id", "student_no", "attended_on", "time_in", "time_out", "note"}

type staticStudents map[string]*students.Student

func (m staticStudents) Lookup(_ context.Context, no string) (*students.Student, error) {
	if st, ok := m[no]; ok {
		return st, nil
	}
	return nil, students.ErrNotFound("student not found")
}

type recordedEvent struct{ action, details string }

type fakeAuditor struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeAuditor) Record(_ context.Context, action, details string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{action, details})
}

type fixture struct {
	svc   *Service
	mock  sqlmock.Sqlmock
	audit *fakeAuditor
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	loc, err := time.LoadLocation("Asia/Manila")
	require.NoError(t, err)
	// 2024-01-15 00:30 Manila = 2024-01-14 16:30 UTC（日付はマニラ基準）
	c := &clock.Fixed{T: time.Date(2024, 1, 15, 0, 30, 0, 0, loc), Loc: loc}
	a := &fakeAuditor{}
	dir := staticStudents{"2021-0001": {StudentNo: "2021-0001", FirstName: "Maria", LastName: "Santos"}}
	return &fixture{
		svc:   NewService(conn, dir, c, a, slog.New(slog.NewTextHandler(io.Discard, nil))),
		mock:  mock,
		audit: a,
		now:   c.Now(),
	}
}

func TestCheckIn_UsesLibraryDate(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectExec(`INSERT INTO attendances`).
		WithArgs("2021-0001", "2024-01-15", f.now.UTC(), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectQuery(`FROM attendances WHERE student_no = \? AND attended_on = \?`).
		WithArgs("2021-0001", "2024-01-15").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "2021-0001", "2024-01-15", f.now.UTC(), nil, nil))

	res, created, err := f.svc.CheckIn(context.Background(), CheckInRequest{StudentNo: "2021-0001"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "2024-01-15", res.AttendedOn)
	assert.Nil(t, res.TimeOut)
	require.Len(t, f.audit.events, 1)
	assert.Equal(t, recordedEvent{audit.ActionCheckIn, "Checked in Maria Santos"}, f.audit.events[0])
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckIn_SecondTimeReturnsExisting(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectExec(`INSERT INTO attendances`).WillReturnResult(sqlmock.NewResult(0, 0))
	f.mock.ExpectQuery(`FROM attendances`).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "2021-0001", "2024-01-15", f.now.UTC(), nil, "study"))

	res, created, err := f.svc.CheckIn(context.Background(), CheckInRequest{StudentNo: "2021-0001"})
	require.NoError(t, err)
	assert.False(t, created)
	require.NotNil(t, res.Note)
	assert.Equal(t, "study", *res.Note)
	assert.Empty(t, f.audit.events)
}

func TestCheckIn_UnknownStudent(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CheckIn(context.Background(), CheckInRequest{StudentNo: "9999-0000"})
	assert.Equal(t, 404, ToHTTPStatus(err))
}

func TestCheckOut(t *testing.T) {
	testCases := []struct {
		name    string
		updated int64
		exists  bool
		status  int
	}{
		{"closes open visit", 1, true, 200},
		{"already checked out", 0, true, 409},
		{"never checked in", 0, false, 404},
	}
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.mock.ExpectExec(`UPDATE attendances SET time_out = \? WHERE student_no = \? AND attended_on = \? AND time_out IS NULL`).
				WithArgs(f.now.UTC(), "2021-0001", "2024-01-15").
				WillReturnResult(sqlmock.NewResult(0, tt.updated))
			if tt.updated == 1 {
				f.mock.ExpectQuery(`FROM attendances WHERE student_no = \?`).
					WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "2021-0001", "2024-01-15", f.now.UTC(), f.now.UTC(), nil))
			} else {
				rows := sqlmock.NewRows([]string{"1"})
				if tt.exists {
					rows.AddRow(1)
				}
				f.mock.ExpectQuery(`SELECT 1 FROM attendances`).WillReturnRows(rows)
			}

			res, err := f.svc.CheckOut(context.Background(), CheckOutRequest{StudentNo: "2021-0001"})
			if tt.status == 200 {
				require.NoError(t, err)
				assert.NotNil(t, res.TimeOut)
				assert.Equal(t, audit.ActionCheckOut, f.audit.events[0].action)
			} else {
				assert.Equal(t, tt.status, ToHTTPStatus(err))
				assert.Empty(t, f.audit.events)
			}
			assert.NoError(t, f.mock.ExpectationsWereMet())
		})
	}
}

func TestList_TodayAndPaging(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(`FROM attendances WHERE attended_on = \? ORDER BY time_in DESC, attendance_id DESC LIMIT 1 OFFSET 0`).
		WithArgs("2024-01-15").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "2021-0001", "2024-01-15", f.now.UTC(), nil, nil))
	f.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM attendances WHERE attended_on = \?`).
		WithArgs("2024-01-15").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	res, err := f.svc.List(context.Background(), ListQuery{On: "today", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
	assert.Equal(t, int64(3), res.Total)
	require.NotNil(t, res.NextOffset)
	assert.Equal(t, 1, *res.NextOffset)

	_, err = f.svc.List(context.Background(), ListQuery{From: "15/01/2024"})
	assert.Equal(t, 400, ToHTTPStatus(err))
}

func TestStats_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Stats(context.Background(), StatsRequest{From: "2024-01-31", To: "2024-01-01"})
	assert.Equal(t, 400, ToHTTPStatus(err))
	_, err = f.svc.Stats(context.Background(), StatsRequest{To: "2024-01-01"})
	assert.Equal(t, 400, ToHTTPStatus(err))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	f.mock.ExpectQuery(`FROM attendances WHERE attendance_id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(7, "2021-0001", "2024-01-12", f.now.UTC(), nil, nil))
	f.mock.ExpectExec(`DELETE FROM attendances WHERE attendance_id = \?`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, f.svc.Delete(context.Background(), 7))
	assert.Equal(t, audit.ActionDeleteAttend, f.audit.events[0].action)

	f.mock.ExpectQuery(`FROM attendances WHERE attendance_id = \?`).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(columns))
	assert.Equal(t, 404, ToHTTPStatus(f.svc.Delete(context.Background(), 8)))
	assert.Equal(t, 400, ToHTTPStatus(f.svc.Delete(context.Background(), 0)))
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestHandler_CheckInAndDelete(t *testing.T) {
	gin.SetMode(gin.TestMode)
	require.NoError(t, validation.RegisterGin())
	f := newFixture(t)
	r := gin.New()
	RegisterRoutes(r, f.svc)
	RegisterAdminRoutes(r, f.svc)

	f.mock.ExpectExec(`INSERT INTO attendances`).WillReturnResult(sqlmock.NewResult(1, 1))
	f.mock.ExpectQuery(`FROM attendances`).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(1, "2021-0001", "2024-01-15", f.now.UTC(), nil, nil))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/attendances/check-in", strings.NewReader(`{"student_no":"2021-0001"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"attended_on":"2024-01-15"`)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/attendances/check-in", strings.NewReader(`{"student_no":"!"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/attendances/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"INVALID_ID"`)
}
