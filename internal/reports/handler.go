package reports

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.GET("/reports/overdue", h.Overdue)
	r.GET("/reports/overdue.csv", h.OverdueCSV)
	r.GET("/reports/loans", h.Loans)
	r.GET("/reports/summary", h.Summary)
}

// Overdue godoc
// @Summary  延滞一覧（罰金は行ごとに計算、合計は行の和）
// @Tags     reports
// @Param    student_no query string false "student number"
// @Success  200 {object} LoanReport
// @Router   /reports/overdue [get]
func (h *Handler) Overdue(c *gin.Context) {
	rep, err := h.svc.Overdue(c.Request.Context(), c.Query("student_no"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, rep)
}

// OverdueCSV godoc
// @Summary  延滞一覧 CSV
// @Tags     reports
// @Produce  text/csv
// @Param    encoding query string false "utf8 | utf8bom | sjis"
// @Router   /reports/overdue.csv [get]
func (h *Handler) OverdueCSV(c *gin.Context) {
	enc, err := ParseEncoding(c.Query("encoding"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	rep, err := h.svc.Overdue(c.Request.Context(), c.Query("student_no"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}

	// 途中で失敗しても壊れた CSV は返さない
	var buf bytes.Buffer
	if err := WriteCSV(&buf, rep, enc); err != nil {
		h.svc.log.ErrorContext(c.Request.Context(), "csv export failed", "err", err)
		c.JSON(http.StatusInternalServerError, errorBody(CodeServer, "internal server error"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="overdue-%s.csv"`, rep.AsOf))
	c.Data(http.StatusOK, enc.ContentType(), buf.Bytes())
}

func (h *Handler) Loans(c *gin.Context) {
	f := LoanFilter{
		Status:    c.Query("status"),
		StudentNo: c.Query("student_no"),
		From:      c.Query("from"),
		To:        c.Query("to"),
	}
	rep, err := h.svc.Loans(c.Request.Context(), f)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, rep)
}

// Summary godoc
// @Summary  日別の貸出・返却・罰金徴収（既定は直近7日）
// @Tags     reports
// @Param    from query string false "YYYY-MM-DD"
// @Param    to   query string false "YYYY-MM-DD"
// @Success  200 {object} SummaryReport
// @Router   /reports/summary [get]
func (h *Handler) Summary(c *gin.Context) {
	rep, err := h.svc.Summary(c.Request.Context(), c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ===== helpers =====
type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errorDTO {
	if api, ok := err.(*APIError); ok && api.Code != CodeServer {
		return errorBody(api.Code, api.Message)
	}
	return errorBody(CodeServer, "internal server error")
}
