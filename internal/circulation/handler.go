package circulation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc        *Service
	reconciler *Reconciler
}

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	// 貸出
	r.POST("/borrows", h.CreateBorrow)
	r.GET("/borrows", h.ListBorrows)
	r.GET("/borrows/:borrow_id", h.GetBorrow)
	// 返却（貸出を閉じる）
	r.POST("/borrows/:borrow_id/return", h.CloseBorrow)

	// 返却記録
	r.GET("/returns", h.ListReturns)
	r.GET("/returns/:return_id", h.GetReturn)
	r.POST("/returns/:return_id/receipt", h.ResendReceipt)
}

// RegisterAdminRoutes は RequireRole("admin") の下に登録する
func RegisterAdminRoutes(r gin.IRoutes, svc *Service, rec *Reconciler) {
	h := &Handler{svc: svc, reconciler: rec}
	r.DELETE("/borrows/:borrow_id", h.DeleteBorrow)
	r.DELETE("/returns/:return_id", h.DeleteReturn)
	r.POST("/admin/reconcile", h.Reconcile)
}

// ---------- handlers ----------

// CreateBorrow godoc
// @Summary  貸出登録
// @Tags     borrows
// @Param    body body CreateBorrowRequest true "borrow"
// @Success  201 {object} BorrowResponse
// @Failure  409 {object} errorDTO
// @Router   /borrows [post]
func (h *Handler) CreateBorrow(c *gin.Context) {
	var req CreateBorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeValidation, "invalid json or missing required fields"))
		return
	}
	res, err := h.svc.CreateBorrow(c.Request.Context(), req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Header("Location", "/borrows/"+res.BorrowID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetBorrow(c *gin.Context) {
	res, err := h.svc.GetBorrow(c.Request.Context(), c.Param("borrow_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListBorrows(c *gin.Context) {
	f := BorrowFilter{
		StudentNo: c.Query("student_no"),
		Status:    c.Query("status"),
	}
	res, err := h.svc.ListBorrows(c.Request.Context(), f, pageFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CloseBorrow godoc
// @Summary  返却
// @Tags     borrows
// @Param    borrow_id path string true "borrow ULID"
// @Success  201 {object} ReturnResponse
// @Success  200 {object} warningDTO "already returned"
// @Router   /borrows/{borrow_id}/return [post]
func (h *Handler) CloseBorrow(c *gin.Context) {
	res, err := h.svc.CloseBorrow(c.Request.Context(), c.Param("borrow_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.Header("Location", "/returns/"+strconv.FormatInt(res.ReturnID, 10))
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) DeleteBorrow(c *gin.Context) {
	if err := h.svc.DeleteBorrow(c.Request.Context(), c.Param("borrow_id")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetReturn(c *gin.Context) {
	res, err := h.svc.GetReturn(c.Request.Context(), c.Param("return_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListReturns(c *gin.Context) {
	f := ReturnFilter{
		StudentNo: c.Query("student_no"),
		BorrowID:  c.Query("borrow_id"),
	}
	res, err := h.svc.ListReturns(c.Request.Context(), f, pageFrom(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DeleteReturn(c *gin.Context) {
	if err := h.svc.DeleteReturnRecord(c.Request.Context(), c.Param("return_id")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ResendReceipt(c *gin.Context) {
	res, err := h.svc.ReceiptFor(c.Request.Context(), c.Param("return_id"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Reconcile(c *gin.Context) {
	n, err := h.reconciler.RunOnce(c.Request.Context())
	if err != nil {
		h.svc.log.ErrorContext(c.Request.Context(), "manual reconcile failed", "err", err)
		c.JSON(http.StatusInternalServerError, errorBody(CodeServer, "internal server error"))
		return
	}
	c.JSON(http.StatusOK, ReconcileResponse{Backfilled: n})
}

// ---------- helpers ----------

func pageFrom(c *gin.Context) Page {
	return Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
		Order:  c.DefaultQuery("order", "desc"),
	}
}

func parseIntDefault(s string, d int) int {
	if s == "" {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

type body struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

type errorDTO struct {
	Error body `json:"error"`
}

type warningDTO struct {
	Warning body `json:"warning"`
}

func errorBody(code Code, msg string) errorDTO {
	return errorDTO{Error: body{Code: code, Message: msg}}
}

// respondErr は ALREADY_CLOSED を warning として 200 で返す。
// SERVER_ERROR のメッセージは外に出さない。
func respondErr(c *gin.Context, err error) {
	api, ok := err.(*APIError)
	switch {
	case ok && api.IsWarning():
		c.JSON(http.StatusOK, warningDTO{Warning: body{Code: api.Code, Message: api.Message}})
	case ok && api.Code != CodeServer:
		c.JSON(ToHTTPStatus(err), errorBody(api.Code, api.Message))
	default:
		c.JSON(http.StatusInternalServerError, errorBody(CodeServer, "internal server error"))
	}
}
