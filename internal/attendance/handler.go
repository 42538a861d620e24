package attendance

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.POST("/attendances/check-in", h.CheckIn)
	r.POST("/attendances/check-out", h.CheckOut)
	r.GET("/attendances", h.List)
	r.GET("/attendances/stats", h.Stats)
}

// RegisterAdminRoutes は RequireRole("admin") の下に登録する
func RegisterAdminRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}
	r.DELETE("/attendances/:id", h.Delete)
}

// CheckIn godoc
// @Summary  入館
// @Tags     attendances
// @Param    body body CheckInRequest true "check-in"
// @Success  201 {object} AttendanceResponse
// @Success  200 {object} AttendanceResponse "already checked in today"
// @Router   /attendances/check-in [post]
func (h *Handler) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeValidation, "invalid json or student_no"))
		return
	}
	res, created, err := h.svc.CheckIn(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	if created {
		c.JSON(http.StatusCreated, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

// CheckOut godoc
// @Summary  退館
// @Tags     attendances
// @Param    body body CheckOutRequest true "check-out"
// @Success  200 {object} AttendanceResponse
// @Failure  404 {object} errorDTO
// @Failure  409 {object} errorDTO
// @Router   /attendances/check-out [post]
func (h *Handler) CheckOut(c *gin.Context) {
	var req CheckOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeValidation, "invalid json or student_no"))
		return
	}
	res, err := h.svc.CheckOut(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) List(c *gin.Context) {
	q := ListQuery{
		StudentNo: c.Query("student_no"),
		On:        c.Query("on"),
		From:      c.Query("from"),
		To:        c.Query("to"),
		Limit:     parseIntDefault(c.Query("limit"), DefaultPageLimit),
		Offset:    parseIntDefault(c.Query("offset"), 0),
		Sort:      c.Query("sort"),
	}
	res, err := h.svc.List(c.Request.Context(), q)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Stats(c *gin.Context) {
	req := StatsRequest{
		From:  c.Query("from"),
		To:    c.Query("to"),
		Limit: parseIntDefault(c.Query("limit"), 10),
	}
	res, err := h.svc.Stats(c.Request.Context(), req)
	if err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": res})
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidID, "invalid attendance id"))
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		c.JSON(ToHTTPStatus(err), errorFromErr(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// ===== helpers =====

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

// 500 系は内部メッセージを返さない
func errorFromErr(err error) errorDTO {
	if api, ok := err.(*APIError); ok && api.Code != CodeServer {
		return errorBody(api.Code, api.Message)
	}
	return errorBody(CodeServer, "internal server error")
}
