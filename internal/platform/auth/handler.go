package auth

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct{ svc AuthService }

func RegisterRoutes(r gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	r.POST("/login", h.Login)
}

// RegisterAdminRoutes は RequireRole("admin") の下に登録する
func RegisterAdminRoutes(r gin.IRoutes, svc AuthService) {
	h := &AuthHandler{svc: svc}
	r.POST("/register", h.Register)
	r.GET("/accounts", h.ListAccounts)
	r.PUT("/accounts/:id/disabled", h.SetDisabled)
	r.DELETE("/accounts/:id", h.DeleteAccount)
	r.PATCH("/accounts/:id", h.ChangeUsername) // “ユーザー名変更” = id変更
}

type LoginRequest struct {
	ID       string `json:"id" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

// Login godoc
// @Summary  ログイン（JWT 発行）
// @Tags     auth
// @Param    body body LoginRequest true "credentials"
// @Success  200 {object} LoginResponse
// @Failure  401 {object} errorDTO
// @Router   /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "invalid request"))
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.ID, req.Password)
	if err != nil {
		if errors.Is(err, ErrAuthFailed) {
			c.JSON(http.StatusUnauthorized, errorBody("UNAUTHORIZED", "IDまたはパスワードが間違っています"))
			return
		}
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Token: token, Message: "Login successful"})
}

type RegisterRequest struct {
	ID       string  `json:"id" binding:"required"`
	Password string  `json:"password" binding:"required"`
	Role     *string `json:"role,omitempty"` // 未指定なら librarian
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "invalid request"))
		return
	}
	role := ""
	if req.Role != nil {
		role = *req.Role
	}
	if err := h.svc.Register(c.Request.Context(), req.ID, req.Password, role); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "registered"})
}

func (h *AuthHandler) ListAccounts(c *gin.Context) {
	accts, err := h.svc.List(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": accts})
}

type SetDisabledRequest struct {
	Disabled *bool `json:"disabled" binding:"required"`
}

func (h *AuthHandler) SetDisabled(c *gin.Context) {
	var req SetDisabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "disabled is required"))
		return
	}
	if err := h.svc.SetDisabled(c.Request.Context(), c.Param("id"), *req.Disabled); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondErr(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type ChangeUsernameRequest struct {
	NewID string `json:"new_id" binding:"required"`
}

func (h *AuthHandler) ChangeUsername(c *gin.Context) {
	var req ChangeUsernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", "invalid request"))
		return
	}
	if err := h.svc.ChangeID(c.Request.Context(), c.Param("id"), req.NewID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "username changed"})
}

// ===== helpers =====

type errorDTO struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorBody("VALIDATION_ERROR", err.Error()))
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("NOT_FOUND", "account not found"))
	case errors.Is(err, ErrAlreadyExists):
		c.JSON(http.StatusConflict, errorBody("CONFLICT", "ID already exists"))
	default:
		c.JSON(http.StatusInternalServerError, errorBody("SERVER_ERROR", "internal server error"))
	}
}
