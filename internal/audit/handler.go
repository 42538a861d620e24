package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

type Handler struct{ store *Store }

// RegisterRoutes は管理者用の操作ログ参照
func RegisterRoutes(r gin.IRoutes, store *Store) {
	h := &Handler{store: store}
	r.GET("/activity-logs", h.List)
}

func (h *Handler) List(c *gin.Context) {
	f := Filter{Action: c.Query("action"), UserID: c.Query("user_id")}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &t
		}
	}
	p := Page{
		Limit:  parseIntDefault(c.Query("limit"), 50),
		Offset: parseIntDefault(c.Query("offset"), 0),
	}
	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 50
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	items, total, err := h.store.List(c.Request.Context(), f, p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"code": "SERVER_ERROR", "message": "internal server error"}})
		return
	}
	res := LogListResponse{Items: items, Total: total}
	if res.Items == nil {
		res.Items = []LogResponse{}
	}
	if next := p.Offset + len(items); int64(next) < total {
		res.NextOffset = &next
	}
	c.JSON(http.StatusOK, res)
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
