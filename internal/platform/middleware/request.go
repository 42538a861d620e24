package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"LIBRIS-backend/internal/platform/requestctx"
)

const HeaderRequestID = "X-Request-ID"

// RequestContext はリクエストIDと端末情報を context に詰める。
// ヘッダで渡された X-Request-ID があればそれを引き継ぐ。
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)

		ctx := requestctx.WithRequestID(c.Request.Context(), id)
		if ua := c.GetHeader("User-Agent"); ua != "" {
			ctx = requestctx.WithClient(ctx, DescribeClient(ua))
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessLog は gin.Logger の代わりに slog へアクセスログを出す
func AccessLog(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		status := c.Writer.Status()
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		log.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// DescribeClient: "Chrome 120.0 / Windows 10" のような短い表記
func DescribeClient(raw string) string {
	ua := useragent.New(raw)
	if ua.Bot() {
		return "bot"
	}
	name, version := ua.Browser()
	if name == "" {
		return "unknown"
	}
	os := ua.OS()
	if os == "" {
		return fmt.Sprintf("%s %s", name, version)
	}
	return fmt.Sprintf("%s %s / %s", name, version, os)
}
