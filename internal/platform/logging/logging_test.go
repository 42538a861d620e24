package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIBRIS-backend/internal/platform/config"
	"LIBRIS-backend/internal/platform/requestctx"
)

func TestNewWithWriter_AddsRequestContext(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&config.Config{Mode: config.ModeRelease}, &buf)

	ctx := requestctx.WithRequestID(context.Background(), "req-42")
	ctx = requestctx.WithActor(ctx, requestctx.Actor{UserID: "admin"})
	log.InfoContext(ctx, "book returned", "borrow_id", "01HX")

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-42"`)
	assert.Contains(t, out, `"user_id":"admin"`)
	assert.Contains(t, out, `"borrow_id":"01HX"`)
}

func TestRollbarHandler_ReportsErrorsOnly(t *testing.T) {
	var buf bytes.Buffer
	var reported [][]interface{}
	h := &rollbarHandler{
		Handler: slog.NewTextHandler(&buf, nil),
		report:  func(args ...interface{}) { reported = append(reported, args) },
	}
	log := slog.New(h).With("component", "circulation")

	log.Info("fine")
	log.Warn("hmm")
	require.Empty(t, reported)

	boom := errors.New("db down")
	log.Error("close borrow failed", "err", boom)
	require.Len(t, reported, 1)

	args := reported[0]
	assert.Equal(t, "close borrow failed", args[0])
	extras := args[1].(map[string]interface{})
	assert.Equal(t, "circulation", extras["component"])
	assert.Equal(t, boom, args[2])
}
