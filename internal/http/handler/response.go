package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"

	"github.com/mondzorg/inbox/internal/classify"
	"github.com/mondzorg/inbox/internal/inbox"
	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/source"
	"github.com/mondzorg/inbox/internal/store"
)

// htmlPolicy strips scripts, handlers and other active content from stored
// message HTML before it reaches the dashboard.
var htmlPolicy = bluemonday.UGCPolicy()

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// respondError maps domain errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var authErr *source.AuthError
	var cfgErr *source.ConfigError
	switch {
	case errors.As(err, &authErr):
		fail(c, http.StatusUnauthorized, "Not authenticated")
	case errors.As(err, &cfgErr), errors.Is(err, classify.ErrAIDisabled):
		slog.ErrorContext(ctx, "configuration error", "error", err)
		fail(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, source.ErrMessageNotFound):
		fail(c, http.StatusNotFound, "Not found")
	case errors.Is(err, inbox.ErrInvalidRequest),
		errors.Is(err, store.ErrEmptyPatch),
		errors.Is(err, store.ErrInvalidPatch):
		fail(c, http.StatusBadRequest, err.Error())
	default:
		slog.ErrorContext(ctx, "request failed", "path", c.FullPath(), "error", err)
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// sanitized returns a copy of msg with its HTML body run through the UGC
// policy.
func sanitized(msg *model.Message) *model.Message {
	out := *msg
	if msg.HTMLText != nil {
		clean := htmlPolicy.Sanitize(*msg.HTMLText)
		out.HTMLText = &clean
	}
	return &out
}
