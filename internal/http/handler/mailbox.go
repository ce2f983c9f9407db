package handler

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mondzorg/inbox/internal/credential"
	"github.com/mondzorg/inbox/internal/inbox"
	inboxsync "github.com/mondzorg/inbox/internal/sync"
)

// MailboxAuth is the OAuth surface of the token manager.
type MailboxAuth interface {
	Initialize(ctx context.Context) (bool, error)
	State() credential.State
	AuthCodeURL(state string) (string, error)
	ExchangeCode(ctx context.Context, code string) error
	Disconnect(ctx context.Context) error
}

// SyncRunner starts sync runs and reports on them.
type SyncRunner interface {
	SyncNow(ctx context.Context, query string, useAI bool) (*inboxsync.Result, error)
	Trigger()
	Status() inboxsync.Status
}

// MailboxService performs point mutations on provider messages.
type MailboxService interface {
	Reply(ctx context.Context, req inbox.ReplyRequest) (*inbox.ReplyResult, error)
	MarkRead(ctx context.Context, providerID string) error
	Archive(ctx context.Context, providerID string) error
	Attachment(ctx context.Context, providerID, attachmentID string) (*inbox.AttachmentContent, error)
}

type MailboxHandler struct {
	auth    MailboxAuth
	sync    SyncRunner
	mailbox MailboxService
}

func NewMailboxHandler(auth MailboxAuth, sync SyncRunner, mailbox MailboxService) *MailboxHandler {
	return &MailboxHandler{auth: auth, sync: sync, mailbox: mailbox}
}

func (h *MailboxHandler) Status(c *gin.Context) {
	state := h.auth.State()
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"authenticated": state == credential.StateAuthenticated,
		"state":         state,
		"sync":          h.sync.Status(),
	})
}

// AuthURL returns the consent URL, re-reading the client descriptor when
// it was missing at startup.
func (h *MailboxHandler) AuthURL(c *gin.Context) {
	ctx := c.Request.Context()

	if h.auth.State() == credential.StateUnconfigured {
		if _, err := h.auth.Initialize(ctx); err != nil {
			respondError(c, err)
			return
		}
	}
	if h.auth.State() == credential.StateAuthenticated {
		c.JSON(http.StatusOK, gin.H{"success": true, "authenticated": true})
		return
	}

	url, err := h.auth.AuthCodeURL("")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "authenticated": false, "authUrl": url})
}

// Callback completes the OAuth flow and starts a first sync.
func (h *MailboxHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	if e := c.Query("error"); e != "" {
		callbackPage(c, http.StatusBadRequest, "Authentication error", e)
		return
	}
	code := c.Query("code")
	if code == "" {
		callbackPage(c, http.StatusBadRequest, "Authentication error", "No authorization code provided.")
		return
	}

	if err := h.auth.ExchangeCode(ctx, code); err != nil {
		slog.ErrorContext(ctx, "oauth code exchange failed", "error", err)
		callbackPage(c, http.StatusInternalServerError, "Authentication error", err.Error())
		return
	}

	h.sync.Trigger()
	callbackPage(c, http.StatusOK, "Mailbox connected",
		"The mailbox is connected and syncing has started. You can close this window.")
}

func (h *MailboxHandler) Disconnect(c *gin.Context) {
	if err := h.auth.Disconnect(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Mailbox disconnected"})
}

type syncRequest struct {
	Query string `json:"query"`
	UseAI *bool  `json:"useAI"`
}

func (h *MailboxHandler) Sync(c *gin.Context) {
	ctx := c.Request.Context()

	var req syncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	useAI := true
	if req.UseAI != nil {
		useAI = *req.UseAI
	}

	result, err := h.sync.SyncNow(ctx, req.Query, useAI)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"runId":      result.RunID,
		"count":      result.Count,
		"skipped":    result.Skipped,
		"items":      result.Items,
		"durationMs": result.DurationMS,
	})
}

func (h *MailboxHandler) Reply(c *gin.Context) {
	var req inbox.ReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.mailbox.Reply(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messageId": res.ProviderID, "id": res.ID})
}

type messageRef struct {
	MessageID string `json:"messageId"`
}

func (h *MailboxHandler) MarkRead(c *gin.Context) {
	var req messageRef
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.mailbox.MarkRead(c.Request.Context(), req.MessageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *MailboxHandler) Archive(c *gin.Context) {
	var req messageRef
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.mailbox.Archive(c.Request.Context(), req.MessageID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Attachment streams one attachment as a download. Type and filename come
// from the metadata stored at ingestion, never from the request.
func (h *MailboxHandler) Attachment(c *gin.Context) {
	att, err := h.mailbox.Attachment(c.Request.Context(), c.Param("providerId"), c.Param("attachmentId"))
	if err != nil {
		respondError(c, err)
		return
	}

	disposition := "attachment"
	if att.Filename != "" {
		if v := mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}); v != "" {
			disposition = v
		}
	}
	c.Header("Content-Disposition", disposition)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, att.MIMEType, att.Data)
}

func callbackPage(c *gin.Context, status int, title, detail string) {
	page := fmt.Sprintf(
		"<!DOCTYPE html><html><head><title>%[1]s</title></head>"+
			"<body style=\"font-family: sans-serif; padding: 40px; text-align: center;\">"+
			"<h1>%[1]s</h1><p>%[2]s</p>"+
			"<button onclick=\"window.close()\">Close</button></body></html>",
		template.HTMLEscapeString(title), template.HTMLEscapeString(detail))
	c.Data(status, "text/html; charset=utf-8", []byte(page))
}
