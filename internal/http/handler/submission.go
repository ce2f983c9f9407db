package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mondzorg/inbox/internal/classify"
	"github.com/mondzorg/inbox/internal/inbox"
	"github.com/mondzorg/inbox/internal/model"
	"github.com/mondzorg/inbox/internal/store"
)

// SubmissionService covers the writes that go through business rules.
type SubmissionService interface {
	Submit(ctx context.Context, sub inbox.Submission) (int64, error)
	Recategorize(ctx context.Context, id int64, useAI bool) (*classify.Result, error)
	Categorize(ctx context.Context, in classify.Input, useAI bool) (*classify.Result, error)
	SuggestReply(ctx context.Context, id int64) (string, error)
}

type SubmissionHandler struct {
	service SubmissionService
	store   store.Store
}

func NewSubmissionHandler(service SubmissionService, s store.Store) *SubmissionHandler {
	return &SubmissionHandler{service: service, store: s}
}

func (h *SubmissionHandler) Create(c *gin.Context) {
	var req inbox.Submission
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Submission received successfully",
		"id":      id,
	})
}

// List accepts read, starred, archived, category, source, q, limit and
// offset query parameters.
func (h *SubmissionHandler) List(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	data := make([]*model.Message, 0, len(msgs))
	for _, m := range msgs {
		data = append(data, sanitized(&m))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (h *SubmissionHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	msg, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": sanitized(msg)})
}

func (h *SubmissionHandler) Stats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": stats})
}

func (h *SubmissionHandler) Patch(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var patch model.MessagePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.Patch(c.Request.Context(), id, patch); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Submission updated"})
}

type bulkUpdateRequest struct {
	IDs     []int64            `json:"ids"`
	Updates model.MessagePatch `json:"updates"`
}

func (h *SubmissionHandler) BulkUpdate(c *gin.Context) {
	var req bulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.IDs) == 0 {
		fail(c, http.StatusBadRequest, "ids are required")
		return
	}

	n, err := h.store.BulkPatch(c.Request.Context(), req.IDs, req.Updates)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": n})
}

type categorizeRequest struct {
	UseAI *bool `json:"useAI"`
}

// Recategorize classifies a stored record again.
func (h *SubmissionHandler) Recategorize(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req categorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	useAI := req.UseAI == nil || *req.UseAI

	verdict, err := h.service.Recategorize(c.Request.Context(), id, useAI)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"category": verdict.Category,
		"priority": verdict.Urgency,
		"urgency":  verdict.Urgency,
		"method":   verdict.Method,
	})
}

func (h *SubmissionHandler) SuggestReply(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	suggestion, err := h.service.SuggestReply(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "suggestion": suggestion})
}

type aiCategorizeRequest struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Categorize classifies ad-hoc text with the AI path enabled.
func (h *SubmissionHandler) Categorize(c *gin.Context) {
	var req aiCategorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	verdict, err := h.service.Categorize(c.Request.Context(), classify.Input{
		Sender:  req.Email,
		Subject: req.Subject,
		Body:    req.Message,
	}, true)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"category":          verdict.Category,
		"urgency":           verdict.Urgency,
		"extractedInfo":     verdict.ExtractedInfo,
		"suggestedResponse": verdict.SuggestedResponse,
		"method":            verdict.Method,
	})
}

func parseFilter(c *gin.Context) (model.MessageFilter, error) {
	var f model.MessageFilter

	boolParam := func(name string) (*bool, error) {
		raw, ok := c.GetQuery(name)
		if !ok || raw == "" {
			return nil, nil
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, &paramError{name: name, value: raw}
		}
		return &v, nil
	}
	intParam := func(name string) (int, error) {
		raw := c.Query(name)
		if raw == "" {
			return 0, nil
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return 0, &paramError{name: name, value: raw}
		}
		return v, nil
	}

	var err error
	if f.ReadStatus, err = boolParam("read"); err != nil {
		return f, err
	}
	if f.Starred, err = boolParam("starred"); err != nil {
		return f, err
	}
	if f.Archived, err = boolParam("archived"); err != nil {
		return f, err
	}
	if f.Limit, err = intParam("limit"); err != nil {
		return f, err
	}
	if f.Offset, err = intParam("offset"); err != nil {
		return f, err
	}

	if v := c.Query("category"); v != "" {
		cat := model.Category(v)
		f.Category = &cat
	}
	if v := c.Query("source"); v != "" {
		src := model.Source(v)
		f.Source = &src
	}
	if v := c.Query("q"); v != "" {
		f.Query = &v
	}
	return f, nil
}

type paramError struct {
	name  string
	value string
}

func (e *paramError) Error() string {
	return "invalid " + e.name + " parameter: " + strconv.Quote(e.value)
}
