package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mondzorg/inbox/internal/http/handler"
)

// Handlers bundles the route handlers.
type Handlers struct {
	Mailbox     *handler.MailboxHandler
	Submissions *handler.SubmissionHandler
}

func SetupRoutes(router *gin.Engine, h Handlers) {
	router.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})

	router.GET("/oauth2callback", h.Mailbox.Callback)
	MailboxRouter(router.Group("/api/mailbox"), h.Mailbox)
	SubmissionRouter(router.Group("/api/submissions"), h.Submissions)
	router.POST("/api/ai/categorize", h.Submissions.Categorize)
}

func MailboxRouter(rg *gin.RouterGroup, h *handler.MailboxHandler) {
	rg.GET("/status", h.Status)
	rg.GET("/auth-url", h.AuthURL)
	rg.POST("/disconnect", h.Disconnect)
	rg.POST("/sync", h.Sync)
	rg.POST("/reply", h.Reply)
	rg.POST("/mark-read", h.MarkRead)
	rg.POST("/archive", h.Archive)
	rg.GET("/messages/:providerId/attachments/:attachmentId", h.Attachment)
}

func SubmissionRouter(rg *gin.RouterGroup, h *handler.SubmissionHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/stats", h.Stats)
	rg.POST("/bulk-update", h.BulkUpdate)
	rg.GET("/:id", h.Get)
	rg.PATCH("/:id", h.Patch)
	rg.POST("/:id/categorize", h.Recategorize)
	rg.POST("/:id/suggest-reply", h.SuggestReply)
}
