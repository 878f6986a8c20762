package router

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/draftsync/internal/handler"
	"github.com/draftsync/internal/media"
	"github.com/draftsync/internal/service"
	"github.com/draftsync/internal/syncer"
)

// Deps collects everything the API surface needs.
type Deps struct {
	Revisions   *service.RevisionService
	Coordinator *syncer.Coordinator
	Tracker     *media.Tracker

	// AdminTokenHash is the bcrypt hash callers' bearer token is checked
	// against. Empty disables auth.
	AdminTokenHash string
}

// Setup builds the gin engine with all routes registered.
func Setup(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	posts := handler.NewPostHandler(deps.Revisions, deps.Coordinator, deps.Tracker)
	preview := handler.NewPreviewHandler(deps.Revisions)

	api := r.Group("/api")
	api.Use(tokenAuth(deps.AdminTokenHash))
	{
		api.POST("/posts", posts.CreatePost)
		api.GET("/posts/:id", posts.GetPost)
		api.PUT("/posts/:id", posts.EditPost)
		api.GET("/posts/:id/preview", preview.Preview)
		api.POST("/posts/:id/media", posts.AttachMedia)
		api.POST("/posts/:id/sync", posts.RetrySync)
		api.DELETE("/posts/:id/sync", posts.CancelSync)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

// tokenAuth compares the bearer token against the configured bcrypt hash.
func tokenAuth(tokenHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenHash == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token == "" || bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
