package handler

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/draftsync/internal/service"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = bluemonday.UGCPolicy()
)

// PreviewHandler renders a post's pending content as sanitized HTML so the
// shell can show what will reach the server.
type PreviewHandler struct {
	revisions *service.RevisionService
}

// NewPreviewHandler creates a PreviewHandler.
func NewPreviewHandler(revisions *service.RevisionService) *PreviewHandler {
	return &PreviewHandler{revisions: revisions}
}

// Preview renders the active revision when there is one, the canonical
// content otherwise.
func (h *PreviewHandler) Preview(c *gin.Context) {
	postID, ok := postIDParam(c)
	if !ok {
		return
	}

	post, err := h.revisions.GetPost(postID)
	if err != nil {
		renderServiceError(c, err)
		return
	}

	content := post.Content
	source := "post"
	if post.Revision != nil {
		content = post.Revision.Content
		source = "revision"
	}

	rendered, err := renderMarkdown(content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     post.ID,
		"source": source,
		"html":   rendered,
	})
}

func renderMarkdown(content string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(content), &buf); err != nil {
		return "", err
	}
	return string(sanitizer.SanitizeBytes(buf.Bytes())), nil
}
