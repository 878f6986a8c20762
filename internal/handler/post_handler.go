package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/draftsync/internal/media"
	"github.com/draftsync/internal/service"
	"github.com/draftsync/internal/syncer"
)

// PostHandler is the local machine API the editor shell drives. Edits go
// through the revision service and wake the coordinator; nothing here
// talks to the network directly.
type PostHandler struct {
	revisions   *service.RevisionService
	coordinator *syncer.Coordinator
	tracker     *media.Tracker
}

// NewPostHandler creates a PostHandler.
func NewPostHandler(revisions *service.RevisionService, coordinator *syncer.Coordinator, tracker *media.Tracker) *PostHandler {
	return &PostHandler{
		revisions:   revisions,
		coordinator: coordinator,
		tracker:     tracker,
	}
}

type createPostRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Status   string `json:"status"`
	AuthorID int64  `json:"author_id"`
	SiteID   int64  `json:"site_id"`
}

type editPostRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
	Status  *string `json:"status"`
}

// CreatePost registers a new local post and schedules its first sync.
func (h *PostHandler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	post, err := h.revisions.CreatePost(service.PostInput{
		Title:    req.Title,
		Content:  req.Content,
		Status:   req.Status,
		AuthorID: req.AuthorID,
		SiteID:   req.SiteID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.revisions.CreateOrUpdateRevision(post.ID, service.RevisionChanges{}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.coordinator.SetNeedsSync(post.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, h.statusPayload(post.ID))
}

// EditPost applies editor changes to the post's active revision and wakes
// the scheduler.
func (h *PostHandler) EditPost(c *gin.Context) {
	postID, ok := postIDParam(c)
	if !ok {
		return
	}

	var req editPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if _, err := h.revisions.CreateOrUpdateRevision(postID, service.RevisionChanges{
		Title:   req.Title,
		Content: req.Content,
		Status:  req.Status,
	}); err != nil {
		renderServiceError(c, err)
		return
	}
	if err := h.coordinator.SetNeedsSync(postID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.statusPayload(postID))
}

// GetPost reports the post, its active revision and the sync status.
func (h *PostHandler) GetPost(c *gin.Context) {
	postID, ok := postIDParam(c)
	if !ok {
		return
	}
	if _, err := h.revisions.GetPost(postID); err != nil {
		renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.statusPayload(postID))
}

// AttachMedia registers an uploaded file as a pending asset and returns
// the placeholder to embed in content.
func (h *PostHandler) AttachMedia(c *gin.Context) {
	postID, ok := postIDParam(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, 64<<20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	asset, err := h.tracker.Attach(postID, file.Filename, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"asset_id":    asset.LocalID,
		"placeholder": "upload://" + asset.LocalID,
		"state":       asset.State,
		"width":       asset.Width,
		"height":      asset.Height,
	})
}

// RetrySync is the user-initiated retry after a terminal failure.
func (h *PostHandler) RetrySync(c *gin.Context) {
	postID, ok := postIDParam(c)
	if !ok {
		return
	}
	post, err := h.revisions.GetPost(postID)
	if err != nil {
		renderServiceError(c, err)
		return
	}
	if post.Revision == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "nothing to sync"})
		return
	}
	if _, err := h.revisions.CreateOrUpdateRevision(postID, service.RevisionChanges{}); err != nil {
		renderServiceError(c, err)
		return
	}
	if err := h.coordinator.SetNeedsSync(postID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, h.statusPayload(postID))
}

// CancelSync stops automatic retries for the post.
func (h *PostHandler) CancelSync(c *gin.Context) {
	postID, ok := postIDParam(c)
	if !ok {
		return
	}
	if err := h.coordinator.CancelSync(postID); err != nil {
		renderServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.statusPayload(postID))
}

func postIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid post id"})
		return 0, false
	}
	return uint(id), true
}

func renderServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrPostNotFound) || errors.Is(err, service.ErrRevisionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *PostHandler) statusPayload(postID uint) gin.H {
	payload := gin.H{
		"id":    postID,
		"phase": string(h.coordinator.Phase(postID)),
	}

	if post, err := h.revisions.GetPost(postID); err == nil {
		payload["local_id"] = post.LocalID
		payload["status"] = post.Status
		payload["title"] = post.Title
		payload["has_revision"] = post.HasRevision()
		if post.RemoteID != nil {
			payload["remote_id"] = *post.RemoteID
		}
		if post.Revision != nil {
			payload["sync_needed"] = post.Revision.IsSyncNeeded
			if post.Revision.SyncError != "" {
				payload["last_error"] = post.Revision.SyncError
			}
		}
	}

	if err := h.coordinator.SyncError(postID); err != nil {
		payload["sync_error"] = err.Error()
	}
	return payload
}
