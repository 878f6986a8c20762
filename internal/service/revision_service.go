package service

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/draftsync/internal/db"
)

var (
	ErrPostNotFound     = errors.New("post not found")
	ErrRevisionNotFound = errors.New("revision not found")
)

// RevisionService owns the single-active-revision invariant and applies
// sync results back to the canonical post. It performs no I/O beyond the
// content store; storage errors surface unchanged.
type RevisionService struct {
	db *gorm.DB
}

// NewRevisionService creates a RevisionService instance.
func NewRevisionService(gdb *gorm.DB) *RevisionService {
	return &RevisionService{db: gdb}
}

// PostInput represents fields accepted when creating a post locally.
type PostInput struct {
	Title    string
	Content  string
	Status   string
	AuthorID int64
	SiteID   int64
}

// RevisionChanges are editor-applied changes; nil fields are untouched.
type RevisionChanges struct {
	Title   *string
	Content *string
	Status  *string
}

// RemoteResult carries the server-assigned fields applied on promotion.
type RemoteResult struct {
	RemoteID int64
	Status   string
	Title    string
	Content  string
}

// CreatePost persists a new local post. The local identity is opaque and
// stable; the remote identifier stays nil until the first successful sync.
func (s *RevisionService) CreatePost(input PostInput) (*db.Post, error) {
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = db.StatusDraft
	}

	post := db.Post{
		LocalID:  uuid.New().String(),
		Status:   status,
		Title:    input.Title,
		Content:  input.Content,
		AuthorID: input.AuthorID,
		SiteID:   input.SiteID,
	}
	if err := s.db.Create(&post).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

// GetPost fetches a post by id with its active revision preloaded.
func (s *RevisionService) GetPost(id uint) (*db.Post, error) {
	var post db.Post
	if err := s.db.Preload("Revision").First(&post, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// GetPostByLocalID fetches a post by its opaque local identity.
func (s *RevisionService) GetPostByLocalID(localID string) (*db.Post, error) {
	var post db.Post
	if err := s.db.Preload("Revision").Where("local_id = ?", localID).First(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}
	return &post, nil
}

// CreateOrUpdateRevision creates the active revision from the post's
// current fields if none exists, otherwise mutates it in place. Either way
// the revision comes out flagged as needing sync. Safe to call repeatedly
// while the user keeps typing.
func (s *RevisionService) CreateOrUpdateRevision(postID uint, changes RevisionChanges) (*db.Revision, error) {
	var revision db.Revision
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var post db.Post
		if err := tx.First(&post, postID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPostNotFound
			}
			return err
		}

		if err := tx.Where("post_id = ?", postID).First(&revision).Error; err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			revision = db.Revision{
				PostID:  post.ID,
				Title:   post.Title,
				Content: post.Content,
				Status:  post.Status,
			}
		}

		if changes.Title != nil {
			revision.Title = *changes.Title
		}
		if changes.Content != nil {
			revision.Content = *changes.Content
		}
		if changes.Status != nil {
			revision.Status = *changes.Status
		}
		revision.IsSyncNeeded = true

		return tx.Save(&revision).Error
	})
	if err != nil {
		return nil, err
	}
	return &revision, nil
}

// Promote copies the server-assigned fields onto the parent post inside a
// single transaction, then deletes the revision — unless the revision was
// edited after snapshotHash was taken, in which case it stays in place
// (still flagged) so the scheduler can run a follow-up attempt. Returns
// the refreshed post and whether the revision survived.
func (s *RevisionService) Promote(revisionID uint, snapshotHash string, res RemoteResult) (*db.Post, bool, error) {
	var (
		post db.Post
		kept bool
	)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var revision db.Revision
		if err := tx.First(&revision, revisionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRevisionNotFound
			}
			return err
		}
		if err := tx.First(&post, revision.PostID).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":      res.Status,
			"title":       res.Title,
			"content":     res.Content,
			"synced_hash": snapshotHash,
		}
		// The remote identifier is assigned exactly once.
		if post.RemoteID == nil {
			updates["remote_id"] = res.RemoteID
		}

		if err := tx.Model(&db.Post{}).Where("id = ?", post.ID).Updates(updates).Error; err != nil {
			return err
		}

		if revision.ContentHash() == snapshotHash {
			// Hard delete: the unique index on post_id must free up for
			// the next editing session.
			if err := tx.Unscoped().Delete(&revision).Error; err != nil {
				return err
			}
		} else {
			// Edits landed while the attempt was in flight; keep the
			// revision for the follow-up round trip.
			kept = true
		}

		return tx.First(&post, post.ID).Error
	})
	if err != nil {
		return nil, false, err
	}
	if kept {
		var revision db.Revision
		if err := s.db.Where("post_id = ?", post.ID).First(&revision).Error; err != nil {
			return nil, false, err
		}
		post.Revision = &revision
	}
	return &post, kept, nil
}

// RecordFailure leaves the revision in place with the error attached.
// retryable controls whether the revision stays eligible for automatic
// re-scheduling.
func (s *RevisionService) RecordFailure(revisionID uint, cause error, retryable bool) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	result := s.db.Model(&db.Revision{}).
		Where("id = ?", revisionID).
		Updates(map[string]interface{}{
			"sync_error":     message,
			"is_sync_needed": retryable,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRevisionNotFound
	}
	return nil
}

// MarkSyncNotNeeded implements user-initiated "cancel auto-upload": the
// revision stays but is no longer picked up for automatic retry. An
// attempt already in flight is not aborted.
func (s *RevisionService) MarkSyncNotNeeded(revisionID uint) error {
	result := s.db.Model(&db.Revision{}).
		Where("id = ?", revisionID).
		Update("is_sync_needed", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRevisionNotFound
	}
	return nil
}

// PendingRevisions lists revisions still flagged for sync; used by the
// scheduler's re-scan to recover after a process relaunch.
func (s *RevisionService) PendingRevisions() ([]db.Revision, error) {
	var revisions []db.Revision
	if err := s.db.Where("is_sync_needed = ?", true).Order("created_at asc").Find(&revisions).Error; err != nil {
		return nil, err
	}
	return revisions, nil
}
