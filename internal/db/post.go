package db

import "gorm.io/gorm"

// Post statuses mirror the remote service's vocabulary.
const (
	StatusDraft     = "draft"
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusPublish   = "publish"
	StatusTrash     = "trash"
)

// Post is the canonical, remotely-addressable content object. RemoteID is
// nil until the first successful create and is assigned exactly once.
type Post struct {
	gorm.Model
	LocalID    string `gorm:"uniqueIndex;size:36"`
	RemoteID   *int64 `gorm:"uniqueIndex"`
	Status     string `gorm:"size:16;default:draft"`
	Title      string
	Content    string `gorm:"type:text"`
	AuthorID   int64
	SiteID     int64
	SyncedHash string    `gorm:"size:64"`
	Revision   *Revision `gorm:"constraint:OnDelete:CASCADE"`
}

// HasRevision reports whether an active revision is loaded on the post.
func (p *Post) HasRevision() bool {
	return p.Revision != nil
}
