package db

import (
	"crypto/sha256"
	"encoding/hex"

	"gorm.io/gorm"
)

// Revision is an uncommitted snapshot of edits layered on a post. The
// unique index on PostID enforces the single-active-revision invariant at
// the store level.
type Revision struct {
	gorm.Model
	PostID       uint `gorm:"uniqueIndex"`
	Title        string
	Content      string `gorm:"type:text"`
	Status       string `gorm:"size:16"`
	IsSyncNeeded bool   `gorm:"index"`
	SyncError    string `gorm:"type:text"`
}

// TableName picks an explicit table name.
func (Revision) TableName() string {
	return "post_revisions"
}

// ContentHash fingerprints the editable fields. The executor compares the
// hash taken at attempt start against the current row to detect edits that
// landed while the attempt was in flight.
func (r *Revision) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(r.Title))
	h.Write([]byte{0})
	h.Write([]byte(r.Content))
	h.Write([]byte{0})
	h.Write([]byte(r.Status))
	return hex.EncodeToString(h.Sum(nil))
}
