package db

import "gorm.io/gorm"

// Upload states of an asset. Transitions run independently of post sync;
// the engine only ever reads them.
const (
	AssetPending   = "pending"
	AssetUploading = "uploading"
	AssetSucceeded = "succeeded"
	AssetFailed    = "failed"
)

// Asset is a local binary resource (image/video) referenced from revision
// content through an upload:// placeholder carrying its LocalID.
type Asset struct {
	gorm.Model
	LocalID   string `gorm:"uniqueIndex;size:36"`
	PostID    uint   `gorm:"index"`
	Filename  string
	State     string `gorm:"size:16;default:pending"`
	RemoteID  *int64
	RemoteURL string
	Width     int
	Height    int
}
