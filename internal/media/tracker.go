package media

import (
	"bytes"
	"errors"
	"image"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	_ "golang.org/x/image/webp"

	"github.com/draftsync/internal/db"
)

var ErrAssetNotFound = errors.New("asset not found")

// StateChange is published whenever an asset's upload state moves. Events
// are keyed by post so the scheduler can re-check only the affected post.
type StateChange struct {
	PostID  uint
	AssetID string
	State   string
}

// Tracker owns the local asset registry and its state-change feed. The
// upload pipeline drives the Mark* transitions; the sync engine only reads.
type Tracker struct {
	db  *gorm.DB
	log zerolog.Logger

	mu     sync.Mutex
	subs   map[int]chan StateChange
	nextID int
}

// NewTracker creates an asset tracker over the content store.
func NewTracker(gdb *gorm.DB, log zerolog.Logger) *Tracker {
	return &Tracker{
		db:   gdb,
		log:  log,
		subs: make(map[int]chan StateChange),
	}
}

// Attach registers a new local asset for a post and returns it in pending
// state. Image dimensions are probed up front so the editor can reserve
// layout space before the upload finishes.
func (t *Tracker) Attach(postID uint, filename string, data []byte) (*db.Asset, error) {
	asset := db.Asset{
		LocalID:  uuid.New().String(),
		PostID:   postID,
		Filename: strings.TrimSpace(filename),
		State:    db.AssetPending,
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		asset.Width = cfg.Width
		asset.Height = cfg.Height
	}

	if err := t.db.Create(&asset).Error; err != nil {
		return nil, err
	}

	t.notify(StateChange{PostID: asset.PostID, AssetID: asset.LocalID, State: asset.State})
	return &asset, nil
}

// Asset returns the asset with the given local id.
func (t *Tracker) Asset(localID string) (*db.Asset, error) {
	var asset db.Asset
	if err := t.db.Where("local_id = ?", localID).First(&asset).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAssetNotFound
		}
		return nil, err
	}
	return &asset, nil
}

// State returns the current upload state for the given local id.
func (t *Tracker) State(localID string) (string, error) {
	asset, err := t.Asset(localID)
	if err != nil {
		return "", err
	}
	return asset.State, nil
}

// MarkUploading flags the asset as in transfer.
func (t *Tracker) MarkUploading(localID string) error {
	return t.transition(localID, func(asset *db.Asset) {
		asset.State = db.AssetUploading
	})
}

// MarkSucceeded records the server-assigned identity for the asset.
func (t *Tracker) MarkSucceeded(localID string, remoteID int64, remoteURL string) error {
	return t.transition(localID, func(asset *db.Asset) {
		asset.State = db.AssetSucceeded
		asset.RemoteID = &remoteID
		asset.RemoteURL = remoteURL
	})
}

// MarkFailed records an upload failure. The asset stays around so the user
// can retry or drop the reference.
func (t *Tracker) MarkFailed(localID string) error {
	return t.transition(localID, func(asset *db.Asset) {
		asset.State = db.AssetFailed
	})
}

func (t *Tracker) transition(localID string, mutate func(*db.Asset)) error {
	asset, err := t.Asset(localID)
	if err != nil {
		return err
	}

	mutate(asset)
	if err := t.db.Save(asset).Error; err != nil {
		return err
	}

	t.notify(StateChange{PostID: asset.PostID, AssetID: asset.LocalID, State: asset.State})
	return nil
}

// PurgeOrphans deletes a post's assets that are no longer referenced and
// not currently uploading. Called after a successful promotion, when the
// canonical content has switched to remote URLs.
func (t *Tracker) PurgeOrphans(postID uint, referenced []string) error {
	query := t.db.Where("post_id = ? AND state <> ?", postID, db.AssetUploading)
	if len(referenced) > 0 {
		query = query.Where("local_id NOT IN ?", referenced)
	}
	return query.Delete(&db.Asset{}).Error
}

// Subscribe registers a listener for state changes.
func (t *Tracker) Subscribe(buffer int) (<-chan StateChange, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan StateChange, buffer)
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
}

func (t *Tracker) notify(change StateChange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, sub := range t.subs {
		select {
		case sub <- change:
		default:
			t.log.Warn().
				Str("asset", change.AssetID).
				Msg("tracker subscriber buffer full, dropping state change")
		}
	}
}
