package media

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"

	"github.com/draftsync/internal/db"
)

// Revision content references a local asset through an upload://<local-id>
// destination. After a successful sync every placeholder is replaced by the
// remote URL, with the server media id carried in the markdown title.
var (
	uploadRefPattern   = regexp.MustCompile(`upload://([0-9a-fA-F-]{36})`)
	uploadImagePattern = regexp.MustCompile(`!\[([^\]]*)]\(upload://([0-9a-fA-F-]{36})([^)]*)\)`)
)

// ErrUnresolved marks a placeholder whose asset has not succeeded yet. It
// is a scheduling precondition, never a sync failure.
var ErrUnresolved = errors.New("asset reference not resolved")

// Resolved carries the server-assigned identity of an uploaded asset.
type Resolved struct {
	LocalID   string
	RemoteID  int64
	RemoteURL string
}

// Resolver answers whether a revision's content is fully resolvable
// against remote identifiers right now.
type Resolver struct {
	tracker *Tracker
}

// NewResolver creates a resolver over the given tracker.
func NewResolver(tracker *Tracker) *Resolver {
	return &Resolver{tracker: tracker}
}

// References extracts the distinct asset local ids referenced by content,
// in order of first appearance.
func References(content string) []string {
	matches := uploadRefPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		refs = append(refs, m[1])
	}
	return refs
}

// PendingAssets returns the referenced assets that have not reached the
// succeeded state. Unknown references are reported as pending too: the
// upload pipeline may not have registered them yet.
func (r *Resolver) PendingAssets(rev *db.Revision) ([]string, error) {
	var pending []string
	for _, ref := range References(rev.Content) {
		state, err := r.tracker.State(ref)
		if err != nil {
			if errors.Is(err, ErrAssetNotFound) {
				pending = append(pending, ref)
				continue
			}
			return nil, err
		}
		if state != db.AssetSucceeded {
			pending = append(pending, ref)
		}
	}
	return pending, nil
}

// IsReady reports whether every referenced asset has succeeded. A revision
// with zero references is trivially ready. A failed asset makes the
// revision not ready; whether to wait or drop the reference is the
// caller's policy.
func (r *Resolver) IsReady(rev *db.Revision) (bool, error) {
	pending, err := r.PendingAssets(rev)
	if err != nil {
		return false, err
	}
	return len(pending) == 0, nil
}

// ResolvedAssets returns the remote identity for every referenced asset,
// or ErrUnresolved if any of them has not succeeded.
func (r *Resolver) ResolvedAssets(rev *db.Revision) (map[string]Resolved, error) {
	refs := References(rev.Content)
	resolved := make(map[string]Resolved, len(refs))
	for _, ref := range refs {
		asset, err := r.tracker.Asset(ref)
		if err != nil {
			if errors.Is(err, ErrAssetNotFound) {
				return nil, errors.Wrap(ErrUnresolved, ref)
			}
			return nil, err
		}
		if asset.State != db.AssetSucceeded || asset.RemoteID == nil {
			return nil, errors.Wrap(ErrUnresolved, ref)
		}
		resolved[ref] = Resolved{
			LocalID:   ref,
			RemoteID:  *asset.RemoteID,
			RemoteURL: asset.RemoteURL,
		}
	}
	return resolved, nil
}

// Rewrite substitutes every upload:// occurrence with the corresponding
// remote URL, carrying the server media id in the image title. The
// substitution is total or not at all: a single unresolvable placeholder
// aborts the whole rewrite.
func Rewrite(content string, resolved map[string]Resolved) (string, error) {
	for _, ref := range References(content) {
		if _, ok := resolved[ref]; !ok {
			return "", errors.Wrap(ErrUnresolved, ref)
		}
	}

	out := uploadImagePattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := uploadImagePattern.FindStringSubmatch(match)
		asset := resolved[groups[2]]
		return fmt.Sprintf("![%s](%s \"media-%d\")", groups[1], asset.RemoteURL, asset.RemoteID)
	})

	// Bare references outside image syntax (plain links) get the URL only.
	out = uploadRefPattern.ReplaceAllStringFunc(out, func(match string) string {
		groups := uploadRefPattern.FindStringSubmatch(match)
		return resolved[groups[1]].RemoteURL
	})

	return out, nil
}
