package syncer

import (
	"context"

	"github.com/draftsync/internal/db"
	"github.com/draftsync/internal/media"
	"github.com/draftsync/internal/remote"
)

// perform runs exactly one network round trip for the given snapshot:
// rewrite placeholders, then create or update depending on whether the
// post has a remote identity yet. The snapshot never changes mid-flight;
// superseding edits are handled by the post-completion re-evaluation.
func (c *Coordinator) perform(ctx context.Context, post *db.Post, rev *db.Revision) (remote.PostFields, error) {
	resolved, err := c.resolver.ResolvedAssets(rev)
	if err != nil {
		return remote.PostFields{}, err
	}

	content, err := media.Rewrite(rev.Content, resolved)
	if err != nil {
		return remote.PostFields{}, err
	}

	params := remote.PostParams{
		Title:    rev.Title,
		Content:  content,
		Status:   rev.Status,
		AuthorID: post.AuthorID,
	}

	if post.RemoteID == nil {
		return c.client.CreatePost(ctx, post.SiteID, params)
	}
	return c.client.UpdatePost(ctx, post.SiteID, *post.RemoteID, params)
}
