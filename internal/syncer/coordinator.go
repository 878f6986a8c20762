package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/draftsync/internal/db"
	"github.com/draftsync/internal/events"
	"github.com/draftsync/internal/media"
	"github.com/draftsync/internal/remote"
	"github.com/draftsync/internal/service"
)

// Phase of a post in the sync state machine.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAwaitingMedia  Phase = "awaiting_media"
	PhaseInFlight       Phase = "in_flight"
	PhaseRetryScheduled Phase = "retry_scheduled"
)

// Options wires the coordinator's collaborators. Everything is injected;
// there is no ambient shared instance.
type Options struct {
	Revisions     *service.RevisionService
	Resolver      *media.Resolver
	Tracker       *media.Tracker
	Client        remote.API
	Bus           *events.Bus
	Logger        zerolog.Logger
	RetryInterval time.Duration
}

// Coordinator decides per post whether and when a sync attempt runs, and
// enforces single-flight: for any post at most one operation is in flight,
// and a new one never starts before the previous result is fully applied.
type Coordinator struct {
	revisions     *service.RevisionService
	resolver      *media.Resolver
	tracker       *media.Tracker
	client        remote.API
	bus           *events.Bus
	log           zerolog.Logger
	retryInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	posts map[uint]*postState
}

// postState is the in-memory side of a SyncOperation. Guarded by mu.
type postState struct {
	phase     Phase
	attempts  int
	lastErr   error
	lastClass FailureClass
}

// NewCoordinator builds a coordinator; call Start before use and Close on
// shutdown.
func NewCoordinator(opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		revisions:     opts.Revisions,
		resolver:      opts.Resolver,
		tracker:       opts.Tracker,
		client:        opts.Client,
		bus:           opts.Bus,
		log:           opts.Logger,
		retryInterval: opts.RetryInterval,
		ctx:           ctx,
		cancel:        cancel,
		posts:         make(map[uint]*postState),
	}
}

// Start subscribes to the tracker's state feed and launches the retry
// ticker.
func (c *Coordinator) Start() {
	changes, cancelChanges := c.tracker.Subscribe(64)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancelChanges()
		for {
			select {
			case <-c.ctx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					return
				}
				c.onAssetChange(change)
			}
		}
	}()

	if c.retryInterval > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ticker := time.NewTicker(c.retryInterval)
			defer ticker.Stop()
			for {
				select {
				case <-c.ctx.Done():
					return
				case <-ticker.C:
					c.resumeRetries(false)
				}
			}
		}()
	}
}

// Close stops background work and waits for in-flight attempts. There is
// no mid-flight cancellation of requests already sent; pending results are
// still applied.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// SetNeedsSync notifies the coordinator that the post's revision wants to
// reach the server. Idempotent and coalescing: repeated calls while the
// user keeps typing never spawn parallel attempts.
func (c *Coordinator) SetNeedsSync(postID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evaluateLocked(postID, true)
}

// ScheduleSync re-scans persisted revisions still flagged for sync and
// schedules each one. Covers process-relaunch recovery; with nothing
// flagged it produces zero new operations.
func (c *Coordinator) ScheduleSync() error {
	pending, err := c.revisions.PendingRevisions()
	if err != nil {
		return errors.Wrap(err, "scanning pending revisions")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rev := range pending {
		if err := c.evaluateLocked(rev.PostID, true); err != nil {
			c.log.Error().Err(err).Uint("post_id", rev.PostID).Msg("scheduling persisted revision")
		}
	}
	return nil
}

// SyncError returns the last recorded failure for the post, or nil.
func (c *Coordinator) SyncError(postID uint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.posts[postID]; ok {
		return st.lastErr
	}
	return nil
}

// Phase reports the post's current scheduler phase.
func (c *Coordinator) Phase(postID uint) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.posts[postID]; ok {
		return st.phase
	}
	return PhaseIdle
}

// CancelSync marks the post's revision as not-to-be-retried. An attempt
// already in flight is not aborted; its result is still applied.
func (c *Coordinator) CancelSync(postID uint) error {
	post, err := c.revisions.GetPost(postID)
	if err != nil {
		return err
	}
	if post.Revision != nil {
		if err := c.revisions.MarkSyncNotNeeded(post.Revision.ID); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(postID)
	if st.phase != PhaseInFlight && st.phase != PhaseIdle {
		st.phase = PhaseIdle
		c.publishUpdate(post.ID, post.LocalID, st)
	}
	return nil
}

// OnReachabilityRestored is the fast retry path: posts parked after a
// connectivity failure are re-attempted immediately instead of waiting for
// the backoff ticker.
func (c *Coordinator) OnReachabilityRestored() {
	c.resumeRetries(true)
}

func (c *Coordinator) resumeRetries(connectivityOnly bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for postID, st := range c.posts {
		if st.phase != PhaseRetryScheduled {
			continue
		}
		if connectivityOnly && st.lastClass != FailureRetryableFast {
			continue
		}
		if err := c.evaluateLocked(postID, false); err != nil {
			c.log.Error().Err(err).Uint("post_id", postID).Msg("resuming retry")
		}
	}
}

func (c *Coordinator) onAssetChange(change media.StateChange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.posts[change.PostID]
	if !ok || st.phase != PhaseAwaitingMedia {
		return
	}
	if err := c.evaluateLocked(change.PostID, false); err != nil {
		c.log.Error().Err(err).Uint("post_id", change.PostID).Msg("re-checking media readiness")
	}
}

func (c *Coordinator) state(postID uint) *postState {
	st, ok := c.posts[postID]
	if !ok {
		st = &postState{phase: PhaseIdle}
		c.posts[postID] = st
	}
	return st
}

// evaluateLocked is the single decision point of the state machine. Caller
// holds mu.
func (c *Coordinator) evaluateLocked(postID uint, freshRequest bool) error {
	st := c.state(postID)
	if st.phase == PhaseInFlight {
		// Single-flight: the running attempt re-evaluates on completion.
		return nil
	}

	post, err := c.revisions.GetPost(postID)
	if err != nil {
		return err
	}
	if post.Revision == nil || !post.Revision.IsSyncNeeded {
		if st.phase != PhaseIdle {
			st.phase = PhaseIdle
			c.publishUpdate(post.ID, post.LocalID, st)
		}
		return nil
	}
	rev := post.Revision

	if freshRequest && st.phase == PhaseIdle {
		c.bus.Publish(events.Event{
			Type:       events.TypeSyncScheduled,
			PostID:     post.ID,
			LocalID:    post.LocalID,
			RevisionID: rev.ID,
			Phase:      string(st.phase),
		})
	}

	ready, err := c.resolver.IsReady(rev)
	if err != nil {
		return errors.Wrap(err, "checking media readiness")
	}
	if !ready {
		if st.phase != PhaseAwaitingMedia {
			st.phase = PhaseAwaitingMedia
			c.publishUpdate(post.ID, post.LocalID, st)
		}
		return nil
	}

	c.beginLocked(*post, *rev, st)
	return nil
}

// beginLocked launches one attempt against a snapshot of the revision.
// Caller holds mu.
func (c *Coordinator) beginLocked(post db.Post, rev db.Revision, st *postState) {
	st.phase = PhaseInFlight
	st.attempts++

	c.bus.Publish(events.Event{
		Type:       events.TypeSyncStarted,
		PostID:     post.ID,
		LocalID:    post.LocalID,
		RevisionID: rev.ID,
		Phase:      string(st.phase),
	})
	c.publishUpdate(post.ID, post.LocalID, st)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fields, err := c.perform(c.ctx, &post, &rev)
		c.complete(post, rev, fields, err)
	}()
}

// complete applies one attempt's result. The store write, the state
// transition and the follow-up evaluation all happen under mu, so a new
// operation can never start before this result is fully applied.
func (c *Coordinator) complete(post db.Post, rev db.Revision, fields remote.PostFields, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.state(post.ID)

	if err == nil {
		refreshed, kept, perr := c.revisions.Promote(rev.ID, rev.ContentHash(), service.RemoteResult{
			RemoteID: fields.RemoteID,
			Status:   fields.Status,
			Title:    fields.Title,
			Content:  fields.Content,
		})
		if perr != nil {
			err = errors.Wrap(perr, "applying sync result")
		} else {
			st.phase = PhaseIdle
			st.lastErr = nil
			st.attempts = 0

			c.bus.Publish(events.Event{
				Type:       events.TypeSyncFinished,
				PostID:     refreshed.ID,
				LocalID:    refreshed.LocalID,
				RevisionID: rev.ID,
				Phase:      string(st.phase),
				Outcome:    events.OutcomeSuccess,
			})
			c.publishUpdate(refreshed.ID, refreshed.LocalID, st)

			if kept {
				// Edits landed mid-flight: immediately re-evaluate the
				// current revision for the follow-up round trip.
				if eerr := c.evaluateLocked(refreshed.ID, false); eerr != nil {
					c.log.Error().Err(eerr).Uint("post_id", refreshed.ID).Msg("re-evaluating after sync")
				}
			} else if perr := c.tracker.PurgeOrphans(refreshed.ID, nil); perr != nil {
				c.log.Warn().Err(perr).Uint("post_id", refreshed.ID).Msg("purging orphaned assets")
			}
			return
		}
	}

	if errors.Is(err, media.ErrUnresolved) {
		// A scheduling precondition, not a sync error: the asset feed
		// will wake us up again.
		st.phase = PhaseAwaitingMedia
		c.publishUpdate(post.ID, post.LocalID, st)
		return
	}

	class := Classify(err)
	retryable := class != FailureTerminal
	if rerr := c.revisions.RecordFailure(rev.ID, err, retryable); rerr != nil {
		c.log.Error().Err(rerr).Uint("post_id", post.ID).Msg("recording sync failure")
	}

	st.lastErr = err
	st.lastClass = class
	outcome := events.OutcomeTerminalFailure
	if retryable {
		st.phase = PhaseRetryScheduled
		outcome = events.OutcomeRetryableFailure
	} else {
		st.phase = PhaseIdle
	}

	c.log.Warn().Err(err).Uint("post_id", post.ID).Str("outcome", string(outcome)).Msg("sync attempt failed")
	c.bus.Publish(events.Event{
		Type:       events.TypeSyncFinished,
		PostID:     post.ID,
		LocalID:    post.LocalID,
		RevisionID: rev.ID,
		Phase:      string(st.phase),
		Outcome:    outcome,
		Err:        err,
	})
	c.publishUpdate(post.ID, post.LocalID, st)
}

func (c *Coordinator) publishUpdate(postID uint, localID string, st *postState) {
	c.bus.Publish(events.Event{
		Type:    events.TypeSyncUpdated,
		PostID:  postID,
		LocalID: localID,
		Phase:   string(st.phase),
		Err:     st.lastErr,
	})
}
