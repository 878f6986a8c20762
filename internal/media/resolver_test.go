package media

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/draftsync/internal/db"
)

func setupMediaTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:media-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return gdb
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(setupMediaTestDB(t), zerolog.Nop())
}

func TestReferences_DistinctInOrder(t *testing.T) {
	first := "11111111-2222-3333-4444-555555555555"
	second := "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	content := fmt.Sprintf(
		"intro ![one](upload://%s) middle ![two](upload://%s) again upload://%s",
		first, second, first,
	)

	refs := References(content)
	if len(refs) != 2 {
		t.Fatalf("expected 2 distinct references, got %d", len(refs))
	}
	if refs[0] != first || refs[1] != second {
		t.Fatalf("unexpected reference order: %v", refs)
	}
}

func TestResolver_NoReferencesIsReady(t *testing.T) {
	tracker := newTestTracker(t)
	resolver := NewResolver(tracker)

	rev := &db.Revision{Content: "plain text, no assets"}
	ready, err := resolver.IsReady(rev)
	if err != nil {
		t.Fatalf("is ready: %v", err)
	}
	if !ready {
		t.Fatalf("expected revision without references to be ready")
	}
}

func TestResolver_PendingAndFailedBlockReadiness(t *testing.T) {
	tracker := newTestTracker(t)
	resolver := NewResolver(tracker)

	asset, err := tracker.Attach(1, "test-image.jpg", nil)
	if err != nil {
		t.Fatalf("attach asset: %v", err)
	}

	rev := &db.Revision{Content: fmt.Sprintf("![img](upload://%s)", asset.LocalID)}

	ready, err := resolver.IsReady(rev)
	if err != nil {
		t.Fatalf("is ready (pending): %v", err)
	}
	if ready {
		t.Fatalf("pending asset should block readiness")
	}

	if err := tracker.MarkFailed(asset.LocalID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	ready, err = resolver.IsReady(rev)
	if err != nil {
		t.Fatalf("is ready (failed): %v", err)
	}
	if ready {
		t.Fatalf("failed asset should block readiness")
	}

	pending, err := resolver.PendingAssets(rev)
	if err != nil {
		t.Fatalf("pending assets: %v", err)
	}
	if len(pending) != 1 || pending[0] != asset.LocalID {
		t.Fatalf("expected one pending asset %s, got %v", asset.LocalID, pending)
	}

	if err := tracker.MarkSucceeded(asset.LocalID, 42, "https://cdn.example.com/test-image.jpg"); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	ready, err = resolver.IsReady(rev)
	if err != nil {
		t.Fatalf("is ready (succeeded): %v", err)
	}
	if !ready {
		t.Fatalf("expected readiness after upload succeeded")
	}
}

func TestResolver_UnknownReferenceIsPending(t *testing.T) {
	tracker := newTestTracker(t)
	resolver := NewResolver(tracker)

	rev := &db.Revision{Content: "![img](upload://99999999-0000-0000-0000-000000000000)"}
	ready, err := resolver.IsReady(rev)
	if err != nil {
		t.Fatalf("is ready: %v", err)
	}
	if ready {
		t.Fatalf("unknown reference should count as pending")
	}
}

func TestRewrite_TotalSubstitution(t *testing.T) {
	first := "11111111-2222-3333-4444-555555555555"
	second := "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	content := fmt.Sprintf(
		"# title\n![hero](upload://%s)\nbody with [link](upload://%s)",
		first, second,
	)
	resolved := map[string]Resolved{
		first:  {LocalID: first, RemoteID: 42, RemoteURL: "https://cdn.example.com/hero.jpg"},
		second: {LocalID: second, RemoteID: 43, RemoteURL: "https://cdn.example.com/doc.pdf"},
	}

	out, err := Rewrite(content, resolved)
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	if strings.Contains(out, "upload://") {
		t.Fatalf("rewrite left local placeholders behind: %q", out)
	}
	if got := strings.Count(out, "media-42"); got != 1 {
		t.Fatalf("expected remote id 42 exactly once, got %d in %q", got, out)
	}
	if !strings.Contains(out, `![hero](https://cdn.example.com/hero.jpg "media-42")`) {
		t.Fatalf("image placeholder not rewritten as expected: %q", out)
	}
	if !strings.Contains(out, "[link](https://cdn.example.com/doc.pdf)") {
		t.Fatalf("bare placeholder not rewritten as expected: %q", out)
	}
}

func TestRewrite_AbortsOnUnresolvedPlaceholder(t *testing.T) {
	first := "11111111-2222-3333-4444-555555555555"
	second := "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	content := fmt.Sprintf("![a](upload://%s) ![b](upload://%s)", first, second)
	resolved := map[string]Resolved{
		first: {LocalID: first, RemoteID: 42, RemoteURL: "https://cdn.example.com/a.jpg"},
	}

	if _, err := Rewrite(content, resolved); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved, got %v", err)
	}
}

func TestResolver_ResolvedAssetsRequiresSuccess(t *testing.T) {
	tracker := newTestTracker(t)
	resolver := NewResolver(tracker)

	asset, err := tracker.Attach(1, "test-image.jpg", nil)
	if err != nil {
		t.Fatalf("attach asset: %v", err)
	}
	rev := &db.Revision{Content: fmt.Sprintf("![img](upload://%s)", asset.LocalID)}

	if _, err := resolver.ResolvedAssets(rev); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("expected ErrUnresolved for pending asset, got %v", err)
	}

	if err := tracker.MarkSucceeded(asset.LocalID, 7, "https://cdn.example.com/i.jpg"); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	resolved, err := resolver.ResolvedAssets(rev)
	if err != nil {
		t.Fatalf("resolved assets: %v", err)
	}
	entry, ok := resolved[asset.LocalID]
	if !ok {
		t.Fatalf("expected entry for %s", asset.LocalID)
	}
	if entry.RemoteID != 7 || entry.RemoteURL != "https://cdn.example.com/i.jpg" {
		t.Fatalf("unexpected resolved entry: %+v", entry)
	}
}
