package stories

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestShareSnapshotResolvesUntilExpiry(t *testing.T) {
	fixture := newTestFixture(t)
	owner := mustOwnerID(t, "owner-1")
	story := mustGenerate(t, fixture, owner, "A dragon wakes up")
	ctx := context.Background()

	grant, err := fixture.service.Share(ctx, mustStoryID(t, story.ID), owner)
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}
	if grant.Token.String() != "share-001" {
		t.Fatalf("unexpected token %q", grant.Token)
	}
	if grant.StoryID.String() != story.ID {
		t.Fatalf("unexpected granted story id %q", grant.StoryID)
	}

	snapshot, err := fixture.service.SharedSnapshot(ctx, grant.Token)
	if err != nil {
		t.Fatalf("expected snapshot immediately after share: %v", err)
	}
	if snapshot.ID != story.ID || snapshot.Content != story.Content || snapshot.OwnerID != story.OwnerID {
		t.Fatalf("snapshot differs from story: %#v", snapshot)
	}
	if !snapshot.CreatedAt.Equal(story.CreatedAt) {
		t.Fatalf("expected createdAt to survive serialization")
	}

	fixture.advanceCache(24 * time.Hour)
	_, err = fixture.service.SharedSnapshot(ctx, grant.Token)
	if !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("expected share to expire, got %v", err)
	}
}

func TestShareSnapshotSurvivesSourceDeletionAndRefinement(t *testing.T) {
	fixture := newTestFixture(t)
	owner := mustOwnerID(t, "owner-1")
	story := mustGenerate(t, fixture, owner, "original")
	ctx := context.Background()

	grant, err := fixture.service.Share(ctx, mustStoryID(t, story.ID), owner)
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}
	if _, err := fixture.service.Refine(ctx, mustStoryID(t, story.ID), owner, "darker"); err != nil {
		t.Fatalf("refine failed: %v", err)
	}
	if err := fixture.service.Delete(ctx, mustStoryID(t, story.ID), owner); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	snapshot, err := fixture.service.SharedSnapshot(ctx, grant.Token)
	if err != nil {
		t.Fatalf("expected snapshot to outlive the durable story: %v", err)
	}
	if snapshot.ID != story.ID || snapshot.Prompt != "original" {
		t.Fatalf("expected original snapshot, got %#v", snapshot)
	}
}

func TestShareEnforcesOwnership(t *testing.T) {
	fixture := newTestFixture(t)
	owner := mustOwnerID(t, "owner-1")
	story := mustGenerate(t, fixture, owner, "prompt")
	ctx := context.Background()

	_, err := fixture.service.Share(ctx, mustStoryID(t, story.ID), mustOwnerID(t, "owner-2"))
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected not owner error, got %v", err)
	}
	_, err = fixture.service.Share(ctx, mustStoryID(t, "missing"), owner)
	if !errors.Is(err, ErrStoryNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if fixture.cache.Len() != 0 {
		t.Fatalf("expected no cache writes for rejected shares")
	}
}

func TestSharedSnapshotUnknownToken(t *testing.T) {
	fixture := newTestFixture(t)
	token, err := NewShareToken("never-issued")
	if err != nil {
		t.Fatalf("unexpected token error: %v", err)
	}
	_, err = fixture.service.SharedSnapshot(context.Background(), token)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "stories.shared_snapshot.not_found" {
		t.Fatalf("expected not found code, got %v", err)
	}
	if !errors.Is(err, ErrShareNotFound) {
		t.Fatalf("expected share not found sentinel, got %v", err)
	}
}

func TestEachShareIssuesFreshToken(t *testing.T) {
	fixture := newTestFixture(t)
	owner := mustOwnerID(t, "owner-1")
	story := mustGenerate(t, fixture, owner, "prompt")
	ctx := context.Background()

	first, err := fixture.service.Share(ctx, mustStoryID(t, story.ID), owner)
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}
	second, err := fixture.service.Share(ctx, mustStoryID(t, story.ID), owner)
	if err != nil {
		t.Fatalf("share failed: %v", err)
	}
	if first.Token == second.Token {
		t.Fatalf("expected distinct tokens, got %q twice", first.Token)
	}
}
