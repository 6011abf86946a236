package stories

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/sharecache"
	"go.uber.org/zap"
)

// Share publishes a snapshot of an owned story under a fresh random token. The
// snapshot is frozen: later refinements or deletion do not change what the token
// resolves to before it expires.
func (s *Service) Share(ctx context.Context, storyID StoryID, ownerID OwnerID) (ShareGrant, error) {
	if s.db == nil {
		s.logError(opShare, "missing_database", errMissingDatabase)
		return ShareGrant{}, newServiceError(opShare, "missing_database", errMissingDatabase)
	}
	if s.shareCache == nil {
		s.logError(opShare, "missing_share_cache", errMissingShareCache)
		return ShareGrant{}, newServiceError(opShare, "missing_share_cache", errMissingShareCache)
	}

	story, err := s.loadOwnedStory(ctx, opShare, storyID, ownerID)
	if err != nil {
		return ShareGrant{}, err
	}

	rawToken, err := s.shareTokens.NewID()
	if err != nil {
		s.logError(opShare, "token_generation_failed", err, zap.String("story_id", story.ID))
		return ShareGrant{}, newServiceError(opShare, "token_generation_failed", err)
	}
	token, err := NewShareToken(rawToken)
	if err != nil {
		s.logError(opShare, "token_generation_failed", err, zap.String("story_id", story.ID))
		return ShareGrant{}, newServiceError(opShare, "token_generation_failed", err)
	}

	snapshot, err := json.Marshal(story)
	if err != nil {
		s.logError(opShare, "snapshot_encode_failed", err, zap.String("story_id", story.ID))
		return ShareGrant{}, newServiceError(opShare, "snapshot_encode_failed", err)
	}

	issuedAt := s.clock().UTC()
	if err := s.shareCache.Set(ctx, token.String(), snapshot, s.shareTTL); err != nil {
		s.logError(opShare, "cache_write_failed", err, zap.String("story_id", story.ID))
		return ShareGrant{}, newServiceError(opShare, "cache_write_failed", err)
	}

	return ShareGrant{
		Token:     token,
		StoryID:   StoryID(story.ID),
		ExpiresAt: issuedAt.Add(s.shareTTL),
	}, nil
}

// SharedSnapshot resolves a share token against the cache only; the durable store is
// never consulted.
func (s *Service) SharedSnapshot(ctx context.Context, token ShareToken) (Story, error) {
	if s.shareCache == nil {
		s.logError(opSharedSnapshot, "missing_share_cache", errMissingShareCache)
		return Story{}, newServiceError(opSharedSnapshot, "missing_share_cache", errMissingShareCache)
	}

	payload, err := s.shareCache.Get(ctx, token.String())
	if errors.Is(err, sharecache.ErrMiss) {
		return Story{}, newServiceError(opSharedSnapshot, "not_found", ErrShareNotFound)
	}
	if err != nil {
		s.logError(opSharedSnapshot, "cache_read_failed", err)
		return Story{}, newServiceError(opSharedSnapshot, "cache_read_failed", err)
	}

	var story Story
	if err := json.Unmarshal(payload, &story); err != nil {
		s.logError(opSharedSnapshot, "snapshot_decode_failed", err)
		return Story{}, newServiceError(opSharedSnapshot, "snapshot_decode_failed", err)
	}
	return story, nil
}
