package stories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/sharecache"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrStoryNotFound indicates no story exists with the requested id.
	ErrStoryNotFound = errors.New("stories: story not found")
	// ErrNotOwner indicates the caller does not own the requested story.
	ErrNotOwner = errors.New("stories: caller does not own story")
	// ErrShareNotFound indicates the share token is unknown or expired.
	ErrShareNotFound = errors.New("stories: share link expired or invalid")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingGenerator  = errors.New("generator is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingShareCache = errors.New("share cache is required")
	noOpLogger           = zap.NewNop()
)

const defaultShareTTL = 24 * time.Hour

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew     = "stories.service.new"
	opGenerate       = "stories.generate"
	opList           = "stories.list"
	opDelete         = "stories.delete"
	opRefine         = "stories.refine"
	opGuestRefine    = "stories.guest_refine"
	opShare          = "stories.share"
	opSharedSnapshot = "stories.shared_snapshot"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Generator turns a prompt into narrative text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerationObserver receives the outcome of every generation call.
type GenerationObserver interface {
	ObserveGeneration(kind string, outcome string, elapsed time.Duration)
}

type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Database    *gorm.DB
	Generator   Generator
	ShareCache  sharecache.Cache
	ShareTTL    time.Duration
	Clock       func() time.Time
	IDProvider  IDProvider
	ShareTokens IDProvider
	Observer    GenerationObserver
	Logger      *zap.Logger
}

// Service owns the story lifecycle: generation, refinement, deletion and sharing.
type Service struct {
	db          *gorm.DB
	generator   Generator
	shareCache  sharecache.Cache
	shareTTL    time.Duration
	clock       func() time.Time
	idProvider  IDProvider
	shareTokens IDProvider
	observer    GenerationObserver
	logger      *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Generator == nil {
		return nil, newServiceError(opServiceNew, "missing_generator", errMissingGenerator)
	}
	if cfg.ShareCache == nil {
		return nil, newServiceError(opServiceNew, "missing_share_cache", errMissingShareCache)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	shareTokens := cfg.ShareTokens
	if shareTokens == nil {
		shareTokens = NewShareTokenProvider()
	}
	shareTTL := cfg.ShareTTL
	if shareTTL <= 0 {
		shareTTL = defaultShareTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:          cfg.Database,
		generator:   cfg.Generator,
		shareCache:  cfg.ShareCache,
		shareTTL:    shareTTL,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		shareTokens: shareTokens,
		observer:    cfg.Observer,
		logger:      logger,
	}, nil
}

// Generate creates an original story for the owner from the raw prompt.
func (s *Service) Generate(ctx context.Context, ownerID OwnerID, prompt string) (Story, error) {
	if err := s.requireWriteDependencies(opGenerate); err != nil {
		return Story{}, err
	}
	if strings.TrimSpace(prompt) == "" {
		return Story{}, newServiceError(opGenerate, "invalid_prompt", ErrInvalidPrompt)
	}
	return s.generateAndPersist(ctx, opGenerate, newStoryDraft{
		kind:    KindOriginal,
		ownerID: ownerID.String(),
		request: prompt,
		label:   prompt,
	})
}

// List returns the owner's stories, newest first.
func (s *Service) List(ctx context.Context, ownerID OwnerID) ([]Story, error) {
	if s.db == nil {
		s.logError(opList, "missing_database", errMissingDatabase)
		return nil, newServiceError(opList, "missing_database", errMissingDatabase)
	}

	var stories []Story
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID.String()).
		Order("created_at DESC").
		Order("story_id DESC").
		Find(&stories).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("owner_id", ownerID.String()))
		return nil, newServiceError(opList, "query_failed", err)
	}
	return stories, nil
}

// Delete permanently removes a story owned by the caller.
func (s *Service) Delete(ctx context.Context, storyID StoryID, ownerID OwnerID) error {
	if s.db == nil {
		s.logError(opDelete, "missing_database", errMissingDatabase)
		return newServiceError(opDelete, "missing_database", errMissingDatabase)
	}

	if _, err := s.loadOwnedStory(ctx, opDelete, storyID, ownerID); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("story_id = ? AND owner_id = ?", storyID.String(), ownerID.String()).
		Delete(&Story{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("story_id", storyID.String()))
		return newServiceError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDelete, "not_found", ErrStoryNotFound)
	}
	return nil
}

// Refine asks the generator to rewrite an owned story and stores the result as a new
// story. The source story is left untouched.
func (s *Service) Refine(ctx context.Context, storyID StoryID, ownerID OwnerID, instruction string) (Story, error) {
	if err := s.requireWriteDependencies(opRefine); err != nil {
		return Story{}, err
	}
	trimmed := strings.TrimSpace(instruction)
	if trimmed == "" {
		return Story{}, newServiceError(opRefine, "invalid_instruction", ErrInvalidInstruction)
	}

	source, err := s.loadOwnedStory(ctx, opRefine, storyID, ownerID)
	if err != nil {
		return Story{}, err
	}
	return s.generateAndPersist(ctx, opRefine, newStoryDraft{
		kind:     KindRefined,
		ownerID:  source.OwnerID,
		parentID: source.ID,
		request:  BuildRefinementPrompt(source.Content, trimmed),
		label:    LabelFor(KindRefined, trimmed),
	})
}

// GuestRefine rewrites any story without authentication. The new story is attributed
// to the source story's owner so it shows up in their timeline.
func (s *Service) GuestRefine(ctx context.Context, storyID StoryID, instruction string) (Story, error) {
	if err := s.requireWriteDependencies(opGuestRefine); err != nil {
		return Story{}, err
	}
	trimmed := strings.TrimSpace(instruction)
	if trimmed == "" {
		return Story{}, newServiceError(opGuestRefine, "invalid_instruction", ErrInvalidInstruction)
	}

	source, err := s.loadStory(ctx, opGuestRefine, storyID)
	if err != nil {
		return Story{}, err
	}
	return s.generateAndPersist(ctx, opGuestRefine, newStoryDraft{
		kind:     KindGuest,
		ownerID:  source.OwnerID,
		parentID: source.ID,
		request:  BuildRefinementPrompt(source.Content, trimmed),
		label:    LabelFor(KindGuest, trimmed),
	})
}

type newStoryDraft struct {
	kind     Kind
	ownerID  string
	parentID string
	request  string
	label    string
}

func (s *Service) generateAndPersist(ctx context.Context, operation string, draft newStoryDraft) (Story, error) {
	started := s.clock()
	content, err := s.generator.Generate(ctx, draft.request)
	elapsed := s.clock().Sub(started)
	if err != nil {
		s.observe(draft.kind, "failure", elapsed)
		s.logError(operation, "generation_failed", err,
			zap.String("owner_id", draft.ownerID),
			zap.String("parent_id", draft.parentID))
		return Story{}, newServiceError(operation, "generation_failed", err)
	}
	s.observe(draft.kind, "success", elapsed)

	storyID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err, zap.String("owner_id", draft.ownerID))
		return Story{}, newServiceError(operation, "id_generation_failed", err)
	}

	story := Story{
		ID:        storyID,
		OwnerID:   draft.ownerID,
		ParentID:  draft.parentID,
		Kind:      draft.kind,
		Prompt:    draft.label,
		Content:   content,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&story).Error; err != nil {
		s.logError(operation, "story_insert_failed", err,
			zap.String("owner_id", draft.ownerID),
			zap.String("story_id", storyID))
		return Story{}, newServiceError(operation, "story_insert_failed", err)
	}
	return story, nil
}

func (s *Service) requireWriteDependencies(operation string) error {
	if s.db == nil {
		s.logError(operation, "missing_database", errMissingDatabase)
		return newServiceError(operation, "missing_database", errMissingDatabase)
	}
	if s.generator == nil {
		s.logError(operation, "missing_generator", errMissingGenerator)
		return newServiceError(operation, "missing_generator", errMissingGenerator)
	}
	if s.idProvider == nil {
		s.logError(operation, "missing_id_provider", errMissingIDProvider)
		return newServiceError(operation, "missing_id_provider", errMissingIDProvider)
	}
	return nil
}

func (s *Service) loadStory(ctx context.Context, operation string, storyID StoryID) (Story, error) {
	var story Story
	err := s.db.WithContext(ctx).Where("story_id = ?", storyID.String()).Take(&story).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Story{}, newServiceError(operation, "not_found", ErrStoryNotFound)
	}
	if err != nil {
		s.logError(operation, "story_select_failed", err, zap.String("story_id", storyID.String()))
		return Story{}, newServiceError(operation, "story_select_failed", err)
	}
	return story, nil
}

func (s *Service) loadOwnedStory(ctx context.Context, operation string, storyID StoryID, ownerID OwnerID) (Story, error) {
	story, err := s.loadStory(ctx, operation, storyID)
	if err != nil {
		return Story{}, err
	}
	if story.OwnerID != ownerID.String() {
		return Story{}, newServiceError(operation, "not_owner", ErrNotOwner)
	}
	return story, nil
}

func (s *Service) observe(kind Kind, outcome string, elapsed time.Duration) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveGeneration(string(kind), outcome, elapsed)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("stories service error", attrs...)
}
