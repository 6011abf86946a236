package stories

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind records how a story was produced.
type Kind string

const (
	// KindOriginal is generated directly from an owner's prompt.
	KindOriginal Kind = "original"
	// KindRefined is an owner's rewrite of an earlier story.
	KindRefined Kind = "refined"
	// KindGuest is a rewrite requested anonymously through a share link.
	KindGuest Kind = "guest"
)

const (
	refinedLabelPrefix  = "(Refined) "
	guestLabelPrefix    = "(Guest) "
	maxIdentifierLength = 190
)

var (
	// ErrInvalidStoryID indicates that a story identifier is empty or exceeds storage bounds.
	ErrInvalidStoryID = errors.New("stories: invalid story id")
	// ErrInvalidOwnerID indicates that an owner identifier is empty or exceeds storage bounds.
	ErrInvalidOwnerID = errors.New("stories: invalid owner id")
	// ErrInvalidPrompt indicates an empty generation prompt.
	ErrInvalidPrompt = errors.New("stories: invalid prompt")
	// ErrInvalidInstruction indicates an empty refinement instruction.
	ErrInvalidInstruction = errors.New("stories: invalid instruction")
	// ErrInvalidShareToken indicates an empty or oversized share token.
	ErrInvalidShareToken = errors.New("stories: invalid share token")
)

// StoryID represents a validated story identifier.
type StoryID string

// NewStoryID validates raw input and returns a StoryID.
func NewStoryID(rawInput string) (StoryID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidStoryID)
	return StoryID(trimmed), err
}

// String returns the underlying string identifier.
func (id StoryID) String() string {
	return string(id)
}

// OwnerID represents a validated account identifier owning stories.
type OwnerID string

// NewOwnerID validates raw input and returns an OwnerID.
func NewOwnerID(rawInput string) (OwnerID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidOwnerID)
	return OwnerID(trimmed), err
}

// String returns the underlying string identifier.
func (id OwnerID) String() string {
	return string(id)
}

// ShareToken represents a validated share token.
type ShareToken string

// NewShareToken validates raw input and returns a ShareToken.
func NewShareToken(rawInput string) (ShareToken, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidShareToken)
	return ShareToken(trimmed), err
}

// String returns the underlying token.
func (token ShareToken) String() string {
	return string(token)
}

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// Story is one immutable generated narrative.
type Story struct {
	ID        string    `gorm:"column:story_id;primaryKey;size:190;not null" json:"id"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index:idx_stories_owner_created,priority:1" json:"ownerId"`
	ParentID  string    `gorm:"column:parent_id;size:190;not null;default:'';index" json:"parentId"`
	Kind      Kind      `gorm:"column:kind;size:16;not null;default:''" json:"kind"`
	Prompt    string    `gorm:"column:prompt;type:text;not null" json:"prompt"`
	Content   string    `gorm:"column:content;type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_stories_owner_created,priority:2" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Story) TableName() string {
	return "stories"
}

// LabelFor returns the display prompt recorded for a story of the given kind.
func LabelFor(kind Kind, text string) string {
	switch kind {
	case KindRefined:
		return refinedLabelPrefix + text
	case KindGuest:
		return guestLabelPrefix + text
	default:
		return text
	}
}

// KindFromPrompt infers the kind of a legacy record from its prompt label.
func KindFromPrompt(prompt string) Kind {
	switch {
	case strings.HasPrefix(prompt, refinedLabelPrefix):
		return KindRefined
	case strings.HasPrefix(prompt, guestLabelPrefix):
		return KindGuest
	default:
		return KindOriginal
	}
}

// ShareGrant describes a freshly published share link.
type ShareGrant struct {
	Token     ShareToken
	StoryID   StoryID
	ExpiresAt time.Time
}
