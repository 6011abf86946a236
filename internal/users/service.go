package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/storyspark/backend/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minUsernameLength = 3
	maxUsernameLength = 64
	minPasswordLength = 6
	// bcrypt ignores input beyond 72 bytes.
	maxPasswordLength = 72
)

var (
	// ErrInvalidUsername indicates the username is empty or outside length bounds.
	ErrInvalidUsername = errors.New("users: invalid username")
	// ErrInvalidPassword indicates the password is outside length bounds.
	ErrInvalidPassword = errors.New("users: invalid password")
	// ErrUsernameTaken indicates another account already uses the username.
	ErrUsernameTaken = errors.New("users: username already exists")
	// ErrInvalidCredentials indicates an unknown username or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Hasher   auth.PasswordHasher
	Clock    func() time.Time
	NewID    func() (string, error)
	Logger   *zap.Logger
}

// Service registers accounts and verifies their passwords.
type Service struct {
	db     *gorm.DB
	hasher auth.PasswordHasher
	now    func() time.Time
	newID  func() (string, error)
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = newAccountID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		hasher: cfg.Hasher,
		now:    clock,
		newID:  newID,
		logger: logger,
	}, nil
}

// Register creates a new account. Usernames are compared case-insensitively.
func (s *Service) Register(ctx context.Context, username, password string) (Account, error) {
	canonical, err := canonicalUsername(username)
	if err != nil {
		return Account{}, err
	}
	if err := validatePassword(password); err != nil {
		return Account{}, err
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("username = ?", canonical).Count(&existing).Error; err != nil {
		return Account{}, fmt.Errorf("users: lookup username: %w", err)
	}
	if existing > 0 {
		return Account{}, ErrUsernameTaken
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Account{}, fmt.Errorf("users: hash password: %w", err)
	}
	accountID, err := s.newID()
	if err != nil {
		return Account{}, fmt.Errorf("users: generate id: %w", err)
	}

	now := s.now().UTC()
	account := Account{
		ID:           accountID,
		Username:     canonical,
		PasswordHash: hash,
		CreatedAt:    now,
		LastLoginAt:  now,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Account{}, ErrUsernameTaken
		}
		return Account{}, fmt.Errorf("users: create account: %w", err)
	}
	s.logger.Info("account registered", zap.String("account_id", account.ID))
	return account, nil
}

// Authenticate returns the account whose password matches. Unknown usernames and
// wrong passwords both yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Account, error) {
	canonical, err := canonicalUsername(username)
	if err != nil {
		return Account{}, ErrInvalidCredentials
	}

	var account Account
	err = s.db.WithContext(ctx).Where("username = ?", canonical).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, fmt.Errorf("users: lookup account: %w", err)
	}

	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, fmt.Errorf("users: compare password: %w", err)
	}

	account.LastLoginAt = s.now().UTC()
	if err := s.db.WithContext(ctx).Model(&Account{}).
		Where("account_id = ?", account.ID).
		Update("last_login_at", account.LastLoginAt).Error; err != nil {
		s.logger.Warn("failed to record login time", zap.String("account_id", account.ID), zap.Error(err))
	}
	return account, nil
}

func canonicalUsername(raw string) (string, error) {
	trimmed := strings.ToLower(normalize(raw))
	if len(trimmed) < minUsernameLength || len(trimmed) > maxUsernameLength {
		return "", fmt.Errorf("%w: must be %d-%d characters", ErrInvalidUsername, minUsernameLength, maxUsernameLength)
	}
	return trimmed, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrInvalidPassword, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: must be at most %d bytes", ErrInvalidPassword, maxPasswordLength)
	}
	return nil
}

func newAccountID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
