package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidName indicates an empty or whitespace-only display name.
	ErrInvalidName = errors.New("users: invalid display name")
	// ErrNotFound indicates no user exists with the given identifier.
	ErrNotFound = errors.New("users: user not found")

	errMissingDatabase   = errors.New("users: database handle is required")
	errMissingIDProvider = errors.New("users: id provider is required")
)

const avatarURLPattern = "https://api.dicebear.com/7.x/avataaars/svg?seed=%s"

// IDProvider issues identifiers for newly created users.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for identity resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service resolves display names to durable User records.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the identity service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// LookupOrCreate returns the first user with the given display name,
// creating one when none exists.
func (s *Service) LookupOrCreate(ctx context.Context, name string) (User, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return User{}, ErrInvalidName
	}

	var user User
	err := s.db.WithContext(ctx).Where("name = ?", trimmed).First(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}
	user = User{
		ID:        id,
		Name:      trimmed,
		Avatar:    fmt.Sprintf(avatarURLPattern, trimmed),
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	s.logger.Debug("user created", zap.String("user_id", user.ID), zap.String("name", user.Name))
	return user, nil
}

// GetByID loads a user by identifier.
func (s *Service) GetByID(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}
