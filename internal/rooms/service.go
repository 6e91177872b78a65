package rooms

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/collabroom/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidInput indicates a missing room name, code or user name.
	ErrInvalidInput = errors.New("rooms: invalid input")
	// ErrNotFound indicates no room exists with the given code.
	ErrNotFound = errors.New("rooms: room not found")
	// ErrCodeSpaceExhausted indicates code generation gave up after widening
	// the code length past its bound. Practically unreachable.
	ErrCodeSpaceExhausted = errors.New("rooms: code space exhausted")

	errMissingDatabase    = errors.New("rooms: database handle is required")
	errMissingIDProvider  = errors.New("rooms: id provider is required")
	errMissingIdentity    = errors.New("rooms: identity resolver is required")
	errMissingBroadcaster = errors.New("rooms: broadcaster is required")
)

// Event names published by the room lifecycle.
const (
	EventRoomUpdate     = "room-update"
	EventRoomListUpdate = "room-list-update"
)

// TopicForCode returns the broadcast topic carrying a room's events.
func TopicForCode(code string) string {
	return "room:" + strings.ToUpper(code)
}

// IdentityResolver looks up or creates a user by display name.
type IdentityResolver interface {
	LookupOrCreate(ctx context.Context, name string) (users.User, error)
}

// Broadcaster fans events out to subscribed sessions.
type Broadcaster interface {
	Publish(topic, event string, payload any)
	Broadcast(event string, payload any)
}

// IDProvider issues identifiers for newly created rooms.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the room service.
type ServiceConfig struct {
	Database    *gorm.DB
	Identity    IdentityResolver
	Broadcaster Broadcaster
	IDProvider  IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service manages room lifecycle, membership and presence sync.
type Service struct {
	db          *gorm.DB
	identity    IdentityResolver
	broadcaster Broadcaster
	idProvider  IDProvider
	clock       func() time.Time
	logger      *zap.Logger
}

// NewService constructs the room service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Identity == nil {
		return nil, errMissingIdentity
	}
	if cfg.Broadcaster == nil {
		return nil, errMissingBroadcaster
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
		db:          cfg.Database,
		identity:    cfg.Identity,
		broadcaster: cfg.Broadcaster,
		idProvider:  cfg.IDProvider,
		clock:       clock,
		logger:      logger,
	}, nil
}

// MembershipResult is the outcome of a create or join operation.
type MembershipResult struct {
	Room  RoomView
	User  users.User
	Rooms []RoomRef
}

// Create provisions a room with the named user as its sole admin member
// and announces it on the room topic and the global room list.
func (s *Service) Create(ctx context.Context, roomName, userName string) (MembershipResult, error) {
	roomName = strings.TrimSpace(roomName)
	if roomName == "" || strings.TrimSpace(userName) == "" {
		return MembershipResult{}, ErrInvalidInput
	}

	user, err := s.identity.LookupOrCreate(ctx, userName)
	if err != nil {
		return MembershipResult{}, err
	}

	roomID, err := s.idProvider.NewID()
	if err != nil {
		return MembershipResult{}, err
	}

	room := Room{
		ID:        roomID,
		Name:      roomName,
		CreatorID: user.ID,
		IsActive:  true,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.insertWithFreshCode(ctx, &room, user.ID); err != nil {
		return MembershipResult{}, err
	}

	result, err := s.membershipResult(ctx, room, user)
	if err != nil {
		return MembershipResult{}, err
	}

	s.broadcaster.Publish(TopicForCode(room.Code), EventRoomUpdate, result.Room)
	s.broadcaster.Broadcast(EventRoomListUpdate, nil)
	s.logger.Info("room created",
		zap.String("room_id", room.ID),
		zap.String("code", room.Code),
		zap.String("creator_id", user.ID))
	return result, nil
}

// Join adds the named user to the room identified by code. Joining is
// idempotent: an existing member is returned unchanged.
func (s *Service) Join(ctx context.Context, code, userName string) (MembershipResult, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(userName) == "" {
		return MembershipResult{}, ErrInvalidInput
	}

	room, err := s.getByCode(ctx, code)
	if err != nil {
		return MembershipResult{}, err
	}

	user, err := s.identity.LookupOrCreate(ctx, userName)
	if err != nil {
		return MembershipResult{}, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Member{}).
		Where("room_id = ? AND user_id = ?", room.ID, user.ID).
		Count(&count).Error; err != nil {
		return MembershipResult{}, err
	}
	if count == 0 {
		member := Member{
			RoomID:   room.ID,
			UserID:   user.ID,
			Role:     RoleMember,
			JoinedAt: s.clock().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
			return MembershipResult{}, err
		}
	}

	result, err := s.membershipResult(ctx, room, user)
	if err != nil {
		return MembershipResult{}, err
	}

	s.broadcaster.Publish(TopicForCode(room.Code), EventRoomUpdate, result.Room)
	s.broadcaster.Broadcast(EventRoomListUpdate, nil)
	return result, nil
}

// Leave removes the user's membership entry. Durable data authored by the
// user stays; task assignments are deliberately not cleared.
func (s *Service) Leave(ctx context.Context, code, userID string) ([]RoomRef, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidInput
	}

	room, err := s.getByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", room.ID, userID).
		Delete(&Member{}).Error; err != nil {
		return nil, err
	}

	view, err := s.view(ctx, room)
	if err != nil {
		return nil, err
	}
	s.broadcaster.Publish(TopicForCode(room.Code), EventRoomUpdate, view)

	return s.ListForUser(ctx, userID)
}

// Snapshot returns the current full room state for a code. Used to push
// state directly to a freshly subscribed session, independent of the
// broadcast path.
func (s *Service) Snapshot(ctx context.Context, code string) (RoomView, error) {
	room, err := s.getByCode(ctx, code)
	if err != nil {
		return RoomView{}, err
	}
	return s.view(ctx, room)
}

// GetByCode loads the durable room row for a code.
func (s *Service) GetByCode(ctx context.Context, code string) (Room, error) {
	return s.getByCode(ctx, code)
}

// ListForUser returns the compact room list the user is a member of.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]RoomRef, error) {
	var refs []RoomRef
	err := s.db.WithContext(ctx).Model(&Room{}).
		Select("rooms.name, rooms.code").
		Joins("JOIN room_members ON room_members.room_id = rooms.id").
		Where("room_members.user_id = ?", userID).
		Order("room_members.joined_at ASC").
		Scan(&refs).Error
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (s *Service) getByCode(ctx context.Context, code string) (Room, error) {
	var room Room
	err := s.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Room{}, ErrNotFound
	}
	if err != nil {
		return Room{}, err
	}
	return room, nil
}

// insertWithFreshCode persists the room under a collision-free code. The
// unique index on code is the final arbiter: a concurrent insert of the
// same code surfaces as a duplicate-key error and re-enters the sampling
// loop.
func (s *Service) insertWithFreshCode(ctx context.Context, room *Room, creatorID string) error {
	for bonus := 0; bonus <= maxCodeLengthBonus; bonus++ {
		length := codeLength + bonus
		for draw := 0; draw < maxDrawsPerLength; draw++ {
			code, err := randomCode(length)
			if err != nil {
				return err
			}

			var count int64
			if err := s.db.WithContext(ctx).Model(&Room{}).
				Where("code = ?", code).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			room.Code = code
			err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := tx.Create(room).Error; err != nil {
					return err
				}
				member := Member{
					RoomID:   room.ID,
					UserID:   creatorID,
					Role:     RoleAdmin,
					JoinedAt: s.clock().UTC(),
				}
				return tx.Create(&member).Error
			})
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return err
		}
	}
	return ErrCodeSpaceExhausted
}

func (s *Service) membershipResult(ctx context.Context, room Room, user users.User) (MembershipResult, error) {
	view, err := s.view(ctx, room)
	if err != nil {
		return MembershipResult{}, err
	}
	refs, err := s.ListForUser(ctx, user.ID)
	if err != nil {
		return MembershipResult{}, err
	}
	return MembershipResult{Room: view, User: user, Rooms: refs}, nil
}

func (s *Service) view(ctx context.Context, room Room) (RoomView, error) {
	var members []Member
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", room.ID).
		Order("joined_at ASC").
		Find(&members).Error; err != nil {
		return RoomView{}, err
	}

	memberViews := make([]MemberView, 0, len(members))
	for _, member := range members {
		var user users.User
		if err := s.db.WithContext(ctx).Where("id = ?", member.UserID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return RoomView{}, err
		}
		memberViews = append(memberViews, MemberView{
			User:     user,
			Role:     member.Role,
			JoinedAt: member.JoinedAt,
		})
	}

	return RoomView{
		ID:        room.ID,
		Code:      room.Code,
		Name:      room.Name,
		IsActive:  room.IsActive,
		CreatedAt: room.CreatedAt,
		Members:   memberViews,
	}, nil
}
