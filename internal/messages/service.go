package messages

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/collabroom/backend/internal/rooms"
	"github.com/collabroom/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidInput indicates missing content, room code or author.
	ErrInvalidInput = errors.New("messages: invalid input")

	errMissingDatabase    = errors.New("messages: database handle is required")
	errMissingIDProvider  = errors.New("messages: id provider is required")
	errMissingBroadcaster = errors.New("messages: broadcaster is required")
)

// Event names for freshly persisted messages.
const (
	EventNewMessage     = "new-message"
	EventNewTaskMessage = "new-task-message"
)

// TaskTopic returns the broadcast topic of a task's collaborative session.
func TaskTopic(taskID string) string {
	return "task:" + taskID
}

// Broadcaster fans events out to subscribed sessions.
type Broadcaster interface {
	Publish(topic, event string, payload any)
}

// IDProvider issues identifiers for newly created messages.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the message service.
type ServiceConfig struct {
	Database    *gorm.DB
	Broadcaster Broadcaster
	IDProvider  IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service persists immutable chat messages and announces them to the
// matching scope topic.
type Service struct {
	db          *gorm.DB
	broadcaster Broadcaster
	idProvider  IDProvider
	clock       func() time.Time
	logger      *zap.Logger
}

// NewService constructs the message service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
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
		broadcaster: cfg.Broadcaster,
		idProvider:  cfg.IDProvider,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Create persists a message and publishes new-message to the room topic,
// or new-task-message to the task topic when task-scoped.
func (s *Service) Create(ctx context.Context, roomCode, userID, content, taskID string) (View, error) {
	if strings.TrimSpace(content) == "" || strings.TrimSpace(userID) == "" {
		return View{}, ErrInvalidInput
	}
	room, err := s.roomByCode(ctx, roomCode)
	if err != nil {
		return View{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return View{}, err
	}
	message := Message{
		ID:        id,
		RoomID:    room.ID,
		UserID:    userID,
		Content:   content,
		TaskID:    taskID,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		return View{}, err
	}

	view, err := s.view(ctx, message)
	if err != nil {
		return View{}, err
	}

	if taskID != "" {
		s.broadcaster.Publish(TaskTopic(taskID), EventNewTaskMessage, view)
	} else {
		s.broadcaster.Publish(rooms.TopicForCode(room.Code), EventNewMessage, view)
	}
	return view, nil
}

// ListRoom returns the room-level messages of a room in creation order.
// Task-scoped messages are excluded.
func (s *Service) ListRoom(ctx context.Context, roomCode string) ([]View, error) {
	room, err := s.roomByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, "room_id = ? AND task_id = ''", room.ID)
}

// ListTask returns the messages of one task's thread in creation order.
func (s *Service) ListTask(ctx context.Context, taskID string) ([]View, error) {
	return s.list(ctx, "task_id = ?", taskID)
}

func (s *Service) list(ctx context.Context, query string, args ...any) ([]View, error) {
	var records []Message
	if err := s.db.WithContext(ctx).
		Where(query, args...).
		Order("created_at ASC, id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}

	views := make([]View, 0, len(records))
	for _, record := range records {
		view, err := s.view(ctx, record)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) roomByCode(ctx context.Context, code string) (rooms.Room, error) {
	var room rooms.Room
	err := s.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rooms.Room{}, rooms.ErrNotFound
	}
	if err != nil {
		return rooms.Room{}, err
	}
	return room, nil
}

func (s *Service) view(ctx context.Context, message Message) (View, error) {
	view := View{
		ID:        message.ID,
		RoomID:    message.RoomID,
		Content:   message.Content,
		TaskID:    message.TaskID,
		CreatedAt: message.CreatedAt,
	}
	var author users.User
	err := s.db.WithContext(ctx).Where("id = ?", message.UserID).First(&author).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return View{}, err
	}
	view.User = author
	return view, nil
}
