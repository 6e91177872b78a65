package tasks

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
	// ErrInvalidInput indicates a missing title or room code.
	ErrInvalidInput = errors.New("tasks: invalid input")
	// ErrNotFound indicates no task exists with the given identifier.
	ErrNotFound = errors.New("tasks: task not found")
	// ErrNotAssignee rejects a status transition requested by someone other
	// than the current assignee.
	ErrNotAssignee = errors.New("tasks: status can only be changed by the assignee")

	errMissingDatabase    = errors.New("tasks: database handle is required")
	errMissingIDProvider  = errors.New("tasks: id provider is required")
	errMissingBroadcaster = errors.New("tasks: broadcaster is required")
)

// Event names published on the owning room's topic.
const (
	EventTaskCreated = "task-created"
	EventTaskUpdated = "task-updated"
	EventTaskDeleted = "task-deleted"
)

// Broadcaster fans events out to subscribed sessions.
type Broadcaster interface {
	Publish(topic, event string, payload any)
}

// IDProvider issues identifiers for newly created tasks.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the task service.
type ServiceConfig struct {
	Database    *gorm.DB
	Broadcaster Broadcaster
	IDProvider  IDProvider
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service governs the task lifecycle. Every accepted mutation publishes a
// corresponding event to the owning room's topic so all board views
// converge without polling.
type Service struct {
	db          *gorm.DB
	broadcaster Broadcaster
	idProvider  IDProvider
	clock       func() time.Time
	logger      *zap.Logger
}

// NewService constructs the task service.
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

// CreateParams describes a new task.
type CreateParams struct {
	RoomCode    string
	Title       string
	Description string
	AssigneeID  string
}

// UpdateParams carries the optional fields of a task update. Nil pointers
// leave the field untouched. Status changes go through the transition rule;
// the remaining fields are free-form edits accepted from any member.
type UpdateParams struct {
	Status      *string
	Assignee    *string
	Title       *string
	Description *string
	Order       *int
}

// ListByRoom returns all tasks of the room identified by code.
func (s *Service) ListByRoom(ctx context.Context, roomCode string) ([]View, error) {
	room, err := s.roomByCode(ctx, roomCode)
	if err != nil {
		return nil, err
	}

	var records []Task
	if err := s.db.WithContext(ctx).
		Where("room_id = ?", room.ID).
		Order("sort_order ASC, created_at ASC").
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

// Create persists a task in the todo column and publishes task-created.
func (s *Service) Create(ctx context.Context, params CreateParams) (View, error) {
	if strings.TrimSpace(params.Title) == "" {
		return View{}, ErrInvalidInput
	}
	room, err := s.roomByCode(ctx, params.RoomCode)
	if err != nil {
		return View{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return View{}, err
	}
	now := s.clock().UTC()
	task := Task{
		ID:          id,
		RoomID:      room.ID,
		Title:       strings.TrimSpace(params.Title),
		Description: params.Description,
		Status:      StatusTodo,
		AssigneeID:  params.AssigneeID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return View{}, err
	}

	view, err := s.view(ctx, task)
	if err != nil {
		return View{}, err
	}
	s.broadcaster.Publish(rooms.TopicForCode(room.Code), EventTaskCreated, view)
	return view, nil
}

// Update applies a task mutation on behalf of requesterID and publishes
// task-updated when accepted.
//
// Transition rule, enforced before any state change: when the update moves
// the task to a different status, a task that already has an assignee may
// only be moved by that assignee. Moving an unassigned task away from todo
// auto-assigns the requester; moving any task into todo returns it to the
// pool by clearing the assignee regardless of requester.
//
// There is no version check: concurrent updates race at the store and the
// last write wins.
func (s *Service) Update(ctx context.Context, taskID, requesterID string, params UpdateParams) (View, error) {
	task, err := s.getByID(ctx, taskID)
	if err != nil {
		return View{}, err
	}

	if params.Status != nil {
		newStatus, err := ParseStatus(*params.Status)
		if err != nil {
			return View{}, err
		}
		if newStatus != task.Status {
			if task.AssigneeID != "" && task.AssigneeID != requesterID {
				return View{}, ErrNotAssignee
			}
			switch {
			case newStatus == StatusTodo:
				task.AssigneeID = ""
			case task.AssigneeID == "":
				task.AssigneeID = requesterID
			}
			task.Status = newStatus
		}
	}

	if params.Title != nil && strings.TrimSpace(*params.Title) != "" {
		task.Title = strings.TrimSpace(*params.Title)
	}
	if params.Description != nil {
		task.Description = *params.Description
	}
	if params.Assignee != nil {
		task.AssigneeID = *params.Assignee
	}
	if params.Order != nil {
		task.Order = *params.Order
	}
	task.UpdatedAt = s.clock().UTC()

	if err := s.db.WithContext(ctx).Save(&task).Error; err != nil {
		return View{}, err
	}

	view, err := s.view(ctx, task)
	if err != nil {
		return View{}, err
	}
	room, err := s.roomByID(ctx, task.RoomID)
	if err != nil {
		return View{}, err
	}
	s.broadcaster.Publish(rooms.TopicForCode(room.Code), EventTaskUpdated, view)
	return view, nil
}

// Delete removes a task and publishes task-deleted to the owning room.
// Both the DELETE route and the task-delete socket event land here, so the
// two entry points cannot diverge.
func (s *Service) Delete(ctx context.Context, taskID string) error {
	task, err := s.getByID(ctx, taskID)
	if err != nil {
		return err
	}
	room, err := s.roomByID(ctx, task.RoomID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Where("id = ?", task.ID).Delete(&Task{}).Error; err != nil {
		return err
	}

	s.broadcaster.Publish(rooms.TopicForCode(room.Code), EventTaskDeleted, map[string]string{"taskId": task.ID})
	s.logger.Info("task deleted", zap.String("task_id", task.ID), zap.String("room_code", room.Code))
	return nil
}

// GetByID loads a single task view.
func (s *Service) GetByID(ctx context.Context, taskID string) (View, error) {
	task, err := s.getByID(ctx, taskID)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, task)
}

func (s *Service) getByID(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := s.db.WithContext(ctx).Where("id = ?", taskID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, err
	}
	return task, nil
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

func (s *Service) roomByID(ctx context.Context, roomID string) (rooms.Room, error) {
	var room rooms.Room
	err := s.db.WithContext(ctx).Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rooms.Room{}, rooms.ErrNotFound
	}
	if err != nil {
		return rooms.Room{}, err
	}
	return room, nil
}

func (s *Service) view(ctx context.Context, task Task) (View, error) {
	view := View{
		ID:          task.ID,
		RoomID:      task.RoomID,
		Title:       task.Title,
		Description: task.Description,
		Status:      task.Status,
		Order:       task.Order,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
	if task.AssigneeID != "" {
		var assignee users.User
		err := s.db.WithContext(ctx).Where("id = ?", task.AssigneeID).First(&assignee).Error
		if err == nil {
			view.Assignee = &assignee
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return View{}, err
		}
	}
	return view, nil
}
