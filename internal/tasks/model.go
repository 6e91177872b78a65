package tasks

import (
	"errors"
	"strings"
	"time"

	"github.com/collabroom/backend/internal/users"
)

// Status is the three-state task lifecycle.
type Status string

const (
	StatusTodo  Status = "todo"
	StatusDoing Status = "doing"
	StatusDone  Status = "done"
)

// ErrInvalidStatus indicates a status value outside the lifecycle.
var ErrInvalidStatus = errors.New("tasks: invalid status")

// ParseStatus validates a raw status value.
func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusTodo:
		return StatusTodo, nil
	case StatusDoing:
		return StatusDoing, nil
	case StatusDone:
		return StatusDone, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Task is a unit of work owned by a room, with an optional single assignee.
// An empty AssigneeID means the task is in the pool.
type Task struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	RoomID      string    `gorm:"column:room_id;size:190;not null;index"`
	Title       string    `gorm:"column:title;size:320;not null"`
	Description string    `gorm:"column:description;type:text;not null;default:''"`
	Status      Status    `gorm:"column:status;size:16;not null;default:todo"`
	AssigneeID  string    `gorm:"column:assignee_id;size:190;not null;default:''"`
	Order       int       `gorm:"column:sort_order;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return "tasks"
}

// View is the wire representation of a task with its assignee resolved.
type View struct {
	ID          string      `json:"_id"`
	RoomID      string      `json:"roomId"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Status      Status      `json:"status"`
	Assignee    *users.User `json:"assignee"`
	Order       int         `json:"order"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}
