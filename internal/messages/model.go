package messages

import (
	"time"

	"github.com/collabroom/backend/internal/users"
)

// Message is one immutable chat entry. Scope is room-level when TaskID is
// empty and task-level otherwise.
type Message struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	RoomID    string    `gorm:"column:room_id;size:190;not null;index"`
	UserID    string    `gorm:"column:user_id;size:190;not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	TaskID    string    `gorm:"column:task_id;size:190;not null;default:'';index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// View is the wire representation of a message with its author resolved.
type View struct {
	ID        string     `json:"_id"`
	RoomID    string     `json:"roomId"`
	User      users.User `json:"user"`
	Content   string     `json:"content"`
	TaskID    string     `json:"taskId,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}
