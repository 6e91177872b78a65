package rooms

import (
	"time"

	"github.com/collabroom/backend/internal/users"
)

// Member roles within a room.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Room is a named collaboration space identified by a unique short code.
// Rooms persist even when empty; there is no garbage collection.
type Room struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Code      string    `gorm:"column:code;size:16;not null;uniqueIndex"`
	Name      string    `gorm:"column:name;size:190;not null"`
	CreatorID string    `gorm:"column:creator_id;size:190;not null"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Room) TableName() string {
	return "rooms"
}

// Member is one user's membership entry in a room.
type Member struct {
	RoomID   string    `gorm:"column:room_id;primaryKey;size:190;not null"`
	UserID   string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Role     string    `gorm:"column:role;size:16;not null;default:member"`
	JoinedAt time.Time `gorm:"column:joined_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "room_members"
}

// MemberView is a membership entry with its user resolved.
type MemberView struct {
	User     users.User `json:"user"`
	Role     string     `json:"role"`
	JoinedAt time.Time  `json:"joinedAt"`
}

// RoomView is the wire representation of a room, members resolved and
// ordered by join time.
type RoomView struct {
	ID        string       `json:"_id"`
	Code      string       `json:"code"`
	Name      string       `json:"name"`
	IsActive  bool         `json:"isActive"`
	CreatedAt time.Time    `json:"createdAt"`
	Members   []MemberView `json:"members"`
}

// RoomRef is the compact name+code listing of a room a user belongs to.
type RoomRef struct {
	Name string `json:"name"`
	Code string `json:"code"`
}
