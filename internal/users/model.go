package users

import "time"

// User is a lightweight, login-free identity keyed by display name.
//
// Names carry no uniqueness constraint: two people choosing the same name
// resolve to the same record through lookup-or-create. This mirrors the
// ephemeral, no-password identity model of the product.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"_id"`
	Name      string    `gorm:"column:name;size:190;not null;index" json:"name"`
	Avatar    string    `gorm:"column:avatar;size:512" json:"avatar"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}
