package users

import (
	"strings"
	"time"
)

// User is a locally stored directory entry. Rows imported from the external
// directory carry IsExternal and a unique ExternalID.
type User struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Email        string    `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	FirstName    string    `gorm:"column:first_name;size:100;not null" json:"first_name"`
	LastName     string    `gorm:"column:last_name;size:100;not null" json:"last_name"`
	AvatarURL    string    `gorm:"column:avatar;size:500" json:"avatar"`
	IsExternal   bool      `gorm:"column:is_external;not null;default:false" json:"is_external"`
	ExternalID   *int64    `gorm:"column:external_id;uniqueIndex" json:"external_id"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing directory users.
func (User) TableName() string {
	return "users"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
