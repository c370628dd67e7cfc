package users

import (
	"strings"
	"time"
)

// Role labels the authorization level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is a registered account. Passwords are stored only as bcrypt
// hashes; the subscription tier gates cloud features at the API layer.
type User struct {
	ID                    uint       `gorm:"column:id;primaryKey"`
	Email                 string     `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	HashedPassword        string     `gorm:"column:hashed_password;size:128;not null"`
	Role                  Role       `gorm:"column:role;size:16;not null;default:user"`
	SubscriptionTier      Tier       `gorm:"column:subscription_tier;size:16;not null;default:free"`
	SubscriptionExpiresAt *time.Time `gorm:"column:subscription_expires_at"`
	IsActive              bool       `gorm:"column:is_active;not null;default:true"`
	CreatedAt             time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// RefreshToken is a single-use credential for minting a fresh access
// token. Rotation revokes the presented token and issues a replacement,
// so a replayed token is detectable.
type RefreshToken struct {
	ID        uint       `gorm:"column:id;primaryKey"`
	UserID    uint       `gorm:"column:user_id;not null;index:idx_refresh_tokens_user"`
	Token     string     `gorm:"column:token;size:36;not null;uniqueIndex:idx_refresh_tokens_token"`
	ExpiresAt time.Time  `gorm:"column:expires_at;not null"`
	RevokedAt *time.Time `gorm:"column:revoked_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing refresh tokens.
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
