package db

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User 定义了用户模型
type User struct {
	ID           string    `gorm:"primaryKey;size:255" json:"id"`
	Username     string    `gorm:"size:32;uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"size:255;not null" json:"-"`
	Bio          string    `gorm:"type:text" json:"bio,omitempty"`
	AvatarURL    string    `gorm:"size:255" json:"avatarUrl,omitempty"`
	Role         string    `gorm:"size:16;not null;default:user" json:"role"`
	IsActive     bool      `gorm:"not null" json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var (
	userIDUnsafePattern     = regexp.MustCompile(`[^a-z0-9]`)
	userIDUnderscorePattern = regexp.MustCompile(`_+`)
)

// GenerateUserID 生成带用户名前缀的 ID，格式为 username_xxxxxxxx。
func GenerateUserID(username string) string {
	sanitized := strings.ToLower(strings.TrimSpace(username))
	sanitized = userIDUnsafePattern.ReplaceAllString(sanitized, "_")
	sanitized = userIDUnderscorePattern.ReplaceAllString(sanitized, "_")
	random := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return sanitized + "_" + random
}

// IsAdmin reports whether the user carries the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// EnsureAdmin 存在性检查：若提供的用户名与密码均非空且不存在对应账号，则创建一个 bcrypt 哈希的管理员。
func EnsureAdmin(gdb *gorm.DB, username, password string) error {
	trimmedUser := strings.TrimSpace(username)
	trimmedPassword := strings.TrimSpace(password)
	if trimmedUser == "" || trimmedPassword == "" {
		return nil
	}

	if gdb == nil {
		return errors.New("database not initialized")
	}

	var existing User
	if err := gdb.Where("username = ?", trimmedUser).First(&existing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		hashed, err := bcrypt.GenerateFromPassword([]byte(trimmedPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}

		return gdb.Create(&User{
			ID:           GenerateUserID(trimmedUser),
			Username:     trimmedUser,
			PasswordHash: string(hashed),
			Role:         RoleAdmin,
			IsActive:     true,
		}).Error
	}

	return nil
}
