package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/feedlog/internal/db"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidCredentials   = errors.New("invalid username or password")
	ErrUserInactive         = errors.New("user account is disabled")
	ErrUsernameRequired     = errors.New("username is required")
	ErrUsernameTaken        = errors.New("username already exists")
	ErrUsernameTooLong      = errors.New("username must be at most 32 characters")
	ErrPasswordTooShort     = errors.New("password must be at least 6 characters")
	ErrInvalidRole          = errors.New(`role must be either "user" or "admin"`)
	ErrNoUserUpdates        = errors.New("no valid updates provided")
	ErrCannotDeleteSelf     = errors.New("cannot delete your own account")
	ErrCannotDemoteSelf     = errors.New("cannot remove your own admin role")
	ErrWrongCurrentPassword = errors.New("current password is incorrect")
)

const (
	MinPasswordLength    = 6
	MaxUsernameLength    = 32
	DefaultUserListLimit = 50
	MaxUserListLimit     = 100
	resetPasswordLength  = 12
	resetPasswordCharset = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
)

// UserFilter describes filters for listing users.
type UserFilter struct {
	Search string
	SortBy string
	Order  string
	Page   int
	Limit  int
}

// UserListResult is a page of users.
type UserListResult struct {
	Users   []db.User `json:"users"`
	Page    int       `json:"page"`
	Limit   int       `json:"limit"`
	HasMore bool      `json:"hasMore"`
}

// UserInput represents fields accepted when creating a user.
type UserInput struct {
	Username string
	Password string
	Role     string
}

// UserUpdate carries optional user changes; nil fields are left untouched.
type UserUpdate struct {
	IsActive *bool
	Role     *string
}

var userSortColumns = map[string]string{
	"createdAt": "created_at",
	"username":  "username",
	"role":      "role",
}

// UserService 负责账号、登录校验以及后台用户管理。
type UserService struct {
	db    *gorm.DB
	blobs BlobStore
	audit *AuditRecorder
}

// NewUserService creates a UserService instance. blobs and audit may be nil.
func NewUserService(gdb *gorm.DB, blobs BlobStore, audit *AuditRecorder) *UserService {
	return &UserService{db: gdb, blobs: blobs, audit: audit}
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func validRole(role string) bool {
	return role == db.RoleUser || role == db.RoleAdmin
}

// Authenticate verifies credentials and returns the active user.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*db.User, error) {
	var user db.User
	if err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	return &user, nil
}

// Lookup fetches a user by id without authorization checks. Used to resolve
// the session into an Actor.
func (s *UserService) Lookup(ctx context.Context, id string) (*db.User, error) {
	var user db.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Get fetches a user by id. Admin only.
func (s *UserService) Get(ctx context.Context, actor *Actor, id string) (*db.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.Lookup(ctx, id)
}

// List returns a page of users. Admin only.
func (s *UserService) List(ctx context.Context, actor *Actor, filter UserFilter) (*UserListResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	page := normalizePage(filter.Page)
	limit := filter.Limit
	if limit == 0 {
		limit = DefaultUserListLimit
	}
	limit = clampLimit(limit, MaxUserListLimit)
	offset, ok := pageOffset(page, limit)
	if !ok {
		return &UserListResult{Users: []db.User{}, Page: page, Limit: limit}, nil
	}

	query := s.db.WithContext(ctx).Model(&db.User{})
	if search := strings.TrimSpace(filter.Search); search != "" {
		query = query.Where("username LIKE ?", "%"+search+"%")
	}

	column, ok := userSortColumns[filter.SortBy]
	if !ok {
		column = userSortColumns["createdAt"]
	}
	direction := "desc"
	if strings.EqualFold(filter.Order, "asc") {
		direction = "asc"
	}

	users := make([]db.User, 0)
	if err := query.
		Order(column + " " + direction).
		Order("id " + direction).
		Limit(limit + 1).
		Offset(offset).
		Find(&users).Error; err != nil {
		return nil, err
	}

	hasMore := len(users) > limit
	if hasMore {
		users = users[:limit]
	}
	return &UserListResult{Users: users, Page: page, Limit: limit, HasMore: hasMore}, nil
}

// Create adds a new active user. Admin only.
func (s *UserService) Create(ctx context.Context, actor *Actor, input UserInput) (*db.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	username := strings.TrimSpace(input.Username)
	switch {
	case username == "":
		return nil, ErrUsernameRequired
	case len(username) > MaxUsernameLength:
		return nil, ErrUsernameTooLong
	case len(input.Password) < MinPasswordLength:
		return nil, ErrPasswordTooShort
	}
	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = db.RoleUser
	}
	if !validRole(role) {
		return nil, ErrInvalidRole
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&db.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}

	hashed, err := hashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	user := db.User{
		ID:           db.GenerateUserID(username),
		Username:     username,
		PasswordHash: hashed,
		Role:         role,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.audit.Record(ctx, actor.ID, AuditActionCreateUser, "user", user.ID, map[string]any{
		"createdUsername": username,
		"assignedRole":    role,
	})
	return &user, nil
}

// Update changes the active flag and/or role of a user. Admin only.
func (s *UserService) Update(ctx context.Context, actor *Actor, id string, update UserUpdate) (*db.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	user, err := s.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	fields := make([]string, 0, 2)
	if update.IsActive != nil {
		changes["is_active"] = *update.IsActive
		fields = append(fields, "isActive")
	}
	if update.Role != nil {
		role := strings.TrimSpace(*update.Role)
		if !validRole(role) {
			return nil, ErrInvalidRole
		}
		if id == actor.ID && user.Role == db.RoleAdmin && role != db.RoleAdmin {
			return nil, ErrCannotDemoteSelf
		}
		changes["role"] = role
		fields = append(fields, "role")
	}
	if len(changes) == 0 {
		return nil, ErrNoUserUpdates
	}

	if err := s.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", id).Updates(changes).Error; err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	s.audit.Record(ctx, actor.ID, AuditActionUpdateUser, "user", id, map[string]any{
		"updatedFields": fields,
	})
	return s.Lookup(ctx, id)
}

// Delete removes a user together with their posts and media. Admin only;
// admins cannot delete themselves.
func (s *UserService) Delete(ctx context.Context, actor *Actor, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if id == actor.ID {
		return ErrCannotDeleteSelf
	}

	user, err := s.Lookup(ctx, id)
	if err != nil {
		return err
	}

	gdb := s.db.WithContext(ctx)
	var postIDs []string
	if err := gdb.Model(&db.Post{}).Where("author_id = ?", id).Pluck("id", &postIDs).Error; err != nil {
		return err
	}
	var media []db.Media
	if len(postIDs) > 0 {
		if err := gdb.Where("post_id IN ?", postIDs).Find(&media).Error; err != nil {
			return err
		}
	}
	var pending []string
	if err := gdb.Model(&db.Upload{}).Where("owner_id = ?", id).Pluck("reference", &pending).Error; err != nil {
		return err
	}

	if err := gdb.Transaction(func(tx *gorm.DB) error {
		if _, err := deletePosts(tx, postIDs); err != nil {
			return err
		}
		if err := tx.Where("owner_id = ?", id).Delete(&db.Upload{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&db.User{}).Error
	}); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	// 行已提交删除，再清理磁盘文件
	blobsDeleted := deleteBlobs(ctx, s.blobs, append(storageRefs(media), pending...))

	s.audit.Record(ctx, actor.ID, AuditActionDeleteUser, "user", id, map[string]any{
		"deletedUsername": user.Username,
		"postsDeleted":    len(postIDs),
		"blobsDeleted":    blobsDeleted,
	})
	return nil
}

// ResetPassword assigns a random password and returns it once. Admin only.
func (s *UserService) ResetPassword(ctx context.Context, actor *Actor, id string) (string, error) {
	if err := requireAdmin(actor); err != nil {
		return "", err
	}

	user, err := s.Lookup(ctx, id)
	if err != nil {
		return "", err
	}

	password, err := randomPassword(resetPasswordLength)
	if err != nil {
		return "", err
	}
	hashed, err := hashPassword(password)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", id).Update("password_hash", hashed).Error; err != nil {
		return "", fmt.Errorf("reset password: %w", err)
	}

	s.audit.Record(ctx, actor.ID, AuditActionResetPassword, "user", id, map[string]any{
		"username": user.Username,
	})
	return password, nil
}

// ChangePassword lets the actor replace their own password.
func (s *UserService) ChangePassword(ctx context.Context, actor *Actor, current, next string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if len(next) < MinPasswordLength {
		return ErrPasswordTooShort
	}

	user, err := s.Lookup(ctx, actor.ID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
		return ErrWrongCurrentPassword
	}

	hashed, err := hashPassword(next)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Model(&db.User{}).Where("id = ?", actor.ID).Update("password_hash", hashed).Error; err != nil {
		return fmt.Errorf("change password: %w", err)
	}

	s.audit.Record(ctx, actor.ID, AuditActionChangePassword, "user", actor.ID, nil)
	return nil
}

func randomPassword(length int) (string, error) {
	var sb strings.Builder
	charsetSize := big.NewInt(int64(len(resetPasswordCharset)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, charsetSize)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		sb.WriteByte(resetPasswordCharset[n.Int64()])
	}
	return sb.String(), nil
}
