package handler

import (
	"net/http"
	"strings"

	"github.com/feedlog/internal/service"
	"github.com/gin-gonic/gin"
)

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type updateUserRequest struct {
	IsActive *bool   `json:"isActive"`
	Role     *string `json:"role"`
}

// ListUsers 分页列出用户。
func (a *API) ListUsers(c *gin.Context) {
	result, err := a.users.List(c.Request.Context(), currentActor(c), service.UserFilter{
		Search: strings.TrimSpace(c.Query("search")),
		SortBy: c.Query("sortBy"),
		Order:  c.Query("order"),
		Page:   queryInt(c, "page", 1),
		Limit:  queryInt(c, "limit", service.DefaultUserListLimit),
	})
	if err != nil {
		respondServiceError(c, err, "failed to list users")
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetUser returns one user.
func (a *API) GetUser(c *gin.Context) {
	user, err := a.users.Get(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "failed to load user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// CreateUser 创建新账号。
func (a *API) CreateUser(c *gin.Context) {
	var req createUserRequest
	if !bindJSON(c, &req, "invalid user payload") {
		return
	}
	user, err := a.users.Create(c.Request.Context(), currentActor(c), service.UserInput{
		Username: req.Username,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		respondServiceError(c, err, "failed to create user")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// UpdateUser toggles the active flag or role.
func (a *API) UpdateUser(c *gin.Context) {
	var req updateUserRequest
	if !bindJSON(c, &req, "invalid user payload") {
		return
	}
	user, err := a.users.Update(c.Request.Context(), currentActor(c), c.Param("id"), service.UserUpdate{
		IsActive: req.IsActive,
		Role:     req.Role,
	})
	if err != nil {
		respondServiceError(c, err, "failed to update user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// DeleteUser 删除用户及其全部帖子。
func (a *API) DeleteUser(c *gin.Context) {
	if err := a.users.Delete(c.Request.Context(), currentActor(c), c.Param("id")); err != nil {
		respondServiceError(c, err, "failed to delete user")
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetUserPassword 生成新密码，只在响应中返回一次。
func (a *API) ResetUserPassword(c *gin.Context) {
	password, err := a.users.ResetPassword(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "failed to reset password")
		return
	}
	c.JSON(http.StatusOK, gin.H{"password": password})
}

// DeleteUserPosts removes every post of a user.
func (a *API) DeleteUserPosts(c *gin.Context) {
	deleted, err := a.posts.DeleteAllByAuthor(c.Request.Context(), currentActor(c), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "failed to delete posts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"postsDeleted": deleted})
}

// ListAuditLogs 按条件查询审计日志。
func (a *API) ListAuditLogs(c *gin.Context) {
	result, err := a.auditLogs.List(c.Request.Context(), currentActor(c), service.AuditFilter{
		Search:      strings.TrimSpace(c.Query("search")),
		Action:      strings.TrimSpace(c.Query("action")),
		TargetTable: strings.TrimSpace(c.Query("targetTable")),
		StartDate:   queryDate(c, "startDate"),
		EndDate:     queryDate(c, "endDate"),
		SortBy:      c.Query("sortBy"),
		Order:       c.Query("order"),
		Page:        queryInt(c, "page", 1),
		Limit:       queryInt(c, "limit", service.DefaultAuditLimit),
	})
	if err != nil {
		respondServiceError(c, err, "failed to list audit logs")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Cleanup purges soft-deleted posts and orphan media.
func (a *API) Cleanup(c *gin.Context) {
	result, err := a.posts.Cleanup(c.Request.Context(), currentActor(c))
	if err != nil {
		respondServiceError(c, err, "failed to run cleanup")
		return
	}
	c.JSON(http.StatusOK, result)
}
