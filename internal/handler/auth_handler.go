package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/feedlog/internal/service"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	sessionUserKey  = "user_id"
	actorContextKey = "feedlog.actor"
)

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Login 校验用户名密码并写入会话，支持 JSON 与表单。
func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid login payload")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		respondError(c, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := a.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			respondError(c, http.StatusUnauthorized, err.Error())
		case errors.Is(err, service.ErrUserInactive):
			respondError(c, http.StatusForbidden, err.Error())
		default:
			respondServiceError(c, err, "failed to log in")
		}
		return
	}

	session := sessions.Default(c)
	session.Set(sessionUserKey, user.ID)
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to save session")
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// Logout 清空会话。
func (a *API) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		respondError(c, http.StatusInternalServerError, "failed to clear session")
		return
	}
	c.Status(http.StatusNoContent)
}

// Me returns the signed-in user.
func (a *API) Me(c *gin.Context) {
	actor := currentActor(c)
	user, err := a.users.Lookup(c.Request.Context(), actor.ID)
	if err != nil {
		respondServiceError(c, err, "failed to load user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

// ChangePassword updates the signed-in user's password.
func (a *API) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bindJSON(c, &req, "invalid password payload") {
		return
	}
	if err := a.users.ChangePassword(c.Request.Context(), currentActor(c), req.CurrentPassword, req.NewPassword); err != nil {
		respondServiceError(c, err, "failed to change password")
		return
	}
	c.Status(http.StatusNoContent)
}

// LoadActor 从会话恢复当前用户，未登录或账号被禁用时不设置 actor。
func (a *API) LoadActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID, _ := session.Get(sessionUserKey).(string)
		if userID == "" {
			c.Next()
			return
		}

		user, err := a.users.Lookup(c.Request.Context(), userID)
		if err != nil || !user.IsActive {
			session.Delete(sessionUserKey)
			_ = session.Save()
			c.Next()
			return
		}

		c.Set(actorContextKey, service.ActorFromUser(*user))
		c.Next()
	}
}

// AuthRequired 拒绝未登录请求。
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentActor(c) == nil {
			respondError(c, http.StatusUnauthorized, "authentication required")
			c.Abort()
			return
		}
		c.Next()
	}
}

// AdminRequired 仅允许管理员访问。
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := currentActor(c)
		if actor == nil {
			respondError(c, http.StatusUnauthorized, "authentication required")
			c.Abort()
			return
		}
		if !actor.IsAdmin() {
			respondError(c, http.StatusForbidden, "admin access required")
			c.Abort()
			return
		}
		c.Next()
	}
}

func currentActor(c *gin.Context) *service.Actor {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return nil
	}
	actor, _ := value.(*service.Actor)
	return actor
}
