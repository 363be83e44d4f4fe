package router

import (
	"net/http"
	"strings"

	"github.com/feedlog/internal/handler"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const sessionName = "feedlog_session"

// Options 描述路由层需要的外部配置。
type Options struct {
	SessionSecret string
	UploadDir     string
	UploadURLPath string
	// SecureCookie 在 HTTPS 部署下开启。
	SecureCookie bool
}

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, opts Options) *gin.Engine {
	r := gin.Default()

	// 配置会话中间件
	secret := opts.SessionSecret
	if secret == "" {
		secret = "feedlog-dev-secret"
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   7 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(api.LoadActor())

	// 上传文件静态服务
	if opts.UploadDir != "" {
		uploadPath := "/" + strings.Trim(opts.UploadURLPath, "/")
		if uploadPath == "/" {
			uploadPath = "/uploads"
		}
		r.Static(uploadPath, opts.UploadDir)
	}

	r.GET("/healthz", api.HealthCheck)

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/login", api.Login)
		apiGroup.POST("/logout", api.Logout)

		apiGroup.GET("/posts", api.GetFeed)
		apiGroup.GET("/posts/stream", api.StreamFeed)
		apiGroup.GET("/posts/:id", api.GetPost)
		apiGroup.GET("/embeds/resolve", api.ResolveEmbed)

		// 需要登录
		auth := apiGroup.Group("")
		auth.Use(handler.AuthRequired())
		{
			auth.GET("/me", api.Me)
			auth.POST("/me/password", api.ChangePassword)
			auth.GET("/me/posts", api.GetMyPosts)

			auth.POST("/posts", api.CreatePost)
			auth.DELETE("/posts/:id", api.DeletePost)
			auth.POST("/uploads", api.UploadMedia)

			auth.POST("/chat/messages", api.SendChatMessage)
			auth.GET("/chat/stream", api.StreamChat)
		}

		// 仅管理员
		admin := apiGroup.Group("")
		admin.Use(handler.AdminRequired())
		{
			admin.GET("/users/:id/posts", api.GetUserPosts)

			admin.GET("/admin/users", api.ListUsers)
			admin.POST("/admin/users", api.CreateUser)
			admin.GET("/admin/users/:id", api.GetUser)
			admin.PATCH("/admin/users/:id", api.UpdateUser)
			admin.DELETE("/admin/users/:id", api.DeleteUser)
			admin.POST("/admin/users/:id/reset-password", api.ResetUserPassword)
			admin.DELETE("/admin/users/:id/posts", api.DeleteUserPosts)

			admin.GET("/admin/audit-logs", api.ListAuditLogs)
			admin.POST("/admin/cleanup", api.Cleanup)
		}
	}

	return r
}
