package handler

import (
	"github.com/feedlog/internal/service"
	"gorm.io/gorm"
)

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db        *gorm.DB
	feed      *service.FeedService
	posts     *service.PostService
	users     *service.UserService
	auditLogs *service.AuditService
	chat      *service.ChatService
	embeds    *service.EmbedResolver
	blobs     service.BlobStore
	maxUpload int64
}

// Dependencies carries the collaborators NewAPI wires into the services.
type Dependencies struct {
	DB       *gorm.DB
	Feed     service.FeedOptions
	Blobs    service.BlobStore
	Embeds   *service.EmbedResolver
	Recorder *service.AuditRecorder
	// MaxUploadBytes 限制单个上传文件大小，0 表示使用默认值。
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 32 << 20

// NewAPI constructs a handler set with shared services.
func NewAPI(deps Dependencies) *API {
	embeds := deps.Embeds
	if embeds == nil {
		embeds = service.NewEmbedResolver(0, nil)
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}

	return &API{
		db:        deps.DB,
		feed:      service.NewFeedService(deps.DB, deps.Feed),
		posts:     service.NewPostService(deps.DB, deps.Blobs, embeds, deps.Recorder),
		users:     service.NewUserService(deps.DB, deps.Blobs, deps.Recorder),
		auditLogs: service.NewAuditService(deps.DB),
		chat:      service.NewChatService(deps.DB, deps.Feed.FetchTimeout),
		embeds:    embeds,
		blobs:     deps.Blobs,
		maxUpload: maxUpload,
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}
