package handler

import (
	"net/http"

	"github.com/feedlog/internal/service"
	"github.com/gin-gonic/gin"
)

type chatMessageRequest struct {
	Message string `json:"message"`
}

// SendChatMessage 发送一条聊天消息。
func (a *API) SendChatMessage(c *gin.Context) {
	var req chatMessageRequest
	if !bindJSON(c, &req, "invalid chat payload") {
		return
	}

	msg, err := a.chat.Send(c.Request.Context(), currentActor(c), req.Message)
	if err != nil {
		respondServiceError(c, err, "failed to send message")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": msg})
}

// StreamChat 以 NDJSON 推送最近的聊天消息，按时间从旧到新。
// offset 跳过最新的若干条，用于向上翻页。
func (a *API) StreamChat(c *gin.Context) {
	offset := queryInt(c, "offset", 0)
	limit := queryInt(c, "limit", service.DefaultChatLimit)

	enc := openStream(c)
	err := a.chat.Stream(c.Request.Context(), offset, limit, enc)
	logStreamEnd(c, "chat", enc, err)
}
