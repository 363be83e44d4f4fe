package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/feedlog/internal/service"
	"github.com/gin-gonic/gin"
)

// ResolveEmbed 检查链接是否可嵌入，并返回播放器地址与标题。
func (a *API) ResolveEmbed(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("url"))
	if raw == "" {
		respondError(c, http.StatusBadRequest, "url is required")
		return
	}

	info, err := a.embeds.Resolve(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, service.ErrUnsupportedEmbed) {
			c.JSON(http.StatusOK, gin.H{
				"supported": false,
				"embed":     nil,
				"domains":   service.SupportedEmbedDomains(),
			})
			return
		}
		respondServiceError(c, err, "failed to resolve embed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"supported": true, "embed": info})
}
