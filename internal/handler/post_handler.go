package handler

import (
	"net/http"
	"strings"

	"github.com/feedlog/internal/db"
	"github.com/feedlog/internal/service"
	"github.com/gin-gonic/gin"
)

type mediaPayload struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Caption string `json:"caption"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

type createPostRequest struct {
	Text  string         `json:"text"`
	Media []mediaPayload `json:"media"`
}

// CreatePost 创建帖子，支持 JSON 或 multipart 提交。
func (a *API) CreatePost(c *gin.Context) {
	var input service.PostInput

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		parsed, ok := a.readMultipartPost(c)
		if !ok {
			return
		}
		input = parsed
	} else {
		var req createPostRequest
		if !bindJSON(c, &req, "invalid post payload") {
			return
		}
		input.Text = req.Text
		for _, m := range req.Media {
			input.Attachments = append(input.Attachments, service.AttachmentInput{
				Type:    strings.TrimSpace(m.Type),
				URL:     m.URL,
				Caption: m.Caption,
				Width:   m.Width,
				Height:  m.Height,
			})
		}
	}

	post, err := a.posts.Create(c.Request.Context(), currentActor(c), input)
	if err != nil {
		respondServiceError(c, err, "failed to create post")
		return
	}

	assembled, err := a.feed.Get(c.Request.Context(), post.ID)
	if err != nil {
		c.JSON(http.StatusCreated, post)
		return
	}
	c.JSON(http.StatusCreated, assembled)
}

// readMultipartPost 按提交顺序收集文件，然后是 embed 链接。
func (a *API) readMultipartPost(c *gin.Context) (service.PostInput, bool) {
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid multipart payload")
		return service.PostInput{}, false
	}

	input := service.PostInput{Text: firstValue(form.Value["text"])}
	files := form.File["media"]
	embeds := form.Value["embed"]
	if len(files)+len(embeds) > db.MaxMediaPerPost {
		respondServiceError(c, service.ErrTooManyMedia, "failed to create post")
		return service.PostInput{}, false
	}

	for _, header := range files {
		att, err := a.readUpload(header)
		if err != nil {
			respondUploadError(c, header.Filename, err)
			return service.PostInput{}, false
		}
		input.Attachments = append(input.Attachments, att)
	}
	for _, raw := range embeds {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		input.Attachments = append(input.Attachments, service.AttachmentInput{
			Type: db.MediaTypeEmbed,
			URL:  strings.TrimSpace(raw),
		})
	}
	return input, true
}

// DeletePost 永久删除帖子，作者本人或管理员可操作。
func (a *API) DeletePost(c *gin.Context) {
	if err := a.posts.Delete(c.Request.Context(), currentActor(c), c.Param("id")); err != nil {
		respondServiceError(c, err, "failed to delete post")
		return
	}
	c.Status(http.StatusNoContent)
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
