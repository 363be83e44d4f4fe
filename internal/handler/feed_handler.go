package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/feedlog/internal/service"
	"github.com/feedlog/internal/stream"
	"github.com/gin-gonic/gin"
)

func feedCursor(c *gin.Context) service.Cursor {
	return service.Cursor{
		Page:  queryInt(c, "page", 1),
		Limit: queryInt(c, "limit", service.DefaultFeedLimit),
	}
}

// GetFeed 返回一页装配好的帖子，读取失败时返回空页。
func (a *API) GetFeed(c *gin.Context) {
	page := a.feed.GetPage(c.Request.Context(), feedCursor(c), service.FeedFilter{})
	c.JSON(http.StatusOK, page)
}

// StreamFeed 以 NDJSON 逐条推送帖子。
func (a *API) StreamFeed(c *gin.Context) {
	a.streamFeed(c, service.FeedFilter{})
}

// GetMyPosts returns the signed-in user's own posts.
func (a *API) GetMyPosts(c *gin.Context) {
	actor := currentActor(c)
	page := a.feed.GetPage(c.Request.Context(), feedCursor(c), service.FeedFilter{AuthorID: actor.ID})
	c.JSON(http.StatusOK, page)
}

// GetUserPosts lists a single author's posts. Mounted behind AdminRequired.
func (a *API) GetUserPosts(c *gin.Context) {
	authorID := strings.TrimSpace(c.Param("id"))
	if _, err := a.users.Lookup(c.Request.Context(), authorID); err != nil {
		respondServiceError(c, err, "failed to load user")
		return
	}
	page := a.feed.GetPage(c.Request.Context(), feedCursor(c), service.FeedFilter{AuthorID: authorID})
	c.JSON(http.StatusOK, page)
}

// GetPost returns one assembled post.
func (a *API) GetPost(c *gin.Context) {
	post, err := a.feed.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "failed to load post")
		return
	}
	c.JSON(http.StatusOK, post)
}

func (a *API) streamFeed(c *gin.Context, filter service.FeedFilter) {
	enc := openStream(c)
	err := a.feed.Stream(c.Request.Context(), feedCursor(c), filter, enc)
	logStreamEnd(c, "feed", enc, err)
}

// openStream writes the NDJSON response headers and returns an encoder on
// the response writer.
func openStream(c *gin.Context) *stream.Encoder {
	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Content-Type-Options", "nosniff")
	c.Status(http.StatusOK)
	return stream.NewEncoder(c.Writer)
}

func logStreamEnd(c *gin.Context, name string, enc *stream.Encoder, err error) {
	if err == nil {
		return
	}
	// 客户端断开属于正常情况
	if c.Request.Context().Err() != nil || errors.Is(err, stream.ErrStreamClosed) {
		slog.Debug("stream stopped", "stream", name, "reason", err, "events", enc.Events())
		return
	}
	slog.Warn("stream write failed", "stream", name, "error", err, "events", enc.Events())
}
