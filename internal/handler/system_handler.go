package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// storeChecker is implemented by blob stores that can report readiness.
type storeChecker interface {
	Check() error
}

// HealthCheck 报告数据库与上传存储的可用性，供部署平台探活。
// uploads 为 disabled 表示未配置存储，此时上传接口返回 503。
func (a *API) HealthCheck(c *gin.Context) {
	sqlDB, err := a.db.DB()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "database handle unavailable",
		})
		return
	}
	if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "error",
			"database": "down",
			"message":  "database unreachable",
		})
		return
	}

	uploads := "disabled"
	if a.blobs != nil {
		uploads = "up"
		if checker, ok := a.blobs.(storeChecker); ok {
			if err := checker.Check(); err != nil {
				slog.Warn("upload storage check failed", "error", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":   "error",
					"database": "up",
					"uploads":  "down",
					"message":  "upload storage unavailable",
				})
				return
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": "up",
		"uploads":  uploads,
	})
}
