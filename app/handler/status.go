package handler

import (
	"context"
	"net/http"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/repository"
	"ytdl-worker/app/service"

	"github.com/gin-gonic/gin"
)

// StatsSource 任务统计
type StatsSource interface {
	GetStats(ctx context.Context) (*repository.Stats, error)
}

// VersionSource 当前与最新的 yt-dlp 版本
type VersionSource interface {
	Info(ctx context.Context) service.VersionInfo
}

// StatusHandler 运行状态相关接口
type StatusHandler struct {
	ping    func() error
	stats   StatsSource
	version VersionSource
	log     *logger.Logger
}

// NewStatusHandler ping 用于健康检查，通常是数据库连通性
func NewStatusHandler(ping func() error, stats StatsSource, version VersionSource, log *logger.Logger) *StatusHandler {
	return &StatusHandler{ping: ping, stats: stats, version: version, log: log.Named("status_handler")}
}

// Health 数据库不可用时返回 503
func (h *StatusHandler) Health(c *gin.Context) {
	if err := h.ping(); err != nil {
		h.log.Errorf("健康检查失败: %v", err)
		fail(c, http.StatusServiceUnavailable, "数据库不可用")
		return
	}
	success(c, gin.H{"status": "ok"})
}

// Stats 任务统计
func (h *StatusHandler) Stats(c *gin.Context) {
	stats, err := h.stats.GetStats(c.Request.Context())
	if err != nil {
		h.log.Errorf("获取统计失败: %v", err)
		fail(c, http.StatusInternalServerError, "获取统计失败")
		return
	}
	success(c, stats)
}

// Version yt-dlp 版本信息
func (h *StatusHandler) Version(c *gin.Context) {
	success(c, h.version.Info(c.Request.Context()))
}
