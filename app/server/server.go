package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ytdl-worker/app/config"
	"ytdl-worker/app/handler"
	"ytdl-worker/app/logger"
	"ytdl-worker/app/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 状态与指标 HTTP 服务
type Server struct {
	Config *config.Config
	Logger *logger.Logger
	gin    *gin.Engine
	http   *http.Server
	status *handler.StatusHandler
}

// New 创建 Server 实例
func New(cfg *config.Config, log *logger.Logger, status *handler.StatusHandler) *Server {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), metrics.GinMiddleware())

	s := &Server{
		gin: router,
		http: &http.Server{
			Addr:              ":" + cfg.Server.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Config: cfg,
		Logger: log.Named("http"),
		status: status,
	}

	s.setupRoutes()
	return s
}

// Handler 路由，测试中直接使用
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Start 阻塞直到服务关闭，正常关闭时返回 nil
func (s *Server) Start() error {
	s.Logger.Infof("在端口 %s 启动服务器", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.gin.GET("/health", s.status.Health)
	s.gin.GET("/stats", s.status.Stats)
	s.gin.GET("/version", s.status.Version)
	s.gin.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
