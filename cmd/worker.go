package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ytdl-worker/app/config"
	"ytdl-worker/app/database"
	"ytdl-worker/app/downloader"
	"ytdl-worker/app/filewatcher"
	"ytdl-worker/app/handler"
	"ytdl-worker/app/hostconf"
	"ytdl-worker/app/logger"
	"ytdl-worker/app/postprocess"
	"ytdl-worker/app/rabbit"
	"ytdl-worker/app/repository"
	"ytdl-worker/app/server"
	"ytdl-worker/app/service"
	"ytdl-worker/app/utils/ghrelease"
	"ytdl-worker/app/utils/procrunner"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "启动下载工作进程",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		// 创建日志器
		log := logger.New(cfg.Log)
		defer log.Close()

		if err := ensureDirs(cfg.Download); err != nil {
			log.Fatalf("创建工作目录失败: %v", err)
		}

		// 初始化数据库
		if err := database.Init(cfg, log); err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		defer database.Close()
		db := database.GetDB()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner := procrunner.New(log)

		cookies, err := filewatcher.NewCookiesWatcher(cfg.Download.CookiesFile, log)
		if err != nil {
			log.Fatalf("创建 cookies 监控失败: %v", err)
		}
		if err := cookies.Start(); err != nil {
			log.Fatalf("启动 cookies 监控失败: %v", err)
		}
		defer cookies.Stop()

		registry, err := hostconf.NewDefaultRegistry(cfg.Hosts, hostconf.Defaults{
			ConcurrentFragments: cfg.Download.ConcurrentFragments,
			Cookies:             cookies,
		})
		if err != nil {
			log.Fatalf("站点配置注册失败: %v", err)
		}
		log.Infof("已注册站点配置: %v", registry.Names())

		releases := ghrelease.New(cfg.VersionAPI)
		defer releases.Close()
		versions := service.NewYtdlpVersionService(runner, cfg.Download.YtdlpBin, repository.NewYtdlpRepository(db), releases, cfg.VersionAPI.CacheTTL, log)
		if _, err := versions.Detect(ctx); err != nil {
			log.Fatalf("yt-dlp 不可用: %v", err)
		}

		taskRepo := repository.NewTaskRepository(db, log).WithYtdlpVersion(versions.Current())
		media := service.NewMediaService(
			downloader.New(cfg.Download, runner, log),
			taskRepo,
			registry,
			runner,
			postprocess.NewTools(cfg.Download, cfg.PostProc),
			cfg.Download.StorageDir,
			log,
		)

		if cfg.Cleanup.Enabled {
			cleanup := service.NewCleanupService(cfg.Cleanup, []string{cfg.Download.CompletedPath(), cfg.Download.TmpDownloadPath()}, taskRepo, log)
			if err := cleanup.Start(); err != nil {
				log.Fatalf("启动定时清理失败: %v", err)
			}
			defer cleanup.Stop()
		}

		if cfg.Server.Enabled {
			status := handler.NewStatusHandler(func() error { return database.Ping(db) }, taskRepo, versions, log)
			srv := server.New(cfg, log, status)

			// 在协程中启动服务器
			go func() {
				if err := srv.Start(); err != nil {
					log.Errorf("HTTP 服务异常退出: %v", err)
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Errorf("服务器关闭失败: %v", err)
				}
			}()
		}

		// 处理中的任务使用独立的 context，第二次收到信号时才中断
		workCtx, cancelWork := context.WithCancel(context.Background())
		defer cancelWork()
		go func() {
			<-ctx.Done()
			log.Info("收到关闭信号，等待处理中的任务完成，再次发送信号强制退出")
			force := make(chan os.Signal, 1)
			signal.Notify(force, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(force)
			select {
			case <-force:
				log.Warn("强制退出，终止处理中的任务")
				cancelWork()
			case <-workCtx.Done():
			}
		}()

		consumeLoop(ctx, workCtx, cfg.RabbitMQ, media, versions, log)
		log.Info("工作进程已退出")
	},
}

// consumeLoop 连接断开后按 reconnect_delay 重连，直到 ctx 取消
func consumeLoop(ctx, workCtx context.Context, cfg config.RabbitMQConfig, media service.MediaProcessor, versions service.VersionProvider, log *logger.Logger) {
	for {
		client, err := rabbit.Dial(cfg, log)
		if err != nil {
			log.Errorf("%v，%s 后重试", err, cfg.ReconnectDelay)
			if !sleepCtx(ctx, cfg.ReconnectDelay) {
				return
			}
			continue
		}

		h := service.NewPayloadHandler(media, client.Publisher(), versions, log)
		consumeCtx, cancel := context.WithCancel(ctx)
		closed := client.NotifyClose()
		go func() {
			select {
			case amqpErr := <-closed:
				if amqpErr != nil {
					log.Errorf("RabbitMQ 连接断开: %v", amqpErr)
				}
				cancel()
			case <-consumeCtx.Done():
			}
		}()

		err = client.Consume(consumeCtx, workCtx, h)
		cancel()
		if cerr := client.Close(); cerr != nil {
			log.Warnf("关闭 RabbitMQ 连接失败: %v", cerr)
		}
		if ctx.Err() != nil {
			return
		}
		log.Warnf("消费中断: %v，%s 后重连", err, cfg.ReconnectDelay)
		if !sleepCtx(ctx, cfg.ReconnectDelay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// ensureDirs 启动时创建临时、完成与存储目录
func ensureDirs(cfg config.DownloadConfig) error {
	for _, dir := range []string{cfg.TmpDownloadPath(), cfg.CompletedPath(), cfg.StorageDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%s: %w", dir, err)
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
