package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ytdl-worker/app/config"
	"ytdl-worker/app/logger"
	"ytdl-worker/app/metrics"
	"ytdl-worker/app/model"

	"github.com/robfig/cron/v3"
)

// PurgeStore 清理任务记录
type PurgeStore interface {
	PurgeFinishedBefore(ctx context.Context, status model.TaskStatus, before time.Time) (int64, error)
	PurgeUserTasks(ctx context.Context, userIDs []int64, includeAnonymous bool) (int64, error)
}

// CleanupResult 一次清理的统计
type CleanupResult struct {
	RemovedDirs int
	PurgedTasks int64
	Errors      int
}

// CleanupService 按 cron 表达式清理过期的下载目录与任务记录
type CleanupService struct {
	cfg   config.CleanupConfig
	dirs  []string
	store PurgeStore
	log   *logger.Logger

	cron *cron.Cron
	mu   sync.Mutex
	now  func() time.Time
}

// NewCleanupService dirs 为需要清理过期子目录的根目录
func NewCleanupService(cfg config.CleanupConfig, dirs []string, store PurgeStore, log *logger.Logger) *CleanupService {
	return &CleanupService{
		cfg:   cfg,
		dirs:  dirs,
		store: store,
		log:   log.Named("cleanup"),
		now:   time.Now,
	}
}

// Start 注册定时任务
func (s *CleanupService) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("无效的清理计划 %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	s.log.Infof("定时清理已启动: %s", s.cfg.Schedule)
	return nil
}

// Stop 停止调度并等待正在执行的清理结束
func (s *CleanupService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("定时清理已停止")
}

// RunOnce 执行一次清理，上一次未结束时跳过
func (s *CleanupService) RunOnce(ctx context.Context) CleanupResult {
	var result CleanupResult
	if !s.mu.TryLock() {
		s.log.Warn("上一次清理尚未结束，跳过")
		return result
	}
	defer s.mu.Unlock()

	now := s.now()
	if s.cfg.CompletedMaxAge > 0 {
		for _, dir := range s.dirs {
			removed, errs := s.removeOldDirs(dir, now.Add(-s.cfg.CompletedMaxAge))
			result.RemovedDirs += removed
			result.Errors += errs
		}
	}

	purge := func(n int64, err error) {
		if err != nil {
			s.log.Errorf("清理任务失败: %v", err)
			result.Errors++
			return
		}
		result.PurgedTasks += n
	}
	if s.cfg.DoneRetention > 0 {
		purge(s.store.PurgeFinishedBefore(ctx, model.TaskStatusDone, now.Add(-s.cfg.DoneRetention)))
	}
	if s.cfg.FailedRetention > 0 {
		purge(s.store.PurgeFinishedBefore(ctx, model.TaskStatusFailed, now.Add(-s.cfg.FailedRetention)))
	}
	if len(s.cfg.PurgeUserIDs) > 0 || s.cfg.PurgeAnonymous {
		purge(s.store.PurgeUserTasks(ctx, s.cfg.PurgeUserIDs, s.cfg.PurgeAnonymous))
	}

	metrics.CleanupRemovedTotal.WithLabelValues("dir").Add(float64(result.RemovedDirs))
	metrics.CleanupRemovedTotal.WithLabelValues("task").Add(float64(result.PurgedTasks))
	if result.RemovedDirs > 0 || result.PurgedTasks > 0 {
		s.log.Infof("清理完成: 删除目录 %d 个，任务 %d 个", result.RemovedDirs, result.PurgedTasks)
	}
	return result
}

// removeOldDirs 删除 root 下修改时间早于 before 的子目录
func (s *CleanupService) removeOldDirs(root string, before time.Time) (int, int) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Errorf("读取目录失败 %s: %v", root, err)
			return 0, 1
		}
		return 0, 0
	}

	removed, errs := 0, 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(before) {
			continue
		}
		path := filepath.Join(root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			s.log.Warnf("删除过期目录失败 %s: %v", path, err)
			errs++
			continue
		}
		s.log.Debugf("已删除过期目录: %s", path)
		removed++
	}
	return removed, errs
}
