package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/model"
	"ytdl-worker/app/utils/ghrelease"
	"ytdl-worker/app/utils/procrunner"

	"github.com/patrickmn/go-cache"
)

const (
	latestVersionKey    = "latest"
	versionProbeTimeout = 30 * time.Second
)

// VersionStore yt-dlp 版本的持久化
type VersionStore interface {
	CreateOrUpdateVersion(ctx context.Context, version string) (*model.YtdlpVersion, error)
}

// ReleaseSource 查询最新发布版本
type ReleaseSource interface {
	LatestRelease(ctx context.Context) (*ghrelease.Release, error)
}

// VersionInfo /version 接口的返回内容
type VersionInfo struct {
	Current  *string `json:"current"`
	Latest   *string `json:"latest"`
	UpToDate *bool   `json:"up_to_date"`
}

// YtdlpVersionService 启动时检测本地 yt-dlp 版本，并缓存 GitHub 上的最新版本
type YtdlpVersionService struct {
	runner   procrunner.Runner
	bin      string
	store    VersionStore
	releases ReleaseSource
	cache    *cache.Cache
	cacheTTL time.Duration
	log      *logger.Logger

	current atomic.Pointer[string]
}

func NewYtdlpVersionService(runner procrunner.Runner, bin string, store VersionStore, releases ReleaseSource, cacheTTL time.Duration, log *logger.Logger) *YtdlpVersionService {
	return &YtdlpVersionService{
		runner:   runner,
		bin:      bin,
		store:    store,
		releases: releases,
		cache:    cache.New(cacheTTL, 10*time.Minute),
		cacheTTL: cacheTTL,
		log:      log.Named("ytdlp_version"),
	}
}

// Detect 执行 yt-dlp --version 并保存到数据库
func (s *YtdlpVersionService) Detect(ctx context.Context) (string, error) {
	res, err := s.runner.Run(ctx, versionProbeTimeout, s.bin, "--version")
	if err != nil {
		return "", fmt.Errorf("获取 yt-dlp 版本失败: %w", err)
	}
	if err := res.Err(); err != nil {
		return "", fmt.Errorf("获取 yt-dlp 版本失败: %w", err)
	}
	version := strings.TrimSpace(string(res.Stdout))
	if version == "" {
		return "", fmt.Errorf("yt-dlp 未输出版本号")
	}

	if _, err := s.store.CreateOrUpdateVersion(ctx, version); err != nil {
		return "", err
	}
	s.current.Store(&version)
	s.log.Infof("yt-dlp 版本: %s", version)
	return version, nil
}

// Current 当前版本，未检测时为 nil
func (s *YtdlpVersionService) Current() *string {
	return s.current.Load()
}

// Latest GitHub 最新版本，结果缓存 cacheTTL
func (s *YtdlpVersionService) Latest(ctx context.Context) (string, error) {
	if v, ok := s.cache.Get(latestVersionKey); ok {
		return v.(string), nil
	}
	release, err := s.releases.LatestRelease(ctx)
	if err != nil {
		return "", err
	}
	s.cache.Set(latestVersionKey, release.TagName, s.cacheTTL)
	return release.TagName, nil
}

// Info 当前与最新版本，查询最新版本失败时只返回当前版本
func (s *YtdlpVersionService) Info(ctx context.Context) VersionInfo {
	info := VersionInfo{Current: s.Current()}
	latest, err := s.Latest(ctx)
	if err != nil {
		s.log.Warnf("查询最新版本失败: %v", err)
		return info
	}
	info.Latest = &latest
	if info.Current != nil {
		upToDate := *info.Current == latest
		info.UpToDate = &upToDate
	}
	return info
}
