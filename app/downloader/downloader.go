package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"ytdl-worker/app/config"
	"ytdl-worker/app/hostconf"
	"ytdl-worker/app/logger"
	"ytdl-worker/app/schema"
	"ytdl-worker/app/utils/pathhelper"
	"ytdl-worker/app/utils/procrunner"

	"github.com/lithammer/shortuuid/v4"
	"github.com/shirou/gopsutil/v3/disk"
)

const tmpDirPrefix = "tmp_media_dir-"

// ErrNothingDownloaded 既没有元数据也没有产出文件，通常是 URL 无效
var ErrNothingDownloaded = errors.New("没有下载到任何内容，URL 是否有效？")

// DownloadError 下载阶段的不可恢复错误
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("下载 %s 失败: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Downloader 调用 yt-dlp 下载并整理产出文件
type Downloader struct {
	cfg      config.DownloadConfig
	runner   procrunner.Runner
	log      *logger.Logger
	diskFree func(path string) (uint64, error)
}

func New(cfg config.DownloadConfig, runner procrunner.Runner, log *logger.Logger) *Downloader {
	return &Downloader{
		cfg:      cfg,
		runner:   runner,
		log:      log.Named("downloader"),
		diskFree: freeSpace,
	}
}

func freeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Download 下载 url 并把产物移动到独立的完成目录
func (d *Downloader) Download(ctx context.Context, url string, profile *hostconf.Profile, mediaType schema.MediaType) (*schema.DownMedia, error) {
	media, err := d.download(ctx, url, profile, mediaType)
	if err != nil {
		d.log.Errorf("下载失败: %s, 错误: %v", url, err)
		return nil, &DownloadError{URL: url, Err: err}
	}
	return media, nil
}

func (d *Downloader) download(ctx context.Context, url string, profile *hostconf.Profile, mediaType schema.MediaType) (*schema.DownMedia, error) {
	tmpRoot := d.cfg.TmpDownloadPath()
	if err := os.MkdirAll(tmpRoot, 0755); err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	if err := d.checkDiskSpace(tmpRoot); err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp(tmpRoot, tmpDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("创建临时目录失败: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			d.log.Warnf("删除临时目录失败: %s, 错误: %v", tmpDir, err)
		}
	}()

	d.log.Infof("开始下载 %s，类型 %s，站点配置 %s，临时目录 %s", url, mediaType, profile.Name, tmpDir)

	args := slices.Clone(profile.YtdlOpts)
	args = append(args, "--paths", tmpDir, "--dump-single-json", "--no-simulate", "--", url)
	res, err := d.runner.Run(ctx, d.cfg.Timeout, d.cfg.YtdlpBin, args...)
	if err != nil {
		return nil, err
	}

	raw, meta := parseMeta(res.Stdout)
	files, _ := os.ReadDir(tmpDir)
	if meta == nil {
		if !res.Success() {
			return nil, res.Err()
		}
		if len(files) == 0 {
			return nil, ErrNothingDownloaded
		}
		return nil, errors.New("yt-dlp 未输出元数据")
	}
	if !res.Success() {
		// --ignore-errors 下部分失败仍可能有可用结果
		d.log.Warnf("yt-dlp 退出码 %d，继续处理已下载内容", res.ExitCode)
	}
	if len(files) == 0 {
		return nil, ErrNothingDownloaded
	}
	d.log.Infof("下载完成 %s，临时目录内容: %v", url, fileNames(files))

	destDir := filepath.Join(d.cfg.CompletedPath(), shortuuid.New())
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("创建完成目录失败: %w", err)
	}

	media, err := d.collect(meta, raw, mediaType, tmpDir, destDir)
	if err != nil {
		_ = os.RemoveAll(destDir)
		return nil, err
	}
	return media, nil
}

// collect 根据媒体类型整理音频与视频
func (d *Downloader) collect(meta *info, raw map[string]any, mediaType schema.MediaType, tmpDir, destDir string) (*schema.DownMedia, error) {
	entry, err := meta.entry()
	if err != nil {
		return nil, err
	}
	title := meta.Title
	if title == "" {
		title = entry.Title
	}

	media := &schema.DownMedia{MediaType: mediaType, RootPath: destDir, Meta: raw}
	if mediaType.WantsAudio() {
		if media.Audio, err = d.collectAudio(entry, title, tmpDir, destDir); err != nil {
			return nil, err
		}
	}
	if mediaType.WantsVideo() {
		if media.Video, err = d.collectVideo(entry, title, tmpDir, destDir); err != nil {
			return nil, err
		}
	}
	if err := media.Validate(); err != nil {
		return nil, err
	}
	return media, nil
}

func (d *Downloader) collectAudio(entry *info, title, tmpDir, destDir string) (*schema.Audio, error) {
	src, ok := pathhelper.FindByExt(tmpDir, hostconf.FinalAudioFormat)
	if !ok {
		return nil, fmt.Errorf("未找到 %s 音频文件", hostconf.FinalAudioFormat)
	}
	dst, size, err := d.move(src, destDir)
	if err != nil {
		return nil, err
	}
	return schema.NewAudio(title, dst, size, entry.Duration), nil
}

func (d *Downloader) collectVideo(entry *info, title, tmpDir, destDir string) (*schema.Video, error) {
	rd, ok := requestedVideo(entry.RequestedDownloads)
	if !ok || rd.Filepath == "" {
		return nil, errors.New("元数据中未找到视频文件路径")
	}
	src := rd.Filepath
	if !filepath.IsAbs(src) {
		src = filepath.Join(tmpDir, src)
	}
	dst, size, err := d.move(src, destDir)
	if err != nil {
		return nil, err
	}

	var thumbPath string
	if thumb, ok := pathhelper.FindByExt(tmpDir, hostconf.FinalThumbnailFormat); ok {
		if thumbPath, _, err = d.move(thumb, destDir); err != nil {
			return nil, err
		}
	} else {
		d.log.Infof("未找到下载的缩略图: %s", tmpDir)
	}

	return schema.NewVideo(title, dst, size, entry.Duration, toInt(rd.Width), toInt(rd.Height), thumbPath), nil
}

func (d *Downloader) move(src, destDir string) (string, int64, error) {
	dst := filepath.Join(destDir, filepath.Base(src))
	d.log.Debugf("移动 %s 到 %s", src, dst)
	if err := pathhelper.MoveFile(src, dst); err != nil {
		return "", 0, fmt.Errorf("移动文件失败: %w", err)
	}
	size, err := pathhelper.FileSize(dst)
	if err != nil {
		return "", 0, fmt.Errorf("读取文件大小失败: %w", err)
	}
	return dst, size, nil
}

func (d *Downloader) checkDiskSpace(dir string) error {
	if d.cfg.MinFreeDisk <= 0 || d.diskFree == nil {
		return nil
	}
	free, err := d.diskFree(dir)
	if err != nil {
		d.log.Warnf("无法获取磁盘空间: %s, 错误: %v", dir, err)
		return nil
	}
	if free < uint64(d.cfg.MinFreeDisk) {
		return fmt.Errorf("磁盘空间不足: 可用 %d 字节，至少需要 %d 字节", free, d.cfg.MinFreeDisk)
	}
	return nil
}

// parseMeta 输出为空或无法解析时返回 nil
func parseMeta(stdout []byte) (map[string]any, *info) {
	stdout = bytes.TrimSpace(stdout)
	if len(stdout) == 0 || bytes.Equal(stdout, []byte("null")) {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(stdout, &raw); err != nil {
		return nil, nil
	}
	var meta info
	if err := json.Unmarshal(stdout, &meta); err != nil {
		return nil, nil
	}
	return raw, &meta
}

func fileNames(entries []os.DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
