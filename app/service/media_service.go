package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ytdl-worker/app/hostconf"
	"ytdl-worker/app/logger"
	"ytdl-worker/app/metrics"
	"ytdl-worker/app/model"
	"ytdl-worker/app/postprocess"
	"ytdl-worker/app/repository"
	"ytdl-worker/app/schema"
	"ytdl-worker/app/utils/pathhelper"
	"ytdl-worker/app/utils/procrunner"

	"golang.org/x/sync/errgroup"
)

// MediaDownloader 下载并整理媒体文件
type MediaDownloader interface {
	Download(ctx context.Context, url string, profile *hostconf.Profile, mediaType schema.MediaType) (*schema.DownMedia, error)
}

// TaskStore 媒体服务用到的任务持久化操作
type TaskStore interface {
	GetOrCreateTask(ctx context.Context, p *schema.InbMediaPayload) (*model.Task, error)
	SaveAsProcessing(ctx context.Context, task *model.Task) error
	SaveAsFailed(ctx context.Context, task *model.Task, errMsg string) error
	SaveAsDone(ctx context.Context, task *model.Task) error
	SaveFile(ctx context.Context, task *model.Task, media schema.MediaFile, meta map[string]any) (*model.File, error)
}

// HostResolver 根据 URL 找到站点配置
type HostResolver interface {
	ResolveURL(rawURL string) (hostconf.HostConfig, error)
}

// MediaService 单个下载请求的完整处理流程：建任务、下载、后处理、落库
type MediaService struct {
	downloader MediaDownloader
	repo       TaskStore
	hosts      HostResolver
	runner     procrunner.Runner
	tools      postprocess.Tools
	storageDir string
	log        *logger.Logger
}

func NewMediaService(
	downloader MediaDownloader,
	repo TaskStore,
	hosts HostResolver,
	runner procrunner.Runner,
	tools postprocess.Tools,
	storageDir string,
	log *logger.Logger,
) *MediaService {
	return &MediaService{
		downloader: downloader,
		repo:       repo,
		hosts:      hosts,
		runner:     runner,
		tools:      tools,
		storageDir: storageDir,
		log:        log.Named("media_service"),
	}
}

// Process 处理一个下载请求。
// 下载失败返回 *DownloadServiceError，后处理失败返回 *PostProcessError，两者都携带任务；
// 任务已被处理时返回 ErrAlreadyProcessed。
func (s *MediaService) Process(ctx context.Context, p *schema.InbMediaPayload) (*model.Task, *schema.DownMedia, error) {
	task, err := s.repo.GetOrCreateTask(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	if task.Status != model.TaskStatusPending {
		s.log.Warnf("任务 %s 状态为 %s，跳过", task.ID, task.Status)
		return task, nil, ErrAlreadyProcessed
	}
	if err := s.repo.SaveAsProcessing(ctx, task); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return task, nil, ErrAlreadyProcessed
		}
		return task, nil, err
	}

	log := s.log.WithTask(task.ID)
	host, err := s.hosts.ResolveURL(p.URL)
	if err != nil {
		return task, nil, s.failDownload(ctx, task, err)
	}
	profile := host.BuildProfile(p.DownloadMediaType)

	start := time.Now()
	media, err := s.downloader.Download(ctx, p.URL, profile, p.DownloadMediaType)
	metrics.ObserveSince(metrics.DownloadDuration.WithLabelValues(profile.Name), start)
	if err != nil {
		log.Errorf("下载失败: %v", err)
		return task, nil, s.failDownload(ctx, task, err)
	}

	if err := s.finish(ctx, task, p, profile, media); err != nil {
		log.Errorf("后处理失败: %v", err)
		s.cleanup(media)
		if ferr := s.repo.SaveAsFailed(context.WithoutCancel(ctx), task, err.Error()); ferr != nil {
			log.Errorf("标记任务失败状态出错: %v", ferr)
		}
		return task, nil, &PostProcessError{Task: task, Err: err}
	}
	log.Infof("任务完成: %s", p.URL)
	return task, media, nil
}

// finish 后处理并保存文件记录，最后标记完成
func (s *MediaService) finish(ctx context.Context, task *model.Task, p *schema.InbMediaPayload, profile *hostconf.Profile, media *schema.DownMedia) error {
	// 音视频同时存在时共用一个自定义文件名，靠扩展名区分
	both := media.Audio != nil && media.Video != nil
	g, gctx := errgroup.WithContext(ctx)
	if media.Audio != nil {
		g.Go(func() error {
			return s.processAudio(gctx, p, profile, media.Audio, media.RootPath, both)
		})
	}
	if media.Video != nil {
		g.Go(func() error {
			return s.processVideo(gctx, p, profile, media.Video, media.RootPath, both)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, obj := range media.MediaObjects() {
		if _, err := s.repo.SaveFile(ctx, task, obj, media.Meta); err != nil {
			return err
		}
	}
	return s.repo.SaveAsDone(ctx, task)
}

func (s *MediaService) processAudio(ctx context.Context, p *schema.InbMediaPayload, profile *hostconf.Profile, audio *schema.Audio, root string, hasSibling bool) error {
	if profile.EncodeAudio {
		output := postprocess.AudioOutputPath(root, audio.Filename, hostconf.FinalAudioFormat)
		enc := postprocess.NewEncode(s.runner, s.tools, s.log, &audio.BaseMedia, profile.FFmpegAudioOpts, output)
		if err := s.runStep(ctx, enc); err != nil {
			return err
		}
	}
	return s.copyToStorage(p, &audio.BaseMedia, hasSibling)
}

// processVideo 缺少时长或分辨率时先探测，然后并行生成缩略图与转码
func (s *MediaService) processVideo(ctx context.Context, p *schema.InbMediaPayload, profile *hostconf.Profile, video *schema.Video, root string, hasSibling bool) error {
	if !video.HasContext() {
		probe := postprocess.NewProbe(s.runner, s.tools, s.log, video.Filepath)
		if err := s.runStep(ctx, probe); err != nil {
			return err
		}
		applyProbe(video, probe.Result())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.makeThumbnail(gctx, video, root)
		return nil
	})
	g.Go(func() error {
		if profile.EncodeVideo {
			output := postprocess.H264OutputPath(root, video.Filename)
			enc := postprocess.NewEncode(s.runner, s.tools, s.log, &video.BaseMedia, profile.FFmpegVideoOpts, output)
			if err := s.runStep(gctx, enc); err != nil {
				return err
			}
		}
		return s.copyToStorage(p, &video.BaseMedia, hasSibling)
	})
	return g.Wait()
}

// makeThumbnail 缩略图失败不影响任务，只是不再携带缩略图
func (s *MediaService) makeThumbnail(ctx context.Context, video *schema.Video, root string) {
	if !postprocess.NeedsThumbnail(video, s.log) {
		return
	}
	thumbPath := filepath.Join(root, video.ThumbName)
	if video.ThumbPath != nil {
		thumbPath = *video.ThumbPath
	}

	thumb := postprocess.NewThumbnail(s.runner, s.tools, s.log, video.Filepath, thumbPath, video.Duration)
	if err := s.runStep(ctx, thumb); err != nil {
		s.log.Warnf("缩略图生成失败，忽略: %v", err)
		video.ThumbPath = nil
		return
	}
	video.ThumbPath = &thumbPath
	video.ThumbName = filepath.Base(thumbPath)
}

// runStep 执行后处理步骤并记录耗时
func (s *MediaService) runStep(ctx context.Context, step postprocess.Task) error {
	start := time.Now()
	err := step.Run(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveSince(metrics.PostProcessDuration.WithLabelValues(step.Name(), result), start)
	return err
}

// copyToStorage save_to_storage 时把当前文件复制到存储目录，不覆盖已有文件
func (s *MediaService) copyToStorage(p *schema.InbMediaPayload, media *schema.BaseMedia, forceExt bool) error {
	if !p.SaveToStorage {
		return nil
	}
	name := pathhelper.StorageFilename(media.CurrentFilename(), p.CustomFilename, p.AutomaticExtension || forceExt)
	dst, err := pathhelper.CopyFileUnique(media.CurrentFilepath(), filepath.Join(s.storageDir, name))
	if err != nil {
		return fmt.Errorf("复制到存储目录失败: %w", err)
	}
	media.MarkAsSavedToStorage(dst)
	s.log.Infof("已复制到存储目录: %s", dst)
	return nil
}

// failDownload 标记任务失败并包装为 DownloadServiceError
func (s *MediaService) failDownload(ctx context.Context, task *model.Task, err error) error {
	if ferr := s.repo.SaveAsFailed(context.WithoutCancel(ctx), task, err.Error()); ferr != nil {
		s.log.Errorf("标记任务 %s 失败状态出错: %v", task.ID, ferr)
	}
	return &DownloadServiceError{Task: task, Err: err}
}

// cleanup 删除任务的完成目录，临时目录由下载器负责
func (s *MediaService) cleanup(media *schema.DownMedia) {
	if media.RootPath == "" {
		return
	}
	s.log.Infof("清理后处理失败的产物: %s", media.RootPath)
	if err := os.RemoveAll(media.RootPath); err != nil {
		s.log.Warnf("清理目录失败 %s: %v", media.RootPath, err)
	}
}

func applyProbe(video *schema.Video, r *postprocess.ProbeResult) {
	if r == nil {
		return
	}
	if video.Duration == nil {
		d := r.Duration
		video.Duration = &d
	}
	if video.Width == nil {
		video.Width = r.Width
	}
	if video.Height == nil {
		video.Height = r.Height
	}
}
