package postprocess

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/schema"
	"ytdl-worker/app/utils/pathhelper"
	"ytdl-worker/app/utils/procrunner"
)

// NeedsThumbnail 没有缩略图，或缩略图比例与视频不一致时需要重新生成
func NeedsThumbnail(v *schema.Video, log *logger.Logger) bool {
	if v.ThumbPath == nil || !pathhelper.Exists(*v.ThumbPath) {
		return true
	}
	if v.Width == nil || v.Height == nil {
		return false
	}
	tw, th, err := ImageSize(*v.ThumbPath)
	if err != nil {
		log.Warnf("无法读取缩略图尺寸，重新生成: %v", err)
		return true
	}
	if !SameAspect(tw, th, *v.Width, *v.Height) {
		log.Infof("缩略图比例 %dx%d 与视频 %dx%d 不一致，重新生成", tw, th, *v.Width, *v.Height)
		return true
	}
	return false
}

// Thumbnail 从视频中截取一帧作为缩略图
type Thumbnail struct {
	runner    procrunner.Runner
	tools     Tools
	log       *logger.Logger
	video     string
	thumbPath string
	duration  *float64
}

func NewThumbnail(r procrunner.Runner, tools Tools, log *logger.Logger, video, thumbPath string, duration *float64) *Thumbnail {
	return &Thumbnail{runner: r, tools: tools, log: log, video: video, thumbPath: thumbPath, duration: duration}
}

func (t *Thumbnail) Name() string { return "thumbnail" }

func (t *Thumbnail) Run(ctx context.Context) error {
	seek := t.seekPoint()
	_, err := runChecked(ctx, t.runner, t.tools.ThumbnailTimeout, t.tools.FFmpegBin,
		"-y", "-loglevel", "error", "-i", t.video,
		"-ss", strconv.FormatFloat(seek, 'f', -1, 64),
		"-vframes", "1", "-q:v", "7", t.thumbPath)
	if err != nil {
		return fmt.Errorf("生成缩略图失败 %s: %w", t.video, err)
	}
	t.log.Debugf("缩略图已生成: %s (%.1fs)", t.thumbPath, seek)
	return nil
}

// seekPoint 视频短于设定秒数时取中点，避免 ffmpeg 越界
func (t *Thumbnail) seekPoint() float64 {
	if t.duration == nil {
		return 0
	}
	d := *t.duration
	if d <= t.tools.ThumbnailFrameSecond {
		return math.Round(d/2*10) / 10
	}
	return t.tools.ThumbnailFrameSecond
}
