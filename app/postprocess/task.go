package postprocess

import (
	"context"
	"time"

	"ytdl-worker/app/config"
	"ytdl-worker/app/utils/procrunner"
)

// Task 单个后处理步骤
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// Tools ffmpeg 系列工具的位置与超时
type Tools struct {
	FFmpegBin            string
	FFprobeBin           string
	ProbeTimeout         time.Duration
	ThumbnailTimeout     time.Duration
	EncodeTimeout        time.Duration
	ThumbnailFrameSecond float64
}

// NewTools 从配置组装，未设置的超时使用默认值
func NewTools(dl config.DownloadConfig, pp config.PostProcConfig) Tools {
	t := Tools{
		FFmpegBin:            dl.FFmpegBin,
		FFprobeBin:           dl.FFprobeBin,
		ProbeTimeout:         pp.ProbeTimeout,
		ThumbnailTimeout:     pp.ThumbnailTimeout,
		EncodeTimeout:        pp.EncodeTimeout,
		ThumbnailFrameSecond: pp.ThumbnailFrameSecond,
	}
	if t.FFmpegBin == "" {
		t.FFmpegBin = "ffmpeg"
	}
	if t.FFprobeBin == "" {
		t.FFprobeBin = "ffprobe"
	}
	if t.ProbeTimeout <= 0 {
		t.ProbeTimeout = 60 * time.Second
	}
	if t.ThumbnailTimeout <= 0 {
		t.ThumbnailTimeout = 60 * time.Second
	}
	if t.EncodeTimeout <= 0 {
		t.EncodeTimeout = 120 * time.Second
	}
	if t.ThumbnailFrameSecond <= 0 {
		t.ThumbnailFrameSecond = 10
	}
	return t
}

// runChecked 超时与非零退出码都作为错误返回
func runChecked(ctx context.Context, r procrunner.Runner, timeout time.Duration, name string, args ...string) (*procrunner.Result, error) {
	res, err := r.Run(ctx, timeout, name, args...)
	if err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
