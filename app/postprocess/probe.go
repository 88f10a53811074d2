package postprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/utils/procrunner"
)

// ProbeResult ffprobe 得到的时长与首个视频流分辨率，纯音频时宽高为空
type ProbeResult struct {
	Duration float64
	Width    *int
	Height   *int
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

// Probe 读取媒体时长与分辨率，结果通过 Result 获取
type Probe struct {
	runner procrunner.Runner
	tools  Tools
	log    *logger.Logger
	path   string
	result *ProbeResult
}

func NewProbe(r procrunner.Runner, tools Tools, log *logger.Logger, path string) *Probe {
	return &Probe{runner: r, tools: tools, log: log, path: path}
}

func (p *Probe) Name() string { return "probe" }

func (p *Probe) Run(ctx context.Context) error {
	res, err := runChecked(ctx, p.runner, p.tools.ProbeTimeout, p.tools.FFprobeBin,
		"-loglevel", "error", "-show_format", "-show_streams", "-of", "json", p.path)
	if err != nil {
		return fmt.Errorf("获取媒体信息失败，文件是否损坏？%s: %w", p.path, err)
	}

	result, err := parseProbe(res.Stdout)
	if err != nil {
		return fmt.Errorf("解析 ffprobe 输出失败 %s: %w", p.path, err)
	}
	p.result = result
	p.log.Debugf("媒体信息 %s: 时长 %.2f", p.path, result.Duration)
	return nil
}

// Result Run 成功后可用
func (p *Probe) Result() *ProbeResult {
	return p.result
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	duration, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		return nil, fmt.Errorf("无效的时长 %q", out.Format.Duration)
	}

	result := &ProbeResult{Duration: duration}
	for _, s := range out.Streams {
		if s.CodecType == "video" {
			w, h := s.Width, s.Height
			result.Width, result.Height = &w, &h
			break
		}
	}
	return result, nil
}
