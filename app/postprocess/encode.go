package postprocess

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"ytdl-worker/app/logger"
	"ytdl-worker/app/schema"
	"ytdl-worker/app/utils/procrunner"

	"github.com/google/shlex"
)

const (
	inputPlaceholder  = "{filepath}"
	outputPlaceholder = "{output}"
)

// EncodeArgs 拆分命令模板并逐个参数替换占位符，不经过 shell
func EncodeArgs(template, input, output string) ([]string, error) {
	args, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("无效的命令模板: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("命令模板为空")
	}

	hasInput := false
	for i, a := range args {
		if strings.Contains(a, inputPlaceholder) {
			hasInput = true
		}
		a = strings.ReplaceAll(a, inputPlaceholder, input)
		args[i] = strings.ReplaceAll(a, outputPlaceholder, output)
	}
	if !hasInput {
		return nil, fmt.Errorf("命令模板缺少 %s 占位符", inputPlaceholder)
	}
	return args, nil
}

// H264OutputPath <root>/<原文件名去扩展名>-h264.mp4
func H264OutputPath(root, filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return filepath.Join(root, stem+"-h264.mp4")
}

// AudioOutputPath <root>/<原文件名去扩展名>-encoded.<ext>
func AudioOutputPath(root, filename, ext string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	return filepath.Join(root, stem+"-encoded."+ext)
}

// Encode 按站点模板转码，成功后标记为已转码，原文件保留
type Encode struct {
	runner   procrunner.Runner
	tools    Tools
	log      *logger.Logger
	media    *schema.BaseMedia
	template string
	output   string
}

func NewEncode(r procrunner.Runner, tools Tools, log *logger.Logger, media *schema.BaseMedia, template, output string) *Encode {
	return &Encode{runner: r, tools: tools, log: log, media: media, template: template, output: output}
}

func (e *Encode) Name() string { return "encode" }

func (e *Encode) Run(ctx context.Context) error {
	args, err := EncodeArgs(e.template, e.media.Filepath, e.output)
	if err != nil {
		return err
	}
	bin := args[0]
	if bin == "ffmpeg" {
		bin = e.tools.FFmpegBin
	}

	e.log.Infof("开始转码: %s -> %s", e.media.Filepath, e.output)
	if _, err := runChecked(ctx, e.runner, e.tools.EncodeTimeout, bin, args[1:]...); err != nil {
		return fmt.Errorf("转码失败，文件是否损坏？%s: %w", e.media.Filepath, err)
	}
	if err := e.media.MarkAsConverted(e.output); err != nil {
		return err
	}
	e.log.Infof("转码完成: %s (%d 字节)", e.output, e.media.CurrentFileSize())
	return nil
}
