package hostconf

import (
	"strconv"

	"ytdl-worker/app/schema"
)

const (
	FinalAudioFormat     = "mp3"
	FinalThumbnailFormat = "jpg"

	keepVideoOption = "--keep-video"
)

var (
	defaultVideoFormatSort = []string{"--format-sort", "res,vcodec:h265,h264"}

	audioOpts       = []string{"--extract-audio", "--audio-quality", "0", "--audio-format", FinalAudioFormat}
	audioFormatOpts = []string{"--format", "bestaudio/best"}
	videoOpts       = []string{
		"--format", "bestvideo[ext=mp4]+bestaudio[ext=m4a]/mp4",
		"--write-thumbnail",
		"--convert-thumbnails", FinalThumbnailFormat,
	}
)

// CookiesSource 提供当前可用的 cookies 文件
type CookiesSource interface {
	// CookiesPath 文件存在且非空时返回路径和 true
	CookiesPath() (string, bool)
}

// Defaults 所有站点共享的基础 yt-dlp 参数
type Defaults struct {
	ConcurrentFragments int
	Cookies             CookiesSource
}

// baseOpts 每次构建时重新生成，cookies 状态可能随时变化
func (d Defaults) baseOpts() []string {
	fragments := d.ConcurrentFragments
	if fragments < 1 {
		fragments = 1
	}
	opts := []string{
		"--output", "%(title).200B.%(ext)s",
		"--no-playlist",
		"--playlist-items", "1:1",
		"--concurrent-fragments", strconv.Itoa(fragments),
		"--ignore-errors",
		"--verbose",
	}
	if d.Cookies != nil {
		if path, ok := d.Cookies.CookiesPath(); ok {
			opts = append(opts, "--cookies", path)
		}
	}
	return opts
}

// buildYtdlOpts 基础参数 + 媒体类型参数 + 站点自定义的视频参数
func buildYtdlOpts(d Defaults, mediaType schema.MediaType, customVideo []string) []string {
	opts := d.baseOpts()
	addVideo := func() {
		opts = append(opts, videoOpts...)
		opts = append(opts, customVideo...)
	}

	switch mediaType {
	case schema.MediaTypeAudio:
		opts = append(opts, audioOpts...)
		opts = append(opts, audioFormatOpts...)
	case schema.MediaTypeVideo:
		addVideo()
	case schema.MediaTypeAudioVideo:
		opts = append(opts, audioOpts...)
		addVideo()
		opts = append(opts, keepVideoOption)
	}
	return opts
}
