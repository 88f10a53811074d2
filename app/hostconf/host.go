package hostconf

import (
	"slices"

	"ytdl-worker/app/schema"
)

// HostConfig 单个站点的下载配置
type HostConfig interface {
	Name() string
	// Hostnames 为 nil 表示兜底配置
	Hostnames() []string
	BuildProfile(mediaType schema.MediaType) *Profile
}

// Profile 某次下载实际使用的站点参数，构建后不再修改
type Profile struct {
	Name            string
	Hostnames       []string
	EncodeAudio     bool
	EncodeVideo     bool
	FFmpegAudioOpts string
	FFmpegVideoOpts string
	YtdlOpts        []string
}

// host 内置站点配置的通用实现
type host struct {
	name        string
	hostnames   []string
	encodeAudio bool
	encodeVideo bool
	ffmpegAudio string
	ffmpegVideo string
	videoSort   []string
	defaults    Defaults
}

func (h *host) Name() string {
	return h.name
}

func (h *host) Hostnames() []string {
	if h.hostnames == nil {
		return nil
	}
	return slices.Clone(h.hostnames)
}

func (h *host) BuildProfile(mediaType schema.MediaType) *Profile {
	return &Profile{
		Name:            h.name,
		Hostnames:       h.Hostnames(),
		EncodeAudio:     h.encodeAudio,
		EncodeVideo:     h.encodeVideo,
		FFmpegAudioOpts: h.ffmpegAudio,
		FFmpegVideoOpts: h.ffmpegVideo,
		YtdlOpts:        buildYtdlOpts(h.defaults, mediaType, h.videoSort),
	}
}
