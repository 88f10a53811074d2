package hostconf

import "ytdl-worker/app/config"

const (
	// Instagram 与 Facebook 常返回 VP9，iOS 端 Telegram 无法播放，需要转为 H264
	instagramVideoTemplate = `ffmpeg -y -loglevel error -i "{filepath}" -c:v libx264 -pix_fmt yuv420p -preset veryfast -crf 22 -movflags +faststart -c:a copy "{output}"`
	facebookVideoTemplate  = `ffmpeg -y -loglevel error -i "{filepath}" -c:v libx264 -pix_fmt yuv420p -preset slow -threads 2 -crf 22 -movflags +faststart -c:a copy "{output}"`
)

var (
	instagramHostnames = []string{"instagram.com", "www.instagram.com"}
	tiktokHostnames    = []string{"tiktok.com", "vm.tiktok.com", "www.tiktok.com", "www.vm.tiktok.com"}
	twitterHostnames   = []string{"twitter.com", "www.twitter.com", "x.com", "www.x.com", "t.co", "www.t.co"}
)

// NewDefaultHost 兜底配置，匹配所有未登记的域名
func NewDefaultHost(d Defaults) HostConfig {
	return &host{name: "default", videoSort: defaultVideoFormatSort, defaults: d}
}

func NewFacebookHost(d Defaults, encode bool, hostnames []string) HostConfig {
	if hostnames == nil {
		hostnames = []string{}
	}
	return &host{
		name:        "facebook",
		hostnames:   hostnames,
		encodeVideo: encode,
		ffmpegVideo: facebookVideoTemplate,
		videoSort:   defaultVideoFormatSort,
		defaults:    d,
	}
}

func NewInstagramHost(d Defaults, encode bool) HostConfig {
	return &host{
		name:        "instagram",
		hostnames:   instagramHostnames,
		encodeVideo: encode,
		ffmpegVideo: instagramVideoTemplate,
		videoSort:   defaultVideoFormatSort,
		defaults:    d,
	}
}

func NewTikTokHost(d Defaults) HostConfig {
	return &host{name: "tiktok", hostnames: tiktokHostnames, videoSort: defaultVideoFormatSort, defaults: d}
}

func NewTwitterHost(d Defaults) HostConfig {
	return &host{
		name:      "twitter",
		hostnames: twitterHostnames,
		videoSort: []string{"--format-sort", "res,proto:https,vcodec:h265,h264"},
		defaults:  d,
	}
}

// NewDefaultRegistry 注册全部内置站点并冻结
func NewDefaultRegistry(cfg config.HostsConfig, d Defaults) (*Registry, error) {
	r := NewRegistry()
	hosts := []HostConfig{
		NewDefaultHost(d),
		NewFacebookHost(d, cfg.FacebookEncodeVideo, cfg.FacebookHostnames),
		NewInstagramHost(d, cfg.InstagramEncodeVideo),
		NewTikTokHost(d),
		NewTwitterHost(d),
	}
	for _, h := range hosts {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	r.Freeze()
	return r, nil
}
