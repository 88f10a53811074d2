package hostconf

import (
	"testing"

	"ytdl-worker/app/config"
	"ytdl-worker/app/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticCookies struct {
	path string
	ok   bool
}

func (s staticCookies) CookiesPath() (string, bool) { return s.path, s.ok }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewDefaultRegistry(config.HostsConfig{
		InstagramEncodeVideo: true,
		FacebookHostnames:    []string{"facebook.com", "www.facebook.com", "fb.watch"},
	}, Defaults{ConcurrentFragments: 3})
	require.NoError(t, err)
	return r
}

func TestResolve(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		host string
		want string
	}{
		{"www.instagram.com", "instagram"},
		{"INSTAGRAM.COM.", "instagram"},
		{"x.com", "twitter"},
		{"vm.tiktok.com", "tiktok"},
		{"fb.watch", "facebook"},
		{"youtube.com", "default"},
		{"", "default"},
	}
	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			h, err := r.Resolve(tt.host)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.Name())
		})
	}

	h, err := r.ResolveURL("https://twitter.com/user/status/1")
	require.NoError(t, err)
	assert.Equal(t, "twitter", h.Name())
}

func TestRegisterConflicts(t *testing.T) {
	d := Defaults{}

	r := NewRegistry()
	require.NoError(t, r.Register(NewDefaultHost(d)))
	assert.ErrorIs(t, r.Register(NewDefaultHost(d)), ErrDuplicateFallback)

	require.NoError(t, r.Register(NewTwitterHost(d)))
	assert.ErrorIs(t, r.Register(NewTwitterHost(d)), ErrDuplicateHostname)

	r.Freeze()
	assert.ErrorIs(t, r.Register(NewTikTokHost(d)), ErrRegistryFrozen)
}

func TestResolveWithoutFallback(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewTikTokHost(Defaults{})))

	_, err := r.Resolve("example.com")
	assert.ErrorIs(t, err, ErrNoFallback)
}

func TestBuildProfile(t *testing.T) {
	d := Defaults{ConcurrentFragments: 2, Cookies: staticCookies{path: "/c.txt", ok: true}}

	t.Run("音频", func(t *testing.T) {
		p := NewDefaultHost(d).BuildProfile(schema.MediaTypeAudio)
		assert.Contains(t, p.YtdlOpts, "--extract-audio")
		assert.Contains(t, p.YtdlOpts, "bestaudio/best")
		assert.NotContains(t, p.YtdlOpts, "--write-thumbnail")
		assert.Subset(t, p.YtdlOpts, []string{"--cookies", "/c.txt"})
	})

	t.Run("音视频保留视频", func(t *testing.T) {
		p := NewDefaultHost(d).BuildProfile(schema.MediaTypeAudioVideo)
		assert.Contains(t, p.YtdlOpts, "--extract-audio")
		assert.Contains(t, p.YtdlOpts, "--write-thumbnail")
		assert.Equal(t, "--keep-video", p.YtdlOpts[len(p.YtdlOpts)-1])
		assert.NotContains(t, p.YtdlOpts, "bestaudio/best")
	})

	t.Run("推特排序", func(t *testing.T) {
		p := NewTwitterHost(d).BuildProfile(schema.MediaTypeVideo)
		assert.Contains(t, p.YtdlOpts, "res,proto:https,vcodec:h265,h264")
		assert.False(t, p.EncodeVideo)
	})

	t.Run("Instagram 转码", func(t *testing.T) {
		p := NewInstagramHost(d, true).BuildProfile(schema.MediaTypeVideo)
		assert.True(t, p.EncodeVideo)
		assert.Contains(t, p.FFmpegVideoOpts, "{filepath}")
	})

	t.Run("无 cookies", func(t *testing.T) {
		p := NewDefaultHost(Defaults{Cookies: staticCookies{}}).BuildProfile(schema.MediaTypeVideo)
		assert.NotContains(t, p.YtdlOpts, "--cookies")
		assert.Contains(t, p.YtdlOpts, "1")
	})
}
