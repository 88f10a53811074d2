package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ytdl-worker/app/config"
	"ytdl-worker/app/hostconf"
	"ytdl-worker/app/logger"
	"ytdl-worker/app/schema"
	"ytdl-worker/app/utils/procrunner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner 模拟 yt-dlp：在 --paths 指定的目录中写入文件并输出元数据
type fakeRunner struct {
	files  map[string]string
	meta   func(dir string) any
	exit   int
	err    error
	called []string
}

func (f *fakeRunner) Run(_ context.Context, _ time.Duration, name string, args ...string) (*procrunner.Result, error) {
	f.called = append([]string{name}, args...)
	if f.err != nil {
		return nil, f.err
	}
	dir := argAfter(args, "--paths")
	for name, content := range f.files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	var stdout []byte
	if f.meta != nil {
		stdout, _ = json.Marshal(f.meta(dir))
	}
	return &procrunner.Result{Name: name, ExitCode: f.exit, Stdout: stdout}, nil
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func newTestDownloader(t *testing.T, r procrunner.Runner) (*Downloader, config.DownloadConfig) {
	t.Helper()
	cfg := config.DownloadConfig{
		YtdlpBin:         "yt-dlp",
		RootDir:          t.TempDir(),
		TmpDownloadDir:   "tmp",
		TmpDownloadedDir: "done",
	}
	return New(cfg, r, logger.Nop()), cfg
}

func videoProfile() *hostconf.Profile {
	return hostconf.NewDefaultHost(hostconf.Defaults{}).BuildProfile(schema.MediaTypeVideo)
}

func TestDownloadVideo(t *testing.T) {
	r := &fakeRunner{
		files: map[string]string{"Clip.mp4": "video-bytes", "Clip.jpg": "thumb"},
		meta: func(dir string) any {
			return map[string]any{
				"_type":    "video",
				"title":    "Clip",
				"duration": 12.5,
				"requested_downloads": []map[string]any{
					{"ext": "mp4", "_filename": filepath.Join(dir, "Clip.mp4"), "filepath": filepath.Join(dir, "Clip.mp4"), "width": 1280, "height": 720},
				},
			}
		},
	}
	d, cfg := newTestDownloader(t, r)

	media, err := d.Download(context.Background(), "https://example.com/v", videoProfile(), schema.MediaTypeVideo)
	require.NoError(t, err)

	require.NotNil(t, media.Video)
	assert.Nil(t, media.Audio)
	assert.Equal(t, "Clip", media.Video.Title)
	assert.Equal(t, "Clip.mp4", media.Video.Filename)
	assert.Equal(t, int64(len("video-bytes")), media.Video.FileSize)
	assert.Equal(t, 12.5, *media.Video.Duration)
	assert.Equal(t, 1280, *media.Video.Width)
	assert.Equal(t, "Clip.jpg", media.Video.ThumbName)
	assert.FileExists(t, media.Video.Filepath)
	assert.FileExists(t, *media.Video.ThumbPath)
	assert.Equal(t, cfg.CompletedPath(), filepath.Dir(media.RootPath))
	assert.Equal(t, "Clip", media.Meta["title"])

	// 临时目录已清理
	entries, err := os.ReadDir(cfg.TmpDownloadPath())
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Contains(t, r.called, "--dump-single-json")
	assert.Equal(t, "https://example.com/v", r.called[len(r.called)-1])
}

func TestDownloadAudioVideoPlaylist(t *testing.T) {
	r := &fakeRunner{
		files: map[string]string{"Song.mp3": "audio", "Song.webm": "video"},
		meta: func(dir string) any {
			return map[string]any{
				"_type": "playlist",
				"title": "List",
				"entries": []map[string]any{{
					"title":    "Song",
					"duration": 200,
					"requested_downloads": []map[string]any{
						// 视频转为音频后保留原视频
						{"ext": "mp3", "_filename": filepath.Join(dir, "Song.webm"), "filepath": filepath.Join(dir, "Song.mp3")},
					},
				}},
			}
		},
	}
	d, _ := newTestDownloader(t, r)

	media, err := d.Download(context.Background(), "https://example.com/l", videoProfile(), schema.MediaTypeAudioVideo)
	require.NoError(t, err)

	require.NotNil(t, media.Audio)
	require.NotNil(t, media.Video)
	assert.Equal(t, "Song.mp3", media.Audio.Filename)
	assert.Equal(t, "Song.webm", media.Video.Filename)
	assert.Equal(t, "List", media.Video.Title)
	assert.Equal(t, "Song.webm-thumb.jpg", media.Video.ThumbName)
	assert.Nil(t, media.Video.ThumbPath)
}

func TestDownloadNothing(t *testing.T) {
	d, _ := newTestDownloader(t, &fakeRunner{})

	_, err := d.Download(context.Background(), "https://bad", videoProfile(), schema.MediaTypeVideo)
	var dlErr *DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.ErrorIs(t, err, ErrNothingDownloaded)
}

func TestDownloadEmptyPlaylist(t *testing.T) {
	r := &fakeRunner{
		files: map[string]string{"x.part": ""},
		meta:  func(string) any { return map[string]any{"_type": "playlist", "title": "x", "entries": []any{}} },
	}
	d, cfg := newTestDownloader(t, r)

	_, err := d.Download(context.Background(), "https://example.com/l", videoProfile(), schema.MediaTypeVideo)
	require.Error(t, err)

	// 失败时不留下完成目录
	entries, _ := os.ReadDir(cfg.CompletedPath())
	assert.Empty(t, entries)
}

func TestDownloadRunnerTimeout(t *testing.T) {
	d, _ := newTestDownloader(t, &fakeRunner{err: procrunner.ErrTimeout})

	_, err := d.Download(context.Background(), "https://example.com/v", videoProfile(), schema.MediaTypeVideo)
	assert.ErrorIs(t, err, procrunner.ErrTimeout)
}

func TestDownloadNonZeroExitWithoutMeta(t *testing.T) {
	d, _ := newTestDownloader(t, &fakeRunner{exit: 1})

	_, err := d.Download(context.Background(), "https://example.com/v", videoProfile(), schema.MediaTypeVideo)
	var exitErr *procrunner.ExitError
	assert.True(t, errors.As(err, &exitErr))
}

func TestDiskSpaceCheck(t *testing.T) {
	d, _ := newTestDownloader(t, &fakeRunner{})
	d.cfg.MinFreeDisk = 1 << 30
	d.diskFree = func(string) (uint64, error) { return 1024, nil }

	_, err := d.Download(context.Background(), "https://example.com/v", videoProfile(), schema.MediaTypeVideo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "磁盘空间不足")
}
