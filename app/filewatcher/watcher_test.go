package filewatcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ytdl-worker/app/hostconf"
	"ytdl-worker/app/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ hostconf.CookiesSource = (*CookiesWatcher)(nil)

func available(cw *CookiesWatcher) func() bool {
	return func() bool {
		_, ok := cw.CookiesPath()
		return ok
	}
}

func TestCookiesWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.txt")

	cw, err := NewCookiesWatcher(path, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, cw.Start())
	defer cw.Stop()

	_, ok := cw.CookiesPath()
	assert.False(t, ok, "文件不存在")

	// 空文件不可用
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, available(cw)())

	require.NoError(t, os.WriteFile(path, []byte("# Netscape HTTP Cookie File\n"), 0o600))
	assert.Eventually(t, available(cw), 2*time.Second, 20*time.Millisecond)

	got, _ := cw.CookiesPath()
	assert.Equal(t, path, got)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool { return !available(cw)() }, 2*time.Second, 20*time.Millisecond)
}

func TestCookiesWatcherExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	cw, err := NewCookiesWatcher(path, logger.Nop())
	require.NoError(t, err)
	defer cw.Stop()

	assert.True(t, available(cw)())

	opts := hostconf.NewDefaultHost(hostconf.Defaults{Cookies: cw}).BuildProfile("VIDEO").YtdlOpts
	assert.Contains(t, opts, "--cookies")
	assert.Contains(t, opts, path)
}
