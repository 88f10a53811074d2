package filewatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"ytdl-worker/app/logger"

	"github.com/fsnotify/fsnotify"
)

// CookiesWatcher 监控 cookies 文件，文件存在且非空时才向 yt-dlp 传递 --cookies
type CookiesWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *logger.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	watching bool
	mu       sync.Mutex

	available atomic.Bool
}

// NewCookiesWatcher 创建监控器并检查一次当前状态
func NewCookiesWatcher(path string, log *logger.Logger) (*CookiesWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析 cookies 路径失败: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	cw := &CookiesWatcher{
		path:    abs,
		watcher: watcher,
		logger:  log.Named("cookies_watcher"),
		stopCh:  make(chan struct{}),
	}
	cw.refresh()
	return cw, nil
}

// CookiesPath 实现 hostconf.CookiesSource
func (cw *CookiesWatcher) CookiesPath() (string, bool) {
	if !cw.available.Load() {
		return "", false
	}
	return cw.path, true
}

// Start 监控文件所在目录，编辑器保存时常常是替换文件而不是原地写入
func (cw *CookiesWatcher) Start() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.watching {
		return fmt.Errorf("cookies 监控器已经在运行")
	}

	dir := filepath.Dir(cw.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建 cookies 目录失败: %w", err)
	}
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	cw.watching = true
	cw.wg.Add(1)
	go cw.watchLoop()

	cw.logger.Infof("cookies 监控已启动: %s (当前可用: %t)", cw.path, cw.available.Load())
	return nil
}

// Stop 停止监控
func (cw *CookiesWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.watching {
		return cw.watcher.Close()
	}

	close(cw.stopCh)
	err := cw.watcher.Close()
	cw.wg.Wait()
	cw.watching = false

	cw.logger.Info("cookies 监控已停止")
	return err
}

// watchLoop 监控事件循环
func (cw *CookiesWatcher) watchLoop() {
	defer cw.wg.Done()

	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			cw.handleEvent(event)

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Errorf("cookies 监控错误: %v", err)

		case <-cw.stopCh:
			return
		}
	}
}

// handleEvent 只关心 cookies 文件本身
func (cw *CookiesWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != cw.path {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	cw.refresh()
}

// refresh 重新检查文件状态，状态变化时记录日志
func (cw *CookiesWatcher) refresh() {
	info, err := os.Stat(cw.path)
	available := err == nil && info.Mode().IsRegular() && info.Size() > 0
	if cw.available.Swap(available) != available {
		if available {
			cw.logger.Infof("cookies 文件可用: %s", cw.path)
		} else {
			cw.logger.Warnf("cookies 文件不可用，下载不再携带 cookies: %s", cw.path)
		}
	}
}
