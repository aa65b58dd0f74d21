package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch 监听配置文件变更，去抖后重新加载并回调。
// 只有通过 Validate 的新配置才会回调；坏配置只记日志，旧配置继续生效。
// 回调方自行决定哪些字段允许热生效（风控参数不在其列）。
func Watch(ctx context.Context, path string, log *zap.Logger, onReload func(AppConfig)) error {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config")

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	// 监听目录而不是文件：编辑器保存常用 rename 替换，直接监听文件会丢事件。
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(300*time.Millisecond, func() {
					cfg, err := Load(path)
					if err != nil {
						log.Warn("config reload rejected", zap.Error(err))
						return
					}
					log.Info("config reloaded", zap.String("path", path))
					onReload(cfg)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
