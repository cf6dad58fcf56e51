package bundler

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Watch 创建 client/server 两个增量构建上下文，监听入口所在目录并在变更后重新构建。
// 首次构建在后台立即执行；ctx 结束后释放 watcher 与构建上下文。
func (b *Esbuild) Watch(ctx context.Context, onEvent func(Event)) error {
	client, cerr := api.Context(b.buildOptions(b.pair.Client))
	if cerr != nil {
		return contextError(b.pair.Client, cerr)
	}
	server, serr := api.Context(b.buildOptions(b.pair.Server))
	if serr != nil {
		client.Dispose()
		return contextError(b.pair.Server, serr)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		client.Dispose()
		server.Dispose()
		return err
	}
	for _, root := range b.watchRoots() {
		if err := b.addRecursive(watcher, root); err != nil {
			watcher.Close()
			client.Dispose()
			server.Dispose()
			return err
		}
	}

	go b.watchLoop(ctx, watcher, client, server, onEvent)
	return nil
}

func (b *Esbuild) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, client, server api.BuildContext, onEvent func(Event)) {
	defer func() {
		watcher.Close()
		client.Dispose()
		server.Dispose()
	}()

	logger := b.opts.Logger.WithFields(logrus.Fields{"action": "bundle_watch", "route": b.pair.Client.Route})
	rebuild := func() {
		onEvent(Event{Kind: EventInvalid})
		stats, err := b.rebuild(client, server)
		if err != nil {
			onEvent(Event{Kind: EventFailed, Err: err})
			return
		}
		onEvent(Event{Kind: EventDone, Stats: stats})
	}
	rebuild()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if b.ignored(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := b.addRecursive(watcher, event.Name); err != nil {
						logger.WithError(err).Warn("watch_add_failed")
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(b.opts.Debounce)
			} else {
				timer.Reset(b.opts.Debounce)
			}
			timerC = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Warn("watch_error")
		case <-timerC:
			timerC = nil
			rebuild()
		}
	}
}

// rebuild 并行执行两侧的增量构建，产物仅保存在内存中。
func (b *Esbuild) rebuild(client, server api.BuildContext) (*Stats, error) {
	var (
		stats Stats
		g     errgroup.Group
	)
	g.Go(func() error {
		started := time.Now()
		out, err := collect(b.pair.Client, client.Rebuild(), started)
		stats.Client = out
		return err
	})
	g.Go(func() error {
		started := time.Now()
		out, err := collect(b.pair.Server, server.Rebuild(), started)
		stats.Server = out
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}

// watchRoots 返回需要监听的源码目录（两侧入口所在目录，去重）。
func (b *Esbuild) watchRoots() []string {
	seen := map[string]struct{}{}
	var roots []string
	for _, entry := range []string{b.pair.Client.Entry, b.pair.Server.Entry} {
		dir := filepath.Dir(entry)
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		roots = append(roots, dir)
	}
	return roots
}

func (b *Esbuild) addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && b.ignored(p) {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}

// ignored 过滤输出目录、依赖目录与编辑器临时文件，避免构建产物触发循环重建。
func (b *Esbuild) ignored(p string) bool {
	base := filepath.Base(p)
	if base == "node_modules" || strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return true
	}
	for _, out := range []string{b.pair.Client.OutDir, b.pair.Server.OutDir} {
		if out == "" {
			continue
		}
		if p == out || strings.HasPrefix(p, out+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func contextError(cfg Config, err *api.ContextError) error {
	messages := make([]string, len(err.Errors))
	for i, msg := range err.Errors {
		messages[i] = formatMessage(msg)
	}
	if len(messages) == 0 {
		messages = []string{"invalid build options"}
	}
	return &BuildError{Route: cfg.Route, Side: cfg.Side, Messages: messages}
}
