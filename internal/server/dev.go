package server

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/velop/velop/internal/auth"
	"github.com/velop/velop/internal/bundler"
	"github.com/velop/velop/internal/config"
	"github.com/velop/velop/internal/livereload"
	"github.com/velop/velop/internal/logging"
	"github.com/velop/velop/internal/metrics"
	"github.com/velop/velop/internal/registry"
	"github.com/velop/velop/internal/render"
)

// ReloadSuffix 是开发模式 SSE 通知端点相对 client PublicPath 的路径。
const ReloadSuffix = livereload.Suffix

// devSnapshot 是某一时刻的有效构建结果。
type devSnapshot struct {
	stats *bundler.Stats
	fn    render.Func
	err   error
}

// devBridge 持有一个路由最近一次 watch 构建的内存产物，并在构建进行中阻塞请求。
type devBridge struct {
	route   *registry.Route
	gate    auth.Gate
	loader  render.Loader
	metrics *metrics.Metrics
	logger  *logrus.Logger
	hub     *livereload.Hub
	// base 在服务停止时结束，用于放弃仍在等待构建的请求。
	base context.Context

	mu           sync.Mutex
	valid        chan struct{}
	settled      bool
	current      devSnapshot
	buildStarted time.Time

	firstOnce sync.Once
	first     chan struct{}
}

func newDevBridge(base context.Context, route *registry.Route, gate auth.Gate, deps pipelineDeps) *devBridge {
	return &devBridge{
		route:   route,
		gate:    gate,
		loader:  deps.loader,
		metrics: deps.metrics,
		logger:  deps.logger,
		hub:     livereload.NewHub(),
		base:    base,
		valid:   make(chan struct{}),
		first:   make(chan struct{}),

		buildStarted: time.Now(),
	}
}

func (b *devBridge) publicPath() string {
	return b.route.Compiler.Pair().Client.PublicPath
}

func (b *devBridge) reloadPath() string {
	return path.Join(b.publicPath(), ReloadSuffix)
}

// onEvent 接收 watch 事件并更新有效状态。
func (b *devBridge) onEvent(ev bundler.Event) {
	switch ev.Kind {
	case bundler.EventInvalid:
		b.mu.Lock()
		if b.settled {
			b.valid = make(chan struct{})
			b.settled = false
		}
		b.buildStarted = time.Now()
		b.mu.Unlock()
		b.hub.Publish(ev.Kind.String(), b.route.Name)
	case bundler.EventDone:
		fn, err := b.loadRender(ev.Stats)
		b.settle(devSnapshot{stats: ev.Stats, fn: fn, err: err})
	case bundler.EventFailed:
		b.settle(devSnapshot{err: ev.Err})
	}
}

func (b *devBridge) loadRender(stats *bundler.Stats) (render.Func, error) {
	if stats == nil {
		return nil, errors.New("build finished without stats")
	}
	entry, _, err := bundler.SplitServerAssets(stats.Server)
	if err != nil {
		return nil, err
	}
	file, ok := stats.Server.File(entry.Name)
	if !ok {
		return nil, fmt.Errorf("server entry %s not held in memory", entry.Name)
	}
	return b.loader.LoadSource(filepath.Join(stats.Server.OutputPath, entry.Name), file.Contents)
}

func (b *devBridge) settle(snap devSnapshot) {
	fields := logging.RouteFields(b.route.Name, b.route.Mount, string(config.ModeDevelopment))
	fields["action"] = "rebuild"

	b.mu.Lock()
	elapsed := time.Since(b.buildStarted)
	b.current = snap
	if !b.settled {
		close(b.valid)
		b.settled = true
	}
	b.mu.Unlock()
	b.firstOnce.Do(func() { close(b.first) })

	b.metrics.IncRebuild(b.route.Name, snap.err)
	b.metrics.ObserveCompile(b.route.Name, string(config.ModeDevelopment), elapsed, snap.err)
	fields["duration_ms"] = elapsed.Milliseconds()

	if snap.err != nil {
		b.logger.WithFields(fields).WithError(snap.err).Warn("compile failed")
		b.hub.Publish(bundler.EventFailed.String(), snap.err.Error())
		return
	}
	b.logger.WithFields(fields).Info("compile valid")
	b.hub.Publish(bundler.EventDone.String(), b.route.Name)
}

// waitFirst 阻塞到首次构建完成（成功或失败）。
func (b *devBridge) waitFirst(ctx context.Context) error {
	select {
	case <-b.first:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wait 阻塞到当前构建有效，请求取消或服务停止时放弃等待。
func (b *devBridge) wait(ctx context.Context) (devSnapshot, error) {
	b.mu.Lock()
	ch := b.valid
	b.mu.Unlock()

	select {
	case <-ch:
	case <-ctx.Done():
		return devSnapshot{}, ctx.Err()
	case <-b.base.Done():
		return devSnapshot{}, b.base.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, nil
}

// owns 判断请求是否属于该路由（挂载路径或 client 公开路径之下）。
func (b *devBridge) owns(p string) bool {
	if b.route.Matches(p) {
		return true
	}
	public := b.publicPath()
	return strings.HasPrefix(p, public)
}

// assetHandler 在构建有效后从内存提供 client 产物及服务端静态文件。
func (b *devBridge) assetHandler(c fiber.Ctx) error {
	if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
		return c.Next()
	}
	p := c.Path()
	if isDiagnosticsPath(p) || p == b.reloadPath() || !b.owns(p) {
		return c.Next()
	}

	snap, err := b.wait(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "build_wait_abandoned")
	}
	if snap.err != nil {
		return sendCompileError(c, b.route.Name, snap.err)
	}

	if name, ok := strings.CutPrefix(p, b.publicPath()); ok {
		if file, found := snap.stats.Client.File(name); found {
			return sendMemoryFile(c, file)
		}
	}
	if _, statics, err := bundler.SplitServerAssets(snap.stats.Server); err == nil {
		base := path.Base(p)
		for _, asset := range statics {
			if path.Base(asset.Name) != base {
				continue
			}
			if file, found := snap.stats.Server.File(asset.Name); found {
				return sendMemoryFile(c, file)
			}
		}
	}
	return c.Next()
}

// renderHandler 在构建有效后以最新的内存 bundle 渲染页面。
func (b *devBridge) renderHandler(c fiber.Ctx) error {
	if !shouldRender(c, b.route) {
		return c.Next()
	}
	snap, err := b.wait(c.Context())
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "build_wait_abandoned")
	}
	if snap.err != nil {
		return sendCompileError(c, b.route.Name, snap.err)
	}

	statics := []string{}
	if _, assets, err := bundler.SplitServerAssets(snap.stats.Server); err == nil {
		for _, a := range assets {
			statics = append(statics, path.Base(a.Name))
		}
	}
	return serveRender(c, renderTarget{
		route:       b.route,
		gate:        b.gate,
		fn:          snap.fn,
		client:      snap.stats.Client,
		staticFiles: statics,
		metrics:     b.metrics,
		logger:      b.logger,
		mode:        string(config.ModeDevelopment),
	})
}

func (b *devBridge) install(app *fiber.App) {
	app.Use(b.assetHandler)
	app.Get(b.reloadPath(), b.hub.Handler())
	app.Use(b.renderHandler)
}

// status 返回路由当前的构建状态。
func (b *devBridge) status() (state string, assets []string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case !b.settled:
		return RouteBuilding, nil, nil
	case b.current.err != nil:
		return RouteFailed, nil, b.current.err
	}
	return RouteReady, b.current.stats.Client.AssetNames(), nil
}

func (b *devBridge) close() {
	b.hub.Close()
}

func sendMemoryFile(c fiber.Ctx, file bundler.File) error {
	c.Type(strings.TrimPrefix(path.Ext(file.Name), "."))
	c.Set(fiber.HeaderCacheControl, "no-cache")
	return c.Send(file.Contents)
}

func sendCompileError(c fiber.Ctx, route string, err error) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(fiber.StatusInternalServerError).SendString(fmt.Sprintf("velop: route %s failed to compile\n\n%s", route, err.Error()))
}
