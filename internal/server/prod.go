package server

import (
	"errors"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/velop/velop/internal/artifact"
	"github.com/velop/velop/internal/auth"
	"github.com/velop/velop/internal/bundler"
	"github.com/velop/velop/internal/config"
	"github.com/velop/velop/internal/registry"
)

// prodRoute 是生产模式下一个路由的全部处理函数：先静态资源，后渲染。
type prodRoute struct {
	route    *registry.Route
	handlers []fiber.Handler
	manifest bundler.Manifest
}

func (p prodRoute) install(app *fiber.App) {
	for _, h := range p.handlers {
		app.Use(h)
	}
}

// buildProdRoute 将一次生产构建转换为处理函数列表。
func buildProdRoute(route *registry.Route, gate auth.Gate, stats *bundler.Stats, deps pipelineDeps) (prodRoute, error) {
	if stats == nil {
		return prodRoute{}, errors.New("compile finished without stats")
	}
	entry, statics, err := bundler.SplitServerAssets(stats.Server)
	if err != nil {
		return prodRoute{}, err
	}

	staticNames := make([]string, 0, len(statics))
	for _, asset := range statics {
		if err := deps.registry.AddStaticFile(filepath.Join(stats.Server.OutputPath, filepath.FromSlash(asset.Name))); err != nil {
			return prodRoute{}, err
		}
		staticNames = append(staticNames, path.Base(asset.Name))
	}

	fn, err := deps.loader.Load(filepath.Join(stats.Server.OutputPath, filepath.FromSlash(entry.Name)))
	if err != nil {
		return prodRoute{}, err
	}

	manifest := bundler.NewManifest(stats.Client)
	handlers := make([]fiber.Handler, 0, len(stats.Client.Assets)+1)
	for _, asset := range stats.Client.Assets {
		handlers = append(handlers, assetResponder(
			stats.Client.PublicURL(asset.Name),
			artifact.Locator{Dir: stats.Client.OutputPath, Name: asset.Name},
			deps.store,
		))
	}

	target := renderTarget{
		route:       route,
		gate:        gate,
		fn:          fn,
		client:      stats.Client,
		staticFiles: staticNames,
		metrics:     deps.metrics,
		logger:      deps.logger,
		mode:        string(config.ModeProduction),
	}
	handlers = append(handlers, func(c fiber.Ctx) error {
		if !shouldRender(c, route) || deps.registry.HasStaticPath(c.Path()) {
			return c.Next()
		}
		return serveRender(c, target)
	})

	return prodRoute{route: route, handlers: handlers, manifest: manifest}, nil
}

// assetResponder 仅在请求路径与资源公开路径完全相等时，从输出目录流式返回文件。
func assetResponder(publicPath string, locator artifact.Locator, store artifact.Store) fiber.Handler {
	ext := strings.TrimPrefix(path.Ext(locator.Name), ".")
	return func(c fiber.Ctx) error {
		if c.Path() != publicPath {
			return c.Next()
		}
		if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
			return c.Next()
		}

		result, err := store.Get(c.Context(), locator)
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				return c.Next()
			}
			return err
		}

		if ext != "" {
			c.Type(ext)
		}
		c.Set(fiber.HeaderLastModified, result.Entry.ModTime.UTC().Format(http.TimeFormat))
		return c.SendStream(result.Reader, int(result.Entry.SizeBytes))
	}
}
