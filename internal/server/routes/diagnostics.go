// Package routes 注册 velop 的 API 路由：健康检查、路由诊断、指标与会话登录。
package routes

import (
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/velop/velop/internal/preset"
	"github.com/velop/velop/internal/server"
)

// Register 挂载所有 API 路由，签名满足 server.APIRegistrar。
func Register(app *fiber.App, srv *server.Server) {
	RegisterDiagnosticsRoutes(app, srv)
	RegisterSessionRoutes(app, srv)
}

// RegisterDiagnosticsRoutes 暴露 /-/health、/-/routes 与 /-/metrics 诊断接口。
func RegisterDiagnosticsRoutes(app *fiber.App, srv *server.Server) {
	if app == nil || srv == nil {
		return
	}

	app.Get("/-/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"mode":   string(srv.Config().Mode()),
			"routes": srv.Registry().Len(),
		})
	})

	app.Get("/-/routes", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"routes":       srv.RouteStatuses(),
			"presets":      encodePresets(preset.List()),
			"strategies":   srv.Passport().Strategies(),
			"static_files": srv.Registry().StaticNames(),
		})
	})

	app.Get("/-/routes/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "route_name_required"})
		}
		for _, status := range srv.RouteStatuses() {
			if status.Name == name {
				return c.JSON(status)
			}
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "route_not_found"})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(srv.Metrics().Handler()))
}

type presetPayload struct {
	Key          string   `json:"key"`
	Description  string   `json:"description"`
	JSX          string   `json:"jsx"`
	ImportSource string   `json:"import_source,omitempty"`
	Loaders      []string `json:"loaders"`
}

func encodePresets(presets []preset.Metadata) []presetPayload {
	if len(presets) == 0 {
		return nil
	}
	sort.Slice(presets, func(i, j int) bool {
		return presets[i].Key < presets[j].Key
	})
	result := make([]presetPayload, 0, len(presets))
	for _, meta := range presets {
		exts := make([]string, 0, len(meta.Loaders))
		for ext := range meta.Loaders {
			exts = append(exts, ext)
		}
		sort.Strings(exts)
		result = append(result, presetPayload{
			Key:          meta.Key,
			Description:  meta.Description,
			JSX:          string(meta.JSX.Mode),
			ImportSource: meta.JSX.ImportSource,
			Loaders:      exts,
		})
	}
	return result
}
