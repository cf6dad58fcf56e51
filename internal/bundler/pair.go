package bundler

import (
	"fmt"

	"github.com/velop/velop/internal/config"
	"github.com/velop/velop/internal/preset"
)

// PairFromRoute 将路由配置转换为打包配置，并解析所用的预设。
func PairFromRoute(route config.RouteConfig) (Pair, error) {
	meta, ok := preset.Resolve(route.Preset)
	if !ok {
		return Pair{}, fmt.Errorf("route %s: 未注册预设 %s", route.Name, route.Preset)
	}
	return Pair{
		Client: Config{
			Route:      route.Name,
			Side:       SideClient,
			Entry:      route.Client.Entry,
			OutDir:     route.Client.OutDir,
			PublicPath: route.Client.PublicPath,
			Preset:     meta,
		},
		Server: Config{
			Route:      route.Name,
			Side:       SideServer,
			Entry:      route.Server.Entry,
			OutDir:     route.Server.OutDir,
			PublicPath: "/",
			Preset:     meta,
		},
	}, nil
}
