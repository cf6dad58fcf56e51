// Package vanilla 注册不含 JSX 的纯 JS/TS 预设。
package vanilla

import "github.com/velop/velop/internal/preset"

func init() {
	preset.MustRegister(preset.Metadata{
		Key:         "vanilla",
		Description: "Plain JavaScript/TypeScript without JSX",
		Loaders:     preset.WithLoaders(nil),
	})
}
