// Package preact 注册 Preact 预设，使用经典 h/Fragment JSX 工厂。
package preact

import "github.com/velop/velop/internal/preset"

func init() {
	preset.MustRegister(preset.Metadata{
		Key:         "preact",
		Description: "Preact with classic h() JSX factory",
		JSX: preset.JSXOptions{
			Mode:     preset.JSXTransform,
			Factory:  "h",
			Fragment: "Fragment",
		},
		Loaders: preset.WithLoaders(map[string]string{
			".jsx": "jsx",
			".tsx": "tsx",
		}),
	})
}
