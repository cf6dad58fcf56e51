// Package react 注册 React 预设（automatic JSX runtime）。
package react

import "github.com/velop/velop/internal/preset"

func init() {
	preset.MustRegister(preset.Metadata{
		Key:         "react",
		Description: "React 18+ with the automatic JSX runtime",
		JSX: preset.JSXOptions{
			Mode:         preset.JSXAutomatic,
			ImportSource: "react",
		},
		Loaders: preset.WithLoaders(map[string]string{
			".jsx": "jsx",
			".tsx": "tsx",
		}),
		Define: map[string]string{
			"process.env.NODE_ENV": `"production"`,
		},
	})
}
