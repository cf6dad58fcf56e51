package bundler

import (
	"path/filepath"
	"sort"
)

// ManifestEntry 记录一个逻辑资源的公开路径与磁盘路径。
type ManifestEntry struct {
	PublicPath string `json:"publicPath"`
	FilePath   string `json:"filePath"`
}

// Manifest 是生产构建后的资源清单，构建完成后只读。
type Manifest struct {
	PublicPath string                   `json:"publicPath"`
	Assets     map[string]ManifestEntry `json:"assets"`
}

// NewManifest 根据单侧构建结果生成资源清单。
func NewManifest(stats BuildStats) Manifest {
	m := Manifest{
		PublicPath: stats.PublicPath,
		Assets:     make(map[string]ManifestEntry, len(stats.Assets)),
	}
	for _, asset := range stats.Assets {
		m.Assets[asset.Name] = ManifestEntry{
			PublicPath: stats.PublicURL(asset.Name),
			FilePath:   filepath.Join(stats.OutputPath, filepath.FromSlash(asset.Name)),
		}
	}
	return m
}

// Names 返回按名称排序的资源列表。
func (m Manifest) Names() []string {
	names := make([]string, 0, len(m.Assets))
	for name := range m.Assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup 根据公开 URL 查找资源。
func (m Manifest) Lookup(publicPath string) (string, ManifestEntry, bool) {
	for name, entry := range m.Assets {
		if entry.PublicPath == publicPath {
			return name, entry, true
		}
	}
	return "", ManifestEntry{}, false
}
