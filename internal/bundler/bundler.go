package bundler

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/velop/velop/internal/preset"
)

// Side 区分 client（浏览器）与 server（SSR）两侧的打包配置。
type Side string

const (
	SideClient Side = "client"
	SideServer Side = "server"
)

// ErrRenderEntry 表示服务端构建没有产出唯一的可执行文件。
var ErrRenderEntry = errors.New("server build must produce exactly one executable output")

// ErrSharedOutDir 表示 client 与 server 的输出目录相同或相互嵌套。
var ErrSharedOutDir = errors.New("client and server builds need separate output directories")

// Config 描述单侧打包：入口、输出目录、公开路径与所用预设。
type Config struct {
	Route      string
	Side       Side
	Entry      string
	OutDir     string
	PublicPath string
	Preset     preset.Metadata
}

// Pair 是一个路由的 client + server 打包配置。
type Pair struct {
	Client Config
	Server Config
}

// CheckOutDirs 确认两侧输出目录互不包含；每侧持久化时会清理目录中不属于自己的旧文件。
func (p Pair) CheckOutDirs() error {
	client, server := filepath.Clean(p.Client.OutDir), filepath.Clean(p.Server.OutDir)
	if contains(client, server) || contains(server, client) {
		return fmt.Errorf("route %s: %w", p.Client.Route, ErrSharedOutDir)
	}
	return nil
}

func contains(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Asset 是一次构建的产物描述，Name 为相对 OutDir 的 URL 风格路径。
type Asset struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// File 是保存在内存中的构建产物（开发模式不落盘）。
type File struct {
	Name     string
	Contents []byte
}

// BuildStats 汇总单侧构建结果。
type BuildStats struct {
	OutputPath string
	PublicPath string
	Assets     []Asset
	// Files 仅在 watch 模式下填充，生产构建的产物已写入 OutputPath。
	Files    []File
	Duration time.Duration
}

// Stats 对应一次 client + server 构建。
type Stats struct {
	Client BuildStats
	Server BuildStats
}

// File 按名称查找内存产物。
func (s BuildStats) File(name string) (File, bool) {
	for _, f := range s.Files {
		if f.Name == name {
			return f, true
		}
	}
	return File{}, false
}

// AssetNames 返回产物名称列表（保持构建输出顺序）。
func (s BuildStats) AssetNames() []string {
	names := make([]string, len(s.Assets))
	for i, a := range s.Assets {
		names[i] = a.Name
	}
	return names
}

// PublicURL 返回资源对外暴露的 URL 路径。
func (s BuildStats) PublicURL(name string) string {
	return path.Join("/", s.PublicPath, name)
}

// IsExecutable 判断产物是否为可执行的脚本（渲染入口候选）。
func IsExecutable(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".js", ".cjs", ".mjs":
		return true
	}
	return false
}

// SplitServerAssets 将服务端产物划分为唯一的渲染入口与其余静态文件。
func SplitServerAssets(s BuildStats) (Asset, []Asset, error) {
	var (
		entry   Asset
		found   int
		statics []Asset
	)
	for _, asset := range s.Assets {
		if IsExecutable(asset.Name) {
			entry = asset
			found++
			continue
		}
		statics = append(statics, asset)
	}
	if found != 1 {
		return Asset{}, nil, fmt.Errorf("%w: found %d", ErrRenderEntry, found)
	}
	return entry, statics, nil
}

// EventKind 标识 watch 模式下的编译事件。
type EventKind int

const (
	// EventInvalid 表示源码变更、新一轮编译开始。
	EventInvalid EventKind = iota
	// EventDone 表示编译成功，Stats 可用。
	EventDone
	// EventFailed 表示编译失败，Err 携带原因。
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventInvalid:
		return "building"
	case EventDone:
		return "built"
	case EventFailed:
		return "failed"
	}
	return "unknown"
}

// Event 是 watch 模式推送给监听者的一条编译事件。
type Event struct {
	Kind  EventKind
	Stats *Stats
	Err   error
}

// Compiler 是路由注册表对打包器的全部要求：一次性编译（生产）与增量 watch 编译（开发）。
type Compiler interface {
	// Pair 返回该编译器负责的打包配置。
	Pair() Pair
	// CompileWithCallback 执行一次完整编译，完成后调用 cb；err 非空时 stats 为 nil。
	CompileWithCallback(ctx context.Context, cb func(*Stats, error))
	// Watch 启动增量编译并持续推送事件，直到 ctx 结束。首次编译结果同样以事件形式送达。
	Watch(ctx context.Context, onEvent func(Event)) error
}
