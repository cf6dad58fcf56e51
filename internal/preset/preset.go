package preset

// JSXMode 描述 JSX 的转换方式。
type JSXMode string

const (
	// JSXTransform 使用 Factory/Fragment 函数（经典模式）。
	JSXTransform JSXMode = "transform"
	// JSXAutomatic 使用 ImportSource 提供的自动 runtime。
	JSXAutomatic JSXMode = "automatic"
	// JSXPreserve 不处理 JSX，适合纯 JS/TS 项目。
	JSXPreserve JSXMode = "preserve"
)

// JSXOptions 汇总 JSX 相关的打包参数。
type JSXOptions struct {
	Mode         JSXMode
	Factory      string
	Fragment     string
	ImportSource string
}

// Metadata 记录一个预设的静态信息，供配置校验、打包器与诊断端使用。
type Metadata struct {
	Key         string
	Description string
	JSX         JSXOptions
	// Loaders 将扩展名映射为 loader 名称，例如 ".jsx" -> "jsx"、".svg" -> "file"。
	Loaders map[string]string
	// ServerExternal 列出服务端 bundle 中保持外部引用的模块。
	ServerExternal []string
	// Define 注入编译期常量，key 为标识符，value 为 JS 表达式。
	Define map[string]string
}

// DefaultKey 返回未声明 Preset 时使用的预设键值。
func DefaultKey() string {
	return defaultKey
}

// commonLoaders 是所有预设共享的静态资源 loader。
func commonLoaders() map[string]string {
	return map[string]string{
		".js":    "js",
		".mjs":   "js",
		".cjs":   "js",
		".ts":    "ts",
		".json":  "json",
		".css":   "css",
		".png":   "file",
		".jpg":   "file",
		".jpeg":  "file",
		".gif":   "file",
		".svg":   "file",
		".woff":  "file",
		".woff2": "file",
	}
}

// WithLoaders 返回公共 loader 与 extra 合并后的新映射。
func WithLoaders(extra map[string]string) map[string]string {
	merged := commonLoaders()
	for ext, loader := range extra {
		merged[ext] = loader
	}
	return merged
}
