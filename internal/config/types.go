package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// DefaultSessionKey 是 Session.Key 的占位值，保留该值启动会输出安全警告。
const DefaultSessionKey = "secret"

// HelmetOptions 对应 helmet 中间件最常用的几个安全头。
type HelmetOptions struct {
	ContentSecurityPolicy string `mapstructure:"ContentSecurityPolicy"`
	XFrameOptions         string `mapstructure:"XFrameOptions"`
	ReferrerPolicy        string `mapstructure:"ReferrerPolicy"`
	HSTSMaxAge            int    `mapstructure:"HSTSMaxAge"`
}

// CompressOptions 控制响应压缩等级：default、best-speed 或 best-compression。
type CompressOptions struct {
	Level string `mapstructure:"Level"`
}

// CorsOptions 描述跨域策略，未填写 AllowOrigins 时允许任意来源。
type CorsOptions struct {
	AllowOrigins     []string `mapstructure:"AllowOrigins"`
	AllowMethods     []string `mapstructure:"AllowMethods"`
	AllowHeaders     []string `mapstructure:"AllowHeaders"`
	ExposeHeaders    []string `mapstructure:"ExposeHeaders"`
	AllowCredentials bool     `mapstructure:"AllowCredentials"`
	MaxAge           int      `mapstructure:"MaxAge"`
}

// JSONPrettyOptions 控制 JSON 美化输出；Param 非空时仅在携带该查询参数时生效。
type JSONPrettyOptions struct {
	Param  string `mapstructure:"Param"`
	Spaces int    `mapstructure:"Spaces"`
}

// SessionOptions 控制基于签名 Cookie 的会话支持。
type SessionOptions struct {
	Use    bool     `mapstructure:"Use"`
	Key    string   `mapstructure:"Key"`
	Name   string   `mapstructure:"Name"`
	MaxAge Duration `mapstructure:"MaxAge"`
}

// Options 汇总所有横切中间件开关，顺序由 middleware.Build 固定。
type Options struct {
	LogRequests       bool              `mapstructure:"LogRequests"`
	UseHelmet         bool              `mapstructure:"UseHelmet"`
	HelmetOptions     HelmetOptions     `mapstructure:"HelmetOptions"`
	UseJSONPretty     bool              `mapstructure:"UseJsonPretty"`
	JSONPrettyOptions JSONPrettyOptions `mapstructure:"JsonPrettyOptions"`
	UseCompress       bool              `mapstructure:"UseCompress"`
	CompressOptions   CompressOptions   `mapstructure:"CompressOptions"`
	UseCors           bool              `mapstructure:"UseCors"`
	CorsOptions       CorsOptions       `mapstructure:"CorsOptions"`
	UseEtags          bool              `mapstructure:"UseEtags"`
	Session           SessionOptions    `mapstructure:"Session"`
}

// AuthUser 是 basic 策略使用的账号，PasswordHash 为 bcrypt 摘要。
type AuthUser struct {
	Name         string `mapstructure:"Name"`
	PasswordHash string `mapstructure:"PasswordHash"`
}

// AuthConfig 描述认证策略所需的静态数据。
type AuthConfig struct {
	Realm string     `mapstructure:"Realm"`
	Users []AuthUser `mapstructure:"User"`
}

// BundleConfig 描述一侧（client 或 server）的打包入口与输出位置。
type BundleConfig struct {
	Entry      string `mapstructure:"Entry"`
	OutDir     string `mapstructure:"OutDir"`
	PublicPath string `mapstructure:"PublicPath"`
}

// RouteConfig 对应一个 [[Route]] 声明：挂载路径 + client/server 打包配置 + 可选鉴权。
type RouteConfig struct {
	Name    string            `mapstructure:"Name"`
	Path    string            `mapstructure:"Path"`
	Preset  string            `mapstructure:"Preset"`
	Auth    string            `mapstructure:"Auth"`
	Headers map[string]string `mapstructure:"Headers"`
	Client  BundleConfig      `mapstructure:"Client"`
	Server  BundleConfig      `mapstructure:"Server"`
	// RenderAllPaths 让带扩展名的路径（如 /u/john.doe）也进入渲染函数。
	RenderAllPaths bool `mapstructure:"RenderAllPaths"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Environment     string        `mapstructure:"Environment"`
	Hostname        string        `mapstructure:"Hostname"`
	Port            int           `mapstructure:"Port"`
	LogLevel        string        `mapstructure:"LogLevel"`
	LogFilePath     string        `mapstructure:"LogFilePath"`
	LogMaxSize      int           `mapstructure:"LogMaxSize"`
	LogMaxBackups   int           `mapstructure:"LogMaxBackups"`
	LogCompress     bool          `mapstructure:"LogCompress"`
	CompileFailure  string        `mapstructure:"CompileFailure"`
	PublicDir       string        `mapstructure:"PublicDir"`
	ShutdownTimeout Duration      `mapstructure:"ShutdownTimeout"`
	Options         Options       `mapstructure:"Options"`
	Auth            AuthConfig    `mapstructure:"Auth"`
	Routes          []RouteConfig `mapstructure:"Route"`
}

// Address 返回监听地址 host:port。
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// URL 返回用于日志输出的 http://host:port。
func (c *Config) URL() string {
	return "http://" + c.Address()
}

// InsecureSessionKey 表示启用了会话但仍使用占位密钥。
func (c *Config) InsecureSessionKey() bool {
	return c.Options.Session.Use && c.Options.Session.Key == DefaultSessionKey
}

// RouteNames 返回所有路由名称，供日志字段使用。
func RouteNames(routes []RouteConfig) []string {
	if len(routes) == 0 {
		return nil
	}
	result := make([]string, len(routes))
	for i, route := range routes {
		result[i] = route.Name
	}
	return result
}
