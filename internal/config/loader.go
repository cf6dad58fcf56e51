package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/velop/velop/internal/preset"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 VELOP_PORT=8080。
const EnvPrefix = "VELOP"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "velop.toml"
	}

	if err := loadDotEnv(filepath.Dir(path)); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := resolvePaths(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDotEnv 依次加载配置目录与当前目录下的 .env；已存在的环境变量不会被覆盖。
func loadDotEnv(configDir string) error {
	candidates := []string{filepath.Join(configDir, ".env"), ".env"}
	seen := map[string]struct{}{}
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(abs); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("读取 .env 失败: %w", err)
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("加载 .env 失败: %w", err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Environment", string(ModeProduction))
	v.SetDefault("Hostname", "localhost")
	v.SetDefault("Port", 3000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CompileFailure", string(FailureAbort))
	v.SetDefault("PublicDir", "")
	v.SetDefault("ShutdownTimeout", "10s")
	v.SetDefault("Options.Session.Key", DefaultSessionKey)
	v.SetDefault("Options.Session.Name", "velop.sess")
	v.SetDefault("Options.Session.MaxAge", "24h")
	v.SetDefault("Options.JsonPrettyOptions.Spaces", 2)
	v.SetDefault("Auth.Realm", "velop")
}

func applyDefaults(cfg *Config) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.ShutdownTimeout.DurationValue() <= 0 {
		cfg.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Options.Session.Key == "" {
		cfg.Options.Session.Key = DefaultSessionKey
	}
	if cfg.Options.Session.Name == "" {
		cfg.Options.Session.Name = "velop.sess"
	}
	if cfg.Options.Session.MaxAge.DurationValue() <= 0 {
		cfg.Options.Session.MaxAge = Duration(24 * time.Hour)
	}
	if cfg.Options.JSONPrettyOptions.Spaces <= 0 {
		cfg.Options.JSONPrettyOptions.Spaces = 2
	}
	if cfg.Auth.Realm == "" {
		cfg.Auth.Realm = "velop"
	}
	for i := range cfg.Routes {
		applyRouteDefaults(&cfg.Routes[i])
	}
}

func applyRouteDefaults(r *RouteConfig) {
	r.Name = strings.TrimSpace(r.Name)
	if strings.TrimSpace(r.Path) == "" {
		r.Path = "/"
	}
	r.Path = path.Clean("/" + strings.TrimSpace(r.Path))

	if key := strings.ToLower(strings.TrimSpace(r.Preset)); key != "" {
		r.Preset = key
	} else {
		r.Preset = preset.DefaultKey()
	}
	r.Auth = strings.ToLower(strings.TrimSpace(r.Auth))

	if r.Client.OutDir == "" {
		r.Client.OutDir = filepath.Join("build", r.Name, "client")
	}
	if r.Server.OutDir == "" {
		r.Server.OutDir = filepath.Join("build", r.Name, "server")
	}
	if r.Client.PublicPath == "" {
		r.Client.PublicPath = "/"
	}
	if !strings.HasSuffix(r.Client.PublicPath, "/") {
		r.Client.PublicPath += "/"
	}
}

// resolvePaths 将入口、输出目录与 PublicDir 转换为绝对路径，避免工作目录变化带来的歧义。
func resolvePaths(cfg *Config) error {
	if cfg.PublicDir != "" {
		abs, err := filepath.Abs(cfg.PublicDir)
		if err != nil {
			return fmt.Errorf("无法解析 PublicDir: %w", err)
		}
		cfg.PublicDir = abs
	}
	for i := range cfg.Routes {
		r := &cfg.Routes[i]
		for field, target := range map[string]*string{
			"Client.Entry":  &r.Client.Entry,
			"Client.OutDir": &r.Client.OutDir,
			"Server.Entry":  &r.Server.Entry,
			"Server.OutDir": &r.Server.OutDir,
		} {
			abs, err := filepath.Abs(*target)
			if err != nil {
				return newFieldError(routeField(r.Name, field), err.Error())
			}
			*target = abs
		}
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
