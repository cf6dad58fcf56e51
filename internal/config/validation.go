package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/velop/velop/internal/preset"
)

var supportedAuthStrategies = map[string]struct{}{
	"":        {},
	"session": {},
	"basic":   {},
}

var supportedCompressLevels = map[string]struct{}{
	"":                 {},
	"default":          {},
	"best-speed":       {},
	"best-compression": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.Port < 0 || c.Port > 65535 {
		return newFieldError("Port", "必须在 0-65535")
	}
	if strings.ContainsAny(c.Hostname, " /") {
		return newFieldError("Hostname", "不允许包含空格或路径")
	}

	switch FailurePolicy(strings.ToLower(strings.TrimSpace(c.CompileFailure))) {
	case "", FailureAbort, FailureDisable:
	default:
		return newFieldError("CompileFailure", "仅支持 abort/disable")
	}

	if err := c.Options.validate(); err != nil {
		return err
	}

	usesBasic := false
	seenNames := map[string]struct{}{}
	for i := range c.Routes {
		route := &c.Routes[i]
		if route.Name == "" {
			return newFieldError("Route[].Name", "不能为空")
		}
		if _, exists := seenNames[route.Name]; exists {
			return newFieldError(routeField(route.Name, "Name"), "重复")
		}
		seenNames[route.Name] = struct{}{}

		if route.Client.Entry == "" {
			return newFieldError(routeField(route.Name, "Client.Entry"), "不能为空")
		}
		if route.Server.Entry == "" {
			return newFieldError(routeField(route.Name, "Server.Entry"), "不能为空")
		}
		if !strings.HasPrefix(route.Client.PublicPath, "/") {
			return newFieldError(routeField(route.Name, "Client.PublicPath"), "必须以 / 开头")
		}
		if _, ok := preset.Resolve(route.Preset); !ok {
			return newFieldError(routeField(route.Name, "Preset"), fmt.Sprintf("未注册预设: %s，可选 %s", route.Preset, strings.Join(preset.Keys(), "|")))
		}
		if _, ok := supportedAuthStrategies[route.Auth]; !ok {
			return newFieldError(routeField(route.Name, "Auth"), "仅支持 session/basic")
		}
		if route.Auth == "session" && !c.Options.Session.Use {
			return newFieldError(routeField(route.Name, "Auth"), "session 策略需要启用 Options.Session.Use")
		}
		if route.Auth == "basic" {
			usesBasic = true
		}
	}

	if err := c.validateOutDirs(); err != nil {
		return err
	}

	if usesBasic && len(c.Auth.Users) == 0 {
		return newFieldError("Auth.User", "basic 策略至少需要一个用户")
	}
	for _, user := range c.Auth.Users {
		if user.Name == "" {
			return newFieldError("Auth.User[].Name", "不能为空")
		}
		if !strings.HasPrefix(user.PasswordHash, "$2") {
			return newFieldError(fmt.Sprintf("Auth.User[%s].PasswordHash", user.Name), "必须是 bcrypt 摘要")
		}
	}

	return nil
}

// validateOutDirs 拒绝相同或相互嵌套的输出目录：每一侧构建都会按自己的
// manifest 清理目录内的旧文件，共享目录会删掉另一侧的产物。
func (c *Config) validateOutDirs() error {
	type outDir struct {
		field string
		dir   string
	}
	var seen []outDir
	for _, route := range c.Routes {
		for _, side := range []outDir{
			{field: "Client.OutDir", dir: route.Client.OutDir},
			{field: "Server.OutDir", dir: route.Server.OutDir},
		} {
			if strings.TrimSpace(side.dir) == "" {
				continue
			}
			field := routeField(route.Name, side.field)
			abs, err := filepath.Abs(side.dir)
			if err != nil {
				return newFieldError(field, err.Error())
			}
			for _, prev := range seen {
				if within(prev.dir, abs) || within(abs, prev.dir) {
					return newFieldError(field, fmt.Sprintf("与 %s 相同或嵌套", prev.field))
				}
			}
			seen = append(seen, outDir{field: field, dir: abs})
		}
	}
	return nil
}

// within 报告 child 是否等于 parent 或位于其下。
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (o Options) validate() error {
	if _, ok := supportedCompressLevels[strings.ToLower(o.CompressOptions.Level)]; !ok {
		return newFieldError("Options.CompressOptions.Level", "仅支持 default/best-speed/best-compression")
	}
	if o.UseCors && o.CorsOptions.AllowCredentials {
		for _, origin := range o.CorsOptions.AllowOrigins {
			if strings.TrimSpace(origin) == "*" {
				return newFieldError("Options.CorsOptions.AllowOrigins", "AllowCredentials 不能与 * 同时使用")
			}
		}
		if len(o.CorsOptions.AllowOrigins) == 0 {
			return newFieldError("Options.CorsOptions.AllowOrigins", "AllowCredentials 需要显式列出来源")
		}
	}
	if o.Session.Use && strings.TrimSpace(o.Session.Key) == "" {
		return newFieldError("Options.Session.Key", "启用会话时不能为空")
	}
	return nil
}
