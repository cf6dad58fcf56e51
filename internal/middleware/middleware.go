// Package middleware builds the ordered list of cross-cutting request stages
// from configuration toggles. The order is fixed; a disabled toggle removes its
// stage without shifting the others.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/etag"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/sirupsen/logrus"

	"github.com/velop/velop/internal/config"
	"github.com/velop/velop/internal/livereload"
)

// Stage 是一个具名中间件。
type Stage struct {
	Name    string
	Handler fiber.Handler
}

// Build 按固定顺序生成中间件列表：
// logger → helmet → json → compress → cors → conditional+etag → session → bodyparser。
// compress 与 conditional+etag 不处理热更新事件流。
func Build(cfg *config.Config, logger *logrus.Logger) []Stage {
	opts := cfg.Options
	var stages []Stage

	if opts.LogRequests && cfg.IsDevelopment() {
		stages = append(stages, Stage{Name: "logger", Handler: requestLogger(logger)})
	}
	if opts.UseHelmet {
		stages = append(stages, Stage{Name: "helmet", Handler: helmet.New(helmetConfig(opts.HelmetOptions))})
	}
	if opts.UseJSONPretty {
		stages = append(stages, Stage{Name: "json", Handler: jsonPretty(opts.JSONPrettyOptions)})
	}
	if opts.UseCompress {
		stages = append(stages, Stage{Name: "compress", Handler: compress.New(compress.Config{
			Next:  livereload.IsStreamRequest,
			Level: compressLevel(opts.CompressOptions.Level),
		})})
	}
	if opts.UseCors {
		stages = append(stages, Stage{Name: "cors", Handler: cors.New(corsConfig(opts.CorsOptions))})
	}
	if opts.UseEtags {
		stages = append(stages,
			Stage{Name: "conditional", Handler: conditionalGet()},
			Stage{Name: "etag", Handler: etag.New(etag.Config{Next: livereload.IsStreamRequest})},
		)
	}
	if opts.Session.Use {
		if cfg.InsecureSessionKey() {
			logger.WithFields(logrus.Fields{
				"action": "session_key",
				"option": "Options.Session.Key",
			}).Warn("Using the default session key, set Options.Session.Key before deploying")
		}
		stages = append(stages, Stage{Name: "session", Handler: NewSession(opts.Session, logger)})
	}
	stages = append(stages, Stage{Name: "bodyparser", Handler: bodyParser()})

	return stages
}

// Names 返回各阶段名称，便于日志与诊断输出。
func Names(stages []Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return names
}

func helmetConfig(opts config.HelmetOptions) helmet.Config {
	return helmet.Config{
		ContentSecurityPolicy: opts.ContentSecurityPolicy,
		XFrameOptions:         opts.XFrameOptions,
		ReferrerPolicy:        opts.ReferrerPolicy,
		HSTSMaxAge:            opts.HSTSMaxAge,
	}
}

func compressLevel(level string) compress.Level {
	switch strings.ToLower(level) {
	case "best-speed":
		return compress.LevelBestSpeed
	case "best-compression":
		return compress.LevelBestCompression
	default:
		return compress.LevelDefault
	}
}

func corsConfig(opts config.CorsOptions) cors.Config {
	return cors.Config{
		AllowOrigins:     opts.AllowOrigins,
		AllowMethods:     opts.AllowMethods,
		AllowHeaders:     opts.AllowHeaders,
		ExposeHeaders:    opts.ExposeHeaders,
		AllowCredentials: opts.AllowCredentials,
		MaxAge:           opts.MaxAge,
	}
}
