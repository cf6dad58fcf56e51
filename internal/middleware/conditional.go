package middleware

import (
	"github.com/gofiber/fiber/v3"

	"github.com/velop/velop/internal/livereload"
)

// conditionalGet 在下游设置了 ETag/Last-Modified 后判断缓存是否仍新鲜，新鲜则回复 304。
func conditionalGet() fiber.Handler {
	return func(c fiber.Ctx) error {
		if livereload.IsStreamRequest(c) {
			return c.Next()
		}
		if err := c.Next(); err != nil {
			return err
		}
		if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
			return nil
		}
		status := c.Response().StatusCode()
		if status != fiber.StatusNotModified && (status < 200 || status >= 300) {
			return nil
		}
		if c.Fresh() {
			c.Status(fiber.StatusNotModified)
			c.Response().ResetBody()
		}
		return nil
	}
}
