package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"
)

const localKeyBody = "velop.body"

// bodyParser 将 JSON 或 urlencoded 请求体解析为 map 存入 Locals，供渲染与 API 读取。
func bodyParser() fiber.Handler {
	return func(c fiber.Ctx) error {
		raw := c.Body()
		if len(raw) == 0 {
			return c.Next()
		}

		contentType := strings.ToLower(string(c.Request().Header.ContentType()))
		switch {
		case strings.HasPrefix(contentType, fiber.MIMEApplicationJSON):
			body := map[string]any{}
			if err := c.App().Config().JSONDecoder(raw, &body); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid_body")
			}
			c.Locals(localKeyBody, body)
		case strings.HasPrefix(contentType, fiber.MIMEApplicationForm):
			body := map[string]any{}
			c.Request().PostArgs().VisitAll(func(key, value []byte) {
				body[string(key)] = string(value)
			})
			c.Locals(localKeyBody, body)
		}
		return c.Next()
	}
}

// Body 返回 bodyparser 解析出的请求体；未解析时返回 nil。
func Body(c fiber.Ctx) map[string]any {
	if body, ok := c.Locals(localKeyBody).(map[string]any); ok {
		return body
	}
	return nil
}
