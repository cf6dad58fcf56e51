package middleware

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/velop/velop/internal/config"
)

// jsonPretty 美化 JSON 响应。Param 非空时仅在请求携带该查询参数时生效；
// 已被压缩的响应保持原样。
func jsonPretty(opts config.JSONPrettyOptions) fiber.Handler {
	indent := strings.Repeat(" ", opts.Spaces)
	return func(c fiber.Ctx) error {
		if err := c.Next(); err != nil {
			return err
		}
		if opts.Param != "" && !hasQueryKey(c, opts.Param) {
			return nil
		}
		resp := c.Response()
		if !strings.HasPrefix(string(resp.Header.ContentType()), fiber.MIMEApplicationJSON) {
			return nil
		}
		if len(resp.Header.Peek(fiber.HeaderContentEncoding)) > 0 || resp.IsBodyStream() {
			return nil
		}

		var out bytes.Buffer
		if err := json.Indent(&out, resp.Body(), "", indent); err != nil {
			return nil
		}
		resp.SetBodyRaw(out.Bytes())
		return nil
	}
}

func hasQueryKey(c fiber.Ctx, key string) bool {
	return c.Request().URI().QueryArgs().Has(key)
}
