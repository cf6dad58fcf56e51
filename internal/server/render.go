package server

import (
	"errors"
	"path"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/velop/velop/internal/auth"
	"github.com/velop/velop/internal/bundler"
	"github.com/velop/velop/internal/logging"
	"github.com/velop/velop/internal/metrics"
	"github.com/velop/velop/internal/middleware"
	"github.com/velop/velop/internal/registry"
	"github.com/velop/velop/internal/render"
)

// renderTarget 汇总一次页面渲染所需的输入。
type renderTarget struct {
	route       *registry.Route
	gate        auth.Gate
	fn          render.Func
	client      bundler.BuildStats
	staticFiles []string
	metrics     *metrics.Metrics
	logger      *logrus.Logger
	mode        string
}

// shouldRender 判断请求是否交给渲染函数：挂载路径之内的 GET/HEAD 页面请求，
// 诊断接口与带扩展名的资源路径继续向后传递；路由开启 RenderAllPaths 时不看扩展名。
func shouldRender(c fiber.Ctx, route *registry.Route) bool {
	if c.Method() != fiber.MethodGet && c.Method() != fiber.MethodHead {
		return false
	}
	p := c.Path()
	if isDiagnosticsPath(p) || !route.Matches(p) {
		return false
	}
	if route.RenderAllPaths {
		return true
	}
	ext := path.Ext(p)
	return ext == "" || ext == ".html"
}

// serveRender 执行认证守卫、路由 Hook 与渲染函数，并写出响应。
func serveRender(c fiber.Ctx, target renderTarget) error {
	var user any
	if target.gate != nil {
		u, err := target.gate(c)
		if err != nil {
			return err
		}
		user = u
	}

	if err := target.route.RunHooks(c); err != nil {
		if errors.Is(err, registry.ErrHandled) {
			return nil
		}
		return err
	}

	req := buildRenderRequest(c, user, target)
	result, err := target.fn(c.Context(), req)
	target.metrics.IncRender(target.route.Name, err)
	if err != nil {
		fields := logging.RouteFields(target.route.Name, target.route.Mount, target.mode)
		fields["action"] = "render"
		fields["request_id"] = RequestID(c)
		fields["path"] = c.Path()
		target.logger.WithFields(fields).WithError(err).Error("render failed")
		return fiber.NewError(fiber.StatusInternalServerError, "render_failed")
	}

	status := result.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	for k, v := range result.Headers {
		c.Set(k, v)
	}
	return c.Status(status).SendString(result.HTML)
}

func buildRenderRequest(c fiber.Ctx, user any, target renderTarget) render.Request {
	headers := map[string]string{}
	for key, values := range c.GetReqHeaders() {
		headers[strings.ToLower(key)] = strings.Join(values, ", ")
	}

	state := map[string]any{"requestId": RequestID(c)}
	if body := middleware.Body(c); body != nil {
		state["body"] = body
	}

	assets := make([]string, len(target.client.Assets))
	for i, a := range target.client.Assets {
		assets[i] = target.client.PublicURL(a.Name)
	}

	return render.Request{
		URL:     c.OriginalURL(),
		Path:    c.Path(),
		Method:  c.Method(),
		Query:   c.Queries(),
		Headers: headers,
		User:    user,
		State:   state,
		ClientStats: render.ClientStats{
			PublicPath: target.client.PublicPath,
			Assets:     assets,
		},
		StaticFiles: target.staticFiles,
	}
}
