package routes

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/velop/velop/internal/auth"
	"github.com/velop/velop/internal/middleware"
	"github.com/velop/velop/internal/server"
)

// RegisterSessionRoutes 在启用会话且配置了账号时提供 /-/session 登录与登出。
func RegisterSessionRoutes(app *fiber.App, srv *server.Server) {
	if app == nil || srv == nil || !srv.Config().Options.Session.Use {
		return
	}
	strategy, ok := srv.Passport().Strategy(auth.StrategyBasic)
	if !ok {
		return
	}
	basic, ok := strategy.(*auth.BasicStrategy)
	if !ok {
		return
	}

	app.Post("/-/session", func(c fiber.Ctx) error {
		body := middleware.Body(c)
		name := fmt.Sprint(body["name"])
		password := fmt.Sprint(body["password"])
		if body == nil || !basic.Verify(name, password) {
			srv.Logger().WithFields(logrus.Fields{"action": "login", "user": name}).Warn("login rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_credentials"})
		}
		if !auth.Login(c, name) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_unavailable"})
		}
		return c.JSON(fiber.Map{"user": name})
	})

	app.Get("/-/session", func(c fiber.Ctx) error {
		user, err := auth.SessionStrategy{}.Authenticate(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthenticated"})
		}
		return c.JSON(fiber.Map{"user": user})
	})

	app.Delete("/-/session", func(c fiber.Ctx) error {
		auth.Logout(c)
		return c.SendStatus(fiber.StatusNoContent)
	})
}
