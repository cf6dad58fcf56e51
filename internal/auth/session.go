package auth

import (
	"github.com/gofiber/fiber/v3"

	"github.com/velop/velop/internal/middleware"
)

const (
	StrategySession = "session"
	// SessionUserKey 是会话中保存登录用户的字段。
	SessionUserKey = "user"
)

// SessionStrategy 要求会话中已有登录用户。
type SessionStrategy struct{}

func (SessionStrategy) Name() string { return StrategySession }

func (SessionStrategy) Authenticate(c fiber.Ctx) (any, error) {
	sess, ok := middleware.SessionFrom(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "session_required")
	}
	user := sess.Get(SessionUserKey)
	if user == nil {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthenticated")
	}
	return user, nil
}

// Login 将用户写入会话。
func Login(c fiber.Ctx, user any) bool {
	sess, ok := middleware.SessionFrom(c)
	if !ok {
		return false
	}
	sess.Set(SessionUserKey, user)
	return true
}

// Logout 清空会话。
func Logout(c fiber.Ctx) {
	if sess, ok := middleware.SessionFrom(c); ok {
		sess.Destroy()
	}
}
