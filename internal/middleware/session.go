package middleware

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gorilla/securecookie"
	"github.com/sirupsen/logrus"

	"github.com/velop/velop/internal/config"
)

const localKeySession = "velop.session"

// Session 是保存在签名 Cookie 中的会话数据。
type Session struct {
	values    map[string]any
	changed   bool
	destroyed bool
}

// Get 读取会话字段。
func (s *Session) Get(key string) any {
	return s.values[key]
}

// Set 写入会话字段，响应时会重新签发 Cookie。
func (s *Session) Set(key string, value any) {
	s.values[key] = value
	s.changed = true
	s.destroyed = false
}

// Delete 移除会话字段。
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.changed = true
	}
}

// Destroy 清空会话并在响应中删除 Cookie。
func (s *Session) Destroy() {
	s.values = map[string]any{}
	s.changed = false
	s.destroyed = true
}

// SessionFrom 返回当前请求的会话；未启用 session 阶段时 ok 为 false。
func SessionFrom(c fiber.Ctx) (*Session, bool) {
	sess, ok := c.Locals(localKeySession).(*Session)
	return sess, ok
}

// NewSession 构造基于 securecookie 的会话中间件，Cookie 以 Options.Session.Key 签名。
func NewSession(opts config.SessionOptions, logger *logrus.Logger) fiber.Handler {
	maxAge := opts.MaxAge.DurationValue()
	codec := securecookie.New([]byte(opts.Key), nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(maxAge / time.Second))

	return func(c fiber.Ctx) error {
		sess := &Session{values: map[string]any{}}
		if raw := c.Cookies(opts.Name); raw != "" {
			if err := codec.Decode(opts.Name, raw, &sess.values); err != nil {
				logger.WithFields(logrus.Fields{"action": "session_decode", "cookie": opts.Name}).Debug(err.Error())
				sess.values = map[string]any{}
				sess.destroyed = true
			}
		}
		c.Locals(localKeySession, sess)

		err := c.Next()

		switch {
		case sess.changed && !sess.destroyed:
			encoded, encErr := codec.Encode(opts.Name, sess.values)
			if encErr != nil {
				logger.WithFields(logrus.Fields{"action": "session_encode", "cookie": opts.Name}).Error(encErr.Error())
				break
			}
			c.Cookie(&fiber.Cookie{
				Name:     opts.Name,
				Value:    encoded,
				Path:     "/",
				MaxAge:   int(maxAge / time.Second),
				Expires:  time.Now().Add(maxAge),
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		case sess.destroyed:
			c.Cookie(&fiber.Cookie{
				Name:     opts.Name,
				Value:    "",
				Path:     "/",
				MaxAge:   -1,
				Expires:  time.Unix(0, 0),
				HTTPOnly: true,
				SameSite: fiber.CookieSameSiteLaxMode,
			})
		}
		return err
	}
}
