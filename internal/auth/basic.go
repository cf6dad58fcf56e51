package auth

import (
	"encoding/base64"
	"strings"

	"github.com/gofiber/fiber/v3"
	"golang.org/x/crypto/bcrypt"

	"github.com/velop/velop/internal/config"
)

const StrategyBasic = "basic"

// BasicStrategy 使用 HTTP Basic 认证，密码以 bcrypt 摘要比对。
type BasicStrategy struct {
	realm string
	users map[string][]byte
}

// NewBasicStrategy 基于配置中的账号构造策略。
func NewBasicStrategy(cfg config.AuthConfig) *BasicStrategy {
	users := make(map[string][]byte, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Name] = []byte(u.PasswordHash)
	}
	return &BasicStrategy{realm: cfg.Realm, users: users}
}

func (s *BasicStrategy) Name() string { return StrategyBasic }

func (s *BasicStrategy) Authenticate(c fiber.Ctx) (any, error) {
	name, password, ok := parseBasic(c.Get(fiber.HeaderAuthorization))
	if ok && s.Verify(name, password) {
		return name, nil
	}
	c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="`+s.realm+`"`)
	return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthenticated")
}

// Verify 校验账号密码。
func (s *BasicStrategy) Verify(name, password string) bool {
	hash, ok := s.users[name]
	if !ok {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
}

func parseBasic(header string) (string, string, bool) {
	const prefix = "basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	name, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	return name, password, true
}
