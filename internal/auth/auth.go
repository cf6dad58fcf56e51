// Package auth holds the authentication strategies a route may require.
//
// A Passport is configured once per start through InitStrategies. Routes do
// not talk to strategies directly; they receive a Gate that authenticates the
// request and yields the user handed to the renderer.
package auth

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/velop/velop/internal/config"
)

// Gate 校验一次请求并返回认证用户；失败时返回应直接响应给客户端的错误。
type Gate func(c fiber.Ctx) (any, error)

// Strategy 是一种认证方式。
type Strategy interface {
	Name() string
	Authenticate(c fiber.Ctx) (any, error)
}

// Passport 管理已初始化的认证策略。
type Passport struct {
	cfg    *config.Config
	logger *logrus.Logger

	mu         sync.RWMutex
	custom     []Strategy
	strategies map[string]Strategy
}

// NewPassport 构造 Passport，InitStrategies 之前不提供任何策略。
func NewPassport(cfg *config.Config, logger *logrus.Logger) *Passport {
	return &Passport{cfg: cfg, logger: logger, strategies: map[string]Strategy{}}
}

// Use 注册额外的自定义策略，在下一次 InitStrategies 时生效。
func (p *Passport) Use(strategy Strategy) {
	p.mu.Lock()
	p.custom = append(p.custom, strategy)
	p.mu.Unlock()
}

// InitStrategies 根据配置重建策略表：启用会话时提供 session，配置了账号时提供 basic。
func (p *Passport) InitStrategies() {
	strategies := map[string]Strategy{}
	if p.cfg.Options.Session.Use {
		strategies[StrategySession] = SessionStrategy{}
	}
	if len(p.cfg.Auth.Users) > 0 {
		strategies[StrategyBasic] = NewBasicStrategy(p.cfg.Auth)
	}

	p.mu.Lock()
	for _, s := range p.custom {
		strategies[s.Name()] = s
	}
	p.strategies = strategies
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"action":     "auth_init",
		"strategies": p.Strategies(),
	}).Debug("authentication strategies ready")
}

// Strategies 返回已初始化的策略名称。
func (p *Passport) Strategies() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.strategies))
	for name := range p.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Strategy 查找已初始化的策略。
func (p *Passport) Strategy(name string) (Strategy, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.strategies[name]
	return s, ok
}

// Gate 返回指定策略的路由守卫；name 为空时返回 nil（路由不需要认证）。
func (p *Passport) Gate(name string) (Gate, error) {
	if name == "" {
		return nil, nil
	}
	strategy, ok := p.Strategy(name)
	if !ok {
		return nil, fmt.Errorf("auth strategy %s is not initialized", name)
	}
	return strategy.Authenticate, nil
}
