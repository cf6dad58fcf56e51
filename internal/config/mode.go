package config

import "strings"

// Mode 决定渲染管线在启动时走开发（watch + 内存产物）还是生产（一次编译 + 磁盘产物）路径。
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// FailurePolicy 描述生产模式下某个路由编译失败时的处理方式。
type FailurePolicy string

const (
	// FailureAbort 让整个启动失败。
	FailureAbort FailurePolicy = "abort"
	// FailureDisable 记录错误并跳过该路由，其余路由照常提供服务。
	FailureDisable FailurePolicy = "disable"
)

// Mode 根据 Environment 计算运行模式：只有 "development" 进入开发模式，其它取值均视为生产。
func (c *Config) Mode() Mode {
	if strings.EqualFold(strings.TrimSpace(c.Environment), string(ModeDevelopment)) {
		return ModeDevelopment
	}
	return ModeProduction
}

// IsDevelopment 是 Mode() == ModeDevelopment 的简写。
func (c *Config) IsDevelopment() bool {
	return c.Mode() == ModeDevelopment
}

// FailurePolicyValue 返回编译失败策略（假定 Validate 已经通过），默认 abort。
func (c *Config) FailurePolicyValue() FailurePolicy {
	policy := FailurePolicy(strings.ToLower(strings.TrimSpace(c.CompileFailure)))
	if policy == "" {
		return FailureAbort
	}
	return policy
}
