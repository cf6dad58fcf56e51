// Package render turns a compiled server bundle into a render function.
//
// A server bundle is a CommonJS module whose export is either a function or an
// object with a render (or default) function. The function receives a plain
// request object and returns an HTML string, an object with status, headers and
// html fields, or a promise of either.
package render

import (
	"context"
	"errors"
)

// ErrNoRenderFunction 表示 bundle 没有导出可调用的渲染函数。
var ErrNoRenderFunction = errors.New("server bundle does not export a render function")

// ClientStats 是传给渲染函数的 client 构建信息，页面据此输出 script/link 标签。
type ClientStats struct {
	PublicPath string   `json:"publicPath"`
	Assets     []string `json:"assets"`
}

// Request 是渲染函数可见的请求快照。
type Request struct {
	URL         string            `json:"url"`
	Path        string            `json:"path"`
	Method      string            `json:"method"`
	Query       map[string]string `json:"query"`
	Headers     map[string]string `json:"headers"`
	User        any               `json:"user"`
	State       map[string]any    `json:"state"`
	ClientStats ClientStats       `json:"clientStats"`
	StaticFiles []string          `json:"staticFiles"`
}

// Result 是一次渲染的输出。Status 为 0 时按 200 处理。
type Result struct {
	Status  int
	Headers map[string]string
	HTML    string
}

// Func 渲染一次请求。
type Func func(ctx context.Context, req Request) (Result, error)

// Loader 根据产物路径（或源码）得到渲染函数。
type Loader interface {
	Load(path string) (Func, error)
	LoadSource(name string, source []byte) (Func, error)
}
