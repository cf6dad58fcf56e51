// Package registry keeps the ordered list of UI routes and the static files
// their server builds produce.
package registry

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/static"

	"github.com/velop/velop/internal/bundler"
	"github.com/velop/velop/internal/config"
)

// Hook 在渲染前执行的路由级处理函数。返回 ErrHandled 表示已自行写出响应、终止后续处理。
type Hook func(c fiber.Ctx) error

// ErrHandled 由 Hook 返回，表示请求已被处理。
var ErrHandled = errors.New("request handled by hook")

// ErrStaticConflict 表示两个静态文件映射到同一个 /<basename>。
var ErrStaticConflict = errors.New("static file name already registered")

// Route 描述一个 UI 路由，注册后不可修改。
type Route struct {
	Name  string
	Mount string
	// Auth 是所需认证策略名称，空表示公开；守卫在启动时经 Passport 解析。
	Auth     string
	Preset   string
	Compiler bundler.Compiler
	Hooks    []Hook
	// RenderAllPaths 为 true 时，挂载路径下带任意扩展名的 GET/HEAD 请求也交给渲染函数。
	RenderAllPaths bool
}

// Matches 判断请求路径是否落在挂载路径之下。
func (r *Route) Matches(p string) bool {
	if r.Mount == "/" {
		return true
	}
	return p == r.Mount || strings.HasPrefix(p, r.Mount+"/")
}

// RunHooks 依次执行路由 Hook。
func (r *Route) RunHooks(c fiber.Ctx) error {
	for _, hook := range r.Hooks {
		if err := hook(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry 维护按声明顺序排列的路由，以及服务端构建产出的静态文件。
type Registry struct {
	mu      sync.RWMutex
	routes  []*Route
	byName  map[string]*Route
	statics []string
	// byBase 记录 /<basename> 到文件的映射，同名不同路径的文件会冲突。
	byBase  map[string]string
}

// New 构造空的注册表。
func New() *Registry {
	return &Registry{
		byName: map[string]*Route{},
		byBase: map[string]string{},
	}
}

// CompilerFactory 为每个路由构造编译器，便于测试注入假实现。
type CompilerFactory func(bundler.Pair) bundler.Compiler

// FromConfig 根据 [[Route]] 声明构建注册表。
func FromConfig(cfg *config.Config, factory CompilerFactory) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if factory == nil {
		return nil, errors.New("compiler factory is required")
	}

	reg := New()
	for _, rc := range cfg.Routes {
		pair, err := bundler.PairFromRoute(rc)
		if err != nil {
			return nil, err
		}
		route := &Route{
			Name:     rc.Name,
			Mount:    rc.Path,
			Auth:     rc.Auth,
			Preset:   rc.Preset,
			Compiler: factory(pair),

			RenderAllPaths: rc.RenderAllPaths,
		}
		if len(rc.Headers) > 0 {
			route.Hooks = append(route.Hooks, HeadersHook(rc.Headers))
		}
		if err := reg.Register(route); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Register 追加路由；名称重复或缺少编译器时返回错误。
func (r *Registry) Register(route *Route) error {
	if route == nil || route.Name == "" {
		return errors.New("route name required")
	}
	if route.Compiler == nil {
		return fmt.Errorf("route %s: compiler required", route.Name)
	}
	if route.Mount == "" {
		route.Mount = "/"
	}
	route.Mount = path.Clean("/" + route.Mount)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[route.Name]; exists {
		return fmt.Errorf("duplicate route %s", route.Name)
	}
	r.byName[route.Name] = route
	r.routes = append(r.routes, route)
	return nil
}

// Routes 返回注册顺序的路由列表。
func (r *Registry) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Route(nil), r.routes...)
}

// Lookup 按名称查找路由。
func (r *Registry) Lookup(name string) (*Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.byName[name]
	return route, ok
}

// Len 返回路由数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// AddStaticFile 登记服务端构建产出的非可执行文件（绝对路径）。同一文件重复登记会被忽略；
// 不同文件占用同一 /<basename> 时返回 ErrStaticConflict。
func (r *Registry) AddStaticFile(file string) error {
	base := filepath.Base(file)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byBase[base]; ok {
		if existing == file {
			return nil
		}
		return fmt.Errorf("%w: /%s is served from %s, cannot add %s", ErrStaticConflict, base, existing, file)
	}
	r.byBase[base] = file
	r.statics = append(r.statics, file)
	return nil
}

// HasStaticPath 判断请求路径是否为某个已登记静态文件的 /<basename>。
func (r *Registry) HasStaticPath(p string) bool {
	base, ok := strings.CutPrefix(p, "/")
	if !ok || base == "" || strings.Contains(base, "/") {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := r.byBase[base]
	return found
}

// StaticFiles 返回已登记的静态文件。
func (r *Registry) StaticFiles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.statics...)
}

// StaticNames 返回静态文件的基础名称，供渲染函数引用。
func (r *Registry) StaticNames() []string {
	files := r.StaticFiles()
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	return names
}

// ResetStaticFiles 清空静态文件登记，每次重新启动流水线前调用。
func (r *Registry) ResetStaticFiles() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statics = nil
	r.byBase = map[string]string{}
}

// SetupStaticRoutes 将每个静态文件挂载到 /<basename>，最后以 publicDir（若设置）兜底。
func (r *Registry) SetupStaticRoutes(app *fiber.App, publicDir string) {
	for _, file := range r.StaticFiles() {
		app.Get("/"+filepath.Base(file), func(c fiber.Ctx) error {
			return c.SendFile(file)
		})
	}
	if publicDir != "" {
		app.Use(static.New(publicDir))
	}
}

// HeadersHook 为响应追加固定头部。
func HeadersHook(headers map[string]string) Hook {
	return func(c fiber.Ctx) error {
		for k, v := range headers {
			c.Set(k, v)
		}
		return nil
	}
}
