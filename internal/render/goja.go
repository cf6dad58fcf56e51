package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/sirupsen/logrus"
)

// DefaultTimeout 限制单次渲染的执行时间。
const DefaultTimeout = 5 * time.Second

// GojaOptions 配置 goja 加载器。
type GojaOptions struct {
	Timeout time.Duration
	Logger  *logrus.Logger
	// Env 注入为 process.env，供 bundle 中未被编译期替换的引用读取。
	Env map[string]string
}

// GojaLoader 在纯 Go 的 ECMAScript 虚拟机中执行服务端 bundle。
// 每个加载的模块独占一个 VM，并以互斥锁串行化调用。
type GojaLoader struct {
	opts GojaOptions
}

// NewGojaLoader 构造加载器。
func NewGojaLoader(opts GojaOptions) *GojaLoader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &GojaLoader{opts: opts}
}

// Load 读取磁盘上的 bundle 并加载。
func (l *GojaLoader) Load(path string) (Func, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取渲染入口失败: %w", err)
	}
	return l.LoadSource(path, source)
}

// LoadSource 执行 bundle 源码并返回其导出的渲染函数。
func (l *GojaLoader) LoadSource(name string, source []byte) (Func, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	module := vm.NewObject()
	exports := vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := vm.Set("module", module); err != nil {
		return nil, err
	}
	if err := vm.Set("exports", exports); err != nil {
		return nil, err
	}
	if err := l.installGlobals(vm, name); err != nil {
		return nil, err
	}

	if _, err := vm.RunScript(name, string(source)); err != nil {
		return nil, fmt.Errorf("执行服务端 bundle %s 失败: %w", name, err)
	}

	fn, err := resolveExport(vm, module.Get("exports"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	m := &vmModule{vm: vm, fn: fn, timeout: l.opts.Timeout}
	return m.render, nil
}

func (l *GojaLoader) installGlobals(vm *goja.Runtime, name string) error {
	logger := l.opts.Logger.WithFields(logrus.Fields{"action": "ssr_console", "bundle": name})
	console := vm.NewObject()
	logFn := func(level logrus.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			logger.Log(level, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}
	for method, level := range map[string]logrus.Level{
		"log":   logrus.InfoLevel,
		"info":  logrus.InfoLevel,
		"debug": logrus.DebugLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
	} {
		if err := console.Set(method, logFn(level)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	env := map[string]string{"NODE_ENV": "production"}
	for k, v := range l.opts.Env {
		env[k] = v
	}
	process := vm.NewObject()
	if err := process.Set("env", env); err != nil {
		return err
	}
	return vm.Set("process", process)
}

// resolveExport 依次识别 module.exports 本身、.render 与 .default。
func resolveExport(vm *goja.Runtime, exported goja.Value) (goja.Callable, error) {
	if fn, ok := goja.AssertFunction(exported); ok {
		return fn, nil
	}
	if exported == nil || goja.IsUndefined(exported) || goja.IsNull(exported) {
		return nil, ErrNoRenderFunction
	}
	obj := exported.ToObject(vm)
	for _, key := range []string{"render", "default"} {
		candidate := obj.Get(key)
		if candidate == nil {
			continue
		}
		if fn, ok := goja.AssertFunction(candidate); ok {
			return fn, nil
		}
		if inner, ok := candidate.(*goja.Object); ok && key == "default" {
			if fn, ok := goja.AssertFunction(inner.Get("render")); ok {
				return fn, nil
			}
		}
	}
	return nil, ErrNoRenderFunction
}

type vmModule struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	fn      goja.Callable
	timeout time.Duration
}

func (m *vmModule) render(ctx context.Context, req Request) (result Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			m.vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		<-exited
		m.vm.ClearInterrupt()
		if r := recover(); r != nil {
			err = fmt.Errorf("render panic: %v", r)
		}
	}()

	value, err := m.fn(goja.Undefined(), m.vm.ToValue(requestObject(req)))
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return Result{}, fmt.Errorf("render interrupted: %w", ctx.Err())
		}
		return Result{}, fmt.Errorf("render failed: %w", err)
	}
	return toResult(value)
}

// requestObject 以 map 形式传给 VM，保证字段名与 JS 约定一致。
func requestObject(req Request) map[string]any {
	assets := make([]any, len(req.ClientStats.Assets))
	for i, a := range req.ClientStats.Assets {
		assets[i] = a
	}
	statics := make([]any, len(req.StaticFiles))
	for i, s := range req.StaticFiles {
		statics[i] = s
	}
	state := req.State
	if state == nil {
		state = map[string]any{}
	}
	return map[string]any{
		"url":     req.URL,
		"path":    req.Path,
		"method":  req.Method,
		"query":   stringMap(req.Query),
		"headers": stringMap(req.Headers),
		"user":    req.User,
		"state":   state,
		"clientStats": map[string]any{
			"publicPath": req.ClientStats.PublicPath,
			"assets":     assets,
		},
		"staticFiles": statics,
	}
}

func stringMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func toResult(value goja.Value) (Result, error) {
	if promise, ok := value.Export().(*goja.Promise); ok {
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			value = promise.Result()
		case goja.PromiseStateRejected:
			return Result{}, fmt.Errorf("render rejected: %s", promise.Result().String())
		default:
			return Result{}, errors.New("render promise did not settle")
		}
	}

	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return Result{}, errors.New("render returned no output")
	}

	switch exported := value.Export().(type) {
	case string:
		return Result{Status: 200, HTML: exported}, nil
	case map[string]any:
		result := Result{Status: 200}
		if status, ok := exported["status"]; ok {
			code, err := toInt(status)
			if err != nil {
				return Result{}, err
			}
			result.Status = code
		}
		if html, ok := exported["html"].(string); ok {
			result.HTML = html
		}
		if headers, ok := exported["headers"].(map[string]any); ok {
			result.Headers = make(map[string]string, len(headers))
			for k, v := range headers {
				result.Headers[k] = fmt.Sprint(v)
			}
		}
		return result, nil
	default:
		return Result{}, fmt.Errorf("unsupported render output %T", exported)
	}
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case float64:
		return int(n), nil
	}
	return 0, fmt.Errorf("invalid render status %v", v)
}
