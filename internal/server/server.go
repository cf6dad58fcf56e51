package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/velop/velop/internal/artifact"
	"github.com/velop/velop/internal/auth"
	"github.com/velop/velop/internal/config"
	"github.com/velop/velop/internal/metrics"
	"github.com/velop/velop/internal/middleware"
	"github.com/velop/velop/internal/registry"
	"github.com/velop/velop/internal/render"
)

var (
	// ErrAlreadyRunning 表示 Start 在启动中或运行中被再次调用。
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNotRunning 表示 Stop 在未运行时被调用。
	ErrNotRunning = errors.New("server not running")
)

// 路由构建状态，供诊断接口输出。
const (
	RouteReady    = "ready"
	RouteBuilding = "building"
	RouteFailed   = "failed"
	RouteDisabled = "disabled"
)

type state int

const (
	stateStopped state = iota
	stateStarting
	stateRunning
)

// APIRegistrar 在渲染流水线之后、静态兜底之前注册 API 路由。
type APIRegistrar func(app *fiber.App, srv *Server)

// Options 汇总 Server 的依赖。Loader/Store/Metrics 为空时使用默认实现。
type Options struct {
	Config   *config.Config
	Logger   *logrus.Logger
	Registry *registry.Registry
	Passport *auth.Passport
	Loader   render.Loader
	Store    artifact.Store
	Metrics  *metrics.Metrics
	API      []APIRegistrar
}

// RouteStatus 描述一个路由在当前流水线中的状态。
type RouteStatus struct {
	Name   string   `json:"name"`
	Mount  string   `json:"mount"`
	Preset string   `json:"preset"`
	Auth   string   `json:"auth,omitempty"`
	State  string   `json:"state"`
	Assets []string `json:"assets,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// Server 管理监听生命周期：stopped → starting → running → stopped。
type Server struct {
	opts Options

	mu       sync.Mutex
	state    state
	app      *fiber.App
	ln       net.Listener
	pipeline *pipeline
	cancel   context.CancelFunc
	done     chan struct{}
	serveErr error
}

// New 校验依赖并构造 Server，不会绑定端口。
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("route registry is required")
	}
	if opts.Passport == nil {
		opts.Passport = auth.NewPassport(opts.Config, opts.Logger)
	}
	if opts.Loader == nil {
		opts.Loader = render.NewGojaLoader(render.GojaOptions{Logger: opts.Logger})
	}
	if opts.Store == nil {
		opts.Store = artifact.NewStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	return &Server{opts: opts}, nil
}

// Start 依次安装中间件、初始化认证策略、构建渲染流水线、API 与静态兜底，然后绑定端口。
// 失败时记录日志、返回错误，并将实例恢复为 stopped。
func (s *Server) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != stateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = stateStarting
	s.mu.Unlock()

	cfg := s.opts.Config
	logger := s.opts.Logger
	mode := cfg.Mode()
	fields := logrus.Fields{"action": "server_start", "mode": string(mode), "address": cfg.Address()}
	logger.WithFields(fields).Infof("Running in %s mode!", mode)

	watchCtx, cancel := context.WithCancel(context.Background())
	var built *pipeline
	defer func() {
		if err == nil {
			return
		}
		cancel()
		built.close()
		logger.WithFields(fields).WithError(err).Error("server start failed")
		s.mu.Lock()
		s.state = stateStopped
		s.mu.Unlock()
	}()

	app, err := NewApp(AppOptions{Logger: logger})
	if err != nil {
		return err
	}

	stages := middleware.Build(cfg, logger)
	for _, stage := range stages {
		app.Use(stage.Handler)
	}
	logger.WithFields(logrus.Fields{"action": "middleware", "stages": middleware.Names(stages)}).Debug("middleware installed")

	s.opts.Passport.InitStrategies()
	s.opts.Registry.ResetStaticFiles()

	if s.opts.Registry.Len() > 0 {
		built, err = buildPipeline(ctx, watchCtx, mode, pipelineDeps{
			cfg:      cfg,
			logger:   logger,
			registry: s.opts.Registry,
			passport: s.opts.Passport,
			loader:   s.opts.Loader,
			metrics:  s.opts.Metrics,
			store:    s.opts.Store,
		})
		if err != nil {
			return fmt.Errorf("构建渲染流水线失败: %w", err)
		}
		built.install(app)
	}

	s.mu.Lock()
	s.pipeline = built
	s.mu.Unlock()

	for _, register := range s.opts.API {
		register(app, s)
	}
	s.opts.Registry.SetupStaticRoutes(app, cfg.PublicDir)

	ln, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", cfg.Address(), err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.app = app
	s.ln = ln
	s.cancel = cancel
	s.done = done
	s.serveErr = nil
	s.state = stateRunning
	s.mu.Unlock()

	go func() {
		serveErr := app.Listener(ln, fiber.ListenConfig{DisableStartupMessage: true})
		s.mu.Lock()
		s.serveErr = serveErr
		s.mu.Unlock()
		close(done)
	}()

	logger.WithFields(logrus.Fields{"action": "listen", "url": "http://" + ln.Addr().String()}).
		Infof("Up and running at %s", cfg.URL())
	return nil
}

// Stop 关闭监听并停止开发模式的 watch。未运行时返回 ErrNotRunning。
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateRunning {
		s.mu.Unlock()
		return ErrNotRunning
	}
	app, cancel, done, built := s.app, s.cancel, s.done, s.pipeline
	s.mu.Unlock()

	cancel()
	built.close()
	err := app.ShutdownWithContext(ctx)

	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	s.mu.Lock()
	s.state = stateStopped
	s.app = nil
	s.ln = nil
	s.pipeline = nil
	s.cancel = nil
	s.mu.Unlock()

	s.opts.Logger.WithFields(logrus.Fields{"action": "server_stop"}).Info("server stopped")
	return err
}

// Running 报告服务是否处于运行状态。
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Addr 返回实际绑定的地址；未运行时为空。
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Wait 阻塞到服务 goroutine 退出，返回服务错误（正常停止时为 nil）。
func (s *Server) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return ErrNotRunning
	}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Config 返回服务配置。
func (s *Server) Config() *config.Config {
	return s.opts.Config
}

// Logger 返回服务日志实例。
func (s *Server) Logger() *logrus.Logger {
	return s.opts.Logger
}

// Registry 返回路由注册表。
func (s *Server) Registry() *registry.Registry {
	return s.opts.Registry
}

// Passport 返回认证策略管理器。
func (s *Server) Passport() *auth.Passport {
	return s.opts.Passport
}

// Metrics 返回指标集合。
func (s *Server) Metrics() *metrics.Metrics {
	return s.opts.Metrics
}

// RouteStatuses 返回注册表中每个路由在当前流水线中的状态。
func (s *Server) RouteStatuses() []RouteStatus {
	s.mu.Lock()
	built := s.pipeline
	s.mu.Unlock()

	routes := s.opts.Registry.Routes()
	result := make([]RouteStatus, 0, len(routes))
	for _, route := range routes {
		status := RouteStatus{
			Name:   route.Name,
			Mount:  route.Mount,
			Preset: route.Preset,
			Auth:   route.Auth,
			State:  RouteDisabled,
		}
		if built != nil {
			fillStatus(&status, built)
		}
		result = append(result, status)
	}
	return result
}

func fillStatus(status *RouteStatus, built *pipeline) {
	for _, b := range built.dev {
		if b.route.Name != status.Name {
			continue
		}
		state, assets, err := b.status()
		status.State = state
		status.Assets = assets
		if err != nil {
			status.Error = err.Error()
		}
		return
	}
	for _, r := range built.prod {
		if r.route.Name == status.Name {
			status.State = RouteReady
			status.Assets = r.manifest.Names()
			return
		}
	}
	if err, ok := built.disabled[status.Name]; ok {
		status.Error = err.Error()
	}
}
