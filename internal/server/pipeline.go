package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/velop/velop/internal/artifact"
	"github.com/velop/velop/internal/auth"
	"github.com/velop/velop/internal/bundler"
	"github.com/velop/velop/internal/config"
	"github.com/velop/velop/internal/logging"
	"github.com/velop/velop/internal/metrics"
	"github.com/velop/velop/internal/registry"
	"github.com/velop/velop/internal/render"
	"github.com/velop/velop/internal/task"
)

type pipelineDeps struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *registry.Registry
	passport *auth.Passport
	loader   render.Loader
	metrics  *metrics.Metrics
	store    artifact.Store
}

// pipeline 是一次启动构建出的渲染流水线；处理函数按注册表顺序安装。
type pipeline struct {
	mode     config.Mode
	dev      []*devBridge
	prod     []prodRoute
	disabled map[string]error
}

func (p *pipeline) install(app *fiber.App) {
	for _, b := range p.dev {
		b.install(app)
	}
	for _, r := range p.prod {
		r.install(app)
	}
}

func (p *pipeline) close() {
	if p == nil {
		return
	}
	for _, b := range p.dev {
		b.close()
	}
}

// buildPipeline 按模式构建流水线。watchCtx 持续到服务停止，开发模式的 watch 依附于它。
func buildPipeline(ctx, watchCtx context.Context, mode config.Mode, deps pipelineDeps) (*pipeline, error) {
	if mode == config.ModeDevelopment {
		return buildDevPipeline(ctx, watchCtx, deps)
	}
	return buildProdPipeline(ctx, deps)
}

// buildDevPipeline 并发启动各路由的 watch 构建，待每个路由首次完成（成功或失败）后返回。
func buildDevPipeline(ctx, watchCtx context.Context, deps pipelineDeps) (*pipeline, error) {
	p := &pipeline{mode: config.ModeDevelopment}
	routes := deps.registry.Routes()
	tasks := make([]*task.Task[struct{}], 0, len(routes))

	for _, route := range routes {
		gate, err := deps.passport.Gate(route.Auth)
		if err != nil {
			p.close()
			return nil, fmt.Errorf("route %s: %w", route.Name, err)
		}
		bridge := newDevBridge(watchCtx, route, gate, deps)
		p.dev = append(p.dev, bridge)

		if err := route.Compiler.Watch(watchCtx, bridge.onEvent); err != nil {
			p.close()
			return nil, fmt.Errorf("route %s: 启动 watch 失败: %w", route.Name, err)
		}
		tasks = append(tasks, task.Go(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, bridge.waitFirst(ctx)
		}))
	}

	if _, err := task.All(ctx, tasks); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// buildProdPipeline 并发执行一次性编译，按注册表顺序组装处理函数并应用编译失败策略。
func buildProdPipeline(ctx context.Context, deps pipelineDeps) (*pipeline, error) {
	mode := string(config.ModeProduction)
	deps.logger.WithFields(logrus.Fields{"action": "compile", "mode": mode, "routes": deps.registry.Len()}).
		Info("Getting files ready, this may take a while")

	compileCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	routes := deps.registry.Routes()
	tasks := make([]*task.Task[*bundler.Stats], len(routes))
	for i, route := range routes {
		started := time.Now()
		tasks[i] = task.FromCallback(func(cb func(*bundler.Stats, error)) {
			route.Compiler.CompileWithCallback(compileCtx, func(stats *bundler.Stats, err error) {
				deps.metrics.ObserveCompile(route.Name, mode, time.Since(started), err)
				if err != nil {
					err = fmt.Errorf("route %s: %w", route.Name, err)
				}
				cb(stats, err)
			})
		})
	}

	policy := deps.cfg.FailurePolicyValue()
	outcomes, err := awaitCompiles(compileCtx, tasks, policy)
	if err != nil {
		return nil, err
	}

	p := &pipeline{mode: config.ModeProduction, disabled: map[string]error{}}
	for i, route := range routes {
		fields := logging.RouteFields(route.Name, route.Mount, mode)
		fields["action"] = "compile"

		built, err := outcomes[i].Value, outcomes[i].Err
		var pr prodRoute
		if err == nil {
			pr, err = prodRouteFor(route, built, deps)
		}
		if err != nil {
			if policy == config.FailureAbort {
				return nil, err
			}
			p.disabled[route.Name] = err
			deps.logger.WithFields(fields).WithError(err).Error("route disabled after compile failure")
			continue
		}

		fields["assets"] = len(pr.manifest.Assets)
		deps.logger.WithFields(fields).Info("route compiled")
		p.prod = append(p.prod, pr)
	}
	return p, nil
}

func prodRouteFor(route *registry.Route, stats *bundler.Stats, deps pipelineDeps) (prodRoute, error) {
	gate, err := deps.passport.Gate(route.Auth)
	if err != nil {
		return prodRoute{}, fmt.Errorf("route %s: %w", route.Name, err)
	}
	pr, err := buildProdRoute(route, gate, stats, deps)
	if err != nil {
		return prodRoute{}, fmt.Errorf("route %s: %w", route.Name, err)
	}
	return pr, nil
}

// awaitCompiles 在 abort 策略下首个失败即返回；disable 策略下等待全部结束。
func awaitCompiles(ctx context.Context, tasks []*task.Task[*bundler.Stats], policy config.FailurePolicy) ([]task.Outcome[*bundler.Stats], error) {
	if policy != config.FailureAbort {
		return task.Settle(ctx, tasks)
	}
	values, err := task.All(ctx, tasks)
	if err != nil {
		return nil, err
	}
	outcomes := make([]task.Outcome[*bundler.Stats], len(values))
	for i, v := range values {
		outcomes[i] = task.Outcome[*bundler.Stats]{Value: v}
	}
	return outcomes, nil
}
