package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/velop/velop/internal/artifact"
	"github.com/velop/velop/internal/bundler"
	"github.com/velop/velop/internal/config"
	"github.com/velop/velop/internal/logging"
	"github.com/velop/velop/internal/registry"
	"github.com/velop/velop/internal/server"
	"github.com/velop/velop/internal/server/routes"
	"github.com/velop/velop/internal/task"
	"github.com/velop/velop/internal/version"
)

// ConfigEnv 可覆盖默认配置路径，优先级低于 --config。
const ConfigEnv = "VELOP_CONFIG"

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// usageError 表示命令行参数错误，对应退出码 2。
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行 CLI 并返回退出码，方便测试。
func run(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(stdErr, err.Error())
		var usage usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

// resolveConfigPath 按 --config > VELOP_CONFIG > velop.toml 的顺序计算配置路径。
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(ConfigEnv); env != "" {
		return env
	}
	return "velop.toml"
}

func newRootCommand() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "velop",
		Short:         "Server-side rendering host with a dev watch and prod precompile pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCommand(cmd.Context(), resolveConfigPath(configFlag))
		},
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "配置文件路径（默认 ./velop.toml，可被 VELOP_CONFIG 覆盖）")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: fmt.Errorf("解析参数失败: %w", err)}
	})

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Compile routes and start the HTTP server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serveCommand(cmd.Context(), resolveConfigPath(configFlag))
			},
		},
		&cobra.Command{
			Use:   "build",
			Short: "Run the production compile for every route and write manifests",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return buildCommand(cmd.Context(), resolveConfigPath(configFlag))
			},
		},
		&cobra.Command{
			Use:   "check-config",
			Short: "Validate the configuration and exit",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return checkConfigCommand(resolveConfigPath(configFlag))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Args:  cobra.NoArgs,
			Run: func(_ *cobra.Command, _ []string) {
				printVersion()
			},
		},
	)
	return root
}

// loadRuntime 读取配置并初始化日志，所有子命令共用。
func loadRuntime(configPath string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := logging.InitLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}

func checkConfigCommand(configPath string) error {
	cfg, logger, err := loadRuntime(configPath)
	if err != nil {
		return err
	}
	fields := logging.BaseFields("check_config", configPath)
	fields["mode"] = string(cfg.Mode())
	fields["routes"] = config.RouteNames(cfg.Routes)
	fields["result"] = "ok"
	logger.WithFields(fields).Info("配置校验通过")
	return nil
}

// compilerFactory 为每个路由构造 esbuild 编译器，开发模式下注入热更新订阅地址。
func compilerFactory(cfg *config.Config, store artifact.Store, logger *logrus.Logger) registry.CompilerFactory {
	dev := cfg.IsDevelopment()
	return func(pair bundler.Pair) bundler.Compiler {
		opts := bundler.Options{Dev: dev, Store: store, Logger: logger}
		if dev {
			opts.ReloadURL = path.Join(pair.Client.PublicPath, server.ReloadSuffix)
		}
		return bundler.NewEsbuild(pair, opts)
	}
}

func serveCommand(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, err := loadRuntime(configPath)
	if err != nil {
		return err
	}

	// 启动顺序：配置 → 路由注册表 → 产物存储 → Server（中间件、渲染流水线、API、静态兜底）。
	store := artifact.NewStore()
	reg, err := registry.FromConfig(cfg, compilerFactory(cfg, store, logger))
	if err != nil {
		return fmt.Errorf("构建路由注册表失败: %w", err)
	}

	fields := logging.BaseFields("startup", configPath)
	fields["routes"] = config.RouteNames(cfg.Routes)
	fields["address"] = cfg.Address()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	srv, err := server.New(server.Options{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Store:    store,
		API:      []server.APIRegistrar{routes.Register},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("HTTP 服务启动失败: %w", err)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Wait() }()

	select {
	case err := <-served:
		if err != nil {
			return fmt.Errorf("HTTP 服务异常退出: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{"action": "shutdown", "timeout": cfg.ShutdownTimeout.DurationValue().String()}).Info("收到退出信号")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.DurationValue())
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// buildCommand 只执行生产编译：并发构建全部路由，写出产物与 manifest.json，不监听端口。
func buildCommand(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, err := loadRuntime(configPath)
	if err != nil {
		return err
	}
	cfg.Environment = string(config.ModeProduction)

	reg, err := registry.FromConfig(cfg, compilerFactory(cfg, artifact.NewStore(), logger))
	if err != nil {
		return fmt.Errorf("构建路由注册表失败: %w", err)
	}

	logger.WithFields(logrus.Fields{"action": "build", "routes": reg.Len()}).Info("Getting files ready, this may take a while")
	started := time.Now()

	routeList := reg.Routes()
	tasks := make([]*task.Task[*bundler.Stats], len(routeList))
	for i, route := range routeList {
		tasks[i] = task.FromCallback(func(cb func(*bundler.Stats, error)) {
			route.Compiler.CompileWithCallback(parent, cb)
		})
	}
	outcomes, err := task.Settle(parent, tasks)
	if err != nil {
		return err
	}

	var errs []error
	for i, route := range routeList {
		fields := logging.RouteFields(route.Name, route.Mount, string(config.ModeProduction))
		fields["action"] = "build"
		if outcomes[i].Err != nil {
			logger.WithFields(fields).WithError(outcomes[i].Err).Error("route build failed")
			errs = append(errs, fmt.Errorf("route %s: %w", route.Name, outcomes[i].Err))
			continue
		}
		stats := outcomes[i].Value
		fields["client_assets"] = stats.Client.AssetNames()
		fields["server_assets"] = stats.Server.AssetNames()
		logger.WithFields(fields).Info("route built")
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.WithFields(logrus.Fields{"action": "build", "duration_ms": time.Since(started).Milliseconds()}).Info("build finished")
	return nil
}
