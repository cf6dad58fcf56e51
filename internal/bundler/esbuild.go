package bundler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/velop/velop/internal/artifact"
	"github.com/velop/velop/internal/preset"
)

// ManifestFile 是每个输出目录下记录产物列表的文件名。
const ManifestFile = "manifest.json"

// Options 控制 esbuild 编译器的运行方式。
type Options struct {
	// Dev 打开开发模式：不压缩、NODE_ENV=development、可注入热更新片段。
	Dev bool
	// ReloadURL 非空时，开发模式的 client bundle 会订阅该 SSE 地址并在重新构建后刷新页面。
	ReloadURL string
	// Debounce 是 watch 模式合并文件事件的窗口，默认 100ms。
	Debounce time.Duration
	Store    artifact.Store
	Logger   *logrus.Logger
}

// BuildError 汇总 esbuild 报告的错误信息。
type BuildError struct {
	Route    string
	Side     Side
	Messages []string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("%s %s build failed: %s", e.Route, e.Side, strings.Join(e.Messages, "; "))
}

// Esbuild 使用 esbuild Go API 实现 Compiler。
type Esbuild struct {
	pair Pair
	opts Options
}

// NewEsbuild 为一个路由构造编译器。
func NewEsbuild(pair Pair, opts Options) *Esbuild {
	if opts.Debounce <= 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.Store == nil {
		opts.Store = artifact.NewStore()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Esbuild{pair: pair, opts: opts}
}

func (b *Esbuild) Pair() Pair {
	return b.pair
}

// CompileWithCallback 并行构建 client 与 server，将产物原子写入各自的输出目录后回调。
func (b *Esbuild) CompileWithCallback(ctx context.Context, cb func(*Stats, error)) {
	go func() {
		stats, err := b.Compile(ctx)
		cb(stats, err)
	}()
}

// Compile 是 CompileWithCallback 的阻塞版本。
func (b *Esbuild) Compile(ctx context.Context) (*Stats, error) {
	if err := b.pair.CheckOutDirs(); err != nil {
		return nil, err
	}
	var stats Stats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := b.buildAndPersist(gctx, b.pair.Client)
		stats.Client = out
		return err
	})
	g.Go(func() error {
		out, err := b.buildAndPersist(gctx, b.pair.Server)
		stats.Server = out
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (b *Esbuild) buildAndPersist(ctx context.Context, cfg Config) (BuildStats, error) {
	started := time.Now()
	result := api.Build(b.buildOptions(cfg))
	stats, err := collect(cfg, result, started)
	if err != nil {
		return BuildStats{}, err
	}
	if err := b.persist(ctx, stats); err != nil {
		return BuildStats{}, fmt.Errorf("写入 %s %s 产物失败: %w", cfg.Route, cfg.Side, err)
	}
	// 生产模式下产物已落盘，丢弃内存副本。
	stats.Files = nil
	return stats, nil
}

// persist 写入本轮产物与 manifest.json，并清理上一轮遗留而本轮不再产出的文件。
func (b *Esbuild) persist(ctx context.Context, stats BuildStats) error {
	previous := readManifest(ctx, b.opts.Store, stats.OutputPath)
	now := time.Now().UTC()
	for _, file := range stats.Files {
		locator := artifact.Locator{Dir: stats.OutputPath, Name: file.Name}
		if _, err := b.opts.Store.Put(ctx, locator, bytes.NewReader(file.Contents), artifact.PutOptions{ModTime: now}); err != nil {
			return err
		}
	}

	manifest := NewManifest(stats)
	for name := range previous.Assets {
		if _, ok := manifest.Assets[name]; ok {
			continue
		}
		if err := b.opts.Store.Remove(ctx, artifact.Locator{Dir: stats.OutputPath, Name: name}); err != nil {
			return err
		}
	}

	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	_, err = b.opts.Store.Put(ctx, artifact.Locator{Dir: stats.OutputPath, Name: ManifestFile}, bytes.NewReader(body), artifact.PutOptions{ModTime: now})
	return err
}

func readManifest(ctx context.Context, store artifact.Store, dir string) Manifest {
	result, err := store.Get(ctx, artifact.Locator{Dir: dir, Name: ManifestFile})
	if err != nil {
		return Manifest{}
	}
	defer result.Reader.Close()

	var manifest Manifest
	if err := json.NewDecoder(result.Reader).Decode(&manifest); err != nil {
		return Manifest{}
	}
	return manifest
}

func (b *Esbuild) buildOptions(cfg Config) api.BuildOptions {
	meta := cfg.Preset
	opts := api.BuildOptions{
		EntryPoints: []string{cfg.Entry},
		Bundle:      true,
		Outdir:      cfg.OutDir,
		Write:       false,
		LogLevel:    api.LogLevelSilent,
		EntryNames:  "[name]",
		AssetNames:  "[name]-[hash]",
		Loader:      loaders(meta.Loaders),
		Define:      b.defines(meta.Define),
	}
	applyJSX(&opts, meta.JSX)

	switch cfg.Side {
	case SideServer:
		opts.Platform = api.PlatformNeutral
		opts.Format = api.FormatCommonJS
		opts.MainFields = []string{"module", "main"}
		opts.External = meta.ServerExternal
		opts.PublicPath = "/"
	default:
		opts.Platform = api.PlatformBrowser
		opts.Format = api.FormatIIFE
		opts.PublicPath = cfg.PublicPath
		if b.opts.Dev && b.opts.ReloadURL != "" {
			opts.Banner = map[string]string{"js": reloadSnippet(b.opts.ReloadURL)}
		}
	}

	if !b.opts.Dev {
		opts.MinifyWhitespace = true
		opts.MinifySyntax = true
		opts.MinifyIdentifiers = true
	}
	return opts
}

func (b *Esbuild) defines(base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	if b.opts.Dev {
		out["process.env.NODE_ENV"] = `"development"`
	} else {
		out["process.env.NODE_ENV"] = `"production"`
	}
	return out
}

func applyJSX(opts *api.BuildOptions, jsx preset.JSXOptions) {
	switch jsx.Mode {
	case preset.JSXAutomatic:
		opts.JSX = api.JSXAutomatic
		opts.JSXImportSource = jsx.ImportSource
	case preset.JSXTransform:
		opts.JSX = api.JSXTransform
		opts.JSXFactory = jsx.Factory
		opts.JSXFragment = jsx.Fragment
	default:
		opts.JSX = api.JSXPreserve
	}
}

var loaderNames = map[string]api.Loader{
	"js":      api.LoaderJS,
	"jsx":     api.LoaderJSX,
	"ts":      api.LoaderTS,
	"tsx":     api.LoaderTSX,
	"json":    api.LoaderJSON,
	"css":     api.LoaderCSS,
	"text":    api.LoaderText,
	"file":    api.LoaderFile,
	"dataurl": api.LoaderDataURL,
	"base64":  api.LoaderBase64,
	"binary":  api.LoaderBinary,
	"copy":    api.LoaderCopy,
	"empty":   api.LoaderEmpty,
}

func loaders(byExt map[string]string) map[string]api.Loader {
	out := make(map[string]api.Loader, len(byExt))
	for ext, name := range byExt {
		loader, ok := loaderNames[strings.ToLower(name)]
		if !ok {
			loader = api.LoaderFile
		}
		out[ext] = loader
	}
	return out
}

// collect 将 esbuild 结果转换为 BuildStats；若存在错误则返回 BuildError。
func collect(cfg Config, result api.BuildResult, started time.Time) (BuildStats, error) {
	if len(result.Errors) > 0 {
		messages := make([]string, len(result.Errors))
		for i, msg := range result.Errors {
			messages[i] = formatMessage(msg)
		}
		return BuildStats{}, &BuildError{Route: cfg.Route, Side: cfg.Side, Messages: messages}
	}

	stats := BuildStats{
		OutputPath: cfg.OutDir,
		PublicPath: cfg.PublicPath,
		Duration:   time.Since(started),
	}
	if cfg.Side == SideServer {
		stats.PublicPath = "/"
	}
	for _, out := range result.OutputFiles {
		rel, err := filepath.Rel(cfg.OutDir, out.Path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return BuildStats{}, fmt.Errorf("产物 %s 不在输出目录 %s 内", out.Path, cfg.OutDir)
		}
		name := filepath.ToSlash(rel)
		stats.Assets = append(stats.Assets, Asset{Name: name, Size: int64(len(out.Contents))})
		stats.Files = append(stats.Files, File{Name: name, Contents: out.Contents})
	}
	if len(stats.Assets) == 0 {
		return BuildStats{}, errors.New("esbuild produced no output files")
	}
	return stats, nil
}

func formatMessage(msg api.Message) string {
	if msg.Location == nil {
		return msg.Text
	}
	return fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
}

// reloadSnippet 生成开发模式注入到 client bundle 顶部的热更新订阅代码。
func reloadSnippet(url string) string {
	quoted, _ := json.Marshal(url)
	return `(function(){if(typeof EventSource==="undefined")return;var s=new EventSource(` + string(quoted) +
		`);s.addEventListener("built",function(){window.location.reload()});})();`
}
