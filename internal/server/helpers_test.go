package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/velop/velop/internal/auth"
	"github.com/velop/velop/internal/bundler"
	"github.com/velop/velop/internal/config"
	"github.com/velop/velop/internal/logging"
	"github.com/velop/velop/internal/registry"
)

const testServerBundle = `module.exports = function (ctx) {
  return "<html><body>" + ctx.path + "|" + ctx.clientStats.assets.join(",") + "|" + ctx.staticFiles.join(",") + "</body></html>";
};`

// fakeCompiler 以预设结果实现 bundler.Compiler。
type fakeCompiler struct {
	pair bundler.Pair

	stats *bundler.Stats
	err   error
	// initial 是 Watch 启动后立即发送的事件。
	initial []bundler.Event

	mu       sync.Mutex
	onEvent  func(bundler.Event)
	watchCtx context.Context
	compiles int
}

func (f *fakeCompiler) Pair() bundler.Pair { return f.pair }

func (f *fakeCompiler) CompileWithCallback(_ context.Context, cb func(*bundler.Stats, error)) {
	f.mu.Lock()
	f.compiles++
	f.mu.Unlock()
	go func() {
		if f.err != nil {
			cb(nil, f.err)
			return
		}
		cb(f.stats, nil)
	}()
}

func (f *fakeCompiler) Watch(ctx context.Context, onEvent func(bundler.Event)) error {
	f.mu.Lock()
	f.onEvent = onEvent
	f.watchCtx = ctx
	initial := append([]bundler.Event(nil), f.initial...)
	f.mu.Unlock()
	go func() {
		for _, ev := range initial {
			onEvent(ev)
		}
	}()
	return nil
}

func (f *fakeCompiler) emit(ev bundler.Event) {
	f.mu.Lock()
	fn := f.onEvent
	f.mu.Unlock()
	fn(ev)
}

func (f *fakeCompiler) watchDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.watchCtx.Done()
}

func testConfig(env string) *config.Config {
	return &config.Config{
		Environment:     env,
		Hostname:        "127.0.0.1",
		Port:            0,
		CompileFailure:  string(config.FailureAbort),
		ShutdownTimeout: config.Duration(5 * time.Second),
		Options: config.Options{
			Session: config.SessionOptions{Key: "test-session-key", Name: "velop.sess", MaxAge: config.Duration(time.Hour)},
		},
	}
}

func testPair(t *testing.T, name string) bundler.Pair {
	t.Helper()
	root := t.TempDir()
	return bundler.Pair{
		Client: bundler.Config{Route: name, Side: bundler.SideClient, OutDir: filepath.Join(root, "client"), PublicPath: "/"},
		Server: bundler.Config{Route: name, Side: bundler.SideServer, OutDir: filepath.Join(root, "server"), PublicPath: "/"},
	}
}

func writeOutput(t *testing.T, dir, name, body string) {
	t.Helper()
	full := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(full, []byte(body), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
}

// prodCompiler 把产物写入磁盘，模拟一次成功的生产构建。
func prodCompiler(t *testing.T, name string) *fakeCompiler {
	t.Helper()
	pair := testPair(t, name)
	writeOutput(t, pair.Client.OutDir, "app.js", "console.log('app')")
	writeOutput(t, pair.Server.OutDir, "server.js", testServerBundle)
	writeOutput(t, pair.Server.OutDir, "server.css", "body{margin:0}")
	return &fakeCompiler{
		pair: pair,
		stats: &bundler.Stats{
			Client: bundler.BuildStats{OutputPath: pair.Client.OutDir, PublicPath: "/", Assets: []bundler.Asset{{Name: "app.js"}}},
			Server: bundler.BuildStats{OutputPath: pair.Server.OutDir, PublicPath: "/", Assets: []bundler.Asset{{Name: "server.js"}, {Name: "server.css"}}},
		},
	}
}

// devStats 构造内存中的 watch 构建结果。
func devStats(pair bundler.Pair, clientJS string) *bundler.Stats {
	return &bundler.Stats{
		Client: bundler.BuildStats{
			OutputPath: pair.Client.OutDir,
			PublicPath: "/",
			Assets:     []bundler.Asset{{Name: "app.js"}},
			Files:      []bundler.File{{Name: "app.js", Contents: []byte(clientJS)}},
		},
		Server: bundler.BuildStats{
			OutputPath: pair.Server.OutDir,
			PublicPath: "/",
			Assets:     []bundler.Asset{{Name: "server.js"}},
			Files:      []bundler.File{{Name: "server.js", Contents: []byte(testServerBundle)}},
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, routes ...*registry.Route) *Server {
	t.Helper()
	reg := registry.New()
	for _, route := range routes {
		if err := reg.Register(route); err != nil {
			t.Fatalf("register error: %v", err)
		}
	}
	logger := logging.Discard()
	srv, err := New(Options{
		Config:   cfg,
		Logger:   logger,
		Registry: reg,
		Passport: auth.NewPassport(cfg, logger),
	})
	if err != nil {
		t.Fatalf("new server error: %v", err)
	}
	return srv
}

func startServer(t *testing.T, srv *Server) {
	t.Helper()
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}
	t.Cleanup(func() {
		if srv.Running() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(ctx)
		}
	})
}

func get(t *testing.T, srv *Server, target string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://"+srv.Addr()+target, nil)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", target, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}
