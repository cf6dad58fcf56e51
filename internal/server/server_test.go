package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/velop/velop/internal/bundler"
	"github.com/velop/velop/internal/config"
	"github.com/velop/velop/internal/registry"
)

func TestProductionServesBundleAndRender(t *testing.T) {
	cfg := testConfig(string(config.ModeProduction))
	cfg.Options.UseCors = true
	compiler := prodCompiler(t, "app")
	srv := newTestServer(t, cfg, &registry.Route{Name: "app", Mount: "/", Compiler: compiler})
	startServer(t, srv)

	resp, body := get(t, srv, "/app.js", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for bundle, got %d", resp.StatusCode)
	}
	if body != "console.log('app')" {
		t.Fatalf("unexpected bundle body: %q", body)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "javascript") {
		t.Fatalf("unexpected content type: %s", resp.Header.Get("Content-Type"))
	}

	resp, body = get(t, srv, "/", map[string]string{"Origin": "http://example.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for page, got %d", resp.StatusCode)
	}
	if body != "<html><body>/|/app.js|server.css</body></html>" {
		t.Fatalf("unexpected page: %q", body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("expected cors header")
	}

	resp, body = get(t, srv, "/server.css", nil)
	if resp.StatusCode != http.StatusOK || body != "body{margin:0}" {
		t.Fatalf("expected server static file, got %d %q", resp.StatusCode, body)
	}
	if names := srv.Registry().StaticNames(); len(names) != 1 || names[0] != "server.css" {
		t.Fatalf("unexpected static files: %v", names)
	}
}

func TestStartTwiceReturnsErrAlreadyRunning(t *testing.T) {
	srv := newTestServer(t, testConfig(string(config.ModeProduction)))
	startServer(t, srv)
	addr := srv.Addr()

	if err := srv.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if !srv.Running() || srv.Addr() != addr {
		t.Fatalf("second start must not disturb the listener")
	}
}

func TestStopBeforeStart(t *testing.T) {
	srv := newTestServer(t, testConfig(string(config.ModeProduction)))
	if err := srv.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := srv.Wait(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning from Wait, got %v", err)
	}
}

func TestStopThenRestart(t *testing.T) {
	srv := newTestServer(t, testConfig(string(config.ModeProduction)))
	startServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	if srv.Running() {
		t.Fatalf("server should be stopped")
	}
	_ = srv.Wait()
	startServer(t, srv)
	if resp, _ := get(t, srv, "/-/health", nil); resp.StatusCode != http.StatusNotFound {
		// 未注册 API 时诊断路径应落到 404。
		t.Fatalf("expected 404 without api registrars, got %d", resp.StatusCode)
	}
}

func TestProductionAbortPolicyFailsStart(t *testing.T) {
	cfg := testConfig(string(config.ModeProduction))
	compileErr := errors.New("syntax error in entry")
	good := prodCompiler(t, "good")
	bad := &fakeCompiler{pair: testPair(t, "bad"), err: compileErr}
	srv := newTestServer(t, cfg,
		&registry.Route{Name: "good", Mount: "/good", Compiler: good},
		&registry.Route{Name: "bad", Mount: "/bad", Compiler: bad},
	)

	err := srv.Start(context.Background())
	if !errors.Is(err, compileErr) {
		t.Fatalf("expected compile error, got %v", err)
	}
	if srv.Running() {
		t.Fatalf("server must not run after abort")
	}
	if err := srv.Stop(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected stopped state, got %v", err)
	}
}

func TestProductionDisablePolicySkipsRoute(t *testing.T) {
	cfg := testConfig(string(config.ModeProduction))
	cfg.CompileFailure = string(config.FailureDisable)
	good := prodCompiler(t, "good")
	bad := &fakeCompiler{pair: testPair(t, "bad"), err: errors.New("boom")}
	srv := newTestServer(t, cfg,
		&registry.Route{Name: "bad", Mount: "/bad", Compiler: bad},
		&registry.Route{Name: "good", Mount: "/good", Compiler: good},
	)
	startServer(t, srv)

	resp, body := get(t, srv, "/good", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "/good|") {
		t.Fatalf("expected good route rendered, got %d %q", resp.StatusCode, body)
	}
	if resp, _ := get(t, srv, "/bad", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected disabled route to 404, got %d", resp.StatusCode)
	}

	statuses := srv.RouteStatuses()
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].Name != "bad" || statuses[0].State != RouteDisabled || !strings.Contains(statuses[0].Error, "boom") {
		t.Fatalf("unexpected bad status: %+v", statuses[0])
	}
	if statuses[1].State != RouteReady || len(statuses[1].Assets) != 1 {
		t.Fatalf("unexpected good status: %+v", statuses[1])
	}
}

func TestProductionRejectsAmbiguousServerEntry(t *testing.T) {
	compiler := prodCompiler(t, "app")
	writeOutput(t, compiler.pair.Server.OutDir, "extra.js", "module.exports = {}")
	compiler.stats.Server.Assets = append(compiler.stats.Server.Assets, bundler.Asset{Name: "extra.js"})
	srv := newTestServer(t, testConfig(string(config.ModeProduction)), &registry.Route{Name: "app", Compiler: compiler})

	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected start failure for two executable server assets")
	}
}

func TestRoutesInstalledInRegistryOrder(t *testing.T) {
	first := prodCompiler(t, "first")
	second := prodCompiler(t, "second")
	writeOutput(t, second.pair.Server.OutDir, "server.js", `module.exports = function () { return "second"; };`)
	second.stats.Server.Assets = second.stats.Server.Assets[:1]
	srv := newTestServer(t, testConfig(string(config.ModeProduction)),
		&registry.Route{Name: "first", Mount: "/", Compiler: first},
		&registry.Route{Name: "second", Mount: "/", Compiler: second},
	)
	startServer(t, srv)

	_, body := get(t, srv, "/", nil)
	if !strings.HasPrefix(body, "<html>") {
		t.Fatalf("first registered route should win, got %q", body)
	}
}

func TestStaticBasenameConflictDisablesLaterRoute(t *testing.T) {
	cfg := testConfig(string(config.ModeProduction))
	cfg.CompileFailure = string(config.FailureDisable)
	srv := newTestServer(t, cfg,
		&registry.Route{Name: "first", Mount: "/first", Compiler: prodCompiler(t, "first")},
		&registry.Route{Name: "second", Mount: "/second", Compiler: prodCompiler(t, "second")},
	)
	startServer(t, srv)

	statuses := srv.RouteStatuses()
	if statuses[0].State != RouteReady {
		t.Fatalf("first route should be ready: %+v", statuses[0])
	}
	if statuses[1].State != RouteDisabled || !strings.Contains(statuses[1].Error, "server.css") {
		t.Fatalf("second route should be disabled by the server.css conflict: %+v", statuses[1])
	}
}

func TestStaticBasenameConflictAbortsStart(t *testing.T) {
	srv := newTestServer(t, testConfig(string(config.ModeProduction)),
		&registry.Route{Name: "first", Mount: "/first", Compiler: prodCompiler(t, "first")},
		&registry.Route{Name: "second", Mount: "/second", Compiler: prodCompiler(t, "second")},
	)
	if err := srv.Start(context.Background()); !errors.Is(err, registry.ErrStaticConflict) {
		t.Fatalf("expected ErrStaticConflict, got %v", err)
	}
}

func TestRenderAllPathsRendersDottedPaths(t *testing.T) {
	route := &registry.Route{Name: "spa", Mount: "/", Compiler: prodCompiler(t, "spa"), RenderAllPaths: true}
	srv := newTestServer(t, testConfig(string(config.ModeProduction)), route)
	startServer(t, srv)

	resp, body := get(t, srv, "/u/john.doe", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "/u/john.doe|") {
		t.Fatalf("expected dotted path rendered, got %d %q", resp.StatusCode, body)
	}
	if _, body := get(t, srv, "/app.js", nil); body != "console.log('app')" {
		t.Fatalf("client asset must still win over the renderer, got %q", body)
	}
	if _, body := get(t, srv, "/server.css", nil); body != "body{margin:0}" {
		t.Fatalf("server static file must still win over the renderer, got %q", body)
	}
}

func TestRenderHandlerPassesThroughNonPageRequests(t *testing.T) {
	srv := newTestServer(t, testConfig(string(config.ModeProduction)), &registry.Route{Name: "app", Mount: "/", Compiler: prodCompiler(t, "app")})
	startServer(t, srv)

	if resp, _ := get(t, srv, "/missing.png", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected asset miss to fall through to 404, got %d", resp.StatusCode)
	}
	resp, body := get(t, srv, "/about.html", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "/about.html|") {
		t.Fatalf("expected html path rendered, got %d %q", resp.StatusCode, body)
	}
}

func TestRouteHeadersHook(t *testing.T) {
	route := &registry.Route{Name: "app", Compiler: prodCompiler(t, "app")}
	route.Hooks = append(route.Hooks, registry.HeadersHook(map[string]string{"X-Frame": "app"}))
	srv := newTestServer(t, testConfig(string(config.ModeProduction)), route)
	startServer(t, srv)

	resp, _ := get(t, srv, "/", nil)
	if resp.Header.Get("X-Frame") != "app" {
		t.Fatalf("expected hook header, got %v", resp.Header)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestBasicAuthGate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt error: %v", err)
	}
	cfg := testConfig(string(config.ModeProduction))
	cfg.Auth.Realm = "velop"
	cfg.Auth.Users = []config.AuthUser{{Name: "admin", PasswordHash: string(hash)}}
	srv := newTestServer(t, cfg, &registry.Route{Name: "admin", Auth: "basic", Compiler: prodCompiler(t, "admin")})
	startServer(t, srv)

	resp, _ := get(t, srv, "/", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("WWW-Authenticate"), "velop") {
		t.Fatalf("expected realm challenge, got %q", resp.Header.Get("WWW-Authenticate"))
	}

	req, _ := http.NewRequest(http.MethodGet, "http://"+srv.Addr()+"/", nil)
	req.SetBasicAuth("admin", "s3cret")
	ok, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", ok.StatusCode)
	}
}

func TestStartFailureOnBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	defer ln.Close()

	cfg := testConfig(string(config.ModeDevelopment))
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	compiler := &fakeCompiler{pair: testPair(t, "app")}
	compiler.initial = []bundler.Event{{Kind: bundler.EventDone, Stats: devStats(compiler.pair, "dev()")}}
	srv := newTestServer(t, cfg, &registry.Route{Name: "app", Compiler: compiler})

	if err := srv.Start(context.Background()); err == nil {
		t.Fatalf("expected bind failure")
	}
	if srv.Running() {
		t.Fatalf("server must be stopped after failed start")
	}
	select {
	case <-compiler.watchDone():
	case <-time.After(2 * time.Second):
		t.Fatalf("watch context should be cancelled after failed start")
	}
}
