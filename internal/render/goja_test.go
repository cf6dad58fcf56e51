package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/velop/velop/internal/logging"
)

func newLoader() *GojaLoader {
	return NewGojaLoader(GojaOptions{Logger: logging.Discard(), Timeout: time.Second})
}

func TestLoadSourceFunctionExport(t *testing.T) {
	fn, err := newLoader().LoadSource("server.js", []byte(`
module.exports = function (ctx) {
  return "<div>" + ctx.url + " " + ctx.clientStats.assets.join(",") + "</div>";
};`))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	result, err := fn(context.Background(), Request{URL: "/about?x=1", ClientStats: ClientStats{PublicPath: "/", Assets: []string{"app.js"}}})
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if result.Status != 200 || result.HTML != "<div>/about?x=1 app.js</div>" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestLoadSourceObjectExports(t *testing.T) {
	cases := map[string]string{
		"render":         `exports.render = function (ctx) { return {status: 201, headers: {"X-Render": "yes"}, html: ctx.method}; };`,
		"default":        `module.exports = {default: function (ctx) { return {status: 201, headers: {"X-Render": "yes"}, html: ctx.method}; }};`,
		"default.render": `module.exports = {default: {render: function (ctx) { return {status: 201, headers: {"X-Render": "yes"}, html: ctx.method}; }}};`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			fn, err := newLoader().LoadSource(name, []byte(src))
			if err != nil {
				t.Fatalf("load error: %v", err)
			}
			result, err := fn(context.Background(), Request{Method: "GET"})
			if err != nil {
				t.Fatalf("render error: %v", err)
			}
			if result.Status != 201 || result.HTML != "GET" || result.Headers["X-Render"] != "yes" {
				t.Fatalf("unexpected result %+v", result)
			}
		})
	}
}

func TestLoadSourcePromise(t *testing.T) {
	fn, err := newLoader().LoadSource("async.js", []byte(`
module.exports = async function (ctx) { return "<p>" + ctx.state.title + "</p>"; };`))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	result, err := fn(context.Background(), Request{State: map[string]any{"title": "hi"}})
	if err != nil {
		t.Fatalf("render error: %v", err)
	}
	if result.HTML != "<p>hi</p>" {
		t.Fatalf("unexpected html %q", result.HTML)
	}

	rejecting, err := newLoader().LoadSource("reject.js", []byte(`module.exports = async function () { throw new Error("boom"); };`))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if _, err := rejecting(context.Background(), Request{}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestLoadSourceWithoutFunction(t *testing.T) {
	_, err := newLoader().LoadSource("empty.js", []byte(`module.exports = {answer: 42};`))
	if !errors.Is(err, ErrNoRenderFunction) {
		t.Fatalf("expected ErrNoRenderFunction, got %v", err)
	}
}

func TestLoadSourceSyntaxError(t *testing.T) {
	if _, err := newLoader().LoadSource("broken.js", []byte(`module.exports = function (`)); err == nil {
		t.Fatalf("expected syntax error")
	}
}

func TestRenderThrows(t *testing.T) {
	fn, err := newLoader().LoadSource("throw.js", []byte(`module.exports = function () { throw new Error("render exploded"); };`))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if _, err := fn(context.Background(), Request{}); err == nil || !strings.Contains(err.Error(), "render exploded") {
		t.Fatalf("expected thrown error, got %v", err)
	}
}

func TestRenderTimeoutInterruptsAndRecovers(t *testing.T) {
	fn, err := NewGojaLoader(GojaOptions{Logger: logging.Discard(), Timeout: 50 * time.Millisecond}).LoadSource("loop.js", []byte(`
module.exports = function (ctx) { if (ctx.path === "/spin") { for (;;) {} } return "ok"; };`))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if _, err := fn(context.Background(), Request{Path: "/spin"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	result, err := fn(context.Background(), Request{Path: "/"})
	if err != nil || result.HTML != "ok" {
		t.Fatalf("vm should be reusable after interrupt: %+v %v", result, err)
	}
}

func TestRenderSerializesConcurrentCalls(t *testing.T) {
	fn, err := newLoader().LoadSource("counter.js", []byte(`
var n = 0;
module.exports = function () { n++; return String(n); };`))
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fn(context.Background(), Request{}); err != nil {
				t.Errorf("render error: %v", err)
			}
		}()
	}
	wg.Wait()
	result, err := fn(context.Background(), Request{})
	if err != nil || result.HTML != "21" {
		t.Fatalf("unexpected counter %+v %v", result, err)
	}
}

func TestLoadFromDiskAndProcessEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.js")
	if err := os.WriteFile(path, []byte(`console.log("loaded"); module.exports = function () { return process.env.NODE_ENV + ":" + process.env.REGION; };`), 0o644); err != nil {
		t.Fatalf("write error: %v", err)
	}
	fn, err := NewGojaLoader(GojaOptions{Logger: logging.Discard(), Env: map[string]string{"REGION": "eu"}}).Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	result, err := fn(context.Background(), Request{})
	if err != nil || result.HTML != "production:eu" {
		t.Fatalf("unexpected result %+v %v", result, err)
	}

	if _, err := newLoader().Load(filepath.Join(t.TempDir(), "missing.js")); err == nil {
		t.Fatalf("expected error for missing bundle")
	}
}
