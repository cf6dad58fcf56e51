package livereload

import (
	"bufio"
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
)

func TestFormat(t *testing.T) {
	got := Format(Message{Event: "failed", Data: "line one\nline two"})
	want := "event: failed\ndata: line one\ndata: line two\n\n"
	if got != want {
		t.Fatalf("unexpected frame %q", got)
	}
}

func TestPublishReachesSubscribers(t *testing.T) {
	hub := NewHub()
	first, cancelFirst := hub.Subscribe()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()

	if hub.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.Clients())
	}
	hub.Publish("built", "app")
	for _, ch := range []<-chan Message{first, second} {
		select {
		case msg := <-ch:
			if msg.Event != "built" || msg.Data != "app" {
				t.Fatalf("unexpected message %+v", msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("message not delivered")
		}
	}

	cancelFirst()
	cancelFirst()
	if hub.Clients() != 1 {
		t.Fatalf("expected 1 client after cancel, got %d", hub.Clients())
	}
}

func TestPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish("building", "")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestStreamWritesUntilClose(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	var buf bytes.Buffer
	finished := make(chan struct{})
	go func() {
		Stream(bufio.NewWriter(&buf), ch, time.Hour)
		close(finished)
	}()

	hub.Publish("built", "ok")
	time.Sleep(50 * time.Millisecond)
	hub.Close()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatalf("stream did not end after hub close")
	}
	out := buf.String()
	if !strings.HasPrefix(out, ": connected\n\n") || !strings.Contains(out, "event: built\ndata: ok\n\n") {
		t.Fatalf("unexpected stream output %q", out)
	}

	closedCh, _ := hub.Subscribe()
	if _, ok := <-closedCh; ok {
		t.Fatalf("subscribe after close should return a closed channel")
	}
}

func TestIsStreamRequest(t *testing.T) {
	app := fiber.New()
	app.Get("/*", func(c fiber.Ctx) error {
		if IsStreamRequest(c) {
			return c.SendString("stream")
		}
		return c.SendString("other")
	})
	cases := map[string]bool{
		"/" + Suffix:             true,
		"/assets/" + Suffix:      true,
		"/assets/app.js":         false,
		"/" + Suffix + "/nested": false,
		"/":                      false,
	}
	for p, want := range cases {
		resp, err := app.Test(httptest.NewRequest("GET", p, nil))
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if got := string(body) == "stream"; got != want {
			t.Fatalf("IsStreamRequest(%s) = %v, want %v", p, got, want)
		}
	}
}
