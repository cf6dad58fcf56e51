// Package livereload fans build notifications out to browsers over
// server-sent events.
package livereload

import (
	"bufio"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/valyala/fasthttp"
)

// Suffix 是 SSE 通知端点相对 client PublicPath 的最后一段路径。
const Suffix = "__velop_reload"

// IsStreamRequest 判断请求是否指向通知端点。缓冲整个响应体的中间件
// （压缩、ETag）必须跳过这类请求，否则事件流永远无法送达。
func IsStreamRequest(c fiber.Ctx) bool {
	return path.Base(c.Path()) == Suffix
}

// KeepAlive 是无事件时发送注释行的间隔，防止代理断开空闲连接。
var KeepAlive = 15 * time.Second

// Message 是一条 SSE 事件。
type Message struct {
	Event string
	Data  string
}

// Hub 维护订阅者集合，Publish 不会因慢订阅者阻塞。
type Hub struct {
	mu      sync.Mutex
	clients map[chan Message]struct{}
	closed  bool
}

// NewHub 构造空的 Hub。
func NewHub() *Hub {
	return &Hub{clients: map[chan Message]struct{}{}}
}

// Subscribe 注册订阅者，返回的函数用于取消订阅。
func (h *Hub) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, 8)
	h.mu.Lock()
	if h.closed {
		close(ch)
		h.mu.Unlock()
		return ch, func() {}
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Publish 向所有订阅者广播事件；缓冲已满的订阅者会丢弃本条事件。
func (h *Hub) Publish(event, data string) {
	msg := Message{Event: event, Data: data}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Clients 返回当前订阅者数量。
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close 结束所有订阅，之后的订阅立即收到关闭的通道。
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

// Handler 返回 text/event-stream 处理函数。
func (h *Hub) Handler() fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.RequestCtx().SetBodyStreamWriter(h.streamWriter())
		return nil
	}
}

// streamWriter 订阅 Hub，并在连接结束时退订。
func (h *Hub) streamWriter() fasthttp.StreamWriter {
	ch, cancel := h.Subscribe()
	return func(w *bufio.Writer) {
		defer cancel()
		Stream(w, ch, KeepAlive)
	}
}

// Stream 将事件写入 w，直到通道关闭或写入失败。
func Stream(w *bufio.Writer, ch <-chan Message, keepAlive time.Duration) {
	if _, err := w.WriteString(": connected\n\n"); err != nil {
		return
	}
	if err := w.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.WriteString(Format(msg)); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return
			}
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// Format 按 SSE 线格式编码事件，多行数据拆为多条 data 行。
func Format(msg Message) string {
	var b strings.Builder
	if msg.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", msg.Event)
	}
	for _, line := range strings.Split(msg.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return b.String()
}
