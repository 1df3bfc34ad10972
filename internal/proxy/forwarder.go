// Package proxy forwards requests the static stage could not answer to a
// single upstream origin and streams the upstream response back verbatim.
// When a cache.Writer is configured, 200 GET bodies are teed into it so a
// decoded copy lands on disk without delaying the client.
package proxy

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/filehub/internal/cache"
	"github.com/any-hub/filehub/internal/server"
)

// Exchange 描述一次回源往返，供 ExchangeHook 记录。
type Exchange struct {
	RequestID string
	Method    string
	// Path 为入站请求路径；Upstream 为实际请求的上游 URL。
	Path     string
	Upstream string
	// Elapsed 截止到收到上游响应头（或连接失败）。
	Elapsed time.Duration
}

// ExchangeHook 在每次回源后调用；连接失败时 resp 为 nil。
type ExchangeHook func(ex Exchange, resp *http.Response, err error)

// Options 配置 Forwarder。
type Options struct {
	Target *url.URL
	// PathHeader 为空时不支持按请求覆盖回源路径。
	PathHeader string
	Client     *http.Client
	Hook       ExchangeHook
	// Cache 为 nil 时不写磁盘缓存。
	Cache *cache.Writer
}

// Forwarder 是代理 Stage，总是返回 Handled。
type Forwarder struct {
	target     *url.URL
	pathHeader string
	client     *http.Client
	hook       ExchangeHook
	cache      *cache.Writer
	now        func() time.Time
}

// NewForwarder 创建 Forwarder，Target 必须是带 scheme 与 host 的绝对地址。
func NewForwarder(opts Options) (*Forwarder, error) {
	if opts.Target == nil || opts.Target.Scheme == "" || opts.Target.Host == "" {
		return nil, errors.New("proxy target must be an absolute URL")
	}
	client := opts.Client
	if client == nil {
		client = server.NewUpstreamClient(nil)
	}
	hook := opts.Hook
	if hook == nil {
		hook = func(Exchange, *http.Response, error) {}
	}
	return &Forwarder{
		target:     opts.Target,
		pathHeader: strings.TrimSpace(opts.PathHeader),
		client:     client,
		hook:       hook,
		cache:      opts.Cache,
		now:        time.Now,
	}, nil
}

// Serve 实现 server.Stage：回源并把状态码、响应头与正文原样转发。
// 上游连接失败返回 502 {"error":"upstream_failed"}，不重试。
func (f *Forwarder) Serve(c fiber.Ctx) (server.Outcome, error) {
	started := f.now()
	requestID := server.RequestID(c)
	inboundPath := requestPath(c)

	upstreamURL := f.resolveUpstreamURL(c, inboundPath)
	exchange := Exchange{
		RequestID: requestID,
		Method:    c.Method(),
		Path:      inboundPath,
		Upstream:  upstreamURL.String(),
	}

	req, err := f.buildUpstreamRequest(c, upstreamURL)
	if err != nil {
		exchange.Elapsed = f.now().Sub(started)
		f.hook(exchange, nil, err)
		return server.Handled, writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	resp, err := f.client.Do(req)
	exchange.Elapsed = f.now().Sub(started)
	if err != nil {
		f.hook(exchange, nil, err)
		return server.Handled, writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	f.hook(exchange, resp, nil)

	return server.Handled, f.relay(c, resp, inboundPath, requestID)
}

// relay 复制响应头并把正文交给 fasthttp 流式发送；正文在发送完毕后由 fasthttp 关闭。
func (f *Forwarder) relay(c fiber.Ctx, resp *http.Response, inboundPath, requestID string) error {
	copyResponseHeaders(c, resp.Header)
	c.Status(resp.StatusCode)

	body := resp.Body
	if f.cache != nil {
		body = f.cache.Observe(resp, cache.RequestInfo{
			ID:     requestID,
			Method: c.Method(),
			Path:   inboundPath,
			URL:    c.OriginalURL(),
			Header: fiberHeadersAsHTTP(c),
		}, cache.ResponseInfo{
			Status: resp.StatusCode,
			Header: resp.Header.Clone(),
		})
	}

	if c.Method() == fiber.MethodHead {
		body.Close()
		if resp.ContentLength >= 0 {
			c.Response().Header.SetContentLength(int(resp.ContentLength))
		}
		return nil
	}

	c.Response().SetBodyStream(body, int(resp.ContentLength))
	return nil
}

func writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}
