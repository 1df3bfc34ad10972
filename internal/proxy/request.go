package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/filehub/internal/server"
)

// resolveUpstreamURL 计算回源地址：覆盖头存在且非空时替换路径，
// 覆盖值自带 "?query" 时同时替换查询串，否则保留入站查询串。
// 覆盖值不做目录穿越校验，按原样拼接到 Target 路径之后。
func (f *Forwarder) resolveUpstreamURL(c fiber.Ctx, inboundPath string) *url.URL {
	upstreamPath := inboundPath
	rawQuery := string(c.Request().URI().QueryString())

	if f.pathHeader != "" {
		if override := strings.TrimSpace(c.Get(f.pathHeader)); override != "" {
			p, q, hasQuery := strings.Cut(override, "?")
			upstreamPath = p
			if hasQuery {
				rawQuery = q
			}
		}
	}
	if !strings.HasPrefix(upstreamPath, "/") {
		upstreamPath = "/" + upstreamPath
	}

	resolved := *f.target
	resolved.Path = singleJoiningSlash(f.target.Path, upstreamPath)
	resolved.RawPath = ""
	resolved.RawQuery = rawQuery
	resolved.Fragment = ""
	return &resolved
}

// buildUpstreamRequest 复制入站请求头（去掉 hop-by-hop 字段与覆盖头），
// 改写 Host 并追加 X-Forwarded-*。
func (f *Forwarder) buildUpstreamRequest(c fiber.Ctx, upstream *url.URL) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// BodyRaw 保留客户端原始编码，与透传的 Content-Encoding 保持一致。
	body := c.BodyRaw()
	req, err := http.NewRequestWithContext(ctx, c.Method(), upstream.String(), bytesReader(body))
	if err != nil {
		return nil, err
	}

	skip := []string{fiber.HeaderHost, fiber.HeaderContentLength}
	if f.pathHeader != "" {
		skip = append(skip, f.pathHeader)
	}
	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c), skip...)
	req.ContentLength = int64(len(body))

	req.Host = upstream.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())

	return req, nil
}

// copyResponseHeaders 转发上游响应头；Content-Length 由 SetBodyStream 负责。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	if headers.Get(fiber.HeaderContentType) == "" {
		c.Response().Header.SetNoDefaultContentType(true)
	}
	for key, values := range headers {
		if server.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func requestPath(c fiber.Ctx) string {
	pathVal := string(c.Request().URI().Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
