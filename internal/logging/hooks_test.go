package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/filehub/internal/cache"
	"github.com/any-hub/filehub/internal/proxy"
	"github.com/any-hub/filehub/internal/static"
)

func TestProxyExchangeLogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	hook := ProxyExchange(NewWriterLogger(&buf, logrus.DebugLevel))

	hook(proxy.Exchange{
		RequestID: "req-1",
		Method:    http.MethodGet,
		Path:      "/variant-b.txt",
		Upstream:  "http://origin/b.txt",
		Elapsed:   15 * time.Millisecond,
	}, &http.Response{StatusCode: http.StatusOK}, nil)

	entry := decodeEntry(t, &buf)
	if entry["msg"] != "proxy_complete" || entry["action"] != "proxy" {
		t.Fatalf("意外的日志内容: %v", entry)
	}
	if entry["upstream"] != "http://origin/b.txt" || entry["request_id"] != "req-1" {
		t.Fatalf("日志缺少上游或请求字段: %v", entry)
	}
	if status, _ := entry["upstream_status"].(float64); int(status) != http.StatusOK {
		t.Fatalf("日志缺少上游状态码: %v", entry)
	}
}

func TestProxyExchangeLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	hook := ProxyExchange(NewWriterLogger(&buf, logrus.InfoLevel))

	hook(proxy.Exchange{Method: http.MethodGet, Path: "/x"}, nil, errors.New("dial tcp: refused"))

	entry := decodeEntry(t, &buf)
	if entry["level"] != "error" || entry["msg"] != "proxy_failed" {
		t.Fatalf("连接失败应记 error: %v", entry)
	}
	if _, ok := entry["upstream_status"]; ok {
		t.Fatalf("无响应时不应输出 upstream_status")
	}
}

func TestCacheResultLevels(t *testing.T) {
	testCases := []struct {
		name  string
		err   error
		level string
		msg   string
	}{
		{"written", nil, "info", "cache_written"},
		{"skipped", &cache.CacheError{Status: http.StatusNotFound, Err: cache.ErrNotCacheable}, "debug", "cache_skipped"},
		{"failed", &cache.CacheError{Status: http.StatusOK, Err: errors.New("disk full")}, "warning", "cache_write_failed"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			hook := CacheResult(NewWriterLogger(&buf, logrus.DebugLevel))
			hook(cache.Event{
				Err:      tc.err,
				Upstream: &http.Response{StatusCode: http.StatusOK},
				Request:  cache.RequestInfo{ID: "req-2", Method: http.MethodGet, Path: "/b.txt"},
				Path:     "/tmp/cache/b.txt",
			})
			entry := decodeEntry(t, &buf)
			if entry["level"] != tc.level || entry["msg"] != tc.msg {
				t.Fatalf("期望 %s/%s，得到 %v", tc.level, tc.msg, entry)
			}
			if entry["cache_path"] != "/tmp/cache/b.txt" {
				t.Fatalf("日志缺少缓存路径: %v", entry)
			}
		})
	}
}

func TestStaticErrorIncludesFile(t *testing.T) {
	var buf bytes.Buffer
	hook := StaticError(NewWriterLogger(&buf, logrus.InfoLevel))

	hook(static.Failure{
		RequestID: "req-3",
		Method:    http.MethodGet,
		Path:      "/secret.txt",
		File:      "/srv/public/secret.txt",
		Err:       errors.New("permission denied"),
	})

	out := buf.String()
	if !strings.Contains(out, "static_failed") || !strings.Contains(out, "/srv/public/secret.txt") {
		t.Fatalf("静态错误日志缺少字段: %s", out)
	}
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("解析日志失败: %v (%s)", err, buf.String())
	}
	return entry
}
