package logging

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/filehub/internal/cache"
	"github.com/any-hub/filehub/internal/proxy"
	"github.com/any-hub/filehub/internal/static"
)

// ProxyExchange 返回默认的代理回调：每次上游往返输出一条 proxy 日志。
func ProxyExchange(logger *logrus.Logger) proxy.ExchangeHook {
	return func(ex proxy.Exchange, resp *http.Response, err error) {
		fields := RequestFields(ex.RequestID, ex.Method, ex.Path)
		fields["action"] = "proxy"
		fields["upstream"] = ex.Upstream
		fields["elapsed_ms"] = ex.Elapsed.Milliseconds()
		if resp != nil {
			fields["upstream_status"] = resp.StatusCode
		}
		if err != nil {
			fields["error"] = err.Error()
			logger.WithFields(fields).Error("proxy_failed")
			return
		}
		logger.WithFields(fields).Info("proxy_complete")
	}
}

// CacheResult 返回默认的缓存回调。跳过不可缓存响应只记 debug，
// 真正的写盘失败记 warn。
func CacheResult(logger *logrus.Logger) cache.Hook {
	return func(ev cache.Event) {
		fields := RequestFields(ev.Request.ID, ev.Request.Method, ev.Request.Path)
		fields["action"] = "proxy_cache"
		fields["cache_path"] = ev.Path
		fields["elapsed_ms"] = ev.Elapsed.Milliseconds()
		if ev.Upstream != nil {
			fields["upstream_status"] = ev.Upstream.StatusCode
		}

		switch {
		case ev.Err == nil:
			fields["bytes"] = ev.Bytes
			logger.WithFields(fields).Info("cache_written")
		case errors.Is(ev.Err, cache.ErrNotCacheable):
			logger.WithFields(fields).Debug("cache_skipped")
		default:
			fields["error"] = ev.Err.Error()
			logger.WithFields(fields).Warn("cache_write_failed")
		}
	}
}

// StaticError 返回静态文件 500 错误的默认回调。
func StaticError(logger *logrus.Logger) static.ErrorReporter {
	return func(f static.Failure) {
		fields := RequestFields(f.RequestID, f.Method, f.Path)
		fields["action"] = "static"
		fields["file"] = f.File
		if f.Err != nil {
			fields["error"] = f.Err.Error()
		}
		logger.WithFields(fields).Error("static_failed")
	}
}
