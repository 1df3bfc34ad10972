package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedEncodings = map[string]struct{}{
	"br":   {},
	"gzip": {},
}

const supportedEncodingList = "br|gzip"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if strings.TrimSpace(g.Root) == "" && !c.Proxy.All {
		return newFieldError("Global.Root", "不能为空")
	}
	if g.Cache < CacheDisabled {
		return newFieldError("Global.Cache", "必须为非负秒数，或 -1 表示禁用")
	}
	if strings.ContainsAny(g.IndexFile, `/\`) {
		return newFieldError("Global.IndexFile", "只能是文件名")
	}
	if strings.ContainsAny(g.DefaultExt, `/\`) {
		return newFieldError("Global.DefaultExt", "只能是扩展名")
	}
	for _, coding := range g.EncodingPreference {
		if _, ok := supportedEncodings[coding]; !ok {
			return newFieldError("Global.EncodingPreference", "仅支持 "+supportedEncodingList)
		}
	}
	for ext, mimeType := range g.MimeTypes {
		if strings.TrimSpace(ext) == "" || strings.TrimSpace(mimeType) == "" {
			return newFieldError(mimeField(ext), "扩展名与类型都不能为空")
		}
	}

	return c.validateProxy()
}

func (c *Config) validateProxy() error {
	p := c.Proxy
	if p.Target == "" {
		if p.All {
			return newFieldError("Proxy.Target", "启用 All 时必须配置")
		}
		if p.PathHeader != "" || p.CacheDir != "" {
			return newFieldError("Proxy.Target", "配置了 PathHeader/CacheDir 时必须配置")
		}
		return nil
	}
	if err := validateUpstream(p.Target); err != nil {
		return fmt.Errorf("Proxy.Target: %w", err)
	}
	if strings.ContainsAny(p.PathHeader, " :\t") {
		return newFieldError("Proxy.PathHeader", "不是合法的头部名称")
	}
	if p.Timeout.DurationValue() <= 0 {
		return newFieldError("Proxy.Timeout", "必须大于 0")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
