package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// CacheDisabled 是 Cache 字段的哨兵值，表示输出禁止缓存的 Cache-Control。
const CacheDisabled = -1

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述监听、日志与静态文件相关的全局行为。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	Root        string `mapstructure:"Root"`
	IndexFile   string `mapstructure:"IndexFile"`
	DefaultExt  string `mapstructure:"DefaultExt"`
	DefaultType string `mapstructure:"DefaultType"`
	// Cache 为缓存秒数，CacheDisabled 表示禁用。
	Cache              int               `mapstructure:"Cache"`
	Gzip               bool              `mapstructure:"Gzip"`
	Brotli             bool              `mapstructure:"Brotli"`
	EncodingPreference []string          `mapstructure:"EncodingPreference"`
	MimeTypes          map[string]string `mapstructure:"MimeTypes"`
}

// ProxyConfig 决定静态未命中时如何回源，以及代理响应写入哪里。
type ProxyConfig struct {
	Target string `mapstructure:"Target"`
	// PathHeader 非空时，请求头中同名字段的值会替换回源路径。
	PathHeader string `mapstructure:"PathHeader"`
	// CacheDir 为相对路径时按 <cwd>/<CacheDir>/<path> 写入；为绝对路径时视为单一文件。
	CacheDir string   `mapstructure:"CacheDir"`
	All      bool     `mapstructure:"All"`
	Timeout  Duration `mapstructure:"Timeout"`
}

// Config 是 TOML 文件映射的整体结构，Load 之后不应再被修改。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Proxy  ProxyConfig  `mapstructure:"Proxy"`
}

// ProxyEnabled 表示是否配置了回源目标。
func (c *Config) ProxyEnabled() bool {
	return c != nil && strings.TrimSpace(c.Proxy.Target) != ""
}

// ProxyTarget 返回解析后的回源地址，假定 Validate 已经通过。
func (c *Config) ProxyTarget() (*url.URL, error) {
	if !c.ProxyEnabled() {
		return nil, nil
	}
	return url.Parse(strings.TrimSpace(c.Proxy.Target))
}

// CacheControl 输出静态响应使用的 Cache-Control 值。
func (g GlobalConfig) CacheControl() string {
	if g.Cache == CacheDisabled {
		return "no-cache, no-store, must-revalidate"
	}
	return fmt.Sprintf("max-age=%d", g.Cache)
}

// CacheMode 输出 `disabled`、`file` 或 `directory`，供日志与诊断接口使用。
func (p ProxyConfig) CacheMode() string {
	dir := strings.TrimSpace(p.CacheDir)
	switch {
	case dir == "":
		return "disabled"
	case isAbsPath(dir):
		return "file"
	default:
		return "directory"
	}
}
