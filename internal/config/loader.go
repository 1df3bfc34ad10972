package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyProxyDefaults(&cfg.Proxy)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(cfg.Global.Root)
	if err != nil {
		return nil, fmt.Errorf("无法解析静态目录: %w", err)
	}
	cfg.Global.Root = absRoot
	// Proxy.CacheDir 保持原样：相对/绝对决定了缓存布局。

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Root", "./public")
	v.SetDefault("IndexFile", "index.html")
	v.SetDefault("DefaultExt", "html")
	v.SetDefault("DefaultType", "application/octet-stream")
	v.SetDefault("Cache", 3600)
	v.SetDefault("Gzip", false)
	v.SetDefault("Brotli", false)
	v.SetDefault("EncodingPreference", []string{"br", "gzip"})
	v.SetDefault("Proxy.Timeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8080
	}
	if strings.TrimSpace(g.IndexFile) == "" {
		g.IndexFile = "index.html"
	}
	g.DefaultExt = strings.TrimPrefix(strings.TrimSpace(g.DefaultExt), ".")
	if strings.TrimSpace(g.DefaultType) == "" {
		g.DefaultType = "application/octet-stream"
	}
	for i, coding := range g.EncodingPreference {
		g.EncodingPreference[i] = strings.ToLower(strings.TrimSpace(coding))
	}
	if len(g.MimeTypes) > 0 {
		normalized := make(map[string]string, len(g.MimeTypes))
		for ext, mimeType := range g.MimeTypes {
			normalized[strings.ToLower(strings.TrimPrefix(ext, "."))] = mimeType
		}
		g.MimeTypes = normalized
	}
}

func applyProxyDefaults(p *ProxyConfig) {
	p.Target = strings.TrimSpace(p.Target)
	p.PathHeader = strings.TrimSpace(p.PathHeader)
	p.CacheDir = strings.TrimSpace(p.CacheDir)
	if p.Timeout.DurationValue() == 0 {
		p.Timeout = Duration(30 * time.Second)
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func isAbsPath(p string) bool {
	return filepath.IsAbs(p)
}
