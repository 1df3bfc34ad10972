package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/filehub/internal/config"
	"github.com/any-hub/filehub/internal/encoding"
	"github.com/any-hub/filehub/internal/version"
)

type statusPayload struct {
	Version   string   `json:"version"`
	Commit    string   `json:"commit"`
	Root      string   `json:"root"`
	Proxy     string   `json:"proxy_target,omitempty"`
	ProxyAll  bool     `json:"proxy_all"`
	CacheMode string   `json:"cache_mode"`
	Encodings []string `json:"encodings"`
}

// RegisterStatusRoutes 暴露 /-/status 诊断接口，返回当前生效的服务配置摘要。
func RegisterStatusRoutes(app *fiber.App, cfg *config.Config, negotiator *encoding.Negotiator) {
	if app == nil || cfg == nil {
		return
	}

	payload := buildStatus(cfg, negotiator)
	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(payload)
	})
}

func buildStatus(cfg *config.Config, negotiator *encoding.Negotiator) statusPayload {
	encodings := []string{}
	for _, coding := range negotiator.Active() {
		encodings = append(encodings, string(coding))
	}
	return statusPayload{
		Version:   version.Version,
		Commit:    version.Commit,
		Root:      cfg.Global.Root,
		Proxy:     cfg.Proxy.Target,
		ProxyAll:  cfg.Proxy.All,
		CacheMode: cfg.Proxy.CacheMode(),
		Encodings: encodings,
	}
}
