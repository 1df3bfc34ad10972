package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/filehub/internal/cache"
	"github.com/any-hub/filehub/internal/config"
	"github.com/any-hub/filehub/internal/encoding"
	"github.com/any-hub/filehub/internal/logging"
	"github.com/any-hub/filehub/internal/proxy"
	"github.com/any-hub/filehub/internal/server"
	"github.com/any-hub/filehub/internal/server/routes"
	"github.com/any-hub/filehub/internal/static"
	"github.com/any-hub/filehub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 10 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := configFields("check_config", opts.configPath, cfg)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if info, statErr := os.Stat(cfg.Global.Root); !cfg.Proxy.All && (statErr != nil || !info.IsDir()) {
		logger.WithFields(logrus.Fields{
			"action": "startup",
			"root":   cfg.Global.Root,
		}).Warn("静态目录不存在，所有请求都将未命中")
	}

	app, writer, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建服务失败: %v\n", err)
		return 1
	}

	fields := configFields("startup", opts.configPath, cfg)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := startHTTPServer(ctx, cfg, app, writer, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildApp 按“协商器 → 静态 Stage → 缓存写入器 → 代理 Stage → Dispatcher → Fiber”
// 的顺序组装服务，所有组件共享同一份只读配置。未启用缓存时 writer 为 nil。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*fiber.App, *cache.Writer, error) {
	negotiator := encoding.NewNegotiator(
		encoding.Enabled{Gzip: cfg.Global.Gzip, Brotli: cfg.Global.Brotli},
		codings(cfg.Global.EncodingPreference),
	)

	var stages []server.Stage
	if !cfg.Proxy.All {
		responder, err := static.NewResponder(static.Options{
			Root:         cfg.Global.Root,
			IndexFile:    cfg.Global.IndexFile,
			DefaultExt:   cfg.Global.DefaultExt,
			DefaultType:  cfg.Global.DefaultType,
			CacheControl: cfg.Global.CacheControl(),
			MimeTypes:    cfg.Global.MimeTypes,
			Negotiator:   negotiator,
			Reporter:     logging.StaticError(logger),
		})
		if err != nil {
			return nil, nil, err
		}
		stages = append(stages, responder)
	}

	var writer *cache.Writer
	if cfg.ProxyEnabled() {
		target, err := cfg.ProxyTarget()
		if err != nil {
			return nil, nil, fmt.Errorf("解析回源地址失败: %w", err)
		}
		if cfg.Proxy.CacheDir != "" {
			writer, err = cache.NewWriter(cache.Options{
				Root: cfg.Proxy.CacheDir,
				Hook: logging.CacheResult(logger),
			})
			if err != nil {
				return nil, nil, fmt.Errorf("初始化代理缓存失败: %w", err)
			}
		}
		forwarder, err := proxy.NewForwarder(proxy.Options{
			Target:     target,
			PathHeader: cfg.Proxy.PathHeader,
			Client:     server.NewUpstreamClient(cfg),
			Hook:       logging.ProxyExchange(logger),
			Cache:      writer,
		})
		if err != nil {
			return nil, nil, err
		}
		stages = append(stages, forwarder)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Dispatcher: server.NewDispatcher(stages...),
	})
	if err != nil {
		return nil, nil, err
	}
	routes.RegisterStatusRoutes(app, cfg, negotiator)
	return app, writer, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("filehub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 FILEHUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("FILEHUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// startHTTPServer 阻塞直到 ctx 结束或监听失败；退出前等待缓存写入落盘。
func startHTTPServer(ctx context.Context, cfg *config.Config, app *fiber.App, writer *cache.Writer, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	var listenErr error
	select {
	case listenErr = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			listenErr = err
		}
	}

	if writer != nil {
		writer.Wait()
	}
	logger.WithFields(logrus.Fields{"action": "shutdown", "port": port}).Info("Fiber 服务已停止")
	return listenErr
}

func configFields(action, configPath string, cfg *config.Config) logrus.Fields {
	fields := logging.BaseFields(action, configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["root"] = cfg.Global.Root
	fields["proxy_target"] = cfg.Proxy.Target
	fields["cache_mode"] = cfg.Proxy.CacheMode()
	return fields
}

func codings(names []string) []encoding.Coding {
	out := make([]encoding.Coding, 0, len(names))
	for _, name := range names {
		out = append(out, encoding.Coding(name))
	}
	return out
}
