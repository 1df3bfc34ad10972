package server

import (
	"strings"

	"github.com/gofiber/fiber/v3"
)

// Outcome 表示某个 Stage 是否已经写出响应。
type Outcome int

const (
	// Continue 交给下一个 Stage 处理。
	Continue Outcome = iota
	// Handled 响应已写出，Dispatcher 停止遍历。
	Handled
)

func (o Outcome) String() string {
	if o == Handled {
		return "handled"
	}
	return "continue"
}

// Stage 是请求管线中的一个环节，例如静态文件或代理回源。
type Stage interface {
	Serve(fiber.Ctx) (Outcome, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(fiber.Ctx) (Outcome, error)

// Serve makes StageFunc satisfy Stage.
func (f StageFunc) Serve(c fiber.Ctx) (Outcome, error) {
	return f(c)
}

// Dispatcher 按固定顺序执行 Stage，全部返回 Continue 时输出 404/405。
type Dispatcher struct {
	stages []Stage
}

// NewDispatcher 构造 Dispatcher，nil Stage 会被忽略，便于按配置拼装。
func NewDispatcher(stages ...Stage) *Dispatcher {
	kept := make([]Stage, 0, len(stages))
	for _, stage := range stages {
		if stage != nil {
			kept = append(kept, stage)
		}
	}
	return &Dispatcher{stages: kept}
}

// Handle 是 Fiber handler：遇到错误或 Handled 立即返回。
func (d *Dispatcher) Handle(c fiber.Ctx) error {
	for _, stage := range d.stages {
		outcome, err := stage.Serve(c)
		if err != nil {
			return err
		}
		if outcome == Handled {
			return nil
		}
	}
	return renderFallback(c)
}

func renderFallback(c fiber.Ctx) error {
	switch c.Method() {
	case fiber.MethodGet, fiber.MethodHead:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	default:
		c.Set(fiber.HeaderAllow, strings.Join([]string{fiber.MethodGet, fiber.MethodHead}, ", "))
		return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method_not_allowed"})
	}
}
