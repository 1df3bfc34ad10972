// Package static serves files under a configured root with conditional
// requests, single byte ranges and Accept-Encoding negotiation. Responder is
// a server.Stage: a miss returns Continue so the proxy (or the dispatcher's
// 404) can take over.
package static

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/filehub/internal/encoding"
	"github.com/any-hub/filehub/internal/freshness"
	"github.com/any-hub/filehub/internal/server"
)

// Failure 描述一次导致 500 的文件系统错误。
type Failure struct {
	RequestID string
	Method    string
	Path      string
	File      string
	Err       error
}

// ErrorReporter 接收静态文件的内部错误，通常由 logging.StaticError 提供。
type ErrorReporter func(Failure)

// Options 控制 Responder 的根目录、默认文件与响应头。
type Options struct {
	Root        string
	IndexFile   string
	DefaultExt  string
	DefaultType string
	// CacheControl 为空时不输出 Cache-Control。
	CacheControl string
	MimeTypes    map[string]string
	Negotiator   *encoding.Negotiator
	Reporter     ErrorReporter
}

// Responder 是静态文件 Stage，构造后只读，可并发使用。
type Responder struct {
	root         string
	indexFile    string
	defaultExt   string
	cacheControl string
	mime         mimeTable
	negotiator   *encoding.Negotiator
	reporter     ErrorReporter
}

// NewResponder 校验 Root 并构造 Responder。
func NewResponder(opts Options) (*Responder, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("static root required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve static root: %w", err)
	}

	indexFile := opts.IndexFile
	if indexFile == "" {
		indexFile = "index.html"
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = func(Failure) {}
	}
	negotiator := opts.Negotiator
	if negotiator == nil {
		negotiator = encoding.NewNegotiator(encoding.Enabled{}, nil)
	}

	return &Responder{
		root:         filepath.Clean(root),
		indexFile:    indexFile,
		defaultExt:   strings.TrimPrefix(strings.TrimSpace(opts.DefaultExt), "."),
		cacheControl: opts.CacheControl,
		mime:         newMimeTable(opts.MimeTypes, opts.DefaultType),
		negotiator:   negotiator,
		reporter:     reporter,
	}, nil
}

// Serve 实现 server.Stage。只处理 GET/HEAD，文件不存在时返回 Continue。
func (r *Responder) Serve(c fiber.Ctx) (server.Outcome, error) {
	method := c.Method()
	if method != fiber.MethodGet && method != fiber.MethodHead {
		return server.Continue, nil
	}

	urlPath := string(c.Request().URI().Path())
	target, err := r.resolve(urlPath)
	switch {
	case errors.Is(err, ErrNotFound):
		return server.Continue, nil
	case err != nil:
		return server.Handled, r.fail(c, urlPath, target.file, err)
	case target.redirect != "":
		location := target.redirect
		if query := c.Request().URI().QueryString(); len(query) > 0 {
			location += "?" + string(query)
		}
		c.Set(fiber.HeaderLocation, location)
		return server.Handled, c.Status(fiber.StatusFound).JSON(fiber.Map{"redirect": location})
	}

	return server.Handled, r.respond(c, urlPath, target.file, target.info)
}

// respond 按 freshness → range → encoding 的顺序输出响应。
func (r *Responder) respond(c fiber.Ctx, urlPath, file string, info os.FileInfo) error {
	size := info.Size()
	modTime := info.ModTime()
	etag := makeETag(modTime, size)

	header := &c.Response().Header
	c.Set(fiber.HeaderETag, etag)
	c.Set(fiber.HeaderLastModified, modTime.UTC().Format(http.TimeFormat))
	c.Set(fiber.HeaderAcceptRanges, "bytes")
	if r.cacheControl != "" {
		c.Set(fiber.HeaderCacheControl, r.cacheControl)
	}
	if r.negotiator.Enabled().Any() {
		c.Set(fiber.HeaderVary, fiber.HeaderAcceptEncoding)
	}

	cond := freshness.Parse(c.Get(fiber.HeaderIfModifiedSince), c.Get(fiber.HeaderIfNoneMatch))
	if freshness.Evaluate(cond, modTime, etag) == freshness.Fresh {
		c.Status(fiber.StatusNotModified)
		header.SetNoDefaultContentType(true)
		header.Del(fiber.HeaderContentType)
		header.Del(fiber.HeaderContentLength)
		return nil
	}

	c.Set(fiber.HeaderContentType, r.mime.lookup(file))
	head := c.Method() == fiber.MethodHead

	if rangeHeader := c.Get(fiber.HeaderRange); rangeHeader != "" && ifRangeMatches(c.Get(fiber.HeaderIfRange), modTime, etag) {
		br, ok, err := parseRange(rangeHeader, size)
		if errors.Is(err, errRangeUnsatisfiable) {
			c.Set(fiber.HeaderContentRange, fmt.Sprintf("bytes */%d", size))
			return c.Status(fiber.StatusRequestedRangeNotSatisfiable).JSON(fiber.Map{"error": "range_not_satisfiable"})
		}
		if ok {
			return r.sendRange(c, urlPath, file, br, size, head)
		}
	}

	decision := r.negotiator.Negotiate(c.Get(fiber.HeaderAcceptEncoding))
	if !decision.IsIdentity() {
		c.Set(fiber.HeaderContentEncoding, decision.Header())
		if name, sInfo, ok := sibling(file, decision.SiblingSuffix()); ok {
			return r.sendFile(c, urlPath, name, sInfo.Size(), head)
		}
		return r.sendCompressed(c, urlPath, file, decision, head)
	}
	return r.sendFile(c, urlPath, file, size, head)
}

func (r *Responder) sendFile(c fiber.Ctx, urlPath, file string, size int64, head bool) error {
	c.Status(fiber.StatusOK)
	if head {
		c.Response().Header.SetContentLength(int(size))
		return nil
	}
	f, err := os.Open(file)
	if err != nil {
		return r.fail(c, urlPath, file, err)
	}
	// fasthttp 在响应写完或连接断开后关闭 f。
	c.Response().SetBodyStream(f, int(size))
	return nil
}

func (r *Responder) sendRange(c fiber.Ctx, urlPath, file string, br byteRange, size int64, head bool) error {
	c.Set(fiber.HeaderContentRange, br.contentRange(size))
	c.Status(fiber.StatusPartialContent)
	if head {
		c.Response().Header.SetContentLength(int(br.length()))
		return nil
	}
	f, err := os.Open(file)
	if err != nil {
		c.Response().Header.Del(fiber.HeaderContentRange)
		return r.fail(c, urlPath, file, err)
	}
	c.Response().SetBodyStream(&sectionFile{
		SectionReader: io.NewSectionReader(f, br.start, br.length()),
		file:          f,
	}, int(br.length()))
	return nil
}

// sendCompressed 边读边压缩，长度未知，使用 chunked 输出。
func (r *Responder) sendCompressed(c fiber.Ctx, urlPath, file string, decision encoding.Decision, head bool) error {
	c.Status(fiber.StatusOK)
	if head {
		c.Response().Header.SetContentLength(-1)
		return nil
	}
	f, err := os.Open(file)
	if err != nil {
		c.Response().Header.Del(fiber.HeaderContentEncoding)
		return r.fail(c, urlPath, file, err)
	}
	c.Response().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer f.Close()
		enc := encoding.NewEncoder(decision, w)
		if _, err := io.Copy(enc, f); err != nil {
			enc.Close()
			return
		}
		if err := enc.Close(); err != nil {
			return
		}
		_ = w.Flush()
	})
	return nil
}

// fail 上报内部错误并输出 500，不会中断进程。
func (r *Responder) fail(c fiber.Ctx, urlPath, file string, err error) error {
	r.reporter(Failure{
		RequestID: server.RequestID(c),
		Method:    c.Method(),
		Path:      urlPath,
		File:      file,
		Err:       err,
	})
	for _, key := range []string{fiber.HeaderETag, fiber.HeaderLastModified, fiber.HeaderAcceptRanges, fiber.HeaderCacheControl} {
		c.Response().Header.Del(key)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_error"})
}

// makeETag 生成 "<mtime 秒 hex>-<size hex>"，同一文件的各编码变体共用。
func makeETag(modTime time.Time, size int64) string {
	return fmt.Sprintf(`"%x-%x"`, modTime.Unix(), size)
}

// ifRangeMatches 在缺少 If-Range 或其值与当前实体一致时返回 true。
func ifRangeMatches(ifRange string, modTime time.Time, etag string) bool {
	ifRange = strings.TrimSpace(ifRange)
	if ifRange == "" {
		return true
	}
	if strings.HasPrefix(ifRange, `"`) || strings.HasPrefix(ifRange, "W/") {
		return ifRange == etag
	}
	t, err := http.ParseTime(ifRange)
	if err != nil {
		return false
	}
	return t.Equal(modTime.UTC().Truncate(time.Second))
}

// sectionFile 让 fasthttp 读取区间后关闭底层文件。
type sectionFile struct {
	*io.SectionReader
	file *os.File
}

func (s *sectionFile) Close() error {
	return s.file.Close()
}
