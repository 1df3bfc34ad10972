package cache

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/any-hub/filehub/internal/encoding"
)

// Options 控制 Writer 的缓存位置与结果回调。
type Options struct {
	// Root 对应配置中的 Proxy.CacheDir，不能为空。
	Root string
	// WorkDir 为空时使用进程当前工作目录。
	WorkDir string
	Hook    Hook
}

// Writer 观察代理响应并把解码后的正文写入磁盘，整站复用一份实例。
type Writer struct {
	root    string
	workDir string
	hook    Hook
	now     func() time.Time

	inflight sync.WaitGroup
}

// NewWriter 构造缓存写入器；相对 Root 在构造时就绑定到当前工作目录。
func NewWriter(opts Options) (*Writer, error) {
	root := strings.TrimSpace(opts.Root)
	if root == "" {
		return nil, errors.New("cache root required")
	}

	workDir := opts.WorkDir
	if workDir == "" && !filepath.IsAbs(root) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		workDir = wd
	}

	hook := opts.Hook
	if hook == nil {
		hook = func(Event) {}
	}

	return &Writer{
		root:    root,
		workDir: workDir,
		hook:    hook,
		now:     time.Now,
	}, nil
}

// Destination 返回 requestPath 对应的缓存文件绝对路径。
func (w *Writer) Destination(requestPath string) (string, error) {
	return destination(w.workDir, w.root, requestPath)
}

// Observe 在上游响应头到达后调用，返回应当流式发送给客户端的正文。
//
// 非 200 或非 GET 的响应只上报 ErrNotCacheable 并原样返回 resp.Body。
// 可缓存时返回一个 tee：客户端读取的同时把原始字节写入 spool 文件，
// 正文关闭后由后台 goroutine 读完剩余字节、解码并 rename 到目标位置。
// 任何写盘错误都不会影响返回给客户端的字节流。
func (w *Writer) Observe(resp *http.Response, req RequestInfo, client ResponseInfo) io.ReadCloser {
	started := w.now()
	event := Event{Upstream: resp, Request: req, Response: client}

	if resp.StatusCode != http.StatusOK || req.Method != http.MethodGet {
		event.Err = &CacheError{Status: resp.StatusCode, Err: ErrNotCacheable}
		w.hook(event)
		return resp.Body
	}

	dest, err := w.Destination(req.Path)
	if err != nil {
		event.Err = &CacheError{Status: resp.StatusCode, Err: err}
		w.hook(event)
		return resp.Body
	}
	event.Path = dest

	if err := ensureDir(dest); err != nil {
		event.Err = &CacheError{Status: resp.StatusCode, Err: err}
		w.hook(event)
		return resp.Body
	}

	spool, err := os.CreateTemp(filepath.Dir(dest), ".spool-*")
	if err != nil {
		event.Err = &CacheError{Status: resp.StatusCode, Err: fmt.Errorf("create spool: %w", err)}
		w.hook(event)
		return resp.Body
	}

	w.inflight.Add(1)
	return &teeBody{
		writer:  w,
		src:     resp.Body,
		spool:   spool,
		event:   event,
		started: started,
	}
}

// Wait 阻塞直到所有后台写入完成，用于优雅退出与测试。
func (w *Writer) Wait() {
	w.inflight.Wait()
}

// persist 在 spool 完整落盘后执行：按 Content-Encoding 解码，再原子替换目标文件。
func (w *Writer) persist(spoolName, dest, contentEncoding string) (int64, error) {
	f, err := os.Open(spoolName)
	if err != nil {
		os.Remove(spoolName)
		return 0, err
	}

	decoder, decoded, err := encoding.NewDecoder(contentEncoding, f)
	if err != nil {
		f.Close()
		os.Remove(spoolName)
		return 0, fmt.Errorf("decode %s: %w", contentEncoding, err)
	}
	if !decoded {
		f.Close()
		return promote(spoolName, dest)
	}

	written, err := writeAtomic(dest, decoder)
	decoder.Close()
	f.Close()
	os.Remove(spoolName)
	if err != nil {
		return written, fmt.Errorf("persist decoded body: %w", err)
	}
	return written, nil
}

func (w *Writer) report(event Event, started time.Time) {
	event.Elapsed = w.now().Sub(started)
	w.hook(event)
}

// teeBody 把上游正文同时交给客户端与 spool 文件。spool 写失败后只记录错误，
// 继续为客户端读取上游数据。
type teeBody struct {
	writer  *Writer
	src     io.ReadCloser
	spool   *os.File
	event   Event
	started time.Time

	spoolErr error
	readErr  error
	once     sync.Once
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 && t.spoolErr == nil {
		if _, werr := t.spool.Write(p[:n]); werr != nil {
			t.spoolErr = werr
		}
	}
	if err != nil && !errors.Is(err, io.EOF) && t.readErr == nil {
		t.readErr = err
	}
	return n, err
}

// Close 不等待写盘：剩余工作交给后台 goroutine，客户端断开也不会中止写入。
func (t *teeBody) Close() error {
	t.once.Do(func() {
		go t.finish()
	})
	return nil
}

func (t *teeBody) finish() {
	defer t.writer.inflight.Done()

	if t.readErr == nil {
		_, _ = io.Copy(io.Discard, readerOnly{t})
	}
	t.src.Close()
	spoolName := t.spool.Name()
	if err := t.spool.Close(); err != nil && t.spoolErr == nil {
		t.spoolErr = err
	}

	event := t.event
	status := event.Upstream.StatusCode
	switch {
	case t.readErr != nil:
		os.Remove(spoolName)
		event.Err = &CacheError{Status: status, Err: fmt.Errorf("read upstream: %w", t.readErr)}
	case t.spoolErr != nil:
		os.Remove(spoolName)
		event.Err = &CacheError{Status: status, Err: fmt.Errorf("write spool: %w", t.spoolErr)}
	default:
		written, err := t.writer.persist(spoolName, event.Path, event.Upstream.Header.Get("Content-Encoding"))
		event.Bytes = written
		if err != nil {
			event.Err = &CacheError{Status: status, Err: err}
		}
	}
	t.writer.report(event, t.started)
}

// readerOnly 隐藏 teeBody 的其它方法，避免 io.Copy 走 WriterTo 之类的捷径。
type readerOnly struct {
	io.Reader
}
