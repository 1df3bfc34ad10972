package cache

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotCacheable 表示上游状态码不是 200（或请求方法不可缓存），不会写盘。
var ErrNotCacheable = errors.New("upstream response not cacheable")

// CacheError 携带上游状态码与底层错误，Hook 通过它区分失败原因。
type CacheError struct {
	Status int
	Err    error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("proxy cache: upstream status %d: %v", e.Status, e.Err)
}

func (e *CacheError) Unwrap() error {
	return e.Err
}

// RequestInfo 是入站请求的快照。Fiber 的上下文在响应结束后会被复用，
// 后台写入只能持有拷贝。
type RequestInfo struct {
	ID     string
	Method string
	// Path 为入站请求路径，不含查询串，用于计算缓存位置。
	Path   string
	URL    string
	Header http.Header
}

// ResponseInfo 是发给客户端的响应快照。
type ResponseInfo struct {
	Status int
	Header http.Header
}

// Event 描述一次缓存写入（或跳过）的结果，Err 为 nil 表示写入成功。
type Event struct {
	Err      error
	Upstream *http.Response
	Request  RequestInfo
	Response ResponseInfo
	// Path 是目标文件的绝对路径，跳过写入时可能为空。
	Path    string
	Bytes   int64
	Elapsed time.Duration
}

// Hook 接收缓存结果，通常由 logging.CacheResult 提供。后台写入完成时
// 会在各自的 goroutine 中调用，实现需要并发安全。
type Hook func(Event)
