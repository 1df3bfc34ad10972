// Package freshness 负责解析客户端条件请求头并判定缓存表示是否仍然新鲜。
// 所有函数均为纯函数，不做任何 I/O。
package freshness

import (
	"net/http"
	"strings"
	"time"
)

// Result 是条件判定的结果。
type Result int

const (
	// Stale 表示需要返回完整正文。
	Stale Result = iota
	// Fresh 表示客户端副本仍然可用，应返回 304。
	Fresh
)

func (r Result) String() string {
	if r == Fresh {
		return "fresh"
	}
	return "stale"
}

// Conditional 保存单次请求中解析后的条件头。零值表示两个头都缺失。
type Conditional struct {
	// IfModifiedSince 为零值时视为缺失。
	IfModifiedSince time.Time
	// IfNoneMatch 保留原始的校验器列表。
	IfNoneMatch string
}

// Parse 从原始头部值构建 Conditional。无法解析的日期（包括超出日历范围的年份）
// 一律当作缺失处理，绝不返回错误。
func Parse(ifModifiedSince, ifNoneMatch string) Conditional {
	return Conditional{
		IfModifiedSince: parseHTTPDate(ifModifiedSince),
		IfNoneMatch:     strings.TrimSpace(ifNoneMatch),
	}
}

// HasModifiedSince 表示 If-Modified-Since 是否存在且合法。
func (c Conditional) HasModifiedSince() bool {
	return !c.IfModifiedSince.IsZero()
}

// HasNoneMatch 表示 If-None-Match 是否存在。
func (c Conditional) HasNoneMatch() bool {
	return c.IfNoneMatch != ""
}

// Evaluate 判定资源是否对客户端仍然新鲜。
//
// If-None-Match 中任意一项与 etag 完全相等（强比较）即为 Fresh；否则当
// If-Modified-Since 不早于按秒截断的 lastModified 时为 Fresh；其余情况为 Stale。
func Evaluate(cond Conditional, lastModified time.Time, etag string) Result {
	if cond.HasNoneMatch() && etag != "" && matchesAny(cond.IfNoneMatch, etag) {
		return Fresh
	}
	if cond.HasModifiedSince() && !lastModified.IsZero() {
		modified := lastModified.UTC().Truncate(time.Second)
		if !cond.IfModifiedSince.Before(modified) {
			return Fresh
		}
	}
	return Stale
}

func matchesAny(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimSpace(candidate) == etag {
			return true
		}
	}
	return false
}

func parseHTTPDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	parsed, err := http.ParseTime(raw)
	if err != nil {
		return time.Time{}
	}
	// 四位年份以外的值在 HTTP 日期里不存在，ParseTime 的宽松格式也不应放行。
	if year := parsed.Year(); year < 1 || year > 9999 {
		return time.Time{}
	}
	return parsed.UTC()
}
