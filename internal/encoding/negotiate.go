// Package encoding 负责 Accept-Encoding 协商以及 gzip/deflate/brotli 的编解码。
// 静态响应使用 Negotiator + Encoder，代理缓存写入使用 NewDecoder。
package encoding

import (
	"strconv"
	"strings"
)

// Coding 表示一种 content-coding。
type Coding string

const (
	Identity Coding = "identity"
	Gzip     Coding = "gzip"
	Brotli   Coding = "br"
)

// DefaultPreference 是未配置时的优先级：brotli 体积更小，其次 gzip。
var DefaultPreference = []Coding{Brotli, Gzip}

// Enabled 描述服务端允许使用的压缩方式。
type Enabled struct {
	Gzip   bool
	Brotli bool
}

// Any 表示是否启用了任意一种压缩。
func (e Enabled) Any() bool {
	return e.Gzip || e.Brotli
}

func (e Enabled) allows(coding Coding) bool {
	switch coding {
	case Gzip:
		return e.Gzip
	case Brotli:
		return e.Brotli
	default:
		return false
	}
}

// Decision 是一次协商的结果，创建后不再修改。
type Decision struct {
	Coding Coding
}

// IsIdentity 表示无需改写正文。
func (d Decision) IsIdentity() bool {
	return d.Coding == "" || d.Coding == Identity
}

// Header 返回写入 Content-Encoding 的值，identity 返回空串。
func (d Decision) Header() string {
	if d.IsIdentity() {
		return ""
	}
	return string(d.Coding)
}

// SiblingSuffix 返回预压缩文件的后缀，例如 ".gz"。
func (d Decision) SiblingSuffix() string {
	switch d.Coding {
	case Gzip:
		return ".gz"
	case Brotli:
		return ".br"
	default:
		return ""
	}
}

// Negotiator 持有启用的编码与优先级，构造后只读，可在请求间共享。
type Negotiator struct {
	enabled    Enabled
	preference []Coding
}

// NewNegotiator 构建协商器。preference 为空时使用 DefaultPreference，
// 未知或重复的编码会被忽略。
func NewNegotiator(enabled Enabled, preference []Coding) *Negotiator {
	if len(preference) == 0 {
		preference = DefaultPreference
	}
	seen := make(map[Coding]struct{}, len(preference))
	ordered := make([]Coding, 0, len(preference))
	for _, coding := range preference {
		normalized := Coding(strings.ToLower(strings.TrimSpace(string(coding))))
		if normalized != Gzip && normalized != Brotli {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		ordered = append(ordered, normalized)
	}
	return &Negotiator{enabled: enabled, preference: ordered}
}

// Enabled 返回协商器启用的编码集合。
func (n *Negotiator) Enabled() Enabled {
	return n.enabled
}

// Active 按优先级返回真正启用的编码。
func (n *Negotiator) Active() []Coding {
	if n == nil {
		return nil
	}
	active := make([]Coding, 0, len(n.preference))
	for _, coding := range n.preference {
		if n.enabled.allows(coding) {
			active = append(active, coding)
		}
	}
	return active
}

// Negotiate 根据客户端的 Accept-Encoding 选择编码。未启用的编码即使被请求也不会选中。
func (n *Negotiator) Negotiate(acceptEncoding string) Decision {
	if n == nil || !n.enabled.Any() {
		return Decision{Coding: Identity}
	}
	accepted := ParseAcceptEncoding(acceptEncoding)
	for _, coding := range n.preference {
		if !n.enabled.allows(coding) {
			continue
		}
		if accepted.Accepts(coding) {
			return Decision{Coding: coding}
		}
	}
	return Decision{Coding: Identity}
}

// Negotiate 使用默认优先级进行一次性协商。
func Negotiate(acceptEncoding string, enabled Enabled) Decision {
	return NewNegotiator(enabled, nil).Negotiate(acceptEncoding)
}

// AcceptSet 是解析后的 Accept-Encoding，键为编码，值为 q 值。
type AcceptSet struct {
	qValues  map[Coding]float64
	wildcard float64
	hasStar  bool
}

// ParseAcceptEncoding 解析形如 "gzip;q=0.8, br, *;q=0" 的头部。
// q 值非法的条目按 q=0 处理。
func ParseAcceptEncoding(header string) AcceptSet {
	set := AcceptSet{qValues: make(map[Coding]float64)}
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, params, _ := strings.Cut(part, ";")
		coding := Coding(strings.ToLower(strings.TrimSpace(name)))
		if coding == "" {
			continue
		}
		q := parseQValue(params)
		if coding == "*" {
			set.hasStar = true
			set.wildcard = q
			continue
		}
		if coding == "x-gzip" {
			coding = Gzip
		}
		set.qValues[coding] = q
	}
	return set
}

// Accepts 表示客户端是否接受该编码（q > 0）。
func (s AcceptSet) Accepts(coding Coding) bool {
	if q, ok := s.qValues[coding]; ok {
		return q > 0
	}
	return s.hasStar && s.wildcard > 0
}

func parseQValue(params string) float64 {
	params = strings.TrimSpace(params)
	if params == "" {
		return 1
	}
	for _, param := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || q < 0 || q > 1 {
			return 0
		}
		return q
	}
	return 1
}
