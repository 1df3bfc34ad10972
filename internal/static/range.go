package static

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// errRangeUnsatisfiable 对应 416；语法错误的 Range 不返回该错误，而是被忽略。
var errRangeUnsatisfiable = errors.New("range not satisfiable")

// byteRange 是闭区间 [start, end]。
type byteRange struct {
	start int64
	end   int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

func (r byteRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.end, size)
}

// parseRange 解析 Range 头。返回值含义：
//   - ok=false：头缺失或语法错误，按完整响应处理；
//   - err=errRangeUnsatisfiable：多段或越界，返回 416；
//   - 否则返回唯一的区间。
func parseRange(header string, size int64) (byteRange, bool, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return byteRange{}, false, nil
	}
	const prefix = "bytes="
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return byteRange{}, false, nil
	}

	specs := strings.Split(header[len(prefix):], ",")
	parsed := make([]byteRange, 0, len(specs))
	for _, spec := range specs {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		r, valid, satisfiable := parseSpec(spec, size)
		if !valid {
			return byteRange{}, false, nil
		}
		if !satisfiable {
			return byteRange{}, true, errRangeUnsatisfiable
		}
		parsed = append(parsed, r)
	}

	switch len(parsed) {
	case 0:
		return byteRange{}, false, nil
	case 1:
		return parsed[0], true, nil
	default:
		return byteRange{}, true, errRangeUnsatisfiable
	}
}

// parseSpec 处理 "a-b"、"a-" 与 "-n" 三种形式。
func parseSpec(spec string, size int64) (r byteRange, valid, satisfiable bool) {
	startStr, endStr, found := strings.Cut(spec, "-")
	if !found {
		return byteRange{}, false, false
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, false, false
		}
		if n == 0 || size == 0 {
			return byteRange{}, true, false
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, end: size - 1}, true, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false, false
	}
	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return byteRange{}, false, false
		}
		if end >= size {
			end = size - 1
		}
	}
	if start >= size {
		return byteRange{}, true, false
	}
	return byteRange{start: start, end: end}, true, true
}
