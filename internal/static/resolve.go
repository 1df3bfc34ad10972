package static

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
)

// ErrNotFound 表示请求路径在 Root 下没有对应的常规文件。
var ErrNotFound = errors.New("static: file not found")

// resolved 是一次路径解析的结果；redirect 非空时应返回 302。
type resolved struct {
	file     string
	info     os.FileInfo
	redirect string
}

// resolve 把 URL 路径映射到 Root 下的文件：目录使用 IndexFile，
// 无扩展名的缺失路径尝试追加 DefaultExt。
func (r *Responder) resolve(urlPath string) (resolved, error) {
	if urlPath == "" {
		urlPath = "/"
	}
	clean := path.Clean("/" + urlPath)
	full := filepath.Join(r.root, filepath.FromSlash(clean))
	if full != r.root && !strings.HasPrefix(full, r.root+string(filepath.Separator)) {
		return resolved{}, ErrNotFound
	}

	info, err := os.Stat(full)
	switch {
	case err == nil && info.IsDir():
		if !strings.HasSuffix(urlPath, "/") {
			return resolved{redirect: urlPath + "/"}, nil
		}
		return r.statRegular(filepath.Join(full, r.indexFile))
	case err == nil:
		return r.regular(full, info)
	case errors.Is(err, fs.ErrNotExist) || isNotDir(err):
		if r.defaultExt != "" && path.Ext(clean) == "" && !strings.HasSuffix(urlPath, "/") {
			return r.statRegular(full + "." + r.defaultExt)
		}
		return resolved{}, ErrNotFound
	default:
		return resolved{file: full}, err
	}
}

func (r *Responder) statRegular(file string) (resolved, error) {
	info, err := os.Stat(file)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isNotDir(err) {
			return resolved{}, ErrNotFound
		}
		return resolved{file: file}, err
	}
	return r.regular(file, info)
}

func (r *Responder) regular(file string, info os.FileInfo) (resolved, error) {
	if !info.Mode().IsRegular() {
		return resolved{}, ErrNotFound
	}
	return resolved{file: file, info: info}, nil
}

// sibling 返回预压缩文件（<file>.gz / <file>.br），不存在时 ok=false。
func sibling(file, suffix string) (string, os.FileInfo, bool) {
	if suffix == "" {
		return "", nil, false
	}
	name := file + suffix
	info, err := os.Stat(name)
	if err != nil || !info.Mode().IsRegular() {
		return "", nil, false
	}
	return name, info, true
}

// isNotDir 处理 /a.txt/b 这类路径中间段是文件的情况。
func isNotDir(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}
