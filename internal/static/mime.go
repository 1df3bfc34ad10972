package static

import (
	"path/filepath"
	"strings"
)

// defaultMimeTypes 以不带点的小写扩展名为键。
var defaultMimeTypes = map[string]string{
	"7z":    "application/x-7z-compressed",
	"atom":  "application/atom+xml",
	"avif":  "image/avif",
	"bin":   "application/octet-stream",
	"bmp":   "image/x-ms-bmp",
	"css":   "text/css; charset=utf-8",
	"csv":   "text/csv; charset=utf-8",
	"deb":   "application/octet-stream",
	"dll":   "application/octet-stream",
	"doc":   "application/msword",
	"dmg":   "application/octet-stream",
	"exe":   "application/octet-stream",
	"flv":   "video/x-flv",
	"gif":   "image/gif",
	"gz":    "application/gzip",
	"htm":   "text/html; charset=utf-8",
	"html":  "text/html; charset=utf-8",
	"ico":   "image/x-icon",
	"img":   "application/octet-stream",
	"iso":   "application/octet-stream",
	"jar":   "application/java-archive",
	"jpg":   "image/jpeg",
	"jpeg":  "image/jpeg",
	"js":    "application/javascript; charset=utf-8",
	"json":  "application/json",
	"m4a":   "audio/x-m4a",
	"map":   "application/json",
	"md":    "text/markdown; charset=utf-8",
	"mjs":   "application/javascript; charset=utf-8",
	"mov":   "video/quicktime",
	"mp3":   "audio/mpeg",
	"mp4":   "video/mp4",
	"mpeg":  "video/mpeg",
	"mpg":   "video/mpeg",
	"pdf":   "application/pdf",
	"png":   "image/png",
	"ppt":   "application/vnd.ms-powerpoint",
	"ps":    "application/postscript",
	"rar":   "application/x-rar-compressed",
	"rss":   "application/rss+xml",
	"rtf":   "application/rtf",
	"svg":   "image/svg+xml",
	"tar":   "application/x-tar",
	"txt":   "text/plain; charset=utf-8",
	"wasm":  "application/wasm",
	"war":   "application/java-archive",
	"webm":  "video/webm",
	"webp":  "image/webp",
	"woff":  "font/woff",
	"woff2": "font/woff2",
	"xls":   "application/vnd.ms-excel",
	"xml":   "text/xml; charset=utf-8",
	"zip":   "application/zip",
}

// mimeTable 合并内置表与配置覆盖，构造后只读。
type mimeTable struct {
	types       map[string]string
	defaultType string
}

func newMimeTable(overrides map[string]string, defaultType string) mimeTable {
	types := make(map[string]string, len(defaultMimeTypes)+len(overrides))
	for ext, typ := range defaultMimeTypes {
		types[ext] = typ
	}
	for ext, typ := range overrides {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" || strings.TrimSpace(typ) == "" {
			continue
		}
		types[ext] = strings.TrimSpace(typ)
	}
	if defaultType == "" {
		defaultType = "application/octet-stream"
	}
	return mimeTable{types: types, defaultType: defaultType}
}

// lookup 返回文件名对应的 Content-Type，未知扩展名使用默认类型。
func (m mimeTable) lookup(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if typ, ok := m.types[ext]; ok {
		return typ
	}
	return m.defaultType
}
