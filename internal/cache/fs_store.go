package cache

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// indexName 用于以 "/" 结尾的路径，避免把目录本身当作文件写入。
const indexName = "index.html"

// destination 计算缓存文件位置：绝对 root 直接作为目标文件，否则拼接 workDir/root/<path>。
func destination(workDir, root, requestPath string) (string, error) {
	if filepath.IsAbs(root) {
		return filepath.Clean(root), nil
	}

	raw, _, _ := strings.Cut(requestPath, "?")
	if raw == "" {
		raw = "/"
	}
	rel := path.Clean("/" + raw)
	if strings.HasSuffix(raw, "/") {
		rel = path.Join(rel, indexName)
	}

	base := filepath.Join(workDir, root)
	filePath := filepath.Join(base, filepath.FromSlash(rel))
	if filePath == base || !strings.HasPrefix(filePath, base+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid cache path: %s", requestPath)
	}
	return filePath, nil
}

// ensureDir 幂等地创建目标文件的父目录。
func ensureDir(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	return nil
}

// writeAtomic 通过临时文件 + rename 写入 filePath，失败时清理临时文件。
// 并发写同一路径时以最后一次 rename 为准，文件内容不会交错。
func writeAtomic(filePath string, body io.Reader) (int64, error) {
	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := io.Copy(tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return written, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return written, err
	}
	return written, nil
}

// promote 把已完整落盘的文件直接 rename 为目标，无需再次拷贝。
func promote(tempName, filePath string) (int64, error) {
	info, err := os.Stat(tempName)
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}
	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return info.Size(), nil
}
