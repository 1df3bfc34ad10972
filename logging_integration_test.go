package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckConfigWritesRotatingLogFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "filehub.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
Root = "%s"
`, logPath, filepath.Join(dir, "public")))

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("check-config 应返回 0，得到 %d，stderr: %s", code, stdErrBuffer().String())
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("日志文件应被创建: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `"action":"check_config"`) || !strings.Contains(content, `"result":"ok"`) {
		t.Fatalf("日志缺少 check_config 记录: %s", content)
	}
	if !strings.Contains(content, `"cache_mode":"disabled"`) {
		t.Fatalf("未配置代理时 cache_mode 应为 disabled: %s", content)
	}
}

func TestLoggingFallbackToStdout(t *testing.T) {
	dir := t.TempDir()
	// 父路径是普通文件，MkdirAll 必然失败，与运行用户的权限无关。
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("创建占位文件失败: %v", err)
	}

	logPath := filepath.Join(blocker, "sub", "filehub.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
LogFilePath = "%s"
Root = "%s"
ListenPort = 5000

[Proxy]
Target = "http://127.0.0.1:9000"
CacheDir = "proxy-cache"
`, logPath, filepath.Join(dir, "public")))

	useBufferWriters(t)
	if code := run(cliOptions{configPath: configPath, checkOnly: true}); code != 0 {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
	if info, err := os.Stat(blocker); err != nil || info.IsDir() {
		t.Fatalf("占位文件不应被替换为目录: %v", err)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
