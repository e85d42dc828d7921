// Package output 将聚合结果写入 JSON 文件。
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iabetor/feedagg/internal/rss"
)

// Encode 将条目序列化为两空格缩进的 JSON 数组，不转义 HTML 字符。
func Encode(items []rss.Item) ([]byte, error) {
	if items == nil {
		items = []rss.Item{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return nil, fmt.Errorf("序列化结果失败: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteJSON 原子地写入结果：先写同目录下的临时文件，再重命名覆盖目标文件。
// 失败时目标文件保持原状。
func WriteJSON(path string, items []rss.Item) error {
	data, err := Encode(items)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("替换输出文件 %s 失败: %w", path, err)
	}
	committed = true
	return nil
}

// ReadJSON 读取 WriteJSON 写出的文件。
func ReadJSON(path string) ([]rss.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	var items []rss.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	return items, nil
}
