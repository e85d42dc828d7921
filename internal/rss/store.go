package rss

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/iabetor/feedagg/internal/logger"
	"gopkg.in/yaml.v3"
)

// sourceEntry 订阅源列表中的单条记录，兼容 xmlUrl 与 url 两种写法。
type sourceEntry struct {
	XMLURL string `json:"xmlUrl" yaml:"xmlUrl"`
	URL    string `json:"url" yaml:"url"`
	Title  string `json:"title" yaml:"title"`
}

type sourceList struct {
	Feeds []sourceEntry `json:"feeds" yaml:"feeds"`
}

// LoadSources 读取订阅源列表。按扩展名识别格式：.yaml/.yml 使用 YAML，其余按 JSON 解析。
// 文件不可读或格式错误时返回错误，调用方应终止运行。
func LoadSources(path string) ([]Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取订阅源列表 %s 失败: %w", path, err)
	}

	var list sourceList
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &list)
	default:
		err = json.Unmarshal(data, &list)
	}
	if err != nil {
		return nil, fmt.Errorf("解析订阅源列表 %s 失败: %w", path, err)
	}

	sources, err := list.sources()
	if err != nil {
		return nil, fmt.Errorf("订阅源列表 %s 无效: %w", path, err)
	}
	if len(sources) == 0 {
		logger.Warnf("[rss] 订阅源列表 %s 为空", path)
	}
	return sources, nil
}

func (l sourceList) sources() ([]Source, error) {
	sources := make([]Source, 0, len(l.Feeds))
	for i, e := range l.Feeds {
		url := strings.TrimSpace(e.XMLURL)
		if url == "" {
			url = strings.TrimSpace(e.URL)
		}
		if url == "" {
			return nil, fmt.Errorf("第 %d 个订阅源缺少 xmlUrl", i+1)
		}
		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = DefaultSourceTitle
		}
		sources = append(sources, Source{URL: url, Title: title})
	}
	return sources, nil
}
