// Package rss 实现订阅源聚合流水线：抓取、条目归一化、日期归一化以及跨源合并排序。
package rss

import "github.com/mmcdole/gofeed"

// DefaultSourceTitle 订阅源列表未提供标题时使用的名称。
const DefaultSourceTitle = "Unknown Source"

// Source 订阅源描述，运行期间不可变。
type Source struct {
	URL   string
	Title string
}

// DisplayTitle 返回用于日志和兜底来源名的标题。
func (s Source) DisplayTitle() string {
	if s.Title == "" {
		return DefaultSourceTitle
	}
	return s.Title
}

// Document 单次抓取解析得到的原始订阅文档，仅在归一化之前存在。
type Document struct {
	Title   string
	Entries []*gofeed.Item
}

// Item 归一化后的条目。字段顺序即输出 JSON 的字段顺序，缺失值一律为空字符串。
type Item struct {
	Source    string `json:"source"`
	Title     string `json:"title"`
	Link      string `json:"link"`
	Published string `json:"published"`
	Summary   string `json:"summary"`
}

// SkippedSource 记录一个被跳过的订阅源及原因。
type SkippedSource struct {
	Source Source
	Reason string
}

// Report 一次聚合运行的结果。
type Report struct {
	Items     []Item
	Attempted int
	Collected int // 截断前收集到的条目数
	Skipped   []SkippedSource
}
