package rss

import (
	"strings"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"
)

// UntitledPlaceholder 条目缺少标题时使用的占位符。
const UntitledPlaceholder = "Untitled"

// SummaryOptions 摘要后处理选项，零值表示保留原文。
type SummaryOptions struct {
	StripHTML bool
	MaxRunes  int
}

// NormalizeEntry 将一个原始条目转换为 Item。
// 每个字段独立取默认值，残缺的条目不会导致失败。
func NormalizeEntry(entry *gofeed.Item, feedTitle, sourceTitle string, opts SummaryOptions) Item {
	item := Item{
		Source: sourceName(feedTitle, sourceTitle),
		Title:  entryTitle(entry),
		Link:   entryLink(entry),
	}
	if ts, ok := PickTimestamp(entry); ok {
		item.Published, _ = NormalizeTimestamp(ts)
	}
	item.Summary = entrySummary(entry, opts)
	return item
}

func sourceName(feedTitle, sourceTitle string) string {
	if t := strings.TrimSpace(feedTitle); t != "" {
		return t
	}
	if sourceTitle == "" {
		return DefaultSourceTitle
	}
	return sourceTitle
}

func entryTitle(entry *gofeed.Item) string {
	if entry == nil || entry.Title == "" {
		return UntitledPlaceholder
	}
	return entry.Title
}

func entryLink(entry *gofeed.Item) string {
	if entry == nil {
		return ""
	}
	if entry.Link != "" {
		return entry.Link
	}
	for _, l := range entry.Links {
		if l != "" {
			return l
		}
	}
	return ""
}

func entrySummary(entry *gofeed.Item, opts SummaryOptions) string {
	if entry == nil {
		return ""
	}
	summary := entry.Description
	if opts.StripHTML {
		summary = stripHTML(summary)
	}
	if opts.MaxRunes > 0 {
		summary = truncate(summary, opts.MaxRunes)
	}
	return summary
}

// stripHTML 剥离 HTML 标签，只保留纯文本，并合并连续空白。
func stripHTML(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch tt := z.Next(); tt {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if tt == html.StartTagToken && isInvisible(name) {
				skip++
			}
			if isBlock(name) {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if isInvisible(name) && skip > 0 {
				skip--
			}
			if isBlock(name) {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

func isInvisible(tag []byte) bool {
	switch string(tag) {
	case "script", "style":
		return true
	}
	return false
}

// isBlock 块级标签前后补空格，避免相邻段落的文字粘连。
func isBlock(tag []byte) bool {
	switch string(tag) {
	case "p", "div", "br", "li", "ul", "ol", "tr", "td", "th", "table",
		"h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "hr", "section", "article":
		return true
	}
	return false
}

// truncate 截断字符串到指定字符数（按 UTF-8 字符计算）。
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
