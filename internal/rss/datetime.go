package rss

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

// TimeLayout 输出时间格式：UTC，精确到秒，Z 后缀。
const TimeLayout = "2006-01-02T15:04:05Z"

// now 可在测试中替换。
var now = time.Now

// Timestamp 订阅源提供的时间字段：gofeed 已解析出的值以及原始文本。
type Timestamp struct {
	Parsed *time.Time
	Raw    string
}

// PickTimestamp 选取条目的时间字段。
// 已解析的值优先，published 优先于 updated；两者都未解析时才使用原始文本，
// 同样先 published 后 updated。字段都不存在时 ok 为 false。
func PickTimestamp(entry *gofeed.Item) (Timestamp, bool) {
	if entry == nil {
		return Timestamp{}, false
	}
	candidates := []Timestamp{
		{Parsed: entry.PublishedParsed, Raw: entry.Published},
		{Parsed: entry.UpdatedParsed, Raw: entry.Updated},
	}
	for _, ts := range candidates {
		if ts.Parsed != nil && validInstant(*ts.Parsed) {
			return ts, true
		}
	}
	for _, ts := range candidates {
		if _, ok := parseLoose(ts.Raw); ok {
			return Timestamp{Raw: ts.Raw}, true
		}
	}
	// 字段存在但都无法转换，交给 NormalizeTimestamp 走兜底路径
	for _, ts := range candidates {
		if ts.Parsed != nil || strings.TrimSpace(ts.Raw) != "" {
			return ts, true
		}
	}
	return Timestamp{}, false
}

// NormalizeTimestamp 将时间字段转换为 TimeLayout 格式。
// 转换失败时返回当前 UTC 时间并且 ok 为 false，从不 panic。
func NormalizeTimestamp(ts Timestamp) (string, bool) {
	if t, ok := convert(ts); ok {
		return t.UTC().Format(TimeLayout), true
	}
	return now().UTC().Format(TimeLayout), false
}

func convert(ts Timestamp) (time.Time, bool) {
	if ts.Parsed != nil && validInstant(*ts.Parsed) {
		return *ts.Parsed, true
	}
	return parseLoose(ts.Raw)
}

// parseLoose 用宽松解析器处理 gofeed 未能解析的日期文本。
func parseLoose(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil || !validInstant(t) {
		return time.Time{}, false
	}
	return t, true
}

// validInstant 零值或年份超出四位数的时间无法按 TimeLayout 表示。
func validInstant(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	year := t.UTC().Year()
	return year >= 0 && year <= 9999
}

// parseInstant 解析已归一化的 published 字段，空值或无法解析时 ok 为 false。
func parseInstant(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
