package rss

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/iabetor/feedagg/internal/logger"
	"golang.org/x/sync/errgroup"
)

const (
	defaultItemsPerFeed  = 5
	defaultTotalMaxItems = 100
	defaultWorkers       = 4
)

// Options 聚合参数。ItemsPerFeed 与 TotalMaxItems 按字面值生效，0 表示不取任何条目；
// Timeout 和 Workers 为零时使用默认值。
type Options struct {
	ItemsPerFeed  int
	TotalMaxItems int
	Timeout       time.Duration
	// Workers 同时进行的抓取数量，1 即逐个抓取。
	Workers int
	Summary SummaryOptions
}

// DefaultOptions 返回默认聚合参数。
func DefaultOptions() Options {
	return Options{
		ItemsPerFeed:  defaultItemsPerFeed,
		TotalMaxItems: defaultTotalMaxItems,
		Timeout:       defaultFetchTimeout,
		Workers:       defaultWorkers,
	}
}

func (o Options) withDefaults() Options {
	if o.ItemsPerFeed < 0 {
		o.ItemsPerFeed = 0
	}
	if o.TotalMaxItems < 0 {
		o.TotalMaxItems = 0
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultFetchTimeout
	}
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	return o
}

// SourceFetcher 抓取单个订阅源。
type SourceFetcher interface {
	Fetch(ctx context.Context, src Source, timeout time.Duration) (*Document, error)
}

// Aggregator 按配置抓取所有订阅源，合并、排序并截断结果。
type Aggregator struct {
	fetcher SourceFetcher
	opts    Options
}

// NewAggregator 创建聚合器。
func NewAggregator(fetcher SourceFetcher, opts Options) *Aggregator {
	return &Aggregator{fetcher: fetcher, opts: opts.withDefaults()}
}

// sourceResult 每个订阅源独占一个槽位，合并顺序只取决于订阅源在列表中的位置。
type sourceResult struct {
	items []Item
	err   error
}

// Run 执行一次完整聚合。单个订阅源失败只会被跳过，不会中断运行。
func (a *Aggregator) Run(ctx context.Context, sources []Source) Report {
	results := make([]sourceResult, len(sources))

	var g errgroup.Group
	g.SetLimit(a.opts.Workers)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			results[i] = a.collect(ctx, src)
			return nil
		})
	}
	// 每个任务只写自己的槽位且不返回错误，Wait 仅用于等待全部完成
	g.Wait()

	report := Report{Attempted: len(sources)}
	var all []Item
	for i, r := range results {
		if r.err != nil {
			report.Skipped = append(report.Skipped, SkippedSource{Source: sources[i], Reason: skipReason(r.err)})
			continue
		}
		all = append(all, r.items...)
	}
	report.Collected = len(all)

	SortItems(all)
	report.Items = Truncate(all, a.opts.TotalMaxItems)
	if report.Items == nil {
		report.Items = []Item{}
	}
	return report
}

func (a *Aggregator) collect(ctx context.Context, src Source) sourceResult {
	logger.Infof("[rss] 正在抓取 %s (%s)...", src.DisplayTitle(), src.URL)

	doc, err := a.fetcher.Fetch(ctx, src, a.opts.Timeout)
	if err != nil {
		logger.Warnf("[rss] 跳过 %s: %s", src.DisplayTitle(), skipReason(err))
		return sourceResult{err: err}
	}

	entries := doc.Entries
	if len(entries) > a.opts.ItemsPerFeed {
		entries = entries[:a.opts.ItemsPerFeed]
	}
	items := make([]Item, 0, len(entries))
	for _, entry := range entries {
		items = append(items, NormalizeEntry(entry, doc.Title, src.DisplayTitle(), a.opts.Summary))
	}
	logger.Debugf("[rss] %s 贡献 %d 条 (共 %d 条)", src.DisplayTitle(), len(items), len(doc.Entries))
	return sourceResult{items: items}
}

func skipReason(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		if fe.Timeout() {
			return string(fe.Stage) + ": 超时: " + fe.Err.Error()
		}
		return string(fe.Stage) + ": " + fe.Err.Error()
	}
	return err.Error()
}

// SortItems 按 published 倒序稳定排序，空值或无法解析的时间视为最早。
func SortItems(items []Item) {
	keys := make([]time.Time, len(items))
	valid := make([]bool, len(items))
	for i := range items {
		keys[i], valid[i] = parseInstant(items[i].Published)
	}
	sort.Stable(byRecency{items: items, keys: keys, valid: valid})
}

type byRecency struct {
	items []Item
	keys  []time.Time
	valid []bool
}

func (b byRecency) Len() int { return len(b.items) }

func (b byRecency) Less(i, j int) bool {
	switch {
	case !b.valid[i]:
		return false
	case !b.valid[j]:
		return true
	}
	return b.keys[i].After(b.keys[j])
}

func (b byRecency) Swap(i, j int) {
	b.items[i], b.items[j] = b.items[j], b.items[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
	b.valid[i], b.valid[j] = b.valid[j], b.valid[i]
}

// Truncate 返回前 max 条。
func Truncate(items []Item, max int) []Item {
	if max >= 0 && len(items) > max {
		return items[:max]
	}
	return items
}
