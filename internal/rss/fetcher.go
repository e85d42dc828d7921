package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

const (
	defaultFetchTimeout = 10 * time.Second
	defaultUserAgent    = "feedagg/1.0"
	defaultMaxBodyBytes = 10 << 20
)

// FetchStage 标识抓取失败发生的阶段。
type FetchStage string

const (
	StageRequest FetchStage = "request"
	StageStatus  FetchStage = "status"
	StageBody    FetchStage = "body"
	StageParse   FetchStage = "parse"
)

// FetchError 单个订阅源抓取失败。网络错误、非 2xx 状态、超时和无法解析的内容都归为此类。
type FetchError struct {
	Source Source
	Stage  FetchStage
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s (%s): %s: %v", e.Source.DisplayTitle(), e.Source.URL, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout 判断失败是否由超时导致。
func (e *FetchError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// FetcherOptions 抓取器配置，零值字段使用默认值。
type FetcherOptions struct {
	UserAgent    string
	MaxBodyBytes int64
	Client       *http.Client
}

// Fetcher 负责抓取并解析单个订阅源。可被多个 goroutine 并发使用。
type Fetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// NewFetcher 创建订阅源抓取器。
func NewFetcher(opts FetcherOptions) *Fetcher {
	f := &Fetcher{
		client:       opts.Client,
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.userAgent == "" {
		f.userAgent = defaultUserAgent
	}
	if f.maxBodyBytes <= 0 {
		f.maxBodyBytes = defaultMaxBodyBytes
	}
	return f
}

// Fetch 在 timeout 内抓取 src 并解析为 Document。
// 格式（RSS/Atom/JSON Feed）按内容自动识别，与 URL 无关。
func (f *Fetcher) Fetch(ctx context.Context, src Source, timeout time.Duration) (*Document, error) {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, &FetchError{Source: src, Stage: StageRequest, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{Source: src, Stage: StageRequest, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Source: src, Stage: StageStatus, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}

	// 多读一个字节用于判断是否超出上限
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, &FetchError{Source: src, Stage: StageBody, Err: err}
	}
	// 截断后的文档仍可能解析成功，必须显式报错
	if int64(len(body)) > f.maxBodyBytes {
		return nil, &FetchError{Source: src, Stage: StageBody, Err: fmt.Errorf("响应体超过 %d 字节上限", f.maxBodyBytes)}
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, &FetchError{Source: src, Stage: StageParse, Err: err}
	}

	return &Document{Title: parsed.Title, Entries: parsed.Items}, nil
}
