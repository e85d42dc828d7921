package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iabetor/feedagg/internal/config"
	"github.com/iabetor/feedagg/internal/database"
	"github.com/iabetor/feedagg/internal/logger"
	"github.com/iabetor/feedagg/internal/output"
	"go.uber.org/zap/zapcore"
)

const sourceXFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Source X</title>
    <item><title>third</title><link>https://x.example.com/3</link><pubDate>Wed, 03 Jan 2024 00:00:00 GMT</pubDate></item>
    <item><title>first</title><link>https://x.example.com/1</link><pubDate>Mon, 01 Jan 2024 00:00:00 GMT</pubDate></item>
    <item><title>second</title><link>https://x.example.com/2</link><pubDate>Tue, 02 Jan 2024 00:00:00 GMT</pubDate></item>
  </channel>
</rss>`

func TestRunWritesMergedOutput(t *testing.T) {
	var logs bytes.Buffer
	logger.SetOutput(&logs, zapcore.InfoLevel)
	t.Cleanup(func() { logger.SetOutput(os.Stderr, zapcore.InfoLevel) })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sourceXFeed)
	}))
	defer srv.Close()

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	dir := t.TempDir()
	feedsFile := filepath.Join(dir, "feeds.json")
	feeds := fmt.Sprintf(`{"feeds":[{"xmlUrl":%q,"title":"X"},{"xmlUrl":%q,"title":"Source Y"}]}`, srv.URL, downURL)
	if err := os.WriteFile(feedsFile, []byte(feeds), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.FeedsFile = feedsFile
	cfg.OutputFile = filepath.Join(dir, "out", "news.json")
	cfg.ItemsPerFeed = 5
	cfg.TotalMaxItems = 10
	cfg.TimeoutSeconds = 2
	cfg.Archive.Path = filepath.Join(dir, "runs.db")

	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run 失败: %v", err)
	}

	items, err := output.ReadJSON(cfg.OutputFile)
	if err != nil {
		t.Fatalf("读取输出失败: %v", err)
	}
	want := []string{"2024-01-03T00:00:00Z", "2024-01-02T00:00:00Z", "2024-01-01T00:00:00Z"}
	if len(items) != len(want) {
		t.Fatalf("期望 %d 条，得到 %d 条", len(want), len(items))
	}
	for i, w := range want {
		if items[i].Published != w {
			t.Errorf("第 %d 条时间 %s，期望 %s", i, items[i].Published, w)
		}
	}

	out := logs.String()
	if !strings.Contains(out, "跳过 Source Y") {
		t.Errorf("应输出 Source Y 的跳过信息:\n%s", out)
	}
	if !strings.Contains(out, "已写入 3 条") {
		t.Errorf("汇总日志应显示 3 条:\n%s", out)
	}
	if !strings.Contains(out, "Source Y 累计失败 1 次") {
		t.Errorf("应输出 Source Y 的历史失败次数:\n%s", out)
	}

	db, err := database.Open(cfg.Archive.Path)
	if err != nil {
		t.Fatalf("打开运行历史失败: %v", err)
	}
	defer db.Close()
	latest, err := db.LatestRun(context.Background())
	if err != nil || latest == nil {
		t.Fatalf("应记录运行历史: %v", err)
	}
	if latest.Written != 3 || latest.Attempted != 2 {
		t.Errorf("运行历史不正确: %+v", latest)
	}
}

func TestRunMissingFeedsFile(t *testing.T) {
	cfg := config.Default()
	cfg.FeedsFile = filepath.Join(t.TempDir(), "missing.json")
	cfg.OutputFile = filepath.Join(t.TempDir(), "news.json")

	if err := run(context.Background(), cfg); err == nil {
		t.Fatal("订阅源列表缺失应返回错误")
	}
	if _, err := os.Stat(cfg.OutputFile); !os.IsNotExist(err) {
		t.Error("启动失败时不应写出输出文件")
	}
}

// newRunFixture 准备一个可用的订阅源和一个已关闭的订阅源。
func newRunFixture(t *testing.T) *config.Config {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sourceXFeed)
	}))
	t.Cleanup(srv.Close)

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	dir := t.TempDir()
	feedsFile := filepath.Join(dir, "feeds.json")
	feeds := fmt.Sprintf(`{"feeds":[{"xmlUrl":%q,"title":"X"},{"xmlUrl":%q,"title":"Source Y"}]}`, srv.URL, downURL)
	if err := os.WriteFile(feedsFile, []byte(feeds), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.FeedsFile = feedsFile
	cfg.OutputFile = filepath.Join(dir, "news.json")
	cfg.TimeoutSeconds = 2
	cfg.Archive.Path = filepath.Join(dir, "runs.db")
	return cfg
}

func TestRunCancelledKeepsPreviousOutput(t *testing.T) {
	cfg := newRunFixture(t)
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("首次 run 失败: %v", err)
	}
	before, err := os.ReadFile(cfg.OutputFile)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := run(ctx, cfg); err == nil {
		t.Fatal("取消的运行应返回错误")
	}

	after, err := os.ReadFile(cfg.OutputFile)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Errorf("取消的运行不应覆盖输出:\n之前: %s\n之后: %s", before, after)
	}
}

func TestRunReportsHistory(t *testing.T) {
	cfg := newRunFixture(t)
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("首次 run 失败: %v", err)
	}

	var logs bytes.Buffer
	logger.SetOutput(&logs, zapcore.InfoLevel)
	t.Cleanup(func() { logger.SetOutput(os.Stderr, zapcore.InfoLevel) })

	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("第二次 run 失败: %v", err)
	}
	out := logs.String()
	if !strings.Contains(out, "上次运行") || !strings.Contains(out, "写入 3 条") {
		t.Errorf("应输出上次运行摘要:\n%s", out)
	}
	if !strings.Contains(out, "Source Y 累计失败 2 次") {
		t.Errorf("失败次数应跨运行累计:\n%s", out)
	}
}

func TestRunZeroTotalMaxWritesEmptyList(t *testing.T) {
	cfg := newRunFixture(t)
	cfg.TotalMaxItems = 0
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run 失败: %v", err)
	}
	items, err := output.ReadJSON(cfg.OutputFile)
	if err != nil {
		t.Fatalf("读取输出失败: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("total-max 为 0 时应写出空列表，得到 %d 条", len(items))
	}
}
