package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iabetor/feedagg/internal/config"
	"github.com/iabetor/feedagg/internal/database"
	"github.com/iabetor/feedagg/internal/logger"
	"github.com/iabetor/feedagg/internal/output"
	"github.com/iabetor/feedagg/internal/rss"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径，为空则使用默认配置")
	feedsFile := flag.String("feeds", "", "订阅源列表文件 (.json/.yaml)")
	outputFile := flag.String("output", "", "输出 JSON 文件")
	itemsPerFeed := flag.Int("items-per-feed", 0, "每个订阅源最多取多少条")
	totalMax := flag.Int("total-max", 0, "输出条目总数上限")
	timeout := flag.Int("timeout", 0, "单个订阅源超时（秒）")
	workers := flag.Int("workers", 0, "同时抓取的订阅源数量")
	logLevel := flag.String("log-level", "", "日志级别: debug, info, warn, error")
	quiet := flag.Bool("quiet", false, "只输出错误日志")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
			os.Exit(1)
		}
	}

	// 命令行参数覆盖配置文件
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "feeds":
			cfg.FeedsFile = *feedsFile
		case "output":
			cfg.OutputFile = *outputFile
		case "items-per-feed":
			cfg.ItemsPerFeed = *itemsPerFeed
		case "total-max":
			cfg.TotalMaxItems = *totalMax
		case "timeout":
			cfg.TimeoutSeconds = *timeout
		case "workers":
			cfg.Workers = *workers
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	if *quiet {
		cfg.Log.Level = "error"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "参数无效: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("[main] 收到信号 %v，正在取消抓取...", sig)
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		logger.Errorf("[main] %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	startedAt := time.Now()

	sources, err := rss.LoadSources(cfg.FeedsFile)
	if err != nil {
		return err
	}

	var archive *database.DB
	if cfg.Archive.Path != "" {
		archive, err = database.Open(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("打开运行历史失败: %w", err)
		}
		defer archive.Close()

		if prev, err := archive.LatestRun(ctx); err != nil {
			logger.Warnf("[main] 读取上次运行失败: %v", err)
		} else if prev != nil {
			logger.Infof("[main] 上次运行 %s: 写入 %d 条 (共 %d 个订阅源)",
				prev.StartedAt.Local().Format(time.DateTime), prev.Written, prev.Attempted)
		}
	}

	fetcher := rss.NewFetcher(rss.FetcherOptions{
		UserAgent:    cfg.UserAgent,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	agg := rss.NewAggregator(fetcher, rss.Options{
		ItemsPerFeed:  cfg.ItemsPerFeed,
		TotalMaxItems: cfg.TotalMaxItems,
		Timeout:       cfg.Timeout(),
		Workers:       cfg.Workers,
		Summary: rss.SummaryOptions{
			StripHTML: cfg.Summary.StripHTML,
			MaxRunes:  cfg.Summary.MaxRunes,
		},
	})

	report := agg.Run(ctx, sources)
	// 被取消的运行结果不完整，保留上一次的输出文件
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("运行被取消，未写入输出: %w", err)
	}

	if err := output.WriteJSON(cfg.OutputFile, report.Items); err != nil {
		return err
	}
	logger.Infof("[main] 已写入 %d 条到 %s (跳过 %d/%d 个订阅源)",
		len(report.Items), cfg.OutputFile, len(report.Skipped), report.Attempted)

	if archive != nil {
		id, err := archive.RecordRun(ctx, startedAt, cfg.OutputFile, report)
		if err != nil {
			logger.Warnf("[main] 记录运行历史失败: %v", err)
		} else {
			logger.Debugf("[main] 运行历史已记录: %s", id)
			reportFailureHistory(ctx, archive, report.Skipped)
		}
	}
	return nil
}

// reportFailureHistory 为本次被跳过的订阅源输出历史累计失败次数（含本次）。
func reportFailureHistory(ctx context.Context, archive *database.DB, skipped []rss.SkippedSource) {
	if len(skipped) == 0 {
		return
	}
	counts, err := archive.FailureCounts(ctx)
	if err != nil {
		logger.Warnf("[main] 统计失败次数失败: %v", err)
		return
	}
	for _, s := range skipped {
		logger.Warnf("[main] %s 累计失败 %d 次", s.Source.DisplayTitle(), counts[s.Source.URL])
	}
}
