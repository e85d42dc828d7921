// Package database 将每次聚合运行记录到 SQLite，作为可查询的运行历史。
// 历史只用于排查和统计，不参与下一次运行的合并。
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/iabetor/feedagg/internal/logger"
	"github.com/iabetor/feedagg/internal/rss"
	_ "modernc.org/sqlite"
)

// DB 是运行历史数据库连接。
type DB struct {
	*sql.DB
	path string
}

// Run 一次聚合运行的摘要。
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Attempted  int
	Collected  int
	Written    int
	OutputPath string
}

// Open 打开或创建数据库并执行迁移。
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("数据库路径为空")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("创建数据库目录失败: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("设置 WAL 模式失败: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys=ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("启用外键约束失败: %w", err)
	}

	db := &DB{DB: sqlDB, path: dbPath}
	if err := db.Migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Debugf("[database] 数据库已打开: %s", dbPath)
	return db, nil
}

// Path 返回数据库文件路径。
func (db *DB) Path() string {
	return db.path
}

// Migrate 创建运行历史相关的表。
func (db *DB) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			attempted INTEGER NOT NULL,
			collected INTEGER NOT NULL,
			written INTEGER NOT NULL,
			output_path TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS run_items (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			source TEXT NOT NULL,
			title TEXT NOT NULL,
			link TEXT NOT NULL,
			published TEXT NOT NULL,
			summary TEXT NOT NULL,
			PRIMARY KEY (run_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS run_skips (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			source_title TEXT NOT NULL,
			source_url TEXT NOT NULL,
			reason TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("数据库迁移失败: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_run_skips_url ON run_skips(source_url)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			logger.Warnf("[database] 创建索引失败: %v", err)
		}
	}
	return nil
}

// RecordRun 在一个事务中写入一次运行的摘要、输出条目和被跳过的订阅源，返回运行 ID。
func (db *DB) RecordRun(ctx context.Context, startedAt time.Time, outputPath string, report rss.Report) (string, error) {
	id := uuid.NewString()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("开启事务失败: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, attempted, collected, written, output_path)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, startedAt.UTC(), time.Now().UTC(), report.Attempted, report.Collected, len(report.Items), outputPath)
	if err != nil {
		return "", fmt.Errorf("写入运行记录失败: %w", err)
	}

	for i, item := range report.Items {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_items (run_id, position, source, title, link, published, summary)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, i, item.Source, item.Title, item.Link, item.Published, item.Summary)
		if err != nil {
			return "", fmt.Errorf("写入条目失败: %w", err)
		}
	}

	for _, s := range report.Skipped {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO run_skips (run_id, source_title, source_url, reason) VALUES (?, ?, ?, ?)`,
			id, s.Source.DisplayTitle(), s.Source.URL, s.Reason)
		if err != nil {
			return "", fmt.Errorf("写入跳过记录失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("提交事务失败: %w", err)
	}
	return id, nil
}

// LatestRun 返回最近一次运行，没有记录时返回 nil。
func (db *DB) LatestRun(ctx context.Context) (*Run, error) {
	var r Run
	err := db.QueryRowContext(ctx,
		`SELECT id, started_at, finished_at, attempted, collected, written, output_path
		 FROM runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Attempted, &r.Collected, &r.Written, &r.OutputPath)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询运行记录失败: %w", err)
	}
	return &r, nil
}

// FailureCounts 统计每个订阅源 URL 在历史运行中被跳过的次数。
func (db *DB) FailureCounts(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT source_url, COUNT(*) FROM run_skips GROUP BY source_url`)
	if err != nil {
		return nil, fmt.Errorf("统计失败次数失败: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var url string
		var n int
		if err := rows.Scan(&url, &n); err != nil {
			return nil, err
		}
		counts[url] = n
	}
	return counts, rows.Err()
}

// Close 关闭数据库连接。
func (db *DB) Close() error {
	if db.DB != nil {
		return db.DB.Close()
	}
	return nil
}
