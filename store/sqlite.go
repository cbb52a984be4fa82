package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// SQLiteStore 基于 SQLite 的记录存储
type SQLiteStore struct {
	db *sql.DB
}

var _ SeenStore = (*SQLiteStore)(nil)

// NewSQLiteStore 打开或创建数据库
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		return nil, fmt.Errorf("seen store sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create seen store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open seen store sqlite: %w", err)
	}
	// 单连接保证写入顺序
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS seen_posts (
  target TEXT NOT NULL,
  post_id TEXT NOT NULL,
  seen_at INTEGER NOT NULL,
  PRIMARY KEY (target, post_id)
);
CREATE INDEX IF NOT EXISTS idx_seen_posts_seen_at ON seen_posts(seen_at);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init seen store schema: %w", err)
	}
	return nil
}

// Seen 判断是否已处理
func (s *SQLiteStore) Seen(ctx context.Context, target, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM seen_posts WHERE target = ? AND post_id = ?`, target, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen post: %w", err)
	}
	return true, nil
}

// MarkSeen 记录已处理
func (s *SQLiteStore) MarkSeen(ctx context.Context, target, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen_posts(target, post_id, seen_at) VALUES(?, ?, ?)
     ON CONFLICT(target, post_id) DO NOTHING`,
		target, id, at.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("mark seen post: %w", err)
	}
	return nil
}

// List 列出记录
func (s *SQLiteStore) List(ctx context.Context, target string) ([]Record, error) {
	query := `SELECT target, post_id, seen_at FROM seen_posts`
	var args []any
	if target != "" {
		query += ` WHERE target = ?`
		args = append(args, target)
	}
	query += ` ORDER BY seen_at DESC, post_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list seen posts: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r  Record
			ms int64
		)
		if err := rows.Scan(&r.Target, &r.ID, &ms); err != nil {
			return nil, fmt.Errorf("scan seen post: %w", err)
		}
		r.SeenAt = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune 删除旧记录
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM seen_posts WHERE seen_at < ?`, before.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune seen posts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Close 关闭数据库
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
