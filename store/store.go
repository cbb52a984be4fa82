// Package store 持久化已处理说说记录（Seen-Post Record）。
//
// 记录按目标账号分组，只增不减，按时间裁剪。默认使用 SQLite，也可选 bbolt。
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallnest/maizone/config"
)

// 后端名称
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
)

// Record 一条已处理记录
type Record struct {
	Target string    `json:"target"`
	ID     string    `json:"id"`
	SeenAt time.Time `json:"seen_at"`
}

// SeenStore 已处理记录存储
type SeenStore interface {
	// Seen 判断 target 下的 id 是否已处理
	Seen(ctx context.Context, target, id string) (bool, error)
	// MarkSeen 记录已处理，重复记录保留首次时间
	MarkSeen(ctx context.Context, target, id string, at time.Time) error
	// List 列出记录，target 为空时列出全部，按时间倒序
	List(ctx context.Context, target string) ([]Record, error)
	// Prune 删除 before 之前的记录，返回删除数量
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// Open 按配置打开存储
func Open(cfg config.StoreConfig) (SeenStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendSQLite:
		return NewSQLiteStore(cfg.Path)
	case BackendBolt:
		return NewBoltStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// CommentKey 回复过的评论在记录中的 id
func CommentKey(postTID, commentTID string) string {
	return "comment:" + postTID + ":" + commentTID
}
