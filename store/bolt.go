package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var rootBucket = []byte("seen")

// BoltStore 基于 bbolt 的记录存储，每个目标账号一个子 bucket
type BoltStore struct {
	db *bolt.DB
}

var _ SeenStore = (*BoltStore)(nil)

// NewBoltStore 打开或创建数据库文件
func NewBoltStore(dbPath string) (*BoltStore, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		return nil, fmt.Errorf("seen store bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create seen store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open seen store bolt: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init seen store bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Seen 判断是否已处理
func (s *BoltStore) Seen(ctx context.Context, target, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootBucket).Bucket([]byte(target))
		if b != nil {
			found = b.Get([]byte(id)) != nil
		}
		return nil
	})
	return found, err
}

// MarkSeen 记录已处理
func (s *BoltStore) MarkSeen(ctx context.Context, target, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(rootBucket).CreateBucketIfNotExists([]byte(target))
		if err != nil {
			return err
		}
		if b.Get([]byte(id)) != nil {
			return nil
		}
		return b.Put([]byte(id), encodeTime(at))
	})
}

// List 列出记录
func (s *BoltStore) List(ctx context.Context, target string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		return eachTarget(tx, target, func(name string, b *bolt.Bucket) error {
			return b.ForEach(func(k, v []byte) error {
				out = append(out, Record{Target: name, ID: string(k), SeenAt: decodeTime(v)})
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SeenAt.Equal(out[j].SeenAt) {
			return out[i].SeenAt.After(out[j].SeenAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Prune 删除旧记录
func (s *BoltStore) Prune(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		return eachTarget(tx, "", func(_ string, b *bolt.Bucket) error {
			var stale [][]byte
			if err := b.ForEach(func(k, v []byte) error {
				if decodeTime(v).Before(before) {
					stale = append(stale, append([]byte(nil), k...))
				}
				return nil
			}); err != nil {
				return err
			}
			for _, k := range stale {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
			removed += len(stale)
			return nil
		})
	})
	return removed, err
}

// Close 关闭数据库
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// eachTarget 遍历目标账号的 bucket，target 为空时遍历全部
func eachTarget(tx *bolt.Tx, target string, fn func(name string, b *bolt.Bucket) error) error {
	root := tx.Bucket(rootBucket)
	if target != "" {
		b := root.Bucket([]byte(target))
		if b == nil {
			return nil
		}
		return fn(target, b)
	}
	return root.ForEach(func(k, v []byte) error {
		if v != nil {
			return nil
		}
		return fn(string(k), root.Bucket(k))
	})
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UTC().UnixMilli()))
	return buf
}

func decodeTime(v []byte) time.Time {
	if len(v) != 8 {
		return time.Time{}
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(v)))
}
