package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// CacheStrategy 读取本地保存的 cookie 文件，不访问网络
type CacheStrategy struct {
	UIN   string
	Files *FileStore
	Now   func() time.Time
}

// Name 策略名称
func (c *CacheStrategy) Name() string { return StrategyCache }

// Attempt 加载缓存的登录态
func (c *CacheStrategy) Attempt(_ context.Context) (*Session, error) {
	if c.Files == nil {
		return nil, errors.New("no cookie directory configured")
	}
	s, err := c.Files.Load(c.UIN)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no cached cookies at %s", c.Files.Path(c.UIN))
		}
		return nil, err
	}
	if s.UIN == "" {
		s.UIN = NormalizeUIN(c.UIN)
	}
	if s.Expired(now(c.Now)) {
		return nil, fmt.Errorf("cached cookies expired at %s", s.ExpiresAt.Format(time.RFC3339))
	}
	s.Strategy = StrategyCache
	return s, nil
}
