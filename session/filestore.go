package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smallnest/maizone/config"
)

// FileStore 将登录态保存为 cookies-{uin}.json
type FileStore struct {
	dir string
}

// NewFileStore 创建文件存储
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path 返回账号对应的 cookie 文件路径
func (f *FileStore) Path(uin string) string {
	return filepath.Join(f.dir, config.CookieFileName(uin))
}

// Save 覆盖写入登录态
func (f *FileStore) Save(s *Session) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("refuse to save invalid session: %w", err)
	}
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	path := f.Path(s.UIN)
	// 唯一临时文件，避免并发写入冲突
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmpPath) }()

	if err := os.Rename(tmpPath, path); err != nil {
		// Windows 下目标存在时 rename 可能失败
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("%w (remove target failed: %v)", err, rmErr)
		}
		return os.Rename(tmpPath, path)
	}
	return nil
}

// Load 读取登录态，兼容旧版的扁平 cookie 字典
func (f *FileStore) Load(uin string) (*Session, error) {
	data, err := os.ReadFile(f.Path(uin))
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode cookie file: %w", err)
	}

	if cookiesRaw, ok := raw["cookies"]; ok && len(cookiesRaw) > 0 && cookiesRaw[0] == '{' {
		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("decode cookie file: %w", err)
		}
		if s.UIN == "" {
			s.UIN = UINFromCookie(s.Cookies["uin"])
		}
		return &s, nil
	}

	// 旧格式：{"uin": "o0123", "p_skey": "..."}
	flat := make(map[string]string, len(raw))
	for k, v := range raw {
		var str string
		if err := json.Unmarshal(v, &str); err != nil {
			return nil, fmt.Errorf("decode legacy cookie %q: %w", k, err)
		}
		flat[k] = str
	}
	info, err := os.Stat(f.Path(uin))
	acquired := time.Time{}
	if err == nil {
		acquired = info.ModTime()
	}
	s := New(StrategyCache, flat, acquired, 0)
	return s, nil
}

// Delete 删除账号的 cookie 文件
func (f *FileStore) Delete(uin string) error {
	err := os.Remove(f.Path(uin))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
