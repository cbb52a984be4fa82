// Package workspace 维护数据目录：登录态、图片、已读记录和可选的 PERSONA.md。
package workspace

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/smallnest/maizone/config"
)

// templates 下的文件在数据目录缺失时补齐，已有文件不覆盖
//
//go:embed templates/*.md
var templatesFS embed.FS

// PersonaFile 可选的人设文件，内容覆盖配置里的 bot.personality
const PersonaFile = "PERSONA.md"

// Manager 数据目录
type Manager struct {
	dir string
}

// NewManager 以 dir 为数据目录
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Ensure 创建数据目录和配置中用到的子目录，补齐说明文件
func (m *Manager) Ensure(cfg *config.Config) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := m.bootstrap(); err != nil {
		return err
	}
	if cfg == nil {
		return nil
	}

	dirs := []struct {
		path string
		perm os.FileMode
	}{
		// 登录态含 cookie，只允许本人读取
		{cfg.Session.Dir, 0700},
		{cfg.Image.Dir, 0755},
		{joinIfSet(cfg.Image.Dir, "emoji"), 0755},
		{parentIfSet(cfg.Store.Path), 0755},
		{parentIfSet(cfg.Session.QRCode.Output), 0700},
	}
	for _, d := range dirs {
		if d.path == "" {
			continue
		}
		if err := os.MkdirAll(d.path, d.perm); err != nil {
			return fmt.Errorf("create %s: %w", d.path, err)
		}
	}
	return nil
}

func (m *Manager) bootstrap() error {
	entries, err := fs.ReadDir(templatesFS, "templates")
	if err != nil {
		return err
	}
	for _, e := range entries {
		target := filepath.Join(m.dir, e.Name())
		if _, err := os.Stat(target); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		content, err := templatesFS.ReadFile(path.Join("templates", e.Name()))
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, content, 0644); err != nil {
			return fmt.Errorf("write %s: %w", e.Name(), err)
		}
	}
	return nil
}

// ReadFile 读取数据目录下的文件，路径越出数据目录或文件不存在时返回空
func (m *Manager) ReadFile(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !filepath.IsLocal(name) || filepath.Clean(name) == "." {
		return "", nil
	}
	content, err := os.ReadFile(filepath.Join(m.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Persona 读取 PERSONA.md，去掉 Markdown 标题行，不存在时为空
func (m *Manager) Persona() (string, error) {
	content, err := m.ReadFile(PersonaFile)
	if err != nil || content == "" {
		return "", err
	}
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func joinIfSet(dir, name string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

func parentIfSet(p string) string {
	if p == "" {
		return ""
	}
	return filepath.Dir(p)
}
