package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DataDirName 数据目录名，放在用户主目录或当前目录下
const DataDirName = ".maizone"

// configFileNames 同一目录下的查找顺序
var configFileNames = []string{"config.yaml", "config.yml", "config.json"}

// ResolveUserHomeDir 用户主目录
func ResolveUserHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if strings.TrimSpace(home) == "" {
		return "", errors.New("resolve home dir: empty")
	}
	return home, nil
}

// DataDir 默认数据目录 ~/.maizone
func DataDir() (string, error) {
	home, err := ResolveUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DataDirName), nil
}

// GetDefaultConfigPath init 默认写入的配置文件
func GetDefaultConfigPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileNames[0]), nil
}

// searchDirs 未指定配置文件时依次查找 ./.maizone、当前目录、~/.maizone
func searchDirs() []string {
	dirs := []string{DataDirName, "."}
	if dir, err := DataDir(); err == nil {
		dirs = append(dirs, dir)
	}
	return dirs
}

// FindConfigFile 按 Load 的查找顺序返回第一个存在的配置文件，没有时为空
func FindConfigFile() string {
	for _, dir := range searchDirs() {
		for _, name := range configFileNames {
			p := filepath.Join(dir, name)
			if st, err := os.Stat(p); err == nil && !st.IsDir() {
				return p
			}
		}
	}
	return ""
}

// ExpandUserPath 把开头的 ~ 换成用户主目录，失败时原样返回
func ExpandUserPath(path string) string {
	p := strings.TrimSpace(path)
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, `~\`) {
		return path
	}
	home, err := ResolveUserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, filepath.FromSlash(p[1:]))
}

// CookieFileName 账号的登录态缓存文件名，账号去掉前导 0
func CookieFileName(uin string) string {
	trimmed := strings.TrimLeft(strings.TrimSpace(uin), "0")
	if trimmed == "" {
		trimmed = "0"
	}
	return fmt.Sprintf("cookies-%s.json", trimmed)
}
