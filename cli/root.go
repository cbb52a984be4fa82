// Package cli 提供 maizone 命令行入口。
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/internal/workspace"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "maizone",
	Short: "QQ空间机器人：发说说、读说说、监控好友动态",
	Long: `maizone 以机器人账号登录 QQ 空间，按聊天指令或定时任务发说说、
读好友说说并点赞评论，也可以持续监控好友动态并自动回复评论。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ./config.yaml or ~/.maizone/config.*)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Load environment variables from this file if it exists")
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

// loadEnv 加载 .env，文件不存在时忽略
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig 加载并校验配置，按配置初始化日志
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	if err := logger.InitWithOptions(logger.Options{
		Level:       level,
		Development: cfg.Log.Development,
		File:        cfg.Log.File,
	}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// mustLoadConfig 加载配置，失败时退出
func mustLoadConfig() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// watchPath 返回需要监听的配置文件，找不到时为空
func watchPath() string {
	if configPath != "" {
		return configPath
	}
	return config.FindConfigFile()
}

// prepareWorkspace 创建数据目录，PERSONA.md 存在时替换配置中的人设
func prepareWorkspace(cfg *config.Config) error {
	dir, err := config.DataDir()
	if err != nil {
		return err
	}
	if configPath != "" {
		dir = filepath.Dir(config.ExpandUserPath(configPath))
	}
	ws := workspace.NewManager(dir)
	if err := ws.Ensure(cfg); err != nil {
		return err
	}
	persona, err := ws.Persona()
	if err != nil {
		return fmt.Errorf("read %s: %w", workspace.PersonaFile, err)
	}
	if persona != "" {
		cfg.Bot.Personality = persona
	}
	return nil
}

// mustLoadRuntimeConfig 加载配置并准备数据目录，失败时退出
func mustLoadRuntimeConfig() *config.Config {
	cfg := mustLoadConfig()
	if err := prepareWorkspace(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare data directory: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
