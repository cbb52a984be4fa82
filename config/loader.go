package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var globalConfig *Config

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		for _, dir := range searchDirs() {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("MAIZONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// 配置文件不存在，使用默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(&cfg)

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.personality", "一个机器人")
	v.SetDefault("bot.reply_style", "内容积极向上")

	v.SetDefault("napcat.host", "127.0.0.1")
	v.SetDefault("napcat.port", 9999)

	v.SetDefault("session.dir", "~/.maizone/cookies")
	v.SetDefault("session.strategies", []string{"napcat", "clientkey", "qrcode", "cache"})
	v.SetDefault("session.qrcode.timeout_seconds", 180)
	v.SetDefault("session.qrcode.output", "~/.maizone/qrcode.png")
	v.SetDefault("session.qrcode.notify_admins", true)
	v.SetDefault("session.clientkey.port", 4301)

	v.SetDefault("providers.model", "openai:gpt-4o-mini")
	v.SetDefault("providers.temperature", 0.3)
	v.SetDefault("providers.max_tokens", 1000)
	v.SetDefault("providers.describe_images", true)

	v.SetDefault("image.enable", false)
	v.SetDefault("image.mode", "random")
	v.SetDefault("image.ai_probability", 0.5)
	v.SetDefault("image.number", 1)
	v.SetDefault("image.dir", "~/.maizone/images")
	v.SetDefault("image.provider", "siliconflow")
	v.SetDefault("image.model", "Kwai-Kolors/Kolors")

	v.SetDefault("read.number", 5)
	v.SetDefault("read.like_probability", 1.0)
	v.SetDefault("read.comment_probability", 1.0)

	v.SetDefault("monitor.enable", false)
	v.SetDefault("monitor.interval_minutes", 15)
	v.SetDefault("monitor.read_number", 3)
	v.SetDefault("monitor.auto_reply", false)
	v.SetDefault("monitor.comment", true)
	v.SetDefault("monitor.retention_days", 30)

	v.SetDefault("schedule.enable", false)
	v.SetDefault("schedule.times", []string{"08:00", "20:00"})
	v.SetDefault("schedule.topic_mode", "ai")
	v.SetDefault("schedule.fixed_topics", []string{"日常生活", "心情分享", "有趣见闻"})

	v.SetDefault("qzone.timeout_seconds", 15)
	v.SetDefault("qzone.actions_per_minute", 20)
	v.SetDefault("qzone.history_number", 5)

	v.SetDefault("store.backend", "sqlite")
	v.SetDefault("store.path", "~/.maizone/seen.db")

	v.SetDefault("gateway.enable", false)
	v.SetDefault("gateway.host", "127.0.0.1")
	v.SetDefault("gateway.port", 18790)

	v.SetDefault("log.level", "info")
}

// normalize 整理配置中的路径与空白
func normalize(cfg *Config) {
	cfg.Bot.QQ = strings.TrimSpace(cfg.Bot.QQ)
	cfg.Session.Dir = ExpandUserPath(cfg.Session.Dir)
	cfg.Session.QRCode.Output = ExpandUserPath(cfg.Session.QRCode.Output)
	cfg.Image.Dir = ExpandUserPath(cfg.Image.Dir)
	cfg.Store.Path = ExpandUserPath(cfg.Store.Path)
	cfg.Log.File = ExpandUserPath(cfg.Log.File)
	cfg.Permissions.Post = trimAll(cfg.Permissions.Post)
	cfg.Permissions.Read = trimAll(cfg.Permissions.Read)
	cfg.Monitor.Targets = trimAll(cfg.Monitor.Targets)
	cfg.Napcat.Admins = trimAll(cfg.Napcat.Admins)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Save 保存配置到文件，.yaml/.yml 使用 YAML，其余使用 JSON
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

var (
	qqPattern       = regexp.MustCompile(`^\d{5,12}$`)
	clockPattern    = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)
	validStrategies = map[string]bool{"napcat": true, "clientkey": true, "qrcode": true, "cache": true}
)

// Validate 验证配置
func Validate(cfg *Config) error {
	if err := validateBot(cfg); err != nil {
		return fmt.Errorf("bot config invalid: %w", err)
	}
	if err := validateSession(cfg); err != nil {
		return fmt.Errorf("session config invalid: %w", err)
	}
	if err := validatePermissions(cfg); err != nil {
		return fmt.Errorf("permissions config invalid: %w", err)
	}
	if err := validateImage(cfg); err != nil {
		return fmt.Errorf("image config invalid: %w", err)
	}
	if err := validateMonitor(cfg); err != nil {
		return fmt.Errorf("monitor config invalid: %w", err)
	}
	if err := validateSchedule(cfg); err != nil {
		return fmt.Errorf("schedule config invalid: %w", err)
	}
	if err := validateStore(cfg); err != nil {
		return fmt.Errorf("store config invalid: %w", err)
	}
	if err := validateGateway(cfg); err != nil {
		return fmt.Errorf("gateway config invalid: %w", err)
	}
	return nil
}

// validateBot 验证机器人账号
func validateBot(cfg *Config) error {
	if !qqPattern.MatchString(cfg.Bot.QQ) {
		return fmt.Errorf("qq must be a numeric account id")
	}
	return nil
}

// validateSession 验证登录策略
func validateSession(cfg *Config) error {
	if len(cfg.Session.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	seen := make(map[string]bool)
	for _, s := range cfg.Session.Strategies {
		name := strings.ToLower(strings.TrimSpace(s))
		if !validStrategies[name] {
			return fmt.Errorf("unknown strategy %q", s)
		}
		if seen[name] {
			return fmt.Errorf("strategy %q listed twice", s)
		}
		seen[name] = true
	}
	if seen["napcat"] && (cfg.Napcat.Port <= 0 || cfg.Napcat.Port > 65535) {
		return fmt.Errorf("napcat port must be between 1 and 65535")
	}
	if seen["qrcode"] && cfg.Session.QRCode.TimeoutSeconds <= 0 {
		return fmt.Errorf("qrcode timeout_seconds must be positive")
	}
	return nil
}

// validatePermissions 验证权限列表，只允许账号或 "*"
func validatePermissions(cfg *Config) error {
	check := func(kind string, entries []string) error {
		for _, e := range entries {
			if e == "*" {
				continue
			}
			if !qqPattern.MatchString(e) {
				return fmt.Errorf("%s entry %q must be an account id or \"*\"", kind, e)
			}
		}
		return nil
	}
	if err := check("post", cfg.Permissions.Post); err != nil {
		return err
	}
	return check("read", cfg.Permissions.Read)
}

// validateImage 验证配图配置
func validateImage(cfg *Config) error {
	if !cfg.Image.Enable {
		return nil
	}
	switch strings.ToLower(cfg.Image.Mode) {
	case "only_ai", "only_emoji", "random":
	default:
		return fmt.Errorf("mode must be only_ai, only_emoji or random")
	}
	if cfg.Image.AIProbability < 0 || cfg.Image.AIProbability > 1 {
		return fmt.Errorf("ai_probability must be between 0 and 1")
	}
	if cfg.Image.Number < 1 || cfg.Image.Number > 4 {
		return fmt.Errorf("number must be between 1 and 4")
	}
	switch strings.ToLower(cfg.Image.Provider) {
	case "siliconflow", "modelscope":
	default:
		return fmt.Errorf("provider must be siliconflow or modelscope")
	}
	return nil
}

// validateMonitor 验证监控配置
func validateMonitor(cfg *Config) error {
	if !cfg.Monitor.Enable {
		return nil
	}
	if cfg.Monitor.IntervalMinutes <= 0 {
		return fmt.Errorf("interval_minutes must be positive")
	}
	if cfg.Monitor.ReadNumber <= 0 {
		return fmt.Errorf("read_number must be positive")
	}
	for _, target := range cfg.Monitor.Targets {
		if !qqPattern.MatchString(target) {
			return fmt.Errorf("target %q must be an account id", target)
		}
	}
	return nil
}

// validateSchedule 验证定时发送配置
func validateSchedule(cfg *Config) error {
	if !cfg.Schedule.Enable {
		return nil
	}
	if len(cfg.Schedule.Times) == 0 && strings.TrimSpace(cfg.Schedule.Interval) == "" {
		return fmt.Errorf("times or interval is required")
	}
	for _, t := range cfg.Schedule.Times {
		if !clockPattern.MatchString(strings.TrimSpace(t)) {
			return fmt.Errorf("time %q must look like HH:MM", t)
		}
	}
	switch strings.ToLower(cfg.Schedule.TopicMode) {
	case "ai":
	case "fixed", "random":
		if len(cfg.Schedule.FixedTopics) == 0 {
			return fmt.Errorf("fixed_topics is required for topic_mode %s", cfg.Schedule.TopicMode)
		}
	default:
		return fmt.Errorf("topic_mode must be fixed, random or ai")
	}
	return nil
}

// validateStore 验证存储配置
func validateStore(cfg *Config) error {
	switch strings.ToLower(cfg.Store.Backend) {
	case "sqlite", "bolt":
	default:
		return fmt.Errorf("backend must be sqlite or bolt")
	}
	if strings.TrimSpace(cfg.Store.Path) == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// validateGateway 验证管理接口配置
func validateGateway(cfg *Config) error {
	if !cfg.Gateway.Enable {
		return nil
	}
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
