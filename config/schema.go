package config

// Config 是主配置结构
type Config struct {
	Bot         BotConfig         `mapstructure:"bot" json:"bot" yaml:"bot"`
	Napcat      NapcatConfig      `mapstructure:"napcat" json:"napcat" yaml:"napcat"`
	Session     SessionConfig     `mapstructure:"session" json:"session" yaml:"session"`
	Permissions PermissionsConfig `mapstructure:"permissions" json:"permissions" yaml:"permissions"`
	Providers   ProvidersConfig   `mapstructure:"providers" json:"providers" yaml:"providers"`
	Image       ImageConfig       `mapstructure:"image" json:"image" yaml:"image"`
	Read        ReadConfig        `mapstructure:"read" json:"read" yaml:"read"`
	Monitor     MonitorConfig     `mapstructure:"monitor" json:"monitor" yaml:"monitor"`
	Schedule    ScheduleConfig    `mapstructure:"schedule" json:"schedule" yaml:"schedule"`
	QZone       QZoneConfig       `mapstructure:"qzone" json:"qzone" yaml:"qzone"`
	Store       StoreConfig       `mapstructure:"store" json:"store" yaml:"store"`
	Gateway     GatewayConfig     `mapstructure:"gateway" json:"gateway" yaml:"gateway"`
	Log         LogConfig         `mapstructure:"log" json:"log" yaml:"log"`
}

// BotConfig 机器人账号与人格
type BotConfig struct {
	QQ          string `mapstructure:"qq" json:"qq" yaml:"qq"`
	Nickname    string `mapstructure:"nickname" json:"nickname" yaml:"nickname"`
	Personality string `mapstructure:"personality" json:"personality" yaml:"personality"`
	ReplyStyle  string `mapstructure:"reply_style" json:"reply_style" yaml:"reply_style"`
}

// NapcatConfig Napcat 网关配置
type NapcatConfig struct {
	Host        string   `mapstructure:"host" json:"host" yaml:"host"`
	Port        int      `mapstructure:"port" json:"port" yaml:"port"`
	Token       string   `mapstructure:"token" json:"token" yaml:"token"`
	WSURL       string   `mapstructure:"ws_url" json:"ws_url" yaml:"ws_url"`
	AccessToken string   `mapstructure:"access_token" json:"access_token" yaml:"access_token"`
	Admins      []string `mapstructure:"admins" json:"admins" yaml:"admins"`
}

// SessionConfig 登录态配置
type SessionConfig struct {
	Dir        string        `mapstructure:"dir" json:"dir" yaml:"dir"`
	Strategies []string      `mapstructure:"strategies" json:"strategies" yaml:"strategies"`
	QRCode     QRCodeConfig  `mapstructure:"qrcode" json:"qrcode" yaml:"qrcode"`
	ClientKey  ClientKeyConf `mapstructure:"clientkey" json:"clientkey" yaml:"clientkey"`
}

// QRCodeConfig 扫码登录配置
type QRCodeConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	Output         string `mapstructure:"output" json:"output" yaml:"output"`
	NotifyAdmins   bool   `mapstructure:"notify_admins" json:"notify_admins" yaml:"notify_admins"`
}

// ClientKeyConf 本地客户端登录配置
type ClientKeyConf struct {
	Port int `mapstructure:"port" json:"port" yaml:"port"`
}

// PermissionsConfig 权限列表，"*" 表示所有人
type PermissionsConfig struct {
	Post []string `mapstructure:"post" json:"post" yaml:"post"`
	Read []string `mapstructure:"read" json:"read" yaml:"read"`
}

// ProvidersConfig LLM 提供商配置
type ProvidersConfig struct {
	Model          string                  `mapstructure:"model" json:"model" yaml:"model"`
	Temperature    float64                 `mapstructure:"temperature" json:"temperature" yaml:"temperature"`
	MaxTokens      int                     `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	ShowPrompt     bool                    `mapstructure:"show_prompt" json:"show_prompt" yaml:"show_prompt"`
	// DescribeImages 评论前先让模型看图，需要模型支持图片输入
	DescribeImages bool                    `mapstructure:"describe_images" json:"describe_images" yaml:"describe_images"`
	OpenAI         OpenAIProviderConfig    `mapstructure:"openai" json:"openai" yaml:"openai"`
	Anthropic      AnthropicProviderConfig `mapstructure:"anthropic" json:"anthropic" yaml:"anthropic"`
}

// OpenAIProviderConfig OpenAI 兼容接口配置
type OpenAIProviderConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
}

// AnthropicProviderConfig Anthropic 配置
type AnthropicProviderConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
}

// ImageConfig 配图配置
type ImageConfig struct {
	Enable        bool    `mapstructure:"enable" json:"enable" yaml:"enable"`
	Mode          string  `mapstructure:"mode" json:"mode" yaml:"mode"`
	AIProbability float64 `mapstructure:"ai_probability" json:"ai_probability" yaml:"ai_probability"`
	Number        int     `mapstructure:"number" json:"number" yaml:"number"`
	Dir           string  `mapstructure:"dir" json:"dir" yaml:"dir"`
	Provider      string  `mapstructure:"provider" json:"provider" yaml:"provider"`
	APIKey        string  `mapstructure:"api_key" json:"api_key" yaml:"api_key"`
	Model         string  `mapstructure:"model" json:"model" yaml:"model"`
	Reference     string  `mapstructure:"reference" json:"reference" yaml:"reference"`
}

// ReadConfig 读说说配置
type ReadConfig struct {
	Number             int     `mapstructure:"number" json:"number" yaml:"number"`
	LikeProbability    float64 `mapstructure:"like_probability" json:"like_probability" yaml:"like_probability"`
	CommentProbability float64 `mapstructure:"comment_probability" json:"comment_probability" yaml:"comment_probability"`
}

// MonitorConfig 监控配置
type MonitorConfig struct {
	Enable          bool     `mapstructure:"enable" json:"enable" yaml:"enable"`
	IntervalMinutes int      `mapstructure:"interval_minutes" json:"interval_minutes" yaml:"interval_minutes"`
	ReadNumber      int      `mapstructure:"read_number" json:"read_number" yaml:"read_number"`
	Targets         []string `mapstructure:"targets" json:"targets" yaml:"targets"`
	AutoReply       bool     `mapstructure:"auto_reply" json:"auto_reply" yaml:"auto_reply"`
	Comment         bool     `mapstructure:"comment" json:"comment" yaml:"comment"`
	RetentionDays   int      `mapstructure:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// ScheduleConfig 定时发说说配置
type ScheduleConfig struct {
	Enable      bool     `mapstructure:"enable" json:"enable" yaml:"enable"`
	Times       []string `mapstructure:"times" json:"times" yaml:"times"`
	Interval    string   `mapstructure:"interval" json:"interval" yaml:"interval"`
	TopicMode   string   `mapstructure:"topic_mode" json:"topic_mode" yaml:"topic_mode"`
	FixedTopics []string `mapstructure:"fixed_topics" json:"fixed_topics" yaml:"fixed_topics"`
}

// QZoneConfig 空间接口配置
type QZoneConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	ActionsPerMinute int `mapstructure:"actions_per_minute" json:"actions_per_minute" yaml:"actions_per_minute"`
	HistoryNumber    int `mapstructure:"history_number" json:"history_number" yaml:"history_number"`
}

// StoreConfig 已读记录存储配置
type StoreConfig struct {
	Backend string `mapstructure:"backend" json:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" json:"path" yaml:"path"`
}

// GatewayConfig 管理接口配置
type GatewayConfig struct {
	Enable bool   `mapstructure:"enable" json:"enable" yaml:"enable"`
	Host   string `mapstructure:"host" json:"host" yaml:"host"`
	Port   int    `mapstructure:"port" json:"port" yaml:"port"`
	Token  string `mapstructure:"token" json:"token" yaml:"token"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `mapstructure:"level" json:"level" yaml:"level"`
	Development bool   `mapstructure:"development" json:"development" yaml:"development"`
	File        string `mapstructure:"file" json:"file" yaml:"file"`
}
