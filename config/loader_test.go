package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func minimalValidConfig() *Config {
	return &Config{
		Bot: BotConfig{QQ: "123456789"},
		Napcat: NapcatConfig{
			Host: "127.0.0.1",
			Port: 9999,
		},
		Session: SessionConfig{
			Strategies: []string{"napcat", "cache"},
		},
		Store: StoreConfig{Backend: "sqlite", Path: "/tmp/seen.db"},
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"bot":{"qq":" 10001 "}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Bot.QQ != "10001" {
		t.Fatalf("bot.qq = %q, want trimmed 10001", cfg.Bot.QQ)
	}
	if cfg.Napcat.Port != 9999 {
		t.Fatalf("napcat.port default = %d, want 9999", cfg.Napcat.Port)
	}
	want := []string{"napcat", "clientkey", "qrcode", "cache"}
	if strings.Join(cfg.Session.Strategies, ",") != strings.Join(want, ",") {
		t.Fatalf("strategies = %v, want %v", cfg.Session.Strategies, want)
	}
	if strings.HasPrefix(cfg.Store.Path, "~") {
		t.Fatalf("store.path should be expanded, got %q", cfg.Store.Path)
	}
	if len(cfg.Permissions.Post) != 0 {
		t.Fatalf("post permissions should default to empty, got %v", cfg.Permissions.Post)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
bot:
  qq: "10001"
permissions:
  post: ["1001", " * "]
schedule:
  enable: true
  times: ["09:30"]
  topic_mode: random
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got := strings.Join(cfg.Permissions.Post, ","); got != "1001,*" {
		t.Fatalf("post permissions = %q", got)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad qq", mutate: func(c *Config) { c.Bot.QQ = "abc" }, wantErr: "qq"},
		{name: "unknown strategy", mutate: func(c *Config) { c.Session.Strategies = []string{"magic"} }, wantErr: "unknown strategy"},
		{name: "duplicate strategy", mutate: func(c *Config) { c.Session.Strategies = []string{"cache", "cache"} }, wantErr: "twice"},
		{name: "glob permission", mutate: func(c *Config) { c.Permissions.Read = []string{"100*"} }, wantErr: "read entry"},
		{name: "wildcard permission", mutate: func(c *Config) { c.Permissions.Post = []string{"*"} }},
		{
			name: "image number",
			mutate: func(c *Config) {
				c.Image = ImageConfig{Enable: true, Mode: "random", Number: 5, Provider: "siliconflow"}
			},
			wantErr: "number",
		},
		{
			name: "schedule clock",
			mutate: func(c *Config) {
				c.Schedule = ScheduleConfig{Enable: true, Times: []string{"8:00"}, TopicMode: "ai"}
			},
			wantErr: "HH:MM",
		},
		{
			name: "fixed topics required",
			mutate: func(c *Config) {
				c.Schedule = ScheduleConfig{Enable: true, Times: []string{"08:00"}, TopicMode: "fixed"}
			},
			wantErr: "fixed_topics",
		},
		{name: "store backend", mutate: func(c *Config) { c.Store.Backend = "redis" }, wantErr: "backend"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestSaveYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := minimalValidConfig()
	cfg.Permissions.Post = []string{"1001"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Bot.QQ != cfg.Bot.QQ || len(loaded.Permissions.Post) != 1 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}

func TestCookieFileName(t *testing.T) {
	tests := map[string]string{
		"0012345": "cookies-12345.json",
		"12345":   "cookies-12345.json",
		"":        "cookies-0.json",
	}
	for in, want := range tests {
		if got := CookieFileName(in); got != want {
			t.Fatalf("CookieFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExpandUserPath(t *testing.T) {
	home, err := ResolveUserHomeDir()
	if err != nil {
		t.Fatalf("failed to resolve home dir: %v", err)
	}
	if got := ExpandUserPath("~/.maizone/seen.db"); got != filepath.Join(home, ".maizone", "seen.db") {
		t.Fatalf("ExpandUserPath() = %q", got)
	}
	if got := ExpandUserPath("/abs/path"); got != "/abs/path" {
		t.Fatalf("absolute path should be unchanged, got %q", got)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"bot":{"qq":"10001"},"permissions":{"post":["1001"]}}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 1)
	if err := Watch(ctx, path, func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"bot":{"qq":"10001"},"permissions":{"post":["1001","2002"]}}`), 0600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changed:
		if len(cfg.Permissions.Post) != 2 {
			t.Fatalf("reloaded post permissions = %v", cfg.Permissions.Post)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for config reload")
	}
}

func TestFindConfigFilePrefersLocalDataDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.WriteFile("config.json", []byte(`{}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if got := FindConfigFile(); got != "config.json" {
		t.Fatalf("FindConfigFile() = %q, want config.json", got)
	}

	if err := os.MkdirAll(DataDirName, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	want := filepath.Join(DataDirName, "config.yaml")
	if err := os.WriteFile(want, []byte("bot:\n  qq: \"10001\"\n"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if got := FindConfigFile(); got != want {
		t.Fatalf("FindConfigFile() = %q, want %q", got, want)
	}
}
