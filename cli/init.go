package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/smallnest/maizone/cli/input"
	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/workspace"
	"github.com/spf13/cobra"
)

var (
	initOutput   string
	initQQ       string
	initAdmin    string
	initProvider string
	initAPIKey   string
	initForce    bool
	initYes      bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file",
	Long: `Guided setup: asks for the bot account, an admin account and an LLM key,
then writes a config file with every option set to its default.
Use --yes with flags for non-interactive setup.`,
	Run: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "", "Config file to write (default: ~/.maizone/config.yaml)")
	initCmd.Flags().StringVar(&initQQ, "qq", "", "Bot QQ account")
	initCmd.Flags().StringVar(&initAdmin, "admin", "", "Admin QQ account, allowed to post, read and relogin")
	initCmd.Flags().StringVar(&initProvider, "provider", "", "LLM provider: openai or anthropic")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "LLM API key")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing file")
	initCmd.Flags().BoolVarP(&initYes, "yes", "y", false, "Skip all prompts")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) {
	out, err := initOutputPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(out); err == nil && !initForce {
		fmt.Fprintf(os.Stderr, "Error: %s already exists, pass --force to overwrite\n", out)
		os.Exit(1)
	}

	// 已有配置和环境变量作为默认值
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := fillInitAnswers(cfg); err != nil {
		if errors.Is(err, input.ErrInterrupted) || errors.Is(err, promptui.ErrInterrupt) {
			fmt.Println("Cancelled.")
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := config.Save(cfg, out); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := workspace.NewManager(filepath.Dir(out)).Ensure(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Config written to %s\n", out)
	fmt.Println("Next steps:")
	fmt.Println("  maizone login     # log in and cache the cookies")
	fmt.Println("  maizone serve     # run the bot")
}

func initOutputPath() (string, error) {
	if initOutput != "" {
		return config.ExpandUserPath(initOutput), nil
	}
	return config.GetDefaultConfigPath()
}

// fillInitAnswers 用参数和交互回答填充配置
func fillInitAnswers(cfg *config.Config) error {
	applyInitFlags(cfg)
	if initYes {
		return nil
	}

	var err error
	if cfg.Bot.QQ, err = input.ReadLineDefault("Bot QQ", cfg.Bot.QQ); err != nil {
		return err
	}
	if cfg.Bot.Nickname, err = input.ReadLineDefault("Bot nickname", cfg.Bot.Nickname); err != nil {
		return err
	}
	admin, err := input.ReadLineDefault("Admin QQ (empty to skip)", initAdmin)
	if err != nil {
		return err
	}
	setAdmin(cfg, admin)

	provider := initProvider
	if provider == "" {
		sel := promptui.Select{Label: "LLM provider", Items: []string{"openai", "anthropic"}, HideSelected: true}
		if _, provider, err = sel.Run(); err != nil {
			return err
		}
	}
	key := initAPIKey
	if key == "" {
		p := promptui.Prompt{Label: provider + " API key", Mask: '*'}
		if key, err = p.Run(); err != nil {
			return err
		}
	}
	setProviderKey(cfg, provider, key)
	return nil
}

func applyInitFlags(cfg *config.Config) {
	if initQQ != "" {
		cfg.Bot.QQ = strings.TrimSpace(initQQ)
	}
	setAdmin(cfg, initAdmin)
	if initAPIKey != "" {
		setProviderKey(cfg, initProvider, initAPIKey)
	}
}

// setAdmin 管理员同时获得发说说和读说说权限
func setAdmin(cfg *config.Config, admin string) {
	admin = strings.TrimSpace(admin)
	if admin == "" {
		return
	}
	cfg.Napcat.Admins = appendUnique(cfg.Napcat.Admins, admin)
	cfg.Permissions.Post = appendUnique(cfg.Permissions.Post, admin)
	cfg.Permissions.Read = appendUnique(cfg.Permissions.Read, admin)
}

func setProviderKey(cfg *config.Config, provider, key string) {
	key = strings.TrimSpace(key)
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "anthropic":
		cfg.Providers.Anthropic.APIKey = key
		if strings.HasPrefix(cfg.Providers.Model, "openai:") {
			cfg.Providers.Model = "anthropic:claude-3-5-haiku-latest"
		}
	default:
		cfg.Providers.OpenAI.APIKey = key
	}
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
