package cli

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/session"
	"github.com/spf13/cobra"
)

// strategyAuto 按配置顺序依次尝试
const strategyAuto = "auto"

var (
	loginStrategy string
	loginTimeout  int
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to QQ Zone and cache the cookies",
	Long: `Acquire a QQ Zone session with one strategy (napcat, clientkey, qrcode, cache)
or all configured strategies in order ("auto"). Without --strategy an interactive menu is shown.`,
	Run: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the cached session",
	Run:   runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cached session",
	Run:   runStatus,
}

func init() {
	loginCmd.Flags().StringVarP(&loginStrategy, "strategy", "s", "", "Login strategy: auto, napcat, clientkey, qrcode or cache")
	loginCmd.Flags().IntVar(&loginTimeout, "timeout", 300, "Timeout in seconds")
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd)
}

func runLogin(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	defer func() { _ = logger.Sync() }()

	choice := strings.ToLower(strings.TrimSpace(loginStrategy))
	if choice == "" {
		var err error
		if choice, err = selectStrategy(cfg.Session.Strategies); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	files := session.NewFileStore(cfg.Session.Dir)
	// 命令行登录只把二维码写到文件
	presenter := session.FilePresenter{Path: cfg.Session.QRCode.Output}
	strategies, err := loginStrategies(cfg, files, presenter, choice)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	mgr := session.NewManager(session.Options{UIN: cfg.Bot.QQ, Strategies: strategies, Files: files})
	ctx, cancel := commandContext(loginTimeout)
	defer cancel()

	s, err := mgr.Acquire(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Login failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Logged in as %s via %s, cookies saved to %s\n", s.UIN, s.Strategy, files.Path(s.UIN))
}

// loginStrategies 按选择过滤配置中的策略
func loginStrategies(cfg *config.Config, files *session.FileStore, presenter session.QRPresenter, choice string) ([]session.Strategy, error) {
	if choice != strategyAuto {
		// 单独指定时即使配置里没有也允许使用
		scoped := *cfg
		scoped.Session.Strategies = []string{choice}
		cfg = &scoped
	}
	strategies, _, err := session.BuildStrategies(cfg, files, presenter, nil)
	if err != nil {
		return nil, err
	}
	if len(strategies) == 0 {
		return nil, fmt.Errorf("no login strategy configured")
	}
	return strategies, nil
}

// selectStrategy 交互式选择登录策略
func selectStrategy(configured []string) (string, error) {
	items := []string{strategyAuto}
	for _, name := range []string{session.StrategyNapcat, session.StrategyClientKey, session.StrategyQRCode, session.StrategyCache} {
		if !slices.Contains(items, name) {
			items = append(items, name)
		}
	}

	prompt := promptui.Select{
		Label:        fmt.Sprintf("Login strategy (auto = %s)", strings.Join(configured, " → ")),
		Items:        items,
		Size:         len(items),
		HideSelected: true,
	}
	_, result, err := prompt.Run()
	if err != nil {
		return "", err
	}
	return result, nil
}

func runLogout(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	files := session.NewFileStore(cfg.Session.Dir)
	if err := files.Delete(cfg.Bot.QQ); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Cached session of %s deleted\n", cfg.Bot.QQ)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := mustLoadConfig()
	files := session.NewFileStore(cfg.Session.Dir)

	fmt.Printf("Bot:        %s\n", cfg.Bot.QQ)
	fmt.Printf("Strategies: %s\n", strings.Join(cfg.Session.Strategies, " → "))
	fmt.Printf("Store:      %s (%s)\n", cfg.Store.Path, cfg.Store.Backend)

	s, err := files.Load(cfg.Bot.QQ)
	if err != nil {
		fmt.Printf("Session:    none (%v)\n", err)
		return
	}
	state := "valid"
	if s.Expired(time.Now()) {
		state = "expired"
	}
	fmt.Printf("Session:    %s via %s, acquired %s", state, s.Strategy, s.AcquiredAt.Local().Format(time.DateTime))
	if !s.ExpiresAt.IsZero() {
		fmt.Printf(", expires %s", s.ExpiresAt.Local().Format(time.DateTime))
	}
	fmt.Println()
}
