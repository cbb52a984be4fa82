package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/smallnest/maizone/channels"
	"github.com/smallnest/maizone/cli/input"
	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var consoleAs string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Chat with the bot from the terminal",
	Long: `Start an interactive console that talks to the bot like a private chat.
Messages go through the same intent parsing and permission checks as QQ messages,
using the account given by --as as the sender.`,
	Run: runConsole,
}

// consoleCommands Tab 补全的命令
var consoleCommands = []string{"/send_feed", "/read_feed", "/relogin", "/help", "/quit"}

func init() {
	consoleCmd.Flags().StringVar(&consoleAs, "as", "", "Sender account (default: first napcat admin, else the bot itself)")
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) {
	cfg := mustLoadRuntimeConfig()
	defer func() { _ = logger.Sync() }()

	rt, err := buildRuntime(cfg, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rt.Close() }()

	rl, err := input.NewReadline("➤ ", consoleHistoryFile(cfg), consoleCommands)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	operator := consoleOperator(cfg)
	console := channels.NewConsoleChannel(operator, rl.Stdout(), rt.bus)
	mgr := channels.NewManager(rt.bus)
	if err := mgr.Register(console); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	wait := rt.runLoops(ctx, mgr)
	defer wait()

	fmt.Printf("maizone console, speaking as %s. Type /help for commands, /quit to exit.\n", operator)
	if err := consoleLoop(ctx, rl, console); err != nil {
		logger.Error("Console stopped", zap.Error(err))
	}
	fmt.Println("Goodbye!")
}

// consoleLoop 逐行读取输入交给控制台通道
func consoleLoop(ctx context.Context, rl *readline.Instance, console *channels.ConsoleChannel) error {
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(rl.Stdout(), consoleHelp)
			continue
		}

		if err := console.Submit(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

const consoleHelp = `/send_feed [主题]   发一条说说（也可以说“发一条关于xx的说说”）
/read_feed <QQ号>  读对方最近的说说并点赞评论（也可以说“看看12345的说说”）
/relogin           重新登录（仅管理员）
/quit              退出`

// consoleOperator 控制台发送者身份
func consoleOperator(cfg *config.Config) string {
	if consoleAs != "" {
		return consoleAs
	}
	if len(cfg.Napcat.Admins) > 0 {
		return cfg.Napcat.Admins[0]
	}
	return cfg.Bot.QQ
}

// consoleHistoryFile 历史记录放在登录态目录旁边
func consoleHistoryFile(cfg *config.Config) string {
	if cfg.Session.Dir == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(cfg.Session.Dir), "console_history")
}
