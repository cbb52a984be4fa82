package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/smallnest/maizone/agent"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/permission"
	"github.com/smallnest/maizone/types"
	"github.com/spf13/cobra"
)

var (
	postJSON    bool
	postTimeout int
	readJSON    bool
	readTimeout int
)

var postCmd = &cobra.Command{
	Use:   "post [topic]",
	Short: "Write and publish a post now",
	Long:  `Generate a post with the configured persona and publish it. Without a topic the model picks one.`,
	Run:   runPost,
}

var readCmd = &cobra.Command{
	Use:   "read <qq>",
	Short: "Read a friend's recent posts, then like and comment",
	Args:  cobra.ExactArgs(1),
	Run:   runRead,
}

func init() {
	postCmd.Flags().BoolVar(&postJSON, "json", false, "Output in JSON format")
	postCmd.Flags().IntVar(&postTimeout, "timeout", 300, "Timeout in seconds")
	readCmd.Flags().BoolVar(&readJSON, "json", false, "Output in JSON format")
	readCmd.Flags().IntVar(&readTimeout, "timeout", 300, "Timeout in seconds")
	rootCmd.AddCommand(postCmd, readCmd)
}

// commandContext 带超时并响应 Ctrl+C 的 context
func commandContext(seconds int) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
	return ctx, func() {
		cancel()
		stop()
	}
}

func runPost(cmd *cobra.Command, args []string) {
	cfg := mustLoadRuntimeConfig()
	defer func() { _ = logger.Sync() }()

	rt, err := buildRuntime(cfg, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rt.Close() }()

	ctx, cancel := commandContext(postTimeout)
	defer cancel()

	res, err := rt.publisher.Publish(ctx, strings.TrimSpace(strings.Join(args, " ")))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s (%v)\n", types.UserMessage(err), err)
		os.Exit(1)
	}

	if postJSON {
		printJSON(res)
		return
	}
	fmt.Printf("Published %s\n%s\n", res.TID, res.Text)
	if res.Images > 0 {
		fmt.Printf("(%d images)\n", res.Images)
	}
}

func runRead(cmd *cobra.Command, args []string) {
	cfg := mustLoadRuntimeConfig()
	defer func() { _ = logger.Sync() }()

	rt, err := buildRuntime(cfg, runtimeOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = rt.Close() }()

	ctx, cancel := commandContext(readTimeout)
	defer cancel()

	// 命令行使用者即操作者，不受聊天权限约束
	operator := permission.NewFilter(permission.RuleSet{Read: []string{permission.Wildcard}})
	read := agent.NewReadAction(operator, rt.client, rt.reactor, cfg.Read)
	res, err := read.Run(ctx, permission.Identity{ID: cfg.Bot.QQ}, strings.TrimSpace(args[0]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s (%v)\n", types.UserMessage(err), err)
		os.Exit(1)
	}

	if readJSON {
		printJSON(res)
		return
	}
	fmt.Println(res.Summary())
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}
