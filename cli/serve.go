package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/smallnest/maizone/channels"
	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/gateway"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveNoLogin bool
	serveNoWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot: chat channels, monitor, scheduled posts and admin gateway",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveNoLogin, "no-login", false, "Do not log in at startup, wait for the first request")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not hot-reload permissions when the config file changes")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := mustLoadRuntimeConfig()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		logger.Error("Serve failed", zap.Error(err))
		os.Exit(1)
	}
}

// serve 组装并运行全部组件，直到 ctx 结束
func serve(ctx context.Context, cfg *config.Config) error {
	rt, err := buildRuntime(cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	mgr := channels.NewManager(rt.bus)
	if err := mgr.SetupFromConfig(cfg); err != nil {
		return fmt.Errorf("setup channels: %w", err)
	}

	wait := rt.runLoops(ctx, mgr)
	defer wait()

	if !serveNoLogin {
		if s, err := rt.sessions.Acquire(ctx); err != nil {
			// 登录失败不退出，之后的请求会再次尝试
			logger.Warn("Initial login failed", zap.Error(err))
		} else {
			logger.Info("Logged in", zap.String("uin", s.UIN), zap.String("strategy", s.Strategy))
		}
	}

	if err := rt.scheduler.Start(ctx); err != nil {
		return err
	}
	defer rt.scheduler.Stop()

	if cfg.Gateway.Enable {
		srv := gateway.NewServer(cfg.Gateway, rt.gatewayDeps())
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() { _ = srv.Stop() }()
	}

	if path := watchPath(); path != "" && !serveNoWatch {
		if err := config.Watch(ctx, path, rt.reloadPermissions); err != nil {
			logger.Warn("Config watch disabled", zap.Error(err))
		}
	}

	logger.Info("maizone started",
		zap.String("qq", cfg.Bot.QQ),
		zap.Strings("channels", mgr.Names()),
		zap.Bool("monitor", cfg.Monitor.Enable),
		zap.Bool("schedule", cfg.Schedule.Enable))

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

// runLoops 启动通道、出站分发和 Agent，返回的函数停止通道并等待循环退出
func (rt *runtime) runLoops(ctx context.Context, mgr *channels.Manager) func() {
	loopCtx, cancel := context.WithCancel(ctx)
	_ = mgr.Start(loopCtx)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := mgr.DispatchOutbound(loopCtx); err != nil && loopCtx.Err() == nil {
			logger.Error("Outbound dispatcher stopped", zap.Error(err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := rt.agent.Run(loopCtx); err != nil {
			logger.Error("Agent stopped", zap.Error(err))
		}
	}()

	return func() {
		cancel()
		_ = mgr.Stop()
		wg.Wait()
	}
}
