package cli

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallnest/maizone/agent"
	"github.com/smallnest/maizone/bus"
	"github.com/smallnest/maizone/channels"
	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/cron"
	"github.com/smallnest/maizone/gateway"
	"github.com/smallnest/maizone/imagegen"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/internal/metrics"
	"github.com/smallnest/maizone/monitor"
	"github.com/smallnest/maizone/permission"
	"github.com/smallnest/maizone/persona"
	"github.com/smallnest/maizone/providers"
	"github.com/smallnest/maizone/qzone"
	"github.com/smallnest/maizone/session"
	"github.com/smallnest/maizone/store"
	"go.uber.org/zap"
)

// busBufferSize 消息总线缓冲
const busBufferSize = 100

// runtime 进程内组装好的全部组件
type runtime struct {
	cfg *config.Config

	bus       *bus.MessageBus
	metrics   *metrics.Collector
	store     store.SeenStore
	sessions  *session.Manager
	qrcode    *session.QRCodeStrategy
	client    *qzone.Client
	provider  providers.Provider
	writer    *persona.Writer
	filter    *permission.Filter
	reactor   *monitor.Reactor
	publisher *monitor.Publisher
	monitor   *monitor.Monitor
	service   *monitor.Service
	scheduler *cron.Scheduler
	agent     *agent.Agent
}

// runtimeOptions 组装时的可替换项
type runtimeOptions struct {
	// HTTPClient 登录与空间请求使用，为空时各组件自行创建
	HTTPClient *http.Client
	// Endpoints 为空时使用线上接口
	Endpoints *qzone.Endpoints
	// Presenters 追加的二维码展示方
	Presenters []session.QRPresenter
}

// buildRuntime 按配置组装组件，出错时关闭已打开的资源
func buildRuntime(cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{
		cfg:       cfg,
		bus:       bus.NewMessageBus(busBufferSize),
		metrics:   metrics.NewCollector(prometheus.NewRegistry()),
		filter:    permission.NewFilter(permission.FromConfig(cfg.Permissions)),
		scheduler: cron.NewScheduler(),
	}

	seen, err := store.Open(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open seen store: %w", err)
	}
	rt.store = seen

	files := session.NewFileStore(cfg.Session.Dir)
	strategies, qr, err := session.BuildStrategies(cfg, files, rt.qrPresenter(opts.Presenters), opts.HTTPClient)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.qrcode = qr
	rt.sessions = session.NewManager(session.Options{
		UIN:        cfg.Bot.QQ,
		Strategies: strategies,
		Files:      files,
		Metrics:    rt.metrics,
	})

	rt.client = qzone.NewClient(qzone.Options{
		BotUIN:           cfg.Bot.QQ,
		Sessions:         rt.sessions,
		HTTPClient:       opts.HTTPClient,
		Timeout:          time.Duration(cfg.QZone.TimeoutSeconds) * time.Second,
		ActionsPerMinute: cfg.QZone.ActionsPerMinute,
		Metrics:          rt.metrics,
		Endpoints:        opts.Endpoints,
	})

	provider, err := providers.NewProvider(cfg.Providers)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("create llm provider: %w", err)
	}
	rt.provider = provider
	rt.writer = persona.NewWriter(provider, cfg.Bot, cfg.Providers)

	gen, err := imagegen.NewGenerator(cfg.Image, nil)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	picker := imagegen.NewPicker(cfg.Image, gen, rt.writer, imagegen.NewSafeClient(60*time.Second))

	rt.reactor = monitor.NewReactor(rt.client, rt.writer, seen, monitor.NewLocker())
	rt.publisher = monitor.NewPublisher(rt.client, rt.writer, picker, cfg.QZone.HistoryNumber)
	rt.monitor = monitor.New(monitor.Options{
		Config:  cfg.Monitor,
		Client:  rt.client,
		Reactor: rt.reactor,
		Metrics: rt.metrics,
	})
	rt.service = monitor.NewService(cfg, rt.monitor, rt.publisher, seen)
	if err := rt.service.Register(rt.scheduler); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("register jobs: %w", err)
	}

	rt.agent = agent.New(agent.Options{
		Bus:      rt.bus,
		Post:     &agent.PostAction{Filter: rt.filter, Publisher: rt.publisher},
		Read:     agent.NewReadAction(rt.filter, rt.client, rt.reactor, cfg.Read),
		Sessions: rt.sessions,
		Admins:   cfg.Napcat.Admins,
	})
	return rt, nil
}

// qrPresenter 二维码写文件，按配置私聊管理员，再加上 extra
func (rt *runtime) qrPresenter(extra []session.QRPresenter) session.QRPresenter {
	qrCfg := rt.cfg.Session.QRCode
	presenters := session.MultiPresenter{session.FilePresenter{Path: qrCfg.Output}}
	if qrCfg.NotifyAdmins && len(rt.cfg.Napcat.Admins) > 0 {
		presenters = append(presenters, &channels.AdminNotifier{
			Bus:    rt.bus,
			Admins: rt.cfg.Napcat.Admins,
		})
	}
	return append(presenters, extra...)
}

// gatewayDeps 管理接口依赖
func (rt *runtime) gatewayDeps() gateway.Deps {
	deps := gateway.Deps{
		Sessions:  rt.sessions,
		Publisher: rt.publisher,
		Store:     rt.store,
		Jobs:      rt.scheduler,
		Metrics:   rt.metrics.Handler(),
	}
	// nil 指针放进接口后不再是 nil
	if rt.qrcode != nil {
		deps.QRCode = rt.qrcode
	}
	return deps
}

// reloadPermissions 配置变化时替换权限规则
func (rt *runtime) reloadPermissions(cfg *config.Config) {
	rt.filter.Replace(permission.FromConfig(cfg.Permissions))
	rules := rt.filter.Snapshot()
	logger.Info("Permissions reloaded", zap.Strings("post", rules.Post), zap.Strings("read", rules.Read))
}

// Close 释放资源
func (rt *runtime) Close() error {
	var errs []error
	if rt.provider != nil {
		errs = append(errs, rt.provider.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	errs = append(errs, rt.bus.Close())
	return errors.Join(errs...)
}
