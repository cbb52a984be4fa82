package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/internal/metrics"
	"github.com/smallnest/maizone/qzone"
	"go.uber.org/zap"
)

// FriendFeedsTarget 未配置监控对象时，好友动态整体的轮询状态键
const FriendFeedsTarget = "friends"

// State 单个监控对象的状态
type State int

const (
	StateIdle State = iota
	StatePolling
	StateReacting
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateReacting:
		return "reacting"
	default:
		return "idle"
	}
}

// Options 监控参数
type Options struct {
	Config  config.MonitorConfig
	Client  FeedClient
	Reactor *Reactor
	Metrics metrics.Recorder
	// Sleep 两条说说之间的等待，测试中可替换
	Sleep SleepFunc
}

// Monitor 轮询监控对象的说说，对新说说评论点赞
type Monitor struct {
	cfg     config.MonitorConfig
	client  FeedClient
	reactor *Reactor
	metrics metrics.Recorder
	sleep   SleepFunc
	jitter  func() time.Duration

	mu     sync.RWMutex
	states map[string]State
}

// New 创建监控器
func New(opts Options) *Monitor {
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	cfg := opts.Config
	if cfg.ReadNumber <= 0 {
		cfg.ReadNumber = 5
	}
	return &Monitor{
		cfg:     cfg,
		client:  opts.Client,
		reactor: opts.Reactor,
		metrics: rec,
		sleep:   sleep,
		jitter: func() time.Duration {
			return 3*time.Second + time.Duration(rand.Float64()*float64(time.Second))
		},
		states: make(map[string]State),
	}
}

// Interval 轮询间隔
func (m *Monitor) Interval() time.Duration {
	if m.cfg.IntervalMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(m.cfg.IntervalMinutes) * time.Minute
}

// State 返回 target 当前状态，未知对象为 idle
func (m *Monitor) State(target string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[target]
}

func (m *Monitor) setState(target string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == StateIdle {
		delete(m.states, target)
		return
	}
	m.states[target] = s
}

// Tick 执行一轮监控。单个对象失败只记日志，返回所有失败的合并错误。
func (m *Monitor) Tick(ctx context.Context) error {
	targets := m.targets()

	var err error
	if len(targets) == 0 {
		err = m.tickFriends(ctx)
	} else {
		err = m.tickTargets(ctx, targets)
	}
	m.metrics.RecordMonitorTick(metrics.Result(err))
	return err
}

func (m *Monitor) targets() []string {
	var out []string
	for _, t := range m.cfg.Targets {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (m *Monitor) tickTargets(ctx context.Context, targets []string) error {
	bot := m.client.BotUIN()
	if m.cfg.AutoReply && bot != "" && !contains(targets, bot) {
		targets = append(targets, bot)
	}

	var errs []error
	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}

		m.setState(target, StatePolling)
		posts, err := m.client.FetchRecentPosts(ctx, target, m.cfg.ReadNumber)
		if err != nil {
			m.setState(target, StateIdle)
			logger.Warn("Monitor failed to fetch posts", zap.String("target", target), zap.Error(err))
			errs = append(errs, fmt.Errorf("target %s: %w", target, err))
			continue
		}
		if err := m.handle(ctx, target, posts); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("Monitor failed to handle posts", zap.String("target", target), zap.Error(err))
			errs = append(errs, fmt.Errorf("target %s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Monitor) tickFriends(ctx context.Context) error {
	m.setState(FriendFeedsTarget, StatePolling)
	posts, err := m.client.FetchFriendFeeds(ctx, m.cfg.ReadNumber)
	m.setState(FriendFeedsTarget, StateIdle)
	if err != nil {
		logger.Warn("Monitor failed to fetch friend feeds", zap.Error(err))
		return err
	}

	var (
		owners []string
		groups = make(map[string][]qzone.Post)
	)
	for _, p := range posts {
		if _, ok := groups[p.Owner]; !ok {
			owners = append(owners, p.Owner)
		}
		groups[p.Owner] = append(groups[p.Owner], p)
	}

	var errs []error
	for _, owner := range owners {
		if err := m.handle(ctx, owner, groups[owner]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("Monitor failed to handle posts", zap.String("target", owner), zap.Error(err))
			errs = append(errs, fmt.Errorf("target %s: %w", owner, err))
		}
	}
	return errors.Join(errs...)
}

// handle 处理同一对象的一批说说，每条处理完立即落盘
func (m *Monitor) handle(ctx context.Context, target string, posts []qzone.Post) error {
	m.setState(target, StateReacting)
	defer m.setState(target, StateIdle)

	bot := m.client.BotUIN()
	var errs []error
	for _, p := range posts {
		if p.Owner == "" {
			p.Owner = target
		}

		if p.Owner == bot {
			if !m.cfg.AutoReply {
				continue
			}
			if _, err := m.reactor.ReplyComments(ctx, p); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				errs = append(errs, err)
			}
			continue
		}

		seen, err := m.reactor.Seen(ctx, p)
		if err != nil {
			return err
		}
		if seen {
			continue
		}
		if err := m.sleep(ctx, m.jitter()); err != nil {
			return err
		}

		out, err := m.reactor.React(ctx, target, p, Reaction{Comment: m.cfg.Comment, Like: true})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errs = append(errs, fmt.Errorf("post %s: %w", p.TID, err))
			continue
		}
		if !out.Skipped {
			logger.Info("Monitor handled post",
				zap.String("target", target),
				zap.String("tid", p.TID),
				zap.Bool("commented", out.Commented),
				zap.Bool("liked", out.Liked))
		}
	}
	return errors.Join(errs...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
