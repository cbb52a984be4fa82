package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/cron"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/store"
	"go.uber.org/zap"
)

// 定时任务 id
const (
	JobMonitor  = "monitor"
	JobSchedule = "schedule"
	JobPrune    = "prune"
)

// Service 把监控、定时发说说和记录清理注册为定时任务
type Service struct {
	monitorCfg  config.MonitorConfig
	scheduleCfg config.ScheduleConfig

	monitor   *Monitor
	publisher *Publisher
	topics    *TopicPicker
	store     store.SeenStore
	now       func() time.Time
}

// NewService 创建后台任务服务
func NewService(cfg *config.Config, mon *Monitor, publisher *Publisher, seen store.SeenStore) *Service {
	return &Service{
		monitorCfg:  cfg.Monitor,
		scheduleCfg: cfg.Schedule,
		monitor:     mon,
		publisher:   publisher,
		topics:      NewTopicPicker(cfg.Schedule),
		store:       seen,
		now:         time.Now,
	}
}

// ScheduleSpec 定时发说说的调度表达式，times 优先于 interval
func ScheduleSpec(cfg config.ScheduleConfig) string {
	var times []string
	for _, t := range cfg.Times {
		if t = strings.TrimSpace(t); t != "" {
			times = append(times, t)
		}
	}
	if len(times) > 0 {
		return strings.Join(times, ",")
	}
	return strings.TrimSpace(cfg.Interval)
}

// Register 向调度器注册启用的任务
func (s *Service) Register(sched *cron.Scheduler) error {
	if s.monitorCfg.Enable && s.monitor != nil {
		if err := sched.AddJob(&cron.Job{
			ID:       JobMonitor,
			Name:     "监控好友说说",
			Schedule: "@every " + s.monitor.Interval().String(),
			Enabled:  true,
			Func:     s.monitor.Tick,
		}); err != nil {
			return err
		}
	}

	if s.scheduleCfg.Enable && s.publisher != nil {
		spec := ScheduleSpec(s.scheduleCfg)
		if spec == "" {
			return fmt.Errorf("schedule is enabled but neither times nor interval is set")
		}
		if err := sched.AddJob(&cron.Job{
			ID:       JobSchedule,
			Name:     "定时发说说",
			Schedule: spec,
			Enabled:  true,
			Func:     s.PostScheduled,
		}); err != nil {
			return err
		}
	}

	if s.monitorCfg.RetentionDays > 0 && s.store != nil {
		if err := sched.AddJob(&cron.Job{
			ID:       JobPrune,
			Name:     "清理已处理记录",
			Schedule: "every 24 hours",
			Enabled:  true,
			Func:     s.Prune,
		}); err != nil {
			return err
		}
	}
	return nil
}

// PostScheduled 发一条定时说说
func (s *Service) PostScheduled(ctx context.Context) error {
	topic := s.topics.Next()
	res, err := s.publisher.Publish(ctx, topic)
	if err != nil {
		return err
	}
	logger.Info("Scheduled post published",
		zap.String("topic_mode", s.topics.Mode()),
		zap.String("topic", topic),
		zap.String("tid", res.TID),
		zap.Int("images", res.Images))
	return nil
}

// Prune 删除超过保留天数的记录
func (s *Service) Prune(ctx context.Context) error {
	before := s.now().AddDate(0, 0, -s.monitorCfg.RetentionDays)
	n, err := s.store.Prune(ctx, before)
	if err != nil {
		return err
	}
	logger.Info("Seen records pruned", zap.Int("removed", n), zap.Time("before", before))
	return nil
}
