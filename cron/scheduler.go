package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smallnest/maizone/internal/logger"
	"go.uber.org/zap"
)

// ErrJobNotFound 任务不存在
var ErrJobNotFound = errors.New("job not found")

// Scheduler 具名任务调度器
type Scheduler struct {
	cron    *Cron
	jobs    map[string]*Job
	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Job 定时任务
type Job struct {
	ID       string
	Name     string
	Schedule string
	Enabled  bool
	Func     func(ctx context.Context) error

	// 以下字段由调度器维护
	LastRun  time.Time
	NextRun  time.Time
	RunCount int
	LastErr  string
}

// NewScheduler 创建调度器
func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: NewCron(),
		jobs: make(map[string]*Job),
	}
}

// Start 启动调度器
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func(done chan struct{}) {
		defer close(done)
		s.cron.Run(runCtx)
	}(s.done)

	logger.Info("Scheduler started", zap.Int("jobs", len(s.jobs)))
	return nil
}

// Stop 停止调度器并等待进行中的任务
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	done := s.done
	s.running = false
	s.mu.Unlock()

	<-done
	logger.Info("Scheduler stopped")
}

// AddJob 添加任务
func (s *Scheduler) AddJob(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job == nil {
		return fmt.Errorf("job cannot be nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id cannot be empty")
	}
	if job.Func == nil {
		return fmt.Errorf("job %s has no func", job.ID)
	}
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	if job.Enabled {
		if err := s.scheduleJob(job); err != nil {
			return err
		}
	}
	s.jobs[job.ID] = job

	logger.Info("Scheduled job added",
		zap.String("job_id", job.ID),
		zap.String("schedule", job.Schedule),
		zap.Time("next_run", job.NextRun),
	)
	return nil
}

// scheduleJob 调度任务，调用方持有锁
func (s *Scheduler) scheduleJob(job *Job) error {
	schedule, err := Parse(job.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule for job %s: %w", job.ID, err)
	}
	job.NextRun = s.cron.Schedule(schedule, s.createJobFunc(job), job.ID)
	return nil
}

// createJobFunc 包装任务函数，记录执行情况
func (s *Scheduler) createJobFunc(job *Job) func(context.Context) {
	return func(ctx context.Context) {
		s.mu.RLock()
		enabled := job.Enabled
		s.mu.RUnlock()
		if !enabled {
			return
		}

		logger.Debug("Running scheduled job", zap.String("job_id", job.ID), zap.String("name", job.Name))
		start := time.Now()
		err := job.Func(ctx)
		if err != nil {
			logger.Error("Scheduled job failed", zap.String("job_id", job.ID), zap.Error(err))
		}

		next, _ := s.cron.Next(job.ID)
		s.mu.Lock()
		job.LastRun = start
		job.NextRun = next
		job.RunCount++
		job.LastErr = ""
		if err != nil {
			job.LastErr = err.Error()
		}
		s.mu.Unlock()
	}
}

// GetJob 获取任务快照
func (s *Scheduler) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// ListJobs 列出所有任务，按 id 排序
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// EnableJob 启用任务
func (s *Scheduler) EnableJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Enabled {
		return nil
	}
	job.Enabled = true
	if err := s.scheduleJob(job); err != nil {
		job.Enabled = false
		return err
	}
	return nil
}

// DisableJob 禁用任务
func (s *Scheduler) DisableJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	job.Enabled = false
	s.cron.Remove(id)
	return nil
}
