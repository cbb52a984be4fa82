package cron

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MinFireGap 同一任务两次触发的最小间隔
const MinFireGap = 60 * time.Second

// Cron 定时任务驱动器
type Cron struct {
	mu   sync.Mutex
	jobs map[string]*ScheduledJob
	tick time.Duration
	now  func() time.Time
	wg   sync.WaitGroup
}

// ScheduledJob 定时任务
type ScheduledJob struct {
	ID       string
	Schedule Schedule
	Func     func(context.Context)
	Next     time.Time

	lastFire time.Time
	running  bool
}

// NewCron 创建 Cron
func NewCron() *Cron {
	return &Cron{
		jobs: make(map[string]*ScheduledJob),
		tick: time.Second,
		now:  time.Now,
	}
}

// Schedule 调度接口
type Schedule interface {
	Next(time.Time) time.Time
}

// ScheduleFunc 调度函数
type ScheduleFunc func(time.Time) time.Time

// Next 实现 Schedule 接口
func (f ScheduleFunc) Next(t time.Time) time.Time {
	return f(t)
}

// Run 运行到 ctx 结束，返回前等待进行中的任务
func (c *Cron) Run(ctx context.Context) {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fire(ctx, c.now())
		}
	}
}

// fire 触发所有到期任务。上一次还没跑完或距上次触发不足 MinFireGap 的任务只推进下次时间
func (c *Cron) fire(ctx context.Context, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, job := range c.jobs {
		if now.Before(job.Next) {
			continue
		}
		job.Next = job.Schedule.Next(now)
		if job.running {
			continue
		}
		if !job.lastFire.IsZero() && now.Sub(job.lastFire) < MinFireGap {
			continue
		}
		job.lastFire = now
		job.running = true

		c.wg.Add(1)
		go func(job *ScheduledJob) {
			defer c.wg.Done()
			defer func() {
				c.mu.Lock()
				job.running = false
				c.mu.Unlock()
			}()
			job.Func(ctx)
		}(job)
	}
}

// Schedule 添加调度，同 id 覆盖
func (c *Cron) Schedule(schedule Schedule, jobFunc func(context.Context), id string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := schedule.Next(c.now())
	c.jobs[id] = &ScheduledJob{
		ID:       id,
		Schedule: schedule,
		Func:     jobFunc,
		Next:     next,
	}
	return next
}

// Remove 移除调度
func (c *Cron) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, id)
}

// Next 任务的下次触发时间
func (c *Cron) Next(id string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[id]
	if !ok {
		return time.Time{}, false
	}
	return job.Next, true
}

// Wait 等待进行中的任务结束
func (c *Cron) Wait() {
	c.wg.Wait()
}

// Every 固定间隔
func Every(d time.Duration) Schedule {
	return ScheduleFunc(func(t time.Time) time.Time {
		return t.Add(d)
	})
}

// Daily 每天固定的时刻
type Daily struct {
	// 当天的分钟数，升序
	minutes []int
}

// Next 实现 Schedule 接口
func (d Daily) Next(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	for _, m := range d.minutes {
		at := day.Add(time.Duration(m) * time.Minute)
		if at.After(t) {
			return at
		}
	}
	return day.AddDate(0, 0, 1).Add(time.Duration(d.minutes[0]) * time.Minute)
}

// ParseDaily 解析 HH:MM 列表
func ParseDaily(times []string) (Daily, error) {
	seen := make(map[int]bool)
	var minutes []int
	for _, raw := range times {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		h, m, ok := strings.Cut(s, ":")
		if !ok {
			return Daily{}, fmt.Errorf("invalid time %q, want HH:MM", raw)
		}
		hour, err1 := strconv.Atoi(h)
		minute, err2 := strconv.Atoi(m)
		if err1 != nil || err2 != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return Daily{}, fmt.Errorf("invalid time %q, want HH:MM", raw)
		}
		v := hour*60 + minute
		if !seen[v] {
			seen[v] = true
			minutes = append(minutes, v)
		}
	}
	if len(minutes) == 0 {
		return Daily{}, fmt.Errorf("no daily times given")
	}
	sort.Ints(minutes)
	return Daily{minutes: minutes}, nil
}

// Parse 解析调度表达式：
// "every N minutes" / "every N hours"、"@every 90m"、"08:00,21:30"
func Parse(spec string) (Schedule, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil, fmt.Errorf("empty cron spec")
	}

	if rest, ok := strings.CutPrefix(s, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid interval %q", rest)
		}
		return Every(d), nil
	}

	fields := strings.Fields(s)
	if len(fields) == 3 && strings.EqualFold(fields[0], "every") {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid interval %q", fields[1])
		}
		switch strings.ToLower(fields[2]) {
		case "minute", "minutes":
			return Every(time.Duration(n) * time.Minute), nil
		case "hour", "hours":
			return Every(time.Duration(n) * time.Hour), nil
		default:
			return nil, fmt.Errorf("unsupported unit %q", fields[2])
		}
	}

	if strings.Contains(s, ":") {
		return ParseDaily(strings.Split(s, ","))
	}

	return nil, fmt.Errorf("invalid cron spec: %q", spec)
}
