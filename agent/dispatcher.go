package agent

import (
	"context"
	"sync"
	"time"

	"github.com/smallnest/maizone/bus"
	"github.com/smallnest/maizone/internal/logger"
	"go.uber.org/zap"
)

// laneIdleTTL 会话空闲多久后回收其 goroutine
const laneIdleTTL = 10 * time.Minute

// dispatcher 每个会话一条处理队列：同一会话按顺序处理，不同会话并发。
// 发说说要几十秒，这样一个人的请求不会挡住其他人
type dispatcher struct {
	handle func(ctx context.Context, msg *bus.InboundMessage)
	idle   time.Duration

	// mu 同时保护 lanes 和每条 lane 的 pending/busy
	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

type lane struct {
	pending []*bus.InboundMessage
	busy    bool
	wake    chan struct{}
}

func newDispatcher(handle func(ctx context.Context, msg *bus.InboundMessage)) *dispatcher {
	return &dispatcher{handle: handle, idle: laneIdleTTL, lanes: make(map[string]*lane)}
}

// Dispatch 放入消息所属会话的队列，返回排在它前面的条数（含正在处理的）
func (d *dispatcher) Dispatch(ctx context.Context, msg *bus.InboundMessage) int {
	key := msg.SessionKey()

	d.mu.Lock()
	l, ok := d.lanes[key]
	if !ok {
		l = &lane{wake: make(chan struct{}, 1)}
		d.lanes[key] = l
		d.wg.Add(1)
		go d.drain(ctx, key, l)
	}
	ahead := len(l.pending)
	if l.busy {
		ahead++
	}
	l.pending = append(l.pending, msg)
	d.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return ahead
}

// Wait 等待所有会话队列退出
func (d *dispatcher) Wait() {
	d.wg.Wait()
}

func (d *dispatcher) drain(ctx context.Context, key string, l *lane) {
	defer d.wg.Done()

	idle := time.NewTimer(d.idle)
	defer idle.Stop()

	for {
		if msg := d.next(l); msg != nil {
			d.handle(ctx, msg)
			d.mu.Lock()
			l.busy = false
			d.mu.Unlock()
			logger.Debug("Inbound message handled", zap.String("session", key), zap.String("id", msg.ID))
			continue
		}

		idle.Reset(d.idle)
		select {
		case <-ctx.Done():
			d.retire(key, l, true)
			return
		case <-l.wake:
		case <-idle.C:
			// 移除和 Dispatch 的追加在同一把锁下，不会丢消息
			if d.retire(key, l, false) {
				return
			}
		}
	}
}

func (d *dispatcher) next(l *lane) *bus.InboundMessage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	msg := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	l.busy = true
	return msg
}

// retire 队列为空（或 force）时移除 lane
func (d *dispatcher) retire(key string, l *lane, force bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !force && len(l.pending) > 0 {
		return false
	}
	if d.lanes[key] == l {
		delete(d.lanes, key)
	}
	return true
}
