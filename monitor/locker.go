package monitor

import "sync"

// Locker 按账号加锁，空闲的锁会被回收
type Locker struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker 创建账号锁
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*accountLock)}
}

// Lock 锁住 account，返回解锁函数
func (l *Locker) Lock(account string) func() {
	l.mu.Lock()
	al, ok := l.locks[account]
	if !ok {
		al = &accountLock{}
		l.locks[account] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()

		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, account)
		}
		l.mu.Unlock()
	}
}

// size 当前持有或等待中的账号数
func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
