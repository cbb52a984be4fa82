package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallnest/maizone/types"
)

// fakeStrategy 按顺序返回预设结果
type fakeStrategy struct {
	name    string
	calls   atomic.Int32
	results []func() (*Session, error)
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Attempt(ctx context.Context) (*Session, error) {
	n := int(f.calls.Add(1)) - 1
	if n >= len(f.results) {
		n = len(f.results) - 1
	}
	return f.results[n]()
}

func ok(uin, skey string) func() (*Session, error) {
	return func() (*Session, error) {
		return New("", map[string]string{"uin": "o0" + uin, "p_skey": skey}, time.Now(), time.Hour), nil
	}
}

func fail(msg string) func() (*Session, error) {
	return func() (*Session, error) { return nil, errors.New(msg) }
}

func TestManagerFallsThroughStrategies(t *testing.T) {
	napcat := &fakeStrategy{name: StrategyNapcat, results: []func() (*Session, error){fail("connection refused")}}
	clientKey := &fakeStrategy{name: StrategyClientKey, results: []func() (*Session, error){ok("10001", "k1")}}
	cache := &fakeStrategy{name: StrategyCache, results: []func() (*Session, error){ok("10001", "cached")}}

	files := NewFileStore(t.TempDir())
	m := NewManager(Options{UIN: "10001", Strategies: []Strategy{napcat, clientKey, cache}, Files: files})

	s, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if s.Strategy != StrategyClientKey || s.Get("p_skey") != "k1" {
		t.Fatalf("unexpected session %+v", s)
	}
	if cache.calls.Load() != 0 {
		t.Fatalf("cache should not be tried after clientkey succeeded")
	}

	saved, err := files.Load("10001")
	if err != nil {
		t.Fatalf("session should be persisted: %v", err)
	}
	if saved.Get("p_skey") != "k1" {
		t.Fatalf("persisted p_skey = %q", saved.Get("p_skey"))
	}

	// 第二次调用复用已持有的登录态
	if _, err := m.Current(context.Background()); err != nil {
		t.Fatalf("Current() second call failed: %v", err)
	}
	if clientKey.calls.Load() != 1 {
		t.Fatalf("clientkey attempted %d times, want 1", clientKey.calls.Load())
	}
}

func TestManagerRejectsOtherAccount(t *testing.T) {
	napcat := &fakeStrategy{name: StrategyNapcat, results: []func() (*Session, error){ok("99999", "k")}}
	cache := &fakeStrategy{name: StrategyCache, results: []func() (*Session, error){ok("10001", "c")}}

	m := NewManager(Options{UIN: "10001", Strategies: []Strategy{napcat, cache}})
	s, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if s.Strategy != StrategyCache {
		t.Fatalf("mismatched account should fall through to cache, got %s", s.Strategy)
	}
}

func TestManagerLocksAfterExhaustion(t *testing.T) {
	napcat := &fakeStrategy{name: StrategyNapcat, results: []func() (*Session, error){fail("down"), ok("10001", "k")}}
	m := NewManager(Options{UIN: "10001", Strategies: []Strategy{napcat}})

	_, err := m.Current(context.Background())
	if !types.IsAuth(err) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked in chain, got %v", err)
	}
	if m.Status().State != StateLocked {
		t.Fatalf("state = %s, want locked", m.Status().State)
	}

	// 锁定期间不再尝试登录
	if _, err := m.Current(context.Background()); !types.IsAuth(err) {
		t.Fatalf("locked manager should return AuthError, got %v", err)
	}
	if napcat.calls.Load() != 1 {
		t.Fatalf("locked manager attempted strategies again (%d calls)", napcat.calls.Load())
	}

	m.Reset()
	s, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() after reset failed: %v", err)
	}
	if s.Get("p_skey") != "k" {
		t.Fatalf("unexpected session after reset: %+v", s)
	}
}

func TestManagerCancelDoesNotLock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	napcat := &fakeStrategy{name: StrategyNapcat, results: []func() (*Session, error){
		func() (*Session, error) {
			cancel()
			return nil, context.Canceled
		},
	}}
	m := NewManager(Options{Strategies: []Strategy{napcat}})

	if _, err := m.Current(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if m.Status().State == StateLocked {
		t.Fatalf("cancellation must not lock the manager")
	}
}

func TestReacquireReturnsFreshSessionOnce(t *testing.T) {
	napcat := &fakeStrategy{name: StrategyNapcat, results: []func() (*Session, error){ok("10001", "old"), ok("10001", "new")}}
	m := NewManager(Options{UIN: "10001", Strategies: []Strategy{napcat}})

	stale, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]*Session, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := m.Reacquire(context.Background(), stale)
			if err != nil {
				t.Errorf("Reacquire() failed: %v", err)
				return
			}
			results[i] = s
		}(i)
	}
	wg.Wait()

	if napcat.calls.Load() != 2 {
		t.Fatalf("concurrent reacquire should log in once more, got %d total attempts", napcat.calls.Load())
	}
	for _, s := range results {
		if s == nil || s.Get("p_skey") != "new" {
			t.Fatalf("every caller should get the fresh session, got %+v", s)
		}
	}
}

func TestReacquireSkipsRejectedCache(t *testing.T) {
	cached := New(StrategyCache, map[string]string{"uin": "o010001", "p_skey": "same"}, time.Now(), time.Hour)
	cache := &fakeStrategy{name: StrategyCache, results: []func() (*Session, error){
		func() (*Session, error) {
			cp := *cached
			return &cp, nil
		},
	}}
	m := NewManager(Options{UIN: "10001", Strategies: []Strategy{cache}})

	stale, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if _, err := m.Reacquire(context.Background(), stale); !types.IsAuth(err) {
		t.Fatalf("reloading the rejected cookies should fail with AuthError, got %v", err)
	}
}

func TestAcquireClearsLock(t *testing.T) {
	napcat := &fakeStrategy{name: StrategyNapcat, results: []func() (*Session, error){fail("down"), ok("10001", "k")}}
	m := NewManager(Options{Strategies: []Strategy{napcat}})

	if _, err := m.Current(context.Background()); err == nil {
		t.Fatalf("expected first acquisition to fail")
	}
	s, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	if st := m.Status(); st.State != StateValid || st.Strategy != StrategyNapcat || s.UIN != "10001" {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestCacheStrategyDoesNotRewriteFile(t *testing.T) {
	files := NewFileStore(t.TempDir())
	orig := New(StrategyQRCode, map[string]string{"uin": "o010001", "p_skey": "k"}, time.Now(), time.Hour)
	if err := files.Save(orig); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	m := NewManager(Options{
		UIN:        "10001",
		Strategies: []Strategy{&CacheStrategy{UIN: "10001", Files: files}},
		Files:      files,
	})
	s, err := m.Current(context.Background())
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if s.Strategy != StrategyCache {
		t.Fatalf("strategy = %s, want cache", s.Strategy)
	}

	loaded, err := files.Load("10001")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if loaded.Strategy != StrategyQRCode {
		t.Fatalf("cache strategy must not rewrite the cookie file, got strategy %s", loaded.Strategy)
	}
}

func TestCacheStrategyRejectsExpired(t *testing.T) {
	files := NewFileStore(t.TempDir())
	old := New(StrategyNapcat, map[string]string{"uin": "o010001", "p_skey": "k"}, time.Now().Add(-48*time.Hour), DefaultTTL)
	if err := files.Save(old); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	c := &CacheStrategy{UIN: "10001", Files: files}
	if _, err := c.Attempt(context.Background()); err == nil {
		t.Fatalf("expired cache should fail")
	}
}
