package monitor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/maizone/qzone"
	"github.com/smallnest/maizone/store"
)

type fakeClient struct {
	mu sync.Mutex

	bot     string
	posts   map[string][]qzone.Post
	feeds   []qzone.Post
	failFor map[string]error
	likeErr error
	history string

	fetchHook func(target string)

	likes     []string
	comments  []string
	replies   []string
	published []string
	images    []int
}

func newFakeClient() *fakeClient {
	return &fakeClient{bot: "10001", posts: map[string][]qzone.Post{}, failFor: map[string]error{}}
}

func (f *fakeClient) BotUIN() string { return f.bot }

func (f *fakeClient) FetchRecentPosts(_ context.Context, target string, count int) ([]qzone.Post, error) {
	if f.fetchHook != nil {
		f.fetchHook(target)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[target]; err != nil {
		return nil, err
	}
	posts := f.posts[target]
	if len(posts) > count {
		posts = posts[:count]
	}
	return posts, nil
}

func (f *fakeClient) FetchFriendFeeds(_ context.Context, count int) ([]qzone.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeds, nil
}

func (f *fakeClient) LikePost(_ context.Context, target, tid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.likeErr != nil {
		return f.likeErr
	}
	f.likes = append(f.likes, target+"/"+tid)
	return nil
}

func (f *fakeClient) CommentPost(_ context.Context, target, tid, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, target+"/"+tid+":"+text)
	return nil
}

func (f *fakeClient) ReplyComment(_ context.Context, target, tid, commentTID, nick, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, tid+"/"+commentTID+"@"+nick+":"+text)
	return nil
}

func (f *fakeClient) PublishPost(_ context.Context, text string, images []qzone.Image) (*qzone.PostResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, text)
	f.images = append(f.images, len(images))
	return &qzone.PostResult{TID: fmt.Sprintf("new%d", len(f.published))}, nil
}

func (f *fakeClient) SendHistory(context.Context, int) (string, error) {
	return f.history, nil
}

func (f *fakeClient) counts() (likes, comments, replies int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.likes), len(f.comments), len(f.replies)
}

type fakeWriter struct {
	commentErr error
	topics     []string
	histories  []string
}

func (w *fakeWriter) Post(_ context.Context, topic, history string) (string, error) {
	w.topics = append(w.topics, topic)
	w.histories = append(w.histories, history)
	return "关于" + topic + "的说说", nil
}

func (w *fakeWriter) Comment(_ context.Context, owner string, p qzone.Post) (string, error) {
	if w.commentErr != nil {
		return "", w.commentErr
	}
	return "评论" + p.TID, nil
}

func (w *fakeWriter) Reply(_ context.Context, postContent string, c qzone.Comment) (string, error) {
	return "回复" + c.TID, nil
}

type fakePicker struct {
	images []qzone.Image
	err    error
}

func (p *fakePicker) Pick(context.Context, string) ([]qzone.Image, error) {
	return p.images, p.err
}

func openStore(t *testing.T, path string) store.SeenStore {
	t.Helper()
	s, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatalf("NewBoltStore() failed: %v", err)
	}
	return s
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestReactor(client FeedClient, writer Writer, seen store.SeenStore) *Reactor {
	r := NewReactor(client, writer, seen, NewLocker())
	r.sleep = noSleep
	return r
}

var errBoom = errors.New("boom")

func tempStorePath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "seen.bolt")
}
