package monitor

import (
	"context"
	"strings"
	"testing"

	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/qzone"
	"github.com/smallnest/maizone/store"
)

func newTestMonitor(cfg config.MonitorConfig, client *fakeClient, writer Writer, seen store.SeenStore) *Monitor {
	return New(Options{
		Config:  cfg,
		Client:  client,
		Reactor: newTestReactor(client, writer, seen),
		Sleep:   noSleep,
	})
}

func TestMonitorHandlesEachPostOnceAcrossTicksAndRestart(t *testing.T) {
	ctx := context.Background()
	path := tempStorePath(t)

	client := newFakeClient()
	client.posts["20002"] = []qzone.Post{
		{Owner: "20002", TID: "a", Content: "第一条"},
		{Owner: "20002", TID: "b", Content: "第二条"},
	}
	cfg := config.MonitorConfig{Targets: []string{"20002"}, ReadNumber: 5, Comment: true}

	seen := openStore(t, path)
	m := newTestMonitor(cfg, client, &fakeWriter{}, seen)
	for i := 0; i < 2; i++ {
		if err := m.Tick(ctx); err != nil {
			t.Fatalf("Tick() #%d failed: %v", i, err)
		}
	}
	if likes, comments, _ := client.counts(); likes != 2 || comments != 2 {
		t.Fatalf("likes=%d comments=%d after two ticks, want 2 and 2", likes, comments)
	}
	if err := seen.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	reopened := openStore(t, path)
	defer reopened.Close()
	m = newTestMonitor(cfg, client, &fakeWriter{}, reopened)
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick() after restart failed: %v", err)
	}
	if likes, comments, _ := client.counts(); likes != 2 || comments != 2 {
		t.Fatalf("posts were handled again after restart: likes=%d comments=%d", likes, comments)
	}
	if got := client.comments[0]; got != "20002/a:评论a" {
		t.Fatalf("comment = %q", got)
	}
}

func TestMonitorContinuesAfterTargetFailure(t *testing.T) {
	client := newFakeClient()
	client.failFor["20002"] = errBoom
	client.posts["30003"] = []qzone.Post{{Owner: "30003", TID: "x", Content: "hi"}}

	seen := openStore(t, tempStorePath(t))
	defer seen.Close()
	m := newTestMonitor(config.MonitorConfig{Targets: []string{"20002", "30003"}}, client, &fakeWriter{}, seen)

	err := m.Tick(context.Background())
	if err == nil || !strings.Contains(err.Error(), "20002") {
		t.Fatalf("Tick() error = %v, want failure for 20002", err)
	}
	if likes, comments, _ := client.counts(); likes != 1 || comments != 0 {
		t.Fatalf("likes=%d comments=%d, want the healthy target liked without comment", likes, comments)
	}
	if m.State("20002") != StateIdle || m.State("30003") != StateIdle {
		t.Fatalf("targets must return to idle after a tick")
	}
}

func TestMonitorFriendFeedsGroupedByOwner(t *testing.T) {
	client := newFakeClient()
	client.feeds = []qzone.Post{
		{Owner: "20002", TID: "a", Content: "x"},
		{Owner: "30003", TID: "b", Content: "y", Liked: true},
		{Owner: "20002", TID: "c", Content: "z"},
		{Owner: "10001", TID: "own", Content: "我的", Comments: []qzone.Comment{{TID: "1", UIN: "20002", Nickname: "朋友", Content: "赞"}}},
	}

	seen := openStore(t, tempStorePath(t))
	defer seen.Close()
	m := newTestMonitor(config.MonitorConfig{}, client, &fakeWriter{}, seen)
	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}

	if got := strings.Join(client.likes, ","); got != "20002/a,20002/c" {
		t.Fatalf("likes = %s, already liked posts must not be liked again", got)
	}
	if _, _, replies := client.counts(); replies != 0 {
		t.Fatalf("auto reply is off, got %d replies", replies)
	}
	for _, id := range []string{"a", "c"} {
		if ok, _ := seen.Seen(context.Background(), "20002", id); !ok {
			t.Fatalf("post %s not recorded", id)
		}
	}
	if ok, _ := seen.Seen(context.Background(), "30003", "b"); !ok {
		t.Fatalf("liked post must still be recorded")
	}
}

func TestMonitorAutoReply(t *testing.T) {
	client := newFakeClient()
	client.posts["10001"] = []qzone.Post{{
		Owner: "10001", TID: "own", Content: "今天天气不错",
		Comments: []qzone.Comment{
			{TID: "1", UIN: "20002", Nickname: "甲", Content: "是啊"},
			{TID: "2", UIN: "30003", Nickname: "乙", Content: "出去玩"},
			{TID: "3", ParentTID: "1", UIN: "10001", Content: "嗯嗯"},
			{TID: "4", UIN: "10001", Content: "自己的评论"},
		},
	}}

	seen := openStore(t, tempStorePath(t))
	defer seen.Close()
	cfg := config.MonitorConfig{Targets: []string{"20002"}, AutoReply: true}
	m := newTestMonitor(cfg, client, &fakeWriter{}, seen)

	ctx := context.Background()
	if err := m.Tick(ctx); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if len(client.replies) != 1 || client.replies[0] != "own/2@乙:回复2" {
		t.Fatalf("replies = %v, want only the unanswered comment", client.replies)
	}
	if ok, _ := seen.Seen(ctx, "10001", store.CommentKey("own", "2")); !ok {
		t.Fatalf("replied comment not recorded")
	}

	if err := m.Tick(ctx); err != nil {
		t.Fatalf("second Tick() failed: %v", err)
	}
	if len(client.replies) != 1 {
		t.Fatalf("comment replied twice: %v", client.replies)
	}
}

func TestMonitorStateDuringPoll(t *testing.T) {
	client := newFakeClient()
	seen := openStore(t, tempStorePath(t))
	defer seen.Close()
	m := newTestMonitor(config.MonitorConfig{Targets: []string{"20002"}}, client, &fakeWriter{}, seen)

	var during State
	client.fetchHook = func(target string) { during = m.State(target) }
	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() failed: %v", err)
	}
	if during != StatePolling {
		t.Fatalf("state during fetch = %v, want polling", during)
	}
	if m.State("20002") != StateIdle {
		t.Fatalf("state after tick = %v, want idle", m.State("20002"))
	}
}

func TestMonitorStopsOnCancel(t *testing.T) {
	client := newFakeClient()
	client.posts["20002"] = []qzone.Post{{Owner: "20002", TID: "a", Content: "x"}}
	seen := openStore(t, tempStorePath(t))
	defer seen.Close()
	m := newTestMonitor(config.MonitorConfig{Targets: []string{"20002"}}, client, &fakeWriter{}, seen)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Tick(ctx); err == nil {
		t.Fatalf("expected error from cancelled tick")
	}
	if likes, _, _ := client.counts(); likes != 0 {
		t.Fatalf("cancelled tick must not act, got %d likes", likes)
	}
}
