package monitor

import (
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/smallnest/maizone/config"
)

// 主题模式
const (
	TopicFixed  = "fixed"
	TopicRandom = "random"
	TopicAI     = "ai"
)

// TopicPicker 为定时说说挑主题
type TopicPicker struct {
	mode   string
	topics []string

	mu   sync.Mutex
	next int
	intn func(n int) int
}

// NewTopicPicker 按配置创建，未配置主题时退化为 ai 模式
func NewTopicPicker(cfg config.ScheduleConfig) *TopicPicker {
	var topics []string
	for _, t := range cfg.FixedTopics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	mode := strings.ToLower(strings.TrimSpace(cfg.TopicMode))
	if len(topics) == 0 || (mode != TopicFixed && mode != TopicRandom) {
		mode = TopicAI
	}
	return &TopicPicker{mode: mode, topics: topics, intn: rand.IntN}
}

// Mode 生效的模式
func (t *TopicPicker) Mode() string { return t.mode }

// Next 下一个主题，ai 模式返回空串
func (t *TopicPicker) Next() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.mode {
	case TopicFixed:
		topic := t.topics[t.next%len(t.topics)]
		t.next++
		return topic
	case TopicRandom:
		return t.topics[t.intn(len(t.topics))]
	default:
		return ""
	}
}
