package monitor

import (
	"context"
	"fmt"

	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/qzone"
	"github.com/smallnest/maizone/types"
	"go.uber.org/zap"
)

// Published 一次发布的结果
type Published struct {
	TID    string
	Text   string
	Images int
}

// Publisher 写文案、配图并发布说说
type Publisher struct {
	client  FeedClient
	writer  Writer
	picker  ImagePicker
	history int
}

// NewPublisher 创建 Publisher，picker 为 nil 时不配图
func NewPublisher(client FeedClient, writer Writer, picker ImagePicker, historyNumber int) *Publisher {
	return &Publisher{client: client, writer: writer, picker: picker, history: historyNumber}
}

// Publish 以 topic 为主题发一条说说，topic 为空时由模型决定。
// 配图失败只记录日志，说说照常以纯文字发布。
func (p *Publisher) Publish(ctx context.Context, topic string) (*Published, error) {
	history := ""
	if p.history > 0 {
		h, err := p.client.SendHistory(ctx, p.history)
		switch {
		case err == nil:
			history = h
		case types.IsAuth(err):
			return nil, err
		default:
			logger.Warn("Failed to load send history", zap.Error(err))
		}
	}

	text, err := p.writer.Post(ctx, topic, history)
	if err != nil {
		return nil, fmt.Errorf("generate post: %w", err)
	}

	var images []qzone.Image
	if p.picker != nil {
		imgs, err := p.picker.Pick(ctx, text)
		if err != nil {
			logger.Warn("Failed to prepare images, publishing text only", zap.Error(err))
		} else {
			images = imgs
		}
	}

	res, err := p.client.PublishPost(ctx, text, images)
	if err != nil {
		return nil, err
	}
	return &Published{TID: res.TID, Text: text, Images: len(images)}, nil
}
