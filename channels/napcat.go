package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smallnest/maizone/bus"
	"github.com/smallnest/maizone/config"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// NapcatChannelName Napcat 通道名
const NapcatChannelName = "napcat"

const apiTimeout = 10 * time.Second

// errNotConnected 通道尚未连上 Napcat
var errNotConnected = errors.New("napcat channel not connected")

// NapcatChannel 基于 OneBot V11 正向 WebSocket 的 QQ 通道
type NapcatChannel struct {
	*BaseChannelImpl
	wsURL       string
	accessToken string
	selfID      string
	dialer      *websocket.Dialer

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	callbackMu   sync.Mutex
	apiCallbacks map[string]chan gjson.Result
}

// NewNapcatChannel 创建 Napcat 通道
func NewNapcatChannel(cfg config.NapcatConfig, selfID string, bus *bus.MessageBus) (*NapcatChannel, error) {
	if cfg.WSURL == "" {
		return nil, fmt.Errorf("napcat ws_url is required")
	}
	return &NapcatChannel{
		BaseChannelImpl: NewBaseChannelImpl(NapcatChannelName, bus),
		wsURL:           cfg.WSURL,
		accessToken:     cfg.AccessToken,
		selfID:          selfID,
		dialer:          websocket.DefaultDialer,
		apiCallbacks:    make(map[string]chan gjson.Result),
	}, nil
}

// Start 启动通道
func (c *NapcatChannel) Start(ctx context.Context) error {
	if err := c.BaseChannelImpl.Start(ctx); err != nil {
		return err
	}
	logger.Info("Starting napcat channel", zap.String("ws_url", c.wsURL))
	go c.connectAndListen(ctx)
	return nil
}

// connectAndListen 连接 WebSocket 并监听消息，断线指数退避重连
func (c *NapcatChannel) connectAndListen(ctx context.Context) {
	reconnectDelay := time.Second
	const maxReconnectDelay = 30 * time.Second
	stop := c.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		conn, err := c.connect(ctx)
		if err != nil {
			logger.Error("Failed to connect to napcat websocket", zap.Error(err))
			select {
			case <-time.After(reconnectDelay):
				reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
				continue
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
		reconnectDelay = time.Second

		// ctx 结束时关闭连接，让 readLoop 退出
		done := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
			case <-stop:
			case <-done:
			}
			_ = conn.Close()
		}()

		c.readLoop(conn)
		close(done)

		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		c.failPending()
	}
}

func (c *NapcatChannel) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.accessToken != "" {
		header.Set("Authorization", "Bearer "+c.accessToken)
	}
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return nil, err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	logger.Info("Connected to napcat OneBot")
	return conn, nil
}

func (c *NapcatChannel) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Info("Napcat websocket closed normally")
			} else {
				logger.Warn("Napcat websocket read error", zap.Error(err))
			}
			return
		}
		c.handleFrame(message)
	}
}

// handleFrame 处理一帧数据：API 响应或事件
func (c *NapcatChannel) handleFrame(message []byte) {
	if !gjson.ValidBytes(message) {
		logger.Warn("Invalid JSON from napcat websocket")
		return
	}
	frame := gjson.ParseBytes(message)

	if echo := frame.Get("echo"); echo.Exists() && echo.String() != "" {
		c.callbackMu.Lock()
		ch, ok := c.apiCallbacks[echo.String()]
		if ok {
			delete(c.apiCallbacks, echo.String())
		}
		c.callbackMu.Unlock()
		if ok {
			ch <- frame
		}
		return
	}

	if frame.Get("post_type").String() == "message" {
		c.handleMessage(frame)
	}
}

func (c *NapcatChannel) handleMessage(ev gjson.Result) {
	userID := ev.Get("user_id").String()
	if userID == "" || userID == "0" {
		logger.Warn("Napcat message without user_id")
		return
	}
	selfID := c.selfID
	if selfID == "" {
		selfID = ev.Get("self_id").String()
	}
	// 忽略机器人自己发的消息
	if userID == selfID {
		return
	}

	chatID := userID
	chatType := bus.ChatTypePrivate
	if ev.Get("message_type").String() == "group" {
		chatID = ev.Get("group_id").String()
		chatType = bus.ChatTypeGroup
		if chatID == "" {
			logger.Warn("Napcat group message without group_id")
			return
		}
	}

	senderName := ev.Get("sender.card").String()
	if senderName == "" {
		senderName = ev.Get("sender.nickname").String()
	}

	content, atBot := parseMessage(ev.Get("message"), selfID)

	msg := &bus.InboundMessage{
		ID:         ev.Get("message_id").String(),
		SenderID:   userID,
		SenderName: senderName,
		ChatID:     chatID,
		ChatType:   chatType,
		Content:    strings.TrimSpace(content),
		Timestamp:  time.Now(),
		Metadata: map[string]string{
			bus.MetaAtBot: fmt.Sprint(atBot),
			"raw_message": ev.Get("raw_message").String(),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.PublishInbound(ctx, msg); err != nil {
		logger.Warn("Failed to publish napcat message", zap.Error(err))
	}
}

var (
	cqCodeRegex = regexp.MustCompile(`\[CQ:([^,\]]+),?([^\]]*)\]`)
	cqQQRegex   = regexp.MustCompile(`qq=(\d+|all)`)
)

// parseMessage 将 OneBot 消息（数组或 CQ 字符串）转成纯文本，并判断是否 @ 了机器人
func parseMessage(message gjson.Result, selfID string) (string, bool) {
	if !message.IsArray() {
		return parseCQCode(message.String(), selfID)
	}

	var b strings.Builder
	atBot := false
	for _, seg := range message.Array() {
		data := seg.Get("data")
		switch typ := seg.Get("type").String(); typ {
		case "text":
			b.WriteString(data.Get("text").String())
		case "at":
			qq := data.Get("qq").String()
			if selfID != "" && qq == selfID {
				atBot = true
				continue
			}
			b.WriteString("@" + qq)
		case "reply":
		default:
			b.WriteString(segmentPlaceholder(typ))
		}
	}
	return b.String(), atBot
}

// parseCQCode 解析 CQ 码，@机器人 的 CQ 码会被去掉
func parseCQCode(message, selfID string) (string, bool) {
	atBot := false
	out := cqCodeRegex.ReplaceAllStringFunc(message, func(match string) string {
		sub := cqCodeRegex.FindStringSubmatch(match)
		cqType, params := sub[1], sub[2]

		switch cqType {
		case "at":
			if m := cqQQRegex.FindStringSubmatch(params); len(m) > 1 {
				if selfID != "" && m[1] == selfID {
					atBot = true
					return ""
				}
				return "@" + m[1]
			}
		case "reply":
			return ""
		}
		return segmentPlaceholder(cqType)
	})
	return out, atBot
}

func segmentPlaceholder(typ string) string {
	switch typ {
	case "image":
		return "[图片]"
	case "face", "mface":
		return "[表情]"
	case "record":
		return "[语音]"
	case "video":
		return "[视频]"
	case "file":
		return "[文件]"
	case "share", "json":
		return "[链接分享]"
	}
	return "[" + typ + "]"
}

// messageSegments 出站消息转为 OneBot 消息段
func messageSegments(msg *bus.OutboundMessage) []map[string]any {
	var segs []map[string]any
	if msg.Content != "" {
		segs = append(segs, map[string]any{"type": "text", "data": map[string]any{"text": msg.Content}})
	}
	for _, m := range msg.Media {
		if m.Type != "image" {
			continue
		}
		file := m.URL
		if m.Base64 != "" {
			file = "base64://" + m.Base64
		}
		if file == "" {
			continue
		}
		segs = append(segs, map[string]any{"type": "image", "data": map[string]any{"file": file}})
	}
	return segs
}

// Send 发送消息并等待 Napcat 确认
func (c *NapcatChannel) Send(ctx context.Context, msg *bus.OutboundMessage) error {
	segs := messageSegments(msg)
	if len(segs) == 0 {
		return nil
	}
	params := map[string]any{"message": segs}
	if msg.ChatType == bus.ChatTypeGroup {
		params["message_type"] = "group"
		params["group_id"] = msg.ChatID
	} else {
		params["message_type"] = "private"
		params["user_id"] = msg.ChatID
	}

	resp, err := c.call(ctx, "send_msg", params)
	if err != nil {
		return err
	}
	if status := resp.Get("status").String(); status != "ok" {
		return fmt.Errorf("napcat send_msg failed: status=%s retcode=%d %s",
			status, resp.Get("retcode").Int(), resp.Get("message").String())
	}
	return nil
}

// call 调用 OneBot API，通过 echo 等待响应
func (c *NapcatChannel) call(ctx context.Context, action string, params map[string]any) (gjson.Result, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return gjson.Result{}, errNotConnected
	}

	echo := uuid.New().String()
	payload, err := json.Marshal(map[string]any{"action": action, "params": params, "echo": echo})
	if err != nil {
		return gjson.Result{}, err
	}

	ch := make(chan gjson.Result, 1)
	c.callbackMu.Lock()
	c.apiCallbacks[echo] = ch
	c.callbackMu.Unlock()
	defer func() {
		c.callbackMu.Lock()
		delete(c.apiCallbacks, echo)
		c.callbackMu.Unlock()
	}()

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(apiTimeout))
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return gjson.Result{}, fmt.Errorf("napcat %s: %w", action, err)
	}

	timer := time.NewTimer(apiTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return gjson.Result{}, fmt.Errorf("napcat %s: %w", action, errNotConnected)
		}
		return resp, nil
	case <-timer.C:
		return gjson.Result{}, fmt.Errorf("napcat %s: timed out waiting for response", action)
	case <-ctx.Done():
		return gjson.Result{}, ctx.Err()
	}
}

// failPending 连接断开时释放所有等待中的调用
func (c *NapcatChannel) failPending() {
	c.callbackMu.Lock()
	defer c.callbackMu.Unlock()
	for echo, ch := range c.apiCallbacks {
		close(ch)
		delete(c.apiCallbacks, echo)
	}
}

// Connected 是否已连接
func (c *NapcatChannel) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Stop 停止通道
func (c *NapcatChannel) Stop() error {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()
	return c.BaseChannelImpl.Stop()
}
