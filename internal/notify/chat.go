package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"charging-alert-backend/config"
	"charging-alert-backend/internal/idle"
)

// ChatResult records the outcome of one chat relay call.
type ChatResult struct {
	Success   bool
	MessageID string
	Error     string
	ElapsedMs int64
}

// ChatSender posts text messages to the chat relay API. Calls are
// serialized through a rate limiter so bursts at window boundaries do
// not trip the relay's flood protection.
type ChatSender struct {
	cfg     config.ChatConfig
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

// NewChatSender creates a sender from cfg. A disabled config yields a
// sender whose calls succeed without network traffic.
func NewChatSender(cfg config.ChatConfig, log *zap.SugaredLogger) *ChatSender {
	mps := cfg.MessagesPerSecond
	if mps <= 0 {
		mps = 2
	}
	return &ChatSender{
		cfg:     cfg,
		client:  &http.Client{Timeout: webhookTimeout},
		limiter: rate.NewLimiter(rate.Limit(mps), 1),
		log:     log,
	}
}

// SendIdleNotice sends the single-socket idle message.
func (c *ChatSender) SendIdleNotice(ctx context.Context, s idle.Socket) ChatResult {
	text := fmt.Sprintf("%d号充电桩%d号插座已经空闲%d分钟啦，快来充电吧！", s.StationID, s.SocketID, s.IdleMinutes)
	return c.sendText(ctx, text)
}

// SendBatch sends one combined message for several idle sockets.
func (c *ChatSender) SendBatch(ctx context.Context, sockets []idle.Socket) ChatResult {
	if len(sockets) == 1 {
		return c.SendIdleNotice(ctx, sockets[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "当前有%d个插座空闲：\n", len(sockets))
	for _, s := range sockets {
		fmt.Fprintf(&b, "%d号充电桩%d号插座（空闲%d分钟）\n", s.StationID, s.SocketID, s.IdleMinutes)
	}
	b.WriteString("快来充电吧！")
	return c.sendText(ctx, b.String())
}

// SendSummary sends the window-boundary broadcast. messageType selects
// the opening or closing wording.
func (c *ChatSender) SendSummary(ctx context.Context, messageType string, socketCount int) ChatResult {
	var text string
	if socketCount > 0 {
		text = fmt.Sprintf("充电提醒时段开始，当前有%d个插座空闲，快来充电吧！", socketCount)
		if messageType == "window_end" {
			text = fmt.Sprintf("充电提醒时段结束，当前仍有%d个插座空闲。", socketCount)
		}
	} else {
		text = "充电提醒时段开始，当前没有空闲插座。"
		if messageType == "window_end" {
			text = "充电提醒时段结束，当前没有空闲插座。"
		}
	}
	return c.sendText(ctx, text)
}

type chatRequest struct {
	ChatID string `json:"chatId"`
	Text   string `json:"text"`
}

type chatResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

func (c *ChatSender) sendText(ctx context.Context, text string) ChatResult {
	if !c.cfg.Enabled {
		return ChatResult{Success: true}
	}

	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return ChatResult{Error: err.Error(), ElapsedMs: time.Since(start).Milliseconds()}
	}

	body, err := json.Marshal(chatRequest{ChatID: c.cfg.ChatID, Text: text})
	if err != nil {
		return ChatResult{Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return ChatResult{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warnw("chat relay unreachable", "error", err)
		return ChatResult{Error: err.Error(), ElapsedMs: time.Since(start).Milliseconds()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	elapsed := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warnw("chat relay rejected message", "status", resp.StatusCode, "body", string(respBody))
		return ChatResult{Error: fmt.Sprintf("chat relay returned %d", resp.StatusCode), ElapsedMs: elapsed}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ChatResult{Error: fmt.Sprintf("decode relay response: %v", err), ElapsedMs: elapsed}
	}
	if !parsed.Success {
		return ChatResult{Error: parsed.Error, ElapsedMs: elapsed}
	}
	return ChatResult{Success: true, MessageID: parsed.MessageID, ElapsedMs: elapsed}
}
