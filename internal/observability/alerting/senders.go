package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strings"
	"time"
)

const senderTimeout = 10 * time.Second

// WebhookSender 通过 incoming webhook 向 Slack 或钉钉机器人推送文本消息。
type WebhookSender struct {
	URL        string
	HTTPClient *http.Client
	dingTalk   bool
}

// NewSlackWebhook 创建 Slack incoming webhook 发送器。
func NewSlackWebhook(url string) *WebhookSender {
	return &WebhookSender{URL: url}
}

// NewDingTalkWebhook 创建钉钉机器人发送器。
func NewDingTalkWebhook(url string) *WebhookSender {
	return &WebhookSender{URL: url, dingTalk: true}
}

// Send 实现 DingTalkSender。
func (s *WebhookSender) Send(ctx context.Context, content string) error {
	return s.post(ctx, "", content)
}

// SendTo 用于 Slack，channel 为空时使用 webhook 默认频道。
func (s *WebhookSender) SendTo(ctx context.Context, channel, content string) error {
	return s.post(ctx, channel, content)
}

func (s *WebhookSender) post(ctx context.Context, channel, content string) error {
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("webhook URL 未配置")
	}
	var payload any
	if s.dingTalk {
		payload = map[string]any{"msgtype": "text", "text": map[string]string{"content": content}}
	} else {
		body := map[string]string{"text": content}
		if channel != "" {
			body["channel"] = channel
		}
		payload = body
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: senderTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("告警渠道返回 %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// slackAdapter 让 WebhookSender 满足 SlackSender。
type slackAdapter struct{ *WebhookSender }

func (a slackAdapter) Send(ctx context.Context, channel, content string) error {
	return a.SendTo(ctx, channel, content)
}

// AsSlackSender 将 webhook 发送器适配为 SlackSender。
func AsSlackSender(s *WebhookSender) SlackSender {
	return slackAdapter{s}
}

// SMTPConfig 描述邮件告警所需的 SMTP 服务器。
type SMTPConfig struct {
	Addr     string   `json:"addr"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	Username string   `json:"username"`
	Password string   `json:"-"`
}

// SMTPSender 通过 SMTP 发送纯文本邮件。
type SMTPSender struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender 创建邮件发送器。
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

// Send 实现 EmailSender。net/smtp 不支持 context，这里只在发送前检查取消。
func (s *SMTPSender) Send(ctx context.Context, subject, content string, to []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.Addr == "" || s.cfg.From == "" {
		return errors.New("SMTP 未配置")
	}
	var auth smtp.Auth
	if s.cfg.Username != "" {
		host, _, err := net.SplitHostPort(s.cfg.Addr)
		if err != nil {
			return fmt.Errorf("解析 SMTP 地址失败: %w", err)
		}
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, host)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n",
		s.cfg.From, strings.Join(to, ", "), subject, content)
	return s.send(s.cfg.Addr, auth, s.cfg.From, to, []byte(msg))
}
