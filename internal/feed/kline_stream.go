package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ma-crossover-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// StreamConfig 控制 WebSocket 心跳和重连
type StreamConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	ReconnectDelay time.Duration
}

func (c *StreamConfig) applyDefaults() {
	if c.PongTimeout <= 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = (c.PongTimeout * 9) / 10
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
}

// KlineStream 订阅币安K线流，只向外发送已收盘的K线
type KlineStream struct {
	url      string
	cfg      StreamConfig
	dialer   *websocket.Dialer
	logger   *zap.Logger
	lastOpen time.Time
}

// NewKlineStream 创建K线流, 地址格式为 <baseURL>/ws/<symbol>@kline_<interval>
func NewKlineStream(baseURL, symbol, interval string, cfg StreamConfig, logger *zap.Logger) *KlineStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &KlineStream{
		url:    fmt.Sprintf("%s/ws/%s@kline_%s", strings.TrimRight(baseURL, "/"), strings.ToLower(symbol), interval),
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger.Named("kline_stream"),
	}
}

// URL 返回订阅地址
func (s *KlineStream) URL() string { return s.url }

// Run 维持连接并在每根K线收盘时调用 handle，直到 ctx 结束。
// 重连后重复推送的K线 (开盘时间不晚于上一根) 会被丢弃。
// handle 收到的K线 Index 为 0，由调用方分配序号。连接错误只记录日志并重连。
func (s *KlineStream) Run(ctx context.Context, handle func(models.Bar)) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("WebSocket连接失败，稍后重试", zap.String("url", s.url), zap.Error(err), zap.Duration("delay", s.cfg.ReconnectDelay))
		} else {
			s.logger.Info("WebSocket连接成功", zap.String("url", s.url))
			err = s.readLoop(ctx, conn, handle)
			conn.Close()
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("WebSocket连接已断开，准备重连", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// readLoop 处理一个已建立的连接，直到读取出错或 ctx 结束
func (s *KlineStream) readLoop(ctx context.Context, conn *websocket.Conn, handle func(models.Bar)) error {
	extend := func() error { return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout)) }
	if err := extend(); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error { return extend() })

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					s.logger.Debug("发送Ping失败", zap.Error(err))
				}
			case <-ctx.Done():
				// 发送关闭帧并关闭连接以解除 ReadMessage 阻塞
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = extend()

		bar, final, err := ParseKlineMessage(message)
		if err != nil {
			s.logger.Warn("无法解析K线消息", zap.Error(err))
			continue
		}
		if !final {
			continue
		}
		if !s.lastOpen.IsZero() && !bar.Time.After(s.lastOpen) {
			s.logger.Debug("丢弃重复K线", zap.Time("open_time", bar.Time))
			continue
		}
		s.lastOpen = bar.Time
		handle(bar)
	}
}

// wsKlineEvent 是币安 kline 推送的结构
type wsKlineEvent struct {
	Event string `json:"e"`
	Kline struct {
		StartTime int64  `json:"t"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		IsFinal   bool   `json:"x"`
	} `json:"k"`
}

// ParseKlineMessage 解析一条 kline 推送，返回K线以及该K线是否已收盘
func ParseKlineMessage(message []byte) (models.Bar, bool, error) {
	var ev wsKlineEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		return models.Bar{}, false, err
	}
	if ev.Kline.StartTime == 0 {
		return models.Bar{}, false, fmt.Errorf("not a kline event: %q", ev.Event)
	}

	var vals [4]float64
	for i, s := range []string{ev.Kline.Open, ev.Kline.High, ev.Kline.Low, ev.Kline.Close} {
		v, err := ParsePrice(s)
		if err != nil {
			return models.Bar{}, false, fmt.Errorf("kline price %q: %w", s, err)
		}
		vals[i] = v
	}
	return models.Bar{
		Time:  time.UnixMilli(ev.Kline.StartTime).UTC(),
		Open:  vals[0],
		High:  vals[1],
		Low:   vals[2],
		Close: vals[3],
	}, ev.Kline.IsFinal, nil
}
