package tooling

import (
	"log/slog"

	"ChainPilot/pkg/logger"
)

// ChannelNotifier 把进度消息按生成顺序写入带缓冲的 channel。
// 缓冲写满时消息被丢弃，通知永远不会阻塞工具执行。
type ChannelNotifier struct {
	ch chan string
}

// NewChannelNotifier 创建 ChannelNotifier。
func NewChannelNotifier(size int) *ChannelNotifier {
	if size <= 0 {
		size = 64
	}
	return &ChannelNotifier{ch: make(chan string, size)}
}

// Notify 实现 Notifier。
func (n *ChannelNotifier) Notify(message string) {
	select {
	case n.ch <- message:
	default:
	}
}

// Messages 返回消费端读取进度消息的 channel。
func (n *ChannelNotifier) Messages() <-chan string {
	return n.ch
}

// LogNotifier 把进度消息写入结构化日志，适合没有实时前端的部署。
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify 实现 Notifier。
func (n *LogNotifier) Notify(message string) {
	log := logger.L()
	if n != nil && n.Logger != nil {
		log = n.Logger
	}
	log.Info(message)
}

var (
	_ Notifier = (*ChannelNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
