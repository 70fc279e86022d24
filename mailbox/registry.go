package mailbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BaSui01/agentrt/internal/channel"
	"github.com/BaSui01/agentrt/internal/metrics"
	"github.com/BaSui01/agentrt/internal/telemetry"
	"go.uber.org/zap"
)

// SystemSender 是非 Agent 发起消息时使用的发送方 ID
const SystemSender = "system"

// Config 邮箱注册表配置
type Config struct {
	Capacity     int `json:"capacity"`      // 每个邮箱的容量
	HistoryLimit int `json:"history_limit"` // 历史上限，0 表示不限制
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Capacity:     100,
		HistoryLimit: 10000,
	}
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Registry) {
		r.metrics = c
	}
}

// WithInstruments overrides the OTel instruments; nil disables them.
func WithInstruments(in *telemetry.Instruments) Option {
	return func(r *Registry) {
		r.instruments = in
		r.instrumentsSet = true
	}
}

// Registry 邮箱注册表
type Registry struct {
	config Config

	mu      sync.RWMutex
	boxes   map[string]*channel.Bounded[*Message]
	history []*Message

	metrics        *metrics.Collector
	instruments    *telemetry.Instruments
	instrumentsSet bool
	logger         *zap.Logger
}

// NewRegistry 创建邮箱注册表
func NewRegistry(config Config, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Capacity <= 0 {
		config.Capacity = DefaultConfig().Capacity
	}
	if config.HistoryLimit < 0 {
		config.HistoryLimit = 0
	}

	r := &Registry{
		config: config,
		boxes:  make(map[string]*channel.Bounded[*Message]),
		logger: logger.With(zap.String("component", "mailbox_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	if !r.instrumentsSet {
		in, err := telemetry.NewInstruments(telemetry.Meter("mailbox"))
		if err != nil {
			r.logger.Warn("otel instruments unavailable", zap.Error(err))
		}
		r.instruments = in
	}
	return r
}

// Register 为 agentID 创建邮箱，已存在时为空操作
func (r *Registry) Register(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.boxes[agentID]; ok {
		return
	}
	r.boxes[agentID] = channel.NewBounded[*Message](r.config.Capacity)
	r.metrics.SetMailboxDepth(agentID, 0)

	r.logger.Info("agent registered", zap.String("agent_id", agentID))
}

// Unregister 移除邮箱并丢弃未消费的消息，未知 ID 为空操作
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	box, ok := r.boxes[agentID]
	if ok {
		delete(r.boxes, agentID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	dropped := box.Len()
	box.Close()
	r.metrics.DeleteMailbox(agentID)

	r.logger.Info("agent unregistered",
		zap.String("agent_id", agentID),
		zap.Int("dropped", dropped),
	)
}

// IsRegistered reports whether agentID currently has a mailbox.
func (r *Registry) IsRegistered(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.boxes[agentID]
	return ok
}

// Agents returns the registered agent IDs in sorted order.
func (r *Registry) Agents() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.boxes))
	for id := range r.boxes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Send 发送消息
// 接收方未注册、邮箱已满或已关闭时返回 false，不写历史也不入队。
// 入队与写历史在同一临界区内完成，历史顺序与每个邮箱的投递顺序一致。
func (r *Registry) Send(senderID, receiverID, content string, opts ...SendOption) bool {
	msg := newMessage(senderID, receiverID, content, opts)

	r.mu.Lock()
	box, ok := r.boxes[receiverID]
	if !ok {
		r.mu.Unlock()
		r.metrics.RecordMessageFailed("not_registered")
		r.logger.Warn("receiver not registered",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID),
		)
		return false
	}

	if err := box.TrySend(msg); err != nil {
		r.mu.Unlock()
		reason := "closed"
		if errors.Is(err, channel.ErrFull) {
			reason = "full"
		}
		r.metrics.RecordMessageFailed(reason)
		r.logger.Warn("failed to enqueue message",
			zap.String("sender_id", senderID),
			zap.String("receiver_id", receiverID),
			zap.String("reason", reason),
		)
		return false
	}

	r.appendHistoryLocked(msg)
	depth := box.Len()
	r.mu.Unlock()

	r.metrics.RecordMessageSent(msg.Kind)
	r.instruments.MessageSent(context.Background(), msg.Kind)
	r.metrics.SetMailboxDepth(receiverID, depth)

	r.logger.Debug("message sent",
		zap.String("msg_id", msg.ID),
		zap.String("sender_id", senderID),
		zap.String("receiver_id", receiverID),
		zap.String("kind", msg.Kind),
		zap.String("content", truncate(content, 50)),
	)
	return true
}

func (r *Registry) appendHistoryLocked(msg *Message) {
	r.history = append(r.history, msg)
	if limit := r.config.HistoryLimit; limit > 0 && len(r.history) > limit {
		r.history = r.history[len(r.history)-limit:]
	}
}

// Receive 接收消息
// 阻塞直到有消息、timeout 到期、ctx 取消或邮箱被注销。
// 超时与未知 agentID 都返回 (nil, false)，不是错误。
func (r *Registry) Receive(ctx context.Context, agentID string, timeout time.Duration) (*Message, bool) {
	r.mu.RLock()
	box, ok := r.boxes[agentID]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}

	msg, ok := box.Receive(ctx, timeout)
	if !ok {
		return nil, false
	}
	r.metrics.SetMailboxDepth(agentID, box.Len())
	return msg, true
}

// Broadcast 向除 senderID 外的所有邮箱发送 broadcast 类型消息
// 返回成功投递数，单个失败不影响其余投递。
func (r *Registry) Broadcast(senderID, content string) int {
	sent := 0
	for _, id := range r.Agents() {
		if id == senderID {
			continue
		}
		if r.Send(senderID, id, content, WithKind(KindBroadcast)) {
			sent++
		}
	}
	return sent
}

// History 返回投递历史的副本
// agentID 为空时返回全部，否则只返回该 Agent 发送或接收的消息。
func (r *Registry) History(agentID string) []*Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if agentID == "" {
		out := make([]*Message, len(r.history))
		copy(out, r.history)
		return out
	}

	out := make([]*Message, 0)
	for _, m := range r.history {
		if m.SenderID == agentID || m.ReceiverID == agentID {
			out = append(out, m)
		}
	}
	return out
}

// ClearHistory drops the delivery history. Queued messages are unaffected.
func (r *Registry) ClearHistory() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = nil
}

// QueueSize returns the number of unconsumed messages for agentID, 0 if unknown.
func (r *Registry) QueueSize(agentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if box, ok := r.boxes[agentID]; ok {
		return box.Len()
	}
	return 0
}

// Close unregisters every mailbox.
func (r *Registry) Close() {
	for _, id := range r.Agents() {
		r.Unregister(id)
	}
}

// truncate 按字符截断，不拆分多字节字符
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
