package mailbox

import (
	"time"

	"github.com/google/uuid"
)

// 常用消息类型
const (
	KindText        = "text"
	KindBroadcast   = "broadcast"
	KindQuery       = "query"
	KindTaskRequest = "task_request"
)

// Message Agent 间消息
// 构造后不可修改，Registry 与接收方共享同一指针。
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	Content    string    `json:"content"`
	Kind       string    `json:"kind"`
	Priority   int       `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
}

// SendOption customizes an outgoing message.
type SendOption func(*Message)

// WithKind sets the message kind. An empty kind keeps the default "text".
func WithKind(kind string) SendOption {
	return func(m *Message) {
		if kind != "" {
			m.Kind = kind
		}
	}
}

// WithPriority sets the informational priority. It does not affect delivery order.
func WithPriority(priority int) SendOption {
	return func(m *Message) {
		m.Priority = priority
	}
}

func newMessage(senderID, receiverID, content string, opts []SendOption) *Message {
	m := &Message{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		Kind:       KindText,
		CreatedAt:  time.Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
