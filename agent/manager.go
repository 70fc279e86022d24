package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/agentrt/mailbox"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Manager Agent 注册表与批量生命周期管理
type Manager struct {
	mu     sync.RWMutex
	agents map[string]*Agent

	mailbox Mailbox
	logger  *zap.Logger
}

// NewManager 创建 Agent 管理器
func NewManager(mb Mailbox, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		agents:  make(map[string]*Agent),
		mailbox: mb,
		logger:  logger.With(zap.String("component", "agent_manager")),
	}
}

// Register 注册 Agent 并为其创建邮箱，ID 重复时返回 false
func (m *Manager) Register(a *Agent) bool {
	if a == nil {
		return false
	}

	m.mu.Lock()
	if _, exists := m.agents[a.ID()]; exists {
		m.mu.Unlock()
		m.logger.Warn("agent already registered", zap.String("agent_id", a.ID()))
		return false
	}
	m.agents[a.ID()] = a
	m.mu.Unlock()

	m.mailbox.Register(a.ID())
	m.logger.Info("agent registered", zap.String("agent_id", a.ID()))
	return true
}

// Unregister 先停止 Agent，再移除并注销其邮箱
func (m *Manager) Unregister(ctx context.Context, id string) bool {
	a, ok := m.GetAgent(id)
	if !ok {
		return false
	}

	if err := a.Stop(ctx); err != nil {
		m.logger.Warn("agent did not stop cleanly", zap.String("agent_id", id), zap.Error(err))
	}

	m.mu.Lock()
	delete(m.agents, id)
	m.mu.Unlock()

	m.mailbox.Unregister(id)
	m.logger.Info("agent unregistered", zap.String("agent_id", id))
	return true
}

// StartAgent 启动单个 Agent，未知 ID 或启动失败返回 false，已在运行视为成功
func (m *Manager) StartAgent(ctx context.Context, id string) bool {
	a, ok := m.GetAgent(id)
	if !ok {
		return false
	}
	if err := a.Start(ctx); err != nil && !errors.Is(err, ErrAgentRunning) {
		m.logger.Error("failed to start agent", zap.String("agent_id", id), zap.Error(err))
		return false
	}
	return true
}

// StopAgent 停止单个 Agent
func (m *Manager) StopAgent(ctx context.Context, id string) bool {
	a, ok := m.GetAgent(id)
	if !ok {
		return false
	}
	if err := a.Stop(ctx); err != nil {
		m.logger.Error("failed to stop agent", zap.String("agent_id", id), zap.Error(err))
		return false
	}
	return true
}

// StartAll 并发启动全部 Agent，单个失败不影响其余，返回合并后的错误
func (m *Manager) StartAll(ctx context.Context) error {
	err := m.each(func(a *Agent) error {
		if err := a.Start(ctx); err != nil && !errors.Is(err, ErrAgentRunning) {
			return err
		}
		return nil
	})
	m.logger.Info("agents started", zap.Int("count", m.Count()), zap.Error(err))
	return err
}

// StopAll 并发停止全部 Agent，单个失败不影响其余，返回合并后的错误
func (m *Manager) StopAll(ctx context.Context) error {
	err := m.each(func(a *Agent) error {
		return a.Stop(ctx)
	})
	m.logger.Info("all agents stopped", zap.Error(err))
	return err
}

// each 对每个 Agent 并发执行 fn 并等待全部完成
func (m *Manager) each(fn func(*Agent) error) error {
	agents := m.snapshot()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, a := range agents {
		g.Go(func() error {
			if err := fn(a); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("agent %s: %w", a.ID(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (m *Manager) snapshot() []*Agent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// GetAgent returns the agent registered under id.
func (m *Manager) GetAgent(id string) (*Agent, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	return a, ok
}

// ListAgents returns registered agent ids in sorted order.
func (m *Manager) ListAgents() []string {
	agents := m.snapshot()
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID()
	}
	return ids
}

// Count returns the number of registered agents.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// GetAgentStatus 查询 Agent 状态
func (m *Manager) GetAgentStatus(id string) (Status, bool) {
	a, ok := m.GetAgent(id)
	if !ok {
		return "", false
	}
	return a.Status(), true
}

// Snapshot 返回全部 Agent 的状态快照，按 ID 排序
func (m *Manager) Snapshot() []StatusInfo {
	agents := m.snapshot()
	out := make([]StatusInfo, len(agents))
	for i, a := range agents {
		out[i] = a.StatusSnapshot()
	}
	return out
}

// BroadcastMessage 向除 from 外的所有已注册 Agent 发送消息，返回成功数
// from 为空时发送方记为 "system"。
func (m *Manager) BroadcastMessage(content, from string) int {
	sender := from
	if sender == "" {
		sender = mailbox.SystemSender
	}

	sent := 0
	for _, id := range m.ListAgents() {
		if id == from {
			continue
		}
		if m.mailbox.Send(sender, id, content, mailbox.WithKind(mailbox.KindBroadcast)) {
			sent++
		}
	}
	return sent
}
