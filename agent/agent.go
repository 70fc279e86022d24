package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentrt/internal/metrics"
	"github.com/BaSui01/agentrt/internal/supervise"
	"github.com/BaSui01/agentrt/internal/telemetry"
	"github.com/BaSui01/agentrt/mailbox"
	"github.com/BaSui01/agentrt/scheduler"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Mailbox Agent 使用的通信层能力
type Mailbox interface {
	Register(agentID string)
	Unregister(agentID string)
	IsRegistered(agentID string) bool
	Send(senderID, receiverID, content string, opts ...mailbox.SendOption) bool
	Receive(ctx context.Context, agentID string, timeout time.Duration) (*mailbox.Message, bool)
}

// Scheduler Agent 使用的调度器能力
type Scheduler interface {
	RegisterHandler(taskType string, h scheduler.Handler)
	Submit(task *scheduler.Task) bool
	Cancel(taskID string) bool
}

// MessageHandler 处理一种消息类型
type MessageHandler func(ctx context.Context, a *Agent, msg *mailbox.Message) error

// Config Agent 运行参数
type Config struct {
	MessagePollTimeout   time.Duration `json:"message_poll_timeout"`   // 单次收信等待
	HeartbeatInterval    time.Duration `json:"heartbeat_interval"`     // 心跳周期
	ErrorBackoff         time.Duration `json:"error_backoff"`          // 循环异常后的退避
	GenericWorkDuration  time.Duration `json:"generic_work_duration"`  // 通用任务模拟耗时
	AnalysisWorkDuration time.Duration `json:"analysis_work_duration"` // 分析任务模拟耗时
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MessagePollTimeout:   time.Second,
		HeartbeatInterval:    30 * time.Second,
		ErrorBackoff:         time.Second,
		GenericWorkDuration:  time.Second,
		AnalysisWorkDuration: 2 * time.Second,
	}
}

// Option configures an Agent.
type Option func(*Agent)

// WithConfig sets runtime parameters. Zero fields fall back to defaults.
func WithConfig(cfg Config) Option {
	return func(a *Agent) {
		d := DefaultConfig()
		if cfg.MessagePollTimeout <= 0 {
			cfg.MessagePollTimeout = d.MessagePollTimeout
		}
		if cfg.HeartbeatInterval <= 0 {
			cfg.HeartbeatInterval = d.HeartbeatInterval
		}
		if cfg.ErrorBackoff <= 0 {
			cfg.ErrorBackoff = d.ErrorBackoff
		}
		if cfg.GenericWorkDuration < 0 {
			cfg.GenericWorkDuration = 0
		}
		if cfg.AnalysisWorkDuration < 0 {
			cfg.AnalysisWorkDuration = 0
		}
		a.config = cfg
	}
}

// WithCapabilities adds initial capabilities.
func WithCapabilities(caps ...string) Option {
	return func(a *Agent) {
		for _, c := range caps {
			a.addCapabilityLocked(c)
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *Agent) {
		a.metrics = c
	}
}

// WithTracer overrides the tracer used for message-processing spans.
func WithTracer(t trace.Tracer) Option {
	return func(a *Agent) {
		a.tracer = t
	}
}

// StatusInfo Agent 状态快照
type StatusInfo struct {
	AgentID          string    `json:"agent_id"`
	AgentType        string    `json:"agent_type"`
	Status           Status    `json:"status"`
	Running          bool      `json:"running"`
	Capabilities     []string  `json:"capabilities"`
	CurrentTask      string    `json:"current_task,omitempty"`
	TaskHistoryCount int       `json:"task_history_count"`
	ErrorCount       int       `json:"error_count"`
	LastActivity     time.Time `json:"last_activity"`
}

// Agent 具有身份、状态机、消息循环与心跳循环的自治单元
type Agent struct {
	id        string
	agentType string
	config    Config

	mailbox   Mailbox
	scheduler Scheduler

	mu           sync.RWMutex
	status       Status
	running      bool
	capabilities []string
	currentTask  string
	active       int
	taskHistory  []string
	errorCount   int
	lastActivity time.Time
	kindHandlers map[string]MessageHandler

	cancel context.CancelFunc
	loops  *supervise.Group

	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New 创建处于 OFFLINE 状态的 Agent
func New(id, agentType string, mb Mailbox, sched Scheduler, logger *zap.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Agent{
		id:           id,
		agentType:    agentType,
		config:       DefaultConfig(),
		mailbox:      mb,
		scheduler:    sched,
		status:       StatusOffline,
		lastActivity: time.Now(),
		kindHandlers: make(map[string]MessageHandler),
		logger: logger.With(
			zap.String("component", "agent"),
			zap.String("agent_id", id),
			zap.String("agent_type", agentType),
		),
	}
	a.kindHandlers[mailbox.KindQuery] = replyWithStatus

	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = telemetry.Tracer("agent")
	}
	return a
}

// ID returns the agent identifier.
func (a *Agent) ID() string { return a.id }

// Type returns the agent type.
func (a *Agent) Type() string { return a.agentType }

// Status returns the current status.
func (a *Agent) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Running reports whether the agent loops are active.
func (a *Agent) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// ErrorCount returns the number of recorded faults.
func (a *Agent) ErrorCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.errorCount
}

// LastActivity returns the last heartbeat or processed-message time.
func (a *Agent) LastActivity() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastActivity
}

// CurrentTask returns the id of the most recently started task, if any.
func (a *Agent) CurrentTask() (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentTask, a.currentTask != ""
}

// TaskHistory returns completed task ids in completion order.
func (a *Agent) TaskHistory() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.taskHistory))
	copy(out, a.taskHistory)
	return out
}

// Start 启动 Agent
// 注册邮箱与任务处理器，启动消息循环和心跳循环后立即返回。
// ctx 取消时两个循环退出，Agent 置为 OFFLINE 并注销邮箱，等同于 Stop。
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAgentRunning
	}
	a.running = true
	a.lastActivity = time.Now()
	_ = a.setStatusLocked(StatusIdle)

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.loops = supervise.NewGroup(a.logger, func(pe *supervise.PanicError) {
		a.recordFault("loop", pe)
	})
	loops := a.loops
	a.mu.Unlock()

	a.mailbox.Register(a.id)
	a.registerTaskHandlers()

	loops.Go("message_loop", func() { a.messageLoop(loopCtx, loops) })
	loops.Go("heartbeat_loop", func() { a.heartbeatLoop(loopCtx) })

	a.logger.Info("agent started")
	return nil
}

// Stop 停止 Agent
// 置为 OFFLINE，取消循环与当前任务，注销邮箱，并在 ctx 期限内等待循环退出。
// 对未运行的 Agent 调用是空操作。
func (a *Agent) Stop(ctx context.Context) error {
	if !a.halt(nil) {
		return nil
	}
	if err := a.Wait(ctx); err != nil {
		return err
	}
	a.logger.Info("agent stopped")
	return nil
}

// halt 置为 OFFLINE，取消循环与当前任务并注销邮箱
// loops 非 nil 时仅当它仍属于本轮运行才生效，旧一轮的循环不会停掉重新启动后的 Agent。
func (a *Agent) halt(loops *supervise.Group) bool {
	a.mu.Lock()
	if !a.running || (loops != nil && a.loops != loops) {
		a.mu.Unlock()
		return false
	}
	a.running = false
	_ = a.setStatusLocked(StatusOffline)
	cancel, current := a.cancel, a.currentTask
	a.mu.Unlock()

	cancel()
	if current != "" {
		a.scheduler.Cancel(current)
	}
	a.mailbox.Unregister(a.id)
	return true
}

// Wait 等待消息循环和心跳循环退出
func (a *Agent) Wait(ctx context.Context) error {
	a.mu.RLock()
	loops := a.loops
	a.mu.RUnlock()
	if loops == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for agent loops: %w", ctx.Err())
	}
}

func (a *Agent) messageLoop(ctx context.Context, loops *supervise.Group) {
	for a.Running() && ctx.Err() == nil {
		msg, ok := a.mailbox.Receive(ctx, a.id, a.config.MessagePollTimeout)
		if !ok {
			// 邮箱被外部注销时 Receive 立即返回，避免空转
			if ctx.Err() == nil && !a.mailbox.IsRegistered(a.id) {
				sleep(ctx, a.config.MessagePollTimeout)
			}
			continue
		}

		var err error
		if perr := loops.Run("message:"+msg.ID, func() {
			err = a.processMessage(ctx, msg)
		}); perr != nil {
			sleep(ctx, a.config.ErrorBackoff)
			continue
		}
		if err != nil {
			a.countFault("message", err, false)
		}
		a.touch()
	}
	if ctx.Err() != nil && a.halt(loops) {
		a.logger.Info("agent stopped by context cancellation")
	}
	a.logger.Debug("message loop exited")
}

func (a *Agent) processMessage(ctx context.Context, msg *mailbox.Message) error {
	ctx, span := a.tracer.Start(ctx, "agent.process_message",
		trace.WithAttributes(
			attribute.String("agent.id", a.id),
			attribute.String("message.id", msg.ID),
			attribute.String("message.kind", msg.Kind),
			attribute.String("message.sender_id", msg.SenderID),
		),
	)
	defer span.End()

	a.logger.Debug("message received",
		zap.String("sender_id", msg.SenderID),
		zap.String("kind", msg.Kind),
	)

	a.mu.RLock()
	h := a.kindHandlers[msg.Kind]
	a.mu.RUnlock()
	if h == nil {
		return nil
	}

	if err := h(ctx, a, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (a *Agent) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for a.Running() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.touch()
		}
	}
}

// HandleKind 为消息类型注册处理器，后注册者覆盖先注册者
// query 类型默认回复状态，其余类型默认忽略。
func (a *Agent) HandleKind(kind string, h MessageHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if h == nil {
		delete(a.kindHandlers, kind)
		return
	}
	a.kindHandlers[kind] = h
}

func replyWithStatus(_ context.Context, a *Agent, msg *mailbox.Message) error {
	reply := fmt.Sprintf("Agent %s status: %s", a.id, a.Status())
	if !a.mailbox.Send(a.id, msg.SenderID, reply) {
		a.logger.Warn("status reply not delivered", zap.String("receiver_id", msg.SenderID))
	}
	return nil
}

// SubmitTask 以 "<agent>_<type>_<uuid>" 为 ID 提交归属本 Agent 的任务
func (a *Agent) SubmitTask(taskType string, params map[string]any, priority scheduler.Priority) bool {
	id := fmt.Sprintf("%s_%s_%s", a.id, taskType, uuid.NewString())
	return a.scheduler.Submit(scheduler.NewTask(id, a.id, taskType, params, priority))
}

// AddCapability 添加能力，已存在时忽略
func (a *Agent) AddCapability(capability string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addCapabilityLocked(capability)
}

func (a *Agent) addCapabilityLocked(capability string) {
	for _, c := range a.capabilities {
		if c == capability {
			return
		}
	}
	a.capabilities = append(a.capabilities, capability)
}

// RemoveCapability 移除能力，不存在时忽略
func (a *Agent) RemoveCapability(capability string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, c := range a.capabilities {
		if c == capability {
			a.capabilities = append(a.capabilities[:i], a.capabilities[i+1:]...)
			return
		}
	}
}

// Capabilities returns the capabilities in insertion order.
func (a *Agent) Capabilities() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, len(a.capabilities))
	copy(out, a.capabilities)
	return out
}

// StatusSnapshot 返回状态快照
func (a *Agent) StatusSnapshot() StatusInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()

	caps := make([]string, len(a.capabilities))
	copy(caps, a.capabilities)
	return StatusInfo{
		AgentID:          a.id,
		AgentType:        a.agentType,
		Status:           a.status,
		Running:          a.running,
		Capabilities:     caps,
		CurrentTask:      a.currentTask,
		TaskHistoryCount: len(a.taskHistory),
		ErrorCount:       a.errorCount,
		LastActivity:     a.lastActivity,
	}
}

// setStatusLocked 按状态表迁移，非法迁移被忽略并返回错误
func (a *Agent) setStatusLocked(to Status) error {
	from := a.status
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return ErrInvalidTransition{From: from, To: to}
	}
	a.status = to
	a.metrics.RecordAgentStateTransition(a.id, string(from), string(to))
	return nil
}

// recordFault 记录故障：错误计数加一并置为 ERROR
func (a *Agent) recordFault(source string, err error) {
	a.countFault(source, err, true)
}

// countFault 错误计数加一，markError 为 true 时同时置为 ERROR
func (a *Agent) countFault(source string, err error, markError bool) {
	a.mu.Lock()
	a.errorCount++
	if markError {
		_ = a.setStatusLocked(StatusError)
	}
	count := a.errorCount
	a.mu.Unlock()

	a.metrics.RecordAgentError(a.id, source)
	a.logger.Error("agent fault",
		zap.String("source", source),
		zap.Int("error_count", count),
		zap.Error(err),
	)
}

func (a *Agent) touch() {
	a.mu.Lock()
	a.lastActivity = time.Now()
	a.mu.Unlock()
}

// sleep 休眠 d，ctx 取消时提前返回
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isCancellation reports whether err is a deliberate cancellation rather than a fault.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
