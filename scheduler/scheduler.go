package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentrt/internal/ctxkeys"
	"github.com/BaSui01/agentrt/internal/metrics"
	"github.com/BaSui01/agentrt/internal/supervise"
	"github.com/BaSui01/agentrt/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler 任务处理函数
// 收到的是任务快照，修改它不会影响调度器内部状态。
type Handler func(ctx context.Context, task *Task) (any, error)

// Config 调度器配置
type Config struct {
	MaxConcurrent    int           `json:"max_concurrent"`     // 并发上限
	CapPollInterval  time.Duration `json:"cap_poll_interval"`  // 达到上限时的复查间隔
	QueueWaitTimeout time.Duration `json:"queue_wait_timeout"` // 队列为空时单次等待上限
	ErrorBackoff     time.Duration `json:"error_backoff"`      // 调度循环异常后的退避
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:    10,
		CapPollInterval:  100 * time.Millisecond,
		QueueWaitTimeout: time.Second,
		ErrorBackoff:     time.Second,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Scheduler) {
		s.metrics = c
	}
}

// WithTracer overrides the tracer used for execution spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = t
	}
}

// WithInstruments overrides the OTel instruments; nil disables them.
func WithInstruments(in *telemetry.Instruments) Option {
	return func(s *Scheduler) {
		s.instruments = in
		s.instrumentsSet = true
	}
}

// Stats 调度器统计
type Stats struct {
	Total    int            `json:"total"`
	Queued   int            `json:"queued"`
	Running  int            `json:"running"`
	Handlers int            `json:"handlers"`
	ByStatus map[Status]int `json:"by_status"`
}

// Scheduler 任务调度器
type Scheduler struct {
	config Config

	mu      sync.Mutex
	tasks   map[string]*Task
	queue   taskQueue
	running map[string]context.CancelFunc
	seq     uint64
	started bool
	stopped bool

	handlersMu sync.RWMutex
	handlers   map[string]Handler

	// notify 在提交和释放槽位时唤醒调度循环
	notify chan struct{}

	execCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	executions *supervise.Group
	loop       *supervise.Group

	metrics        *metrics.Collector
	instruments    *telemetry.Instruments
	instrumentsSet bool
	tracer         trace.Tracer
	logger         *zap.Logger
}

// New 创建调度器
func New(config Config, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultConfig()
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.CapPollInterval <= 0 {
		config.CapPollInterval = defaults.CapPollInterval
	}
	if config.QueueWaitTimeout <= 0 {
		config.QueueWaitTimeout = defaults.QueueWaitTimeout
	}
	if config.ErrorBackoff <= 0 {
		config.ErrorBackoff = defaults.ErrorBackoff
	}

	logger = logger.With(zap.String("component", "task_scheduler"))
	s := &Scheduler{
		config:   config,
		tasks:    make(map[string]*Task),
		running:  make(map[string]context.CancelFunc),
		handlers: make(map[string]Handler),
		notify:   make(chan struct{}, 1),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = telemetry.Tracer("scheduler")
	}
	if !s.instrumentsSet {
		in, err := telemetry.NewInstruments(telemetry.Meter("scheduler"))
		if err != nil {
			logger.Warn("otel instruments unavailable", zap.Error(err))
		}
		s.instruments = in
	}

	s.executions = supervise.NewGroup(logger, nil)
	s.loop = supervise.NewGroup(logger, func(*supervise.PanicError) {
		s.metrics.RecordDispatchFault()
	})
	return s
}

// RegisterHandler 注册任务处理器，同一类型后注册者覆盖先注册者
func (s *Scheduler) RegisterHandler(taskType string, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	if _, exists := s.handlers[taskType]; exists {
		s.logger.Debug("replacing task handler", zap.String("task_type", taskType))
	}
	s.handlers[taskType] = h
}

func (s *Scheduler) handler(taskType string) Handler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers[taskType]
}

// Submit 提交任务
// nil、空 ID、重复 ID、非法优先级或调度器已停止时返回 false，且不修改任何已有任务。
// 优先级为 0 时按 NORMAL 处理。调度器持有提交任务的副本。
func (s *Scheduler) Submit(task *Task) bool {
	if task == nil || task.ID == "" {
		s.metrics.RecordTaskRejected()
		s.logger.Warn("rejected task without id")
		return false
	}
	t := task.clone()
	if t.Priority == 0 {
		t.Priority = PriorityNormal
	}
	if !t.Priority.Valid() {
		s.metrics.RecordTaskRejected()
		s.logger.Warn("rejected task with invalid priority",
			zap.String("task_id", t.ID),
			zap.Int("priority", int(t.Priority)),
		)
		return false
	}
	t.Status = StatusPending
	t.StartedAt, t.CompletedAt = nil, nil
	t.Result, t.Error = nil, ""
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.metrics.RecordTaskRejected()
		s.logger.Warn("rejected task after stop", zap.String("task_id", t.ID))
		return false
	}
	if _, exists := s.tasks[t.ID]; exists {
		s.mu.Unlock()
		s.metrics.RecordTaskRejected()
		s.logger.Warn("task already exists", zap.String("task_id", t.ID))
		return false
	}
	s.seq++
	t.seq = s.seq
	s.tasks[t.ID] = t
	heap.Push(&s.queue, t)
	queued, running := len(s.queue), len(s.running)
	s.mu.Unlock()

	s.signal()
	s.metrics.RecordTaskSubmitted(t.Type, t.Priority.String())
	s.metrics.SetSchedulerLoad(queued, running)

	s.logger.Info("task submitted",
		zap.String("task_id", t.ID),
		zap.String("task_type", t.Type),
		zap.String("agent_id", t.AgentID),
		zap.Stringer("priority", t.Priority),
	)
	return true
}

// Start 启动调度循环后立即返回
// ctx 取消等同于停止调度循环；已启动的执行不受 ctx 取消影响，由 Stop 等待。
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}
	if s.started {
		return ErrSchedulerRunning
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.loopDone = make(chan struct{})
	s.execCtx = context.WithoutCancel(ctx)

	go s.dispatchLoop(loopCtx)

	s.logger.Info("task scheduler started", zap.Int("max_concurrent", s.config.MaxConcurrent))
	return nil
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer close(s.loopDone)

	for ctx.Err() == nil {
		if err := s.loop.Run("dispatch", func() { s.dispatchOnce(ctx) }); err != nil {
			s.wait(ctx, s.config.ErrorBackoff)
		}
	}
	s.logger.Debug("dispatch loop exited")
}

// dispatchOnce 执行一轮调度：等待空位、等待任务或准入一个任务
func (s *Scheduler) dispatchOnce(ctx context.Context) {
	s.mu.Lock()
	if len(s.running) >= s.config.MaxConcurrent {
		s.mu.Unlock()
		s.wait(ctx, s.config.CapPollInterval)
		return
	}

	task := s.popLocked()
	if task == nil {
		s.mu.Unlock()
		s.wait(ctx, s.config.QueueWaitTimeout)
		return
	}

	// 检查上限、计数与状态迁移在同一临界区内完成
	now := time.Now()
	task.Status = StatusRunning
	task.StartedAt = &now
	execCtx, cancel := context.WithCancel(s.execCtx)
	s.running[task.ID] = cancel
	snapshot := task.clone()
	queued, running := len(s.queue), len(s.running)
	s.mu.Unlock()

	s.metrics.SetSchedulerLoad(queued, running)
	s.logger.Debug("task admitted",
		zap.String("task_id", task.ID),
		zap.Int("running", running),
		zap.Int("queued", queued),
	)

	s.executions.Go("task:"+task.ID, func() {
		s.execute(execCtx, cancel, snapshot)
	})
}

// popLocked 弹出下一个待执行任务，跳过已被取消的任务
func (s *Scheduler) popLocked() *Task {
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*Task)
		if t.Status == StatusPending {
			return t
		}
	}
	return nil
}

// wait 休眠 d，ctx 取消或收到唤醒信号时提前返回
func (s *Scheduler) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-s.notify:
	case <-timer.C:
	}
}

func (s *Scheduler) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// execute 运行单个已准入任务
func (s *Scheduler) execute(ctx context.Context, cancel context.CancelFunc, snapshot *Task) {
	defer cancel()

	ctx = ctxkeys.WithTaskID(ctx, snapshot.ID)
	if snapshot.AgentID != "" {
		ctx = ctxkeys.WithAgentID(ctx, snapshot.AgentID)
	}
	ctx, span := s.tracer.Start(ctx, "scheduler.execute",
		trace.WithAttributes(
			attribute.String("task.id", snapshot.ID),
			attribute.String("task.type", snapshot.Type),
			attribute.String("task.agent_id", snapshot.AgentID),
			attribute.String("task.priority", snapshot.Priority.String()),
		),
	)
	defer span.End()
	s.instruments.TaskStarted(ctx, snapshot.Type)

	var (
		result any
		err    error
	)
	if h := s.handler(snapshot.Type); h == nil {
		err = fmt.Errorf("%w: %s", ErrNoHandler, snapshot.Type)
	} else if perr := s.executions.Run("handler:"+snapshot.ID, func() {
		result, err = h(ctx, snapshot)
	}); perr != nil {
		err = perr
	}

	s.finish(ctx, snapshot.ID, result, err, span)
}

// finish 记录执行结果并释放槽位
// 执行期间任务已被取消时丢弃结果，状态保持 CANCELLED。
func (s *Scheduler) finish(ctx context.Context, id string, result any, err error, span trace.Span) {
	now := time.Now()

	s.mu.Lock()
	task := s.tasks[id]
	if _, ok := s.running[id]; ok {
		delete(s.running, id)
	}
	discarded := task.Status != StatusRunning
	if !discarded {
		task.CompletedAt = &now
		if err != nil {
			task.Status = StatusFailed
			task.Error = err.Error()
		} else {
			task.Status = StatusCompleted
			task.Result = result
		}
	}
	status, taskType, duration := task.Status, task.Type, task.Duration()
	queued, running := len(s.queue), len(s.running)
	s.mu.Unlock()

	s.signal()
	s.metrics.SetSchedulerLoad(queued, running)
	s.instruments.TaskFinished(ctx, taskType, string(status), duration)

	span.SetAttributes(attribute.String("task.status", string(status)))
	if discarded {
		span.AddEvent("result discarded")
		s.logger.Info("task finished after cancellation, result discarded",
			zap.String("task_id", id),
			zap.Error(err),
		)
		return
	}

	s.metrics.RecordTaskFinished(taskType, string(status), duration)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("task failed",
			zap.String("task_id", id),
			zap.String("task_type", taskType),
			zap.Error(err),
		)
		return
	}
	s.logger.Info("task completed",
		zap.String("task_id", id),
		zap.String("task_type", taskType),
		zap.Duration("duration", duration),
	)
}

// Cancel 取消任务
// 未知 ID 返回 false。排队中的任务移出队列；运行中的任务取消其 context 并释放槽位。
// 已完成或已失败的任务保留 Result/Error，状态改写为 CANCELLED。取消不等待执行返回。
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if task.Status == StatusCancelled {
		s.mu.Unlock()
		return true
	}

	prev := task.Status
	if task.index >= 0 {
		heap.Remove(&s.queue, task.index)
	}
	if cancel, running := s.running[id]; running {
		cancel()
		delete(s.running, id)
	}
	now := time.Now()
	task.Status = StatusCancelled
	task.CompletedAt = &now
	queued, running := len(s.queue), len(s.running)
	s.mu.Unlock()

	s.signal()
	s.metrics.SetSchedulerLoad(queued, running)
	if !prev.IsTerminal() {
		s.metrics.RecordTaskFinished(task.Type, string(StatusCancelled), 0)
	}

	s.logger.Info("task cancelled",
		zap.String("task_id", id),
		zap.String("previous_status", string(prev)),
	)
	return true
}

// Stop 停止调度
// 停止准入新任务，把仍在排队的任务标记为 CANCELLED，并等待所有已启动的执行返回。
// ctx 到期时返回 ctx 的错误，执行仍在后台继续。重复调用安全。
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	loopCancel, loopDone := s.loopCancel, s.loopDone
	s.mu.Unlock()

	if loopCancel != nil {
		loopCancel()
		select {
		case <-loopDone:
		case <-ctx.Done():
			return fmt.Errorf("waiting for dispatch loop: %w", ctx.Err())
		}
	}

	dropped := s.cancelQueued()

	done := make(chan struct{})
	go func() {
		s.executions.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for running tasks: %w", ctx.Err())
	}

	s.logger.Info("task scheduler stopped", zap.Int("cancelled_queued", dropped))
	return nil
}

func (s *Scheduler) cancelQueued() int {
	now := time.Now()

	s.mu.Lock()
	n := 0
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*Task)
		if t.Status != StatusPending {
			continue
		}
		t.Status = StatusCancelled
		t.CompletedAt = &now
		s.metrics.RecordTaskFinished(t.Type, string(StatusCancelled), 0)
		n++
	}
	running := len(s.running)
	s.mu.Unlock()

	s.metrics.SetSchedulerLoad(0, running)
	return n
}

// GetTask 按 ID 查询任务快照
func (s *Scheduler) GetTask(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// GetTasksByAgent 返回某 Agent 的全部任务快照，按提交顺序
func (s *Scheduler) GetTasksByAgent(agentID string) []*Task {
	return s.filter(func(t *Task) bool { return t.AgentID == agentID })
}

// GetTasksByStatus 返回处于指定状态的任务快照，按提交顺序
func (s *Scheduler) GetTasksByStatus(status Status) []*Task {
	return s.filter(func(t *Task) bool { return t.Status == status })
}

func (s *Scheduler) filter(match func(*Task) bool) []*Task {
	s.mu.Lock()
	out := make([]*Task, 0)
	for _, t := range s.tasks {
		if match(t) {
			out = append(out, t.clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// QueueDepth returns the number of tasks waiting for admission.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// RunningCount returns the number of tasks holding a concurrency slot.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Stats 返回调度器统计快照
func (s *Scheduler) Stats() Stats {
	s.handlersMu.RLock()
	handlers := len(s.handlers)
	s.handlersMu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	byStatus := make(map[Status]int)
	for _, t := range s.tasks {
		byStatus[t.Status]++
	}
	return Stats{
		Total:    len(s.tasks),
		Queued:   len(s.queue),
		Running:  len(s.running),
		Handlers: handlers,
		ByStatus: byStatus,
	}
}
