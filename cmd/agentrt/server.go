package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/BaSui01/agentrt/agent"
	"github.com/BaSui01/agentrt/config"
	"github.com/BaSui01/agentrt/internal/metrics"
	"github.com/BaSui01/agentrt/internal/pool"
	"github.com/BaSui01/agentrt/internal/server"
	"github.com/BaSui01/agentrt/internal/supervise"
	"github.com/BaSui01/agentrt/mailbox"
	"github.com/BaSui01/agentrt/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装邮箱注册表、调度器、Agent 管理器与观测端点
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector

	mailbox   *mailbox.Registry
	scheduler *scheduler.Scheduler
	agents    *agent.Manager

	httpManager *server.Manager
	background  *supervise.Group

	// 组件共享的生命周期 ctx，Shutdown 时取消
	runCtx   context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// StatusReport /status 响应体
type StatusReport struct {
	Agents    []agent.StatusInfo `json:"agents"`
	Scheduler scheduler.Stats    `json:"scheduler"`
	Mailboxes map[string]int     `json:"mailboxes"`
}

// sampleAgents 配置未声明 Agent 时使用的默认阵容
var sampleAgents = []config.AgentSpec{
	{ID: "agent_1", Type: "analyzer", Capabilities: []string{"data_analysis", "pattern_recognition"}},
	{ID: "agent_2", Type: "communicator", Capabilities: []string{"messaging", "coordination"}},
	{ID: "agent_3", Type: "processor", Capabilities: []string{"data_processing", "transformation"}},
}

// NewServer 创建服务器并构造全部组件，不启动任何 goroutine
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector("agentrt", reg, logger)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		registry:  reg,
		collector: collector,
		mailbox: mailbox.NewRegistry(mailbox.Config{
			Capacity:     cfg.Mailbox.Capacity,
			HistoryLimit: cfg.Mailbox.HistoryLimit,
		}, logger, mailbox.WithMetrics(collector)),
		scheduler: scheduler.New(scheduler.Config{
			MaxConcurrent:    cfg.Scheduler.MaxConcurrent,
			CapPollInterval:  cfg.Scheduler.CapPollInterval,
			QueueWaitTimeout: cfg.Scheduler.QueueWaitTimeout,
			ErrorBackoff:     cfg.Scheduler.ErrorBackoff,
		}, logger, scheduler.WithMetrics(collector)),
		background: supervise.NewGroup(logger, nil),
	}
	s.agents = agent.NewManager(s.mailbox, logger)
	s.runCtx, s.cancel = context.WithCancel(context.Background())

	specs := cfg.Agents
	if len(specs) == 0 {
		specs = sampleAgents
	}
	agentCfg := agent.Config{
		MessagePollTimeout:   cfg.Agent.MessagePollTimeout,
		HeartbeatInterval:    cfg.Agent.HeartbeatInterval,
		ErrorBackoff:         cfg.Agent.ErrorBackoff,
		GenericWorkDuration:  cfg.Agent.GenericWorkDuration,
		AnalysisWorkDuration: cfg.Agent.AnalysisWorkDuration,
	}
	for _, spec := range specs {
		a := agent.New(spec.ID, spec.Type, s.mailbox, s.scheduler, logger,
			agent.WithConfig(agentCfg),
			agent.WithCapabilities(spec.Capabilities...),
			agent.WithMetrics(collector),
		)
		a.HandleKind(mailbox.KindTaskRequest, agent.TaskRequestHandler())
		if !s.agents.Register(a) {
			s.cancel()
			return nil, fmt.Errorf("duplicate agent id %q", spec.ID)
		}
	}

	s.httpManager = server.NewManager(s.handler(s.runCtx), server.FromServerConfig(cfg.Server), logger)
	return s, nil
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动调度器、全部 Agent、状态巡检与 HTTP 端点（非阻塞）
func (s *Server) Start() error {
	if err := s.scheduler.Start(s.runCtx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	if err := s.agents.StartAll(s.runCtx); err != nil {
		return fmt.Errorf("failed to start agents: %w", err)
	}

	if interval := s.cfg.Server.StatusInterval; interval > 0 {
		s.background.Go("status_monitor", func() { s.monitorStatus(s.runCtx, interval) })
	}

	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("agent runtime started",
		zap.Int("agents", s.agents.Count()),
		zap.String("addr", s.httpManager.Addr()),
	)
	return nil
}

// SubmitDemoTasks 提交示例任务：一次分析、一次通信与一次处理
// 目标 Agent 不在阵容中时跳过对应任务。
func (s *Server) SubmitDemoTasks() int {
	demo := []*scheduler.Task{
		scheduler.NewTask("analysis_1", "agent_1", agent.TaskTypeAnalyze, map[string]any{
			"data": demoSeries(100),
			"type": "statistical",
		}, scheduler.PriorityHigh),
		scheduler.NewTask("comm_1", "agent_2", agent.TaskTypeCommunicate, map[string]any{
			"target_agent": "agent_3",
			"message":      "Hello from agent_2",
		}, scheduler.PriorityNormal),
		scheduler.NewTask("process_1", "agent_3", agent.GenericTaskType("processor"), map[string]any{
			"input": "sample_data",
		}, scheduler.PriorityNormal),
	}

	submitted := 0
	for _, task := range demo {
		if _, ok := s.agents.GetAgent(task.AgentID); !ok {
			s.logger.Warn("demo task skipped, agent not registered",
				zap.String("task_id", task.ID),
				zap.String("agent_id", task.AgentID),
			)
			continue
		}
		if s.scheduler.Submit(task) {
			submitted++
		}
	}
	s.logger.Info("demo tasks submitted", zap.Int("count", submitted))
	return submitted
}

func demoSeries(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// monitorStatus 周期性记录 Agent 状态与调度器负载
func (s *Server) monitorStatus(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStatus()
		}
	}
}

func (s *Server) logStatus() {
	for _, info := range s.agents.Snapshot() {
		s.logger.Info("agent status",
			zap.String("agent_id", info.AgentID),
			zap.String("status", string(info.Status)),
			zap.Int("error_count", info.ErrorCount),
			zap.Int("tasks_completed", info.TaskHistoryCount),
		)
	}
	s.logger.Info("scheduler status",
		zap.Int("queue_depth", s.scheduler.QueueDepth()),
		zap.Int("running", s.scheduler.RunningCount()),
	)
}

// =============================================================================
// 🌐 HTTP 端点
// =============================================================================

// handler 构建路由与中间件链，ctx 控制限流器的后台清理
func (s *Server) handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		RateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"agents":  s.agents.Count(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

// Status 返回当前运行时快照
func (s *Server) Status() StatusReport {
	report := StatusReport{
		Agents:    s.agents.Snapshot(),
		Scheduler: s.scheduler.Stats(),
		Mailboxes: make(map[string]int),
	}
	for _, id := range s.mailbox.Agents() {
		report.Mailboxes[id] = s.mailbox.QueueSize(id)
	}
	return report
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	buf := pool.ByteBufferPool.Get()
	defer pool.ByteBufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// Errors 返回 HTTP 服务器的异步错误
func (s *Server) Errors() <-chan error {
	return s.httpManager.Errors()
}

// Addr 返回观测端点的实际监听地址
func (s *Server) Addr() string {
	return s.httpManager.Addr()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// Shutdown 依次关闭 HTTP 端点、Agent、调度器与邮箱，返回合并后的错误
// 重复调用为空操作。
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	s.stopOnce.Do(func() {
		s.logger.Info("starting graceful shutdown")

		if err := s.httpManager.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		if err := s.agents.StopAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("agents: %w", err))
		}
		if err := s.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
		s.cancel()
		s.background.Wait()
		s.mailbox.Close()

		s.logger.Info("graceful shutdown completed")
	})
	return errors.Join(errs...)
}
