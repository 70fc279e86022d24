// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
// 所有 Record 方法在 nil 接收者上是空操作，组件可以不配置指标。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 调度器指标
	tasksSubmitted *prometheus.CounterVec
	tasksRejected  prometheus.Counter
	tasksFinished  *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec
	queueDepth     prometheus.Gauge
	runningTasks   prometheus.Gauge
	dispatchFaults prometheus.Counter

	// 邮箱指标
	messagesSent   *prometheus.CounterVec
	messagesFailed *prometheus.CounterVec
	mailboxDepth   *prometheus.GaugeVec

	// Agent 指标
	agentStateTransitions *prometheus.CounterVec
	agentErrors           *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
// reg 为 nil 时使用独立的 Registry，避免多实例重复注册。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 调度器指标
	c.tasksSubmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_submitted_total",
			Help:      "Total number of accepted task submissions",
		},
		[]string{"task_type", "priority"},
	)

	c.tasksRejected = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_rejected_total",
			Help:      "Total number of rejected task submissions",
		},
	)

	c.tasksFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_finished_total",
			Help:      "Total number of tasks reaching a terminal status",
		},
		[]string{"task_type", "status"},
	)

	c.taskDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"task_type"},
	)

	c.queueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "queue_depth",
			Help:      "Number of pending tasks waiting for admission",
		},
	)

	c.runningTasks = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "running_tasks",
			Help:      "Number of tasks currently holding a concurrency slot",
		},
	)

	c.dispatchFaults = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "dispatch_faults_total",
			Help:      "Total number of faults recovered in the dispatch loop",
		},
	)

	// 邮箱指标
	c.messagesSent = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "messages_sent_total",
			Help:      "Total number of delivered messages",
		},
		[]string{"kind"},
	)

	c.messagesFailed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "messages_failed_total",
			Help:      "Total number of failed sends",
		},
		[]string{"reason"},
	)

	c.mailboxDepth = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mailbox",
			Name:      "depth",
			Help:      "Number of unconsumed messages per mailbox",
		},
		[]string{"agent_id"},
	)

	// Agent 指标
	c.agentStateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_state_transitions_total",
			Help:      "Total number of agent state transitions",
		},
		[]string{"agent_id", "from_state", "to_state"},
	)

	c.agentErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_errors_total",
			Help:      "Total number of faults recorded by agents",
		},
		[]string{"agent_id", "source"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🗂️ 调度器指标记录
// =============================================================================

// RecordTaskSubmitted 记录任务提交
func (c *Collector) RecordTaskSubmitted(taskType, priority string) {
	if c == nil {
		return
	}
	c.tasksSubmitted.WithLabelValues(taskType, priority).Inc()
}

// RecordTaskRejected 记录被拒绝的提交
func (c *Collector) RecordTaskRejected() {
	if c == nil {
		return
	}
	c.tasksRejected.Inc()
}

// RecordTaskFinished 记录任务终态
func (c *Collector) RecordTaskFinished(taskType, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.tasksFinished.WithLabelValues(taskType, status).Inc()
	if duration > 0 {
		c.taskDuration.WithLabelValues(taskType).Observe(duration.Seconds())
	}
}

// SetSchedulerLoad 记录队列深度和运行数
func (c *Collector) SetSchedulerLoad(queued, running int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(queued))
	c.runningTasks.Set(float64(running))
}

// RecordDispatchFault 记录调度循环故障
func (c *Collector) RecordDispatchFault() {
	if c == nil {
		return
	}
	c.dispatchFaults.Inc()
}

// =============================================================================
// 📬 邮箱指标记录
// =============================================================================

// RecordMessageSent 记录消息投递
func (c *Collector) RecordMessageSent(kind string) {
	if c == nil {
		return
	}
	c.messagesSent.WithLabelValues(kind).Inc()
}

// RecordMessageFailed 记录发送失败
func (c *Collector) RecordMessageFailed(reason string) {
	if c == nil {
		return
	}
	c.messagesFailed.WithLabelValues(reason).Inc()
}

// SetMailboxDepth 记录邮箱积压
func (c *Collector) SetMailboxDepth(agentID string, depth int) {
	if c == nil {
		return
	}
	c.mailboxDepth.WithLabelValues(agentID).Set(float64(depth))
}

// DeleteMailbox 移除已注销邮箱的时间序列
func (c *Collector) DeleteMailbox(agentID string) {
	if c == nil {
		return
	}
	c.mailboxDepth.DeleteLabelValues(agentID)
}

// =============================================================================
// 🎭 Agent 指标记录
// =============================================================================

// RecordAgentStateTransition 记录 Agent 状态转换
func (c *Collector) RecordAgentStateTransition(agentID, fromState, toState string) {
	if c == nil {
		return
	}
	c.agentStateTransitions.WithLabelValues(agentID, fromState, toState).Inc()
}

// RecordAgentError 记录 Agent 故障，source 为 task/message/loop
func (c *Collector) RecordAgentError(agentID, source string) {
	if c == nil {
		return
	}
	c.agentErrors.WithLabelValues(agentID, source).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
