package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Meter returns a meter from the global provider for the given component.
func Meter(component string) metric.Meter {
	return otel.Meter(instrumentationPrefix + component)
}

// Instruments OTel 运行时指标
// 经 Init 安装的 MeterProvider 以 OTLP 导出；未启用遥测时为 noop。
// nil 接收者上的所有方法都是空操作。
type Instruments struct {
	taskDuration  metric.Float64Histogram
	tasksFinished metric.Int64Counter
	tasksActive   metric.Int64UpDownCounter
	messagesSent  metric.Int64Counter
}

// NewInstruments 在 meter 上创建运行时指标
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)

	// 任务执行耗时
	in.taskDuration, err = meter.Float64Histogram("agentrt.task.duration",
		metric.WithDescription("Task execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30))
	if err != nil {
		return nil, fmt.Errorf("create task duration histogram: %w", err)
	}

	// 按最终状态计数
	in.tasksFinished, err = meter.Int64Counter("agentrt.task.finished",
		metric.WithDescription("Tasks that reached a final status"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("create tasks finished counter: %w", err)
	}

	in.tasksActive, err = meter.Int64UpDownCounter("agentrt.task.active",
		metric.WithDescription("Task executions in flight"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, fmt.Errorf("create active tasks counter: %w", err)
	}

	in.messagesSent, err = meter.Int64Counter("agentrt.message.sent",
		metric.WithDescription("Messages delivered to a mailbox"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, fmt.Errorf("create messages sent counter: %w", err)
	}

	return &in, nil
}

// TaskStarted 记录一次任务执行开始
func (in *Instruments) TaskStarted(ctx context.Context, taskType string) {
	if in == nil {
		return
	}
	in.tasksActive.Add(ctx, 1, metric.WithAttributes(attribute.String("task_type", taskType)))
}

// TaskFinished 记录一次任务执行结束，status 为任务最终状态
func (in *Instruments) TaskFinished(ctx context.Context, taskType, status string, d time.Duration) {
	if in == nil {
		return
	}
	typeAttr := attribute.String("task_type", taskType)
	in.tasksActive.Add(ctx, -1, metric.WithAttributes(typeAttr))

	attrs := metric.WithAttributes(typeAttr, attribute.String("status", status))
	in.tasksFinished.Add(ctx, 1, attrs)
	in.taskDuration.Record(ctx, d.Seconds(), attrs)
}

// MessageSent 记录一次成功投递
func (in *Instruments) MessageSent(ctx context.Context, kind string) {
	if in == nil {
		return
	}
	in.messagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
