package scheduler

import "errors"

var (
	// ErrNoHandler 任务类型没有注册 Handler
	ErrNoHandler = errors.New("no handler found for task type")

	// ErrInvalidPriority 无法识别的优先级
	ErrInvalidPriority = errors.New("invalid task priority")

	// ErrSchedulerRunning 调度器已启动
	ErrSchedulerRunning = errors.New("scheduler already running")

	// ErrSchedulerStopped 调度器已停止，不能再次启动
	ErrSchedulerStopped = errors.New("scheduler stopped")
)
