package agent

import "errors"

var (
	// ErrAgentRunning Agent 已在运行
	ErrAgentRunning = errors.New("agent already running")

	// ErrInvalidTaskRequest task_request 消息内容无法解析
	ErrInvalidTaskRequest = errors.New("invalid task request")

	// ErrTaskRejected 调度器拒绝了提交的任务
	ErrTaskRejected = errors.New("task rejected by scheduler")

	// ErrAgentNotFound Manager 中不存在该 Agent
	ErrAgentNotFound = errors.New("agent not found")
)
