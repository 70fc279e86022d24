package agent

import "fmt"

// Status 定义 Agent 生命周期状态
type Status string

const (
	StatusOffline Status = "offline" // 未启动或已停止
	StatusIdle    Status = "idle"    // 运行中，无任务
	StatusBusy    Status = "busy"    // 正在执行任务
	StatusError   Status = "error"   // 发生未处理故障
)

// validTransitions 定义合法的状态转换
var validTransitions = map[Status][]Status{
	StatusOffline: {StatusIdle, StatusError},
	StatusIdle:    {StatusBusy, StatusOffline, StatusError},
	StatusBusy:    {StatusIdle, StatusOffline, StatusError},
	StatusError:   {StatusIdle, StatusBusy, StatusOffline}, // 支持故障后继续接收任务
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	From Status
	To   Status
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}
