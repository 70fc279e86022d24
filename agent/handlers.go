package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/BaSui01/agentrt/mailbox"
	"github.com/BaSui01/agentrt/scheduler"
	"go.uber.org/zap"
)

// 内置任务类型
const (
	TaskTypeCommunicate = "communicate"
	TaskTypeAnalyze     = "analyze"
)

// NoTargetResult 通信任务未指定 target_agent 时的结果，任务仍视为完成
const NoTargetResult = "Error: No target agent specified"

// GenericTaskType returns the task type served by the generic handler of agentType.
func GenericTaskType(agentType string) string {
	return agentType + "_task"
}

// AnalysisResult 分析任务结果
type AnalysisResult struct {
	AnalysisType string `json:"analysis_type"`
	DataSize     int    `json:"data_size"`
	Result       string `json:"result"`
}

// TaskRequest task_request 消息的内容格式
type TaskRequest struct {
	TaskType   string             `json:"task_type"`
	Parameters map[string]any     `json:"parameters,omitempty"`
	Priority   scheduler.Priority `json:"priority,omitempty"`
}

// registerTaskHandlers 向调度器注册本 Agent 的三个任务处理器
// communicate 与 analyze 在调度器内全局共享，最后启动的 Agent 生效。
func (a *Agent) registerTaskHandlers() {
	a.scheduler.RegisterHandler(GenericTaskType(a.agentType), a.handleGenericTask)
	a.scheduler.RegisterHandler(TaskTypeCommunicate, a.handleCommunicationTask)
	a.scheduler.RegisterHandler(TaskTypeAnalyze, a.handleAnalysisTask)
}

// runTask 处理器公共流程：置 BUSY、记录当前任务、执行、写历史、置 IDLE
// 故障时错误计数加一并置 ERROR，错误原样返回给调度器；取消不计为故障。
func (a *Agent) runTask(ctx context.Context, task *scheduler.Task, work func(context.Context) (any, error)) (result any, err error) {
	a.beginTask(task.ID)
	defer func() {
		if r := recover(); r != nil {
			a.endTask(task.ID, fmt.Errorf("task %s panicked: %v", task.ID, r))
			panic(r)
		}
		a.endTask(task.ID, err)
	}()

	return work(ctx)
}

func (a *Agent) beginTask(taskID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.currentTask != "" && a.currentTask != taskID {
		a.logger.Warn("current task link replaced",
			zap.String("previous_task", a.currentTask),
			zap.String("task_id", taskID),
		)
	}
	a.currentTask = taskID
	a.active++
	if err := a.setStatusLocked(StatusBusy); err != nil {
		a.logger.Debug("status unchanged on task start", zap.Error(err))
	}
	a.lastActivity = time.Now()
}

func (a *Agent) endTask(taskID string, err error) {
	a.mu.Lock()
	a.active--
	if a.currentTask == taskID {
		a.currentTask = ""
	}
	a.lastActivity = time.Now()

	if err != nil && !isCancellation(err) {
		a.mu.Unlock()
		a.recordFault("task", err)
		return
	}

	if err == nil {
		a.taskHistory = append(a.taskHistory, taskID)
	}
	// 仍为 BUSY 时才回到 IDLE，已停止的 Agent 不会因迟到的任务而复活
	if a.active == 0 && a.status == StatusBusy {
		_ = a.setStatusLocked(StatusIdle)
	}
	a.mu.Unlock()
}

func (a *Agent) handleGenericTask(ctx context.Context, task *scheduler.Task) (any, error) {
	return a.runTask(ctx, task, func(ctx context.Context) (any, error) {
		if err := sleep(ctx, a.config.GenericWorkDuration); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Task %s completed by %s", task.ID, a.id), nil
	})
}

func (a *Agent) handleCommunicationTask(ctx context.Context, task *scheduler.Task) (any, error) {
	return a.runTask(ctx, task, func(context.Context) (any, error) {
		target, _ := task.Parameters["target_agent"].(string)
		if target == "" {
			a.logger.Warn("communication task without target", zap.String("task_id", task.ID))
			return NoTargetResult, nil
		}

		content := "Hello"
		if v, ok := task.Parameters["message"]; ok && v != nil {
			content = fmt.Sprint(v)
		}

		sent := a.mailbox.Send(a.id, target, content)
		return fmt.Sprintf("Message sent to %s: %t", target, sent), nil
	})
}

func (a *Agent) handleAnalysisTask(ctx context.Context, task *scheduler.Task) (any, error) {
	return a.runTask(ctx, task, func(ctx context.Context) (any, error) {
		analysisType := "basic"
		if v, ok := task.Parameters["type"].(string); ok && v != "" {
			analysisType = v
		}

		size := 0
		if data, ok := task.Parameters["data"]; ok && data != nil {
			if rv := reflect.ValueOf(data); rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
				size = rv.Len()
			}
		}

		if err := sleep(ctx, a.config.AnalysisWorkDuration); err != nil {
			return nil, err
		}
		return AnalysisResult{
			AnalysisType: analysisType,
			DataSize:     size,
			Result:       fmt.Sprintf("Analysis completed by %s", a.id),
		}, nil
	})
}

// TaskRequestHandler 返回把 task_request 消息转换为任务提交的处理器
//
//	a.HandleKind(mailbox.KindTaskRequest, agent.TaskRequestHandler())
func TaskRequestHandler() MessageHandler {
	return func(_ context.Context, a *Agent, msg *mailbox.Message) error {
		var req TaskRequest
		if err := json.Unmarshal([]byte(msg.Content), &req); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTaskRequest, err)
		}
		if req.TaskType == "" {
			return fmt.Errorf("%w: task_type is required", ErrInvalidTaskRequest)
		}
		if !a.SubmitTask(req.TaskType, req.Parameters, req.Priority) {
			return fmt.Errorf("%w: %s", ErrTaskRejected, req.TaskType)
		}

		a.logger.Info("task requested by message",
			zap.String("sender_id", msg.SenderID),
			zap.String("task_type", req.TaskType),
		)
		return nil
	}
}
