package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BaSui01/agentrt/internal/metrics"
	"github.com/BaSui01/agentrt/mailbox"
	"github.com/BaSui01/agentrt/scheduler"
	"github.com/BaSui01/agentrt/testutil"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	registry  *mailbox.Registry
	scheduler *scheduler.Scheduler
}

func fastConfig() Config {
	return Config{
		MessagePollTimeout:   10 * time.Millisecond,
		HeartbeatInterval:    20 * time.Millisecond,
		ErrorBackoff:         10 * time.Millisecond,
		GenericWorkDuration:  10 * time.Millisecond,
		AnalysisWorkDuration: 20 * time.Millisecond,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := mailbox.NewRegistry(mailbox.DefaultConfig(), zap.NewNop())
	sched := scheduler.New(scheduler.Config{
		MaxConcurrent:    4,
		CapPollInterval:  5 * time.Millisecond,
		QueueWaitTimeout: 20 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, sched.Start(context.Background()))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Stop(ctx)
		reg.Close()
	})
	return &fixture{registry: reg, scheduler: sched}
}

func (f *fixture) newAgent(t *testing.T, id, agentType string, opts ...Option) *Agent {
	t.Helper()
	opts = append([]Option{WithConfig(fastConfig())}, opts...)
	a := New(id, agentType, f.registry, f.scheduler, zap.NewNop(), opts...)
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a
}

func (f *fixture) waitTask(t *testing.T, agentID string) *scheduler.Task {
	t.Helper()
	var task *scheduler.Task
	testutil.AssertEventuallyTrue(t, func() bool {
		tasks := f.scheduler.GetTasksByAgent(agentID)
		if len(tasks) == 0 || !tasks[len(tasks)-1].Status.IsTerminal() {
			return false
		}
		task = tasks[len(tasks)-1]
		return true
	}, 2*time.Second)
	require.NotNil(t, task)
	return task
}

func TestAgent_StartStopLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")

	assert.Equal(t, StatusOffline, a.Status())
	assert.False(t, a.Running())
	assert.NoError(t, a.Wait(testutil.CancelledContext()), "no loops before start")

	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, StatusIdle, a.Status())
	assert.True(t, a.Running())
	assert.True(t, f.registry.IsRegistered("a"))
	assert.ErrorIs(t, a.Start(context.Background()), ErrAgentRunning)

	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, StatusOffline, a.Status())
	assert.False(t, a.Running())
	assert.False(t, f.registry.IsRegistered("a"))
	assert.NoError(t, a.Stop(context.Background()), "stop is idempotent")

	// 可以重新启动
	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, StatusIdle, a.Status())
}

func TestAgent_QueryReplyWithStatus(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")
	require.NoError(t, a.Start(context.Background()))

	f.registry.Register("client")
	require.True(t, f.registry.Send("client", "a", "status?", mailbox.WithKind(mailbox.KindQuery)))

	reply, ok := f.registry.Receive(context.Background(), "client", time.Second)
	require.True(t, ok)
	assert.Equal(t, "Agent a status: idle", reply.Content)
	assert.Equal(t, "a", reply.SenderID)
}

func TestAgent_UnhandledKindIgnored(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")
	require.NoError(t, a.Start(context.Background()))

	require.True(t, f.registry.Send("x", "a", "hello"))
	require.True(t, f.registry.Send("x", "a", "{}", mailbox.WithKind(mailbox.KindTaskRequest)))

	testutil.AssertEventuallyTrue(t, func() bool { return f.registry.QueueSize("a") == 0 }, time.Second)
	assert.Equal(t, 0, a.ErrorCount())
	assert.Empty(t, f.scheduler.GetTasksByAgent("a"), "task_request is ignored without an opt-in handler")
}

func TestAgent_GenericTask(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")
	require.NoError(t, a.Start(context.Background()))

	require.True(t, a.SubmitTask(GenericTaskType("worker"), map[string]any{"k": "v"}, scheduler.PriorityHigh))

	task := f.waitTask(t, "a")
	assert.Equal(t, scheduler.StatusCompleted, task.Status)
	assert.Equal(t, "Task "+task.ID+" completed by a", task.Result)
	assert.Contains(t, task.ID, "a_worker_task_")
	assert.Equal(t, scheduler.PriorityHigh, task.Priority)

	testutil.AssertEventuallyTrue(t, func() bool { return a.Status() == StatusIdle }, time.Second)
	assert.Equal(t, []string{task.ID}, a.TaskHistory())
	_, hasCurrent := a.CurrentTask()
	assert.False(t, hasCurrent)
}

func TestAgent_BusyWhileWorking(t *testing.T) {
	f := newFixture(t)
	cfg := fastConfig()
	cfg.GenericWorkDuration = 200 * time.Millisecond
	a := f.newAgent(t, "a", "worker", WithConfig(cfg))
	require.NoError(t, a.Start(context.Background()))

	require.True(t, a.SubmitTask(GenericTaskType("worker"), nil, scheduler.PriorityNormal))

	testutil.AssertEventuallyTrue(t, func() bool { return a.Status() == StatusBusy }, time.Second)
	current, ok := a.CurrentTask()
	require.True(t, ok)
	assert.Contains(t, current, "a_worker_task_")
	assert.Equal(t, current, a.StatusSnapshot().CurrentTask)

	testutil.AssertEventuallyEqual(t, StatusIdle, func() any { return a.Status() }, 2*time.Second)
}

func TestAgent_CommunicationTask(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "communicator")
	require.NoError(t, a.Start(context.Background()))
	f.registry.Register("b")

	require.True(t, a.SubmitTask(TaskTypeCommunicate, map[string]any{
		"target_agent": "b",
		"message":      "Hello from a",
	}, scheduler.PriorityNormal))

	task := f.waitTask(t, "a")
	assert.Equal(t, scheduler.StatusCompleted, task.Status)
	assert.Equal(t, "Message sent to b: true", task.Result)

	msg, ok := f.registry.Receive(context.Background(), "b", time.Second)
	require.True(t, ok)
	assert.Equal(t, "Hello from a", msg.Content)
	assert.Equal(t, "a", msg.SenderID)
}

func TestAgent_CommunicationTaskDefaultsAndUnknownTarget(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "communicator")
	require.NoError(t, a.Start(context.Background()))

	require.True(t, a.SubmitTask(TaskTypeCommunicate, map[string]any{"target_agent": "ghost"}, scheduler.PriorityNormal))

	task := f.waitTask(t, "a")
	assert.Equal(t, scheduler.StatusCompleted, task.Status)
	assert.Equal(t, "Message sent to ghost: false", task.Result)
}

func TestAgent_CommunicationTaskWithoutTarget(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "communicator")
	require.NoError(t, a.Start(context.Background()))

	require.True(t, a.SubmitTask(TaskTypeCommunicate, map[string]any{"message": "hi"}, scheduler.PriorityNormal))

	task := f.waitTask(t, "a")
	assert.Equal(t, scheduler.StatusCompleted, task.Status)
	assert.Equal(t, NoTargetResult, task.Result)
	assert.Empty(t, task.Error)

	testutil.AssertEventuallyTrue(t, func() bool { return len(a.TaskHistory()) == 1 }, time.Second)
	assert.Equal(t, StatusIdle, a.Status())
	assert.Zero(t, a.ErrorCount())
	assert.Equal(t, 0, f.registry.QueueSize("a"), "nothing is sent")
}

func TestAgent_TaskFaultMarksError(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")
	require.NoError(t, a.Start(context.Background()))

	f.scheduler.RegisterHandler("failing", func(ctx context.Context, task *scheduler.Task) (any, error) {
		return a.runTask(ctx, task, func(context.Context) (any, error) {
			return nil, errors.New("boom")
		})
	})
	require.True(t, a.SubmitTask("failing", nil, scheduler.PriorityNormal))

	task := f.waitTask(t, "a")
	assert.Equal(t, scheduler.StatusFailed, task.Status)
	assert.Equal(t, "boom", task.Error)

	testutil.AssertEventuallyTrue(t, func() bool { return a.Status() == StatusError }, time.Second)
	assert.Equal(t, 1, a.ErrorCount())
	assert.Empty(t, a.TaskHistory())

	// ERROR 状态下仍可继续执行任务
	require.True(t, a.SubmitTask(GenericTaskType("worker"), nil, scheduler.PriorityNormal))
	testutil.AssertEventuallyTrue(t, func() bool { return len(a.TaskHistory()) == 1 }, 2*time.Second)
	assert.Equal(t, StatusIdle, a.Status())
}

func TestAgent_AnalysisTask(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "analyzer")
	require.NoError(t, a.Start(context.Background()))

	data := make([]any, 100)
	require.True(t, a.SubmitTask(TaskTypeAnalyze, map[string]any{
		"data": data,
		"type": "statistical",
	}, scheduler.PriorityHigh))

	task := f.waitTask(t, "a")
	require.Equal(t, scheduler.StatusCompleted, task.Status)
	assert.Equal(t, AnalysisResult{
		AnalysisType: "statistical",
		DataSize:     100,
		Result:       "Analysis completed by a",
	}, task.Result)

	require.True(t, a.SubmitTask(TaskTypeAnalyze, map[string]any{"data": "not a list"}, scheduler.PriorityNormal))
	task = f.waitTask(t, "a")
	result, ok := task.Result.(AnalysisResult)
	require.True(t, ok)
	assert.Equal(t, "basic", result.AnalysisType)
	assert.Equal(t, 0, result.DataSize)
}

func TestAgent_StopCancelsCurrentTask(t *testing.T) {
	f := newFixture(t)
	cfg := fastConfig()
	cfg.GenericWorkDuration = 10 * time.Second
	a := f.newAgent(t, "a", "worker", WithConfig(cfg))
	require.NoError(t, a.Start(context.Background()))

	require.True(t, a.SubmitTask(GenericTaskType("worker"), nil, scheduler.PriorityNormal))
	testutil.AssertEventuallyTrue(t, func() bool { return a.Status() == StatusBusy }, time.Second)
	current, _ := a.CurrentTask()

	require.NoError(t, a.Stop(context.Background()))

	task, ok := f.scheduler.GetTask(current)
	require.True(t, ok)
	assert.Equal(t, scheduler.StatusCancelled, task.Status)

	// 任务执行返回后 Agent 仍保持 OFFLINE，取消不计为故障
	testutil.AssertEventuallyTrue(t, func() bool {
		_, busy := a.CurrentTask()
		return !busy
	}, time.Second)
	assert.Equal(t, StatusOffline, a.Status())
	assert.Equal(t, 0, a.ErrorCount())
}

func TestAgent_MessageHandlerErrorCounted(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")
	a.HandleKind("bad", func(context.Context, *Agent, *mailbox.Message) error {
		return errors.New("cannot handle")
	})
	require.NoError(t, a.Start(context.Background()))
	f.registry.Register("client")

	require.True(t, f.registry.Send("client", "a", "x", mailbox.WithKind("bad")))
	require.True(t, f.registry.Send("client", "a", "?", mailbox.WithKind(mailbox.KindQuery)))

	reply, ok := f.registry.Receive(context.Background(), "client", time.Second)
	require.True(t, ok, "loop keeps running after a failed message")
	assert.Equal(t, "Agent a status: idle", reply.Content)
	assert.Equal(t, 1, a.ErrorCount())
	assert.Equal(t, StatusIdle, a.Status())
}

func TestAgent_MessageHandlerPanicRecovered(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")
	a.HandleKind("boom", func(context.Context, *Agent, *mailbox.Message) error {
		panic("handler exploded")
	})
	require.NoError(t, a.Start(context.Background()))
	f.registry.Register("client")

	require.True(t, f.registry.Send("client", "a", "x", mailbox.WithKind("boom")))
	testutil.AssertEventuallyTrue(t, func() bool { return a.ErrorCount() == 1 }, time.Second)
	assert.Equal(t, StatusError, a.Status())
	assert.True(t, a.Running())

	require.True(t, f.registry.Send("client", "a", "?", mailbox.WithKind(mailbox.KindQuery)))
	reply, ok := f.registry.Receive(context.Background(), "client", time.Second)
	require.True(t, ok)
	assert.Equal(t, "Agent a status: error", reply.Content)
}

func TestAgent_HandleKindOverrideAndRemove(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")

	got := make(chan string, 1)
	a.HandleKind(mailbox.KindQuery, func(_ context.Context, _ *Agent, msg *mailbox.Message) error {
		got <- msg.Content
		return nil
	})
	require.NoError(t, a.Start(context.Background()))

	require.True(t, f.registry.Send("x", "a", "custom", mailbox.WithKind(mailbox.KindQuery)))
	v, ok := testutil.WaitForChannel(got, time.Second)
	require.True(t, ok)
	assert.Equal(t, "custom", v)

	a.HandleKind(mailbox.KindQuery, nil)
	f.registry.Register("x")
	require.True(t, f.registry.Send("x", "a", "ignored", mailbox.WithKind(mailbox.KindQuery)))
	_, replied := f.registry.Receive(context.Background(), "x", 100*time.Millisecond)
	assert.False(t, replied)
}

func TestAgent_TaskRequestHandler(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "processor")
	a.HandleKind(mailbox.KindTaskRequest, TaskRequestHandler())
	require.NoError(t, a.Start(context.Background()))

	req := testutil.MustJSON(TaskRequest{
		TaskType:   GenericTaskType("processor"),
		Parameters: map[string]any{"operation": "data_transform"},
		Priority:   scheduler.PriorityUrgent,
	})
	require.True(t, f.registry.Send("client", "a", req, mailbox.WithKind(mailbox.KindTaskRequest)))

	task := f.waitTask(t, "a")
	assert.Equal(t, scheduler.StatusCompleted, task.Status)
	assert.Equal(t, scheduler.PriorityUrgent, task.Priority)
	assert.Equal(t, "data_transform", task.Parameters["operation"])

	require.True(t, f.registry.Send("client", "a", "not json", mailbox.WithKind(mailbox.KindTaskRequest)))
	require.True(t, f.registry.Send("client", "a", `{"parameters":{}}`, mailbox.WithKind(mailbox.KindTaskRequest)))
	testutil.AssertEventuallyTrue(t, func() bool { return a.ErrorCount() == 2 }, time.Second)
}

func TestAgent_HeartbeatRefreshesActivity(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")
	require.NoError(t, a.Start(context.Background()))

	before := a.LastActivity()
	testutil.AssertEventuallyTrue(t, func() bool {
		return a.LastActivity().After(before)
	}, time.Second)
}

func TestAgent_StartContextCancelStopsLoops(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "worker")

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))
	cancel()

	require.NoError(t, a.Wait(testutil.TestContextWithTimeout(t, time.Second)))
	require.True(t, testutil.WaitFor(func() bool { return !a.Running() }, time.Second))
	assert.Equal(t, StatusOffline, a.Status())
	assert.False(t, a.StatusSnapshot().Running)
	assert.False(t, f.registry.IsRegistered("a"))

	// 可以用新的 ctx 重新启动
	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Running())
	assert.Equal(t, StatusIdle, a.Status())
}

func TestAgent_Capabilities(t *testing.T) {
	f := newFixture(t)
	a := f.newAgent(t, "a", "analyzer", WithCapabilities("data_analysis", "pattern_recognition"))

	a.AddCapability("data_analysis")
	a.AddCapability("reporting")
	assert.Equal(t, []string{"data_analysis", "pattern_recognition", "reporting"}, a.Capabilities())

	a.RemoveCapability("pattern_recognition")
	a.RemoveCapability("missing")
	assert.Equal(t, []string{"data_analysis", "reporting"}, a.Capabilities())

	info := a.StatusSnapshot()
	assert.Equal(t, "a", info.AgentID)
	assert.Equal(t, "analyzer", info.AgentType)
	assert.Equal(t, StatusOffline, info.Status)
	assert.False(t, info.Running)
	assert.Equal(t, []string{"data_analysis", "reporting"}, info.Capabilities)
	assert.Zero(t, info.TaskHistoryCount)
	assert.Zero(t, info.ErrorCount)
	testutil.AssertJSONEqual(t, []string{"data_analysis", "reporting"}, info.Capabilities)

	info.Capabilities[0] = "mutated"
	assert.Equal(t, "data_analysis", a.Capabilities()[0])
}

func TestAgent_StateTransitionMetrics(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("test", reg, zap.NewNop())
	a := f.newAgent(t, "a", "worker", WithMetrics(collector))

	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background()))

	count, err := promtestutil.GatherAndCount(reg, "test_agent_state_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "offline->idle and idle->offline")
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusOffline, StatusIdle, true},
		{StatusOffline, StatusBusy, false},
		{StatusIdle, StatusBusy, true},
		{StatusBusy, StatusIdle, true},
		{StatusBusy, StatusOffline, true},
		{StatusIdle, StatusError, true},
		{StatusError, StatusBusy, true},
		{StatusError, StatusOffline, true},
		{Status("unknown"), StatusIdle, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}

	err := ErrInvalidTransition{From: StatusOffline, To: StatusBusy}
	assert.Equal(t, "invalid status transition: offline -> busy", err.Error())
}
