// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 agent 提供 Agent 生命周期状态机、消息循环与心跳循环，以及批量管理 Agent 的 Manager。

# 状态机

	OFFLINE → IDLE ⇄ BUSY
	任意状态 → ERROR（未处理故障）
	任意状态 → OFFLINE（Stop）

迁移由 validTransitions 表约束，CanTransition 可用于校验。

# 运行模型

Start 向邮箱注册表注册、向调度器注册三个任务处理器
（"<type>_task"、"communicate"、"analyze"），随后以受监督的方式启动
消息循环和心跳循环。循环中的 panic 被捕获并计入 ErrorCount，
不会终止另一个循环。Stop 取消循环与当前任务、注销邮箱并等待循环退出。

消息按 Kind 分派：query 默认回复 "Agent <id> status: <status>"，
其他类型通过 HandleKind 注册处理器，未注册时忽略。
TaskRequestHandler 可把 JSON 形式的 task_request 消息转换为任务提交。

# 当前任务

每个 Agent 只保留一个当前任务链接。第二个任务开始时替换链接而不取消第一个，
Stop 只会取消最近开始的任务。
*/
package agent
