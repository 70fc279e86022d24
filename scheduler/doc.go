// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 scheduler 提供带优先级与并发上限的进程内任务调度器。

# 概述

任务提交后进入按 (优先级降序, 提交序号升序) 排序的二叉堆，
调度循环在运行数低于并发上限时取出队首任务，查找其类型对应的
Handler 并在独立 goroutine 中执行，随后立即继续调度。

# 任务状态机

	PENDING → RUNNING → {COMPLETED | FAILED}
	PENDING | RUNNING → CANCELLED

Cancel 对已完成或已失败的任务同样把状态改写为 CANCELLED，
保留原有 Result 与 Error。

# 停止

Stop 停止调度循环，把仍在排队的任务标记为 CANCELLED，
并等待全部已启动的执行返回。
*/
package scheduler
