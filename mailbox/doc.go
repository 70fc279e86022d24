// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 mailbox 提供 Agent 之间的进程内通信层。

# 概述

Registry 为每个已注册的 Agent ID 维护一个有界、有序的邮箱，
负责点对点投递、广播以及有界的投递历史。所有状态仅存在于进程内存中。

# 核心类型

  - Registry：邮箱注册表，持有邮箱表与历史记录，可被多个
    goroutine 并发使用。
  - Message：不可变消息，包含发送方、接收方、内容、类型标签与优先级。

# 投递语义

  - Send 在接收方未注册、邮箱已满或已关闭时返回 false，且不产生任何副作用。
  - 同一接收方的消息按发送顺序投递（FIFO）；不同接收方之间不保证顺序。
  - Receive 超时或邮箱未知时返回空结果，这是“暂时无事可做”的正常信号。
  - Broadcast 投递给除发送方外的所有邮箱，单个失败不影响其余投递。
*/
package mailbox
