// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 agentrt 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 日志辅助: ObservedLogger 返回可断言的 zap logger
  - 异步断言: AssertEventuallyTrue / AssertEventuallyEqual / WaitFor，
    用于等待调度循环与 Agent 循环产生的状态变化
  - 数据工具: AssertJSONEqual / MustJSON
*/
package testutil
