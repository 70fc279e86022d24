// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的运行时指标采集能力，覆盖
HTTP、调度器、邮箱与 Agent 四个维度。

# 概述

Collector 通过 promauto.With 注册到调用方传入的 Registerer，
不依赖全局默认 Registry，因此同一进程（或同一测试）中可以并存
多个独立实例。所有 Record 方法在 nil Collector 上为空操作。

# 主要能力

  - HTTP 指标：请求总数与耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 调度器指标：提交/拒绝计数、终态计数、执行耗时、
    队列深度与运行数 Gauge、调度循环故障计数。
  - 邮箱指标：投递成功/失败计数、每个邮箱的积压 Gauge。
  - Agent 指标：状态转换计数与故障计数。
*/
package metrics
