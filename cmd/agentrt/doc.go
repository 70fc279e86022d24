// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 agentrt 运行时的可执行入口。

# 概述

cmd/agentrt 组装邮箱注册表、任务调度器与 Agent 管理器，并通过一个
HTTP 端点暴露健康检查、状态快照与 Prometheus 指标。程序支持 YAML
配置文件与 AGENTRT_ 前缀的环境变量、结构化日志（zap）以及可选的
OpenTelemetry 导出。

# 核心类型

  - Server         — 运行时组装根，持有各组件与 HTTP 服务器，负责启动与优雅关闭
  - StatusReport   — /status 响应体：Agent 快照、调度器统计与邮箱积压
  - Middleware     — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve（启动运行时）、version、health
  - 端点：GET /health、GET /status、GET /metrics
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、RateLimiter（基于 IP）
  - 配置未声明 Agent 时使用 agent_1/agent_2/agent_3 示例阵容，--demo 提交示例任务
  - 状态巡检：按 server.status_interval 周期记录 Agent 状态与调度器负载
  - 优雅关闭：信号 → 关闭 HTTP → 停止 Agent → 停止调度器 → 关闭邮箱 → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
