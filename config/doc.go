// Package config 提供 agentrt 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序合并，
// 覆盖调度器、邮箱、Agent 运行参数、初始 Agent 列表、
// 观测端点、日志与遥测。Watcher 轮询配置文件，变更后重新加载并回调；
// 日志级别可在线生效，其余配置段由 RestartRequired 报告为需重启。
package config
