// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供观测端点 HTTP 服务器的生命周期管理，支持非阻塞启动与优雅关闭。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Errors/Addr/IsRunning。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与优雅关闭超时，
    可由 config.ServerConfig 通过 FromServerConfig 构造。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在 ctx 与 ShutdownTimeout 中较早的期限内排空请求，
    重复调用为空操作，关闭后不可再次启动。
  - 错误传播：Errors() 返回异步错误通道，供调用方监控服务异常。
  - Addr 在启动后返回实际监听地址，便于使用 ":0" 随机端口。
*/
package server
