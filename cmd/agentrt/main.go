// =============================================================================
// agentrt 主入口
// =============================================================================
// 进程内多 Agent 运行时，附带健康检查、状态快照与 Prometheus 指标端点
//
// 使用方法:
//
//	agentrt serve                       # 启动运行时
//	agentrt serve --config config.yaml  # 指定配置文件
//	agentrt serve --demo                # 启动后提交示例任务
//	agentrt version                     # 显示版本信息
//	agentrt health                      # 健康检查
// =============================================================================

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentrt/config"
	"github.com/BaSui01/agentrt/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		os.Exit(runServe(os.Args[2:]))
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	demo := fs.Bool("demo", false, "Submit sample tasks after startup")
	_ = fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.WithValidator((*config.Config).Validate).Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting agentrt",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv, err := NewServer(cfg, logger)
	if err != nil {
		logger.Error("Failed to build runtime", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		watcher := config.NewWatcher(loader, cfg, config.WithWatcherLogger(logger))
		watcher.OnReload(func(old, updated *config.Config) {
			applyLogLevel(level, updated.Log.Level, logger)
			if changed := config.RestartRequired(old, updated); len(changed) > 0 {
				logger.Warn("config changes require restart", zap.Strings("sections", changed))
			}
		})
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher not started", zap.Error(err))
		}
		defer watcher.Stop()
	}

	code := 0
	if err := srv.Start(); err != nil {
		logger.Error("Failed to start runtime", zap.Error(err))
		code = 1
	} else {
		if *demo {
			srv.SubmitDemoTasks()
		}

		select {
		case <-ctx.Done():
			logger.Info("received shutdown signal")
		case err := <-srv.Errors():
			logger.Error("server exited unexpectedly", zap.Error(err))
			code = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
		code = 1
	}
	if err := otelProviders.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}

	logger.Info("agentrt stopped")
	return code
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:9091", "Server address")
	_ = fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("OK")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("agentrt %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`agentrt - in-process multi-agent runtime

Usage:
  agentrt <command> [options]

Commands:
  serve     Start the runtime and its observability endpoint
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)
  --demo            Submit sample tasks after startup

Environment overrides use the AGENTRT_ prefix, e.g.
  AGENTRT_SCHEDULER_MAX_CONCURRENT=4

Examples:
  agentrt serve
  agentrt serve --config /etc/agentrt/config.yaml --demo
  agentrt health --addr http://localhost:9091
  agentrt version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// applyLogLevel 在线调整日志级别
func applyLogLevel(level zap.AtomicLevel, s string, logger *zap.Logger) {
	next := parseLevel(s)
	if level.Level() == next {
		return
	}
	logger.Info("log level changed",
		zap.String("from", level.Level().String()),
		zap.String("to", next.String()),
	)
	level.SetLevel(next)
}

// initLogger 构建 logger，返回的 AtomicLevel 可在配置重载时调整级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            level,
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		prod := zap.NewProductionConfig()
		prod.Level = level
		logger, _ = prod.Build()
	}

	return logger, level
}
