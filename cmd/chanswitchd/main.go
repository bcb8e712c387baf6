// Package main 是 chanswitchd 服务入口
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/qiminjie89/chanswitch/internal/server"
	"github.com/qiminjie89/chanswitch/pkg/config"
	"github.com/qiminjie89/chanswitch/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// 解析命令行参数
	configPath := flag.String("config", "configs/chanswitchd.yaml", "config file path")
	watch := flag.Bool("watch", true, "reload log level when the config file changes")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("load config failed: " + err.Error())
	}

	// 初始化日志
	if err := logger.Init(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}); err != nil {
		panic("init logger failed: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting chanswitchd",
		zap.String("config", *configPath),
		zap.String("backend", cfg.Server.Backend),
	)

	// 创建并启动服务
	srv, err := server.New(cfg, server.WithLogger(logger.L()))
	if err != nil {
		logger.Error("create server failed", zap.Error(err))
		os.Exit(1)
	}
	if err := srv.Start(); err != nil {
		logger.Error("start server failed", zap.Error(err))
		srv.Stop()
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 配置热更新：只有日志级别可以在运行时生效
	if *watch {
		level := cfg.Log.Level
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			if next.Log.Level != level {
				srv.SetLogLevel(next.Log.Level)
				level = next.Log.Level
			}
		})
		if err != nil {
			logger.Warn("config watch disabled", zap.Error(err))
		}
	}

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.Stringer("signal", sig))
	srv.Stop()
}
