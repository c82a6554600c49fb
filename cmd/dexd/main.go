package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/dexclient/internal/app"
	"github.com/betbot/dexclient/internal/metrics"
	"github.com/betbot/dexclient/internal/server"
	"github.com/betbot/dexclient/internal/trading"
	"github.com/betbot/dexclient/pkg/config"
	"github.com/betbot/dexclient/pkg/logger"
	"github.com/betbot/dexclient/pkg/shutdown"
)

type stopper interface {
	Start() error
	Stop()
}

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("DEX_CONFIG"), "配置文件路径（.yaml/.yml/.json，可选）")
	flag.Parse()

	config.SetConfigPath(*configPath)
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("加载配置失败: %v", err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}); err != nil {
		logrus.Fatalf("初始化日志失败: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		logger.Errorf("初始化客户端失败: %v", err)
		os.Exit(1)
	}

	journal, err := trading.OpenJournal(cfg.JournalPath)
	if err != nil {
		logger.Errorf("打开提交记录失败: %v", err)
		_ = a.Close()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if cfg.MetricsAddr != "" {
		if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
			logger.Warnf("启动 metrics 服务失败: %v", err)
		}
	}

	notifier := trading.LogNotifier{}
	marketListener, store := a.MarketPipeline(cfg.DefaultMarketID)
	a.WarmUp(ctx, store)

	listeners := []stopper{marketListener}
	if bl, rl := a.AccountListeners(notifier); bl != nil {
		listeners = append(listeners, bl, rl)
	}
	for _, l := range listeners {
		if err := l.Start(); err != nil {
			// 推送不可用时仍然提供查询接口，订单簿只在手动刷新时更新
			logger.Warnf("启动监听失败: %v", err)
		}
	}

	// 签名广播由外部钱包完成，这里不配置 Broadcaster：提交接口返回 503
	svc := trading.NewService(a.Chain, a.ServiceConfig(),
		trading.WithBookStore(store),
		trading.WithJournal(journal),
		trading.WithNotifier(notifier),
		trading.WithCircuitBreaker(a.CircuitBreaker()),
	)
	srv, err := server.New(server.Config{Addr: cfg.HTTPAddr}, svc, a.Chain, aggregatorOrNil(a))
	if err != nil {
		logger.Errorf("初始化 HTTP 服务失败: %v", err)
		os.Exit(1)
	}

	mgr := shutdown.NewManager()
	mgr.OnShutdown("listeners", func(ctx context.Context) error {
		for _, l := range listeners {
			l.Stop()
		}
		store.Close()
		return nil
	})
	mgr.OnShutdown("journal", func(ctx context.Context) error {
		return journal.Close()
	})

	if err := srv.Run(ctx); err != nil {
		logger.Errorf("HTTP 服务错误: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)
	// 监听器退订完成后再关闭连接和缓存
	if err := a.Close(); err != nil {
		logger.Warnf("关闭客户端失败: %v", err)
	}
	logger.Info("dexd stopped")
}

func aggregatorOrNil(a *app.App) server.Prices {
	if a.Aggregator == nil {
		return nil
	}
	return a.Aggregator
}
