// Package server HTTP 接口：订单簿、撮合预览、单位换算、提交记录与行情。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/betbot/dexclient/internal/trading"
	"github.com/betbot/dexclient/pkg/aggregator"
	"github.com/betbot/dexclient/pkg/chain"
	"github.com/betbot/dexclient/pkg/matching"
)

var log = logrus.WithField("component", "server")

// Markets 链上市场查询（chain.Client 实现）
type Markets interface {
	TradingMarket(ctx context.Context, marketID string) (matching.Market, error)
	Markets(ctx context.Context) ([]chain.MarketInfo, error)
	MarketHistory(ctx context.Context, marketID string, limit int) ([]chain.HistoryOrder, error)
}

// Prices 价格聚合服务（aggregator.Client 实现）
type Prices interface {
	Prices(ctx context.Context) ([]aggregator.Price, error)
	Tickers(ctx context.Context) ([]aggregator.Ticker, error)
	History(ctx context.Context, marketID string, chart aggregator.Chart, limit int) ([]aggregator.Candle, error)
}

type Config struct {
	Addr            string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg     Config
	svc     *trading.Service
	markets Markets
	prices  Prices
}

// New prices 可以为 nil，此时行情接口返回 503
func New(cfg Config, svc *trading.Service, markets Markets, prices Prices) (*Server, error) {
	if svc == nil || markets == nil {
		return nil, errors.New("trading service and market source are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, svc: svc, markets: markets, prices: prices}, nil
}

func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	// market id 里有 "/"，客户端需要转义成 %2F
	r.UseRawPath = true
	r.UnescapePathValues = true
	r.Use(gin.Recovery(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/markets", s.handleMarkets)
	market := api.Group("/markets/:marketID")
	market.GET("/book", s.handleBook)
	market.GET("/history", s.handleHistory)
	market.GET("/candles", s.handleCandles)
	market.POST("/preview", s.handlePreview)
	market.POST("/orders", s.handleSubmit)

	api.GET("/convert/amount", s.handleConvertAmount)
	api.GET("/convert/price", s.handleConvertPrice)
	api.GET("/journal", s.handleJournal)
	api.GET("/prices", s.handlePrices)
	api.GET("/tickers", s.handleTickers)

	return r
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("http request")
	}
}

// Run 阻塞直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP 服务监听 %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
