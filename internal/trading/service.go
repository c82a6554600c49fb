// Package trading 下单流程：订单簿本地副本、撮合预览、提交与记录。
package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/dexclient/internal/metrics"
	"github.com/betbot/dexclient/internal/risk"
	"github.com/betbot/dexclient/pkg/matching"
)

var log = logrus.WithField("component", "trading")

var (
	ErrNoBroadcaster = errors.New("no broadcaster configured")
	ErrNoCreator     = errors.New("no creator address configured")
	ErrEmptyPlan     = errors.New("plan has no actions")
)

// MarketSource 市场定义与订单簿查询（chain.Client 实现）
type MarketSource interface {
	BookFetcher
	TradingMarket(ctx context.Context, marketID string) (matching.Market, error)
}

// PreviewRequest 预览输入。Market 为 true 时忽略 Price，按市价单处理。
type PreviewRequest struct {
	MarketID string          `json:"market_id"`
	Side     matching.Side   `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Amount   decimal.Decimal `json:"amount"`
	Market   bool            `json:"market"`
}

// SubmitResult 提交结果
type SubmitResult struct {
	JournalID string `json:"journal_id,omitempty"`
	TxResult
}

// Config 服务配置
type Config struct {
	Creator  string
	Options  matching.Options
	DedupTTL time.Duration
}

// Service 预览与提交
type Service struct {
	cfg         Config
	source      MarketSource
	store       *BookStore
	broadcaster Broadcaster
	notifier    Notifier
	journal     *Journal
	gate        *inflight
	breaker     *risk.CircuitBreaker
	now         func() time.Time
}

// Option 服务选项
type Option func(*Service)

// WithBookStore 预览当前市场时使用本地订单簿，避免每次都请求链上
func WithBookStore(s *BookStore) Option {
	return func(svc *Service) { svc.store = s }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(svc *Service) { svc.broadcaster = b }
}

func WithNotifier(n Notifier) Option {
	return func(svc *Service) { svc.notifier = n }
}

func WithJournal(j *Journal) Option {
	return func(svc *Service) { svc.journal = j }
}

// WithCircuitBreaker 连续广播失败后暂停提交
func WithCircuitBreaker(cb *risk.CircuitBreaker) Option {
	return func(svc *Service) { svc.breaker = cb }
}

func NewService(source MarketSource, cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		source:   source,
		notifier: LogNotifier{},
		gate:     newInflight(cfg.DedupTTL, 0),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Journal 提交记录（可能为 nil）
func (s *Service) Journal() *Journal {
	return s.journal
}

// Book 某个市场的订单簿：当前市场且本地已有快照时直接返回本地副本
func (s *Service) Book(ctx context.Context, marketID string) (matching.Book, error) {
	if s.store != nil && s.store.MarketID() == marketID {
		if book, updated := s.store.Book(); !updated.IsZero() {
			return book, nil
		}
	}
	return s.source.OrderBook(ctx, marketID)
}

// Preview 根据当前订单簿计算撮合计划。输入错误体现在 Plan.Rejected 中，error 只表示查询失败。
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (matching.Plan, error) {
	market, err := s.source.TradingMarket(ctx, req.MarketID)
	if err != nil {
		return matching.Plan{}, fmt.Errorf("load market %s: %w", req.MarketID, err)
	}
	book, err := s.Book(ctx, req.MarketID)
	if err != nil {
		// 订单簿查询失败时按空订单簿预览（整笔挂单）
		log.WithError(err).WithField("market", req.MarketID).Warn("book unavailable, previewing against empty book")
	}
	if req.Market {
		return matching.PlanMarketOrder(market, req.Side, req.Amount, book, s.cfg.Options), nil
	}
	return matching.PlanMatch(market, req.Side, req.Price, req.Amount, book, s.cfg.Options), nil
}

func planKey(plan matching.Plan) string {
	return fmt.Sprintf("%s|%s|%s|%s", plan.MarketID, plan.Side, plan.LimitPrice.String(), plan.Amount.String())
}

// Submit 把计划转成消息并广播。被拒绝的计划不会到达广播方。
// 失败会通知用户（链上错误经过文案覆盖表），并写入提交记录。
func (s *Service) Submit(ctx context.Context, plan matching.Plan) (SubmitResult, error) {
	if plan.IsRejected() {
		return SubmitResult{}, plan.Rejected
	}
	if len(plan.Actions) == 0 {
		return SubmitResult{}, ErrEmptyPlan
	}
	if s.broadcaster == nil {
		return SubmitResult{}, ErrNoBroadcaster
	}
	if s.cfg.Creator == "" {
		return SubmitResult{}, ErrNoCreator
	}

	msgs, err := BuildMsgs(s.cfg.Creator, plan)
	if err != nil {
		return SubmitResult{}, err
	}

	if err := s.breaker.Allow(); err != nil {
		metrics.SubmissionsBlocked.Add(1)
		return SubmitResult{}, err
	}

	key := planKey(plan)
	if err := s.gate.tryAcquire(key, s.now()); err != nil {
		return SubmitResult{}, err
	}
	defer s.gate.release(key)

	var result SubmitResult
	if s.journal != nil {
		id, err := s.journal.Record(ctx, plan)
		if err != nil {
			log.WithError(err).Warn("journal record failed")
		}
		result.JournalID = id
	}

	tx, err := s.broadcaster.Broadcast(ctx, msgs)
	switch {
	case err != nil:
		tx = TxResult{Succeeded: false, Message: TranslateTxError(err.Error())}
	case !tx.Succeeded:
		tx.Message = TranslateTxError(tx.Message)
	}
	result.TxResult = tx
	metrics.Submissions.Add(1)
	if tx.Succeeded {
		s.breaker.OnSuccess()
	} else {
		metrics.SubmissionFailures.Add(1)
		s.breaker.OnFailure()
	}

	fields := logrus.Fields{"market": plan.MarketID, "side": plan.Side, "msgs": len(msgs), "tx": tx.TxHash}
	if tx.Succeeded {
		log.WithFields(fields).Info("order submitted")
		s.notifier.Notify(LevelSuccess, "Order submitted", fmt.Sprintf("%s %s %s", plan.Side, plan.Amount, plan.MarketID))
	} else {
		log.WithFields(fields).Warnf("order failed: %s", tx.Message)
		s.notifier.Notify(LevelError, "Order failed", tx.Message)
	}
	s.finish(ctx, result)
	return result, nil
}

func (s *Service) finish(ctx context.Context, result SubmitResult) {
	if s.journal == nil || result.JournalID == "" {
		return
	}
	status := StatusFailed
	if result.Succeeded {
		status = StatusSucceeded
	}
	// 广播的 ctx 可能已经取消，记录结果用独立的超时
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.journal.Finish(wctx, result.JournalID, status, result.TxHash, result.Message); err != nil {
		log.WithError(err).Warn("journal finish failed")
	}
}
