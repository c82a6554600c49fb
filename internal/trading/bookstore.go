package trading

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/dexclient/internal/listener"
	"github.com/betbot/dexclient/internal/metrics"
	"github.com/betbot/dexclient/pkg/debounce"
	"github.com/betbot/dexclient/pkg/logger"
	"github.com/betbot/dexclient/pkg/matching"
	"github.com/betbot/dexclient/pkg/sigchan"
)

const (
	DefaultRefreshDelay   = 300 * time.Millisecond
	DefaultRefreshTimeout = 10 * time.Second
)

// BookFetcher 拉取订单簿快照
type BookFetcher interface {
	OrderBook(ctx context.Context, marketID string) (matching.Book, error)
}

// BookStore 本地维护的某个市场订单簿。
// 只在链上事件之后重新拉取，提交订单不会修改本地订单簿。
type BookStore struct {
	fetcher BookFetcher
	deb     *debounce.Debouncer
	delay   time.Duration

	mu        sync.RWMutex
	marketID  string
	book      matching.Book
	updatedAt time.Time
	lastErr   error
	gen       uint64 // SetMarketID 时递增，丢弃旧市场的迟到结果

	cbMu      sync.Mutex
	callbacks []func(matching.Book)

	// C 每次订单簿替换后发出信号
	C *sigchan.Chan
}

// NewBookStore 创建订单簿存储。delay 为事件触发刷新的防抖间隔，0 表示不防抖。
func NewBookStore(fetcher BookFetcher, marketID string, delay time.Duration) *BookStore {
	if delay < 0 {
		delay = DefaultRefreshDelay
	}
	return &BookStore{
		fetcher:  fetcher,
		deb:      debounce.New(),
		delay:    delay,
		marketID: marketID,
		book:     matching.Book{MarketID: marketID},
		C:        sigchan.New(1),
	}
}

// MarketID 当前市场
func (s *BookStore) MarketID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marketID
}

// Book 当前快照及其更新时间。从未成功拉取过时更新时间为零值。
func (s *BookStore) Book() (matching.Book, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.book, s.updatedAt
}

// LastError 最近一次刷新的错误
func (s *BookStore) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// OnChange 注册订单簿变化回调（在锁外按注册顺序调用）
func (s *BookStore) OnChange(cb func(matching.Book)) {
	s.cbMu.Lock()
	defer s.cbMu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Refresh 立即拉取一次。失败时保留旧快照。
// 并发刷新之间不排序，后写入的结果生效。
func (s *BookStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	marketID, gen := s.marketID, s.gen
	s.mu.RUnlock()
	if marketID == "" {
		return nil
	}

	book, err := s.fetcher.OrderBook(ctx, marketID)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return nil
	}
	s.lastErr = err
	if err != nil {
		s.mu.Unlock()
		metrics.BookRefreshErrors.Add(1)
		logger.WithField("market", marketID).Warnf("刷新订单簿失败，保留旧数据: %v", err)
		return err
	}
	book.MarketID = marketID
	s.book = book
	s.updatedAt = time.Now()
	s.mu.Unlock()
	metrics.BookRefreshes.Add(1)

	s.emit(book)
	return nil
}

// ScheduleRefresh 防抖刷新：delay 内的多次调用只触发一次拉取
func (s *BookStore) ScheduleRefresh() {
	marketID := s.MarketID()
	if marketID == "" {
		return
	}
	s.deb.Schedule("book:"+marketID, s.delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultRefreshTimeout)
		defer cancel()
		_ = s.Refresh(ctx)
	})
}

// HandleMarketEvent 市场事件回调：属于当前市场的事件触发防抖刷新
func (s *BookStore) HandleMarketEvent(ev listener.MarketEvent) {
	if ev.Empty() {
		return
	}
	if ev.MarketID != "" && ev.MarketID != s.MarketID() {
		return
	}
	s.ScheduleRefresh()
}

// Attach 把市场监听器的事件接到刷新上
func (s *BookStore) Attach(l *listener.MarketListener) {
	l.OnEvent(s.HandleMarketEvent)
}

// SetMarketID 切换市场：取消待执行的刷新并清空快照
func (s *BookStore) SetMarketID(marketID string) {
	s.mu.Lock()
	old := s.marketID
	if old == marketID {
		s.mu.Unlock()
		return
	}
	s.marketID = marketID
	s.book = matching.Book{MarketID: marketID}
	s.updatedAt = time.Time{}
	s.lastErr = nil
	s.gen++
	s.mu.Unlock()

	s.deb.Cancel("book:" + old)
	s.emit(matching.Book{MarketID: marketID})
}

// Close 停止所有待执行的刷新
func (s *BookStore) Close() {
	s.deb.Stop()
}

func (s *BookStore) emit(book matching.Book) {
	s.cbMu.Lock()
	cbs := make([]func(matching.Book), len(s.callbacks))
	copy(cbs, s.callbacks)
	s.cbMu.Unlock()

	for _, cb := range cbs {
		cb(book)
	}
	s.C.Emit()
}
