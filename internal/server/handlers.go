package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/dexclient/internal/risk"
	"github.com/betbot/dexclient/internal/trading"
	"github.com/betbot/dexclient/pkg/aggregator"
	"github.com/betbot/dexclient/pkg/marketmath"
	"github.com/betbot/dexclient/pkg/matching"
)

func writeError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func (s *Server) reqContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
}

func queryInt(c *gin.Context, key string, def, max int) int {
	if v := strings.TrimSpace(c.Query(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

func (s *Server) handleMarkets(c *gin.Context) {
	ctx, cancel := s.reqContext(c)
	defer cancel()
	markets, err := s.markets.Markets(ctx)
	if err != nil {
		writeError(c, http.StatusBadGateway, "list markets: "+err.Error())
		return
	}
	out := make([]gin.H, 0, len(markets))
	for _, m := range markets {
		out = append(out, gin.H{"id": m.ID(), "base": m.Base, "quote": m.Quote, "creator": m.Creator})
	}
	c.JSON(http.StatusOK, out)
}

type bookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

func levels(in [][2]decimal.Decimal) []bookLevel {
	out := make([]bookLevel, 0, len(in))
	for _, l := range in {
		out = append(out, bookLevel{Price: l[0], Amount: l[1]})
	}
	return out
}

func (s *Server) handleBook(c *gin.Context) {
	marketID := c.Param("marketID")
	depth := queryInt(c, "depth", 20, 500)
	ctx, cancel := s.reqContext(c)
	defer cancel()

	market, err := s.markets.TradingMarket(ctx, marketID)
	if err != nil {
		writeError(c, http.StatusNotFound, err.Error())
		return
	}
	book, err := s.svc.Book(ctx, marketID)
	if err != nil {
		writeError(c, http.StatusBadGateway, "load book: "+err.Error())
		return
	}

	top := book.Top(market)
	resp := gin.H{
		"market":   market,
		"best_bid": top.BestBid,
		"best_ask": top.BestAsk,
		"buys":     levels(book.Depth(market, matching.SideBuy, depth)),
		"sells":    levels(book.Depth(market, matching.SideSell, depth)),
	}
	if spread, ok := top.Spread(); ok {
		resp["spread"] = spread
	}
	if mid, ok := top.MidPrice(); ok {
		resp["mid_price"] = mid
	}
	c.JSON(http.StatusOK, resp)
}

type previewBody struct {
	Side   matching.Side    `json:"side"`
	Price  *decimal.Decimal `json:"price"`
	Amount *decimal.Decimal `json:"amount"`
	Total  *decimal.Decimal `json:"total"`
	Market bool             `json:"market"`
}

// previewRequest 价格/数量/总额中给出两个即可，第三个由表单推导
func (s *Server) previewRequest(ctx context.Context, c *gin.Context) (trading.PreviewRequest, bool) {
	var body previewBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusBadRequest, "invalid body: "+err.Error())
		return trading.PreviewRequest{}, false
	}
	if !body.Side.Valid() {
		writeError(c, http.StatusBadRequest, "side must be buy or sell")
		return trading.PreviewRequest{}, false
	}
	marketID := c.Param("marketID")
	market, err := s.markets.TradingMarket(ctx, marketID)
	if err != nil {
		writeError(c, http.StatusNotFound, err.Error())
		return trading.PreviewRequest{}, false
	}

	form := matching.NewForm(market, body.Side)
	if body.Price != nil {
		form.SetPrice(*body.Price)
	}
	if body.Amount != nil {
		form.SetAmount(*body.Amount)
	}
	if body.Total != nil {
		form.SetTotal(*body.Total)
	}
	intent := form.Intent()
	return trading.PreviewRequest{
		MarketID: marketID,
		Side:     intent.Side,
		Price:    intent.Price,
		Amount:   intent.Amount,
		Market:   body.Market,
	}, true
}

func (s *Server) handlePreview(c *gin.Context) {
	ctx, cancel := s.reqContext(c)
	defer cancel()
	req, ok := s.previewRequest(ctx, c)
	if !ok {
		return
	}
	plan, err := s.svc.Preview(ctx, req)
	if err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	status := http.StatusOK
	if plan.IsRejected() {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, plan)
}

func (s *Server) handleSubmit(c *gin.Context) {
	ctx, cancel := s.reqContext(c)
	defer cancel()
	req, ok := s.previewRequest(ctx, c)
	if !ok {
		return
	}
	plan, err := s.svc.Preview(ctx, req)
	if err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	if plan.IsRejected() {
		c.JSON(http.StatusUnprocessableEntity, plan)
		return
	}
	res, err := s.svc.Submit(ctx, plan)
	switch {
	case errors.Is(err, trading.ErrNoBroadcaster), errors.Is(err, trading.ErrNoCreator), errors.Is(err, risk.ErrCircuitBreakerOpen):
		writeError(c, http.StatusServiceUnavailable, err.Error())
		return
	case errors.Is(err, trading.ErrDuplicateSubmit):
		writeError(c, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	status := http.StatusOK
	if !res.Succeeded {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"plan": plan, "result": res})
}

func (s *Server) handleHistory(c *gin.Context) {
	ctx, cancel := s.reqContext(c)
	defer cancel()
	hist, err := s.markets.MarketHistory(ctx, c.Param("marketID"), queryInt(c, "limit", 50, 500))
	if err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (s *Server) handleCandles(c *gin.Context) {
	if s.prices == nil {
		writeError(c, http.StatusServiceUnavailable, "aggregator not configured")
		return
	}
	chart := aggregator.Chart(c.DefaultQuery("chart", string(aggregator.Chart1D)))
	ctx, cancel := s.reqContext(c)
	defer cancel()
	candles, err := s.prices.History(ctx, c.Param("marketID"), chart, queryInt(c, "limit", 100, 1000))
	if err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, candles)
}

func (s *Server) handlePrices(c *gin.Context) {
	if s.prices == nil {
		writeError(c, http.StatusServiceUnavailable, "aggregator not configured")
		return
	}
	ctx, cancel := s.reqContext(c)
	defer cancel()
	prices, err := s.prices.Prices(ctx)
	if err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, prices)
}

func (s *Server) handleTickers(c *gin.Context) {
	if s.prices == nil {
		writeError(c, http.StatusServiceUnavailable, "aggregator not configured")
		return
	}
	ctx, cancel := s.reqContext(c)
	defer cancel()
	tickers, err := s.prices.Tickers(ctx)
	if err != nil {
		writeError(c, http.StatusBadGateway, err.Error())
		return
	}
	c.JSON(http.StatusOK, tickers)
}

func parseDecimalQuery(c *gin.Context, key string) (decimal.Decimal, bool) {
	v, err := decimal.NewFromString(strings.TrimSpace(c.Query(key)))
	if err != nil {
		writeError(c, http.StatusBadRequest, key+" must be a decimal number")
		return decimal.Zero, false
	}
	return v, true
}

func parseExponentQuery(c *gin.Context, key string) (int, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return marketmath.DefaultExponent, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 18 {
		writeError(c, http.StatusBadRequest, key+" must be an integer between 0 and 18")
		return 0, false
	}
	return n, true
}

// handleConvertAmount ?value=&exponent=&to=display|micro
func (s *Server) handleConvertAmount(c *gin.Context) {
	value, ok := parseDecimalQuery(c, "value")
	if !ok {
		return
	}
	exp, ok := parseExponentQuery(c, "exponent")
	if !ok {
		return
	}
	switch c.DefaultQuery("to", "display") {
	case "display":
		c.JSON(http.StatusOK, gin.H{"value": marketmath.ToDisplayAmount(value, exp).String()})
	case "micro":
		c.JSON(http.StatusOK, gin.H{"value": marketmath.ToMicroAmount(value, exp)})
	default:
		writeError(c, http.StatusBadRequest, "to must be display or micro")
	}
}

// handleConvertPrice ?value=&quote_exponent=&base_exponent=&to=display|micro
func (s *Server) handleConvertPrice(c *gin.Context) {
	value, ok := parseDecimalQuery(c, "value")
	if !ok {
		return
	}
	quoteExp, ok := parseExponentQuery(c, "quote_exponent")
	if !ok {
		return
	}
	baseExp, ok := parseExponentQuery(c, "base_exponent")
	if !ok {
		return
	}
	switch c.DefaultQuery("to", "display") {
	case "display":
		c.JSON(http.StatusOK, gin.H{"value": marketmath.ToDisplayPrice(value, quoteExp, baseExp).String()})
	case "micro":
		c.JSON(http.StatusOK, gin.H{"value": marketmath.ToMicroPrice(value, quoteExp, baseExp)})
	default:
		writeError(c, http.StatusBadRequest, "to must be display or micro")
	}
}

func (s *Server) handleJournal(c *gin.Context) {
	j := s.svc.Journal()
	if j == nil {
		c.JSON(http.StatusOK, []trading.Entry{})
		return
	}
	ctx, cancel := s.reqContext(c)
	defer cancel()
	entries, err := j.List(ctx, c.Query("market"), queryInt(c, "limit", 50, 200))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "list journal: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, entries)
}
