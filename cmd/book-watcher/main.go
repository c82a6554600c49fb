package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/betbot/dexclient/internal/app"
	"github.com/betbot/dexclient/internal/listener"
	"github.com/betbot/dexclient/internal/trading"
	"github.com/betbot/dexclient/pkg/config"
	"github.com/betbot/dexclient/pkg/logger"
	"github.com/betbot/dexclient/pkg/matching"
)

const orderbookDepth = 8

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	bidStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // 绿色
	askStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // 红色
	priceStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

type model struct {
	ctx      context.Context
	a        *app.App
	listener *listener.MarketListener
	store    *trading.BookStore
	opts     matching.Options

	market   matching.Market
	book     matching.Book
	updated  time.Time
	side     matching.Side
	price    decimal.Decimal
	amount   decimal.Decimal
	listenOK bool
	err      error
}

type tickMsg time.Time

type bookMsg struct{}

type marketMsg struct {
	market matching.Market
	err    error
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// waitBookCmd 阻塞到订单簿下一次更新
func waitBookCmd(ctx context.Context, store *trading.BookStore) tea.Cmd {
	return func() tea.Msg {
		if err := store.C.Wait(ctx); err != nil {
			return nil
		}
		return bookMsg{}
	}
}

func loadMarketCmd(ctx context.Context, a *app.App, store *trading.BookStore) tea.Cmd {
	return func() tea.Msg {
		m, err := a.Chain.TradingMarket(ctx, store.MarketID())
		_ = store.Refresh(ctx)
		return marketMsg{market: m, err: err}
	}
}

func refreshCmd(ctx context.Context, store *trading.BookStore) tea.Cmd {
	return func() tea.Msg {
		_ = store.Refresh(ctx)
		return nil
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), loadMarketCmd(m.ctx, m.a, m.store), waitBookCmd(m.ctx, m.store))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "b":
			m.side = matching.SideBuy
		case "s":
			m.side = matching.SideSell
		case "r":
			return m, refreshCmd(m.ctx, m.store)
		}
	case tickMsg:
		return m, tickCmd()
	case bookMsg:
		m.book, m.updated = m.store.Book()
		return m, waitBookCmd(m.ctx, m.store)
	case marketMsg:
		m.market, m.err = msg.market, msg.err
	}
	return m, nil
}

func (m model) View() string {
	if m.err != nil {
		return errStyle.Render(fmt.Sprintf("错误: %v", m.err)) + "\n\n按 q 退出"
	}
	if m.market.ID == "" {
		return "正在加载市场...\n\n按 q 退出"
	}

	status := "等待数据..."
	if !m.updated.IsZero() {
		status = fmt.Sprintf("更新于 %v 前", time.Since(m.updated).Round(time.Second))
	}
	if !m.listenOK {
		status += " | 推送未连接"
	}
	if err := m.store.LastError(); err != nil {
		status += " | 刷新失败"
	}

	var s strings.Builder
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s", m.market.ID, status)))
	s.WriteString("\n\n")
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, renderBook(m.market, m.book), "  ", m.renderPreview()))
	s.WriteString("\n\n")
	s.WriteString(dimStyle.Render("b 买 / s 卖 切换方向 | r 刷新 | q 退出 | 日志 " + logger.GetCurrentLogFile()))
	return s.String()
}

func renderBook(market matching.Market, book matching.Book) string {
	var s strings.Builder

	s.WriteString(askStyle.Render("卖单 (Asks)"))
	s.WriteString("\n")
	asks := book.Depth(market, matching.SideSell, orderbookDepth)
	if len(asks) == 0 {
		s.WriteString("  --\n")
	}
	// 卖单倒序显示，最优价贴近中间
	for i := len(asks) - 1; i >= 0; i-- {
		s.WriteString(fmt.Sprintf("  %14s  %16s\n", asks[i][0].String(), asks[i][1].String()))
	}

	s.WriteString("\n")
	top := book.Top(market)
	if mid, ok := top.MidPrice(); ok {
		line := fmt.Sprintf("中间价: %s", mid.String())
		if spread, ok := top.Spread(); ok {
			line += fmt.Sprintf("  价差: %s", spread.String())
		}
		s.WriteString(priceStyle.Render(line))
	} else {
		s.WriteString("中间价: --")
	}
	s.WriteString("\n\n")

	s.WriteString(bidStyle.Render("买单 (Bids)"))
	s.WriteString("\n")
	bids := book.Depth(market, matching.SideBuy, orderbookDepth)
	if len(bids) == 0 {
		s.WriteString("  --\n")
	}
	for _, b := range bids {
		s.WriteString(fmt.Sprintf("  %14s  %16s\n", b[0].String(), b[1].String()))
	}
	return borderStyle.Render(s.String())
}

func (m model) renderPreview() string {
	var s strings.Builder
	s.WriteString(priceStyle.Render(fmt.Sprintf("预览: %s %s @ %s", m.side, m.amount, m.price)))
	s.WriteString("\n\n")

	plan := matching.PlanMatch(m.market, m.side, m.price, m.amount, m.book, m.opts)
	if plan.IsRejected() {
		s.WriteString(errStyle.Render(plan.Rejected.Message))
		return borderStyle.Render(s.String())
	}
	if avg, ok := plan.AveragePrice(); ok {
		s.WriteString(fmt.Sprintf("吃单: %s  均价: %s\n", plan.FilledAmount(), avg.Round(8)))
	}
	if plan.Remainder.IsPositive() {
		s.WriteString(fmt.Sprintf("挂单: %s @ %s\n", plan.Remainder, m.price))
	}
	s.WriteString("\n")
	for i, a := range plan.Actions {
		s.WriteString(dimStyle.Render(fmt.Sprintf("%d. %s %s %s", i+1, a.Kind, a.MicroAmount, a.MicroPrice)))
		s.WriteString("\n")
	}
	return borderStyle.Render(s.String())
}

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("DEX_CONFIG"), "配置文件路径（可选）")
		marketID   = flag.String("market", "", "市场 id（默认取配置）")
		side       = flag.String("side", "buy", "预览方向 buy/sell")
		price      = flag.String("price", "0", "预览价格（展示单位）")
		amount     = flag.String("amount", "0", "预览数量（展示单位）")
	)
	flag.Parse()

	config.SetConfigPath(*configPath)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *marketID != "" {
		cfg.DefaultMarketID = *marketID
	}
	// 日志只写文件，避免冲掉界面
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = "logs/book-watcher.log"
	}
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, OutputFile: logFile, MaxSize: 20, MaxBackups: 1, Quiet: true}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	s, err := matching.ParseSide(*side)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	p, errP := decimal.NewFromString(*price)
	q, errQ := decimal.NewFromString(*amount)
	if errP != nil || errQ != nil {
		fmt.Fprintln(os.Stderr, "price 和 amount 必须是数字")
		os.Exit(1)
	}

	a, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化客户端失败: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ml, store := a.MarketPipeline(cfg.DefaultMarketID)
	defer store.Close()
	listenErr := ml.Start()
	if listenErr != nil {
		logger.Warnf("启动市场监听失败: %v", listenErr)
	}
	defer ml.Stop()

	m := model{
		ctx:      ctx,
		a:        a,
		listener: ml,
		store:    store,
		opts:     a.ServiceConfig().Options,
		side:     s,
		price:    p,
		amount:   q,
		listenOK: listenErr == nil,
	}
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "运行程序失败: %v\n", err)
		os.Exit(1)
	}
}
