package trading

import (
	"strings"

	"github.com/betbot/dexclient/pkg/logger"
)

// Level 通知级别
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notifier 面向用户的提示（界面里的 toast）
type Notifier interface {
	Notify(level Level, title, message string)
}

// NotifierFunc 函数适配
type NotifierFunc func(level Level, title, message string)

func (f NotifierFunc) Notify(level Level, title, message string) { f(level, title, message) }

// LogNotifier 把提示写进日志，没有界面时使用
type LogNotifier struct{}

func (LogNotifier) Notify(level Level, title, message string) {
	entry := logger.WithField("component", "notify").WithField("title", title)
	if level == LevelError {
		entry.Warn(message)
		return
	}
	entry.Info(message)
}

// 原始链上错误到提示文案的覆盖表，按顺序匹配（小写子串）
var txErrorOverrides = []struct {
	match   string
	message string
}{
	{"insufficient funds", "Insufficient balance for this order"},
	{"insufficient fee", "Transaction fee is too low"},
	{"out of gas", "Transaction ran out of gas"},
	{"account sequence mismatch", "Account sequence mismatch, please retry"},
	{"request rejected", "Transaction was rejected in the wallet"},
	{"user rejected", "Transaction was rejected in the wallet"},
	{"price below minimum", "Price is below the market minimum"},
	{"amount too low", "Amount is below the market minimum"},
	{"market not found", "Market does not exist"},
}

// TranslateTxError 把链上原始错误转换成用户可读的提示；没有匹配时原样返回
func TranslateTxError(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "Transaction failed"
	}
	lower := strings.ToLower(raw)
	for _, o := range txErrorOverrides {
		if strings.Contains(lower, o.match) {
			return o.message
		}
	}
	return raw
}
