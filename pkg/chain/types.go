package chain

import (
	"strings"

	"github.com/betbot/dexclient/pkg/matching"
)

// Balance 账户余额（micro 单位）
type Balance struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// MarketInfo 链上市场定义
type MarketInfo struct {
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Creator string `json:"creator"`
}

// ID 市场 id：base/quote
func (m MarketInfo) ID() string {
	return MarketID(m.Base, m.Quote)
}

// MarketID 由 base/quote 拼出市场 id
func MarketID(base, quote string) string {
	return base + "/" + quote
}

// SplitMarketID 按最后一个 "/" 拆分。base 可以带 "/"（如 factory/...），quote 不能
func SplitMarketID(id string) (base, quote string, ok bool) {
	i := strings.LastIndex(id, "/")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// HistoryOrder 已成交记录
type HistoryOrder struct {
	MarketID   string        `json:"market_id"`
	OrderType  matching.Side `json:"order_type"`
	Amount     string        `json:"amount"`
	Price      string        `json:"price"`
	ExecutedAt string        `json:"executed_at"`
	Maker      string        `json:"maker"`
	Taker      string        `json:"taker"`
}

type aggregatedOrdersResponse struct {
	List []struct {
		MarketID  string        `json:"market_id"`
		OrderType matching.Side `json:"order_type"`
		Amount    string        `json:"amount"`
		Price     string        `json:"price"`
	} `json:"list"`
}

type marketResponse struct {
	Market MarketInfo `json:"market"`
}

type allMarketsResponse struct {
	Market []MarketInfo `json:"market"`
}

type balancesResponse struct {
	Balances []Balance `json:"balances"`
}

type historyResponse struct {
	List []HistoryOrder `json:"list"`
}

type moduleAccountResponse struct {
	Account struct {
		BaseAccount struct {
			Address string `json:"address"`
		} `json:"base_account"`
		Name string `json:"name"`
	} `json:"account"`
}

type denomUnit struct {
	Denom    string   `json:"denom"`
	Exponent int      `json:"exponent"`
	Aliases  []string `json:"aliases"`
}

type denomMetadataResponse struct {
	Metadata struct {
		Base       string      `json:"base"`
		Display    string      `json:"display"`
		DenomUnits []denomUnit `json:"denom_units"`
	} `json:"metadata"`
}

// exponent 展示单位的精度：display 对应的 unit，没有 display 则取最大 exponent
func (r denomMetadataResponse) exponent() int {
	best := 0
	for _, u := range r.Metadata.DenomUnits {
		if u.Denom == r.Metadata.Display && r.Metadata.Display != "" {
			return u.Exponent
		}
		if u.Exponent > best {
			best = u.Exponent
		}
	}
	return best
}
