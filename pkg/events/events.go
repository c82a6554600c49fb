// Package events 把节点推送的原始事件解析成领域事件。
//
// 解析永不报错：格式不对的消息得到空结果，缺失字段保持零值，由调用方按“可能不存在”处理。
package events

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/betbot/dexclient/pkg/transport"
)

// Attribute 事件属性（snake_case 原始键）
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Index bool   `json:"index"`
}

// RawEvent 节点推送中的单个事件
type RawEvent struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

type eventList struct {
	Events []RawEvent `json:"events"`
}

// result 推送消息的 result 部分，只声明需要的路径
type result struct {
	Query string `json:"query"`
	Data  struct {
		Type  string `json:"type"`
		Value struct {
			TxResult struct {
				Height string    `json:"height"`
				Result eventList `json:"result"`
			} `json:"TxResult"`
			FinalizeBlock *eventList `json:"result_finalize_block"`
			EndBlock      *eventList `json:"result_end_block"`
			Events        []RawEvent `json:"events"`
		} `json:"value"`
	} `json:"data"`
}

// ExtractEvents 从推送消息中取出事件列表。
// 交易事件在 data.value.TxResult.result.events；区块事件在
// result_finalize_block / result_end_block（旧版本节点）或 data.value.events。
func ExtractEvents(msg *transport.Message) []RawEvent {
	if msg == nil || len(msg.Result) == 0 {
		return nil
	}
	var r result
	if err := json.Unmarshal(msg.Result, &r); err != nil {
		return nil
	}

	v := r.Data.Value
	var out []RawEvent
	out = append(out, v.TxResult.Result.Events...)
	if v.FinalizeBlock != nil {
		out = append(out, v.FinalizeBlock.Events...)
	}
	if v.EndBlock != nil {
		out = append(out, v.EndBlock.Events...)
	}
	out = append(out, v.Events...)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Filter 按事件类型过滤
func Filter(evs []RawEvent, eventType string) []RawEvent {
	var out []RawEvent
	for _, e := range evs {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Flatten 把属性列表转成 camelCase 键值；带引号的值会去掉一层 JSON 引号。
// 重复的键以最后一个为准。
func Flatten(raw RawEvent) map[string]string {
	out := make(map[string]string, len(raw.Attributes))
	for _, a := range raw.Attributes {
		if a.Key == "" {
			continue
		}
		out[CamelCase(a.Key)] = unquote(a.Value)
	}
	return out
}

// CamelCase order_id -> orderId；已经是 camelCase 的键原样返回
func CamelCase(key string) string {
	if !strings.ContainsRune(key, '_') {
		return key
	}
	var b strings.Builder
	b.Grow(len(key))
	upper := false
	for _, r := range key {
		if r == '_' {
			upper = b.Len() > 0
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func unquote(v string) string {
	if len(v) < 2 || v[0] != '"' || v[len(v)-1] != '"' {
		return v
	}
	var s string
	if err := json.Unmarshal([]byte(v), &s); err != nil {
		return v
	}
	return s
}
