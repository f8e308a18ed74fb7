package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"ALiFe-Chain/internal/agent"
	xerrors "ALiFe-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// Kind 是事件类型标签。
type Kind string

const (
	KindHeartbeat   Kind = "heartbeat"
	KindEarning     Kind = "earning"
	KindExpense     Kind = "expense"
	KindError       Kind = "error"
	KindDeath       Kind = "death"
	KindReplication Kind = "replication"
)

// Envelope 是 webhook 请求体。
type Envelope struct {
	SandboxID string          `json:"sandbox_id"`
	Event     Kind            `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// Event 是解码后的事件。
type Event interface {
	Kind() Kind
	// Payload 返回原始数据，写入日志元数据。
	Payload() map[string]any
}

type payload map[string]any

func (p payload) Payload() map[string]any { return p }

// HeartbeatEvent 上报余额，可选携带生存等级与钱包地址。
type HeartbeatEvent struct {
	payload
	CreditBalance float64
	SurvivalTier  agent.SurvivalTier
	WalletAddress string
}

// EarningEvent 是一笔收入。
type EarningEvent struct {
	payload
	Amount      float64
	Source      string
	Description string
	TxHash      string
}

// ExpenseEvent 是一笔支出。
type ExpenseEvent struct {
	payload
	Amount      float64
	Category    string
	Description string
	TxHash      string
}

// ErrorEvent 是智能体上报的错误。
type ErrorEvent struct {
	payload
	Message string
}

// DeathEvent 表示智能体死亡。
type DeathEvent struct {
	payload
	Reason string
}

// ReplicationEvent 表示智能体派生了子代。
type ReplicationEvent struct {
	payload
	ChildrenCount int
	ChildName     string
}

func (HeartbeatEvent) Kind() Kind   { return KindHeartbeat }
func (EarningEvent) Kind() Kind     { return KindEarning }
func (ExpenseEvent) Kind() Kind     { return KindExpense }
func (ErrorEvent) Kind() Kind       { return KindError }
func (DeathEvent) Kind() Kind       { return KindDeath }
func (ReplicationEvent) Kind() Kind { return KindReplication }

// heartbeatData 等结构使用指针区分缺失字段与零值。
type heartbeatData struct {
	CreditBalance *float64 `json:"credit_balance"`
	SurvivalTier  string   `json:"survival_tier"`
	WalletAddress string   `json:"wallet_address"`
}

type ledgerData struct {
	Amount      *float64 `json:"amount"`
	Source      string   `json:"source"`
	Category    string   `json:"category"`
	Description string   `json:"description"`
	TxHash      string   `json:"tx_hash"`
}

type errorData struct {
	Message string `json:"message"`
}

type deathData struct {
	Reason string `json:"reason"`
}

type replicationData struct {
	ChildrenCount *int   `json:"children_count"`
	ChildName     string `json:"child_name"`
}

// Decode 校验信封并按事件类型解码数据。
func Decode(env Envelope) (Event, error) {
	if strings.TrimSpace(env.SandboxID) == "" || strings.TrimSpace(string(env.Event)) == "" {
		return nil, invalidPayload("缺少 sandbox_id 或 event")
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	var raw payload
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidPayload, err, "data 必须是 JSON 对象", xerrors.WithMetadata("event", string(env.Event)))
	}

	switch env.Event {
	case KindHeartbeat:
		var d heartbeatData
		if err := decodeFields(data, &d); err != nil {
			return nil, err
		}
		if d.CreditBalance == nil {
			return nil, missing(env.Event, "credit_balance")
		}
		event := HeartbeatEvent{payload: raw, CreditBalance: *d.CreditBalance, WalletAddress: strings.TrimSpace(d.WalletAddress)}
		if tier := strings.TrimSpace(d.SurvivalTier); tier != "" {
			event.SurvivalTier = agent.SurvivalTier(tier)
			if !agent.IsValidTier(event.SurvivalTier) || event.SurvivalTier == agent.TierDead {
				return nil, invalidPayload(fmt.Sprintf("心跳不能设置生存等级 %q", tier))
			}
		}
		if event.WalletAddress != "" && !common.IsHexAddress(event.WalletAddress) {
			return nil, invalidPayload("wallet_address 不是合法地址")
		}
		return event, nil

	case KindEarning:
		var d ledgerData
		if err := decodeFields(data, &d); err != nil {
			return nil, err
		}
		if d.Amount == nil {
			return nil, missing(env.Event, "amount")
		}
		if strings.TrimSpace(d.Source) == "" {
			return nil, missing(env.Event, "source")
		}
		return EarningEvent{payload: raw, Amount: *d.Amount, Source: d.Source, Description: d.Description, TxHash: d.TxHash}, nil

	case KindExpense:
		var d ledgerData
		if err := decodeFields(data, &d); err != nil {
			return nil, err
		}
		if d.Amount == nil {
			return nil, missing(env.Event, "amount")
		}
		if strings.TrimSpace(d.Category) == "" {
			return nil, missing(env.Event, "category")
		}
		return ExpenseEvent{payload: raw, Amount: *d.Amount, Category: d.Category, Description: d.Description, TxHash: d.TxHash}, nil

	case KindError:
		var d errorData
		if err := decodeFields(data, &d); err != nil {
			return nil, err
		}
		if strings.TrimSpace(d.Message) == "" {
			return nil, missing(env.Event, "message")
		}
		return ErrorEvent{payload: raw, Message: d.Message}, nil

	case KindDeath:
		var d deathData
		if err := decodeFields(data, &d); err != nil {
			return nil, err
		}
		return DeathEvent{payload: raw, Reason: d.Reason}, nil

	case KindReplication:
		var d replicationData
		if err := decodeFields(data, &d); err != nil {
			return nil, err
		}
		if d.ChildrenCount == nil {
			return nil, missing(env.Event, "children_count")
		}
		if *d.ChildrenCount < 0 {
			return nil, invalidPayload("children_count 不能为负数")
		}
		if strings.TrimSpace(d.ChildName) == "" {
			return nil, missing(env.Event, "child_name")
		}
		return ReplicationEvent{payload: raw, ChildrenCount: *d.ChildrenCount, ChildName: d.ChildName}, nil
	}
	return nil, invalidPayload(fmt.Sprintf("未知的事件类型 %q", env.Event))
}

// decodeFields 只校验已知字段的类型，额外字段保留在 payload 中。
func decodeFields(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidPayload, err, "事件字段类型错误")
	}
	return nil
}

func missing(kind Kind, field string) error {
	return xerrors.New(xerrors.CodeInvalidPayload, fmt.Sprintf("%s 事件缺少 %s", kind, field),
		xerrors.WithMetadata("event", string(kind)), xerrors.WithMetadata("field", field))
}

func invalidPayload(message string) error {
	return xerrors.New(xerrors.CodeInvalidPayload, message)
}
