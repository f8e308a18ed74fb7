package launch

import (
	"encoding/base64"
	"strings"
	"time"

	"ALiFe-Chain/internal/agent"
	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/web3/flaunch"

	"github.com/ethereum/go-ethereum/common"
)

// Params 是一次发射的输入。
type Params struct {
	CreatorAddress string `json:"creator_address"`
	CreatorID      string `json:"creator_id"`
	Name           string `json:"name"`
	Ticker         string `json:"ticker"`
	Description    string `json:"description"`
	GenesisPrompt  string `json:"genesis_prompt"`
	Model          string `json:"model,omitempty"`

	ImageBase64                 string `json:"image_base64,omitempty"`
	InitialMarketCapUSD         int64  `json:"initial_market_cap_usd,omitempty"`
	CreatorFeeAllocationPercent int    `json:"creator_fee_allocation_percent,omitempty"`
	FairLaunchDurationSeconds   int64  `json:"fair_launch_duration_seconds,omitempty"`

	WebsiteURL  string `json:"website_url,omitempty"`
	TwitterURL  string `json:"twitter_url,omitempty"`
	TelegramURL string `json:"telegram_url,omitempty"`
}

// Normalize 填充默认值并校验输入，任何外部调用之前执行。
func (p *Params) Normalize() error {
	p.CreatorAddress = strings.TrimSpace(p.CreatorAddress)
	p.CreatorID = strings.TrimSpace(p.CreatorID)
	p.Name = strings.TrimSpace(p.Name)
	p.Ticker = agent.NormalizeTicker(p.Ticker)
	p.ImageBase64 = strings.TrimSpace(p.ImageBase64)

	if p.InitialMarketCapUSD == 0 {
		p.InitialMarketCapUSD = flaunch.DefaultInitialMarketCapUSD
	}
	if p.CreatorFeeAllocationPercent == 0 {
		p.CreatorFeeAllocationPercent = flaunch.DefaultCreatorFeeAllocationPercent
	}
	if p.FairLaunchDurationSeconds == 0 {
		p.FairLaunchDurationSeconds = int64(flaunch.DefaultFairLaunchDuration / time.Second)
	}
	if strings.TrimSpace(p.Model) == "" {
		p.Model = agent.DefaultModel
	}

	switch {
	case !common.IsHexAddress(p.CreatorAddress):
		return invalid("creator_address 必须是合法的以太坊地址")
	case p.CreatorID == "":
		return invalid("creator_id 不能为空")
	case p.Name == "":
		return invalid("name 不能为空")
	case agent.Symbol(p.Ticker) == "":
		return invalid("ticker 不能为空")
	case strings.TrimSpace(p.Description) == "":
		return invalid("description 不能为空")
	case strings.TrimSpace(p.GenesisPrompt) == "":
		return invalid("genesis_prompt 不能为空")
	case p.ImageBase64 == "":
		return invalid("image 不能为空")
	case p.InitialMarketCapUSD < 0:
		return invalid("initial_market_cap_usd 必须为正数")
	case p.CreatorFeeAllocationPercent < 0 || p.CreatorFeeAllocationPercent > 100:
		return invalid("creator_fee_allocation_percent 必须在 1 到 100 之间")
	case p.FairLaunchDurationSeconds < 0:
		return invalid("fair_launch_duration_seconds 必须为正数")
	}
	if !strings.HasPrefix(p.ImageBase64, "data:") {
		if _, err := base64.StdEncoding.DecodeString(p.ImageBase64); err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "image 必须是 base64 编码")
		}
	}
	return nil
}

func (p Params) launchRequest() flaunch.LaunchRequest {
	return flaunch.LaunchRequest{
		Name:    p.Name,
		Symbol:  agent.Symbol(p.Ticker),
		Creator: common.HexToAddress(p.CreatorAddress),
		Metadata: flaunch.TokenMetadata{
			ImageBase64: p.ImageBase64,
			Description: p.Description,
			WebsiteURL:  p.WebsiteURL,
			TwitterURL:  p.TwitterURL,
			TelegramURL: p.TelegramURL,
		},
		InitialMarketCapUSD:         p.InitialMarketCapUSD,
		CreatorFeeAllocationPercent: p.CreatorFeeAllocationPercent,
		FairLaunchDuration:          time.Duration(p.FairLaunchDurationSeconds) * time.Second,
	}
}

func invalid(message string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, message)
}
