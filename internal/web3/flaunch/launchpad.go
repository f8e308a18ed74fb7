package flaunch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"time"

	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	DefaultInitialMarketCapUSD         = 10_000
	DefaultCreatorFeeAllocationPercent = 80
	DefaultFairLaunchDuration          = 30 * time.Minute

	// usdDecimals 是发射合约使用的美元精度。
	usdDecimals = 6
)

// TokenMetadata 描述写入 tokenURI 的代币元数据。
type TokenMetadata struct {
	ImageBase64 string
	Description string
	WebsiteURL  string
	TwitterURL  string
	TelegramURL string
}

// LaunchRequest 是一次代币发射的链上参数。
type LaunchRequest struct {
	Name                        string
	Symbol                      string
	Creator                     common.Address
	Metadata                    TokenMetadata
	InitialMarketCapUSD         int64
	CreatorFeeAllocationPercent int
	FairLaunchDuration          time.Duration
}

// MintResult 描述成功发射的代币。
type MintResult struct {
	TxHash       common.Hash
	TokenAddress common.Address
	TokenID      *big.Int
	PoolID       common.Hash
	FlaunchFee   *big.Int
}

// Launchpad 封装发射合约，发射出的手续费 NFT 由收益管理合约托管。
type Launchpad struct {
	bound          boundContract
	revenueManager common.Address
}

// NewLaunchpad 绑定发射合约。revenueManager 为零地址时手续费 NFT 归创建者所有。
func NewLaunchpad(address, revenueManager common.Address, client web3.Client) (*Launchpad, error) {
	bound, err := newBoundContract(address, client, launchpadABI)
	if err != nil {
		return nil, err
	}
	return &Launchpad{bound: bound, revenueManager: revenueManager}, nil
}

// Address 返回发射合约地址。
func (l *Launchpad) Address() common.Address {
	return l.bound.address
}

// RevenueManager 返回托管手续费 NFT 的收益管理合约地址。
func (l *Launchpad) RevenueManager() common.Address {
	return l.revenueManager
}

// LaunchFee 查询发射所需支付的费用。
func (l *Launchpad) LaunchFee(ctx context.Context, initialMarketCapUSD int64) (*big.Int, error) {
	fee, err := l.bound.callBig(ctx, "getFlaunchingFee", usdAmount(initialMarketCapUSD))
	if err != nil {
		return nil, web3.ClassifyTxError(err, xerrors.CodeTokenMintFailed, "mint")
	}
	return fee, nil
}

// Mint 发送发射交易并等待回执，从 PoolCreated 事件中解析代币地址。
func (l *Launchpad) Mint(ctx context.Context, signer web3.Signer, req LaunchRequest) (*MintResult, error) {
	req.applyDefaults()
	if err := req.validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供交易签名器")
	}

	tokenURI, err := BuildTokenURI(req.Name, req.Symbol, req.Metadata)
	if err != nil {
		return nil, err
	}

	fee, err := l.LaunchFee(ctx, req.InitialMarketCapUSD)
	if err != nil {
		return nil, err
	}

	tx, receipt, err := l.bound.transact(ctx, signer, fee, "launch",
		req.Name,
		req.Symbol,
		tokenURI,
		req.Creator,
		big.NewInt(int64(req.CreatorFeeAllocationPercent)*100),
		big.NewInt(int64(req.FairLaunchDuration/time.Second)),
		usdAmount(req.InitialMarketCapUSD),
		l.revenueManager,
	)
	if err != nil {
		var opts []xerrors.Option
		if tx != nil {
			opts = append(opts, xerrors.WithMetadata("tx_hash", tx.Hash().Hex()))
		}
		return nil, web3.ClassifyTxError(err, xerrors.CodeTokenMintFailed, "mint", opts...)
	}
	return parseLaunchReceipt(receipt)
}

func parseLaunchReceipt(receipt *coretypes.Receipt) (*MintResult, error) {
	txHash := receipt.TxHash.Hex()
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, xerrors.New(xerrors.CodeTokenMintFailed, "发射交易执行失败",
			xerrors.WithMetadata("step", "mint"),
			xerrors.WithMetadata("tx_hash", txHash))
	}

	event := launchpadABI.Events["PoolCreated"]
	for _, log := range receipt.Logs {
		if log == nil || len(log.Topics) < 2 || log.Topics[0] != event.ID {
			continue
		}
		values, err := launchpadABI.Unpack("PoolCreated", log.Data)
		if err != nil || len(values) != 5 {
			return nil, xerrors.Wrap(xerrors.CodeTokenMintFailed, err, "解析 PoolCreated 事件失败",
				xerrors.WithMetadata("step", "mint"),
				xerrors.WithMetadata("tx_hash", txHash))
		}
		memecoin, _ := values[0].(common.Address)
		tokenID, _ := values[2].(*big.Int)
		fee, _ := values[4].(*big.Int)
		return &MintResult{
			TxHash:       receipt.TxHash,
			TokenAddress: memecoin,
			TokenID:      tokenID,
			PoolID:       log.Topics[1],
			FlaunchFee:   fee,
		}, nil
	}
	return nil, xerrors.New(xerrors.CodeTokenMintFailed, "回执中未找到 PoolCreated 事件",
		xerrors.WithMetadata("step", "mint"),
		xerrors.WithMetadata("tx_hash", txHash))
}

func (r *LaunchRequest) applyDefaults() {
	if r.InitialMarketCapUSD == 0 {
		r.InitialMarketCapUSD = DefaultInitialMarketCapUSD
	}
	if r.CreatorFeeAllocationPercent == 0 {
		r.CreatorFeeAllocationPercent = DefaultCreatorFeeAllocationPercent
	}
	if r.FairLaunchDuration == 0 {
		r.FairLaunchDuration = DefaultFairLaunchDuration
	}
}

func (r LaunchRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Symbol) == "":
		return xerrors.New(xerrors.CodeInvalidArgument, "代币名称与符号不能为空")
	case r.Creator == (common.Address{}):
		return xerrors.New(xerrors.CodeInvalidArgument, "创建者地址不能为空")
	case r.InitialMarketCapUSD < 0 || r.FairLaunchDuration < 0:
		return xerrors.New(xerrors.CodeInvalidArgument, "市值与公平发射时长必须为正数")
	case r.CreatorFeeAllocationPercent < 0 || r.CreatorFeeAllocationPercent > 100:
		return xerrors.New(xerrors.CodeInvalidArgument, "创建者手续费比例必须在 0 到 100 之间")
	}
	return nil
}

func usdAmount(usd int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(usd), new(big.Int).Exp(big.NewInt(10), big.NewInt(usdDecimals), nil))
}

type tokenMetadataDocument struct {
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image"`
	WebsiteURL  string `json:"websiteUrl,omitempty"`
	TwitterURL  string `json:"twitterUrl,omitempty"`
	TelegramURL string `json:"telegramUrl,omitempty"`
}

// BuildTokenURI 将元数据编码为 data URI，图片以 base64 内联。
func BuildTokenURI(name, symbol string, meta TokenMetadata) (string, error) {
	image := strings.TrimSpace(meta.ImageBase64)
	if image == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "代币图片不能为空")
	}
	if !strings.HasPrefix(image, "data:") {
		if _, err := base64.StdEncoding.DecodeString(image); err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "代币图片必须是 base64 编码")
		}
		image = "data:image/png;base64," + image
	}

	doc, err := json.Marshal(tokenMetadataDocument{
		Name:        name,
		Symbol:      symbol,
		Description: meta.Description,
		Image:       image,
		WebsiteURL:  meta.WebsiteURL,
		TwitterURL:  meta.TwitterURL,
		TelegramURL: meta.TelegramURL,
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码代币元数据失败")
	}
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(doc), nil
}
