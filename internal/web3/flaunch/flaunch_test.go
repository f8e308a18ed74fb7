package flaunch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"

	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

// fakeBackend 只实现只读调用；其余方法被调用时会因内嵌 nil 接口而 panic。
type fakeBackend struct {
	web3.Backend
	call func(msg gethcore.CallMsg) ([]byte, error)
}

func (f *fakeBackend) CallContract(_ context.Context, msg gethcore.CallMsg, _ *big.Int) ([]byte, error) {
	return f.call(msg)
}

type fakeClient struct {
	backend *fakeBackend
}

func (c *fakeClient) ChainID(context.Context) (*big.Int, error) { return big.NewInt(8453), nil }
func (c *fakeClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{}, nil
}
func (c *fakeClient) Backend() web3.Backend { return c.backend }
func (c *fakeClient) Close()                {}

var (
	launchpadAddr = common.HexToAddress("0x6A53F8b799bE11a2A3264eF0bfF183dCB12d9571")
	managerAddr   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	creatorAddr   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestBuildTokenURI(t *testing.T) {
	image := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	uri, err := BuildTokenURI("Nexus", "NEXUS", TokenMetadata{ImageBase64: image, Description: "an agent", TwitterURL: "https://x.com/nexus"})
	if err != nil {
		t.Fatalf("build uri: %v", err)
	}
	const prefix = "data:application/json;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("unexpected uri prefix: %s", uri)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		t.Fatalf("decode uri: %v", err)
	}
	var doc map[string]string
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if doc["name"] != "Nexus" || doc["symbol"] != "NEXUS" || doc["image"] != "data:image/png;base64,"+image {
		t.Fatalf("unexpected metadata: %v", doc)
	}
	if doc["twitterUrl"] != "https://x.com/nexus" {
		t.Fatalf("missing social link: %v", doc)
	}

	if _, err := BuildTokenURI("n", "s", TokenMetadata{ImageBase64: "%%%"}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := BuildTokenURI("n", "s", TokenMetadata{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for empty image, got %v", err)
	}
	if _, err := BuildTokenURI("n", "s", TokenMetadata{ImageBase64: "data:image/jpeg;base64,AAAA"}); err != nil {
		t.Fatalf("data uri image should pass through: %v", err)
	}
}

func poolCreatedLog(t *testing.T, memecoin common.Address, tokenID int64) *coretypes.Log {
	t.Helper()
	event := launchpadABI.Events["PoolCreated"]
	data, err := event.Inputs.NonIndexed().Pack(memecoin, common.HexToAddress("0x3333"), big.NewInt(tokenID), false, big.NewInt(0))
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	return &coretypes.Log{
		Address: launchpadAddr,
		Topics:  []common.Hash{event.ID, common.HexToHash("0xabc")},
		Data:    data,
	}
}

func TestParseLaunchReceipt(t *testing.T) {
	memecoin := common.HexToAddress("0x4444444444444444444444444444444444444444")
	receipt := &coretypes.Receipt{
		Status: coretypes.ReceiptStatusSuccessful,
		TxHash: common.HexToHash("0xfeed"),
		Logs: []*coretypes.Log{
			{Topics: []common.Hash{common.HexToHash("0x01")}},
			poolCreatedLog(t, memecoin, 7),
		},
	}
	result, err := parseLaunchReceipt(receipt)
	if err != nil {
		t.Fatalf("parse receipt: %v", err)
	}
	if result.TokenAddress != memecoin || result.TokenID.Int64() != 7 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.PoolID != common.HexToHash("0xabc") || result.TxHash != receipt.TxHash {
		t.Fatalf("unexpected ids: %+v", result)
	}
}

func TestParseLaunchReceiptFailures(t *testing.T) {
	reverted := &coretypes.Receipt{Status: coretypes.ReceiptStatusFailed, TxHash: common.HexToHash("0xdead")}
	_, err := parseLaunchReceipt(reverted)
	if xerrors.CodeOf(err) != xerrors.CodeTokenMintFailed {
		t.Fatalf("expected mint failure, got %v", err)
	}
	if xerrors.MetadataOf(err)["tx_hash"] != reverted.TxHash.Hex() {
		t.Fatalf("expected tx hash metadata: %v", xerrors.MetadataOf(err))
	}

	noEvent := &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful, TxHash: common.HexToHash("0xbeef")}
	if _, err := parseLaunchReceipt(noEvent); xerrors.CodeOf(err) != xerrors.CodeTokenMintFailed {
		t.Fatalf("expected mint failure without event, got %v", err)
	}
}

func TestMintValidatesBeforeCallingChain(t *testing.T) {
	client := &fakeClient{backend: &fakeBackend{call: func(gethcore.CallMsg) ([]byte, error) {
		t.Fatal("chain must not be called")
		return nil, nil
	}}}
	pad, err := NewLaunchpad(launchpadAddr, managerAddr, client)
	if err != nil {
		t.Fatalf("new launchpad: %v", err)
	}
	signer, _ := web3.NewKeySigner("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")

	cases := []LaunchRequest{
		{Symbol: "X", Creator: creatorAddr, Metadata: TokenMetadata{ImageBase64: "AAAA"}},
		{Name: "X", Symbol: "X", Metadata: TokenMetadata{ImageBase64: "AAAA"}},
		{Name: "X", Symbol: "X", Creator: creatorAddr, CreatorFeeAllocationPercent: 101, Metadata: TokenMetadata{ImageBase64: "AAAA"}},
		{Name: "X", Symbol: "X", Creator: creatorAddr},
	}
	for i, req := range cases {
		if _, err := pad.Mint(context.Background(), signer, req); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("case %d: expected invalid argument, got %v", i, err)
		}
	}
}

func TestMintRevertedFeeQuery(t *testing.T) {
	client := &fakeClient{backend: &fakeBackend{call: func(msg gethcore.CallMsg) ([]byte, error) {
		if !bytes.Equal(msg.Data[:4], launchpadABI.Methods["getFlaunchingFee"].ID) {
			t.Fatalf("unexpected selector %x", msg.Data[:4])
		}
		return nil, errors.New("execution reverted: launches paused")
	}}}
	pad, err := NewLaunchpad(launchpadAddr, managerAddr, client)
	if err != nil {
		t.Fatalf("new launchpad: %v", err)
	}
	signer, _ := web3.NewKeySigner("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	_, err = pad.Mint(context.Background(), signer, LaunchRequest{
		Name: "Nexus", Symbol: "NEXUS", Creator: creatorAddr,
		Metadata: TokenMetadata{ImageBase64: "AAAA"},
	})
	if xerrors.CodeOf(err) != xerrors.CodeTokenMintFailed {
		t.Fatalf("expected mint failure, got %v", err)
	}
}

func TestRevenueManagerBalance(t *testing.T) {
	method := revenueManagerABI.Methods["balances"]
	client := &fakeClient{backend: &fakeBackend{call: func(msg gethcore.CallMsg) ([]byte, error) {
		if *msg.To != managerAddr || !bytes.Equal(msg.Data[:4], method.ID) {
			t.Fatalf("unexpected call to %s with %x", msg.To, msg.Data)
		}
		args, err := method.Inputs.Unpack(msg.Data[4:])
		if err != nil || args[0].(common.Address) != creatorAddr {
			t.Fatalf("unexpected args %v err=%v", args, err)
		}
		return method.Outputs.Pack(big.NewInt(42))
	}}}
	manager, err := NewRevenueManager(managerAddr, client)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	balance, err := manager.Balance(context.Background(), creatorAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 42 {
		t.Fatalf("unexpected balance %s", balance)
	}
}

func TestRevenueManagerBalanceUnavailable(t *testing.T) {
	client := &fakeClient{backend: &fakeBackend{call: func(gethcore.CallMsg) ([]byte, error) {
		return nil, errors.New("connection refused")
	}}}
	manager, err := NewRevenueManager(managerAddr, client)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	_, err = manager.Balance(context.Background(), creatorAddr)
	if xerrors.CodeOf(err) != xerrors.CodeExternalProviderUnavailable {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	if _, err := manager.Claim(context.Background(), nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for nil signer, got %v", err)
	}
}

func TestRevenueManagerProtocolTerms(t *testing.T) {
	recipient := common.HexToAddress("0x3333333333333333333333333333333333333333")
	client := &fakeClient{backend: &fakeBackend{call: func(msg gethcore.CallMsg) ([]byte, error) {
		method, err := revenueManagerABI.MethodById(msg.Data[:4])
		if err != nil {
			t.Fatalf("unknown selector %x", msg.Data[:4])
		}
		switch method.Name {
		case "protocolFee":
			return method.Outputs.Pack(big.NewInt(3000))
		case "protocolRecipient":
			return method.Outputs.Pack(recipient)
		}
		t.Fatalf("unexpected call to %s", method.Name)
		return nil, nil
	}}}
	manager, err := NewRevenueManager(managerAddr, client)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	fee, err := manager.ProtocolFeeBps(context.Background())
	if err != nil || fee.Int64() != 3000 {
		t.Fatalf("protocol fee = %v err=%v", fee, err)
	}
	got, err := manager.ProtocolRecipient(context.Background())
	if err != nil || got != recipient {
		t.Fatalf("protocol recipient = %s err=%v", got.Hex(), err)
	}
}

func TestNewBindingsRequireAddress(t *testing.T) {
	client := &fakeClient{backend: &fakeBackend{}}
	if _, err := NewLaunchpad(common.Address{}, managerAddr, client); err == nil {
		t.Fatal("expected error for zero launchpad address")
	}
	if _, err := NewRevenueManager(managerAddr, nil); err == nil {
		t.Fatal("expected error for nil client")
	}
}
