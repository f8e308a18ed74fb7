package feeclaim

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	xerrors "ALiFe-Chain/internal/errors"
	"ALiFe-Chain/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

type stubSource struct {
	balance    *big.Int
	balanceErr error
	claimErr   error
	claims     int
	deadline   bool
	feeBps     *big.Int
	feeErr     error
}

func (s *stubSource) ProtocolFeeBps(ctx context.Context) (*big.Int, error) {
	_, s.deadline = ctx.Deadline()
	return s.feeBps, s.feeErr
}

func (s *stubSource) ProtocolRecipient(context.Context) (common.Address, error) {
	return common.HexToAddress("0x3333333333333333333333333333333333333333"), nil
}

func (s *stubSource) Balance(ctx context.Context, _ common.Address) (*big.Int, error) {
	_, s.deadline = ctx.Deadline()
	return s.balance, s.balanceErr
}

func (s *stubSource) Claim(context.Context, web3.Signer) (common.Hash, error) {
	s.claims++
	if s.claimErr != nil {
		return common.Hash{}, s.claimErr
	}
	return common.HexToHash("0xc1a1"), nil
}

type countingRecorder map[string]int

func (r countingRecorder) ObserveFeeClaim(outcome string) { r[outcome]++ }

func testSigner(t *testing.T) web3.Signer {
	t.Helper()
	signer, err := web3.NewKeySigner("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return signer
}

func TestClaimNothingToClaim(t *testing.T) {
	source := &stubSource{balance: big.NewInt(0)}
	recorder := countingRecorder{}
	gateway := NewGateway(source, WithRecorder(recorder))

	_, err := gateway.Claim(context.Background(), testSigner(t))
	if !errors.Is(err, ErrNothingToClaim) {
		t.Fatalf("expected nothing to claim, got %v", err)
	}
	if source.claims != 0 {
		t.Fatalf("claim must not be sent, got %d", source.claims)
	}
	if recorder["nothing"] != 1 {
		t.Fatalf("unexpected recorder state: %v", recorder)
	}
}

func TestClaimSucceeds(t *testing.T) {
	source := &stubSource{balance: big.NewInt(1_000)}
	gateway := NewGateway(source, WithTimeout(time.Second))

	hash, err := gateway.Claim(context.Background(), testSigner(t))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if hash != common.HexToHash("0xc1a1") || source.claims != 1 {
		t.Fatalf("unexpected claim result %s after %d claims", hash, source.claims)
	}
	if !source.deadline {
		t.Fatal("balance read must run under a deadline")
	}
}

func TestClaimFailureIsNotRetried(t *testing.T) {
	failure := xerrors.New(xerrors.CodeExternalProviderUnavailable, "reverted")
	source := &stubSource{balance: big.NewInt(5), claimErr: failure}
	gateway := NewGateway(source)

	_, err := gateway.Claim(context.Background(), testSigner(t))
	if !errors.Is(err, failure) {
		t.Fatalf("expected failure to surface verbatim, got %v", err)
	}
	if source.claims != 1 {
		t.Fatalf("expected a single attempt, got %d", source.claims)
	}
}

func TestGetClaimable(t *testing.T) {
	gateway := NewGateway(&stubSource{balance: big.NewInt(9)})
	if _, err := gateway.GetClaimable(context.Background(), common.Address{}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	balance, err := gateway.GetClaimable(context.Background(), common.HexToAddress("0x01"))
	if err != nil || balance.Int64() != 9 {
		t.Fatalf("unexpected balance %v err=%v", balance, err)
	}
	if _, err := gateway.Claim(context.Background(), nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for nil signer, got %v", err)
	}
}

func TestProtocolTerms(t *testing.T) {
	source := &stubSource{feeBps: big.NewInt(3000)}
	terms, err := NewGateway(source).Protocol(context.Background())
	if err != nil {
		t.Fatalf("protocol: %v", err)
	}
	if terms.FeeBps.Int64() != 3000 || terms.Recipient != common.HexToAddress("0x3333333333333333333333333333333333333333") {
		t.Fatalf("unexpected terms: %+v", terms)
	}
	if !source.deadline {
		t.Fatal("protocol read must be bounded by the call timeout")
	}

	failing := &stubSource{feeErr: xerrors.New(xerrors.CodeExternalProviderUnavailable, "rpc down")}
	if _, err := NewGateway(failing).Protocol(context.Background()); xerrors.CodeOf(err) != xerrors.CodeExternalProviderUnavailable {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
}
