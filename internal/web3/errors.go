package web3

import (
	"context"
	stdErrors "errors"
	"strings"

	xerrors "ALiFe-Chain/internal/errors"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// userRejectedCode is the EIP-1193 "user rejected request" error code.
const userRejectedCode = 4001

// ErrSignatureRejected is returned when the signer declines to sign.
var ErrSignatureRejected = xerrors.New(xerrors.CodeUserRejectedSignature, "user rejected the signature request")

// IsUserRejection reports whether err originates from a signer refusing to
// sign, either via the EIP-1193 error code or the wallet's message.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrSignatureRejected) {
		return true
	}
	var rpcErr gethrpc.Error
	if stdErrors.As(err, &rpcErr) && rpcErr.ErrorCode() == userRejectedCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "user rejected") || strings.Contains(msg, "user denied")
}

// IsOnChainFailure reports whether err describes a transaction the chain
// refused to execute rather than a transport problem.
func IsOnChainFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"execution reverted", "insufficient funds", "gas required exceeds", "nonce too low", "intrinsic gas too low"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ClassifyTxError maps a failed chain interaction to an error code. Signer
// refusals become USER_REJECTED_SIGNATURE, chain-side failures use
// failureCode and everything else (timeouts, transport) becomes
// EXTERNAL_PROVIDER_UNAVAILABLE. The step is recorded as metadata.
func ClassifyTxError(err error, failureCode xerrors.Code, step string, opts ...xerrors.Option) error {
	if err == nil {
		return nil
	}
	if xerrors.CodeOf(err) != xerrors.CodeUnknown {
		return err
	}
	opts = append([]xerrors.Option{xerrors.WithMetadata("step", step)}, opts...)
	switch {
	case IsUserRejection(err):
		return xerrors.Wrap(xerrors.CodeUserRejectedSignature, err, "签名请求被拒绝", opts...)
	case stdErrors.Is(err, context.DeadlineExceeded):
		opts = append(opts, xerrors.WithMetadata("reason", "timeout"))
		return xerrors.Wrap(xerrors.CodeExternalProviderUnavailable, err, "链上调用超时", opts...)
	case IsOnChainFailure(err):
		return xerrors.Wrap(failureCode, err, "链上交易失败", opts...)
	default:
		return xerrors.Wrap(xerrors.CodeExternalProviderUnavailable, err, "链节点不可用", opts...)
	}
}
