package evm

import (
	"strings"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

const (
	TimeoutErrorMessage          = "context deadline exceeded"
	ConnectionRefusedMessage     = "connection refused"
	ConnectionResetMessage       = "connection reset"
	NonceTooLowMessage           = "nonce too low"
	ReplacementUnderpriced       = "replacement transaction underpriced"
	AlreadyKnownMessage          = "already known"
	InsufficientFundsMessage     = "insufficient funds"
	ExecutionRevertedMessage     = "execution reverted"
	TooManyRequestsMessage       = "429"
	HeaderNotFoundMessage        = "header not found"
	TransactionNotIndexedMessage = "transaction indexing is in progress"
)

var retryMessages = []string{
	TimeoutErrorMessage,
	ConnectionRefusedMessage,
	ConnectionResetMessage,
	NonceTooLowMessage,
	ReplacementUnderpriced,
	AlreadyKnownMessage,
	InsufficientFundsMessage,
	TooManyRequestsMessage,
	HeaderNotFoundMessage,
	TransactionNotIndexedMessage,
}

func isRetryError(err error) bool {
	if err == nil {
		return false
	}
	for _, msg := range retryMessages {
		if strings.Contains(err.Error(), msg) {
			return true
		}
	}
	return false
}

func isRevertError(err error) bool {
	return err != nil && strings.Contains(err.Error(), ExecutionRevertedMessage)
}

// classify wraps an RPC error with its kind. A revert is the contract refusing
// the call, anything else is worth another try.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isRevertError(err) && !isRetryError(err) {
		return types.Anomaly(op, err)
	}
	return types.Transient(op, err)
}
