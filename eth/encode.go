package eth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// EncodeTransactions marshals a list of transactions to opaque binary form,
// the order-preserving representation used in tries and payloads.
func EncodeTransactions(elems []*types.Transaction) ([]hexutil.Bytes, error) {
	out := make([]hexutil.Bytes, len(elems))
	for i, el := range elems {
		data, err := el.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode tx %d: %w", i, err)
		}
		out[i] = data
	}
	return out, nil
}

// DecodeTransactions unmarshals opaque transactions.
func DecodeTransactions(data []hexutil.Bytes) ([]*types.Transaction, error) {
	dest := make([]*types.Transaction, len(data))
	for i := range data {
		var x types.Transaction
		if err := x.UnmarshalBinary(data[i]); err != nil {
			return nil, fmt.Errorf("failed to decode tx %d: %w", i, err)
		}
		dest[i] = &x
	}
	return dest, nil
}

// EncodeReceipts marshals a list of receipts to their consensus encoding.
func EncodeReceipts(elems types.Receipts) ([]hexutil.Bytes, error) {
	out := make([]hexutil.Bytes, len(elems))
	for i, el := range elems {
		data, err := el.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("failed to encode receipt %d: %w", i, err)
		}
		out[i] = data
	}
	return out, nil
}

// DecodeRawReceipts unmarshals consensus-encoded receipts, deriving no
// contextual fields; the program only needs logs and status.
func DecodeRawReceipts(data []hexutil.Bytes) (types.Receipts, error) {
	result := make(types.Receipts, len(data))
	for i := range data {
		var x types.Receipt
		if err := x.UnmarshalBinary(data[i]); err != nil {
			return nil, fmt.Errorf("failed to decode receipt %d: %w", i, err)
		}
		result[i] = &x
	}
	return result, nil
}
