package derive

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
)

// spanBatchTx is the reduced transaction envelope stored inside a span batch:
// the fields that vary per transaction and are not packed columnar elsewhere.
type spanBatchTx struct {
	inner spanBatchTxData
}

type spanBatchTxData interface {
	txType() byte
}

type spanBatchLegacyTxData struct {
	Value    *big.Int
	GasPrice *big.Int
	Data     []byte
}

func (txData *spanBatchLegacyTxData) txType() byte { return types.LegacyTxType }

type spanBatchAccessListTxData struct {
	Value      *big.Int
	GasPrice   *big.Int
	Data       []byte
	AccessList types.AccessList
}

func (txData *spanBatchAccessListTxData) txType() byte { return types.AccessListTxType }

type spanBatchDynamicFeeTxData struct {
	Value      *big.Int
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	Data       []byte
	AccessList types.AccessList
}

func (txData *spanBatchDynamicFeeTxData) txType() byte { return types.DynamicFeeTxType }

// MarshalBinary encodes the reduced tx: legacy as plain RLP, typed txs as
// type byte plus RLP.
func (tx *spanBatchTx) MarshalBinary() ([]byte, error) {
	if tx.inner.txType() == types.LegacyTxType {
		return rlp.EncodeToBytes(tx.inner)
	}
	out := []byte{tx.inner.txType()}
	payload, err := rlp.EncodeToBytes(tx.inner)
	if err != nil {
		return nil, err
	}
	return append(out, payload...), nil
}

// UnmarshalBinary decodes the reduced tx encoding.
func (tx *spanBatchTx) UnmarshalBinary(b []byte) error {
	if len(b) == 0 {
		return errors.New("transaction data is empty")
	}
	if b[0] > 0x7f {
		// Legacy tx: the payload is an RLP list.
		var inner spanBatchLegacyTxData
		if err := rlp.DecodeBytes(b, &inner); err != nil {
			return fmt.Errorf("failed to decode spanBatchLegacyTxData: %w", err)
		}
		tx.inner = &inner
		return nil
	}
	switch b[0] {
	case types.AccessListTxType:
		var inner spanBatchAccessListTxData
		if err := rlp.DecodeBytes(b[1:], &inner); err != nil {
			return fmt.Errorf("failed to decode spanBatchAccessListTxData: %w", err)
		}
		tx.inner = &inner
	case types.DynamicFeeTxType:
		var inner spanBatchDynamicFeeTxData
		if err := rlp.DecodeBytes(b[1:], &inner); err != nil {
			return fmt.Errorf("failed to decode spanBatchDynamicFeeTxData: %w", err)
		}
		tx.inner = &inner
	default:
		return fmt.Errorf("unsupported tx type in span batch: %d", b[0])
	}
	return nil
}

// newSpanBatchTx strips a full transaction to its span-batch form.
func newSpanBatchTx(tx *types.Transaction) (*spanBatchTx, error) {
	var inner spanBatchTxData
	switch tx.Type() {
	case types.LegacyTxType:
		inner = &spanBatchLegacyTxData{
			Value:    tx.Value(),
			GasPrice: tx.GasPrice(),
			Data:     tx.Data(),
		}
	case types.AccessListTxType:
		inner = &spanBatchAccessListTxData{
			Value:      tx.Value(),
			GasPrice:   tx.GasPrice(),
			Data:       tx.Data(),
			AccessList: tx.AccessList(),
		}
	case types.DynamicFeeTxType:
		inner = &spanBatchDynamicFeeTxData{
			Value:      tx.Value(),
			GasTipCap:  tx.GasTipCap(),
			GasFeeCap:  tx.GasFeeCap(),
			Data:       tx.Data(),
			AccessList: tx.AccessList(),
		}
	default:
		return nil, fmt.Errorf("invalid transaction type in span batch: %d", tx.Type())
	}
	return &spanBatchTx{inner: inner}, nil
}

// convertToFullTx rebuilds the signed transaction from the reduced form plus
// the columnar fields.
func (tx *spanBatchTx) convertToFullTx(nonce, gas uint64, to *common.Address, chainID, v, r, s *big.Int) (*types.Transaction, error) {
	switch data := tx.inner.(type) {
	case *spanBatchLegacyTxData:
		return types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: data.GasPrice,
			Gas:      gas,
			To:       to,
			Value:    data.Value,
			Data:     data.Data,
			V:        v,
			R:        r,
			S:        s,
		}), nil
	case *spanBatchAccessListTxData:
		return types.NewTx(&types.AccessListTx{
			ChainID:    chainID,
			Nonce:      nonce,
			GasPrice:   data.GasPrice,
			Gas:        gas,
			To:         to,
			Value:      data.Value,
			Data:       data.Data,
			AccessList: data.AccessList,
			V:          v,
			R:          r,
			S:          s,
		}), nil
	case *spanBatchDynamicFeeTxData:
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:    chainID,
			Nonce:      nonce,
			GasTipCap:  data.GasTipCap,
			GasFeeCap:  data.GasFeeCap,
			Gas:        gas,
			To:         to,
			Value:      data.Value,
			Data:       data.Data,
			AccessList: data.AccessList,
			V:          v,
			R:          r,
			S:          s,
		}), nil
	default:
		return nil, fmt.Errorf("invalid span batch tx data type: %T", tx.inner)
	}
}
