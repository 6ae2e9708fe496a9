package derive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

const (
	L1InfoFuncBedrockSignature = "setL1BlockValues(uint64,uint64,uint256,bytes32,uint64,bytes32,uint256,uint256)"
	L1InfoFuncEcotoneSignature = "setL1BlockValuesEcotone()"
	L1InfoArguments            = 8
	L1InfoBedrockLen           = 4 + 32*L1InfoArguments
	L1InfoEcotoneLen           = 4 + 32*5 // after Ecotone upgrade, args are packed into 5 32-byte slots
)

var (
	L1InfoFuncBedrockBytes4 = crypto.Keccak256([]byte(L1InfoFuncBedrockSignature))[:4]
	L1InfoFuncEcotoneBytes4 = crypto.Keccak256([]byte(L1InfoFuncEcotoneSignature))[:4]
	L1InfoDepositerAddress  = common.HexToAddress("0xdeaddeaddeaddeaddeaddeaddeaddeaddead0001")
	L1BlockAddress          = common.HexToAddress("0x4200000000000000000000000000000000000015")
	ErrInvalidFormat        = errors.New("invalid ecotone l1 block info format")
)

const (
	RegolithSystemTxGas = 1_000_000
)

// L1BlockInfo presents the information stored in a L1Block.setL1BlockValues call.
type L1BlockInfo struct {
	Number    uint64
	Time      uint64
	BaseFee   *big.Int
	BlockHash common.Hash
	// Not strictly a piece of L1 information. Represents the number of L2 blocks
	// since the start of the epoch, i.e. when the actual L1 info was first introduced.
	SequenceNumber uint64
	// BatcherAddr version 0 is just the address with 0 padding to the left.
	BatcherAddr common.Address

	L1FeeOverhead eth.Bytes32 // ignored after Ecotone upgrade
	L1FeeScalar   eth.Bytes32 // ignored after Ecotone upgrade

	BlobBaseFee       *big.Int // added by Ecotone upgrade
	BaseFeeScalar     uint32   // added by Ecotone upgrade
	BlobBaseFeeScalar uint32   // added by Ecotone upgrade
}

// Bedrock Binary Format
//
//	+---------+--------------------------+
//	| Bytes   | Field                    |
//	+---------+--------------------------+
//	| 4       | Function signature       |
//	| 32      | Number                   |
//	| 32      | Time                     |
//	| 32      | BaseFee                  |
//	| 32      | BlockHash                |
//	| 32      | SequenceNumber           |
//	| 32      | BatcherAddr              |
//	| 32      | L1FeeOverhead            |
//	| 32      | L1FeeScalar              |
//	+---------+--------------------------+
func (info *L1BlockInfo) marshalBinaryBedrock() ([]byte, error) {
	w := bytes.NewBuffer(make([]byte, 0, L1InfoBedrockLen))
	w.Write(L1InfoFuncBedrockBytes4)
	writePaddedUint64(w, info.Number)
	writePaddedUint64(w, info.Time)
	if err := writeUint256(w, info.BaseFee); err != nil {
		return nil, err
	}
	w.Write(info.BlockHash.Bytes())
	writePaddedUint64(w, info.SequenceNumber)
	w.Write(common.LeftPadBytes(info.BatcherAddr.Bytes(), 32))
	w.Write(info.L1FeeOverhead[:])
	w.Write(info.L1FeeScalar[:])
	return w.Bytes(), nil
}

func (info *L1BlockInfo) unmarshalBinaryBedrock(data []byte) error {
	if len(data) != L1InfoBedrockLen {
		return fmt.Errorf("data is unexpected length: %d", len(data))
	}
	if !bytes.Equal(data[:4], L1InfoFuncBedrockBytes4) {
		return errors.New("data does not match bedrock L1 info function signature")
	}
	offset := 4
	var err error
	if info.Number, err = readPaddedUint64(data[offset : offset+32]); err != nil {
		return err
	}
	offset += 32
	if info.Time, err = readPaddedUint64(data[offset : offset+32]); err != nil {
		return err
	}
	offset += 32
	info.BaseFee = new(big.Int).SetBytes(data[offset : offset+32])
	offset += 32
	info.BlockHash = common.BytesToHash(data[offset : offset+32])
	offset += 32
	if info.SequenceNumber, err = readPaddedUint64(data[offset : offset+32]); err != nil {
		return err
	}
	offset += 32
	info.BatcherAddr = common.BytesToAddress(data[offset+12 : offset+32])
	offset += 32
	copy(info.L1FeeOverhead[:], data[offset:offset+32])
	offset += 32
	copy(info.L1FeeScalar[:], data[offset:offset+32])
	return nil
}

// Ecotone Binary Format
//
//	+---------+--------------------------+
//	| Bytes   | Field                    |
//	+---------+--------------------------+
//	| 4       | Function signature       |
//	| 4       | BaseFeeScalar            |
//	| 4       | BlobBaseFeeScalar        |
//	| 8       | SequenceNumber           |
//	| 8       | Timestamp                |
//	| 8       | L1BlockNumber            |
//	| 32      | BaseFee                  |
//	| 32      | BlobBaseFee              |
//	| 32      | BlockHash                |
//	| 32      | BatcherAddr              |
//	+---------+--------------------------+
func (info *L1BlockInfo) marshalBinaryEcotone() ([]byte, error) {
	w := bytes.NewBuffer(make([]byte, 0, L1InfoEcotoneLen))
	w.Write(L1InfoFuncEcotoneBytes4)
	_ = binary.Write(w, binary.BigEndian, info.BaseFeeScalar)
	_ = binary.Write(w, binary.BigEndian, info.BlobBaseFeeScalar)
	_ = binary.Write(w, binary.BigEndian, info.SequenceNumber)
	_ = binary.Write(w, binary.BigEndian, info.Time)
	_ = binary.Write(w, binary.BigEndian, info.Number)
	if err := writeUint256(w, info.BaseFee); err != nil {
		return nil, err
	}
	blobBaseFee := info.BlobBaseFee
	if blobBaseFee == nil {
		blobBaseFee = big.NewInt(1)
	}
	if err := writeUint256(w, blobBaseFee); err != nil {
		return nil, err
	}
	w.Write(info.BlockHash.Bytes())
	w.Write(common.LeftPadBytes(info.BatcherAddr.Bytes(), 32))
	return w.Bytes(), nil
}

func (info *L1BlockInfo) unmarshalBinaryEcotone(data []byte) error {
	if len(data) != L1InfoEcotoneLen {
		return fmt.Errorf("%w: unexpected length %d", ErrInvalidFormat, len(data))
	}
	if !bytes.Equal(data[:4], L1InfoFuncEcotoneBytes4) {
		return fmt.Errorf("%w: function signature mismatch", ErrInvalidFormat)
	}
	r := bytes.NewReader(data[4:])
	if err := binary.Read(r, binary.BigEndian, &info.BaseFeeScalar); err != nil {
		return ErrInvalidFormat
	}
	if err := binary.Read(r, binary.BigEndian, &info.BlobBaseFeeScalar); err != nil {
		return ErrInvalidFormat
	}
	if err := binary.Read(r, binary.BigEndian, &info.SequenceNumber); err != nil {
		return ErrInvalidFormat
	}
	if err := binary.Read(r, binary.BigEndian, &info.Time); err != nil {
		return ErrInvalidFormat
	}
	if err := binary.Read(r, binary.BigEndian, &info.Number); err != nil {
		return ErrInvalidFormat
	}
	baseFee := make([]byte, 32)
	if _, err := r.Read(baseFee); err != nil {
		return ErrInvalidFormat
	}
	info.BaseFee = new(big.Int).SetBytes(baseFee)
	blobBaseFee := make([]byte, 32)
	if _, err := r.Read(blobBaseFee); err != nil {
		return ErrInvalidFormat
	}
	info.BlobBaseFee = new(big.Int).SetBytes(blobBaseFee)
	blockHash := make([]byte, 32)
	if _, err := r.Read(blockHash); err != nil {
		return ErrInvalidFormat
	}
	info.BlockHash = common.BytesToHash(blockHash)
	batcherAddr := make([]byte, 32)
	if _, err := r.Read(batcherAddr); err != nil {
		return ErrInvalidFormat
	}
	info.BatcherAddr = common.BytesToAddress(batcherAddr[12:])
	return nil
}

// L1BlockInfoFromBytes parses either info-tx encoding, selected by the
// activation time of the L2 block the tx belongs to.
func L1BlockInfoFromBytes(rollupCfg *rollup.Config, l2BlockTime uint64, data []byte) (*L1BlockInfo, error) {
	var info L1BlockInfo
	// The first Ecotone block still carries a Bedrock-format info tx.
	if rollupCfg.IsEcotone(l2BlockTime) && !rollupCfg.IsEcotoneActivationBlock(l2BlockTime) {
		return &info, info.unmarshalBinaryEcotone(data)
	}
	return &info, info.unmarshalBinaryBedrock(data)
}

// ecotoneScalars unpacks the versioned fee-scalar encoding of the system config.
func ecotoneScalars(sysCfg eth.SystemConfig) (baseFeeScalar, blobBaseFeeScalar uint32) {
	if sysCfg.Scalar[0] == 1 {
		blobBaseFeeScalar = binary.BigEndian.Uint32(sysCfg.Scalar[24:28])
	}
	baseFeeScalar = binary.BigEndian.Uint32(sysCfg.Scalar[28:32])
	return
}

// L1InfoDeposit creates the L1-info deposit transaction based on the L1 block
// and the L2 block-height difference with the start of the epoch.
func L1InfoDeposit(rollupCfg *rollup.Config, sysCfg eth.SystemConfig, seqNumber uint64, block eth.BlockInfo, l2BlockTime uint64) (*types.DepositTx, error) {
	l1BlockInfo := L1BlockInfo{
		Number:         block.NumberU64(),
		Time:           block.Time(),
		BaseFee:        block.BaseFee(),
		BlockHash:      block.Hash(),
		SequenceNumber: seqNumber,
		BatcherAddr:    sysCfg.BatcherAddr,
	}
	var data []byte
	if isEcotoneButNotFirstBlock(rollupCfg, l2BlockTime) {
		l1BlockInfo.BlobBaseFee = block.BlobBaseFee()
		if l1BlockInfo.BlobBaseFee == nil {
			// The L1 block may predate Dencun; the protocol minimum blob base fee is 1.
			l1BlockInfo.BlobBaseFee = big.NewInt(1)
		}
		l1BlockInfo.BaseFeeScalar, l1BlockInfo.BlobBaseFeeScalar = ecotoneScalars(sysCfg)
		out, err := l1BlockInfo.marshalBinaryEcotone()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal ecotone l1 block info: %w", err)
		}
		data = out
	} else {
		l1BlockInfo.L1FeeOverhead = sysCfg.Overhead
		l1BlockInfo.L1FeeScalar = sysCfg.Scalar
		out, err := l1BlockInfo.marshalBinaryBedrock()
		if err != nil {
			return nil, fmt.Errorf("failed to marshal bedrock l1 block info: %w", err)
		}
		data = out
	}

	source := L1InfoDepositSource{
		L1BlockHash: block.Hash(),
		SeqNumber:   seqNumber,
	}
	// Set a very large gas limit with `IsSystemTransaction` to ensure
	// that the L1 Attributes Transaction does not run out of gas.
	out := &types.DepositTx{
		SourceHash:          source.SourceHash(),
		From:                L1InfoDepositerAddress,
		To:                  &L1BlockAddress,
		Mint:                nil,
		Value:               big.NewInt(0),
		Gas:                 150_000_000,
		IsSystemTransaction: true,
		Data:                data,
	}
	// With the regolith fork we disable the IsSystemTx functionality, and allocate real gas
	if rollupCfg.IsRegolith(l2BlockTime) {
		out.IsSystemTransaction = false
		out.Gas = RegolithSystemTxGas
	}
	return out, nil
}

// L1InfoDepositBytes returns a serialized L1-info attributes transaction.
func L1InfoDepositBytes(rollupCfg *rollup.Config, sysCfg eth.SystemConfig, seqNumber uint64, l1Info eth.BlockInfo, l2BlockTime uint64) ([]byte, error) {
	dep, err := L1InfoDeposit(rollupCfg, sysCfg, seqNumber, l1Info, l2BlockTime)
	if err != nil {
		return nil, fmt.Errorf("failed to create L1 info tx: %w", err)
	}
	l1Tx := types.NewTx(dep)
	opaqueL1Tx, err := l1Tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode L1 info tx: %w", err)
	}
	return opaqueL1Tx, nil
}

func isEcotoneButNotFirstBlock(rollupCfg *rollup.Config, l2BlockTime uint64) bool {
	return rollupCfg.IsEcotone(l2BlockTime) && !rollupCfg.IsEcotoneActivationBlock(l2BlockTime)
}

func writePaddedUint64(w *bytes.Buffer, v uint64) {
	var buf [32]byte
	binary.BigEndian.PutUint64(buf[24:], v)
	w.Write(buf[:])
}

func readPaddedUint64(data []byte) (uint64, error) {
	for _, b := range data[:24] {
		if b != 0 {
			return 0, errors.New("number exceeds uint64")
		}
	}
	return binary.BigEndian.Uint64(data[24:]), nil
}

func writeUint256(w *bytes.Buffer, v *big.Int) error {
	if v == nil || v.BitLen() > 256 {
		return fmt.Errorf("invalid uint256 value: %v", v)
	}
	var buf [32]byte
	v.FillBytes(buf[:])
	w.Write(buf[:])
	return nil
}
