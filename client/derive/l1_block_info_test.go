package derive

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

func u64ptr(v uint64) *uint64 {
	return &v
}

func testInfoConfig(ecotoneTime *uint64) *rollup.Config {
	zero := uint64(0)
	return &rollup.Config{
		BlockTime:    2,
		RegolithTime: &zero,
		EcotoneTime:  ecotoneTime,
		Genesis:      rollup.Genesis{L2Time: 1000},
	}
}

func testSystemConfig() eth.SystemConfig {
	cfg := eth.SystemConfig{
		BatcherAddr: common.Address{0xbb},
		GasLimit:    30_000_000,
	}
	cfg.Overhead[31] = 0xba
	cfg.Scalar[31] = 0xa0
	return cfg
}

type stubBlockInfo struct {
	eth.BlockInfo
	number, time uint64
	hash         common.Hash
	baseFee      *big.Int
	blobBaseFee  *big.Int
	mixDigest    common.Hash
}

func (s *stubBlockInfo) NumberU64() uint64        { return s.number }
func (s *stubBlockInfo) Time() uint64             { return s.time }
func (s *stubBlockInfo) Hash() common.Hash        { return s.hash }
func (s *stubBlockInfo) BaseFee() *big.Int        { return s.baseFee }
func (s *stubBlockInfo) BlobBaseFee() *big.Int    { return s.blobBaseFee }
func (s *stubBlockInfo) MixDigest() common.Hash   { return s.mixDigest }

func TestL1InfoDepositBedrock(t *testing.T) {
	cfg := testInfoConfig(nil)
	sysCfg := testSystemConfig()
	block := &stubBlockInfo{number: 123, time: 4000, hash: common.Hash{0x11}, baseFee: big.NewInt(1000)}

	dep, err := L1InfoDeposit(cfg, sysCfg, 4, block, 5000)
	require.NoError(t, err)
	require.Equal(t, L1InfoDepositerAddress, dep.From)
	require.Equal(t, L1BlockAddress, *dep.To)
	require.False(t, dep.IsSystemTransaction, "regolith disables system transactions")
	require.EqualValues(t, RegolithSystemTxGas, dep.Gas)
	require.Len(t, dep.Data, L1InfoBedrockLen)

	info, err := L1BlockInfoFromBytes(cfg, 5000, dep.Data)
	require.NoError(t, err)
	require.Equal(t, block.number, info.Number)
	require.Equal(t, block.time, info.Time)
	require.Equal(t, block.hash, info.BlockHash)
	require.Equal(t, uint64(4), info.SequenceNumber)
	require.Equal(t, sysCfg.BatcherAddr, info.BatcherAddr)
	require.Equal(t, sysCfg.Overhead, info.L1FeeOverhead)
	require.Equal(t, sysCfg.Scalar, info.L1FeeScalar)
}

func TestL1InfoDepositEcotone(t *testing.T) {
	cfg := testInfoConfig(u64ptr(0))
	sysCfg := testSystemConfig()
	// Versioned Ecotone scalar: both packed values set.
	sysCfg.Scalar[0] = 1
	sysCfg.Scalar[25] = 0x02 // blob base fee scalar
	sysCfg.Scalar[30] = 0x03 // base fee scalar (low byte 0xa0 comes from testSystemConfig)
	block := &stubBlockInfo{number: 500, time: 9000, hash: common.Hash{0x22}, baseFee: big.NewInt(777), blobBaseFee: big.NewInt(42)}

	dep, err := L1InfoDeposit(cfg, sysCfg, 0, block, 9002)
	require.NoError(t, err)
	require.Len(t, dep.Data, L1InfoEcotoneLen)

	info, err := L1BlockInfoFromBytes(cfg, 9002, dep.Data)
	require.NoError(t, err)
	require.Equal(t, block.number, info.Number)
	require.Equal(t, big.NewInt(42), info.BlobBaseFee)
	require.EqualValues(t, 0x20000, info.BlobBaseFeeScalar)
	require.EqualValues(t, 0x03a0, info.BaseFeeScalar)
}

func TestUserDepositSourceHashDomains(t *testing.T) {
	userSource := UserDepositSource{L1BlockHash: common.Hash{0x01}, LogIndex: 2}
	infoSource := L1InfoDepositSource{L1BlockHash: common.Hash{0x01}, SeqNumber: 2}
	require.NotEqual(t, userSource.SourceHash(), infoSource.SourceHash(), "source domains must separate hash spaces")
}

func TestUnmarshalDepositLogEvent(t *testing.T) {
	from := common.Address{0xaa}
	to := common.Address{0xbb}

	// opaqueData: mint(32) || value(32) || gas(8) || isCreation(1) || data
	opaque := make([]byte, 0, 73+3)
	mint := make([]byte, 32)
	mint[31] = 9
	value := make([]byte, 32)
	value[31] = 7
	opaque = append(opaque, mint...)
	opaque = append(opaque, value...)
	opaque = append(opaque, 0, 0, 0, 0, 0, 1, 0, 0) // gas = 1<<16
	opaque = append(opaque, 0)                      // not a creation
	opaque = append(opaque, 0xca, 0xfe, 0x01)

	// ABI-encode as dynamic bytes: offset, length, padded payload.
	data := make([]byte, 0)
	offset := make([]byte, 32)
	offset[31] = 32
	length := make([]byte, 32)
	length[31] = byte(len(opaque))
	data = append(data, offset...)
	data = append(data, length...)
	padded := make([]byte, (len(opaque)+31)/32*32)
	copy(padded, opaque)
	data = append(data, padded...)

	ev := &types.Log{
		Address: common.Address{0x42},
		Topics: []common.Hash{
			DepositEventABIHash,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			DepositEventVersion0,
		},
		Data:      data,
		BlockHash: common.Hash{0x99},
		Index:     3,
	}

	dep, err := UnmarshalDepositLogEvent(ev)
	require.NoError(t, err)
	require.Equal(t, from, dep.From)
	require.Equal(t, to, *dep.To)
	require.Equal(t, big.NewInt(9), dep.Mint)
	require.Equal(t, big.NewInt(7), dep.Value)
	require.Equal(t, uint64(1)<<16, dep.Gas)
	require.Equal(t, []byte{0xca, 0xfe, 0x01}, []byte(dep.Data))
}
