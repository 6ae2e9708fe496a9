package derive

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

var (
	SystemConfigUpdateBatcher           = common.Hash{31: 0}
	SystemConfigUpdateGasConfig         = common.Hash{31: 1}
	SystemConfigUpdateGasLimit          = common.Hash{31: 2}
	SystemConfigUpdateUnsafeBlockSigner = common.Hash{31: 3}
)

var (
	ConfigUpdateEventABI      = "ConfigUpdate(uint256,uint8,bytes)"
	ConfigUpdateEventABIHash  = crypto.Keccak256Hash([]byte(ConfigUpdateEventABI))
	ConfigUpdateEventVersion0 = common.Hash{}
)

// UpdateSystemConfigWithL1Receipts folds the config-update events of an L1
// block into the running system configuration.
func UpdateSystemConfigWithL1Receipts(sysCfg *eth.SystemConfig, receipts []*types.Receipt, cfg *rollup.Config, l1Time uint64) error {
	for i, rec := range receipts {
		if rec.Status != types.ReceiptStatusSuccessful {
			continue
		}
		for j, txLog := range rec.Logs {
			if txLog.Address == cfg.L1SystemConfigAddress && len(txLog.Topics) > 0 && txLog.Topics[0] == ConfigUpdateEventABIHash {
				if err := ProcessSystemConfigUpdateLogEvent(sysCfg, txLog, cfg, l1Time); err != nil {
					return fmt.Errorf("malformatted L1 system config log in receipt %d, log %d: %w", i, j, err)
				}
			}
		}
	}
	return nil
}

// ProcessSystemConfigUpdateLogEvent decodes an EVM log entry emitted by the
// system config contract and applies it to the system config.
//
// parse log data for:
//
//	event ConfigUpdate(
//	    uint256 indexed version,
//	    UpdateType indexed updateType,
//	    bytes data
//	);
func ProcessSystemConfigUpdateLogEvent(destSysCfg *eth.SystemConfig, ev *types.Log, rollupCfg *rollup.Config, l1Time uint64) error {
	if len(ev.Topics) != 3 {
		return fmt.Errorf("expected 3 event topics (event identity, indexed version, indexed updateType), got %d", len(ev.Topics))
	}
	if ev.Topics[0] != ConfigUpdateEventABIHash {
		return fmt.Errorf("invalid system config update event: %s, expected %s", ev.Topics[0], ConfigUpdateEventABIHash)
	}

	// indexed 0
	version := ev.Topics[1]
	if version != ConfigUpdateEventVersion0 {
		return fmt.Errorf("unrecognized system config update event version: %s", version)
	}
	// indexed 1
	updateType := ev.Topics[2]

	// unindexed: generic ABI bytes payload: offset, length, content
	if len(ev.Data) < 64 {
		return fmt.Errorf("system config event data too short: %d", len(ev.Data))
	}
	offset := new(big.Int).SetBytes(ev.Data[:32])
	if !offset.IsUint64() || offset.Uint64() != 32 {
		return fmt.Errorf("invalid system config update data offset: %v", offset)
	}
	length := new(big.Int).SetBytes(ev.Data[32:64])
	if !length.IsUint64() || length.Uint64() != uint64(len(ev.Data)-64) {
		return fmt.Errorf("invalid system config update data length: %v", length)
	}
	payload := ev.Data[64:]

	switch updateType {
	case SystemConfigUpdateBatcher:
		if len(payload) != 32 {
			return fmt.Errorf("invalid batcher update payload length: %d", len(payload))
		}
		destSysCfg.BatcherAddr = common.BytesToAddress(payload[12:])
	case SystemConfigUpdateGasConfig:
		if len(payload) != 64 {
			return fmt.Errorf("invalid gas config update payload length: %d", len(payload))
		}
		if rollupCfg.IsEcotone(l1Time) && !validEcotoneL1SystemConfigScalar([32]byte(payload[32:64])) {
			// Ignore invalid scalar updates after Ecotone, the old value is retained.
			return nil
		}
		copy(destSysCfg.Overhead[:], payload[:32])
		copy(destSysCfg.Scalar[:], payload[32:64])
	case SystemConfigUpdateGasLimit:
		if len(payload) != 32 {
			return fmt.Errorf("invalid gas limit update payload length: %d", len(payload))
		}
		gasLimit := new(big.Int).SetBytes(payload)
		if !gasLimit.IsUint64() {
			return fmt.Errorf("gas limit does not fit uint64: %v", gasLimit)
		}
		destSysCfg.GasLimit = gasLimit.Uint64()
	case SystemConfigUpdateUnsafeBlockSigner:
		// Ignored in derivation: the unsafe block signer has no effect on the
		// canonical chain.
	default:
		return fmt.Errorf("unrecognized system config update type: %s", updateType)
	}
	return nil
}

// validEcotoneL1SystemConfigScalar checks the versioned scalar encoding.
func validEcotoneL1SystemConfigScalar(scalar [32]byte) bool {
	versionByte := scalar[0]
	switch versionByte {
	case 0:
		// Bedrock scalar: everything but the last 4 bytes must be empty.
		for _, b := range scalar[1:28] {
			if b != 0 {
				return false
			}
		}
		return true
	case 1:
		// Ecotone scalar: middle bytes up to the two packed u32 values must be empty.
		for _, b := range scalar[1:24] {
			if b != 0 {
				return false
			}
		}
		return true
	default:
		return false
	}
}
