package derive

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	DepositEventABI     = "TransactionDeposited(address,address,uint256,bytes)"
	DepositEventABIHash = crypto.Keccak256Hash([]byte(DepositEventABI))
	DepositEventVersion0 = common.Hash{}
)

// UserDepositSource identifies a user deposit by its L1 position.
type UserDepositSource struct {
	L1BlockHash common.Hash
	LogIndex    uint64
}

const (
	UserDepositSourceDomain   = 0
	L1InfoDepositSourceDomain = 1
)

func (dep *UserDepositSource) SourceHash() common.Hash {
	var input [32 * 2]byte
	copy(input[:32], dep.L1BlockHash[:])
	binary.BigEndian.PutUint64(input[32*2-8:], dep.LogIndex)
	depositIDHash := crypto.Keccak256Hash(input[:])
	var domainInput [32 * 2]byte
	binary.BigEndian.PutUint64(domainInput[32-8:32], UserDepositSourceDomain)
	copy(domainInput[32:], depositIDHash[:])
	return crypto.Keccak256Hash(domainInput[:])
}

// L1InfoDepositSource identifies the L1-info deposit of an L2 block.
type L1InfoDepositSource struct {
	L1BlockHash common.Hash
	SeqNumber   uint64
}

func (dep *L1InfoDepositSource) SourceHash() common.Hash {
	var input [32 * 2]byte
	copy(input[:32], dep.L1BlockHash[:])
	binary.BigEndian.PutUint64(input[32*2-8:], dep.SeqNumber)
	depositIDHash := crypto.Keccak256Hash(input[:])
	var domainInput [32 * 2]byte
	binary.BigEndian.PutUint64(domainInput[32-8:32], L1InfoDepositSourceDomain)
	copy(domainInput[32:], depositIDHash[:])
	return crypto.Keccak256Hash(domainInput[:])
}

// UserDeposits transforms the deposit logs of the L1 receipts, emitted by the
// deposit contract address, into the transactions the L2 block must include.
func UserDeposits(receipts []*types.Receipt, depositContractAddr common.Address) ([]*types.DepositTx, error) {
	var out []*types.DepositTx
	var result error
	for i, rec := range receipts {
		if rec.Status != types.ReceiptStatusSuccessful {
			continue
		}
		for j, ev := range rec.Logs {
			if len(ev.Topics) > 0 && ev.Topics[0] == DepositEventABIHash && ev.Address == depositContractAddr {
				dep, err := UnmarshalDepositLogEvent(ev)
				if err != nil {
					result = fmt.Errorf("malformatted L1 deposit log in receipt %d, log %d: %w", i, j, err)
				} else {
					out = append(out, dep)
				}
			}
		}
	}
	return out, result
}

// UnmarshalDepositLogEvent decodes an EVM log entry emitted by the deposit
// contract into a deposit transaction.
//
// parse log data for:
//
//	event TransactionDeposited(
//	    address indexed from,
//	    address indexed to,
//	    uint256 indexed version,
//	    bytes opaqueData
//	);
func UnmarshalDepositLogEvent(ev *types.Log) (*types.DepositTx, error) {
	if len(ev.Topics) != 4 {
		return nil, fmt.Errorf("expected 4 event topics (event identity, indexed from, indexed to, indexed version), got %d", len(ev.Topics))
	}
	if ev.Topics[0] != DepositEventABIHash {
		return nil, fmt.Errorf("invalid deposit event selector: %s, expected %s", ev.Topics[0], DepositEventABIHash)
	}
	if len(ev.Data) < 64 {
		return nil, fmt.Errorf("incomplete opaqueData slice header (%d bytes): %x", len(ev.Data), ev.Data)
	}
	if len(ev.Data)%32 != 0 {
		return nil, fmt.Errorf("expected log data to be multiple of 32 bytes: got %d bytes", len(ev.Data))
	}

	// indexed 0
	from := common.BytesToAddress(ev.Topics[1][12:])
	// indexed 1
	to := common.BytesToAddress(ev.Topics[2][12:])
	// indexed 2
	version := ev.Topics[3]
	// The data may have changed if the upgrade changed the format; if so a new
	// version is emitted in the log.
	if version != DepositEventVersion0 {
		return nil, fmt.Errorf("invalid deposit version, got %s", version)
	}

	// unindexed data
	// Uses standard opaque-bytes ABI encoding: a uint256 offset to the bytes,
	// then the uint256 length, then the padded payload.
	var opaqueContentOffset uint64
	offsetWord := new(big.Int).SetBytes(ev.Data[:32])
	if !offsetWord.IsUint64() || offsetWord.Uint64() != 32 {
		return nil, fmt.Errorf("invalid opaqueData slice offset: %v", offsetWord)
	}
	opaqueContentOffset = 32

	opaqueContentLengthWord := new(big.Int).SetBytes(ev.Data[opaqueContentOffset : opaqueContentOffset+32])
	if !opaqueContentLengthWord.IsUint64() || opaqueContentLengthWord.Uint64() > uint64(len(ev.Data)) {
		return nil, fmt.Errorf("invalid opaqueData slice length: %v", opaqueContentLengthWord)
	}
	opaqueContentLength := opaqueContentLengthWord.Uint64()
	if opaqueContentLength > uint64(len(ev.Data)-64) {
		return nil, fmt.Errorf("opaqueData length exceeds remaining data: %d", opaqueContentLength)
	}
	opaqueData := ev.Data[64 : 64+opaqueContentLength]

	source := UserDepositSource{
		L1BlockHash: ev.BlockHash,
		LogIndex:    uint64(ev.Index),
	}
	dep, err := unmarshalDepositVersion0(to, opaqueData)
	if err != nil {
		return nil, err
	}
	dep.SourceHash = source.SourceHash()
	dep.From = from
	dep.IsSystemTransaction = false
	return dep, nil
}

func unmarshalDepositVersion0(to common.Address, opaqueData []byte) (*types.DepositTx, error) {
	if len(opaqueData) < 32+32+8+1 {
		return nil, fmt.Errorf("unexpected opaqueData length: %d", len(opaqueData))
	}
	var dep types.DepositTx
	offset := uint64(0)

	// uint256 mint
	dep.Mint = new(big.Int).SetBytes(opaqueData[offset : offset+32])
	// 0 mint is represented as nil to skip minting code
	if dep.Mint.Sign() == 0 {
		dep.Mint = nil
	}
	offset += 32

	// uint256 value
	dep.Value = new(big.Int).SetBytes(opaqueData[offset : offset+32])
	offset += 32

	// uint64 gas
	dep.Gas = binary.BigEndian.Uint64(opaqueData[offset : offset+8])
	offset += 8

	// uint8 isCreation
	// isCreation: If the boolean byte is 1 then dep.To will stay nil,
	// and it will create a contract using L2 account nonce to determine the created address.
	if opaqueData[offset] == 0 {
		dep.To = &to
	}
	offset += 1

	// The remainder of the opaqueData is the transaction data (without length prefix).
	// The data may be padded to a multiple of 32 bytes
	txDataLen := uint64(len(opaqueData)) - offset
	dep.Data = opaqueData[offset : offset+txDataLen]
	return &dep, nil
}
