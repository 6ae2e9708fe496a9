package derive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// spanBatchTxs holds the columnar transaction data of a span batch. Each
// column packs one field of every transaction across the whole span, which
// compresses far better than whole transactions.
type spanBatchTxs struct {
	// this field must be manually set
	totalBlockTxCount uint64

	// 8 fields
	contractCreationBits *big.Int
	yParityBits          *big.Int
	txSigs               []spanBatchSignature
	txNonces             []uint64
	txGases              []uint64
	txTos                []common.Address
	txDatas              [][]byte
	protectedBits        *big.Int

	// intermediate variables which can be recovered
	txTypes            []int
	totalLegacyTxCount uint64
}

type spanBatchSignature struct {
	v uint64
	r *uint256.Int
	s *uint256.Int
}

func (btx *spanBatchTxs) encodeBitlist(w io.Writer, bits *big.Int, bitCount uint64) error {
	if bits.BitLen() > int(bitCount) {
		return fmt.Errorf("bitfield is larger than bit count: %d > %d", bits.BitLen(), bitCount)
	}
	bufLen := (bitCount + 7) / 8
	buf := make([]byte, bufLen)
	bits.FillBytes(buf)
	_, err := w.Write(buf)
	return err
}

func (btx *spanBatchTxs) decodeBitlist(r *bytes.Reader, bitCount uint64) (*big.Int, error) {
	if bitCount > MaxSpanBatchElementCount {
		return nil, ErrTooBigSpanBatchSize
	}
	bufLen := (bitCount + 7) / 8
	buf := make([]byte, bufLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("failed to read bitlist: %w", err)
	}
	bits := new(big.Int).SetBytes(buf)
	if bits.BitLen() > int(bitCount) {
		return nil, errors.New("bitfield has bits set beyond the bit count")
	}
	return bits, nil
}

func (btx *spanBatchTxs) encodeContractCreationBits(w io.Writer) error {
	return btx.encodeBitlist(w, btx.contractCreationBits, btx.totalBlockTxCount)
}

func (btx *spanBatchTxs) decodeContractCreationBits(r *bytes.Reader) error {
	bits, err := btx.decodeBitlist(r, btx.totalBlockTxCount)
	if err != nil {
		return fmt.Errorf("contract creation bits: %w", err)
	}
	btx.contractCreationBits = bits
	return nil
}

func (btx *spanBatchTxs) encodeYParityBits(w io.Writer) error {
	return btx.encodeBitlist(w, btx.yParityBits, btx.totalBlockTxCount)
}

func (btx *spanBatchTxs) decodeYParityBits(r *bytes.Reader) error {
	bits, err := btx.decodeBitlist(r, btx.totalBlockTxCount)
	if err != nil {
		return fmt.Errorf("y parity bits: %w", err)
	}
	btx.yParityBits = bits
	return nil
}

func (btx *spanBatchTxs) encodeProtectedBits(w io.Writer) error {
	return btx.encodeBitlist(w, btx.protectedBits, btx.totalLegacyTxCount)
}

func (btx *spanBatchTxs) decodeProtectedBits(r *bytes.Reader) error {
	bits, err := btx.decodeBitlist(r, btx.totalLegacyTxCount)
	if err != nil {
		return fmt.Errorf("protected bits: %w", err)
	}
	btx.protectedBits = bits
	return nil
}

func (btx *spanBatchTxs) contractCreationCount() uint64 {
	if btx.contractCreationBits == nil {
		return 0
	}
	var count uint64
	for i := uint64(0); i < btx.totalBlockTxCount; i++ {
		if btx.contractCreationBits.Bit(int(i)) == 1 {
			count++
		}
	}
	return count
}

func (btx *spanBatchTxs) encodeTxSigsRS(w io.Writer) error {
	for _, sig := range btx.txSigs {
		var rBuf, sBuf [32]byte
		sig.r.WriteToSlice(rBuf[:])
		sig.s.WriteToSlice(sBuf[:])
		if _, err := w.Write(rBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(sBuf[:]); err != nil {
			return err
		}
	}
	return nil
}

func (btx *spanBatchTxs) decodeTxSigsRS(r *bytes.Reader) error {
	btx.txSigs = make([]spanBatchSignature, btx.totalBlockTxCount)
	var sigBuf [64]byte
	for i := uint64(0); i < btx.totalBlockTxCount; i++ {
		if _, err := io.ReadFull(r, sigBuf[:]); err != nil {
			return fmt.Errorf("failed to read tx signature %d: %w", i, err)
		}
		btx.txSigs[i].r = new(uint256.Int).SetBytes32(sigBuf[:32])
		btx.txSigs[i].s = new(uint256.Int).SetBytes32(sigBuf[32:])
	}
	return nil
}

func (btx *spanBatchTxs) encodeTxNonces(w io.Writer) error {
	var buf [binary.MaxVarintLen64]byte
	for _, nonce := range btx.txNonces {
		n := binary.PutUvarint(buf[:], nonce)
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (btx *spanBatchTxs) decodeTxNonces(r *bytes.Reader) error {
	btx.txNonces = make([]uint64, 0, btx.totalBlockTxCount)
	for i := uint64(0); i < btx.totalBlockTxCount; i++ {
		nonce, err := binary.ReadUvarint(r)
		if err != nil {
			return fmt.Errorf("failed to read tx nonce %d: %w", i, err)
		}
		btx.txNonces = append(btx.txNonces, nonce)
	}
	return nil
}

func (btx *spanBatchTxs) encodeTxGases(w io.Writer) error {
	var buf [binary.MaxVarintLen64]byte
	for _, gas := range btx.txGases {
		n := binary.PutUvarint(buf[:], gas)
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (btx *spanBatchTxs) decodeTxGases(r *bytes.Reader) error {
	btx.txGases = make([]uint64, 0, btx.totalBlockTxCount)
	for i := uint64(0); i < btx.totalBlockTxCount; i++ {
		gas, err := binary.ReadUvarint(r)
		if err != nil {
			return fmt.Errorf("failed to read tx gas %d: %w", i, err)
		}
		btx.txGases = append(btx.txGases, gas)
	}
	return nil
}

func (btx *spanBatchTxs) encodeTxTos(w io.Writer) error {
	for _, to := range btx.txTos {
		if _, err := w.Write(to.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (btx *spanBatchTxs) decodeTxTos(r *bytes.Reader) error {
	contractCreationCount := btx.contractCreationCount()
	if contractCreationCount > btx.totalBlockTxCount {
		return errors.New("contract creation count exceeds tx count")
	}
	toCount := btx.totalBlockTxCount - contractCreationCount
	btx.txTos = make([]common.Address, 0, toCount)
	var addr common.Address
	for i := uint64(0); i < toCount; i++ {
		if _, err := io.ReadFull(r, addr[:]); err != nil {
			return fmt.Errorf("failed to read tx to address %d: %w", i, err)
		}
		btx.txTos = append(btx.txTos, addr)
	}
	return nil
}

func (btx *spanBatchTxs) encodeTxDatas(w io.Writer) error {
	for _, data := range btx.txDatas {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func (btx *spanBatchTxs) decodeTxDatas(r *bytes.Reader) error {
	btx.txDatas = make([][]byte, 0, btx.totalBlockTxCount)
	btx.txTypes = make([]int, 0, btx.totalBlockTxCount)
	// Do not need the exact length of the data: read the reduced tx envelope
	// off the stream, which is self-delimiting RLP.
	for i := uint64(0); i < btx.totalBlockTxCount; i++ {
		txData, txType, err := readTxData(r)
		if err != nil {
			return fmt.Errorf("failed to read tx data %d: %w", i, err)
		}
		btx.txDatas = append(btx.txDatas, txData)
		btx.txTypes = append(btx.txTypes, txType)
		if txType == types.LegacyTxType {
			btx.totalLegacyTxCount++
		}
	}
	return nil
}

func (btx *spanBatchTxs) recoverV(chainID *big.Int) error {
	if len(btx.txTypes) != len(btx.txSigs) {
		return errors.New("tx type length and tx sigs length mismatch")
	}
	if btx.protectedBits == nil {
		return errors.New("dev error: protected bits not decoded")
	}
	protectedBitsIdx := 0
	for idx, txType := range btx.txTypes {
		bit := uint64(btx.yParityBits.Bit(idx))
		var v uint64
		switch txType {
		case types.LegacyTxType:
			protectedBit := btx.protectedBits.Bit(protectedBitsIdx)
			protectedBitsIdx++
			if protectedBit == 0 {
				v = 27 + bit
			} else {
				// EIP-155
				v = chainID.Uint64()*2 + 35 + bit
			}
		case types.AccessListTxType, types.DynamicFeeTxType:
			v = bit
		default:
			return fmt.Errorf("invalid tx type in span batch: %d", txType)
		}
		btx.txSigs[idx].v = v
	}
	return nil
}

func (btx *spanBatchTxs) encode(w io.Writer) error {
	if err := btx.encodeContractCreationBits(w); err != nil {
		return err
	}
	if err := btx.encodeYParityBits(w); err != nil {
		return err
	}
	if err := btx.encodeTxSigsRS(w); err != nil {
		return err
	}
	if err := btx.encodeTxTos(w); err != nil {
		return err
	}
	if err := btx.encodeTxDatas(w); err != nil {
		return err
	}
	if err := btx.encodeTxNonces(w); err != nil {
		return err
	}
	if err := btx.encodeTxGases(w); err != nil {
		return err
	}
	return btx.encodeProtectedBits(w)
}

func (btx *spanBatchTxs) decode(r *bytes.Reader) error {
	if err := btx.decodeContractCreationBits(r); err != nil {
		return err
	}
	if err := btx.decodeYParityBits(r); err != nil {
		return err
	}
	if err := btx.decodeTxSigsRS(r); err != nil {
		return err
	}
	if err := btx.decodeTxTos(r); err != nil {
		return err
	}
	if err := btx.decodeTxDatas(r); err != nil {
		return err
	}
	if err := btx.decodeTxNonces(r); err != nil {
		return err
	}
	if err := btx.decodeTxGases(r); err != nil {
		return err
	}
	return btx.decodeProtectedBits(r)
}

// fullTxs rebuilds the opaque signed transactions of the whole span.
func (btx *spanBatchTxs) fullTxs(chainID *big.Int) ([][]byte, error) {
	if err := btx.recoverV(chainID); err != nil {
		return nil, err
	}
	var txs [][]byte
	toIdx := 0
	for idx := uint64(0); idx < btx.totalBlockTxCount; idx++ {
		var stx spanBatchTx
		if err := stx.UnmarshalBinary(btx.txDatas[idx]); err != nil {
			return nil, err
		}
		nonce := btx.txNonces[idx]
		gas := btx.txGases[idx]
		var to *common.Address
		if btx.contractCreationBits.Bit(int(idx)) == 0 {
			if len(btx.txTos) <= toIdx {
				return nil, errors.New("tx to not enough")
			}
			to = &btx.txTos[toIdx]
			toIdx++
		}
		v := new(big.Int).SetUint64(btx.txSigs[idx].v)
		r := btx.txSigs[idx].r.ToBig()
		s := btx.txSigs[idx].s.ToBig()
		tx, err := stx.convertToFullTx(nonce, gas, to, chainID, v, r, s)
		if err != nil {
			return nil, err
		}
		encodedTx, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		txs = append(txs, encodedTx)
	}
	return txs, nil
}

// addTxs packs full transactions into the columns.
func (btx *spanBatchTxs) addTxs(txs [][]byte, chainID *big.Int) error {
	totalBlockTxCount := uint64(len(txs))
	offset := btx.totalBlockTxCount
	if btx.contractCreationBits == nil {
		btx.contractCreationBits = new(big.Int)
	}
	if btx.yParityBits == nil {
		btx.yParityBits = new(big.Int)
	}
	if btx.protectedBits == nil {
		btx.protectedBits = new(big.Int)
	}
	for idx := uint64(0); idx < totalBlockTxCount; idx++ {
		var tx types.Transaction
		if err := tx.UnmarshalBinary(txs[idx]); err != nil {
			return errors.New("failed to decode tx")
		}
		if tx.Protected() && tx.ChainId().Cmp(chainID) != 0 {
			return fmt.Errorf("protected tx has chain ID %d, but expected chain ID %d", tx.ChainId(), chainID)
		}
		v, r, s := tx.RawSignatureValues()
		var yParityBit uint
		switch tx.Type() {
		case types.LegacyTxType:
			protectedBit := uint(0)
			if tx.Protected() {
				protectedBit = 1
				yParityBit = uint(new(big.Int).Sub(v, new(big.Int).SetUint64(chainID.Uint64()*2+35)).Uint64())
			} else {
				yParityBit = uint(v.Uint64() - 27)
			}
			btx.protectedBits.SetBit(btx.protectedBits, int(btx.totalLegacyTxCount), protectedBit)
			btx.totalLegacyTxCount++
		case types.AccessListTxType, types.DynamicFeeTxType:
			yParityBit = uint(v.Uint64())
		default:
			return fmt.Errorf("invalid tx type in span batch: %d", tx.Type())
		}
		if yParityBit > 1 {
			return fmt.Errorf("invalid y parity bit: %d", yParityBit)
		}
		btx.yParityBits.SetBit(btx.yParityBits, int(offset+idx), yParityBit)

		var sig spanBatchSignature
		sig.r, _ = uint256.FromBig(r)
		sig.s, _ = uint256.FromBig(s)
		btx.txSigs = append(btx.txSigs, sig)

		if to := tx.To(); to == nil {
			btx.contractCreationBits.SetBit(btx.contractCreationBits, int(offset+idx), 1)
		} else {
			btx.txTos = append(btx.txTos, *to)
		}
		btx.txNonces = append(btx.txNonces, tx.Nonce())
		btx.txGases = append(btx.txGases, tx.Gas())

		stx, err := newSpanBatchTx(&tx)
		if err != nil {
			return err
		}
		txData, err := stx.MarshalBinary()
		if err != nil {
			return err
		}
		btx.txDatas = append(btx.txDatas, txData)
		btx.txTypes = append(btx.txTypes, int(tx.Type()))
	}
	btx.totalBlockTxCount += totalBlockTxCount
	return nil
}

// readTxData reads one reduced tx envelope off the reader, returning the raw
// bytes and the tx type.
func readTxData(r *bytes.Reader) ([]byte, int, error) {
	var txType byte
	firstByte, err := r.ReadByte()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read tx initial byte: %w", err)
	}
	if firstByte <= 0x7f {
		// Typed transaction envelope.
		txType = firstByte
		if txType != types.AccessListTxType && txType != types.DynamicFeeTxType {
			return nil, 0, fmt.Errorf("invalid tx type in span batch: %d", txType)
		}
	} else {
		// Legacy tx: re-read the byte as part of the RLP list.
		txType = types.LegacyTxType
		if err := r.UnreadByte(); err != nil {
			return nil, 0, fmt.Errorf("failed to unread tx initial byte: %w", err)
		}
	}
	payload, err := readRLPListBytes(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read tx RLP payload: %w", err)
	}
	if txType == types.LegacyTxType {
		return payload, int(txType), nil
	}
	return append([]byte{txType}, payload...), int(txType), nil
}

// readRLPListBytes consumes exactly one RLP list item from the reader.
func readRLPListBytes(r *bytes.Reader) ([]byte, error) {
	header, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if header < 0xc0 {
		return nil, errors.New("tx RLP payload is not a list")
	}
	var payloadLen uint64
	var headerBytes []byte
	if header <= 0xf7 {
		payloadLen = uint64(header - 0xc0)
		headerBytes = []byte{header}
	} else {
		lenOfLen := int(header - 0xf7)
		lenBuf := make([]byte, lenOfLen)
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, err
		}
		for _, b := range lenBuf {
			payloadLen = payloadLen<<8 | uint64(b)
		}
		if payloadLen > MaxSpanBatchElementCount {
			return nil, ErrTooBigSpanBatchSize
		}
		headerBytes = append([]byte{header}, lenBuf...)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return append(headerBytes, payload...), nil
}
