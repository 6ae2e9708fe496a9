package derive

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

// Batch format
//
// SingularBatchType := 0
// singularBatch := SingularBatchType ++ RLP([parent_hash, epoch_number, epoch_hash, timestamp, transaction_list])
//
// SpanBatchType := 1
// spanBatch := SpanBatchType ++ prefix ++ payload

const (
	SingularBatchType = 0
	SpanBatchType     = 1
)

// Batch is either a SingularBatch or a derived SpanBatch.
type Batch interface {
	GetBatchType() int
	GetTimestamp() uint64
	LogContext(log.Logger) log.Logger
}

// InnerBatchData is the typed payload of a BatchData envelope.
type InnerBatchData interface {
	GetBatchType() int
	encode(w io.Writer) error
	decode(r *bytes.Reader) error
}

// BatchData is the RLP envelope carrying a typed batch inside a channel.
type BatchData struct {
	inner InnerBatchData
}

func NewBatchData(inner InnerBatchData) *BatchData {
	return &BatchData{inner: inner}
}

func (bd *BatchData) GetBatchType() uint8 {
	return uint8(bd.inner.GetBatchType())
}

func (bd *BatchData) Inner() InnerBatchData {
	return bd.inner
}

// EncodeRLP encodes the batch as an RLP byte string of its typed encoding.
func (bd *BatchData) EncodeRLP(w io.Writer) error {
	var buf bytes.Buffer
	if err := bd.encodeTyped(&buf); err != nil {
		return err
	}
	return rlp.Encode(w, buf.Bytes())
}

func (bd *BatchData) encodeTyped(buf *bytes.Buffer) error {
	if err := buf.WriteByte(bd.GetBatchType()); err != nil {
		return err
	}
	return bd.inner.encode(buf)
}

// MarshalBinary returns the typed encoding without the RLP string wrapper.
func (bd *BatchData) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	err := bd.encodeTyped(&buf)
	return buf.Bytes(), err
}

// DecodeRLP reads the RLP byte string and decodes the typed payload.
func (bd *BatchData) DecodeRLP(s *rlp.Stream) error {
	if bd == nil {
		return errors.New("cannot decode into nil BatchData")
	}
	v, err := s.Bytes()
	if err != nil {
		return err
	}
	return bd.decodeTyped(v)
}

// UnmarshalBinary decodes the typed encoding.
func (bd *BatchData) UnmarshalBinary(data []byte) error {
	if bd == nil {
		return errors.New("cannot decode into nil BatchData")
	}
	return bd.decodeTyped(data)
}

func (bd *BatchData) decodeTyped(data []byte) error {
	if len(data) == 0 {
		return errors.New("batch too short")
	}
	switch data[0] {
	case SingularBatchType:
		var inner SingularBatch
		if err := inner.decode(bytes.NewReader(data[1:])); err != nil {
			return err
		}
		bd.inner = &inner
	case SpanBatchType:
		var inner RawSpanBatch
		if err := inner.decode(bytes.NewReader(data[1:])); err != nil {
			return err
		}
		bd.inner = &inner
	default:
		return fmt.Errorf("unrecognized batch type: %d", data[0])
	}
	return nil
}
