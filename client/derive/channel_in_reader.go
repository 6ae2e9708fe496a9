package derive

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

// Zlib compression-method nibbles and the brotli channel version byte.
const (
	ZlibCM8              = 8
	ZlibCM15             = 15
	ChannelVersionBrotli = 0x01
)

// BatchReader provides a function that iteratively consumes batches from the
// reader. isFjord gates whether brotli-compressed channels are accepted.
func BatchReader(r io.Reader, maxRLPBytesPerChannel uint64, isFjord bool) (func() (*BatchData, error), error) {
	// The first byte is either a zlib header or the brotli version byte.
	bufReader := bufio.NewReader(r)
	compressionType, err := bufReader.Peek(1)
	if err != nil {
		return nil, err
	}

	var zr io.Reader
	// For zlib, the last 4 bits must be either 8 or 15 (CM, compression method)
	if compressionType[0]&0x0F == ZlibCM8 || compressionType[0]&0x0F == ZlibCM15 {
		var err error
		zr, err = zlib.NewReader(bufReader)
		if err != nil {
			return nil, err
		}
		// If the bits equal 1, then it is a brotli reader
	} else if compressionType[0] == ChannelVersionBrotli {
		// If before Fjord, we cannot accept brotli compressed batch
		if !isFjord {
			return nil, fmt.Errorf("cannot accept brotli compressed batch before Fjord")
		}
		// discard the first byte
		if _, err := bufReader.Discard(1); err != nil {
			return nil, err
		}
		zr = brotli.NewReader(bufReader)
	} else {
		return nil, fmt.Errorf("cannot distinguish the compression algo used given type byte %x", compressionType[0])
	}

	// Setup decompressor stage + RLP reader. The max RLP bytes per channel
	// caps the amount of memory a malicious channel can demand.
	rlpReader := rlp.NewStream(zr, maxRLPBytesPerChannel)
	// Read each batch iteratively
	return func() (*BatchData, error) {
		var batchData BatchData
		if err := rlpReader.Decode(&batchData); err != nil {
			return nil, err
		}
		return &batchData, nil
	}, nil
}

// ChannelInReader reads batches from completed channel data.
type ChannelInReader struct {
	log log.Logger
	cfg *rollup.Config

	nextBatchFn func() (*BatchData, error)

	prev *ChannelBank
}

func NewChannelInReader(log log.Logger, cfg *rollup.Config, prev *ChannelBank) *ChannelInReader {
	return &ChannelInReader{
		log:  log,
		cfg:  cfg,
		prev: prev,
	}
}

func (cr *ChannelInReader) Origin() eth.L1BlockRef {
	return cr.prev.Origin()
}

// WriteChannel starts reading batches from new channel data.
func (cr *ChannelInReader) WriteChannel(data []byte) error {
	maxRLPBytes := uint64(MaxRLPBytesPerChannel)
	isFjord := cr.cfg.IsFjord(cr.Origin().Time)
	if isFjord {
		maxRLPBytes = MaxRLPBytesPerChannelFjord
	}
	if f, err := BatchReader(bytes.NewBuffer(data), maxRLPBytes, isFjord); err == nil {
		cr.nextBatchFn = f
		return nil
	} else {
		cr.log.Error("Error creating batch reader from channel data", "err", err)
		return err
	}
}

// NextChannel forces the next read to continue with the next channel,
// resetting any decoding/decompression state to a fresh start.
func (cr *ChannelInReader) NextChannel() {
	cr.nextBatchFn = nil
}

// NextBatch pulls out the next batch from the channel if it has it.
// It returns io.EOF when it cannot make any more progress.
// It will return a temporary error if it needs to be called again to advance some internal state.
func (cr *ChannelInReader) NextBatch(ctx context.Context) (Batch, error) {
	if cr.nextBatchFn == nil {
		if data, err := cr.prev.NextData(ctx); err == io.EOF {
			return nil, io.EOF
		} else if err != nil {
			return nil, err
		} else {
			if err := cr.WriteChannel(data); err != nil {
				// A bad compression header or codec drops the channel, it does not wedge the pipeline.
				cr.NextChannel()
				return nil, NotEnoughData
			}
		}
	}

	batchData, err := cr.nextBatchFn()
	if err == io.EOF {
		cr.NextChannel()
		return nil, NotEnoughData
	} else if err != nil {
		cr.log.Warn("Failed to read batch from channel", "err", err)
		cr.NextChannel()
		return nil, NotEnoughData
	}

	switch batchData.GetBatchType() {
	case SingularBatchType:
		singularBatch, ok := batchData.Inner().(*SingularBatch)
		if !ok {
			return nil, NewCriticalError(errors.New("failed type assertion to SingularBatch"))
		}
		return singularBatch, nil
	case SpanBatchType:
		if origin := cr.Origin(); !cr.cfg.IsDelta(origin.Time) {
			// Drop the whole channel: a span batch in it is invalid before Delta.
			cr.NextChannel()
			return nil, NewTemporaryError(fmt.Errorf("cannot accept span batch in L1 block %s at time %d", origin, origin.Time))
		}
		rawSpanBatch, ok := batchData.Inner().(*RawSpanBatch)
		if !ok {
			return nil, NewCriticalError(errors.New("failed type assertion to RawSpanBatch"))
		}
		// If the batch is a span batch, derive block inputs from it.
		spanBatch, err := rawSpanBatch.ToSpanBatch(cr.cfg.BlockTime, cr.cfg.Genesis.L2Time, cr.cfg.L2ChainID)
		if err != nil {
			cr.log.Warn("Failed to expand span batch", "err", err)
			cr.NextChannel()
			return nil, NotEnoughData
		}
		return spanBatch, nil
	default:
		// The batch type is checked when decoding, but double check here.
		return nil, NewCriticalError(fmt.Errorf("unrecognized batch type: %d", batchData.GetBatchType()))
	}
}

// FlushChannel drops the current channel and everything buffered for it.
func (cr *ChannelInReader) FlushChannel() {
	cr.NextChannel()
	cr.prev.FlushChannel()
}

// Reset forgets the current channel; buffered bank state resets separately.
func (cr *ChannelInReader) Reset(base eth.L1BlockRef, _ eth.SystemConfig) error {
	cr.nextBatchFn = nil
	return nil
}
