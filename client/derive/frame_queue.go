package derive

import (
	"context"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

type NextDataProvider interface {
	NextData(ctx context.Context) ([]byte, error)
	Origin() eth.L1BlockRef
}

// FrameQueue parses the frames out of raw batcher data. Before Holocene, a
// malformed frame still admits the valid frames preceding it; after Holocene
// any parse failure discards the whole payload.
type FrameQueue struct {
	log    log.Logger
	cfg    *rollup.Config
	frames []Frame
	prev   NextDataProvider
}

func NewFrameQueue(log log.Logger, cfg *rollup.Config, prev NextDataProvider) *FrameQueue {
	return &FrameQueue{
		log:  log,
		cfg:  cfg,
		prev: prev,
	}
}

func (fq *FrameQueue) Origin() eth.L1BlockRef {
	return fq.prev.Origin()
}

func (fq *FrameQueue) NextFrame(ctx context.Context) (Frame, error) {
	// Find more frames if we need to
	if len(fq.frames) == 0 {
		data, err := fq.prev.NextData(ctx)
		if err != nil {
			return Frame{}, err
		}
		frames, err := ParseFrames(data)
		if err != nil {
			fq.log.Warn("Failed to parse frames", "origin", fq.Origin(), "err", err)
			if fq.cfg.IsHolocene(fq.Origin().Time) {
				// Strict mode: the rest of the payload is discarded with the bad frame.
				frames = nil
			}
		}
		fq.frames = append(fq.frames, frames...)
	}
	// If we did not add more frames but still have more data, retry this function
	if len(fq.frames) == 0 {
		return Frame{}, NotEnoughData
	}

	ret := fq.frames[0]
	fq.frames = fq.frames[1:]
	return ret, nil
}

// Reset drops all buffered frames.
func (fq *FrameQueue) Reset(base eth.L1BlockRef, sysCfg eth.SystemConfig) error {
	fq.frames = fq.frames[:0]
	return nil
}

var _ NextFrameProvider = (*FrameQueue)(nil)
