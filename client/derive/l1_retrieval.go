package derive

import (
	"context"
	"errors"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
)

// DataIter iterates over the batcher data of one L1 block.
type DataIter interface {
	Next(ctx context.Context) (eth.Data, error)
}

// DataAvailabilitySource opens the batcher data of an L1 block, either
// calldata or blobs depending on the active fork.
type DataAvailabilitySource interface {
	OpenData(ctx context.Context, ref eth.L1BlockRef, batcherAddr common.Address) (DataIter, error)
}

type NextBlockProvider interface {
	NextL1Block(ctx context.Context) (eth.L1BlockRef, error)
	Origin() eth.L1BlockRef
	SystemConfig() eth.SystemConfig
}

// L1Retrieval pulls the data-availability payloads of the traversal's blocks.
type L1Retrieval struct {
	log     log.Logger
	dataSrc DataAvailabilitySource
	prev    NextBlockProvider

	datas DataIter
}

func NewL1Retrieval(log log.Logger, dataSrc DataAvailabilitySource, prev NextBlockProvider) *L1Retrieval {
	return &L1Retrieval{
		log:     log,
		dataSrc: dataSrc,
		prev:    prev,
	}
}

func (l1r *L1Retrieval) Origin() eth.L1BlockRef {
	return l1r.prev.Origin()
}

// NextData returns the next piece of batcher data of the current origin, or
// io.EOF when the origin is exhausted.
func (l1r *L1Retrieval) NextData(ctx context.Context) ([]byte, error) {
	if l1r.datas == nil {
		next, err := l1r.prev.NextL1Block(ctx)
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		} else if err != nil {
			return nil, err
		}
		if l1r.datas, err = l1r.dataSrc.OpenData(ctx, next, l1r.prev.SystemConfig().BatcherAddr); err != nil {
			return nil, err
		}
	}

	data, err := l1r.datas.Next(ctx)
	if errors.Is(err, io.EOF) {
		l1r.datas = nil
		return nil, NotEnoughData
	} else if err != nil {
		return nil, err
	}
	return data, nil
}

// Reset drops the current data iterator.
func (l1r *L1Retrieval) Reset(base eth.L1BlockRef, sysCfg eth.SystemConfig) error {
	l1r.datas = nil
	l1r.log.Info("Reset L1 retrieval", "origin", base)
	return nil
}
