package derive

import (
	"context"
	"errors"
	"io"

	"github.com/ethereum/go-ethereum/log"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

// NextFrameProvider is the stage below the channel bank: a source of parsed frames.
type NextFrameProvider interface {
	NextFrame(ctx context.Context) (Frame, error)
	Origin() eth.L1BlockRef
}

// ChannelBank buffers channel frames and emits full channel data in
// first-opened order. Channels time out after the rollup's channel timeout
// and the total buffered size is bounded; the oldest channels are evicted first.
type ChannelBank struct {
	log log.Logger
	cfg *rollup.Config

	channels     map[ChannelID]*Channel
	channelQueue []ChannelID // first-seen order

	prev NextFrameProvider
}

func NewChannelBank(log log.Logger, cfg *rollup.Config, prev NextFrameProvider) *ChannelBank {
	return &ChannelBank{
		log:          log,
		cfg:          cfg,
		channels:     make(map[ChannelID]*Channel),
		channelQueue: make([]ChannelID, 0, 10),
		prev:         prev,
	}
}

func (cb *ChannelBank) Origin() eth.L1BlockRef {
	return cb.prev.Origin()
}

func (cb *ChannelBank) prune() {
	// Check total size
	totalSize := uint64(0)
	for _, ch := range cb.channels {
		totalSize += ch.Size()
	}
	// Prune until it is reasonable again. The high-priority channel failed to
	// be read, so we start pruning there.
	for totalSize > MaxChannelBankSize {
		id := cb.channelQueue[0]
		ch := cb.channels[id]
		cb.channelQueue = cb.channelQueue[1:]
		delete(cb.channels, id)
		totalSize -= ch.Size()
	}
}

// IngestFrame adds a frame to the channel bank. A frame with an unknown ID
// opens a new channel at the current origin; frames of a timed-out channel,
// and frames that fail the channel's rules, are dropped with a log.
func (cb *ChannelBank) IngestFrame(f Frame) {
	origin := cb.Origin()
	log := cb.log.New("origin", origin, "channel", f.ID, "length", len(f.Data))
	log.Debug("Channel bank got new data")

	currentCh, ok := cb.channels[f.ID]
	if !ok {
		// Create new channel if it doesn't exist yet
		currentCh = NewChannel(f.ID, origin)
		cb.channels[f.ID] = currentCh
		cb.channelQueue = append(cb.channelQueue, f.ID)
	}

	// Check if the channel is timed out
	if currentCh.OpenBlockNumber()+cb.cfg.ChannelTimeout < origin.Number {
		log.Warn("Channel is timed out, ignore frame", "open_block", currentCh.OpenBlockNumber())
		return
	}

	if err := currentCh.AddFrame(f, origin); err != nil {
		log.Warn("Failed to ingest frame into channel", "err", err)
		return
	}

	// Prune after the frame is loaded.
	cb.prune()
}

// Read returns the full data of the first channel if it is ready or timed out;
// io.EOF otherwise.
func (cb *ChannelBank) Read() (data []byte, err error) {
	if len(cb.channelQueue) == 0 {
		return nil, io.EOF
	}
	first := cb.channelQueue[0]
	ch := cb.channels[first]
	timedOut := ch.OpenBlockNumber()+cb.cfg.ChannelTimeout < cb.Origin().Number
	if timedOut {
		cb.log.Info("Channel timed out", "channel", first, "frames", len(ch.inputs))
		delete(cb.channels, first)
		cb.channelQueue = cb.channelQueue[1:]
		return nil, nil // multiple different channels may all be timed out
	}
	if !ch.IsReady() {
		return nil, io.EOF
	}

	delete(cb.channels, first)
	cb.channelQueue = cb.channelQueue[1:]
	r := ch.Reader()
	// Suppress error: the channel is assembled from in-memory buffers.
	data, _ = io.ReadAll(r)
	return data, nil
}

// NextData pulls the next piece of channel data. It returns io.EOF when the
// underlying origin is exhausted, and NotEnoughData when a frame was ingested
// but no channel completed yet.
func (cb *ChannelBank) NextData(ctx context.Context) ([]byte, error) {
	// Keep reading while timed-out channels yield (nil, nil): the next
	// channel in the queue may be ready.
	for {
		data, err := cb.Read()
		if err == nil && data == nil {
			continue
		}
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, io.EOF) {
			return nil, err
		}
		break
	}

	// Read the frame from the underlying source to make progress.
	if frame, err := cb.prev.NextFrame(ctx); err == nil {
		cb.IngestFrame(frame)
		return nil, NotEnoughData
	} else if errors.Is(err, io.EOF) {
		return nil, io.EOF
	} else {
		return nil, err
	}
}

// FlushChannel drops the first channel in the queue, used when a bad batch is
// detected after Holocene.
func (cb *ChannelBank) FlushChannel() {
	if len(cb.channelQueue) == 0 {
		return
	}
	id := cb.channelQueue[0]
	delete(cb.channels, id)
	cb.channelQueue = cb.channelQueue[1:]
}

// Reset clears all buffered channels.
func (cb *ChannelBank) Reset(base eth.L1BlockRef, _ eth.SystemConfig) error {
	cb.log.Debug("Resetting channel bank", "origin", base)
	cb.channels = make(map[ChannelID]*Channel)
	cb.channelQueue = cb.channelQueue[:0]
	return nil
}
