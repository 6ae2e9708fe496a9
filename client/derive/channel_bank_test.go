package derive

import (
	"context"
	"io"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/eth"
	"github.com/oplabs/fp-program/rollup"
)

type stubFrameProvider struct {
	frames []Frame
	origin eth.L1BlockRef
}

func (s *stubFrameProvider) NextFrame(ctx context.Context) (Frame, error) {
	if len(s.frames) == 0 {
		return Frame{}, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *stubFrameProvider) Origin() eth.L1BlockRef {
	return s.origin
}

func testBankConfig() *rollup.Config {
	return &rollup.Config{ChannelTimeout: 10, BlockTime: 2}
}

func drainBank(t *testing.T, cb *ChannelBank) ([]byte, error) {
	for {
		data, err := cb.NextData(context.Background())
		if err == NotEnoughData {
			continue
		}
		return data, err
	}
}

func TestChannelBankEmitsReadyChannel(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())
	id := ChannelID{0xaa}
	prev := &stubFrameProvider{
		origin: eth.L1BlockRef{Number: 50},
		frames: []Frame{
			{ID: id, FrameNumber: 0, Data: []byte("chunk-0|")},
			{ID: id, FrameNumber: 1, Data: []byte("chunk-1"), IsLast: true},
		},
	}
	cb := NewChannelBank(logger, testBankConfig(), prev)

	data, err := drainBank(t, cb)
	require.NoError(t, err)
	require.Equal(t, "chunk-0|chunk-1", string(data))

	_, err = drainBank(t, cb)
	require.ErrorIs(t, err, io.EOF)
}

func TestChannelBankTimeoutBoundary(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())
	cfg := testBankConfig()
	id := ChannelID{0xbb}

	// A channel opened at block N is still closable at N+timeout.
	t.Run("at timeout", func(t *testing.T) {
		prev := &stubFrameProvider{origin: eth.L1BlockRef{Number: 100}}
		cb := NewChannelBank(logger, cfg, prev)
		cb.IngestFrame(Frame{ID: id, FrameNumber: 0, Data: []byte("open")})

		prev.origin = eth.L1BlockRef{Number: 100 + cfg.ChannelTimeout}
		cb.IngestFrame(Frame{ID: id, FrameNumber: 1, Data: []byte("|closed"), IsLast: true})
		data, err := cb.Read()
		require.NoError(t, err)
		require.Equal(t, "open|closed", string(data))
	})

	// One block later the channel is rejected and dropped.
	t.Run("past timeout", func(t *testing.T) {
		prev := &stubFrameProvider{origin: eth.L1BlockRef{Number: 100}}
		cb := NewChannelBank(logger, cfg, prev)
		cb.IngestFrame(Frame{ID: id, FrameNumber: 0, Data: []byte("open")})

		prev.origin = eth.L1BlockRef{Number: 100 + cfg.ChannelTimeout + 1}
		cb.IngestFrame(Frame{ID: id, FrameNumber: 1, Data: []byte("|closed"), IsLast: true})
		data, err := cb.Read()
		require.NoError(t, err)
		require.Nil(t, data, "timed-out channel is dropped, not emitted")
	})
}

func TestChannelBankOrdersByFirstSeen(t *testing.T) {
	logger := log.NewLogger(log.DiscardHandler())
	first := ChannelID{0x01}
	second := ChannelID{0x02}
	prev := &stubFrameProvider{
		origin: eth.L1BlockRef{Number: 7},
		frames: []Frame{
			{ID: first, FrameNumber: 0, Data: []byte("first")},
			// The second channel completes before the first.
			{ID: second, FrameNumber: 0, Data: []byte("second"), IsLast: true},
		},
	}
	cb := NewChannelBank(logger, testBankConfig(), prev)

	// The second channel is ready, but the first was seen earlier and is still open.
	_, err := drainBank(t, cb)
	require.ErrorIs(t, err, io.EOF)

	cb.IngestFrame(Frame{ID: first, FrameNumber: 1, Data: []byte("!"), IsLast: true})
	data, err := cb.Read()
	require.NoError(t, err)
	require.Equal(t, "first!", string(data))
	data, err = cb.Read()
	require.NoError(t, err)
	require.Equal(t, "second", string(data))
}
