package derive

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomFrame(rng *rand.Rand) Frame {
	var id ChannelID
	rng.Read(id[:])
	data := make([]byte, rng.Intn(1000)+1)
	rng.Read(data)
	return Frame{
		ID:          id,
		FrameNumber: uint16(rng.Uint32()),
		Data:        data,
		IsLast:      rng.Intn(2) == 0,
	}
}

func TestFrameMarshalRoundtrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1337))
	for i := 0; i < 16; i++ {
		frame := randomFrame(rng)
		var buf bytes.Buffer
		require.NoError(t, frame.MarshalBinary(&buf))

		var result Frame
		require.NoError(t, result.UnmarshalBinary(bytes.NewReader(buf.Bytes())))
		require.Equal(t, frame, result)
	}
}

func TestParseFramesConcatenated(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var frames []Frame
	buf := []byte{DerivationVersion0}
	for i := 0; i < 5; i++ {
		frame := randomFrame(rng)
		frames = append(frames, frame)
		var frameBuf bytes.Buffer
		require.NoError(t, frame.MarshalBinary(&frameBuf))
		buf = append(buf, frameBuf.Bytes()...)
	}

	parsed, err := ParseFrames(buf)
	require.NoError(t, err)
	require.Equal(t, frames, parsed)
}

func TestParseFramesRejects(t *testing.T) {
	t.Run("empty data", func(t *testing.T) {
		_, err := ParseFrames(nil)
		require.Error(t, err)
	})
	t.Run("wrong version", func(t *testing.T) {
		_, err := ParseFrames([]byte{1, 0, 0})
		require.Error(t, err)
	})
	t.Run("version only", func(t *testing.T) {
		_, err := ParseFrames([]byte{DerivationVersion0})
		require.Error(t, err)
	})
	t.Run("truncated frame", func(t *testing.T) {
		frame := Frame{ID: ChannelID{0xaa}, FrameNumber: 0, Data: []byte{1, 2, 3}, IsLast: true}
		var buf bytes.Buffer
		buf.WriteByte(DerivationVersion0)
		require.NoError(t, frame.MarshalBinary(&buf))
		_, err := ParseFrames(buf.Bytes()[:buf.Len()-2])
		require.Error(t, err)
	})
	t.Run("valid prefix retained", func(t *testing.T) {
		good := Frame{ID: ChannelID{0xbb}, FrameNumber: 7, Data: []byte{9}, IsLast: false}
		var buf bytes.Buffer
		buf.WriteByte(DerivationVersion0)
		require.NoError(t, good.MarshalBinary(&buf))
		withJunk := append(buf.Bytes(), 0xde, 0xad)
		frames, err := ParseFrames(withJunk)
		require.Error(t, err)
		require.Len(t, frames, 1)
		require.Equal(t, good, frames[0])
	})
	t.Run("invalid is_last byte", func(t *testing.T) {
		frame := Frame{ID: ChannelID{0xcc}, FrameNumber: 0, Data: []byte{1}, IsLast: false}
		var buf bytes.Buffer
		buf.WriteByte(DerivationVersion0)
		require.NoError(t, frame.MarshalBinary(&buf))
		data := buf.Bytes()
		data[len(data)-1] = 2
		_, err := ParseFrames(data)
		require.ErrorContains(t, err, "is_last")
	})
}
