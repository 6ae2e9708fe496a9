package derive

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oplabs/fp-program/eth"
)

func TestChannelFrameAssembly(t *testing.T) {
	id := ChannelID{0x01}
	openBlock := eth.L1BlockRef{Number: 100}
	ch := NewChannel(id, openBlock)

	require.False(t, ch.IsReady())

	require.NoError(t, ch.AddFrame(Frame{ID: id, FrameNumber: 1, Data: []byte("world")}, openBlock))
	require.False(t, ch.IsReady(), "missing first frame")

	require.NoError(t, ch.AddFrame(Frame{ID: id, FrameNumber: 2, Data: []byte("!"), IsLast: true}, openBlock))
	require.False(t, ch.IsReady(), "still missing first frame")

	require.NoError(t, ch.AddFrame(Frame{ID: id, FrameNumber: 0, Data: []byte("hello ")}, openBlock))
	require.True(t, ch.IsReady())

	data, err := io.ReadAll(ch.Reader())
	require.NoError(t, err)
	require.Equal(t, "hello world!", string(data))
}

func TestChannelRejectsInvalidFrames(t *testing.T) {
	id := ChannelID{0x02}
	openBlock := eth.L1BlockRef{Number: 5}
	ch := NewChannel(id, openBlock)

	require.Error(t, ch.AddFrame(Frame{ID: ChannelID{0xff}, FrameNumber: 0}, openBlock), "wrong channel ID")

	require.NoError(t, ch.AddFrame(Frame{ID: id, FrameNumber: 0, Data: []byte("a")}, openBlock))
	require.ErrorIs(t, ch.AddFrame(Frame{ID: id, FrameNumber: 0, Data: []byte("b")}, openBlock), DuplicateErr)

	require.NoError(t, ch.AddFrame(Frame{ID: id, FrameNumber: 1, Data: []byte("end"), IsLast: true}, openBlock))
	require.Error(t, ch.AddFrame(Frame{ID: id, FrameNumber: 2, Data: []byte("late")}, openBlock), "past the end frame")
	require.Error(t, ch.AddFrame(Frame{ID: id, FrameNumber: 3, IsLast: true}, openBlock), "second closing frame")
}

func TestChannelPrunesFramesPastEnd(t *testing.T) {
	id := ChannelID{0x03}
	openBlock := eth.L1BlockRef{Number: 5}
	ch := NewChannel(id, openBlock)

	require.NoError(t, ch.AddFrame(Frame{ID: id, FrameNumber: 0, Data: []byte("keep ")}, openBlock))
	require.NoError(t, ch.AddFrame(Frame{ID: id, FrameNumber: 5, Data: []byte("drop")}, openBlock))
	require.NoError(t, ch.AddFrame(Frame{ID: id, FrameNumber: 1, Data: []byte("this"), IsLast: true}, openBlock))
	require.True(t, ch.IsReady())

	data, err := io.ReadAll(ch.Reader())
	require.NoError(t, err)
	require.Equal(t, "keep this", string(data))
}
