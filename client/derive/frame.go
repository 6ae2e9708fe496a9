package derive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame is one fragment of a channel as carried in a batcher transaction:
//
//	channel_id(16) || frame_number(u16 BE) || frame_data_length(u32 BE) || frame_data || is_last(u8)
type Frame struct {
	ID          ChannelID
	FrameNumber uint16
	Data        []byte
	IsLast      bool
}

// MarshalBinary appends the wire encoding of the frame to w.
func (f *Frame) MarshalBinary(w io.Writer) error {
	if _, err := w.Write(f.ID[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, f.FrameNumber); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(f.Data))); err != nil {
		return err
	}
	if _, err := w.Write(f.Data); err != nil {
		return err
	}
	if f.IsLast {
		_, err := w.Write([]byte{1})
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

type byteReader interface {
	io.Reader
	io.ByteReader
}

// UnmarshalBinary consumes one frame from r.
func (f *Frame) UnmarshalBinary(r byteReader) error {
	if _, err := io.ReadFull(r, f.ID[:]); err != nil {
		return fmt.Errorf("reading channel_id: %w", eofAsUnexpected(err))
	}
	if err := binary.Read(r, binary.BigEndian, &f.FrameNumber); err != nil {
		return fmt.Errorf("reading frame_number: %w", eofAsUnexpected(err))
	}

	var frameLength uint32
	if err := binary.Read(r, binary.BigEndian, &frameLength); err != nil {
		return fmt.Errorf("reading frame_data_length: %w", eofAsUnexpected(err))
	}
	if frameLength > MaxFrameLen {
		return fmt.Errorf("frame_data_length is too large: %d", frameLength)
	}
	f.Data = make([]byte, int(frameLength))
	if _, err := io.ReadFull(r, f.Data); err != nil {
		return fmt.Errorf("reading frame_data: %w", eofAsUnexpected(err))
	}

	isLastByte, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("reading final byte: %w", eofAsUnexpected(err))
	}
	switch isLastByte {
	case 0:
		f.IsLast = false
	case 1:
		f.IsLast = true
	default:
		return errors.New("invalid byte as is_last")
	}
	return nil
}

// eofAsUnexpected turns io.EOF into io.ErrUnexpectedEOF: a frame that ends
// mid-field is always malformed, and io.EOF must not leak as an inter-stage signal.
func eofAsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ParseFrames parses the version byte and all frames of a batcher
// transaction's data. A malformed frame stops parsing: the error is returned
// together with the frames parsed before it.
func ParseFrames(data []byte) ([]Frame, error) {
	if len(data) == 0 {
		return nil, errors.New("data array must not be empty")
	}
	if data[0] != DerivationVersion0 {
		return nil, fmt.Errorf("invalid derivation format byte: got %d", data[0])
	}
	buf := bytes.NewReader(data[1:])

	var frames []Frame
	for buf.Len() > 0 {
		var f Frame
		if err := f.UnmarshalBinary(buf); err != nil {
			return frames, fmt.Errorf("parsing frame %d: %w", len(frames), err)
		}
		frames = append(frames, f)
	}
	if len(frames) == 0 {
		return nil, errors.New("was not able to find any frames")
	}
	return frames, nil
}
