package preimage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HintWriter writes hints to the host through the hint channel.
// After every hint it blocks on a single acknowledgement byte, so the host is
// guaranteed to have finished preparing pre-images before the program
// continues to request them.
type HintWriter struct {
	rw io.ReadWriter
}

var _ Hinter = (*HintWriter)(nil)

func NewHintWriter(rw io.ReadWriter) *HintWriter {
	return &HintWriter{rw: rw}
}

func (hw *HintWriter) Hint(v Hint) {
	hint := v.Hint()
	var hintBytes []byte
	hintBytes = binary.BigEndian.AppendUint32(hintBytes, uint32(len(hint)))
	hintBytes = append(hintBytes, []byte(hint)...)
	if _, err := hw.rw.Write(hintBytes); err != nil {
		panic(fmt.Errorf("failed to write hint: %w", err))
	}
	ack := [1]byte{}
	if _, err := io.ReadFull(hw.rw, ack[:]); err != nil {
		panic(fmt.Errorf("failed to read hint ack: %w", err))
	}
}

// HintHandler processes a decoded hint string on the host side.
type HintHandler func(hint string) error

// HintReader reads hints from the channel and routes them to a handler,
// acknowledging each one after the handler returns.
type HintReader struct {
	rw io.ReadWriter
}

func NewHintReader(rw io.ReadWriter) *HintReader {
	return &HintReader{rw: rw}
}

func (hr *HintReader) NextHint(router HintHandler) error {
	var length uint32
	if err := binary.Read(hr.rw, binary.BigEndian, &length); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("failed to read hint length prefix: %w", err)
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(hr.rw, payload); err != nil {
			return fmt.Errorf("failed to read hint payload (length %d): %w", length, err)
		}
	}
	if err := router(string(payload)); err != nil {
		// Write back on error to unblock the client, the hint is advisory only.
		if _, ackErr := hr.rw.Write([]byte{0}); ackErr != nil {
			return fmt.Errorf("failed to ack failed hint (%w): %w", err, ackErr)
		}
		return fmt.Errorf("failed to handle hint: %w", err)
	}
	if _, err := hr.rw.Write([]byte{0}); err != nil {
		return fmt.Errorf("failed to ack hint: %w", err)
	}
	return nil
}

// BufferedHintReader wraps a HintReader with buffered reads, to limit syscalls
// when the channel is a real file descriptor.
func BufferedHintReader(rw io.ReadWriter) *HintReader {
	return NewHintReader(NewReadWritePair(bufio.NewReader(rw), rw))
}
