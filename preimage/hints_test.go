package preimage

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHintWriterReader(t *testing.T) {
	aChan, bChan := CreateBidirectionalChannel()
	writer := NewHintWriter(aChan)
	reader := NewHintReader(bChan)

	var got []string
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2; i++ {
			err := reader.NextHint(func(hint string) error {
				got = append(got, hint)
				return nil
			})
			require.NoError(t, err)
		}
	}()

	writer.Hint(RawHint("l1-block-header 0xabcd"))
	writer.Hint(RawHint(""))
	wg.Wait()
	require.Equal(t, []string{"l1-block-header 0xabcd", ""}, got)
}

func TestHintReaderAcksFailedHint(t *testing.T) {
	aChan, bChan := CreateBidirectionalChannel()
	writer := NewHintWriter(aChan)
	reader := NewHintReader(bChan)

	handlerErr := errors.New("no such data")
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := reader.NextHint(func(hint string) error {
			return handlerErr
		})
		require.ErrorIs(t, err, handlerErr)
	}()

	// The writer must not block even though the handler failed.
	writer.Hint(RawHint("l2-state-node 0x1234"))
	wg.Wait()
}
