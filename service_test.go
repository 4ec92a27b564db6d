package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fventuri/navtex/sitor"
)

func testDecoderConfig() DecoderConfig {
	return DefaultConfig().Decoder
}

func TestNewServiceInvalidRate(t *testing.T) {
	_, err := NewService(0, testDecoderConfig(), 10)
	assert.Error(t, err)
}

func TestServiceMessageHistory(t *testing.T) {
	svc, err := NewService(11025, testDecoderConfig(), 3)
	require.NoError(t, err)

	var seen []DecodedMessage
	svc.OnMessage(func(m DecodedMessage) { seen = append(seen, m) })

	for i := 1; i <= 5; i++ {
		svc.handleMessage(sitor.Message{
			Origin:     'F',
			Subject:    'A',
			Number:     i,
			Text:       "MSG",
			HeaderSeen: true,
		})
	}

	assert.Len(t, seen, 5)

	recent := svc.RecentMessages()
	require.Len(t, recent, 3)
	assert.Equal(t, 3, recent[0].Number)
	assert.Equal(t, 5, recent[2].Number)
	assert.Equal(t, "F", recent[0].Origin)
}

func TestServiceDrainText(t *testing.T) {
	svc, err := NewService(11025, testDecoderConfig(), 10)
	require.NoError(t, err)

	runeSink{svc}.Write([]byte("ABC"))
	assert.Equal(t, "ABC", svc.DrainText())
	assert.Equal(t, "", svc.DrainText())
}

func TestServiceStartStop(t *testing.T) {
	svc, err := NewService(11025, testDecoderConfig(), 10)
	require.NoError(t, err)

	enc := NewStreamEncoder(false)
	defer enc.Close()

	audioChan := make(chan []int16, 4)
	resultChan := make(chan []byte, 4)

	require.NoError(t, svc.Start(audioChan, resultChan, enc))
	assert.Error(t, svc.Start(audioChan, resultChan, enc), "double start must fail")

	audioChan <- make([]int16, 1024)
	require.NoError(t, svc.Stop())
}
