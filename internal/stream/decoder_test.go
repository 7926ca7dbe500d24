package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scancal/internal/apperr"
	"scancal/internal/model"
)

const sampleStream = `{"chunk_index":1,"total_chunks":2,"new_events":[{"event":"Café ☕ social","urgency":"high"}]}
{"chunk_index":2,"total_chunks":2,"new_events":[{"event":"Lab report","urgency":"low"}]}

{"complete":true,"total_chunks":2,"new_events":[]}
`

func feedAll(chunks [][]byte) ([]string, int) {
	dec := NewDecoder()
	var out []string
	for _, c := range chunks {
		for _, f := range dec.Feed(c) {
			out = append(out, string(f))
		}
	}
	return out, dec.Close()
}

func splitEvery(data []byte, n int) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		k := min(n, len(data))
		chunks = append(chunks, data[:k])
		data = data[k:]
	}
	return chunks
}

func TestDecoderBoundaryIndependence(t *testing.T) {
	data := []byte(sampleStream)
	want, residual := feedAll([][]byte{data})
	require.Len(t, want, 3)
	require.Zero(t, residual)

	// Every chunk size, including ones that split the multi-byte runes.
	for size := 1; size <= len(data); size++ {
		got, residual := feedAll(splitEvery(data, size))
		assert.Equal(t, want, got, "chunk size %d", size)
		assert.Zero(t, residual, "chunk size %d", size)
	}
}

func TestDecoderPreservesSplitMultiByteRune(t *testing.T) {
	line := []byte("{\"event\":\"☕\"}\n")
	idx := bytes.Index(line, []byte("☕"))

	dec := NewDecoder()
	assert.Empty(t, dec.Feed(line[:idx+1]))
	frames := dec.Feed(line[idx+1:])
	require.Len(t, frames, 1)
	assert.Equal(t, `{"event":"☕"}`, string(frames[0]))
}

func TestDecoderDiscardsUnterminatedResidual(t *testing.T) {
	dec := NewDecoder()
	frames := dec.Feed([]byte("{\"a\":1}\r\n{\"partial\":"))
	require.Len(t, frames, 1)
	assert.Equal(t, `{"a":1}`, string(frames[0]))
	assert.Equal(t, len(`{"partial":`), dec.Pending())

	assert.Equal(t, len(`{"partial":`), dec.Close())
	assert.Nil(t, dec.Feed([]byte("\n")))
}

func TestParseFrame(t *testing.T) {
	t.Run("progress frame", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"chunk_index":1,"total_chunks":3,"new_events":[{"event":"A","urgency":"medium"},{"event":""}]}`))
		require.NoError(t, err)
		assert.Equal(t, 1, f.ChunkIndex)
		assert.Equal(t, 3, f.TotalChunks)
		assert.False(t, f.Complete)
		require.Len(t, f.NewEvents, 1, "untitled event is dropped")
		assert.Equal(t, "A", f.NewEvents[0].Title)
		assert.Equal(t, model.UrgencyMedium, f.NewEvents[0].Urgency)
	})

	t.Run("final frame without chunk index", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"complete":true,"total_chunks":4,"new_events":[],"all_events":[{"event":"A"}]}`))
		require.NoError(t, err)
		assert.True(t, f.Complete)
		assert.Equal(t, 4, f.ChunkIndex)
		assert.Empty(t, f.NewEvents)
	})

	t.Run("chunk error frame", func(t *testing.T) {
		f, err := ParseFrame([]byte(`{"chunk_index":0,"total_chunks":2,"error":"rate limited","new_events":[]}`))
		require.NoError(t, err)
		assert.Equal(t, "rate limited", f.Error)
	})

	for _, bad := range []string{`not json`, `{"chunk_index":"x"}`, `null`, `[]`, `{}`} {
		t.Run("malformed "+bad, func(t *testing.T) {
			_, err := ParseFrame([]byte(bad))
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrDecode)
		})
	}
}

func TestPumpSkipsMalformedFrames(t *testing.T) {
	body := "{\"chunk_index\":1,\"total_chunks\":2,\"new_events\":[{\"event\":\"A\"}]}\n" +
		"garbage\n" +
		"{\"complete\":true,\"total_chunks\":2,\"new_events\":[{\"event\":\"B\"}]}\n" +
		"{\"truncated\""

	var got []Frame
	stats, err := Pump(context.Background(), iotest.OneByteReader(strings.NewReader(body)), func(f Frame) {
		got = append(got, f)
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].NewEvents[0].Title)
	assert.Equal(t, "B", got[1].NewEvents[0].Title)
	assert.Equal(t, Stats{Frames: 2, DecodeErrors: 1, ResidualBytes: len(`{"truncated"`), SawComplete: true}, stats)
}

func TestPumpTransportErrorKeepsDeliveredFrames(t *testing.T) {
	first := "{\"chunk_index\":1,\"total_chunks\":2,\"new_events\":[{\"event\":\"A\"}]}\n"
	r := io.MultiReader(strings.NewReader(first), iotest.ErrReader(errors.New("connection reset")))

	var got []Frame
	stats, err := Pump(context.Background(), r, func(f Frame) { got = append(got, f) })
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrTransport)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, stats.Frames)
}

func TestPumpHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Pump(ctx, strings.NewReader(sampleStream), func(Frame) {
		t.Fatal("no frame expected after cancellation")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
