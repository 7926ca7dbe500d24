package stream

import (
	"encoding/json"
	"errors"

	"scancal/internal/apperr"
	appLog "scancal/internal/log"
	"scancal/internal/model"
)

// Frame is one progress record of a streaming parse response.
type Frame struct {
	ChunkIndex  int
	TotalChunks int
	NewEvents   []model.EventRecord
	Complete    bool
	// Error is set when the service failed to process this chunk. The frame
	// still counts as progress.
	Error string
}

type frameWire struct {
	ChunkIndex  *int              `json:"chunk_index"`
	TotalChunks *int              `json:"total_chunks"`
	NewEvents   []json.RawMessage `json:"new_events"`
	Complete    bool              `json:"complete"`
	Error       string            `json:"error"`
}

var errNotObject = errors.New("frame is not a JSON object")

// ParseFrame decodes one line. A line that is not a JSON object, or whose
// fields have the wrong types, yields a decode error. Individual events
// that fail to decode or have no title are dropped and logged; the rest of
// the frame is kept.
func ParseFrame(line []byte) (Frame, error) {
	var w frameWire
	if err := json.Unmarshal(line, &w); err != nil {
		return Frame{}, apperr.Decode(err, "decode frame")
	}
	if w.ChunkIndex == nil && w.TotalChunks == nil && w.NewEvents == nil && !w.Complete && w.Error == "" {
		// Valid JSON, but nothing that looks like progress (e.g. `null`, `[]`, `{}`).
		return Frame{}, apperr.Decode(errNotObject, "decode frame")
	}

	f := Frame{
		Complete: w.Complete,
		Error:    w.Error,
	}
	if w.ChunkIndex != nil {
		f.ChunkIndex = *w.ChunkIndex
	}
	if w.TotalChunks != nil {
		f.TotalChunks = *w.TotalChunks
	}
	// The final frame of the service carries no chunk index; report it as
	// fully processed.
	if f.Complete && w.ChunkIndex == nil {
		f.ChunkIndex = f.TotalChunks
	}

	f.NewEvents = make([]model.EventRecord, 0, len(w.NewEvents))
	for i, raw := range w.NewEvents {
		var ev model.EventRecord
		if err := json.Unmarshal(raw, &ev); err != nil {
			appLog.Error("stream: event decode failed; skipping", err, "chunk_index", f.ChunkIndex, "event_index", i)
			continue
		}
		if err := ev.Validate(); err != nil {
			appLog.Error("stream: invalid event; skipping", err, "chunk_index", f.ChunkIndex, "event_index", i)
			continue
		}
		f.NewEvents = append(f.NewEvents, ev)
	}

	return f, nil
}
