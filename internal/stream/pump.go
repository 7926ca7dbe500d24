package stream

import (
	"context"
	"errors"
	"io"

	"scancal/internal/apperr"
	appLog "scancal/internal/log"
)

const defaultReadSize = 32 * 1024

// Stats summarizes one pumped stream.
type Stats struct {
	Frames        int
	DecodeErrors  int
	ResidualBytes int
	SawComplete   bool
}

// Pump reads r until EOF, decoding frames and handing each to fn in arrival
// order. A malformed frame is logged and skipped. A read error other than
// EOF ends the pump with a transport error; frames already handed to fn
// stay handed. Cancellation of ctx is returned as ctx.Err().
func Pump(ctx context.Context, r io.Reader, fn func(Frame)) (stats Stats, err error) {
	dec := NewDecoder()
	buf := make([]byte, defaultReadSize)

	defer func() {
		if residual := dec.Close(); residual > 0 {
			stats.ResidualBytes = residual
			appLog.Info("stream: discarding unterminated trailing frame", "bytes", residual)
		}
	}()

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, ctxErr
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			for _, line := range dec.Feed(buf[:n]) {
				frame, parseErr := ParseFrame(line)
				if parseErr != nil {
					stats.DecodeErrors++
					appLog.Error("stream: frame dropped", parseErr, "bytes", len(line))
					continue
				}
				stats.Frames++
				if frame.Complete {
					stats.SawComplete = true
				}
				if frame.Error != "" {
					appLog.Info("stream: service reported chunk failure",
						"chunk_index", frame.ChunkIndex,
						"total_chunks", frame.TotalChunks,
						"error", frame.Error,
					)
				}
				fn(frame)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return stats, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			return stats, apperr.Transport(readErr, "read response stream")
		}
	}
}
