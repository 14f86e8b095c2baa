package llm

import "context"

// relayBuffer is the capacity of channels returned by [Relay].
const relayBuffer = 32

// Source adapts a backend stream for [Relay].
type Source struct {
	// Next returns the next chunk and false once the stream is exhausted.
	Next func() (Chunk, bool)

	// Err reports why the stream ended. It is only called after Next
	// returned false. Nil means a clean end.
	Err func() error

	// Close releases the stream. Optional; always called.
	Close func()
}

// Relay drains src into a new channel that satisfies the
// [Provider.StreamCompletion] contract: empty chunks are dropped, finish
// reasons are normalised, a stream error becomes a final [FinishError]
// chunk, and the channel is closed when the stream ends or ctx is done.
func Relay(ctx context.Context, src Source) <-chan Chunk {
	ch := make(chan Chunk, relayBuffer)
	go func() {
		defer close(ch)
		if src.Close != nil {
			defer src.Close()
		}
		send := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			c, ok := src.Next()
			if !ok {
				break
			}
			c.FinishReason = NormalizeFinish(c.FinishReason)
			if c.Text == "" && c.FinishReason == "" {
				continue
			}
			if !send(c) {
				return
			}
		}
		if src.Err == nil {
			return
		}
		if err := src.Err(); err != nil && ctx.Err() == nil {
			send(Chunk{FinishReason: FinishError, Text: err.Error()})
		}
	}()
	return ch
}

// NormalizeFinish maps backend specific finish reasons onto [FinishStop] and
// [FinishLength]. Unknown reasons are returned unchanged.
func NormalizeFinish(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "STOP", "eos":
		return FinishStop
	case "max_tokens", "MAX_TOKENS":
		return FinishLength
	}
	return reason
}
