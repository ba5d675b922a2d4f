package kiro

import (
	"context"
	"io"

	"github.com/awsl-project/kirod/internal/domain"
	"github.com/awsl-project/kirod/internal/eventstream"
)

// ProcessStream reads the upstream body chunk by chunk, feeds the incremental
// frame decoder, and drives every decoded message through the translator.
// The caller owns Start/Finish; a nil return means the stream ended cleanly.
func ProcessStream(ctx context.Context, body io.Reader, tr *Translator) error {
	dec := eventstream.NewDecoder()
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			msgs, decErr := dec.Feed(buf[:n])
			for _, msg := range msgs {
				if err := tr.HandleMessage(msg); err != nil {
					return err
				}
			}
			if decErr != nil {
				// Frame corruption is unrecoverable mid-stream; the
				// remaining bytes cannot be trusted.
				return decErr
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.NewTransientError(readErr, "read upstream stream")
		}
	}
}
