// Package respond defines the outbound interface to whatever produces the
// assistant's answer, plus two implementations: an echo responder for
// hardware bring-up and a conversation responder backed by a chat model.
package respond

import (
	"context"
	"strings"
)

// Responder turns a final transcript into a lazy sequence of response text
// deltas. The channel is closed when the response is complete or ctx ends;
// the consumer must drain it or cancel ctx.
type Responder interface {
	Respond(ctx context.Context, text string) (<-chan string, error)
}

// Resetter is implemented by responders that keep conversation history.
type Resetter interface {
	ResetHistory()
}

// Func adapts a function to [Responder].
type Func func(ctx context.Context, text string) (<-chan string, error)

// Respond calls f.
func (f Func) Respond(ctx context.Context, text string) (<-chan string, error) { return f(ctx, text) }

// Echo repeats the transcript back, optionally after a prefix.
type Echo struct {
	Prefix string
}

var _ Responder = Echo{}

// Respond implements [Responder].
func (e Echo) Respond(_ context.Context, text string) (<-chan string, error) {
	ch := make(chan string, 1)
	ch <- strings.TrimSpace(e.Prefix + " " + text)
	close(ch)
	return ch, nil
}

// Static returns a Responder that emits deltas verbatim for every request.
func Static(deltas ...string) Responder {
	return Func(func(ctx context.Context, _ string) (<-chan string, error) {
		ch := make(chan string)
		go func() {
			defer close(ch)
			for _, d := range deltas {
				select {
				case ch <- d:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	})
}
