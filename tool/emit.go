package tool

import (
	"context"

	"github.com/sweetpotato0/textgen/message"
)

// Emitter receives the progress updates of a running tool. It returns false
// when the consumer stopped listening.
type Emitter func(*message.Update) bool

type emitterKey struct{}

// WithEmitter attaches e to ctx.
func WithEmitter(ctx context.Context, e Emitter) context.Context {
	return context.WithValue(ctx, emitterKey{}, e)
}

// Emit forwards u to the emitter attached to ctx, if any.
func Emit(ctx context.Context, u *message.Update) bool {
	if e, ok := ctx.Value(emitterKey{}).(Emitter); ok && e != nil {
		return e(u)
	}
	return true
}
