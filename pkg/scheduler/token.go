package scheduler

import (
	"context"
	"sync"
)

// Token is a process-wide cancellation token. Cancel is idempotent.
type Token struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewToken derives a token from parent.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancel(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Cancel fires the token. Calling it more than once has no further effect.
func (t *Token) Cancel() {
	t.once.Do(t.cancel)
}

// Done is closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Context returns a context cancelled with the token.
func (t *Token) Context() context.Context { return t.ctx }

// Cancelled reports whether the token has fired.
func (t *Token) Cancelled() bool { return t.ctx.Err() != nil }
