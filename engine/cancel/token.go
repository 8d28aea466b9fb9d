// Package cancel wraps context.Context's cancellation in the one-way-signal
// vocabulary the pipeline's design calls for (spec component C2), without
// introducing a bespoke propagation mechanism: a Token is a context.Context,
// and firing it is calling the paired CancelFunc.
//
// Blocking operations (ResourceFetchers, ChatProvider calls) accept a Token
// and must honor it between network calls and between parsed stream chunks;
// they never need to poll anything beyond ctx.Err().
package cancel

import (
	"context"
	"errors"
)

// ErrCancelled is the cause recorded when a Token is fired by job
// cancellation (as opposed to a deadline or an unrelated parent cancellation).
var ErrCancelled = errors.New("cancelled")

// Token is a one-way cancellation signal. It is an ordinary context.Context;
// the alias exists so call sites read as "this accepts a cancellation token"
// rather than "this accepts an arbitrary context".
type Token = context.Context

// Source owns a cancellable Token and its trigger. One Source is created per
// job; firing it cancels every Token derived from it, which in turn
// interrupts every worker currently executing a card for that job at its next
// cooperative check.
type Source struct {
	token  Token
	cancel context.CancelCauseFunc
}

// NewSource derives a cancellable Token from parent.
func NewSource(parent context.Context) *Source {
	ctx, cancel := context.WithCancelCause(parent)
	return &Source{token: ctx, cancel: cancel}
}

// Token returns the cancellation token to pass to workers and fetchers.
func (s *Source) Token() Token { return s.token }

// Fire cancels the token with ErrCancelled as the recorded cause. Safe to
// call multiple times; only the first call's cause is recorded.
func (s *Source) Fire() { s.cancel(ErrCancelled) }

// Fired reports whether the token has already been cancelled.
func (s *Source) Fired() bool {
	select {
	case <-s.token.Done():
		return true
	default:
		return false
	}
}

// Cause returns the error that caused cancellation, or nil if the token is
// still live.
func Cause(t Token) error {
	if t.Err() == nil {
		return nil
	}
	return context.Cause(t)
}

// IsCancelled reports whether t was cancelled specifically via a Source.Fire
// call (ErrCancelled), as opposed to a deadline or other cause.
func IsCancelled(t Token) bool {
	return errors.Is(Cause(t), ErrCancelled)
}
