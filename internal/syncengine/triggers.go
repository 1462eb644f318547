package syncengine

import (
	"context"
	"sync"
)

// Signal names what prompted a session.
type Signal string

const (
	SignalManual          Signal = "manual"
	SignalColdStart       Signal = "cold_start"
	SignalIdentityChanged Signal = "identity_changed"
	SignalForeground      Signal = "foreground"
)

// Triggers are the event sources Run listens to. Nil channels are ignored.
type Triggers struct {
	// IdentityChanges carries the new identity, empty on sign-out.
	IdentityChanges <-chan string
	Foreground      <-chan struct{}
}

// Trigger runs a session on behalf of signal.
func (e *Engine) Trigger(ctx context.Context, signal Signal) Report {
	recordTrigger(signal)
	return e.sync(ctx, signal)
}

// Run performs a cold-start session and then one session per trigger until
// ctx is done. Each triggered session runs on its own goroutine so a slow
// session never blocks the trigger sources; overlapping triggers collapse
// through the single-flight guard. Run returns after in-progress sessions
// finish.
func (e *Engine) Run(ctx context.Context, triggers Triggers) error {
	var wg sync.WaitGroup
	launch := func(signal Signal) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Trigger(ctx, signal)
		}()
	}

	launch(SignalColdStart)

	identities := triggers.IdentityChanges
	foreground := triggers.Foreground
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case identity, ok := <-identities:
			if !ok {
				identities = nil
				continue
			}
			// Sign-out needs no session; SyncNow would only report no identity.
			if identity == "" {
				continue
			}
			e.logger.Info().Str("identity", identity).Msg("identity changed")
			launch(SignalIdentityChanged)
		case _, ok := <-foreground:
			if !ok {
				foreground = nil
				continue
			}
			launch(SignalForeground)
		}
	}
}
