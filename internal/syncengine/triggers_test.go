package syncengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/remote"
	remotememory "example.com/learnsync/internal/remote/memory"
)

func TestRunSyncsOnColdStartAndTriggers(t *testing.T) {
	obs := &recordingObserver{}
	f := newFixture(t, "u1", nil, WithObserver(obs))
	f.seed(t, domain.Changeset{Profiles: []domain.Profile{profile("p1", "u1", 30)}})

	identities := make(chan string)
	foreground := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.engine.Run(ctx, Triggers{IdentityChanges: identities, Foreground: foreground})
	}()

	sessions := func() int {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return len(obs.reports)
	}
	require.Eventually(t, func() bool { return sessions() == 1 }, time.Second, time.Millisecond)

	foreground <- struct{}{}
	require.Eventually(t, func() bool { return sessions() == 2 }, time.Second, time.Millisecond)

	// Sign-out does not start a session.
	identities <- ""
	identities <- "u1"
	require.Eventually(t, func() bool { return sessions() == 3 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, SignalColdStart, obs.reports[0].Trigger)
	require.Equal(t, SignalForeground, obs.reports[1].Trigger)
	require.Equal(t, SignalIdentityChanged, obs.reports[2].Trigger)
	require.Equal(t, 3, f.backend.Calls(remotememory.OpUpsert, remote.TableProfiles))
}

func TestRunWaitsForSessionInFlight(t *testing.T) {
	f := newFixture(t, "u1", nil)
	f.backend.SetDelay(30 * time.Millisecond)
	f.seed(t, domain.Changeset{Activities: []domain.Activity{activity("a1", "u1", 20, false)}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx, Triggers{}) }()

	require.Eventually(t, func() bool { return f.engine.Status().IsSyncing }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	require.False(t, f.engine.Status().IsSyncing)
	require.Empty(t, f.activities(t, domain.DirtyOwnedBy("u1")))
}
