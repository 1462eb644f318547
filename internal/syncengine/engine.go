// Package syncengine reconciles the device store with the remote backend.
//
// A session adopts orphaned records for the signed-in identity, pushes the
// profile, pushes dirty activities, feedback and check-ins, and finally pulls
// the leaderboard. Only one session runs at a time; callers that arrive while
// one is in flight return immediately. Records are marked synced only after
// the backend acknowledged them, and only if they were not edited meanwhile,
// so the dirty flags alone decide what the next session retries.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"example.com/learnsync/internal/adapter"
	"example.com/learnsync/internal/adoption"
	"example.com/learnsync/internal/domain"
	"example.com/learnsync/internal/observability"
	"example.com/learnsync/internal/remote"
)

const (
	defaultCallTimeout     = 15 * time.Second
	defaultLeaderboardSize = 10
)

// Outcome classifies a SyncNow call.
type Outcome string

const (
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeNoIdentity Outcome = "no_identity"
	OutcomeInFlight   Outcome = "in_flight"
)

// Report summarises one SyncNow call.
type Report struct {
	Outcome     Outcome                   `json:"outcome"`
	Trigger     Signal                    `json:"trigger"`
	Identity    string                    `json:"identity,omitempty"`
	Adopted     map[domain.Kind]int       `json:"adopted,omitempty"`
	Pushed      map[domain.Kind]int       `json:"pushed,omitempty"`
	Skipped     map[domain.Kind]int       `json:"skipped,omitempty"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard,omitempty"`
	// FailedStep names the step that aborted the session.
	FailedStep string    `json:"failed_step,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// SessionObserver is told about every session that acquired the guard.
type SessionObserver interface {
	SessionCompleted(ctx context.Context, report Report)
}

// Engine runs sync sessions. The zero value is not usable; construct with New.
type Engine struct {
	store    domain.Store
	remote   remote.Client
	identity domain.IdentityProvider
	adoption *adoption.Policy

	logger          zerolog.Logger
	now             func() time.Time
	callTimeout     time.Duration
	batchSize       int
	leaderboardSize int
	owners          adapter.OwnerParser
	observers       []SessionObserver

	syncing atomic.Bool
	status  *statusHub

	lbMu        sync.RWMutex
	leaderboard []domain.LeaderboardEntry
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithCallTimeout bounds every remote call.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.callTimeout = d
		}
	}
}

// WithBatchSize caps rows per remote write. Zero sends each kind in one call.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.batchSize = n
		}
	}
}

// WithLeaderboardSize sets how many leaderboard rows are pulled.
func WithLeaderboardSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.leaderboardSize = n
		}
	}
}

// WithOwnerParser sets how owner identities are validated before a push.
func WithOwnerParser(p adapter.OwnerParser) Option {
	return func(e *Engine) {
		if p != nil {
			e.owners = p
		}
	}
}

// WithObserver registers a session observer.
func WithObserver(o SessionObserver) Option {
	return func(e *Engine) {
		if o != nil {
			e.observers = append(e.observers, o)
		}
	}
}

// New constructs an Engine.
func New(store domain.Store, client remote.Client, identity domain.IdentityProvider, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		remote:          client,
		identity:        identity,
		logger:          zerolog.Nop(),
		now:             func() time.Time { return time.Now().UTC() },
		callTimeout:     defaultCallTimeout,
		leaderboardSize: defaultLeaderboardSize,
		owners:          adapter.OpaqueOwners,
		status:          newStatusHub(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.adoption = adoption.NewPolicy(store, e.now)
	return e
}

// Status returns the current observable status.
func (e *Engine) Status() Status {
	return e.status.get()
}

// Subscribe returns a channel that receives the current status immediately
// and every change after it. A slow reader only misses intermediate states.
func (e *Engine) Subscribe(buffer int) (<-chan Status, func()) {
	return e.status.subscribe(buffer)
}

// Leaderboard returns the entries pulled by the last successful session.
func (e *Engine) Leaderboard() []domain.LeaderboardEntry {
	e.lbMu.RLock()
	defer e.lbMu.RUnlock()
	return append([]domain.LeaderboardEntry(nil), e.leaderboard...)
}

// SyncNow runs one session unless there is no identity or a session is
// already running. It never fails; problems are reported in the returned
// Report and in Status.
func (e *Engine) SyncNow(ctx context.Context) Report {
	return e.sync(ctx, SignalManual)
}

func (e *Engine) sync(ctx context.Context, signal Signal) Report {
	report := Report{Trigger: signal, StartedAt: e.now()}

	identity, ok := e.identity.Current()
	if !ok || identity == "" {
		report.Outcome = OutcomeNoIdentity
		report.FinishedAt = report.StartedAt
		recordSession(report.Outcome)
		return report
	}
	report.Identity = identity

	if !e.syncing.CompareAndSwap(false, true) {
		report.Outcome = OutcomeInFlight
		report.FinishedAt = report.StartedAt
		recordSession(report.Outcome)
		e.logger.Debug().Str("trigger", string(signal)).Msg("sync already in flight")
		return report
	}

	// Sessions always run to completion once started.
	sessionCtx := context.WithoutCancel(ctx)
	e.guarded(sessionCtx, identity, &report)

	recordSession(report.Outcome)
	recordDuration(report.FinishedAt.Sub(report.StartedAt))
	for _, o := range e.observers {
		o.SessionCompleted(sessionCtx, report)
	}
	return report
}

// guarded runs one session while holding the guard. The guard is released on
// every exit, a panicking store or client included.
func (e *Engine) guarded(ctx context.Context, identity string, report *Report) {
	defer e.syncing.Store(false)
	defer func() {
		if r := recover(); r != nil {
			e.status.update(func(s *Status) {
				s.State = StateErrored
				s.IsSyncing = false
				s.ErrorMessage = fmt.Sprintf("sync panicked: %v", r)
			})
			panic(r)
		}
	}()

	e.status.update(func(s *Status) {
		s.State = StateSyncing
		s.IsSyncing = true
	})

	err := e.runSession(ctx, identity, report)
	report.FinishedAt = e.now()

	if err != nil {
		report.Outcome = OutcomeFailed
		report.Error = err.Error()
		e.status.update(func(s *Status) {
			s.State = StateErrored
			s.IsSyncing = false
			s.ErrorMessage = report.Error
		})
		e.logger.Error().Err(err).Str("identity", identity).Str("step", report.FailedStep).Msg("sync session failed")
	} else {
		report.Outcome = OutcomeSucceeded
		e.status.update(func(s *Status) {
			s.State = StateSucceeded
			s.IsSyncing = false
			s.LastSync = report.FinishedAt
			s.ErrorMessage = ""
		})
		observability.RecordSyncSucceeded(report.FinishedAt)
		e.logger.Info().
			Str("identity", identity).
			Interface("pushed", report.Pushed).
			Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
			Msg("sync session completed")
	}
}

type step struct {
	name string
	run  func(ctx context.Context, identity string, report *Report) error
}

func (e *Engine) steps() []step {
	return []step{
		{"adopt", e.adopt},
		{"push profile", e.pushProfile},
		{"push activities", pushDirty(e, adapter.Activities)},
		{"push feedback", pushDirty(e, adapter.Feedback)},
		{"push check-ins", pushDirty(e, adapter.CheckIns)},
		{"pull leaderboard", e.pullLeaderboard},
	}
}

func (e *Engine) runSession(ctx context.Context, identity string, report *Report) error {
	for _, s := range e.steps() {
		if err := s.run(ctx, identity, report); err != nil {
			report.FailedStep = s.name
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

func (e *Engine) adopt(ctx context.Context, identity string, report *Report) error {
	result, err := e.adoption.Adopt(ctx, identity)
	if err != nil {
		return err
	}
	if result.Total() == 0 {
		return nil
	}
	report.Adopted = result.ByKind()
	for kind, n := range report.Adopted {
		recordAdopted(kind, n)
	}
	e.logger.Info().Str("identity", identity).Int("records", result.Total()).Msg("adopted local records")
	return nil
}

// pushProfile upserts the identity's profile every session, dirty or not.
// When the store holds several, the most recently updated one wins.
func (e *Engine) pushProfile(ctx context.Context, identity string, report *Report) error {
	profiles, err := adapter.Profiles.Load(ctx, e.store, domain.OwnedBy(identity))
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return nil
	}
	latest := profiles[0]
	for _, p := range profiles[1:] {
		if p.UpdatedAt.After(latest.UpdatedAt) {
			latest = p
		}
	}

	if err := adapter.Profiles.Check(latest, e.owners); err != nil {
		e.skip(report, adapter.Rejection{Kind: domain.KindProfile, ID: latest.ID, Err: err})
		return nil
	}
	if err := write(ctx, e, adapter.Profiles, []remote.Row{adapter.Profiles.ToWire(latest)}); err != nil {
		return err
	}
	if !latest.IsSynced {
		if _, err := e.store.MarkSynced(ctx, domain.KindProfile, []domain.Version{domain.VersionOf(latest.SyncState)}); err != nil {
			return fmt.Errorf("commit synced flags: %w", err)
		}
	}
	e.pushed(report, domain.KindProfile, 1)
	return nil
}

// pushDirty pushes every dirty record of one kind, batch by batch. Each batch
// is marked synced right after the backend acknowledges it, so a later
// failure leaves earlier batches synced.
func pushDirty[T any](e *Engine, ent adapter.Entity[T]) func(context.Context, string, *Report) error {
	return func(ctx context.Context, identity string, report *Report) error {
		records, err := ent.Load(ctx, e.store, domain.DirtyOwnedBy(identity))
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		valid, rows, rejected := ent.Partition(records, e.owners)
		for _, r := range rejected {
			e.skip(report, r)
		}

		size := e.batchSize
		if size == 0 {
			size = len(rows)
		}
		for start := 0; start < len(rows); start += size {
			end := min(start+size, len(rows))
			if err := write(ctx, e, ent, rows[start:end]); err != nil {
				return err
			}

			versions := make([]domain.Version, 0, end-start)
			for i := start; i < end; i++ {
				versions = append(versions, domain.VersionOf(*ent.State(&valid[i])))
			}
			if _, err := e.store.MarkSynced(ctx, ent.Kind, versions); err != nil {
				return fmt.Errorf("commit synced flags: %w", err)
			}
			e.pushed(report, ent.Kind, end-start)
		}
		return nil
	}
}

func write[T any](ctx context.Context, e *Engine, ent adapter.Entity[T], rows []remote.Row) error {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	switch ent.Mode {
	case adapter.Insert:
		return e.remote.Insert(callCtx, ent.Table, rows)
	default:
		return e.remote.Upsert(callCtx, ent.Table, rows, ent.ConflictKey)
	}
}

func (e *Engine) pullLeaderboard(ctx context.Context, identity string, report *Report) error {
	entries, err := e.PullLeaderboard(ctx)
	if err != nil {
		return err
	}
	report.Leaderboard = entries
	return nil
}

// PullLeaderboard reads the top profiles by total minutes and caches them
// for Leaderboard. It does not touch the local store and does not take the
// session guard.
func (e *Engine) PullLeaderboard(ctx context.Context) ([]domain.LeaderboardEntry, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	rows, err := e.remote.Select(callCtx, remote.TableProfiles, remote.SelectQuery{
		Columns:    adapter.LeaderboardColumns,
		OrderBy:    "total_minutes",
		Descending: true,
		Limit:      e.leaderboardSize,
	})
	if err != nil {
		return nil, err
	}
	entries, err := adapter.LeaderboardFromWire(rows)
	if err != nil {
		return nil, err
	}

	e.lbMu.Lock()
	e.leaderboard = entries
	e.lbMu.Unlock()
	return append([]domain.LeaderboardEntry(nil), entries...), nil
}

func (e *Engine) skip(report *Report, r adapter.Rejection) {
	if report.Skipped == nil {
		report.Skipped = make(map[domain.Kind]int)
	}
	report.Skipped[r.Kind]++
	recordSkipped(r.Kind, 1)
	e.logger.Warn().Err(r.Err).Str("kind", string(r.Kind)).Str("id", r.ID).Msg("skipping malformed record")
}

func (e *Engine) pushed(report *Report, kind domain.Kind, n int) {
	if report.Pushed == nil {
		report.Pushed = make(map[domain.Kind]int)
	}
	report.Pushed[kind] += n
	recordPushed(kind, n)
}
