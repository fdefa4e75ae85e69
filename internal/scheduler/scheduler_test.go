package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stackhealer/backend-go/internal/domain"
	"github.com/stackhealer/backend-go/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticApps struct {
	apps []domain.Application
	err  error
}

func (s *staticApps) ListApplications(context.Context) ([]domain.Application, error) {
	return s.apps, s.err
}

type fakeHealer struct {
	mu       sync.Mutex
	reports  map[string]*domain.HealingReport
	errs     map[string]error
	healed   []string
	inFlight int32
	peak     int32
	delay    time.Duration
}

func (f *fakeHealer) TryHeal(ctx context.Context, appID string) (*domain.HealingReport, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.healed = append(f.healed, appID)
	if err := f.errs[appID]; err != nil {
		return nil, err
	}
	if r := f.reports[appID]; r != nil {
		return r, nil
	}
	return &domain.HealingReport{ApplicationID: appID}, nil
}

func (f *fakeHealer) healedApps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.healed...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	byApp  map[string][]notify.Event
	failed bool
}

func (r *recordingNotifier) Notify(_ context.Context, appID string, events []notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byApp == nil {
		r.byApp = map[string][]notify.Event{}
	}
	r.byApp[appID] = append(r.byApp[appID], events...)
	if r.failed {
		return errors.New("webhook down")
	}
	return nil
}

type outcomeCounter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (o *outcomeCounter) ObserveRun(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = map[string]int{}
	}
	o.seen[outcome]++
}

func fleet(ids ...string) *staticApps {
	apps := make([]domain.Application, 0, len(ids))
	for _, id := range ids {
		apps = append(apps, domain.Application{ID: id, HealthStatus: domain.HealthHealthy})
	}
	return &staticApps{apps: apps}
}

func TestRunOnceHealsFleetAndNotifies(t *testing.T) {
	apps := fleet("a", "b", "c")
	apps.apps[2].HealthStatus = domain.HealthMaintenance

	healer := &fakeHealer{
		reports: map[string]*domain.HealingReport{
			"a": {ApplicationID: "a", Outcomes: []domain.HealingOutcome{
				{Action: "cache_clear", Success: true, Verified: true, Attempted: true},
			}},
		},
		errs: map[string]error{"b": domain.ErrPluginNotFound},
	}
	notifier := &recordingNotifier{}
	obs := &outcomeCounter{}

	s := New(Config{Logger: zerolog.Nop(), Applications: apps, Healer: healer, Notifier: notifier, Observer: obs})
	require.NoError(t, s.RunOnce(context.Background()))

	assert.ElementsMatch(t, []string{"a", "b"}, healer.healedApps(), "maintenance is skipped")
	require.Len(t, notifier.byApp["a"], 1)
	assert.Equal(t, notify.EventHealed, notifier.byApp["a"][0].Kind)
	assert.Empty(t, notifier.byApp["b"])
	assert.Equal(t, 1, obs.seen[runHealed])
	assert.Equal(t, 1, obs.seen[runError])
}

func TestRunOnceQuietRunSendsNothing(t *testing.T) {
	notifier := &recordingNotifier{}
	obs := &outcomeCounter{}
	s := New(Config{Logger: zerolog.Nop(), Applications: fleet("a"), Healer: &fakeHealer{}, Notifier: notifier, Observer: obs})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Empty(t, notifier.byApp)
	assert.Equal(t, 1, obs.seen[runClean])
}

func TestRunOnceCircuitOpenCountsAsFailed(t *testing.T) {
	healer := &fakeHealer{reports: map[string]*domain.HealingReport{
		"a": {ApplicationID: "a", CircuitOpened: true, Outcomes: []domain.HealingOutcome{
			{Action: "restart_application", Attempted: true, Error: "exit 1"},
		}},
	}}
	notifier := &recordingNotifier{failed: true}
	obs := &outcomeCounter{}
	s := New(Config{Logger: zerolog.Nop(), Applications: fleet("a"), Healer: healer, Notifier: notifier, Observer: obs})

	require.NoError(t, s.RunOnce(context.Background()), "notification failures are not fatal")
	assert.Len(t, notifier.byApp["a"], 2)
	assert.Equal(t, 1, obs.seen[runFailed])
}

func TestRunOnceListFailure(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop(), Applications: &staticApps{err: errors.New("db down")}, Healer: &fakeHealer{}})
	assert.EqualError(t, s.RunOnce(context.Background()), "db down")
}

func TestRunOnceBoundsConcurrency(t *testing.T) {
	healer := &fakeHealer{delay: 20 * time.Millisecond}
	s := New(Config{
		Logger:       zerolog.Nop(),
		Applications: fleet("a", "b", "c", "d", "e", "f"),
		Healer:       healer,
		Concurrency:  2,
	})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Len(t, healer.healedApps(), 6)
	assert.LessOrEqual(t, atomic.LoadInt32(&healer.peak), int32(2))
}

func TestSchedulerStartStop(t *testing.T) {
	healer := &fakeHealer{}
	s := New(Config{Logger: zerolog.Nop(), Applications: fleet("a"), Healer: healer, Interval: 10 * time.Millisecond})

	assert.False(t, s.IsRunning())
	s.Start(context.Background())
	assert.True(t, s.IsRunning())

	// Starting again should be a no-op
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return len(healer.healedApps()) >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	n := len(healer.healedApps())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, len(healer.healedApps()), "no passes after Stop")

	// Stopping again should be a no-op
	s.Stop()
}

func TestSchedulerFirstPassRunsAtStart(t *testing.T) {
	healer := &fakeHealer{}
	s := New(Config{Logger: zerolog.Nop(), Applications: fleet("a", "b"), Healer: healer, Interval: time.Hour})

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return len(healer.healedApps()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestRunOnceSkipsBusyApplication(t *testing.T) {
	healer := &fakeHealer{errs: map[string]error{"a": domain.ErrApplicationBusy}}
	obs := &outcomeCounter{}
	notifier := &recordingNotifier{}
	s := New(Config{Logger: zerolog.Nop(), Applications: fleet("a", "b"), Healer: healer, Notifier: notifier, Observer: obs})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, obs.seen[runBusy])
	assert.Equal(t, 1, obs.seen[runClean])
	assert.Zero(t, obs.seen[runError])
	assert.Empty(t, notifier.byApp)
}

func TestSchedulerStopsWithParentContext(t *testing.T) {
	s := New(Config{Logger: zerolog.Nop(), Applications: fleet(), Healer: &fakeHealer{}, Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after parent cancellation")
	}
}

func TestDefaults(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, 15*time.Minute, s.interval)
	assert.Equal(t, 4, s.concurrency)
}
