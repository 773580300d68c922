package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, configure func(b *ServiceBuilder)) *Service {
	t.Helper()
	b := NewServiceBuilder("authgate", "1.0.0").WithLogger(quietLogger())
	if configure != nil {
		configure(b)
	}
	svc, err := b.Build()
	require.NoError(t, err)
	return svc
}

func ok(context.Context) error { return nil }

// ===========================================================================
// Builder
// ===========================================================================

func TestServiceBuilder_Build(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	assert.Equal(t, "authgate", svc.Name())
	assert.Equal(t, "1.0.0", svc.Version())
	assert.Equal(t, StateUnknown, svc.State())
}

func TestServiceBuilder_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		builder *ServiceBuilder
		wantErr string
	}{
		{"empty name", NewServiceBuilder("", "1.0.0"), "service name"},
		{"empty version", NewServiceBuilder("authgate", ""), "service version"},
		{"nil start hook", NewServiceBuilder("a", "1").WithOnStart(nil), "start hook"},
		{"nil stop hook", NewServiceBuilder("a", "1").WithOnStop(nil), "stop hook"},
		{"unnamed check", NewServiceBuilder("a", "1").WithCheck(Check{Probe: ok}), "check name"},
		{"check without probe", NewServiceBuilder("a", "1").WithCheck(Check{Name: "redis"}), "no probe"},
		{
			"duplicate check",
			NewServiceBuilder("a", "1").
				WithCheck(Check{Name: "redis", Probe: ok}).
				WithCheck(Check{Name: "redis", Probe: ok}),
			"duplicate check",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := tt.builder.Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewCheck(t *testing.T) {
	t.Parallel()

	c, err := NewCheck("postgres", ok)
	require.NoError(t, err)
	assert.False(t, c.Optional)

	_, err = NewCheck("", ok)
	assert.Error(t, err)
}

// ===========================================================================
// Start and Stop
// ===========================================================================

func TestService_StartStop(t *testing.T) {
	t.Parallel()

	var order []string
	var mu sync.Mutex
	record := func(s string) Hook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, s)
			return nil
		}
	}

	svc := newTestService(t, func(b *ServiceBuilder) {
		b.WithOnStart(record("start-1")).WithOnStart(record("start-2"))
		b.WithOnStop(record("stop-1")).WithOnStop(record("stop-2"))
	})

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StateRunning, svc.State())
	info := svc.Info()
	require.NotNil(t, info.StartedAt)

	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StateStopped, svc.State())
	assert.Nil(t, svc.Info().StartedAt)

	assert.Equal(t, []string{"start-1", "start-2", "stop-2", "stop-1"}, order)
}

func TestService_StartHookFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("redis unreachable")
	var secondRan bool
	svc := newTestService(t, func(b *ServiceBuilder) {
		b.WithOnStart(func(context.Context) error { return boom })
		b.WithOnStart(func(context.Context) error { secondRan = true; return nil })
	})

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, sserr.CodeInternal, sserr.GetCode(err))
	assert.Equal(t, StateFailed, svc.State())
	assert.False(t, secondRan)

	// A failed service may be started again.
	require.Error(t, svc.Start(context.Background()))
}

func TestService_StartTwice(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, nil)
	require.NoError(t, svc.Start(context.Background()))

	err := svc.Start(context.Background())
	assert.Equal(t, sserr.CodeConflict, sserr.GetCode(err))
	assert.Equal(t, StateRunning, svc.State())
}

func TestService_StartCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := newTestService(t, nil)
	err := svc.Start(ctx)
	assert.True(t, sserr.IsTimeout(err))
	assert.Equal(t, StateUnknown, svc.State())
}

func TestService_Restart(t *testing.T) {
	t.Parallel()

	var starts atomic.Int32
	svc := newTestService(t, func(b *ServiceBuilder) {
		b.WithOnStart(func(context.Context) error { starts.Add(1); return nil })
	})

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, int32(2), starts.Load())
	assert.Equal(t, StateRunning, svc.State())
}

func TestService_StopNoop(t *testing.T) {
	t.Parallel()

	var stops atomic.Int32
	svc := newTestService(t, func(b *ServiceBuilder) {
		b.WithOnStop(func(context.Context) error { stops.Add(1); return nil })
	})

	// Never started.
	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StateUnknown, svc.State())

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	// Already stopped.
	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, int32(1), stops.Load())
}

func TestService_StopHookFailuresAreJoined(t *testing.T) {
	t.Parallel()

	errA := errors.New("close redis")
	errB := errors.New("close postgres")
	var ran atomic.Int32
	svc := newTestService(t, func(b *ServiceBuilder) {
		b.WithOnStop(func(context.Context) error { ran.Add(1); return errA })
		b.WithOnStop(func(context.Context) error { ran.Add(1); return nil })
		b.WithOnStop(func(context.Context) error { ran.Add(1); return errB })
	})
	require.NoError(t, svc.Start(context.Background()))

	err := svc.Stop(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Equal(t, int32(3), ran.Load())
	assert.Equal(t, StateFailed, svc.State())
}

// ===========================================================================
// SetState
// ===========================================================================

func TestService_SetState(t *testing.T) {
	t.Parallel()

	var seen [][2]State
	svc := newTestService(t, func(b *ServiceBuilder) {
		b.OnStateChange(func(old, new State) { seen = append(seen, [2]State{old, new}) })
	})

	require.NoError(t, svc.SetState(StateStarting))
	err := svc.SetState(StateStopped)
	assert.Equal(t, sserr.CodeConflict, sserr.GetCode(err))
	assert.Equal(t, StateStarting, svc.State())
	assert.Equal(t, [][2]State{{StateUnknown, StateStarting}}, seen)
}

func TestService_SetState_HandlerPanicRecovered(t *testing.T) {
	t.Parallel()

	var after bool
	svc := newTestService(t, func(b *ServiceBuilder) {
		b.OnStateChange(func(State, State) { panic("handler bug") })
		b.OnStateChange(func(State, State) { after = true })
	})

	require.NotPanics(t, func() {
		require.NoError(t, svc.SetState(StateStarting))
	})
	assert.Equal(t, StateStarting, svc.State())
	assert.True(t, after)
}

// ===========================================================================
// Health and Report
// ===========================================================================

func TestService_Report_NotRunning(t *testing.T) {
	t.Parallel()

	var probed atomic.Bool
	svc := newTestService(t, func(b *ServiceBuilder) {
		b.WithCheck(Check{Name: "redis", Probe: func(context.Context) error { probed.Store(true); return nil }})
	})

	report := svc.Report(context.Background())
	assert.Equal(t, StatusUnavailable, report.Status)
	assert.Empty(t, report.Checks)
	assert.False(t, probed.Load())

	err := svc.Health(context.Background())
	assert.Equal(t, sserr.CodeUnavailable, sserr.GetCode(err))
}

func TestService_Report(t *testing.T) {
	t.Parallel()

	redisDown := sserr.New(sserr.CodeUnavailableDependency, "redis: health check failed on 10.0.0.5")
	tests := []struct {
		name       string
		checks     []Check
		wantStatus string
		wantCodes  []sserr.Code
		wantHealth bool
	}{
		{
			name:       "no checks",
			wantStatus: StatusOK,
			wantHealth: true,
		},
		{
			name: "all passing",
			checks: []Check{
				{Name: "jwks", Probe: ok},
				{Name: "redis", Probe: ok, Optional: true},
			},
			wantStatus: StatusOK,
			wantCodes:  []sserr.Code{"", ""},
			wantHealth: true,
		},
		{
			name: "optional failing",
			checks: []Check{
				{Name: "jwks", Probe: ok},
				{Name: "redis", Probe: func(context.Context) error { return redisDown }, Optional: true},
			},
			wantStatus: StatusDegraded,
			wantCodes:  []sserr.Code{"", sserr.CodeUnavailableDependency},
			wantHealth: true,
		},
		{
			name: "required failing",
			checks: []Check{
				{Name: "jwks", Probe: func(context.Context) error { return sserr.New(sserr.CodeUnavailableKeySet, "down") }},
				{Name: "redis", Probe: func(context.Context) error { return redisDown }, Optional: true},
			},
			wantStatus: StatusUnavailable,
			wantCodes:  []sserr.Code{sserr.CodeUnavailableKeySet, sserr.CodeUnavailableDependency},
		},
		{
			name: "plain error gets dependency code",
			checks: []Check{
				{Name: "postgres", Probe: func(context.Context) error { return errors.New("dial tcp") }},
			},
			wantStatus: StatusUnavailable,
			wantCodes:  []sserr.Code{sserr.CodeUnavailableDependency},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := newTestService(t, func(b *ServiceBuilder) {
				for _, c := range tt.checks {
					b.WithCheck(c)
				}
			})
			require.NoError(t, svc.Start(context.Background()))

			report := svc.Report(context.Background())
			assert.Equal(t, tt.wantStatus, report.Status)
			assert.Equal(t, StateRunning, report.State)
			assert.Equal(t, "1.0.0", report.Version)
			require.Len(t, report.Checks, len(tt.checks))
			for i, r := range report.Checks {
				assert.Equal(t, tt.checks[i].Name, r.Name, "results keep registration order")
				assert.Equal(t, tt.wantCodes[i], r.Code)
			}

			err := svc.Health(context.Background())
			if tt.wantHealth {
				assert.NoError(t, err)
			} else {
				assert.True(t, sserr.IsUnavailable(err))
			}
		})
	}
}

func TestService_Report_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var entered sync.WaitGroup
	entered.Add(2)
	probe := func(ctx context.Context) error {
		entered.Done()
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	svc := newTestService(t, func(b *ServiceBuilder) {
		b.WithCheck(Check{Name: "a", Probe: probe}).WithCheck(Check{Name: "b", Probe: probe})
	})
	require.NoError(t, svc.Start(context.Background()))

	go func() {
		entered.Wait()
		close(release)
	}()
	report := svc.Report(context.Background())
	assert.Equal(t, StatusOK, report.Status)
}

func TestService_Report_HidesErrorMessages(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, func(b *ServiceBuilder) {
		b.WithCheck(Check{Name: "postgres", Probe: func(context.Context) error {
			return errors.New("password authentication failed for user authenticator")
		}})
	})
	require.NoError(t, svc.Start(context.Background()))

	report := svc.Report(context.Background())
	require.Len(t, report.Checks, 1)
	assert.Equal(t, StatusFailing, report.Checks[0].Status)
	assert.NotContains(t, report.Checks[0].Name+string(report.Checks[0].Code), "password")
}
