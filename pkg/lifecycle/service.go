package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const tracerName = "github.com/StricklySoft/authgate/pkg/lifecycle"

// Hook runs during a start or stop transition. A failing hook moves the
// service to [StateFailed].
type Hook func(ctx context.Context) error

// StateChangeHandler observes transitions. Handlers run synchronously
// under the state lock and must not call back into the service. A
// panicking handler is recovered and logged.
type StateChangeHandler func(old, new State)

// Info is a point-in-time description of a service.
type Info struct {
	Name      string        `json:"name"`
	Version   string        `json:"version"`
	State     State         `json:"state"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
}

// Service is the process lifecycle of the gateway. It is safe for
// concurrent use. Build one with [ServiceBuilder].
type Service struct {
	name    string
	version string

	mu        sync.RWMutex
	state     State
	startedAt *time.Time

	tracer trace.Tracer
	logger *slog.Logger

	onStart       []Hook
	onStop        []Hook
	checks        []Check
	stateHandlers []StateChangeHandler
}

// Name returns the service name.
func (s *Service) Name() string { return s.name }

// Version returns the service version.
func (s *Service) Version() string { return s.version }

// State returns the current state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Info returns a snapshot of the service. Uptime is zero unless running.
func (s *Service) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{Name: s.name, Version: s.version, State: s.state}
	if s.startedAt != nil && s.state == StateRunning {
		t := *s.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil when the service is running and every required check
// passes.
//
// Error codes returned:
//   - [sserr.CodeUnavailable]: not running, or a required check failed
func (s *Service) Health(ctx context.Context) error {
	report := s.Report(ctx)
	if report.State != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable, "lifecycle: service is not running, current state is %q", report.State)
	}
	if !report.Healthy() {
		err := sserr.New(sserr.CodeUnavailable, "lifecycle: required dependency failing")
		for _, r := range report.Checks {
			if r.Status != StatusOK && !r.Optional {
				return err.WithDetail("check", r.Name)
			}
		}
		return err
	}
	return nil
}

// Report runs the registered checks and aggregates them with the state.
// Checks only run while the service is running; in any other state the
// report is unavailable without probing.
func (s *Service) Report(ctx context.Context) HealthReport {
	info := s.Info()
	report := HealthReport{State: info.State, Version: s.version}
	if info.State != StateRunning {
		report.Status = StatusUnavailable
		return report
	}
	report.Uptime = info.Uptime.Round(time.Second).String()
	report.Checks, report.Status = runChecks(ctx, s.checks)
	return report
}

// SetState validates and applies a transition, then notifies handlers.
//
// Error codes returned:
//   - [sserr.CodeConflict]: transition not allowed
func (s *Service) SetState(new State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.state
	if !ValidTransition(old, new) {
		return sserr.Newf(sserr.CodeConflict, "lifecycle: invalid state transition from %q to %q", old, new)
	}
	s.state = new

	for _, h := range s.stateHandlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}
	return nil
}

// Start moves the service through Starting to Running, running start
// hooks in registration order. The first failing hook stops the sequence
// and leaves the service Failed.
//
// Error codes returned:
//   - [sserr.CodeTimeout]: ctx already done
//   - [sserr.CodeConflict]: service already running or starting
//   - [sserr.CodeInternal]: a start hook failed
func (s *Service) Start(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Start")
	defer func() { finishSpan(span, err) }()

	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution")
	}
	if err := s.SetState(StateStarting); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: starting service",
		"service", s.name,
		"version", s.version,
	)

	for i, hook := range s.onStart {
		if err := hook(ctx); err != nil {
			s.logger.ErrorContext(ctx, "lifecycle: start hook failed",
				"service", s.name,
				"hook", i,
				"error", err,
			)
			_ = s.SetState(StateFailed)
			return sserr.Wrap(err, sserr.CodeInternal, "lifecycle: start hook failed")
		}
	}

	if err := s.SetState(StateRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	s.mu.Lock()
	s.startedAt = &now
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service started", "service", s.name)
	return nil
}

// Stop moves the service through Stopping to Stopped. Stop hooks run in
// reverse registration order and all of them run even when one fails; the
// failures are joined and the service ends Failed. Stopping a service that
// never started or already stopped is a no-op.
//
// Error codes returned:
//   - [sserr.CodeTimeout]: ctx already done
//   - [sserr.CodeInternal]: one or more stop hooks failed
func (s *Service) Stop(ctx context.Context) (err error) {
	ctx, span := s.startSpan(ctx, "lifecycle.Stop")
	defer func() { finishSpan(span, err) }()

	if st := s.State(); st == StateUnknown || st.IsTerminal() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: stop canceled before execution")
	}
	if err := s.SetState(StateStopping); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "lifecycle: stopping service", "service", s.name)

	var errs []error
	for i := len(s.onStop) - 1; i >= 0; i-- {
		if hookErr := s.onStop[i](ctx); hookErr != nil {
			s.logger.ErrorContext(ctx, "lifecycle: stop hook failed",
				"service", s.name,
				"hook", i,
				"error", hookErr,
			)
			errs = append(errs, hookErr)
		}
	}
	if len(errs) > 0 {
		_ = s.SetState(StateFailed)
		return sserr.Wrap(errors.Join(errs...), sserr.CodeInternal, "lifecycle: stop hook failed")
	}

	if err := s.SetState(StateStopped); err != nil {
		return err
	}
	s.mu.Lock()
	s.startedAt = nil
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "lifecycle: service stopped", "service", s.name)
	return nil
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.name", s.name),
			attribute.String("service.version", s.version),
		),
	)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
