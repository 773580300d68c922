package lifecycle

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
)

// ServiceBuilder assembles a [Service]. Builder methods return the
// receiver for chaining; errors are collected and reported by Build.
type ServiceBuilder struct {
	name    string
	version string
	logger  *slog.Logger

	onStart  []Hook
	onStop   []Hook
	checks   []Check
	handlers []StateChangeHandler
	errs     []error
}

// NewServiceBuilder starts a builder for the named service.
func NewServiceBuilder(name, version string) *ServiceBuilder {
	return &ServiceBuilder{name: name, version: version}
}

// WithLogger sets the logger. Default: slog.Default().
func (b *ServiceBuilder) WithLogger(logger *slog.Logger) *ServiceBuilder {
	b.logger = logger
	return b
}

// WithOnStart appends a start hook.
func (b *ServiceBuilder) WithOnStart(hook Hook) *ServiceBuilder {
	if hook == nil {
		b.errs = append(b.errs, errors.New("lifecycle: start hook must not be nil"))
		return b
	}
	b.onStart = append(b.onStart, hook)
	return b
}

// WithOnStop appends a stop hook. Stop hooks run in reverse order.
func (b *ServiceBuilder) WithOnStop(hook Hook) *ServiceBuilder {
	if hook == nil {
		b.errs = append(b.errs, errors.New("lifecycle: stop hook must not be nil"))
		return b
	}
	b.onStop = append(b.onStop, hook)
	return b
}

// WithCheck registers a health check. Names must be unique.
func (b *ServiceBuilder) WithCheck(check Check) *ServiceBuilder {
	if err := check.validate(); err != nil {
		b.errs = append(b.errs, err)
		return b
	}
	for _, c := range b.checks {
		if c.Name == check.Name {
			b.errs = append(b.errs, errors.New("lifecycle: duplicate check "+check.Name))
			return b
		}
	}
	b.checks = append(b.checks, check)
	return b
}

// OnStateChange registers a transition observer.
func (b *ServiceBuilder) OnStateChange(handler StateChangeHandler) *ServiceBuilder {
	if handler != nil {
		b.handlers = append(b.handlers, handler)
	}
	return b
}

// Build validates the collected settings and returns the service in
// [StateUnknown].
func (b *ServiceBuilder) Build() (*Service, error) {
	errs := append([]error(nil), b.errs...)
	if b.name == "" {
		errs = append(errs, errors.New("lifecycle: service name must not be empty"))
	}
	if b.version == "" {
		errs = append(errs, errors.New("lifecycle: service version must not be empty"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		name:          b.name,
		version:       b.version,
		state:         StateUnknown,
		tracer:        otel.Tracer(tracerName),
		logger:        logger.With("component", "lifecycle"),
		onStart:       append([]Hook(nil), b.onStart...),
		onStop:        append([]Hook(nil), b.onStop...),
		checks:        append([]Check(nil), b.checks...),
		stateHandlers: append([]StateChangeHandler(nil), b.handlers...),
	}, nil
}
