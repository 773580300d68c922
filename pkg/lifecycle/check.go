package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

// DefaultCheckTimeout bounds one probe when ctx has no earlier deadline.
const DefaultCheckTimeout = 3 * time.Second

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// Check is a named dependency probe.
//
// A failing required check makes the service unavailable. A failing
// optional check only degrades it; the gateway uses optional checks for
// the shared snapshot stores, whose failures never fail a request.
type Check struct {
	Name     string
	Probe    Probe
	Optional bool
}

// NewCheck returns a validated required check.
func NewCheck(name string, probe Probe) (Check, error) {
	c := Check{Name: name, Probe: probe}
	return c, c.validate()
}

func (c Check) validate() error {
	if c.Name == "" {
		return errors.New("lifecycle: check name must not be empty")
	}
	if c.Probe == nil {
		return fmt.Errorf("lifecycle: check %q has no probe", c.Name)
	}
	return nil
}

// Health statuses.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
	StatusFailing     = "failing"
)

// CheckResult is the outcome of one probe. Only the error code is
// reported so that hostnames in dependency errors stay out of the public
// health document.
type CheckResult struct {
	Name     string     `json:"name"`
	Status   string     `json:"status"`
	Optional bool       `json:"optional,omitempty"`
	Code     sserr.Code `json:"code,omitempty"`
	Duration string     `json:"duration"`
}

// HealthReport is the aggregated health of a service.
type HealthReport struct {
	Status  string        `json:"status"`
	State   State         `json:"state"`
	Version string        `json:"version,omitempty"`
	Uptime  string        `json:"uptime,omitempty"`
	Checks  []CheckResult `json:"checks,omitempty"`
}

// Healthy reports whether the report is ok or merely degraded.
func (r HealthReport) Healthy() bool {
	return r.Status != StatusUnavailable
}

// runChecks probes every check concurrently and returns results in
// registration order together with the aggregate status.
func runChecks(ctx context.Context, checks []Check) ([]CheckResult, string) {
	results := make([]CheckResult, len(checks))
	g, ctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, c)
			// Failures are recorded in results; never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	status := StatusOK
	for _, r := range results {
		if r.Status == StatusOK {
			continue
		}
		if !r.Optional {
			return results, StatusUnavailable
		}
		status = StatusDegraded
	}
	return results, status
}

func runCheck(ctx context.Context, c Check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, DefaultCheckTimeout)
	defer cancel()

	start := time.Now()
	err := c.Probe(ctx)
	res := CheckResult{
		Name:     c.Name,
		Status:   StatusOK,
		Optional: c.Optional,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Status = StatusFailing
		res.Code = sserr.GetCode(err)
		if res.Code == "" {
			res.Code = sserr.CodeUnavailableDependency
		}
	}
	return res
}
